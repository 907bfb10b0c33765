// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"cmp"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one numbered file under migrations/, e.g.
// 001_create_chunks.sql. The SQL is shared by every dialect.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Statements splits the script and drops leading comment lines
func (m Migration) Statements() []string {
	var out []string
	for _, stmt := range SplitStatements(m.SQL) {
		if stmt = stripLeadingComments(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func parseMigrationName(file string) (int, string, error) {
	num, name, ok := strings.Cut(strings.TrimSuffix(file, ".sql"), "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: want NNN_name.sql", file)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: bad version %q", file, num)
	}
	return version, name, nil
}

// LoadMigrations returns the embedded migrations ordered by version
func LoadMigrations() ([]Migration, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(files))
	for _, file := range files {
		version, name, err := parseMigrationName(path.Base(file))
		if err != nil {
			return nil, err
		}
		script, err := fs.ReadFile(migrationsFS, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(script)})
	}

	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", migrations[i].Version)
		}
	}
	return migrations, nil
}

// Migrator is the dialect side of RunMigrations
type Migrator interface {
	// CurrentVersion is the highest applied version, 0 on a fresh database
	CurrentVersion(ctx context.Context) (int, error)
	// Apply runs the statements of m and records its version
	Apply(ctx context.Context, m Migration) error
}

// RunMigrations applies every migration newer than the current version, in
// order, stopping at the first failure
func RunMigrations(ctx context.Context, migrator Migrator) error {
	migrations, err := LoadMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	current, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("current schema version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := migrator.Apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		applied++
		logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
	}
	if applied == 0 {
		logger.Debug().Int("version", current).Msg("schema up to date")
	}
	return nil
}

func stripLeadingComments(stmt string) string {
	rest := strings.TrimSpace(stmt)
	for strings.HasPrefix(rest, "--") {
		_, after, found := strings.Cut(rest, "\n")
		if !found {
			return ""
		}
		rest = strings.TrimSpace(after)
	}
	return rest
}

// SplitStatements splits a script on semicolons outside quotes and
// comments. Comments stay attached to the statement that follows them.
func SplitStatements(script string) []string {
	var (
		stmts []string
		start int
		quote byte
	)
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case quote != 0:
			if c == quote {
				// a doubled quote is an escaped one
				if i+1 < len(script) && script[i+1] == quote {
					i++
				} else {
					quote = 0
				}
			}
		case strings.HasPrefix(script[i:], "--"):
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = len(script)
			} else {
				i += end
			}
		case strings.HasPrefix(script[i:], "/*"):
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script)
			} else {
				i += end + 3
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			if s := strings.TrimSpace(script[start:i]); s != "" {
				stmts = append(stmts, s)
			}
			start = i + 1
		}
	}
	if start < len(script) {
		if s := strings.TrimSpace(script[start:]); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
