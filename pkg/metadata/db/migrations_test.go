// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	t.Parallel()

	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create_chunks", migrations[0].Name)

	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].Version, migrations[i-1].Version)
	}

	stmts := migrations[0].Statements()
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS chunks")
}

func TestParseMigrationName(t *testing.T) {
	t.Parallel()

	v, name, err := parseMigrationName("004_tasks_finished_index.sql")
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	assert.Equal(t, "tasks_finished_index", name)

	for _, bad := range []string{"create.sql", "x_create.sql", "000_zero.sql", "7_.sql"} {
		_, _, err := parseMigrationName(bad)
		assert.Error(t, err, bad)
	}
}

func TestStripLeadingComments(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SELECT 1", stripLeadingComments("-- one\n  -- two\nSELECT 1"))
	assert.Empty(t, stripLeadingComments("-- only a comment"))
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"single", "SELECT 1", []string{"SELECT 1"}},
		{"two", "SELECT 1; SELECT 2;", []string{"SELECT 1", "SELECT 2"}},
		{"semicolon in string", "INSERT INTO t VALUES ('a;b'); SELECT 1", []string{"INSERT INTO t VALUES ('a;b')", "SELECT 1"}},
		{"escaped quote", "SELECT 'it''s;'", []string{"SELECT 'it''s;'"}},
		{"line comment", "-- drop; this\nSELECT 1", []string{"-- drop; this\nSELECT 1"}},
		{"block comment", "/* a; b */ SELECT 1", []string{"/* a; b */ SELECT 1"}},
		{"empty", " ; ;", nil},
		{"unterminated comment", "SELECT 1; /* open", []string{"SELECT 1", "/* open"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitStatements(tt.script))
		})
	}
}

type fakeMigrator struct {
	version int
	applied []int
	failOn  int
}

func (f *fakeMigrator) CurrentVersion(ctx context.Context) (int, error) { return f.version, nil }

func (f *fakeMigrator) Apply(ctx context.Context, m Migration) error {
	if m.Version == f.failOn {
		return errors.New("boom")
	}
	f.applied = append(f.applied, m.Version)
	f.version = m.Version
	return nil
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	t.Run("applies pending only", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{version: 1}
		require.NoError(t, RunMigrations(context.Background(), m))
		assert.NotContains(t, m.applied, 1)
		assert.Contains(t, m.applied, 2)
	})

	t.Run("stops on failure", func(t *testing.T) {
		t.Parallel()
		m := &fakeMigrator{failOn: 2}
		err := RunMigrations(context.Background(), m)
		require.ErrorContains(t, err, "apply migration 2")
		assert.Equal(t, 1, m.version)
	})
}
