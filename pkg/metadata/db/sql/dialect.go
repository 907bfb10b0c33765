// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql implements db.DB once for PostgreSQL and MySQL. Statements
// are written in PostgreSQL syntax; a Dialect rewrites the few places
// where MySQL differs.
package sql

import (
	"strconv"
	"strings"
)

type Dialect interface {
	Name() string
	// ReplacePlaceholders rewrites $n placeholders for the driver
	ReplacePlaceholders(query string) string
	// InsertIgnore turns "INSERT INTO ..." into an insert that skips rows
	// whose conflictColumn already exists
	InsertIgnore(insert, conflictColumn string) string
}

// Placeholders returns "$start, ..., $start+n-1"
func Placeholders(start, n int) string {
	var b strings.Builder
	for i := range n {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

// PostgresDialect also serves CockroachDB
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) ReplacePlaceholders(query string) string { return query }

func (PostgresDialect) InsertIgnore(insert, conflictColumn string) string {
	return insert + " ON CONFLICT (" + conflictColumn + ") DO NOTHING"
}

type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

func (MySQLDialect) Name() string { return "mysql" }

// ReplacePlaceholders turns each $n outside string literals into ?.
// Arguments must be passed in placeholder order, each placeholder once.
func (MySQLDialect) ReplacePlaceholders(query string) string {
	if !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '$' && i+1 < len(query) && isDigit(query[i+1]):
			for i+1 < len(query) && isDigit(query[i+1]) {
				i++
			}
			c = '?'
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (MySQLDialect) InsertIgnore(insert, _ string) string {
	rest, ok := strings.CutPrefix(insert, "INSERT ")
	if !ok {
		return insert
	}
	return "INSERT IGNORE " + rest
}
