package migrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickhouseDB is satisfied by driver.Conn and *clickhouse.Conn.
type ClickhouseDB interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

// RunClickhouseMigrations applies pending embedded ClickHouse migrations
// to the connected database. ClickHouse has no transactions, so a file
// that fails halfway is retried from its first statement; every statement
// must therefore be idempotent (CREATE ... IF NOT EXISTS).
func RunClickhouseMigrations(ctx context.Context, db ClickhouseDB) error {
	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}

	if err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    UInt32,
			name       String,
			applied_at DateTime64(3)
		) ENGINE = ReplacingMergeTree()
		ORDER BY version`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedClickhouse(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range files {
		if applied[m.Version] {
			continue
		}
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			return fmt.Errorf("validate migration %s: %w", m.Name, err)
		}
		// The native protocol takes one statement per Exec.
		for _, stmt := range splitStatements(m.SQL) {
			if err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
		if err := db.Exec(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			uint32(m.Version), m.Name, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func appliedClickhouse(ctx context.Context, db ClickhouseDB) (map[int]bool, error) {
	rows, err := db.Query(ctx, `SELECT DISTINCT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out[int(v)] = true
	}
	return out, rows.Err()
}

// splitStatements splits a file into statements on semicolons after
// dropping blank lines and -- comment lines. It does not understand
// string literals; validateNoSemicolonInStrings guards that case.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects a semicolon inside a single-quoted
// literal. A doubled quote is an escaped quote.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return errors.New("semicolon inside string literal breaks statement splitting")
			}
		}
	}
	return nil
}
