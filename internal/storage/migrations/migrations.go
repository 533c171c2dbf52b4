// Package migrations applies the embedded schema files for both stores.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	chstore "solana-signal-lab/internal/storage/clickhouse"
	"solana-signal-lab/internal/storage/postgres"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// Postgres applies every postgres/*.sql file in lexical order.
// Files must be idempotent; they run on every start.
func Postgres(ctx context.Context, pool *postgres.Pool, log zerolog.Logger) error {
	files, err := sqlFiles(postgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, f := range files {
		if strings.TrimSpace(f.body) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, f.body); err != nil {
			return fmt.Errorf("apply postgres migration %s: %w", f.name, err)
		}
		log.Debug().Str("file", f.name).Msg("postgres migration applied")
	}
	return nil
}

// ClickHouse creates the database named in dsn if needed, applies every
// clickhouse/*.sql file and returns a connection to that database.
func ClickHouse(ctx context.Context, dsn string, log zerolog.Logger) (*chstore.Conn, error) {
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	createErr := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db)
	if err := errors.Join(createErr, admin.Close()); err != nil {
		return nil, fmt.Errorf("create database %s: %w", db, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", db, err)
	}
	if err := applyClickHouse(ctx, conn, log); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func applyClickHouse(ctx context.Context, conn *chstore.Conn, log zerolog.Logger) error {
	files, err := sqlFiles(clickhouseFS, "clickhouse")
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := checkSplittable(f.body); err != nil {
			return fmt.Errorf("clickhouse migration %s: %w", f.name, err)
		}
		// The native driver runs one statement per Exec.
		for _, stmt := range splitStatements(f.body) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply clickhouse migration %s: %w", f.name, err)
			}
		}
		log.Debug().Str("file", f.name).Msg("clickhouse migration applied")
	}
	return nil
}

type sqlFile struct {
	name string
	body string
}

func sqlFiles(fsys fs.FS, dir string) ([]sqlFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]sqlFile, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, sqlFile{name: name, body: string(data)})
	}
	return out, nil
}

// splitStatements drops "--" comment lines and splits on ";".
// It does not understand quoting; see checkSplittable.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "--") {
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

// checkSplittable rejects a semicolon inside a single-quoted literal.
func checkSplittable(sql string) error {
	quoted := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if quoted && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn %q has no database", u.Redacted())
	}
	return db, nil
}
