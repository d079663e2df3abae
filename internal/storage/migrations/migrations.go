// Package migrations applies the embedded SQL schema files in id order, the way
// SPEC_FULL.md §6 specifies ("persisted schema via embed.FS SQL migrations applied in
// id order"). Each file's numeric prefix is its migration id; a schema_migrations
// table records which ids have already run so Apply is idempotent across restarts.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

type migration struct {
	id   int
	name string
	sql  string
}

// Apply runs every migration not yet recorded in schema_migrations, in ascending id
// order, each inside its own transaction.
func Apply(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (id INT PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("migrations: create tracking table: %w", err)
	}

	all, err := load()
	if err != nil {
		return err
	}

	applied := map[int]bool{}

	rows, err := db.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("migrations: list applied: %w", err)
	}

	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()

			return err
		}

		applied[id] = true
	}

	rows.Close()

	for _, m := range all {
		if applied[m.id] {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("migrations: apply %s: %w", m.name, err)
		}

		if _, err := tx.ExecContext(ctx, db.Rebind(`INSERT INTO schema_migrations (id, name) VALUES (?, ?)`), m.id, m.name); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("migrations: record %s: %w", m.name, err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func load() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "sql")
	if err != nil {
		return nil, err
	}

	var out []migration

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}

		idStr := strings.SplitN(e.Name(), "_", 2)[0]

		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s has no numeric prefix: %w", e.Name(), err)
		}

		content, err := migrationFiles.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, err
		}

		out = append(out, migration{id: id, name: e.Name(), sql: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })

	return out, nil
}
