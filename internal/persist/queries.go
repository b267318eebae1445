package persist

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// queries resolves named SQL statements loaded from the embedded .sql files.
// Statements are written with ? placeholders and rebound per driver at call
// time, so the same files serve SQLite and PostgreSQL.
type queries struct {
	dot *dotsql.DotSql
}

func loadQueries() (*queries, error) {
	var combined string
	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}
		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		combined += string(content) + "\n"
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load query files: %w", err)
	}

	dot, err := dotsql.LoadFromString(combined)
	if err != nil {
		return nil, fmt.Errorf("parse queries: %w", err)
	}
	return &queries{dot: dot}, nil
}

// exec runs a named statement on the given scope, either the pool or an open
// transaction.
func (q *queries) exec(ctx context.Context, ext sqlx.ExtContext, name string, args ...any) (sql.Result, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return nil, fmt.Errorf("query %q not found", name)
	}
	return ext.ExecContext(ctx, ext.Rebind(query), args...)
}

// get scans a single row into dest.
func (q *queries) get(ctx context.Context, ext sqlx.ExtContext, dest any, name string, args ...any) error {
	query, err := q.dot.Raw(name)
	if err != nil {
		return fmt.Errorf("query %q not found", name)
	}
	return sqlx.GetContext(ctx, ext, dest, ext.Rebind(query), args...)
}

// selectAll scans every row into the dest slice.
func (q *queries) selectAll(ctx context.Context, ext sqlx.ExtContext, dest any, name string, args ...any) error {
	query, err := q.dot.Raw(name)
	if err != nil {
		return fmt.Errorf("query %q not found", name)
	}
	return sqlx.SelectContext(ctx, ext, dest, ext.Rebind(query), args...)
}

// selectIn expands slice arguments for IN (?) clauses before rebinding.
func (q *queries) selectIn(ctx context.Context, ext sqlx.ExtContext, dest any, name string, args ...any) error {
	raw, err := q.dot.Raw(name)
	if err != nil {
		return fmt.Errorf("query %q not found", name)
	}
	query, expanded, err := sqlx.In(raw, args...)
	if err != nil {
		return fmt.Errorf("expand %q: %w", name, err)
	}
	return sqlx.SelectContext(ctx, ext, dest, ext.Rebind(query), expanded...)
}
