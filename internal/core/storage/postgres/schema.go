package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tables names the relations used by the stores.
type Tables struct {
	Documents string
	Files     string
	Pipelines string
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// EnsureSchema creates the tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, t Tables) error {
	docs, files, pipelines := quote(t.Documents), quote(t.Files), quote(t.Pipelines)
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			action TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			contents JSONB NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}',
			touched TEXT[] NOT NULL DEFAULT '{}',
			archived_at TIMESTAMPTZ
		)`, docs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (id) WHERE status = 'PENDING'`,
			quote(t.Documents+"_live_idx"), docs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (touched)`,
			quote(t.Documents+"_touched_idx"), docs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (archived_at) WHERE archived_at IS NOT NULL`,
			quote(t.Documents+"_archived_idx"), docs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT NOT NULL,
			name TEXT NOT NULL,
			encoding TEXT NOT NULL DEFAULT '',
			mime_type TEXT NOT NULL DEFAULT '',
			uploaded_at TIMESTAMPTZ NOT NULL,
			data BYTEA NOT NULL,
			PRIMARY KEY (document_id, name)
		)`, files),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			definition JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, pipelines),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return wrapError(err)
		}
	}
	return nil
}
