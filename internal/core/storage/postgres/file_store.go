package postgres

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// FileStore keeps attachments as bytea rows keyed by (document_id, name).
type FileStore struct {
	pool  *pgxpool.Pool
	table string
	now   func() time.Time
}

var _ types.FileStore = (*FileStore)(nil)

var fileColumns = []string{"document_id", "name", "encoding", "mime_type", "uploaded_at", "data"}

func NewFileStore(pool *pgxpool.Pool, table string) *FileStore {
	return &FileStore{pool: pool, table: quote(table), now: time.Now}
}

func scanFile(row rowScanner) (*model.DocumentFile, error) {
	var f model.DocumentFile
	if err := row.Scan(&f.DocumentID, &f.Name, &f.Encoding, &f.MimeType, &f.UploadedAt, &f.Data); err != nil {
		return nil, err
	}
	f.UploadedAt = f.UploadedAt.UTC()
	return &f, nil
}

func (s *FileStore) GetFile(ctx context.Context, docID, name string) (*model.DocumentFile, error) {
	query, args, err := psql.Select(fileColumns...).From(s.table).
		Where(sq.Eq{"document_id": docID, "name": name}).ToSql()
	if err != nil {
		return nil, err
	}
	f, err := scanFile(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return f, nil
}

func (s *FileStore) GetFileNames(ctx context.Context, docID string) ([]string, error) {
	query, args, err := psql.Select("name").From(s.table).
		Where(sq.Eq{"document_id": docID}).OrderBy("name").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return names, wrapError(err)
}

func (s *FileStore) GetFiles(ctx context.Context, docID string) ([]*model.DocumentFile, error) {
	query, args, err := psql.Select(fileColumns...).From(s.table).
		Where(sq.Eq{"document_id": docID}).OrderBy("name").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []*model.DocumentFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, wrapError(err)
		}
		out = append(out, f)
	}
	return out, wrapError(rows.Err())
}

func (s *FileStore) SaveFile(ctx context.Context, file *model.DocumentFile) error {
	data := file.Data
	if data == nil {
		data = []byte{}
	}
	query, args, err := psql.Insert(s.table).Columns(fileColumns...).
		Values(file.DocumentID, file.Name, file.Encoding, file.MimeType, s.now().UTC(), data).
		Suffix(`ON CONFLICT (document_id, name) DO UPDATE SET
			encoding = EXCLUDED.encoding,
			mime_type = EXCLUDED.mime_type,
			uploaded_at = EXCLUDED.uploaded_at,
			data = EXCLUDED.data`).ToSql()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return wrapError(err)
}

func (s *FileStore) DeleteFile(ctx context.Context, docID, name string) (bool, error) {
	query, args, err := psql.Delete(s.table).Where(sq.Eq{"document_id": docID, "name": name}).ToSql()
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, wrapError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *FileStore) DeleteFiles(ctx context.Context, docID string) error {
	query, args, err := psql.Delete(s.table).Where(sq.Eq{"document_id": docID}).ToSql()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return wrapError(err)
}
