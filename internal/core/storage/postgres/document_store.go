package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// DocumentStore keeps live and archived documents in one table. Archived
// rows carry archived_at and are removed by Sweep together with their
// attachments.
type DocumentStore struct {
	pool  *pgxpool.Pool
	table string
	files string
	now   func() time.Time
}

var (
	_ types.DocumentStore = (*DocumentStore)(nil)
	_ types.Sweeper       = (*DocumentStore)(nil)
)

func NewDocumentStore(pool *pgxpool.Pool, t Tables) *DocumentStore {
	return &DocumentStore{
		pool:  pool,
		table: quote(t.Documents),
		files: quote(t.Files),
		now:   time.Now,
	}
}

func (s *DocumentStore) queryOne(ctx context.Context, b sq.Sqlizer) (*model.Document, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return doc, nil
}

func (s *DocumentStore) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, wrapError(err)
	}
	return tag.RowsAffected(), nil
}

func (s *DocumentStore) GetDocument(ctx context.Context, q model.Query) (*model.Document, error) {
	where, err := whereQuery(q)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, psql.Select(documentColumns...).From(s.table).Where(where).OrderBy("id").Limit(1))
}

func (s *DocumentStore) GetDocuments(ctx context.Context, q model.Query, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		return []*model.Document{}, nil
	}
	where, err := whereQuery(q)
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select(documentColumns...).From(s.table).
		Where(where).OrderBy("id").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	out := make([]*model.Document, 0, limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, wrapError(err)
		}
		out = append(out, doc)
	}
	return out, wrapError(rows.Err())
}

// GetAndTag locks the oldest candidate row with SKIP LOCKED, so concurrent
// claimers for the same stage move on to the next row instead of waiting.
func (s *DocumentStore) GetAndTag(ctx context.Context, q model.Query, stage string) (*model.Document, error) {
	where, err := whereQuery(q.RequireNotTouchedByStage(stage))
	if err != nil {
		return nil, err
	}
	candidate := sq.Select("id").From(s.table).Where(where).
		OrderBy("id").Limit(1).Suffix("FOR UPDATE SKIP LOCKED")

	return s.queryOne(ctx, psql.Update(s.table).
		Set("touched", sq.Expr("array_append(touched, ?::text)", stage)).
		Where(sq.Expr("id = (?)", candidate)).
		Suffix("RETURNING id, action, status, contents, metadata, touched"))
}

func (s *DocumentStore) MarkTouched(ctx context.Context, id string, stage string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, psql.Update(s.table).
		Set("touched", sq.Expr("array_append(touched, ?::text)", stage)).
		Where(sq.Eq{"id": n, "status": string(model.StatusPending)}).
		Where(sq.Expr("NOT (?::text = ANY(touched))", stage)))
	return err
}

func (s *DocumentStore) Mark(ctx context.Context, doc *model.Document, stage string, status model.Status) (bool, error) {
	n, err := parseID(doc.ID)
	if err != nil {
		return false, err
	}
	contents, err := encodeMap(doc.Contents)
	if err != nil {
		return false, err
	}
	metadata, err := encodeMap(doc.Metadata)
	if err != nil {
		return false, err
	}

	var archivedAt *time.Time
	if status.IsTerminal() {
		now := s.now().UTC()
		archivedAt = &now
	}

	b := psql.Update(s.table).
		Set("status", string(status)).
		Set("contents", contents).
		Set("metadata", metadata).
		Set("archived_at", archivedAt).
		Set("touched", sq.Expr(
			"CASE WHEN ?::text = ANY(touched) THEN touched ELSE array_append(touched, ?::text) END", stage, stage)).
		Where(sq.Eq{"id": n, "status": []string{string(model.StatusPending), string(status)}})
	if doc.Action != "" {
		b = b.Set("action", string(doc.Action))
	}

	affected, err := s.exec(ctx, b)
	return affected > 0, err
}

func (s *DocumentStore) Insert(ctx context.Context, doc *model.Document) error {
	contents, err := encodeMap(doc.Contents)
	if err != nil {
		return err
	}
	metadata, err := encodeMap(doc.Metadata)
	if err != nil {
		return err
	}
	touched := doc.TouchedBy
	if touched == nil {
		touched = []string{}
	}

	query, args, err := psql.Insert(s.table).
		Columns("action", "status", "contents", "metadata", "touched").
		Values(string(doc.Action), string(model.StatusPending), contents, metadata, touched).
		Suffix("RETURNING id").ToSql()
	if err != nil {
		return err
	}
	var id int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return wrapError(err)
	}
	doc.ID = formatID(id)
	doc.Status = model.StatusPending
	return nil
}

func (s *DocumentStore) Save(ctx context.Context, doc *model.Document) (bool, error) {
	n, err := parseID(doc.ID)
	if err != nil {
		return false, err
	}
	contents, err := encodeMap(doc.Contents)
	if err != nil {
		return false, err
	}
	metadata, err := encodeMap(doc.Metadata)
	if err != nil {
		return false, err
	}
	affected, err := s.exec(ctx, psql.Update(s.table).
		Set("action", string(doc.Action)).
		Set("contents", contents).
		Set("metadata", metadata).
		Where(sq.Eq{"id": n, "status": string(model.StatusPending)}))
	return affected > 0, err
}

func (s *DocumentStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := parseID(id)
	if err != nil {
		return false, err
	}
	affected, err := s.exec(ctx, psql.Delete(s.table).Where(sq.Eq{"id": n}))
	return affected > 0, err
}

func (s *DocumentStore) count(ctx context.Context, where sq.Sqlizer) (int64, error) {
	query, args, err := psql.Select("count(*)").From(s.table).Where(where).ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrapError(err)
	}
	return n, nil
}

func (s *DocumentStore) ActiveCount(ctx context.Context) (int64, error) {
	return s.count(ctx, sq.Eq{"status": string(model.StatusPending)})
}

func (s *DocumentStore) InactiveCount(ctx context.Context) (int64, error) {
	return s.count(ctx, sq.NotEq{"status": string(model.StatusPending)})
}

// Sweep deletes documents archived before the cutoff and their attachments.
func (s *DocumentStore) Sweep(ctx context.Context, archivedBefore time.Time) (int64, error) {
	query := fmt.Sprintf(`WITH gone AS (
		DELETE FROM %s WHERE archived_at IS NOT NULL AND archived_at < $1 RETURNING id
	), dropped AS (
		DELETE FROM %s WHERE document_id IN (SELECT id::text FROM gone)
	)
	SELECT count(*) FROM gone`, s.table, s.files)

	var n int64
	if err := s.pool.QueryRow(ctx, query, archivedBefore.UTC()).Scan(&n); err != nil {
		return 0, wrapError(err)
	}
	return n, nil
}
