package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// psql builds statements with $n placeholders. Subqueries embedded through
// sq.Expr must use the plain sq builders so they are numbered only once.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var documentColumns = []string{"id", "action", "status", "contents", "metadata", "touched"}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid document id %q", model.ErrConversion, id)
	}
	return n, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		id                 int64
		action, status     string
		contents, metadata []byte
		touched            []string
	)
	if err := row.Scan(&id, &action, &status, &contents, &metadata, &touched); err != nil {
		return nil, err
	}
	doc := &model.Document{
		ID:        formatID(id),
		Action:    model.Action(action),
		Status:    model.Status(status),
		TouchedBy: touched,
	}
	if err := json.Unmarshal(contents, &doc.Contents); err != nil {
		return nil, fmt.Errorf("%w: contents of %d: %v", model.ErrConversion, id, err)
	}
	if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata of %d: %v", model.ErrConversion, id, err)
	}
	if doc.Contents == nil {
		doc.Contents = map[string]any{}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	if doc.TouchedBy == nil {
		doc.TouchedBy = []string{}
	}
	return doc, nil
}

func encodeMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConversion, err)
	}
	return data, nil
}

// whereQuery translates a query into predicates over live rows.
func whereQuery(q model.Query) (sq.And, error) {
	where := sq.And{sq.Eq{"status": string(model.StatusPending)}}

	if id, ok := q.ID(); ok {
		n, err := parseID(id)
		if err != nil {
			return nil, err
		}
		where = append(where, sq.Eq{"id": n})
	}
	if a := q.Action(); a != "" {
		where = append(where, sq.Eq{"action": string(a)})
	}

	var all, none []string
	for _, p := range q.Touched() {
		if p.Present {
			all = append(all, p.Name)
		} else {
			none = append(none, p.Name)
		}
	}
	if len(all) > 0 {
		where = append(where, sq.Expr("touched @> ?::text[]", all))
	}
	if len(none) > 0 {
		where = append(where, sq.Expr("NOT (touched && ?::text[])", none))
	}

	for _, p := range q.Fields() {
		if p.Present {
			where = append(where, sq.Expr("jsonb_exists(contents, ?)", p.Name))
		} else {
			where = append(where, sq.Expr("NOT jsonb_exists(contents, ?)", p.Name))
		}
	}
	return where, nil
}

// wrapError maps connectivity failures to model.ErrDatabaseUnavailable.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrConversion) || errors.Is(err, context.Canceled) {
		return err
	}
	var (
		connectErr *pgconn.ConnectError
		netErr     net.Error
	)
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", model.ErrDatabaseUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		// invalid_text_representation
		return fmt.Errorf("%w: %v", model.ErrConversion, err)
	}
	return err
}
