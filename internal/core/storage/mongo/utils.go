package mongo

import (
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/stagehand/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// record is the stored form of a document.
type record struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Action     string             `bson:"action"`
	Status     string             `bson:"status"`
	Contents   bson.M             `bson:"contents"`
	Metadata   bson.M             `bson:"metadata"`
	TouchedBy  []string           `bson:"touched_by"`
	ArchivedAt *time.Time         `bson:"archived_at,omitempty"`
	ExpiresAt  *time.Time         `bson:"expires_at,omitempty"`
}

func toObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid document id %q", model.ErrConversion, id)
	}
	return oid, nil
}

func (r *record) toDocument() *model.Document {
	touched := r.TouchedBy
	if touched == nil {
		touched = []string{}
	}
	return &model.Document{
		ID:        r.ID.Hex(),
		Action:    model.Action(r.Action),
		Status:    model.Status(r.Status),
		Contents:  normalizeMap(r.Contents),
		Metadata:  normalizeMap(r.Metadata),
		TouchedBy: touched,
	}
}

// normalizeMap turns driver-specific decoded values into plain Go values
// so documents compare and serialize the same regardless of backend.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.M:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case primitive.D:
		return normalizeMap(val.Map())
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Binary:
		return val.Data
	case int32:
		return int64(val)
	default:
		return v
	}
}

// makeFilterBSON translates a query into a filter over live documents.
func makeFilterBSON(q model.Query) (bson.M, error) {
	filter := bson.M{"status": string(model.StatusPending)}

	if id, ok := q.ID(); ok {
		oid, err := toObjectID(id)
		if err != nil {
			return nil, err
		}
		filter["_id"] = oid
	}
	if a := q.Action(); a != "" {
		filter["action"] = string(a)
	}

	var all, none []string
	for _, p := range q.Touched() {
		if p.Present {
			all = append(all, p.Name)
		} else {
			none = append(none, p.Name)
		}
	}
	if len(all) > 0 || len(none) > 0 {
		cond := bson.M{}
		if len(all) > 0 {
			cond["$all"] = all
		}
		if len(none) > 0 {
			cond["$nin"] = none
		}
		filter["touched_by"] = cond
	}

	for _, p := range q.Fields() {
		filter["contents."+p.Name] = bson.M{"$exists": p.Present}
	}
	return filter, nil
}

// wrapError maps connectivity failures to model.ErrDatabaseUnavailable.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrConversion) {
		return err
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: %v", model.ErrDatabaseUnavailable, err)
	}
	return err
}
