package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocumentStore keeps live and archived documents in one collection.
// Archived documents carry expires_at and are removed by a TTL index.
type DocumentStore struct {
	coll      *mongo.Collection
	retention time.Duration
	now       func() time.Time
}

var _ types.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore initializes a MongoDB document store. retention <= 0
// keeps archived documents forever.
func NewDocumentStore(db *mongo.Database, collection string, retention time.Duration) *DocumentStore {
	return &DocumentStore{
		coll:      db.Collection(collection),
		retention: retention,
		now:       time.Now,
	}
}

// EnsureIndexes creates necessary indexes
func (s *DocumentStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "touched_by", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return wrapError(err)
}

func (s *DocumentStore) GetDocument(ctx context.Context, q model.Query) (*model.Document, error) {
	filter, err := makeFilterBSON(q)
	if err != nil {
		return nil, err
	}

	var rec record
	err = s.coll.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return rec.toDocument(), nil
}

func (s *DocumentStore) GetDocuments(ctx context.Context, q model.Query, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		return []*model.Document{}, nil
	}
	filter, err := makeFilterBSON(q)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var recs []record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, wrapError(err)
	}
	out := make([]*model.Document, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toDocument())
	}
	return out, nil
}

// GetAndTag relies on findAndModify re-evaluating the filter under the
// document lock, so two concurrent claims for the same stage cannot both
// succeed on one document.
func (s *DocumentStore) GetAndTag(ctx context.Context, q model.Query, stage string) (*model.Document, error) {
	filter, err := makeFilterBSON(q.RequireNotTouchedByStage(stage))
	if err != nil {
		return nil, err
	}

	update := bson.M{"$addToSet": bson.M{"touched_by": stage}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var rec record
	err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return rec.toDocument(), nil
}

func (s *DocumentStore) MarkTouched(ctx context.Context, id string, stage string) error {
	oid, err := toObjectID(id)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "status": string(model.StatusPending)},
		bson.M{"$addToSet": bson.M{"touched_by": stage}},
	)
	return wrapError(err)
}

func (s *DocumentStore) Mark(ctx context.Context, doc *model.Document, stage string, status model.Status) (bool, error) {
	oid, err := toObjectID(doc.ID)
	if err != nil {
		return false, err
	}

	filter := bson.M{
		"_id":    oid,
		"status": bson.M{"$in": []string{string(model.StatusPending), string(status)}},
	}
	set := bson.M{
		"status":   string(status),
		"contents": contentsOrEmpty(doc.Contents),
		"metadata": contentsOrEmpty(doc.Metadata),
	}
	if doc.Action != "" {
		set["action"] = string(doc.Action)
	}
	if status.IsTerminal() {
		now := s.now().UTC()
		set["archived_at"] = now
		if s.retention > 0 {
			set["expires_at"] = now.Add(s.retention)
		}
	}
	update := bson.M{
		"$set":      set,
		"$addToSet": bson.M{"touched_by": stage},
	}

	result, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, wrapError(err)
	}
	return result.MatchedCount > 0, nil
}

func (s *DocumentStore) Insert(ctx context.Context, doc *model.Document) error {
	touched := doc.TouchedBy
	if touched == nil {
		touched = []string{}
	}
	rec := record{
		ID:        primitive.NewObjectID(),
		Action:    string(doc.Action),
		Status:    string(model.StatusPending),
		Contents:  contentsOrEmpty(doc.Contents),
		Metadata:  contentsOrEmpty(doc.Metadata),
		TouchedBy: touched,
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return wrapError(err)
	}
	doc.ID = rec.ID.Hex()
	doc.Status = model.StatusPending
	return nil
}

func (s *DocumentStore) Save(ctx context.Context, doc *model.Document) (bool, error) {
	oid, err := toObjectID(doc.ID)
	if err != nil {
		return false, err
	}
	result, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "status": string(model.StatusPending)},
		bson.M{"$set": bson.M{
			"action":   string(doc.Action),
			"contents": contentsOrEmpty(doc.Contents),
			"metadata": contentsOrEmpty(doc.Metadata),
		}},
	)
	if err != nil {
		return false, wrapError(err)
	}
	return result.MatchedCount > 0, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := toObjectID(id)
	if err != nil {
		return false, err
	}
	result, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, wrapError(err)
	}
	return result.DeletedCount > 0, nil
}

func (s *DocumentStore) ActiveCount(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"status": string(model.StatusPending)})
	return n, wrapError(err)
}

func (s *DocumentStore) InactiveCount(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"status": bson.M{"$ne": string(model.StatusPending)}})
	return n, wrapError(err)
}

func contentsOrEmpty(m map[string]any) bson.M {
	if m == nil {
		return bson.M{}
	}
	return bson.M(m)
}
