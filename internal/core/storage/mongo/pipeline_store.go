package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PipelineStore keeps one document per pipeline name. The definition is
// stored as a plain BSON tree of its JSON form so it stays readable from
// the mongo shell.
type PipelineStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ types.PipelineStore = (*PipelineStore)(nil)

type pipelineRecord struct {
	Name       string    `bson:"_id"`
	Definition bson.M    `bson:"definition"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func NewPipelineStore(db *mongo.Database, collection string) *PipelineStore {
	return &PipelineStore{coll: db.Collection(collection), now: time.Now}
}

func (s *PipelineStore) GetPipeline(ctx context.Context, name string) (*model.Pipeline, error) {
	var rec pipelineRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": name}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, wrapError(err)
	}

	data, err := json.Marshal(normalizeMap(rec.Definition))
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline %s: %v", model.ErrConversion, name, err)
	}
	var p model.Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: pipeline %s: %v", model.ErrConversion, name, err)
	}
	p.Name = rec.Name
	p.UpdatedAt = rec.UpdatedAt.UTC()
	return &p, nil
}

func (s *PipelineStore) SavePipeline(ctx context.Context, p *model.Pipeline) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: pipeline %s: %v", model.ErrConversion, p.Name, err)
	}
	var def bson.M
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("%w: pipeline %s: %v", model.ErrConversion, p.Name, err)
	}
	delete(def, "updatedAt")

	rec := pipelineRecord{Name: p.Name, Definition: def, UpdatedAt: s.now().UTC()}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": p.Name}, rec, options.Replace().SetUpsert(true))
	return wrapError(err)
}
