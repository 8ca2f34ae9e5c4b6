package types

import (
	"context"
	"time"

	"github.com/syntrixbase/stagehand/pkg/model"
)

// DocumentStore is the capability set a backing store exposes for documents.
// Lookups that find nothing return (nil, nil); only real failures are errors.
type DocumentStore interface {
	// GetDocument returns one live document matching q, oldest first.
	GetDocument(ctx context.Context, q model.Query) (*model.Document, error)

	// GetDocuments returns up to limit live documents matching q.
	GetDocuments(ctx context.Context, q model.Query, limit int) ([]*model.Document, error)

	// GetAndTag atomically selects one live document matching q that has not
	// been touched by stage, adds stage to its touched set and returns the
	// tagged document. Concurrent calls for the same stage never return the
	// same document.
	GetAndTag(ctx context.Context, q model.Query, stage string) (*model.Document, error)

	// MarkTouched adds stage to the touched set of a live document. Repeating
	// the call, or calling it for a missing document, is a no-op.
	MarkTouched(ctx context.Context, id string, stage string) error

	// Mark writes doc's contents, metadata and the given status in a single
	// document update and adds stage to the touched set. A live document, or
	// one already carrying status, matches. Reports false when nothing matched.
	Mark(ctx context.Context, doc *model.Document, stage string, status model.Status) (bool, error)

	// Insert stores a new live document and assigns doc.ID.
	Insert(ctx context.Context, doc *model.Document) error

	// Save replaces contents, metadata and action of a live document.
	Save(ctx context.Context, doc *model.Document) (bool, error)

	// Delete removes the document regardless of status.
	Delete(ctx context.Context, id string) (bool, error)

	// ActiveCount counts live documents, InactiveCount archived ones.
	ActiveCount(ctx context.Context) (int64, error)
	InactiveCount(ctx context.Context) (int64, error)
}

// FileStore holds document attachments keyed by (document id, file name).
type FileStore interface {
	// GetFile returns (nil, nil) when the attachment does not exist.
	GetFile(ctx context.Context, docID, name string) (*model.DocumentFile, error)
	GetFileNames(ctx context.Context, docID string) ([]string, error)
	GetFiles(ctx context.Context, docID string) ([]*model.DocumentFile, error)
	SaveFile(ctx context.Context, file *model.DocumentFile) error
	DeleteFile(ctx context.Context, docID, name string) (bool, error)
	DeleteFiles(ctx context.Context, docID string) error
}

// PipelineStore persists pipeline definitions by name.
type PipelineStore interface {
	// GetPipeline returns (nil, nil) when no pipeline is stored under name.
	GetPipeline(ctx context.Context, name string) (*model.Pipeline, error)
	SavePipeline(ctx context.Context, p *model.Pipeline) error
}

// Sweeper is implemented by stores that evict archived documents themselves
// instead of relying on the database (e.g. a TTL index).
type Sweeper interface {
	Sweep(ctx context.Context, archivedBefore time.Time) (int64, error)
}

// Connector is the full store surface consumed by the dispatch layer.
type Connector interface {
	DocumentStore
	FileStore
	PipelineStore

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
