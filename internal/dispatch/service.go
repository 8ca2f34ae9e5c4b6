// Package dispatch implements the transport-independent work protocol:
// fetch, claim, mark and attachment access on top of a storage connector.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/stagehand/internal/core/storage"
	"github.com/syntrixbase/stagehand/internal/metrics"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// Stats reports the number of live and archived documents.
type Stats struct {
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
}

// Service is the contract stage workers use through any transport.
// Absence of a match is (nil, nil) or false, never an error.
type Service interface {
	// Fetch returns the oldest live document matching q without claiming it.
	Fetch(ctx context.Context, q model.Query) (*model.Document, error)

	// FetchAndClaim atomically claims a document matching q for stage.
	FetchAndClaim(ctx context.Context, q model.Query, stage string) (*model.Document, error)

	// ReportMark applies doc's changes and the outcome for stage. PENDING
	// releases the document back to the pipeline; the others archive it.
	ReportMark(ctx context.Context, doc *model.Document, stage string, outcome model.Status) (bool, error)

	// Write inserts doc when it has no id, touched by stage, and otherwise
	// saves it if still live. A save that finds nothing returns nil.
	Write(ctx context.Context, doc *model.Document, stage string) (*model.Document, error)

	GetFile(ctx context.Context, docID, name string) (*model.DocumentFile, error)
	GetFiles(ctx context.Context, docID string) ([]*model.DocumentFile, error)
	GetFileNames(ctx context.Context, docID string) ([]string, error)
	SaveFile(ctx context.Context, file *model.DocumentFile) error
	DeleteFile(ctx context.Context, docID, name string) (bool, error)

	Stats(ctx context.Context) (Stats, error)

	// NewPerfTrace returns a trace for one request, or nil when performance
	// logging is off.
	NewPerfTrace(event, stage string) *PerfTrace
	// LogPerformance writes a finished trace.
	LogPerformance(t *PerfTrace, docID string)
}

type service struct {
	store  storage.Connector
	config Config
	logger *slog.Logger
}

// NewService creates a dispatch service over store.
func NewService(store storage.Connector, config Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	config.ApplyDefaults()
	return &service{
		store:  store,
		config: config,
		logger: logger.With("component", "dispatch"),
	}
}

// withTimeout bounds a store call and records its latency.
func (s *service) withTimeout(ctx context.Context, op string) (context.Context, func()) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	return ctx, func() {
		cancel()
		metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func checkStage(stage string) error {
	if !model.CheckStageName(stage) {
		return fmt.Errorf("%w: %q", model.ErrInvalidStage, stage)
	}
	return nil
}

func checkDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing document id", model.ErrMalformedDocument)
	}
	return nil
}

func (s *service) Fetch(ctx context.Context, q model.Query) (*model.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ctx, done := s.withTimeout(ctx, "fetch")
	defer done()

	doc, err := s.store.GetDocument(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q, err)
	}
	return doc, nil
}

func (s *service) FetchAndClaim(ctx context.Context, q model.Query, stage string) (*model.Document, error) {
	if err := checkStage(stage); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ctx, done := s.withTimeout(ctx, "claim")
	defer done()

	doc, err := s.store.GetAndTag(ctx, q, stage)
	switch {
	case err != nil:
		metrics.Claims.WithLabelValues(stage, "error").Inc()
		return nil, fmt.Errorf("claim for %s: %w", stage, err)
	case doc == nil:
		metrics.Claims.WithLabelValues(stage, "empty").Inc()
		return nil, nil
	}
	metrics.Claims.WithLabelValues(stage, "claimed").Inc()
	s.logger.Debug("Document claimed", "stage", stage, "id", doc.ID)
	return doc, nil
}

func (s *service) ReportMark(ctx context.Context, doc *model.Document, stage string, outcome model.Status) (bool, error) {
	if err := checkStage(stage); err != nil {
		return false, err
	}
	if doc == nil {
		return false, fmt.Errorf("%w: missing document", model.ErrMalformedDocument)
	}
	if err := checkDocumentID(doc.ID); err != nil {
		return false, err
	}
	if err := doc.Validate(); err != nil {
		return false, err
	}

	ctx, done := s.withTimeout(ctx, "mark")
	defer done()

	var (
		ok  bool
		err error
	)
	switch outcome {
	case model.StatusPending:
		ok, err = storage.MarkPending(ctx, s.store, doc, stage)
	case model.StatusProcessed:
		ok, err = storage.MarkProcessed(ctx, s.store, doc, stage)
	case model.StatusFailed:
		ok, err = storage.MarkFailed(ctx, s.store, doc, stage)
	case model.StatusDiscarded:
		ok, err = storage.MarkDiscarded(ctx, s.store, doc, stage)
	default:
		return false, fmt.Errorf("%w: unknown mark %q", model.ErrMalformedInput, outcome)
	}

	outcomeLabel := string(outcome)
	switch {
	case err != nil:
		metrics.Marks.WithLabelValues(stage, outcomeLabel, "error").Inc()
		return false, fmt.Errorf("mark %s %s for %s: %w", doc.ID, outcome, stage, err)
	case !ok:
		metrics.Marks.WithLabelValues(stage, outcomeLabel, "not_found").Inc()
		s.logger.Debug("Mark matched no document", "stage", stage, "id", doc.ID, "status", outcome)
		return false, nil
	}
	metrics.Marks.WithLabelValues(stage, outcomeLabel, "ok").Inc()
	return true, nil
}

func (s *service) Write(ctx context.Context, doc *model.Document, stage string) (*model.Document, error) {
	if err := checkStage(stage); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: missing document", model.ErrMalformedDocument)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	ctx, done := s.withTimeout(ctx, "write")
	defer done()

	if doc.ID == "" {
		doc.Touch(stage)
		if err := s.store.Insert(ctx, doc); err != nil {
			return nil, fmt.Errorf("insert from %s: %w", stage, err)
		}
		s.logger.Debug("Document inserted", "stage", stage, "id", doc.ID)
		return doc, nil
	}

	ok, err := s.store.Save(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("save %s from %s: %w", doc.ID, stage, err)
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func checkFileTarget(docID, name string) error {
	if err := checkDocumentID(docID); err != nil {
		return err
	}
	return model.CheckFileName(name)
}

func (s *service) GetFile(ctx context.Context, docID, name string) (*model.DocumentFile, error) {
	if err := checkFileTarget(docID, name); err != nil {
		return nil, err
	}
	ctx, done := s.withTimeout(ctx, "get_file")
	defer done()
	return s.store.GetFile(ctx, docID, name)
}

func (s *service) GetFiles(ctx context.Context, docID string) ([]*model.DocumentFile, error) {
	if err := checkDocumentID(docID); err != nil {
		return nil, err
	}
	ctx, done := s.withTimeout(ctx, "get_files")
	defer done()
	return s.store.GetFiles(ctx, docID)
}

func (s *service) GetFileNames(ctx context.Context, docID string) ([]string, error) {
	if err := checkDocumentID(docID); err != nil {
		return nil, err
	}
	ctx, done := s.withTimeout(ctx, "get_file_names")
	defer done()

	names, err := s.store.GetFileNames(ctx, docID)
	if names == nil && err == nil {
		names = []string{}
	}
	return names, err
}

func (s *service) SaveFile(ctx context.Context, file *model.DocumentFile) error {
	if file == nil {
		return fmt.Errorf("%w: missing file", model.ErrMalformedInput)
	}
	if err := checkFileTarget(file.DocumentID, file.Name); err != nil {
		return err
	}
	ctx, done := s.withTimeout(ctx, "save_file")
	defer done()
	return s.store.SaveFile(ctx, file)
}

func (s *service) DeleteFile(ctx context.Context, docID, name string) (bool, error) {
	if err := checkFileTarget(docID, name); err != nil {
		return false, err
	}
	ctx, done := s.withTimeout(ctx, "delete_file")
	defer done()
	return s.store.DeleteFile(ctx, docID, name)
}

func (s *service) Stats(ctx context.Context) (Stats, error) {
	ctx, done := s.withTimeout(ctx, "stats")
	defer done()

	active, err := s.store.ActiveCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	inactive, err := s.store.InactiveCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Active: active, Inactive: inactive}, nil
}

func (s *service) LogPerformance(t *PerfTrace, docID string) {
	t.Log(s.logger, docID)
}
