package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/syntrixbase/stagehand/internal/core/pubsub"
	"github.com/syntrixbase/stagehand/internal/dispatch"
	"github.com/syntrixbase/stagehand/internal/metrics"
	"github.com/syntrixbase/stagehand/pkg/model"
)

const replyTimeout = 5 * time.Second

// MarkReply is the body of a successful mark reply.
type MarkReply struct {
	ID string `json:"id"`
}

// ErrorReply is the body of bad_request and error replies.
type ErrorReply struct {
	Message string `json:"message"`
}

// Dispatcher consumes the core subject and answers each request on its
// reply subject.
type Dispatcher struct {
	broker  pubsub.Broker
	service dispatch.Service
	prefix  string
	workers int
	logger  *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewDispatcher creates a dispatcher running workers concurrent handlers.
func NewDispatcher(broker pubsub.Broker, service dispatch.Service, prefix string, workers int) *Dispatcher {
	if workers <= 0 {
		workers = dispatch.DefaultConfig().Workers
	}
	return &Dispatcher{
		broker:  broker,
		service: service,
		prefix:  prefix,
		workers: workers,
		logger:  slog.Default().With("component", "mq-dispatcher"),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the dispatcher is subscribed to the core subject.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

// Start consumes requests until ctx is cancelled. Requests already taken
// off the subject are completed before it returns.
func (d *Dispatcher) Start(ctx context.Context) error {
	msgCh, err := d.broker.Subscribe(ctx, CoreSubject(d.prefix), QueueGroup)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	d.readyOnce.Do(func() { close(d.ready) })

	// in-flight requests outlive the subscription; the service bounds them
	handleCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgCh {
				d.handle(handleCtx, msg)
			}
		}()
	}

	d.logger.Info("MQ dispatcher started", "subject", CoreSubject(d.prefix), "workers", d.workers)
	wg.Wait()
	d.logger.Info("MQ dispatcher stopped")
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, msg *pubsub.Message) {
	if msg.ReplyTo == "" {
		d.logger.Warn("Dropping request without reply subject", "type", msg.Type, "correlation_id", msg.CorrelationID)
		metrics.MQRequests.WithLabelValues(typeLabel(msg.Type), "dropped").Inc()
		return
	}

	reply := d.process(ctx, msg)
	if reply == nil {
		metrics.MQRequests.WithLabelValues(typeLabel(msg.Type), "empty").Inc()
		return
	}
	metrics.MQRequests.WithLabelValues(typeLabel(msg.Type), reply.Status).Inc()

	pubCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := d.broker.Publish(pubCtx, reply); err != nil {
		d.logger.Error("Failed to publish reply", "reply_to", msg.ReplyTo, "correlation_id", msg.CorrelationID, "error", err)
	}
}

// process runs one request and returns the reply, or nil when a claim or
// fetch found nothing.
func (d *Dispatcher) process(ctx context.Context, msg *pubsub.Message) *pubsub.Message {
	stage, ok := StageFromReplyTo(d.prefix, msg.ReplyTo)
	if !ok {
		return d.failure(msg, fmt.Errorf("%w: reply subject %q", model.ErrInvalidStage, msg.ReplyTo))
	}

	switch {
	case msg.Type == TypeClaim || msg.Type == TypeFetch:
		q, err := model.ParseQuery(msg.Data)
		if err != nil {
			return d.failure(msg, err)
		}
		var doc *model.Document
		if msg.Type == TypeClaim {
			doc, err = d.service.FetchAndClaim(ctx, q, stage)
		} else {
			doc, err = d.service.Fetch(ctx, q)
		}
		if err != nil {
			return d.failure(msg, err)
		}
		if doc == nil {
			return nil
		}
		data, err := doc.JSON()
		if err != nil {
			return d.failure(msg, err)
		}
		return msg.Reply(StatusMatched, data)

	case strings.HasPrefix(msg.Type, TypeMarkPrefix):
		return d.mark(ctx, msg, stage)

	default:
		return d.failure(msg, fmt.Errorf("%w: unknown request type %q", model.ErrMalformedInput, msg.Type))
	}
}

func (d *Dispatcher) mark(ctx context.Context, msg *pubsub.Message, stage string) *pubsub.Message {
	trace := d.service.NewPerfTrace(strings.TrimPrefix(msg.Type, TypeMarkPrefix), stage)
	trace.Phase("receive")

	status, err := model.ParseStatus(strings.TrimPrefix(msg.Type, TypeMarkPrefix))
	if err != nil {
		return d.failure(msg, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(msg.Data, &raw); err != nil || raw == nil {
		return d.failure(msg, fmt.Errorf("%w: request body must be a JSON object", model.ErrMalformedInput))
	}
	trace.Phase("parse")

	doc, err := model.ParseDocument(msg.Data)
	if err != nil {
		return d.failure(msg, err)
	}
	trace.Phase("convert")

	ok, err := d.service.ReportMark(ctx, doc, stage, status)
	if err != nil {
		return d.failure(msg, err)
	}
	trace.Phase("mark")

	if !ok {
		return msg.Reply(StatusNotFound, nil)
	}
	data, err := json.Marshal(MarkReply{ID: doc.ID})
	if err != nil {
		return d.failure(msg, err)
	}
	trace.Phase("serialize")
	d.service.LogPerformance(trace, doc.ID)
	return msg.Reply(StatusOK, data)
}

func (d *Dispatcher) failure(msg *pubsub.Message, err error) *pubsub.Message {
	status := StatusError
	if dispatch.Classify(err) == dispatch.OutcomeBadRequest {
		status = StatusBadRequest
	} else {
		d.logger.Error("Request failed", "type", msg.Type, "correlation_id", msg.CorrelationID, "error", err)
	}
	data, _ := json.Marshal(ErrorReply{Message: err.Error()})
	return msg.Reply(status, data)
}

func typeLabel(t string) string {
	switch t {
	case TypeClaim, TypeFetch:
		return t
	}
	if strings.HasPrefix(t, TypeMarkPrefix) {
		if status, err := model.ParseStatus(strings.TrimPrefix(t, TypeMarkPrefix)); err == nil {
			return MarkType(status)
		}
	}
	return "unknown"
}
