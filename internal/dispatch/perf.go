package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// PerfTrace records phase boundaries of one handled request. A nil trace
// ignores every call, so transports can use it unconditionally.
type PerfTrace struct {
	event  string
	stage  string
	start  time.Time
	last   time.Time
	phases []slog.Attr
	now    func() time.Time
}

// NewPerfTrace starts a trace when performance logging is enabled and
// returns nil otherwise.
func (s *service) NewPerfTrace(event, stage string) *PerfTrace {
	if !s.config.PerformanceLogging {
		return nil
	}
	return newPerfTrace(event, stage, time.Now)
}

func newPerfTrace(event, stage string, now func() time.Time) *PerfTrace {
	t := now()
	return &PerfTrace{event: event, stage: stage, start: t, last: t, now: now}
}

// Phase closes the phase that started at the previous boundary.
func (t *PerfTrace) Phase(name string) {
	if t == nil {
		return
	}
	now := t.now()
	t.phases = append(t.phases, slog.Int64(name, now.Sub(t.last).Milliseconds()))
	t.last = now
}

// Log writes the trace as a single type=performance line.
func (t *PerfTrace) Log(logger *slog.Logger, docID string) {
	if t == nil {
		return
	}
	end := t.now()
	attrs := []slog.Attr{
		slog.String("type", "performance"),
		slog.String("event", t.event),
		slog.String("stage_name", t.stage),
		slog.String("doc_id", docID),
		slog.Int64("start", t.start.UnixMilli()),
		slog.Int64("end", end.UnixMilli()),
		slog.Int64("total", end.Sub(t.start).Milliseconds()),
	}
	attrs = append(attrs, t.phases...)
	logger.LogAttrs(context.Background(), slog.LevelInfo, "performance", attrs...)
}
