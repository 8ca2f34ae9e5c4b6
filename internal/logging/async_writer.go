package logging

import (
	"io"
	"sync"
	"time"
)

// AsyncWriter moves writes to a background goroutine that writes them in
// batches. Write blocks only when the buffer is full.
type AsyncWriter struct {
	w       io.WriteCloser
	entries chan []byte
	flushCh chan chan struct{}
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	batchSize     int
	flushInterval time.Duration
}

// AsyncWriterConfig holds configuration for AsyncWriter
type AsyncWriterConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultAsyncWriterConfig returns default configuration
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		BufferSize:    10000,
		BatchSize:     100,
		FlushInterval: 100 * time.Millisecond,
	}
}

// NewAsyncWriter starts the background writer. Close flushes and closes w.
func NewAsyncWriter(w io.WriteCloser, cfg AsyncWriterConfig) *AsyncWriter {
	defaults := DefaultAsyncWriterConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	aw := &AsyncWriter{
		w:             w,
		entries:       make(chan []byte, cfg.BufferSize),
		flushCh:       make(chan chan struct{}),
		done:          make(chan struct{}),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
	}
	go aw.loop()
	return aw
}

// Write queues a copy of p.
func (aw *AsyncWriter) Write(p []byte) (int, error) {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	if aw.closed {
		return 0, io.ErrClosedPipe
	}
	aw.entries <- append([]byte(nil), p...)
	return len(p), nil
}

// Flush returns once everything queued before the call is written.
func (aw *AsyncWriter) Flush() error {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	if aw.closed {
		return nil
	}
	ack := make(chan struct{})
	aw.flushCh <- ack
	<-ack
	return nil
}

// Close writes all queued entries and closes the underlying writer.
func (aw *AsyncWriter) Close() error {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return nil
	}
	aw.closed = true
	close(aw.entries)
	aw.mu.Unlock()

	<-aw.done
	return aw.w.Close()
}

func (aw *AsyncWriter) loop() {
	defer close(aw.done)

	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	batch := make([][]byte, 0, aw.batchSize)
	write := func() {
		for _, e := range batch {
			_, _ = aw.w.Write(e)
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case e := <-aw.entries:
				batch = append(batch, e)
			default:
				write()
				return
			}
		}
	}

	for {
		select {
		case e, ok := <-aw.entries:
			if !ok {
				write()
				return
			}
			batch = append(batch, e)
			if len(batch) >= aw.batchSize {
				write()
			}
		case ack := <-aw.flushCh:
			drain()
			close(ack)
		case <-ticker.C:
			write()
		}
	}
}
