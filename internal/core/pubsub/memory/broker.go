package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/syntrixbase/stagehand/internal/core/pubsub"
)

// Compile-time check that Broker implements pubsub.Broker
var _ pubsub.Broker = (*Broker)(nil)

// Broker routes messages between subscribers of the same process.
type Broker struct {
	mu      sync.RWMutex
	subs    []*subscription
	cursors map[string]*atomic.Uint64
	bufSize int

	done      chan struct{}
	closeOnce sync.Once
}

type subscription struct {
	pattern string
	group   string
	msgCh   chan *pubsub.Message
	ctx     context.Context
}

// New creates an in-memory broker. bufSize <= 0 selects the default buffer.
func New(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = pubsub.DefaultChannelBufSize
	}
	return &Broker{
		cursors: make(map[string]*atomic.Uint64),
		bufSize: bufSize,
		done:    make(chan struct{}),
	}
}

func groupKey(pattern, group string) string {
	return pattern + "\x00" + group
}

// Publish delivers msg to every plain subscriber whose pattern matches and to
// one member of each matching queue group, chosen round robin.
func (b *Broker) Publish(ctx context.Context, msg *pubsub.Message) error {
	if b.IsClosed() {
		return pubsub.ErrClosed
	}
	if msg.Subject == "" || strings.ContainsAny(msg.Subject, "*>") {
		return ErrInvalidSubject
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var targets []*subscription
	groups := make(map[string][]*subscription)
	for _, sub := range b.subs {
		if !matchSubject(sub.pattern, msg.Subject) {
			continue
		}
		if sub.group == "" {
			targets = append(targets, sub)
			continue
		}
		key := groupKey(sub.pattern, sub.group)
		groups[key] = append(groups[key], sub)
	}
	for key, members := range groups {
		n := b.cursors[key].Add(1) - 1
		targets = append(targets, members[int(n%uint64(len(members)))])
	}

	for _, sub := range targets {
		delivered := *msg
		delivered.Data = append([]byte(nil), msg.Data...)
		select {
		case sub.msgCh <- &delivered:
		case <-sub.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return pubsub.ErrClosed
		}
	}
	return nil
}

// Subscribe registers a subscription on pattern, which may use NATS-style
// wildcards. The channel is closed when ctx is done or the broker closes.
func (b *Broker) Subscribe(ctx context.Context, pattern, queueGroup string) (<-chan *pubsub.Message, error) {
	if pattern == "" {
		return nil, ErrInvalidSubject
	}

	b.mu.Lock()
	if b.IsClosed() {
		b.mu.Unlock()
		return nil, pubsub.ErrClosed
	}
	sub := &subscription{
		pattern: pattern,
		group:   queueGroup,
		msgCh:   make(chan *pubsub.Message, b.bufSize),
		ctx:     ctx,
	}
	b.subs = append(b.subs, sub)
	if queueGroup != "" {
		key := groupKey(pattern, queueGroup)
		if b.cursors[key] == nil {
			b.cursors[key] = new(atomic.Uint64)
		}
	}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.remove(sub)
	}()

	return sub.msgCh, nil
}

func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.msgCh)
			return
		}
	}
}

// Close stops delivery and closes every subscription channel.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, sub := range b.subs {
			close(sub.msgCh)
		}
		b.subs = nil
	})
	return nil
}

// IsClosed returns true if the broker is closed.
func (b *Broker) IsClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
