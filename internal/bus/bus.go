// Package bus fans out live session events to watchers. The in-process
// implementation serves a single replica; the Redis implementation lets
// watchers attach to any replica.
package bus

import (
	"context"
	"sync"
)

// Bus publishes opaque payloads to named channels and delivers them to all
// current subscribers. Delivery is best-effort: a subscriber that cannot keep
// up loses messages rather than stalling the publisher.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a receive channel and a cleanup func. The channel is
	// closed when ctx is cancelled or cleanup is called.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// SessionChannel returns the bus channel name for a session's event stream.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

const subscriberBuffer = 64

type subscriber struct {
	ch   chan []byte
	once sync.Once
}

func (s *subscriber) shutdown() {
	s.once.Do(func() { close(s.ch) })
}

// Memory is an in-process Bus.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewMemory creates an in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: map[string]map[*subscriber]struct{}{}}
}

// Publish delivers payload to every subscriber of channel. Full subscriber
// buffers are skipped.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe attaches to channel until ctx is cancelled or cleanup is called.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}

	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = map[*subscriber]struct{}{}
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()

	cleanup := func() {
		m.mu.Lock()
		delete(m.subs[channel], sub)
		if len(m.subs[channel]) == 0 {
			delete(m.subs, channel)
		}
		m.mu.Unlock()
		sub.shutdown()
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return sub.ch, cleanup, nil
}

// Close drops all subscribers.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for channel, subs := range m.subs {
		for sub := range subs {
			sub.shutdown()
		}
		delete(m.subs, channel)
	}
	return nil
}
