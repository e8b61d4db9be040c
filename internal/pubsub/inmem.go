package pubsub

import (
	"context"
	"sync"
)

// inmem is a synchronous, fan-out pub/sub used by unit tests. Its
// registration/delivery structure mirrors the reference runtime's hooks.Bus,
// generalised to per-topic subscriber sets.
type inmem struct {
	mu     sync.RWMutex
	topics map[string][]Handler
}

// NewInMemory constructs a topic-scoped, synchronous pub/sub transport with
// no cross-process delivery.
func NewInMemory() PubSub {
	return &inmem{topics: make(map[string][]Handler)}
}

func (b *inmem) Publish(ctx context.Context, topic string, env Envelope) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.topics[topic]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers h against topic. group is accepted for interface
// parity with the Redis consumer-group adapter but has no effect here:
// every subscriber receives every message.
func (b *inmem) Subscribe(ctx context.Context, topic string, group string, h Handler) error {
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], h)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return nil
}
