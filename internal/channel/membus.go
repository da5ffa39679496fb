package channel

import (
	"context"
	"sync"
)

// MemBus is an in-process Bus for tests and single-process runs. Delivery
// is synchronous and in publish order, which matches the per-actor
// sequential discipline the protocol assumes.
type MemBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[string]map[int]Handler)}
}

func (b *MemBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, data)
	}
	return nil
}

func (b *MemBus) Subscribe(_ context.Context, subject string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[subject][id] = h
	return &memSubscription{bus: b, subject: subject, id: id}, nil
}

type memSubscription struct {
	bus     *MemBus
	subject string
	id      int
}

func (s *memSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.subject], s.id)
	return nil
}

var _ Bus = (*MemBus)(nil)
