package testutil

import (
	"context"
	"sync"
)

// Relay is an in-memory cross-process event relay. Send delivers to every
// listener synchronously, the sender's own listener included.
type Relay struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func([]byte)
}

func NewRelay() *Relay {
	return &Relay{listeners: make(map[int]func([]byte))}
}

func (r *Relay) Send(_ context.Context, payload []byte) error {
	r.mu.Lock()
	fns := make([]func([]byte), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

func (r *Relay) Listen(ctx context.Context, fn func([]byte)) error {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	delete(r.listeners, id)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *Relay) Listeners() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}
