package bus

import "sync"

// Bus is an in-memory fan-out publisher. Handlers run on the
// broadcasting goroutine; subscribers must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func New() *Bus {
	return &Bus{handlers: map[string]EventHandler{}}
}

func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}
