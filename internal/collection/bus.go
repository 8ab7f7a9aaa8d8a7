package collection

import "sync"

// Bus is a minimal publish/subscribe invalidation channel keyed by
// collection name. Mutating services publish; watchers that bind themselves
// refetch. This replaces the original fire-and-refetch pattern, where every
// caller had to remember to refetch every live list after each write.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan struct{})}
}

// Subscribe returns a channel that receives a tick for every invalidation of
// table, plus a cancel func. Ticks coalesce: a pending unread tick absorbs
// new ones.
func (b *Bus) Subscribe(table string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.subs[table] == nil {
		b.subs[table] = make(map[int]chan struct{})
	}
	id := b.next
	b.next++
	b.subs[table][id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if subs, ok := b.subs[table]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
		}
		b.mu.Unlock()
	}
}

// Invalidate notifies every subscriber of table.
func (b *Bus) Invalidate(table string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[table] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
