package events

import "sync"

// Buffer collects events until Flush forwards them to the downstream
// emitter. Events recorded by an operation that later rolls back are
// dropped with Reset and never observed.
type Buffer struct {
	mu      sync.Mutex
	pending []Event
}

// Emit implements Emitter by queueing the event.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	b.mu.Unlock()
}

// Len reports the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reset discards queued events.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// Flush forwards queued events to dst in emission order and clears the
// buffer.
func (b *Buffer) Flush(dst Emitter) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// MultiEmitter fans an event out to several emitters.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}
