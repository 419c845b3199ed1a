package events

// Event is anything an emitter can publish.
type Event interface {
	EventType() string
}

// Emitter receives events after the state change that produced them has
// committed.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards everything.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
