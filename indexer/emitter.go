package indexer

import (
	"log/slog"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/events"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/types"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/observability"
)

// Emitter persists every emitted event and forwards it to live subscribers.
type Emitter struct {
	store *Store
	hub   *Hub
	log   *slog.Logger
}

var _ events.Emitter = (*Emitter)(nil)

func NewEmitter(store *Store, hub *Hub, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{store: store, hub: hub, log: log.With("component", "indexer")}
}

// Emit implements events.Emitter. Persistence failures are logged and counted;
// the originating operation has already committed.
func (e *Emitter) Emit(evt events.Event) {
	withEvent, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := withEvent.Event()
	if payload == nil {
		return
	}
	observability.Events().RecordPublished(payload.Type)
	if e.store == nil {
		return
	}
	record, err := e.store.Append(payload)
	if err != nil {
		observability.Events().RecordDropped("store")
		e.log.Error("persist event", slog.String("type", payload.Type), slog.Any("error", err))
		return
	}
	if e.hub != nil {
		e.hub.Publish(record)
	}
}
