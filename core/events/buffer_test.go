package events

import "testing"

type namedEvent string

func (n namedEvent) EventType() string { return string(n) }

type recorder struct{ seen []string }

func (r *recorder) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(namedEvent("a"))
	buf.Emit(nil)
	buf.Emit(namedEvent("b"))
	if buf.Len() != 2 {
		t.Fatalf("expected 2 queued events, got %d", buf.Len())
	}
	rec := &recorder{}
	buf.Flush(rec)
	if len(rec.seen) != 2 || rec.seen[0] != "a" || rec.seen[1] != "b" {
		t.Fatalf("unexpected flush order: %v", rec.seen)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not cleared after flush")
	}
}

func TestBufferResetDropsEvents(t *testing.T) {
	var buf Buffer
	buf.Emit(namedEvent("a"))
	buf.Reset()
	rec := &recorder{}
	buf.Flush(rec)
	if len(rec.seen) != 0 {
		t.Fatalf("expected no events after reset, got %v", rec.seen)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	MultiEmitter{a, nil, b}.Emit(namedEvent("x"))
	if len(a.seen) != 1 || len(b.seen) != 1 {
		t.Fatalf("fan-out failed: %v %v", a.seen, b.seen)
	}
}
