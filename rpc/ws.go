package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/indexer"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBacklogLimit = 1000
)

// handleEventsWS streams committed escrow events. Query parameters: after
// (sequence cursor) and orderId (only events of one order). The backlog from
// the index is sent first, then live events.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.backend.Events == nil || s.backend.Hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if !s.limiter.Allow("ip:" + clientID(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	filter, err := parseStreamFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})
	opts := &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func parseStreamFilter(r *http.Request) (indexer.EventFilter, error) {
	filter := indexer.EventFilter{Limit: wsBacklogLimit}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, invalidParams("after: %v", err)
		}
		filter.After = after
	}
	if raw := strings.TrimSpace(query.Get("orderId")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, invalidParams("orderId: %v", err)
		}
		filter.OrderID = id
	}
	return filter, nil
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter indexer.EventFilter) error {
	// Subscribe before reading the backlog so nothing committed in between is
	// lost; duplicates are skipped by sequence.
	updates, cancel := s.backend.Hub.Subscribe(ctx)
	defer cancel()

	cursor := filter.After
	for {
		filter.After = cursor
		backlog, err := s.backend.Events.Events(filter)
		if err != nil {
			return err
		}
		for _, record := range backlog {
			if err := writeEvent(ctx, conn, record); err != nil {
				return err
			}
			cursor = record.Sequence
		}
		if len(backlog) < wsBacklogLimit {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if record.Sequence <= cursor {
				continue
			}
			if filter.OrderID != 0 && record.OrderID != filter.OrderID {
				continue
			}
			if err := writeEvent(ctx, conn, record); err != nil {
				return err
			}
			cursor = record.Sequence
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, record indexer.EventRecord) error {
	data, err := json.Marshal(eventResultFrom(record))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
