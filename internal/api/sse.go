package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"lead-agent-orchestrator/internal/models"
)

const (
	sseBuffer    = 32
	sseHeartbeat = 15 * time.Second
)

// sseConn adapts a broadcaster connection to a buffered channel drained by the
// handler goroutine. A full buffer means the client is too slow; the event is
// dropped, matching the broadcaster's fire-and-forget contract.
type sseConn struct {
	ch chan models.Event
}

func (c *sseConn) Send(event models.Event) error {
	select {
	case c.ch <- event:
		return nil
	default:
		return errors.New("slow consumer")
	}
}

// handleEvents streams the tenant's job lifecycle events over SSE. The
// connection lives until the client goes away; missed events are not replayed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	tenant := tenantFromRequest(r)
	conn := &sseConn{ch: make(chan models.Event, sseBuffer)}
	connID := uuid.New().String()
	s.broadcaster.RegisterConnection(tenant, connID, conn)
	defer s.broadcaster.UnregisterConnection(connID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = fmt.Fprintf(w, ": connected %s\n\n", connID)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event := <-conn.ch:
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("encode event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
