package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/events"
)

// handleLogs streams a task's EventHub as SSE (§6.2): historical log
// records, then historical chat/tool records, then one current status,
// then live events, with a keep-alive comment every
// events.HeartbeatInterval.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := s.taskID(r)
	task, err := s.orch.GetTask(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hub := s.hubs.Get(id)
	live, snap, cancel := hub.Subscribe(64)
	defer cancel()

	for _, l := range snap.Logs {
		writeSSE(w, flusher, events.WireEvent{Type: events.EventTypeLog, Data: map[string]any{
			"timestamp": l.Timestamp, "level": l.Level, "message": l.Message,
		}})
	}
	for _, c := range snap.Chats {
		writeSSE(w, flusher, chatWireEvent(c))
	}
	writeSSE(w, flusher, events.WireEvent{Type: events.EventTypeStatus, Data: map[string]any{"status": task.Status}})

	ctx := r.Context()
	heartbeat := time.NewTicker(events.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-live:
			if !ok {
				return
			}
			writeSSE(w, flusher, ev)
			if ev.Type == events.EventTypeComplete || ev.Type == events.EventTypeError {
				return
			}
		}
	}
}

func chatWireEvent(c core.ChatEvent) events.WireEvent {
	if c.Kind == "tool_activity" {
		return events.WireEvent{Type: events.EventTypeToolActivity, Data: map[string]any{
			"timestamp": c.Timestamp, "kind": c.Kind, "tool_name": c.ToolName, "summary": c.Summary,
		}}
	}
	return events.WireEvent{Type: events.EventTypeChatMessage, Data: map[string]any{
		"timestamp": c.Timestamp, "kind": c.Kind, "role": c.Role, "text": c.Text,
	}}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev events.WireEvent) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
