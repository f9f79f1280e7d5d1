// Package events implements the per-task EventHub: a bounded-lossy log
// buffer, an unbounded lossless chat buffer, and a set of live
// subscribers fed in publication order, with historical replay on
// connect.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskforge/taskforge/internal/core"
)

// WireEvent is one record on the SSE wire: an event name and its JSON
// payload, per §6.2.
type WireEvent struct {
	Type string
	Data map[string]any
}

const (
	EventTypeLog            = "log"
	EventTypeStatus         = "status"
	EventTypeChatMessage    = "chat_message"
	EventTypeToolActivity   = "tool_activity"
	EventTypeTimeoutWarning = "timeout_warning"
	EventTypeAwaitingReview = "awaiting_review"
	EventTypeComplete       = "complete"
	EventTypeError          = "error"
)

// DefaultLogBufferCapacity bounds the per-task log ring buffer. The
// source left this unspecified (§9 Open Question); 500 lines is chosen
// to comfortably span one agent run's stderr chatter while keeping
// memory bounded for a long-lived server.
const DefaultLogBufferCapacity = 500

// HeartbeatInterval is how often a keep-alive comment is written to an
// otherwise-idle subscriber, per §4.5 / §6.2.
const HeartbeatInterval = 15 * time.Second

type subscriber struct {
	id uint64
	ch chan WireEvent
}

// Hub is the per-task event hub.
type Hub struct {
	taskID core.TaskID

	mu          sync.Mutex
	logBuf      []core.LogEntry
	logCap      int
	chatBuf     []core.ChatEvent
	subs        map[uint64]*subscriber
	nextSubID   uint64
	droppedLogs int64
}

// NewHub creates a Hub for one task with the given log-buffer capacity.
// A capacity <= 0 uses DefaultLogBufferCapacity.
func NewHub(taskID core.TaskID, logCap int) *Hub {
	if logCap <= 0 {
		logCap = DefaultLogBufferCapacity
	}
	return &Hub{
		taskID: taskID,
		logCap: logCap,
		subs:   make(map[uint64]*subscriber),
	}
}

// Snapshot is the historical replay payload handed to a new subscriber.
type Snapshot struct {
	Logs  []core.LogEntry
	Chats []core.ChatEvent
}

// Subscribe registers a live subscriber and returns its event channel
// together with a snapshot of everything published so far. The
// snapshot is taken atomically with subscriber registration so no
// event is ever missed or duplicated across the replay/live boundary.
func (h *Hub) Subscribe(bufferSize int) (<-chan WireEvent, Snapshot, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	sub := &subscriber{id: id, ch: make(chan WireEvent, bufferSize)}
	h.subs[id] = sub

	snap := Snapshot{
		Logs:  append([]core.LogEntry(nil), h.logBuf...),
		Chats: append([]core.ChatEvent(nil), h.chatBuf...),
	}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, snap, cancel
}

// PublishLog appends a log line to the bounded ring buffer and fans it
// out to live subscribers.
func (h *Hub) PublishLog(e core.LogEntry) {
	h.mu.Lock()
	h.logBuf = append(h.logBuf, e)
	if len(h.logBuf) > h.logCap {
		drop := len(h.logBuf) - h.logCap
		h.logBuf = h.logBuf[drop:]
		atomic.AddInt64(&h.droppedLogs, int64(drop))
	}
	h.broadcastLocked(WireEvent{Type: EventTypeLog, Data: map[string]any{
		"timestamp": e.Timestamp,
		"level":     e.Level,
		"message":   e.Message,
	}})
	h.mu.Unlock()
}

// PublishChat appends a chat event to the unbounded, lossless chat
// buffer and fans it out to live subscribers.
func (h *Hub) PublishChat(e core.ChatEvent) {
	h.mu.Lock()
	h.chatBuf = append(h.chatBuf, e)
	evType := EventTypeChatMessage
	data := map[string]any{"timestamp": e.Timestamp, "kind": e.Kind}
	if e.Kind == "tool_activity" {
		evType = EventTypeToolActivity
		data["tool_name"] = e.ToolName
		data["summary"] = e.Summary
	} else {
		data["role"] = e.Role
		data["text"] = e.Text
	}
	h.broadcastLocked(WireEvent{Type: evType, Data: data})
	h.mu.Unlock()
}

// PublishStatus announces a status transition. Exactly one status
// event is published per transition (§8).
func (h *Hub) PublishStatus(status core.Status) {
	h.mu.Lock()
	h.broadcastLocked(WireEvent{Type: EventTypeStatus, Data: map[string]any{"status": status}})
	h.mu.Unlock()
}

// PublishTimeoutWarning emits the synthetic log line subscribers see on
// connect (or periodically) while an agent is running.
func (h *Hub) PublishTimeoutWarning(runningSince, timeoutAt time.Time) {
	h.mu.Lock()
	h.broadcastLocked(WireEvent{Type: EventTypeTimeoutWarning, Data: map[string]any{
		"running_since": runningSince,
		"timeout_at":    timeoutAt,
	}})
	h.mu.Unlock()
}

// PublishAwaitingReview emits the informational event written when a
// newly-connecting subscriber finds the task in a review-holding state.
func (h *Hub) PublishAwaitingReview(status core.Status) {
	h.mu.Lock()
	h.broadcastLocked(WireEvent{Type: EventTypeAwaitingReview, Data: map[string]any{"status": status}})
	h.mu.Unlock()
}

// PublishComplete emits the terminal completion event; the caller
// (the SSE handler) closes the connection immediately after.
func (h *Hub) PublishComplete(prURL string) {
	h.mu.Lock()
	h.broadcastLocked(WireEvent{Type: EventTypeComplete, Data: map[string]any{"pr_url": prURL}})
	h.mu.Unlock()
}

// PublishError emits the terminal error event; the caller closes the
// connection immediately after.
func (h *Hub) PublishError(message string) {
	h.mu.Lock()
	h.broadcastLocked(WireEvent{Type: EventTypeError, Data: map[string]any{"error": message}})
	h.mu.Unlock()
}

// broadcastLocked must be called with h.mu held. Delivery is
// non-blocking per subscriber: a full channel drops its oldest queued
// event rather than stall the publisher, matching the ring-buffer
// semantics of the historical buffers above — the event itself is
// never lost from history, only from a slow subscriber's live feed.
func (h *Hub) broadcastLocked(ev WireEvent) {
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// DroppedLogCount reports how many log lines have fallen out of the
// bounded ring buffer over this hub's lifetime.
func (h *Hub) DroppedLogCount() int64 {
	return atomic.LoadInt64(&h.droppedLogs)
}

// Manager owns one Hub per task, created lazily and kept for the
// server's process lifetime (subscriptions, like all in-memory state,
// do not survive a restart — §1 Non-goals).
type Manager struct {
	mu   sync.Mutex
	hubs map[core.TaskID]*Hub
}

// NewManager creates an empty Hub manager.
func NewManager() *Manager {
	return &Manager{hubs: make(map[core.TaskID]*Hub)}
}

// Get returns the Hub for taskID, creating it on first use.
func (m *Manager) Get(taskID core.TaskID) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hubs[taskID]
	if !ok {
		h = NewHub(taskID, DefaultLogBufferCapacity)
		m.hubs[taskID] = h
	}
	return h
}

// Remove drops a task's hub, closing any live subscribers.
func (m *Manager) Remove(taskID core.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.hubs[taskID]; ok {
		h.mu.Lock()
		for id, sub := range h.subs {
			delete(h.subs, id)
			close(sub.ch)
		}
		h.mu.Unlock()
		delete(m.hubs, taskID)
	}
}
