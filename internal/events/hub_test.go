package events_test

import (
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/testutil"
)

func TestHub_SubscribeReplaysHistoryBeforeLive(t *testing.T) {
	h := events.NewHub(core.TaskID("task-1"), 10)
	h.PublishLog(core.NewLogEntry(core.LogLevelInfo, "first"))
	h.PublishChat(core.NewChatMessage(core.ChatRoleUser, "hello"))

	ch, snap, cancel := h.Subscribe(8)
	defer cancel()

	testutil.AssertLen(t, snap.Logs, 1)
	testutil.AssertLen(t, snap.Chats, 1)
	testutil.AssertEqual(t, snap.Logs[0].Message, "first")

	h.PublishLog(core.NewLogEntry(core.LogLevelInfo, "second"))
	select {
	case ev := <-ch:
		testutil.AssertEqual(t, ev.Type, events.EventTypeLog)
		testutil.AssertEqual(t, ev.Data["message"].(string), "second")
	case <-time.After(time.Second):
		t.Fatal("expected a live event after the snapshot")
	}
}

func TestHub_PublishChatMapsToolActivityAndMessage(t *testing.T) {
	h := events.NewHub(core.TaskID("task-2"), 10)
	ch, _, cancel := h.Subscribe(8)
	defer cancel()

	h.PublishChat(core.NewToolActivity("bash", "ran tests"))
	ev := <-ch
	testutil.AssertEqual(t, ev.Type, events.EventTypeToolActivity)
	testutil.AssertEqual(t, ev.Data["tool_name"].(string), "bash")
	testutil.AssertEqual(t, ev.Data["summary"].(string), "ran tests")

	h.PublishChat(core.NewChatMessage(core.ChatRoleAssistant, "done"))
	ev2 := <-ch
	testutil.AssertEqual(t, ev2.Type, events.EventTypeChatMessage)
	testutil.AssertEqual(t, ev2.Data["role"].(core.ChatRole), core.ChatRoleAssistant)
}

func TestHub_LogBufferIsBoundedAndDropsOldest(t *testing.T) {
	h := events.NewHub(core.TaskID("task-3"), 2)
	h.PublishLog(core.NewLogEntry(core.LogLevelInfo, "one"))
	h.PublishLog(core.NewLogEntry(core.LogLevelInfo, "two"))
	h.PublishLog(core.NewLogEntry(core.LogLevelInfo, "three"))

	_, snap, cancel := h.Subscribe(8)
	defer cancel()
	testutil.AssertLen(t, snap.Logs, 2)
	testutil.AssertEqual(t, snap.Logs[0].Message, "two")
	testutil.AssertEqual(t, snap.Logs[1].Message, "three")
	testutil.AssertEqual(t, h.DroppedLogCount(), int64(1))
}

func TestHub_BroadcastDropsOldestOnFullSubscriberChannel(t *testing.T) {
	h := events.NewHub(core.TaskID("task-4"), 100)
	ch, _, cancel := h.Subscribe(1)
	defer cancel()

	// Fill the subscriber's buffer then publish one more: the slow
	// subscriber should see the newest event, not stall the publisher.
	h.PublishStatus(core.StatusApproved)
	h.PublishStatus(core.StatusCoding)

	ev := <-ch
	testutil.AssertEqual(t, ev.Data["status"].(core.Status), core.StatusCoding)
}

func TestHub_CancelClosesSubscriberChannel(t *testing.T) {
	h := events.NewHub(core.TaskID("task-5"), 10)
	ch, _, cancel := h.Subscribe(8)
	cancel()

	_, ok := <-ch
	testutil.AssertFalse(t, ok, "expected the channel to be closed after cancel")
}

func TestManager_GetIsLazyAndStable(t *testing.T) {
	m := events.NewManager()
	h1 := m.Get(core.TaskID("task-6"))
	h2 := m.Get(core.TaskID("task-6"))
	testutil.AssertTrue(t, h1 == h2, "expected the same hub instance on repeated Get")
}

func TestManager_RemoveClosesLiveSubscribers(t *testing.T) {
	m := events.NewManager()
	h := m.Get(core.TaskID("task-7"))
	ch, _, _ := h.Subscribe(8)

	m.Remove(core.TaskID("task-7"))

	_, ok := <-ch
	testutil.AssertFalse(t, ok, "expected Remove to close live subscriber channels")
}
