package websocket

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kiprono234/chat-verse/internal/metrics"
	"github.com/kiprono234/chat-verse/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, buffer int) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	h := NewHub(buffer, m, nil)
	go h.Run()
	t.Cleanup(h.Stop)
	return h, m
}

func recv(t *testing.T, ch <-chan []byte) models.WebSocketMessage {
	t.Helper()
	select {
	case b, ok := <-ch:
		require.True(t, ok, "queue closed")
		var msg models.WebSocketMessage
		require.NoError(t, json.Unmarshal(b, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return models.WebSocketMessage{}
	}
}

func expectClosed(t *testing.T, ch <-chan []byte) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("queue was not closed")
		}
	}
}

func textEvent(text string) models.Event {
	return models.Event{Type: models.EventMessageCreated, Payload: models.ChatMessage{Sender: "a", Text: text}}
}

func TestPublishOrderIsFIFO(t *testing.T) {
	h, _ := startHub(t, 256)
	ch := h.Subscribe("c1", nil)

	for i := 0; i < 100; i++ {
		h.Publish(textEvent(fmt.Sprint(i)))
	}
	for i := 0; i < 100; i++ {
		msg := recv(t, ch)
		var m models.ChatMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &m))
		assert.Equal(t, fmt.Sprint(i), m.Text)
	}
}

func TestSyncPrecedesLiveEvents(t *testing.T) {
	h, _ := startHub(t, 16)
	ch := h.Subscribe("c1", func() []models.Event {
		return []models.Event{{Type: models.EventHistory, Payload: []models.ChatMessage{}}}
	})
	h.Publish(textEvent("live"))

	assert.Equal(t, models.EventHistory, recv(t, ch).Type)
	assert.Equal(t, models.EventMessageCreated, recv(t, ch).Type)
}

func TestTypingSkipsOrigin(t *testing.T) {
	h, _ := startHub(t, 16)
	a := h.Subscribe("a", nil)
	b := h.Subscribe("b", nil)

	h.Publish(models.Event{Type: models.EventTyping, Payload: models.TypingSignal{Identity: "alice", IsTyping: true}, Origin: "a"})
	h.Publish(textEvent("after"))

	assert.Equal(t, models.EventTyping, recv(t, b).Type)
	assert.Equal(t, models.EventMessageCreated, recv(t, b).Type)
	assert.Equal(t, models.EventMessageCreated, recv(t, a).Type, "origin never sees its own typing event")
}

func TestSlowConsumerEvicted(t *testing.T) {
	h, m := startHub(t, 3)
	slow := h.Subscribe("slow", nil)
	fast := h.Subscribe("fast", nil)

	for i := 0; i < 3; i++ {
		h.Publish(textEvent(fmt.Sprint(i)))
	}
	for i := 0; i < 3; i++ {
		recv(t, fast)
	}

	h.Publish(textEvent("overflow"))
	msg := recv(t, fast)
	var got models.ChatMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, "overflow", got.Text)

	expectClosed(t, slow)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlowConsumers))
}

func TestStalePresenceDropped(t *testing.T) {
	h, m := startHub(t, 16)
	ch := h.Subscribe("c1", nil)

	newer := models.PresenceSnapshot{Version: 2, Entries: []models.PresenceEntry{{Identity: "alice"}, {Identity: "bob"}}}
	older := models.PresenceSnapshot{Version: 1, Entries: []models.PresenceEntry{{Identity: "alice"}}}
	h.Publish(models.Event{Type: models.EventPresenceChanged, Payload: newer})
	h.Publish(models.Event{Type: models.EventPresenceChanged, Payload: older})
	h.Publish(textEvent("marker"))

	first := recv(t, ch)
	require.Equal(t, models.EventPresenceChanged, first.Type)
	var entries []models.PresenceEntry
	require.NoError(t, json.Unmarshal(first.Payload, &entries))
	assert.Len(t, entries, 2)

	assert.Equal(t, models.EventMessageCreated, recv(t, ch).Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleSnapshots))
}

func TestSendIsUnicast(t *testing.T) {
	h, _ := startHub(t, 16)
	a := h.Subscribe("a", nil)
	b := h.Subscribe("b", nil)

	h.Send("a", models.ErrorEvent(models.NewError(models.CodeValidation, "nope"), "r1"))
	h.Send("gone", textEvent("dropped"))
	h.Publish(textEvent("all"))

	msg := recv(t, a)
	assert.Equal(t, models.EventError, msg.Type)
	assert.Equal(t, "r1", msg.Ref)
	assert.Equal(t, models.EventMessageCreated, recv(t, a).Type)
	assert.Equal(t, models.EventMessageCreated, recv(t, b).Type)
}

func TestUnsubscribeAndStop(t *testing.T) {
	m := metrics.New()
	h := NewHub(4, m, nil)
	go h.Run()

	a := h.Subscribe("a", nil)
	b := h.Subscribe("b", nil)
	h.Unsubscribe("a")
	h.Unsubscribe("a")
	expectClosed(t, a)

	h.Stop()
	expectClosed(t, b)
	assert.Zero(t, h.Len())

	h.Stop()
	h.Publish(textEvent("after stop"))
	expectClosed(t, h.Subscribe("late", nil))
}
