package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kiprono234/chat-verse/internal/auth"
	"github.com/kiprono234/chat-verse/internal/metrics"
	"github.com/kiprono234/chat-verse/internal/models"
	"github.com/kiprono234/chat-verse/internal/presence"
	"github.com/kiprono234/chat-verse/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	mu           sync.Mutex
	published    []models.Event
	sent         map[string][]models.Event
	unsubscribed []string
	syncs        map[string]func() []models.Event
}

func newFakeHub() *fakeHub {
	return &fakeHub{sent: map[string][]models.Event{}, syncs: map[string]func() []models.Event{}}
}

func (h *fakeHub) Subscribe(connID string, sync func() []models.Event) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syncs[connID] = sync
	return make(chan []byte)
}

func (h *fakeHub) Unsubscribe(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribed = append(h.unsubscribed, connID)
}

func (h *fakeHub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, ev)
}

func (h *fakeHub) Send(connID string, ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent[connID] = append(h.sent[connID], ev)
}

func (h *fakeHub) Published() []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Event(nil), h.published...)
}

func (h *fakeHub) Sent(connID string) []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Event(nil), h.sent[connID]...)
}

type fakeMessages struct {
	mu      sync.Mutex
	inputs  []services.SendInput
	history []models.ChatMessage
	err     error
}

func (m *fakeMessages) Send(ctx context.Context, in services.SendInput) (models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.ChatMessage{}, m.err
	}
	m.inputs = append(m.inputs, in)
	return models.ChatMessage{ID: uint64(len(m.inputs)), Sender: in.Sender, Text: in.Text}, nil
}

func (m *fakeMessages) History(ctx context.Context) ([]models.ChatMessage, error) {
	return m.history, nil
}

type fixture struct {
	hub      *fakeHub
	registry *presence.Registry
	messages *fakeMessages
	deps     Deps
}

func newFixture() *fixture {
	f := &fixture{
		hub:      newFakeHub(),
		registry: presence.NewRegistry(),
		messages: &fakeMessages{},
	}
	f.deps = Deps{Hub: f.hub, Presence: f.registry, Messages: f.messages, Metrics: metrics.New()}
	return f
}

func frame(t *testing.T, typ models.EventType, payload any, ref string) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(models.WebSocketMessage{Type: typ, Payload: raw, Ref: ref})
	require.NoError(t, err)
	return b
}

func announce(t *testing.T, s *Session, identity, name string) {
	t.Helper()
	s.HandleFrame(context.Background(), frame(t, models.EventAnnounce, models.AnnouncePayload{Identity: identity, DisplayName: name}, ""))
}

func errorCode(t *testing.T, ev models.Event) string {
	t.Helper()
	require.Equal(t, models.EventError, ev.Type)
	return ev.Payload.(models.ErrorPayload).Code
}

func TestOpenSyncsHistoryThenPresence(t *testing.T) {
	f := newFixture()
	f.messages.history = []models.ChatMessage{{ID: 1, Sender: "a", Text: "x"}}
	f.registry.Announce("other", "bob", "Bob", "")

	s := New("c1", f.deps)
	s.Open(context.Background())

	frames := f.hub.syncs["c1"]()
	require.Len(t, frames, 2)
	assert.Equal(t, models.EventHistory, frames[0].Type)
	assert.Equal(t, f.messages.history, frames[0].Payload)
	assert.Equal(t, models.EventPresenceChanged, frames[1].Type)
	assert.Equal(t, []string{"bob"}, frames[1].Payload.(models.PresenceSnapshot).Identities())
	assert.Equal(t, Connecting, s.State())
}

func TestAnnounceTransitionsAndPublishes(t *testing.T) {
	f := newFixture()
	s := New("c1", f.deps)

	announce(t, s, "alice@example.com", "Alice")
	assert.Equal(t, Announced, s.State())
	assert.Equal(t, "alice@example.com", s.Identity())

	pub := f.hub.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, models.EventPresenceChanged, pub[0].Type)
	assert.Equal(t, []string{"alice@example.com"}, pub[0].Payload.(models.PresenceSnapshot).Identities())

	s.HandleFrame(context.Background(), frame(t, models.EventTyping, models.TypingPayload{IsTyping: true}, ""))
	assert.Equal(t, Active, s.State())

	announce(t, s, "alice@example.com", "Alice Renamed")
	assert.Equal(t, Active, s.State())
	snap := f.registry.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "Alice Renamed", snap.Entries[0].DisplayName)
}

func TestAnnounceRequiresIdentity(t *testing.T) {
	f := newFixture()
	s := New("c1", f.deps)

	s.HandleFrame(context.Background(), frame(t, models.EventAnnounce, models.AnnouncePayload{}, "r1"))

	sent := f.hub.Sent("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "validation_error", errorCode(t, sent[0]))
	assert.Equal(t, "r1", sent[0].Ref)
	assert.Equal(t, Connecting, s.State())
	assert.Zero(t, f.registry.Len())
}

func TestAnnounceWithJWT(t *testing.T) {
	f := newFixture()
	jwtAuth := auth.NewJWT("k", "test")
	f.deps.Auth = jwtAuth
	s := New("c1", f.deps)

	token, err := jwtAuth.Issue(auth.Identity{Subject: "alice@example.com", DisplayName: "Alice"}, time.Hour)
	require.NoError(t, err)

	s.HandleFrame(context.Background(), frame(t, models.EventAnnounce,
		models.AnnouncePayload{Identity: "mallory", DisplayName: "ignored", Token: token}, ""))
	assert.Equal(t, "alice@example.com", s.Identity())
	assert.Equal(t, "Alice", f.registry.Snapshot().Entries[0].DisplayName)

	other := New("c2", f.deps)
	other.HandleFrame(context.Background(), frame(t, models.EventAnnounce, models.AnnouncePayload{Identity: "mallory"}, ""))
	sent := f.hub.Sent("c2")
	require.Len(t, sent, 1)
	assert.Equal(t, "unauthorized", errorCode(t, sent[0]))
	assert.Equal(t, Connecting, other.State())
}

func TestSendRequiresAnnounce(t *testing.T) {
	f := newFixture()
	s := New("c1", f.deps)

	s.HandleFrame(context.Background(), frame(t, models.EventSendMessage, models.SendMessagePayload{Text: "hi"}, "m1"))
	s.HandleFrame(context.Background(), frame(t, models.EventTyping, models.TypingPayload{IsTyping: true}, "t1"))

	sent := f.hub.Sent("c1")
	require.Len(t, sent, 2)
	assert.Equal(t, "validation_error", errorCode(t, sent[0]))
	assert.Equal(t, "m1", sent[0].Ref)
	assert.Empty(t, f.messages.inputs)
	assert.Empty(t, f.hub.Published())
}

func TestSendMessageUsesAnnouncedProfile(t *testing.T) {
	f := newFixture()
	s := New("c1", f.deps)
	s.HandleFrame(context.Background(), frame(t, models.EventAnnounce,
		models.AnnouncePayload{Identity: "alice", DisplayName: "Alice", AvatarRef: "av"}, ""))

	s.HandleFrame(context.Background(), frame(t, models.EventSendMessage,
		models.SendMessagePayload{Text: "hello", FileBytes: []byte("img"), FileName: "a.png"}, ""))

	require.Len(t, f.messages.inputs, 1)
	in := f.messages.inputs[0]
	assert.Equal(t, "Alice", in.Sender)
	assert.Equal(t, "alice", in.SenderID)
	assert.Equal(t, "av", in.AvatarRef)
	assert.Equal(t, "hello", in.Text)
	assert.Equal(t, []byte("img"), in.FileBytes)
	assert.Equal(t, "ws", in.Origin)
	assert.Equal(t, Active, s.State())
	assert.Empty(t, f.hub.Sent("c1"))
}

func TestFailedSendReportsToSenderOnly(t *testing.T) {
	f := newFixture()
	f.messages.err = models.NewError(models.CodeAttachment, "attachment upload failed")
	s := New("c1", f.deps)
	announce(t, s, "alice", "Alice")
	before := len(f.hub.Published())

	s.HandleFrame(context.Background(), frame(t, models.EventSendMessage,
		models.SendMessagePayload{FileBytes: []byte("x"), FileName: "x.bin"}, "up-1"))

	sent := f.hub.Sent("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "attachment_error", errorCode(t, sent[0]))
	assert.Equal(t, "up-1", sent[0].Ref)
	assert.Len(t, f.hub.Published(), before)
}

func TestTypingCarriesOrigin(t *testing.T) {
	f := newFixture()
	s := New("c1", f.deps)
	announce(t, s, "alice", "Alice")

	s.HandleFrame(context.Background(), frame(t, models.EventTyping, models.TypingPayload{IsTyping: true}, ""))

	pub := f.hub.Published()
	last := pub[len(pub)-1]
	assert.Equal(t, models.EventTyping, last.Type)
	assert.Equal(t, "c1", last.Origin)
	assert.Equal(t, models.TypingSignal{Identity: "alice", DisplayName: "Alice", IsTyping: true}, last.Payload)
}

func TestLogoutClosesAndPublishesPresence(t *testing.T) {
	f := newFixture()
	s := New("c1", f.deps)
	announce(t, s, "alice", "Alice")

	s.HandleFrame(context.Background(), frame(t, models.EventLogout, struct{}{}, ""))
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, []string{"c1"}, f.hub.unsubscribed)
	assert.Zero(t, f.registry.Len())

	pub := f.hub.Published()
	require.Len(t, pub, 2)
	assert.Empty(t, pub[1].Payload.(models.PresenceSnapshot).Entries)

	s.Close()
	s.HandleFrame(context.Background(), frame(t, models.EventTyping, models.TypingPayload{}, ""))
	assert.Len(t, f.hub.Published(), 2, "close is idempotent and closed sessions ignore events")
	assert.Len(t, f.hub.unsubscribed, 1)
}

func TestStaleCloseAfterReconnect(t *testing.T) {
	f := newFixture()
	old := New("c1", f.deps)
	announce(t, old, "alice", "Alice")
	fresh := New("c2", f.deps)
	announce(t, fresh, "alice", "Alice")
	before := len(f.hub.Published())

	old.Close()

	assert.Len(t, f.hub.Published(), before, "no presence change published")
	snap := f.registry.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "c2", snap.Entries[0].ConnectionID)
	assert.Equal(t, Announced, fresh.State())
}

func TestCloseBeforeAnnounce(t *testing.T) {
	f := newFixture()
	s := New("c1", f.deps)
	s.Close()
	assert.Equal(t, Closed, s.State())
	assert.Empty(t, f.hub.Published())
}

func TestRateLimit(t *testing.T) {
	f := newFixture()
	f.deps.RateLimit = 0.001
	f.deps.RateBurst = 2
	s := New("c1", f.deps)

	announce(t, s, "alice", "Alice")
	s.HandleFrame(context.Background(), frame(t, models.EventTyping, models.TypingPayload{IsTyping: true}, ""))
	s.HandleFrame(context.Background(), frame(t, models.EventTyping, models.TypingPayload{IsTyping: false}, "t3"))

	sent := f.hub.Sent("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "rate_limited", errorCode(t, sent[0]))
	assert.Equal(t, "t3", sent[0].Ref)
}

func TestProtocolErrors(t *testing.T) {
	f := newFixture()
	s := New("c1", f.deps)

	s.HandleFrame(context.Background(), []byte("{not json"))
	s.HandleFrame(context.Background(), []byte(`{"type":"dance","ref":"d"}`))
	s.HandleFrame(context.Background(), []byte(`{"type":"announce","payload":"nope"}`))

	sent := f.hub.Sent("c1")
	require.Len(t, sent, 3)
	for _, ev := range sent {
		assert.Equal(t, "protocol_error", errorCode(t, ev))
	}
	assert.Equal(t, "d", sent[1].Ref)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "closed", Closed.String())
}
