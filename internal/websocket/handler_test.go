package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiprono234/chat-verse/internal/blob"
	"github.com/kiprono234/chat-verse/internal/metrics"
	"github.com/kiprono234/chat-verse/internal/models"
	"github.com/kiprono234/chat-verse/internal/presence"
	"github.com/kiprono234/chat-verse/internal/services"
	"github.com/kiprono234/chat-verse/internal/session"
	"github.com/kiprono234/chat-verse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatServer(t *testing.T) (*httptest.Server, *presence.Registry) {
	t.Helper()
	m := metrics.New()
	hub := NewHub(64, m, nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	blobs, err := blob.NewLocalStore(t.TempDir(), "http://files.test", nil)
	require.NoError(t, err)

	registry := presence.NewRegistry()
	svc := services.NewMessageService(store.NewMemoryStore(), blobs, hub, 1<<20, m, nil)
	h := NewHandler(session.Deps{Hub: hub, Presence: registry, Messages: svc, Metrics: m}, 1<<20, nil)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, typ models.EventType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.WebSocketMessage{Type: typ, Payload: raw}))
}

// readUntil reads frames until one of type typ arrives and returns it with
// the types of the frames skipped on the way.
func readUntil(t *testing.T, conn *websocket.Conn, typ models.EventType) (models.WebSocketMessage, []models.EventType) {
	t.Helper()
	var skipped []models.EventType
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg models.WebSocketMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg, skipped
		}
		skipped = append(skipped, msg.Type)
	}
}

func readPresence(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	msg, _ := readUntil(t, conn, models.EventPresenceChanged)
	var entries []models.PresenceEntry
	require.NoError(t, json.Unmarshal(msg.Payload, &entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Identity)
	}
	return ids
}

func readMessage(t *testing.T, conn *websocket.Conn) (models.ChatMessage, []models.EventType) {
	t.Helper()
	msg, skipped := readUntil(t, conn, models.EventMessageCreated)
	var m models.ChatMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &m))
	return m, skipped
}

// join connects, consumes the connect frames and announces identity.
func join(t *testing.T, srv *httptest.Server, identity, name string, present []string) *websocket.Conn {
	t.Helper()
	conn := dial(t, srv)

	history, _ := readUntil(t, conn, models.EventHistory)
	assert.NotEmpty(t, history.Payload)
	assert.Equal(t, present, readPresence(t, conn))

	write(t, conn, models.EventAnnounce, models.AnnouncePayload{Identity: identity, DisplayName: name})
	assert.Equal(t, append(append([]string{}, present...), identity), readPresence(t, conn))
	return conn
}

func TestJoinAndLeave(t *testing.T) {
	srv, registry := newChatServer(t)

	alice := join(t, srv, "alice", "Alice", []string{})
	bob := join(t, srv, "bob", "Bob", []string{"alice"})
	assert.Equal(t, []string{"alice", "bob"}, readPresence(t, alice))

	require.NoError(t, alice.Close())
	assert.Equal(t, []string{"bob"}, readPresence(t, bob))
	assert.Equal(t, 1, registry.Len())
}

func TestPresenceFrameIsEntryArray(t *testing.T) {
	srv, _ := newChatServer(t)
	join(t, srv, "alice@example.com", "Alice", []string{})
	bob := dial(t, srv)

	msg, skipped := readUntil(t, bob, models.EventPresenceChanged)
	assert.Equal(t, []models.EventType{models.EventHistory}, skipped)
	assert.True(t, strings.HasPrefix(string(msg.Payload), "["), string(msg.Payload))

	var entries []models.PresenceEntry
	require.NoError(t, json.Unmarshal(msg.Payload, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "alice@example.com", entries[0].Identity)
	assert.Equal(t, "Alice", entries[0].DisplayName)
	assert.NotEmpty(t, entries[0].ConnectionID)
	assert.False(t, entries[0].JoinedAt.IsZero())
}

func TestTextMessageReachesEveryone(t *testing.T) {
	srv, _ := newChatServer(t)
	alice := join(t, srv, "alice", "Alice", []string{})
	bob := join(t, srv, "bob", "Bob", []string{"alice"})

	write(t, alice, models.EventSendMessage, models.SendMessagePayload{Text: "hi"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		m, _ := readMessage(t, conn)
		assert.Equal(t, "hi", m.Text)
		assert.Equal(t, "Alice", m.Sender)
		assert.Equal(t, "alice", m.SenderID)
		assert.Nil(t, m.FileRef)
		assert.Nil(t, m.FileType)
	}

	// A late joiner gets it in history
	carol := dial(t, srv)
	msg, _ := readUntil(t, carol, models.EventHistory)
	var history []models.ChatMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Text)
}

func TestFileMessage(t *testing.T) {
	srv, _ := newChatServer(t)
	alice := join(t, srv, "alice", "Alice", []string{})

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	write(t, alice, models.EventSendMessage, models.SendMessagePayload{FileBytes: png, FileName: "cat.png"})

	m, _ := readMessage(t, alice)
	require.NotNil(t, m.FileRef)
	assert.True(t, strings.HasPrefix(*m.FileRef, "http://files.test/uploads/"))
	require.NotNil(t, m.FileType)
	assert.Equal(t, "image/png", *m.FileType)
}

func TestTypingNotEchoedToSender(t *testing.T) {
	srv, _ := newChatServer(t)
	alice := join(t, srv, "alice", "Alice", []string{})
	bob := join(t, srv, "bob", "Bob", []string{"alice"})

	write(t, bob, models.EventTyping, models.TypingPayload{IsTyping: true})
	msg, _ := readUntil(t, alice, models.EventTyping)
	var sig models.TypingSignal
	require.NoError(t, json.Unmarshal(msg.Payload, &sig))
	assert.Equal(t, models.TypingSignal{Identity: "bob", DisplayName: "Bob", IsTyping: true}, sig)

	write(t, bob, models.EventSendMessage, models.SendMessagePayload{Text: "done typing"})
	_, skipped := readMessage(t, bob)
	assert.NotContains(t, skipped, models.EventTyping)
}

func TestErrorFrameEchoesRef(t *testing.T) {
	srv, _ := newChatServer(t)
	conn := dial(t, srv)

	raw, _ := json.Marshal(models.SendMessagePayload{Text: "too early"})
	require.NoError(t, conn.WriteJSON(models.WebSocketMessage{Type: models.EventSendMessage, Payload: raw, Ref: "abc"}))

	msg, _ := readUntil(t, conn, models.EventError)
	assert.Equal(t, "abc", msg.Ref)
	var p models.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "validation_error", p.Code)
}

func TestLogoutClosesConnection(t *testing.T) {
	srv, registry := newChatServer(t)
	alice := join(t, srv, "alice", "Alice", []string{})

	write(t, alice, models.EventLogout, struct{}{})

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool { return registry.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

// gatedBlobs holds every upload until release is closed.
type gatedBlobs struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedBlobs) Put(ctx context.Context, name string, data []byte) (blob.Object, error) {
	close(g.started)
	<-g.release
	return blob.Object{Ref: "http://files.test/uploads/" + name, ContentType: blob.DetectContentType(name, data), Size: int64(len(data))}, nil
}

func TestDrainWaitsForAcceptedSend(t *testing.T) {
	m := metrics.New()
	hub := NewHub(64, m, nil)
	go hub.Run()

	blobs := &gatedBlobs{started: make(chan struct{}), release: make(chan struct{})}
	st := store.NewMemoryStore()
	svc := services.NewMessageService(st, blobs, hub, 1<<20, m, nil)
	h := NewHandler(session.Deps{Hub: hub, Presence: presence.NewRegistry(), Messages: svc, Metrics: m}, 1<<20, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	alice := join(t, srv, "alice", "Alice", []string{})
	write(t, alice, models.EventSendMessage, models.SendMessagePayload{Text: "caption", FileBytes: []byte("hello"), FileName: "a.txt"})

	select {
	case <-blobs.started:
	case <-time.After(3 * time.Second):
		t.Fatal("upload never started")
	}

	hub.Stop()
	drained := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		drained <- h.Drain(ctx)
	}()

	select {
	case err := <-drained:
		t.Fatalf("drain returned while a send was in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(blobs.release)
	select {
	case err := <-drained:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not finish")
	}

	all, err := st.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "caption", all[0].Text)
	require.NoError(t, st.Close())

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	assert.Error(t, err, "new connections are refused once draining")
}

func TestDrainTimesOut(t *testing.T) {
	srvHub := NewHub(8, metrics.New(), nil)
	go srvHub.Run()
	t.Cleanup(srvHub.Stop)

	h := NewHandler(session.Deps{Hub: srvHub, Presence: presence.NewRegistry(), Messages: services.NewMessageService(store.NewMemoryStore(), &gatedBlobs{}, srvHub, 1<<20, nil, nil)}, 1<<20, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	dial(t, srv)

	// The hub is still running, so the connection stays open
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Drain(ctx), context.DeadlineExceeded)
}
