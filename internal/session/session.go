// Package session runs the per-connection state machine that binds
// inbound websocket frames to the presence registry, the message
// service and the hub.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kiprono234/chat-verse/internal/auth"
	"github.com/kiprono234/chat-verse/internal/metrics"
	"github.com/kiprono234/chat-verse/internal/models"
	"github.com/kiprono234/chat-verse/internal/services"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the lifecycle position of a session.
type State int

const (
	// Connecting: subscribed, history sent, no identity yet
	Connecting State = iota
	// Announced: identity registered in presence
	Announced
	// Active: announced and has sent at least one further event
	Active
	// Closed: torn down; every later event is ignored
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Announced:
		return "announced"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Hub is the fan-out the session subscribes to and publishes on.
type Hub interface {
	Subscribe(connID string, sync func() []models.Event) <-chan []byte
	Unsubscribe(connID string)
	Publish(ev models.Event)
	Send(connID string, ev models.Event)
}

// Presence is the registry of announced identities.
type Presence interface {
	Announce(connectionID, identity, displayName, avatarRef string) models.PresenceSnapshot
	Remove(connectionID string) (models.PresenceSnapshot, bool)
	Snapshot() models.PresenceSnapshot
	Len() int
}

// Messages creates messages and serves history.
type Messages interface {
	Send(ctx context.Context, in services.SendInput) (models.ChatMessage, error)
	History(ctx context.Context) ([]models.ChatMessage, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Hub      Hub
	Presence Presence
	Messages Messages

	// Auth validates announce tokens; nil trusts the announce payload
	Auth auth.Authenticator

	// RateLimit and RateBurst bound inbound events per connection; zero disables limiting
	RateLimit float64
	RateBurst int

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Session is the state machine for one websocket connection.
// HandleFrame is called from the connection's read goroutine only; Close
// may be called from anywhere and is idempotent.
type Session struct {
	id   string
	deps Deps

	limiter *rate.Limiter
	log     *zap.Logger

	mu          sync.Mutex
	state       State
	identity    string
	displayName string
	avatarRef   string

	closeOnce sync.Once
}

// New creates a session for connection id in state Connecting.
func New(id string, deps Deps) *Session {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		id:   id,
		deps: deps,
		log:  log.With(zap.String("conn", id)),
	}
	if deps.RateLimit > 0 {
		burst := deps.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(deps.RateLimit), burst)
	}
	return s
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the announced identity, empty before announce.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Open subscribes the connection to the hub. The history snapshot and the
// current presence list are the first frames on the returned queue.
func (s *Session) Open(ctx context.Context) <-chan []byte {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Connections.Inc()
	}
	s.log.Debug("session_opened")
	return s.deps.Hub.Subscribe(s.id, func() []models.Event {
		return s.syncFrames(ctx)
	})
}

func (s *Session) syncFrames(ctx context.Context) []models.Event {
	history, err := s.deps.Messages.History(context.WithoutCancel(ctx))
	if err != nil {
		s.log.Error("history_failed", zap.Error(err))
		return []models.Event{models.ErrorEvent(err, "")}
	}
	if history == nil {
		history = []models.ChatMessage{}
	}
	return []models.Event{
		{Type: models.EventHistory, Payload: history},
		{Type: models.EventPresenceChanged, Payload: s.deps.Presence.Snapshot()},
	}
}

// HandleFrame decodes and dispatches one inbound frame.
func (s *Session) HandleFrame(ctx context.Context, data []byte) {
	if s.State() == Closed {
		return
	}

	var msg models.WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(models.WrapError(models.CodeProtocol, "malformed frame", err), "")
		return
	}
	s.Handle(ctx, msg)
}

// Handle dispatches one decoded event.
func (s *Session) Handle(ctx context.Context, msg models.WebSocketMessage) {
	if s.State() == Closed {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RateLimited.Inc()
		}
		s.sendError(models.NewError(models.CodeRateLimited, "too many events, slow down"), msg.Ref)
		return
	}

	var err error
	switch msg.Type {
	case models.EventAnnounce:
		err = s.handleAnnounce(ctx, msg.Payload)
	case models.EventSendMessage:
		err = s.handleSendMessage(ctx, msg.Payload)
	case models.EventTyping:
		err = s.handleTyping(msg.Payload)
	case models.EventLogout:
		s.log.Debug("logout")
		s.Close()
		return
	default:
		err = models.NewError(models.CodeProtocol, fmt.Sprintf("unknown event type %q", msg.Type))
	}

	if err != nil {
		s.sendError(err, msg.Ref)
	}
}

func (s *Session) handleAnnounce(ctx context.Context, raw json.RawMessage) error {
	var p models.AnnouncePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	identity, displayName, avatarRef := p.Identity, p.DisplayName, p.AvatarRef
	if s.deps.Auth != nil {
		id, err := s.deps.Auth.Authenticate(ctx, p.Token)
		if err != nil {
			return err
		}
		identity = id.Subject
		if id.DisplayName != "" {
			displayName = id.DisplayName
		}
		if id.AvatarRef != "" {
			avatarRef = id.AvatarRef
		}
	}
	if identity == "" {
		return models.NewError(models.CodeValidation, "identity is required")
	}
	if displayName == "" {
		displayName = identity
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.identity, s.displayName, s.avatarRef = identity, displayName, avatarRef
	if s.state == Connecting {
		s.state = Announced
	} else {
		s.state = Active
	}
	// Registry and publish stay under the session lock so a concurrent Close
	// cannot remove the entry before it is added.
	snap := s.deps.Presence.Announce(s.id, identity, displayName, avatarRef)
	s.deps.Hub.Publish(models.Event{Type: models.EventPresenceChanged, Payload: snap})
	s.mu.Unlock()

	s.log.Info("announced", zap.String("identity", identity), zap.Int("present", len(snap.Entries)))
	return nil
}

func (s *Session) handleSendMessage(ctx context.Context, raw json.RawMessage) error {
	var p models.SendMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	identity, displayName, avatarRef, err := s.activate()
	if err != nil {
		return err
	}

	_, err = s.deps.Messages.Send(ctx, services.SendInput{
		Sender:    displayName,
		SenderID:  identity,
		AvatarRef: avatarRef,
		Text:      p.Text,
		FileBytes: p.FileBytes,
		FileName:  p.FileName,
		Origin:    "ws",
	})
	return err
}

func (s *Session) handleTyping(raw json.RawMessage) error {
	var p models.TypingPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	identity, displayName, _, err := s.activate()
	if err != nil {
		return err
	}

	s.deps.Hub.Publish(models.Event{
		Type:    models.EventTyping,
		Payload: models.TypingSignal{Identity: identity, DisplayName: displayName, IsTyping: p.IsTyping},
		Origin:  s.id,
	})
	return nil
}

// activate moves an announced session to Active and returns its profile.
func (s *Session) activate() (identity, displayName, avatarRef string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Connecting:
		return "", "", "", models.NewError(models.CodeValidation, "announce before sending events")
	case Closed:
		return "", "", "", models.NewError(models.CodeProtocol, "session closed")
	}
	s.state = Active
	return s.identity, s.displayName, s.avatarRef, nil
}

// Close tears the session down: unsubscribe from the hub, drop the
// presence entry if this connection still owns it and publish the new
// presence list if anything changed. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closed
		s.deps.Hub.Unsubscribe(s.id)
		snap, removed := s.deps.Presence.Remove(s.id)
		if removed {
			s.deps.Hub.Publish(models.Event{Type: models.EventPresenceChanged, Payload: snap})
		}
		s.mu.Unlock()

		if s.deps.Metrics != nil {
			s.deps.Metrics.Connections.Dec()
		}
		s.log.Debug("session_closed", zap.Bool("presence_removed", removed))
	})
}

func (s *Session) sendError(err error, ref string) {
	code := models.CodeOf(err)
	if code == models.CodeInternal {
		s.log.Error("event_failed", zap.Error(err))
	} else {
		s.log.Debug("event_rejected", zap.String("code", code.String()), zap.Error(err))
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionErrors.WithLabelValues(code.String()).Inc()
	}
	s.deps.Hub.Send(s.id, models.ErrorEvent(err, ref))
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return models.WrapError(models.CodeProtocol, "malformed payload", err)
	}
	return nil
}
