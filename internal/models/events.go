package models

import "encoding/json"

// EventType names a realtime frame.
type EventType string

// Client → server events.
const (
	EventAnnounce    EventType = "announce"
	EventSendMessage EventType = "send-message"
	EventTyping      EventType = "typing"
	EventLogout      EventType = "logout"
)

// Server → client events. EventTyping is shared by both directions.
const (
	EventHistory         EventType = "history"
	EventPresenceChanged EventType = "presenceChanged"
	EventMessageCreated  EventType = "messageCreated"
	EventMessageArchived EventType = "messageArchived"
	EventError           EventType = "error"
)

// WebSocketMessage is the wire envelope for every frame in both directions.
// Ref is an optional client correlation id, echoed on error frames.
type WebSocketMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// Event is an outbound event before encoding.
type Event struct {
	Type    EventType
	Payload any

	// Origin is the connection that produced the event; typing events skip it
	Origin string

	// Ref is echoed back to the client inside the envelope
	Ref string
}

// Encode marshals the event into a WebSocketMessage frame.
func (e Event) Encode() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebSocketMessage{Type: e.Type, Payload: payload, Ref: e.Ref})
}

// AnnouncePayload is the payload of an announce event
type AnnouncePayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
	Token       string `json:"token,omitempty"`
}

// SendMessagePayload is the payload of a send-message event.
// FileBytes travels as base64 in JSON.
type SendMessagePayload struct {
	Text      string `json:"text,omitempty"`
	FileBytes []byte `json:"fileBytes,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// TypingPayload is the payload of an inbound typing event
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// ErrorPayload is the payload of an outbound error frame
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEvent builds the error frame for err, addressed to one connection.
func ErrorEvent(err error, ref string) Event {
	return Event{
		Type: EventError,
		Payload: ErrorPayload{
			Code:    CodeOf(err).String(),
			Message: MessageOf(err),
		},
		Ref: ref,
	}
}
