package models

import (
	"encoding/json"
	"time"
)

// PresenceEntry represents a live participant.
// There is at most one entry per Identity; a reconnect swaps ConnectionID in place.
type PresenceEntry struct {
	// ConnectionID is the id of the transport connection currently owning the entry
	ConnectionID string `json:"connectionId"`

	// Identity is the stable deduplication key (email, account id)
	Identity string `json:"identity"`

	// DisplayName is snapshotted from the user's profile at announce time
	DisplayName string `json:"displayName"`

	// AvatarRef is snapshotted from the user's profile at announce time
	AvatarRef string `json:"avatarRef"`

	// JoinedAt is when this identity first appeared in the registry
	JoinedAt time.Time `json:"joinedAt"`
}

// PresenceSnapshot is the full ordered presence list at one registry version.
// Order is the insertion order of distinct identities.
// Version stays server side; on the wire a snapshot is the bare entry array.
type PresenceSnapshot struct {
	Version uint64
	Entries []PresenceEntry
}

// MarshalJSON encodes the entries only, as an array that is never null.
func (s PresenceSnapshot) MarshalJSON() ([]byte, error) {
	if s.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Entries)
}

// Identities returns the identities in snapshot order.
func (s PresenceSnapshot) Identities() []string {
	ids := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		ids = append(ids, e.Identity)
	}
	return ids
}

// TypingSignal is a transient typing indicator, never persisted.
type TypingSignal struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}
