// Package presence tracks who is online.
//
// Entries are keyed by identity so a user with several reconnects shows up
// once, and removed by connection id so a late close of a superseded
// connection cannot evict the live one.
package presence

import (
	"sync"
	"time"

	"github.com/kiprono234/chat-verse/internal/models"
)

// Gauge receives the registry size after every mutation. prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

// Registry is the process-local presence list. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu sync.Mutex

	// entries in insertion order of distinct identities
	entries []models.PresenceEntry

	// byConn maps connection id to identity for the current owner of each entry
	byConn map[string]string

	version uint64
	now     func() time.Time
	size    Gauge
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]string),
		now:    time.Now,
	}
}

// TrackSize reports the number of entries to g, inside the same critical
// section as each mutation so concurrent updates land in order.
func (r *Registry) TrackSize(g Gauge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = g
	r.reportSize()
}

// Announce upserts the entry for identity and returns the resulting snapshot.
// An existing entry keeps its position and JoinedAt; its connection id and
// profile fields are replaced (last write wins).
func (r *Registry) Announce(connectionID, identity, displayName, avatarRef string) models.PresenceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A connection that re-announces under a different identity leaves its old entry.
	if prev, ok := r.byConn[connectionID]; ok && prev != identity {
		r.removeIdentity(prev)
	}

	if i := r.indexOf(identity); i >= 0 {
		e := &r.entries[i]
		if e.ConnectionID != connectionID {
			delete(r.byConn, e.ConnectionID)
		}
		e.ConnectionID = connectionID
		e.DisplayName = displayName
		e.AvatarRef = avatarRef
	} else {
		r.entries = append(r.entries, models.PresenceEntry{
			ConnectionID: connectionID,
			Identity:     identity,
			DisplayName:  displayName,
			AvatarRef:    avatarRef,
			JoinedAt:     r.now().UTC(),
		})
	}
	r.byConn[connectionID] = identity
	r.version++
	r.reportSize()
	return r.snapshot()
}

// Remove deletes the entry owned by connectionID. If the connection never
// announced or was superseded by a newer connection for the same identity,
// nothing changes and ok is false.
func (r *Registry) Remove(connectionID string) (snap models.PresenceSnapshot, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, found := r.byConn[connectionID]
	if !found {
		return models.PresenceSnapshot{}, false
	}
	r.removeIdentity(identity)
	r.version++
	r.reportSize()
	return r.snapshot(), true
}

// Snapshot returns the current presence list.
func (r *Registry) Snapshot() models.PresenceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Len returns the number of distinct identities present.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Identity returns the identity currently owned by connectionID.
func (r *Registry) Identity(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[connectionID]
	return id, ok
}

func (r *Registry) reportSize() {
	if r.size != nil {
		r.size.Set(float64(len(r.entries)))
	}
}

func (r *Registry) removeIdentity(identity string) {
	i := r.indexOf(identity)
	if i < 0 {
		return
	}
	delete(r.byConn, r.entries[i].ConnectionID)
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
}

func (r *Registry) indexOf(identity string) int {
	for i := range r.entries {
		if r.entries[i].Identity == identity {
			return i
		}
	}
	return -1
}

func (r *Registry) snapshot() models.PresenceSnapshot {
	entries := make([]models.PresenceEntry, len(r.entries))
	copy(entries, r.entries)
	return models.PresenceSnapshot{Version: r.version, Entries: entries}
}
