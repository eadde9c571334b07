/*
Copyright 2024 Raywonder, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package session implements the in-memory session registry (component
// F): session ↔ {host peer, client peer set, settings, password,
// expiry, stats}, with per-session locking and TTL-driven destruction.
package session

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
)

// Settings holds the mutable, broadcastable configuration of a session.
type Settings struct {
	Password      string
	MaxClients    int
	AllowInput    bool
	AllowAudio    bool
	AllowVideo    bool
	AllowTransfer bool
}

// Stats tracks lightweight session counters.
type Stats struct {
	TotalJoins        int
	BytesRelayedEstim int64
}

// Session is a single signaling session.
type Session struct {
	mu sync.Mutex

	ID          string
	HostConnID  string
	ClientConns map[string]struct{}
	Settings    Settings
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastActive  time.Time
	Stats       Stats
	DomainIDs   map[string]struct{}
	Regenerated bool
}

// Lock / Unlock expose the per-session mutex to callers (the dispatcher)
// that need to hold it across a mutation and its resulting broadcast, per
// the at-most-once semantics in spec §5.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// HasHost reports whether the session currently has a host peer.
func (s *Session) HasHost() bool { return s.HostConnID != "" }

// ClientCount reports the number of connected clients.
func (s *Session) ClientCount() int { return len(s.ClientConns) }

// Registry is the concurrent session map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewRegistry constructs a Registry with the given session TTL. Each
// session's ExpiresAt is set once, to its creation time plus ttl;
// activity does not extend it, so the TTL is not an idle timeout.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{sessions: make(map[string]*Session), ttl: ttl}
}

// Create inserts a new session under id. Returns AlreadyExists if id is
// taken.
func (r *Registry) Create(id string, now time.Time) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, trace.AlreadyExists("session %v already exists", id)
	}
	s := &Session{
		ID:          id,
		ClientConns: make(map[string]struct{}),
		DomainIDs:   make(map[string]struct{}),
		CreatedAt:   now,
		LastActive:  now,
		ExpiresAt:   now.Add(r.ttl),
	}
	r.sessions[id] = s
	return s, nil
}

// Get returns the session for id, or NotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, trace.NotFound("session %v not found", id)
	}
	return s, nil
}

// Delete removes id from the registry. A second call is a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Rename atomically swaps session s from oldID to newID within the
// registry, for regenerate-link and change-session-id. Fails if newID is
// already taken.
func (r *Registry) Rename(oldID, newID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[newID]; ok {
		return nil, trace.AlreadyExists("session %v already exists", newID)
	}
	s, ok := r.sessions[oldID]
	if !ok {
		return nil, trace.NotFound("session %v not found", oldID)
	}
	delete(r.sessions, oldID)
	s.mu.Lock()
	s.ID = newID
	s.mu.Unlock()
	r.sessions[newID] = s
	return s, nil
}

// Snapshot returns a point-in-time listing of sessions. Used by the
// control API's introspection endpoints, which take a short lock on the
// registry map and copy out a view rather than holding it.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of sessions currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ReapExpired deletes sessions that are both peerless and past their
// expiry, as of now. Returns the reaped sessions so callers (openlinkd's
// session reaper) can act on them.
func (r *Registry) ReapExpired(now time.Time) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []*Session
	for id, s := range r.sessions {
		s.mu.Lock()
		expired := !s.HasHost() && len(s.ClientConns) == 0 && now.After(s.ExpiresAt)
		s.mu.Unlock()
		if expired {
			delete(r.sessions, id)
			reaped = append(reaped, s)
		}
	}
	return reaped
}
