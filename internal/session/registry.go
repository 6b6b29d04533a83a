// Package session holds the canonical in-memory record of every chat-client session.
package session

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"warmupd/internal/messaging"
	"warmupd/pkg/types"
)

const idPrefix = "session_"

// Registry maps session IDs to their state and bound adapter client.
// Sessions are created on first use and never deleted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	clients  map[string]messaging.Client
	accounts map[string]string // account id -> session id
	now      func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*types.Session),
		clients:  make(map[string]messaging.Client),
		accounts: make(map[string]string),
		now:      now,
	}
}

// Ensure returns the session, creating it with an empty state if needed
func (r *Registry) Ensure(id string) (types.Session, error) {
	if !types.IsValidSessionID(id) {
		return types.Session{}, fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.ensureLocked(id), nil
}

func (r *Registry) ensureLocked(id string) *types.Session {
	s, ok := r.sessions[id]
	if !ok {
		s = &types.Session{ID: id, UpdatedAt: r.now()}
		r.sessions[id] = s
	}
	return s
}

// Transition moves a session to next, recording retries and the last error
func (r *Registry) Transition(id string, next types.SessionState, retries int, lastErr string) (types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !s.State.CanTransition(next) {
		return *s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
	}

	s.State = next
	s.Retries = retries
	s.LastError = lastErr
	s.UpdatedAt = r.now()
	if next != types.StateReady {
		r.dropAccountLocked(s)
	}
	return *s, nil
}

// MarkReady moves a session to ready and indexes its account id
func (r *Registry) MarkReady(id, accountID string) (types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !s.State.CanTransition(types.StateReady) {
		return *s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, types.StateReady)
	}

	if owner, taken := r.accounts[accountID]; taken && owner != id {
		return *s, fmt.Errorf("%w: %s is paired to %s", ErrAccountInUse, accountID, owner)
	}

	s.State = types.StateReady
	s.PhoneNumber = accountID
	s.LastError = ""
	s.UpdatedAt = r.now()
	r.accounts[accountID] = id
	return *s, nil
}

func (r *Registry) dropAccountLocked(s *types.Session) {
	if s.PhoneNumber != "" && r.accounts[s.PhoneNumber] == s.ID {
		delete(r.accounts, s.PhoneNumber)
	}
}

// Get returns a copy of the session
func (r *Registry) Get(id string) (types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return types.Session{}, false
	}
	return *s, true
}

func (r *Registry) IsReady(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return ok && s.State == types.StateReady
}

// Snapshot returns every session sorted by ID
func (r *Registry) Snapshot() []types.Session {
	r.mu.RLock()
	out := make([]types.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReadyIDs returns the IDs of ready sessions, sorted
func (r *Registry) ReadyIDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.State == types.StateReady {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (r *Registry) ReadyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.State == types.StateReady {
			n++
		}
	}
	return n
}

// SessionForAccount resolves an account id to the ready session using it
func (r *Registry) SessionForAccount(accountID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.accounts[accountID]
	return id, ok
}

// BindClient attaches an adapter client, returning the one it replaced
func (r *Registry) BindClient(id string, client messaging.Client) messaging.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.clients[id]
	r.clients[id] = client
	return previous
}

// UnbindClient detaches and returns the session's client
func (r *Registry) UnbindClient(id string) messaging.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	client := r.clients[id]
	delete(r.clients, id)
	return client
}

func (r *Registry) Client(id string) (messaging.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	return client, ok
}

// Clients returns every bound client keyed by session ID
func (r *Registry) Clients() map[string]messaging.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]messaging.Client, len(r.clients))
	for id, c := range r.clients {
		out[id] = c
	}
	return out
}

// NextSessionID returns the first session_N not yet known, starting from 1
func (r *Registry) NextSessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	used := make(map[int]bool, len(r.sessions))
	for id := range r.sessions {
		if n, ok := sessionNumber(id); ok {
			used[n] = true
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return idPrefix + strconv.Itoa(n)
}

// Load seeds sessions from persisted records without touching their state.
// Loaded sessions start with an empty state so the lifecycle can initialize them.
func (r *Registry) Load(records []*types.SessionRecord) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec == nil || !types.IsValidSessionID(rec.ID) {
			continue
		}
		s := r.ensureLocked(rec.ID)
		if s.State == "" {
			s.PhoneNumber = rec.PhoneNumber
		}
		ids = append(ids, rec.ID)
	}
	sort.Strings(ids)
	return ids
}

func sessionNumber(id string) (int, bool) {
	if !strings.HasPrefix(id, idPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, idPrefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
