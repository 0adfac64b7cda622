// Package session tracks live connections and their binding to usernames.
// The registry is the single source of truth for "who is connected on what";
// presence is derived from it, never stored independently.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Session is one live connection. A username may own several concurrent
// sessions (multi-device); Username is empty until an explicit JOIN binds it.
type Session struct {
	ConnectionID string
	Username     string
	ConnectedAt  time.Time
}

// BindListener is notified on every bind/unregister transition that changes
// a username's presence (first session bound, last session gone).
type BindListener func(username string, online bool)

// Registry is the most contended structure in the server; every mutation is
// linearized under one mutex.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	sessions map[string]*Session
	byUser   map[string]map[string]bool // username -> set of connection ids
	listener BindListener
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]bool),
	}
}

// OnBindTransition installs the presence listener. Must be called before
// connections are accepted. The listener runs while the registry lock is
// held, so transitions arrive in the order they actually happened; it must
// not block and must not call back into the registry.
func (r *Registry) OnBindTransition(listener BindListener) {
	r.listener = listener
}

// Register creates a session for a fresh connection and returns its id.
func (r *Registry) Register() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &Session{ConnectionID: id, ConnectedAt: time.Now().UTC()}
	total := len(r.sessions)
	r.mu.Unlock()

	r.log.Debug("Session registered", "connection_id", id, "total", total)
	return id
}

// Bind attaches a username to a connection. Rebinding the same username is
// idempotent; binding a different one fails with ErrAlreadyBound.
func (r *Registry) Bind(connectionID, username string) error {
	r.mu.Lock()
	session, ok := r.sessions[connectionID]
	if !ok {
		r.mu.Unlock()
		return errors.ErrUnknownSession
	}
	if session.Username == username {
		r.mu.Unlock()
		return nil
	}
	if session.Username != "" {
		r.mu.Unlock()
		return errors.ErrAlreadyBound
	}

	session.Username = username
	conns, existed := r.byUser[username]
	if !existed {
		conns = make(map[string]bool)
		r.byUser[username] = conns
	}
	conns[connectionID] = true
	if !existed && r.listener != nil {
		r.listener(username, true)
	}
	r.mu.Unlock()

	r.log.Info("Session bound", "connection_id", connectionID, "username", username)
	return nil
}

// Unregister removes the session. It returns the freed username when this
// was the last session bound to it, so presence can be recomputed exactly
// once no matter how many sessions the user had.
func (r *Registry) Unregister(connectionID string) (string, bool) {
	r.mu.Lock()
	session, ok := r.sessions[connectionID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.sessions, connectionID)

	freed := ""
	if session.Username != "" {
		conns := r.byUser[session.Username]
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(r.byUser, session.Username)
			freed = session.Username
		}
	}
	if freed != "" && r.listener != nil {
		r.listener(freed, false)
	}
	r.mu.Unlock()

	r.log.Debug("Session unregistered", "connection_id", connectionID, "freed", freed)
	return freed, freed != ""
}

// Username returns the bound username of a connection, if any.
func (r *Registry) Username(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[connectionID]
	if !ok || session.Username == "" {
		return "", false
	}
	return session.Username, true
}

// IsOnline reports whether at least one session is bound to the username.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[username]) > 0
}

// ConnectionsFor returns every live connection of a username, used to fan
// out to all of a user's devices.
func (r *Registry) ConnectionsFor(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser[username])
}

// OnlineUsers returns the distinct usernames with at least one session.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser)
}
