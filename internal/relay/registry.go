package relay

import (
	"sync"
	"sync/atomic"
)

// Registry tracks live sessions for diagnostics and shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	total    atomic.Int64
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	r.total.Add(1)
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len is the number of currently open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Total is the number of sessions accepted since start.
func (r *Registry) Total() int64 { return r.total.Load() }

// SessionInfo is one live session's diagnostics entry.
type SessionInfo struct {
	ID     string `json:"id"`
	Remote string `json:"remote"`
	State  string `json:"state"`
}

// Snapshot lists live sessions.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{ID: s.id, Remote: s.remote, State: s.State().String()})
	}
	return out
}

// CloseAll tears down every live session; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
