package tracker

import (
	"context"
	"sync"
	"time"
)

type session struct {
	tracker  *Tracker
	lastSeen time.Time
}

// Registry owns one Tracker per authenticated session
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	idleTTL  time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry that forgets sessions idle for longer
// than idleTTL. A zero idleTTL keeps sessions until Drop is called.
func NewRegistry(idleTTL time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// For returns the session's tracker, creating it on first use
func (r *Registry) For(sessionID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{tracker: New()}
		r.sessions[sessionID] = s
	}
	s.lastSeen = r.now()
	return s.tracker
}

// Drop forgets a session together with its pending edits
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes idle sessions and returns how many were dropped
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	dropped := 0
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			dropped++
		}
	}
	return dropped
}

// RunSweeper calls Sweep every interval until ctx is done
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
