package session

import (
	"sync"
	"time"

	"github.com/doodlelabs/doodlechat/internal/logger"
	"github.com/doodlelabs/doodlechat/internal/metrics"
)

// Registry holds live sessions keyed by token and sweeps out expired ones.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl           time.Duration
	sweepInterval time.Duration
	log           *logger.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRegistry creates a registry and starts its background sweeper.
func NewRegistry(ttl, sweepInterval time.Duration, log *logger.Logger) *Registry {
	r := &Registry{
		sessions:      make(map[string]*Session),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		log:           log.WithComponent("sessions"),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Create mints a fresh session for the user.
func (r *Registry) Create(username string) *Session {
	s := &Session{
		Token:     newToken(),
		Username:  username,
		ExpiresAt: time.Now().Add(r.ttl),
	}

	r.mu.Lock()
	r.sessions[s.Token] = s
	size := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(size))
	r.log.Debug("Session created", "username", username, "expires_at", s.ExpiresAt)
	return s
}

// Get returns the session for token, or nil if unknown or expired. Expired
// sessions are removed eagerly; reads never refresh the expiry.
func (r *Registry) Get(token string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[token]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	if s.Expired() {
		r.Remove(token)
		return nil
	}
	return s
}

// Remove deletes the session for token, if present.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	delete(r.sessions, token)
	size := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(size))
}

// Count returns the number of sessions currently held, expired or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops the sweeper and waits for it to exit.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.done
}

func (r *Registry) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now()

	r.mu.Lock()
	removed := 0
	for token, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, token)
			removed++
		}
	}
	size := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(size))
	if removed > 0 {
		r.log.Info("Swept expired sessions", "removed", removed, "remaining", size)
	}
}
