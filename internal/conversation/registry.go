package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry keeps the live conversations of the server in memory. A conversation lives from the page load
// that created it until it is evicted for being idle; nothing survives a restart.
type Registry struct {
	backend  Backend
	onChange ChangeFunc
	logger   *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*Controller
}

// NewRegistry creates an empty registry whose conversations talk to backend and report their changes to
// onChange.
func NewRegistry(backend Backend, onChange ChangeFunc, logger *slog.Logger) *Registry {
	return &Registry{
		backend:       backend,
		onChange:      onChange,
		logger:        logger,
		conversations: make(map[string]*Controller),
	}
}

// New starts a conversation under a fresh identifier.
func (r *Registry) New() *Controller {
	c := NewController(uuid.New().String(), r.backend, r.onChange, r.logger)

	r.mu.Lock()
	r.conversations[c.ID()] = c
	r.mu.Unlock()

	return c
}

// Get returns the conversation with the given identifier.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	return c, ok
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}

// EvictIdle drops every conversation without a request in flight that has been inactive for longer than
// maxIdle, and returns how many were dropped.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, c := range r.conversations {
		if c.Idle(cutoff) {
			delete(r.conversations, id)
			evicted++
		}
	}
	return evicted
}
