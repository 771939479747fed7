package session

import (
	"context"
	"hash/maphash"
	"log/slog"
	"sync"
	"time"

	"github.com/elastic/go-freelru"
	"github.com/google/uuid"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/katoerr"
)

var seed = maphash.MakeSeed()

func hashSessionID(id string) uint32 {
	return uint32(maphash.String(seed, id))
}

// Registry is the capacity-bounded, TTL-swept session store. Capacity is
// enforced
// by an LRU keyed on last-touch recency; eviction and TTL expiry both
// route through the same deletion path so no per-session state outlives
// its entry.
type Registry struct {
	mu       sync.Mutex
	lru      *freelru.LRU[string, *Session]
	log      *slog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewRegistry creates a registry bounded at maxSessions entries and starts
// its background TTL sweeper at the given interval.
func NewRegistry(maxSessions int, sweepInterval time.Duration, log *slog.Logger) (*Registry, error) {
	lru, err := freelru.New[string, *Session](uint32(maxSessions), hashSessionID)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Registry{
		lru:    lru,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	lru.SetOnEvict(func(id string, s *Session) {
		r.log.Warn("session evicted by capacity policy", "session_id", id, "node_id", s.NodeID)
	})

	go r.sweepLoop(sweepInterval)
	return r, nil
}

// sweepLoop periodically removes sessions whose sliding TTL has elapsed,
// so an abandoned session never outlives its sliding deadline by more
// than one interval.
func (r *Registry) sweepLoop(interval time.Duration) {
	defer close(r.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

func (r *Registry) sweepExpired() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for _, id := range r.lru.Keys() {
		if s, ok := r.lru.Get(id); ok && s.IsExpired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.lru.Remove(id)
		r.log.Info("session expired", "session_id", id)
	}
}

// Stop halts the background sweeper. Safe to call multiple times.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// Create allocates a new session bound to nodeID and registers it.
func (r *Registry) Create(nodeID string, ttlSeconds int, overrides config.SessionOverrides) *Session {
	s := New(uuid.NewString(), nodeID, ttlSeconds, overrides)
	r.mu.Lock()
	r.lru.Add(s.ID, s)
	r.mu.Unlock()
	return s
}

// Get retrieves a live session by ID, rejecting one whose TTL has already
// elapsed with ErrSessionExpired: an expired session must fail at the
// moment of access, not linger until the sweeper reaps it.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, katoerr.ErrCancelled
	}

	r.mu.Lock()
	s, ok := r.lru.Get(id)
	r.mu.Unlock()
	if !ok {
		return nil, katoerr.ErrSessionNotFound
	}
	if s.IsExpired(time.Now()) {
		r.mu.Lock()
		r.lru.Remove(id)
		r.mu.Unlock()
		return nil, katoerr.ErrSessionExpired
	}
	return s, nil
}

// Exists reports whether id names a live, unexpired session.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	s, ok := r.lru.Get(id)
	r.mu.Unlock()
	return ok && !s.IsExpired(time.Now())
}

// Delete removes a session unconditionally (delete_session).
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.lru.Get(id)
	if ok {
		r.lru.Remove(id)
	}
	r.mu.Unlock()
	if !ok {
		return katoerr.ErrSessionNotFound
	}
	return nil
}

// Len returns the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}
