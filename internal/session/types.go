// Package session holds per-session mutable state: STM, emotives and
// metadata accumulators, time counter, config overrides, sliding TTL.
package session

import (
	"sync"
	"time"

	"github.com/katoml/kato/internal/config"
)

// Event is one ordered STM entry: a sorted set of symbols observed together.
type Event = []string

// Session is ephemeral, per-consumer state bound to one node_id. Every
// exported mutator extends ExpiresAt by TTLSeconds from now
// (sliding expiration) — callers must go through these methods rather than
// touching the snapshot fields directly once a Session is registered.
type Session struct {
	ID         string
	NodeID     string
	CreatedAt  time.Time
	TTLSeconds int
	Overrides  config.SessionOverrides

	mu            sync.Mutex
	expiresAt     time.Time
	stm           []Event
	emotivesAcc   []map[string]float64
	metadataAcc   map[string][]string
	timeCounter   int64
	configVersion int
}

// New creates a session bound to nodeID with the given sliding TTL.
func New(id, nodeID string, ttlSeconds int, overrides config.SessionOverrides) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		NodeID:      nodeID,
		CreatedAt:   now,
		TTLSeconds:  ttlSeconds,
		Overrides:   overrides,
		expiresAt:   now.Add(time.Duration(ttlSeconds) * time.Second),
		metadataAcc: make(map[string][]string),
	}
}

// touch extends expiresAt by TTLSeconds from now. Callers must hold mu.
func (s *Session) touch() {
	s.expiresAt = time.Now().Add(time.Duration(s.TTLSeconds) * time.Second)
}

// ExpiresAt returns the current sliding deadline without extending it.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// IsExpired reports whether expiresAt has already passed as of now, without
// extending the deadline — used by the registry's sweeper and by access
// paths that must reject an expired session before touching it further.
func (s *Session) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.expiresAt)
}

// AddEvent appends a fully-resolved event to STM plus its emotives and
// metadata contributions, extends the TTL, and increments time. Returns
// the new STM length.
func (s *Session) AddEvent(event Event, emotives map[string]float64, metadata map[string][]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stm = append(s.stm, event)
	if emotives == nil {
		emotives = map[string]float64{}
	}
	s.emotivesAcc = append(s.emotivesAcc, emotives)
	unionInto(s.metadataAcc, metadata)
	s.timeCounter++
	s.touch()
	return len(s.stm)
}

// STM returns a snapshot of the current short-term memory and extends TTL.
func (s *Session) STM() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return cloneEvents(s.stm)
}

// Time returns the session's observation counter and extends TTL.
func (s *Session) Time() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.timeCounter
}

// Snapshot captures STM, accumulators, and time under one lock, for the
// Learner and Predictor, which need a consistent view across several
// fields: a prediction reading a half-updated STM is not a useful result.
type Snapshot struct {
	STM         []Event
	EmotivesAcc []map[string]float64
	MetadataAcc map[string][]string
	Time        int64
}

// Snapshot returns a consistent copy of mutable state and extends TTL.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return Snapshot{
		STM:         cloneEvents(s.stm),
		EmotivesAcc: cloneEmotives(s.emotivesAcc),
		MetadataAcc: cloneMetadata(s.metadataAcc),
		Time:        s.timeCounter,
	}
}

// ClearSTM empties STM and both accumulators (the CLEAR post-learn policy
// and the clear_all operation), extending TTL.
func (s *Session) ClearSTM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stm = nil
	s.emotivesAcc = nil
	s.metadataAcc = make(map[string][]string)
	s.touch()
}

// DropOldest removes the oldest STM event and its corresponding emotives
// entry, implementing the ROLLING auto-learn policy. The
// metadata accumulator has no per-event correspondence so it is left intact.
func (s *Session) DropOldest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stm) > 0 {
		s.stm = s.stm[1:]
	}
	if len(s.emotivesAcc) > 0 {
		s.emotivesAcc = s.emotivesAcc[1:]
	}
	s.touch()
}

// SetOverrides merges partial into the session's current config overrides
// (update_session_config) and bumps ConfigVersion, extending TTL. Callers
// must validate partial (config.ValidateOverrides) before calling this:
// Session itself performs no validation, so an invalid patch never
// reaches here and a partial update never needs rolling back.
func (s *Session) SetOverrides(partial config.SessionOverrides) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeOverridesInto(&s.Overrides, partial)
	s.configVersion++
	s.touch()
}

// ConfigVersion returns the number of successful update_session_config
// calls applied to this session.
func (s *Session) ConfigVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configVersion
}

// Extend sets a new TTL and immediately slides expiresAt by it.
func (s *Session) Extend(ttlSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TTLSeconds = ttlSeconds
	s.touch()
}

func unionInto(dst map[string][]string, src map[string][]string) {
	for key, values := range src {
		existing := make(map[string]struct{}, len(dst[key]))
		for _, v := range dst[key] {
			existing[v] = struct{}{}
		}
		for _, v := range values {
			if _, ok := existing[v]; !ok {
				dst[key] = append(dst[key], v)
				existing[v] = struct{}{}
			}
		}
	}
}

func cloneEvents(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = append(Event(nil), e...)
	}
	return out
}

func cloneEmotives(src []map[string]float64) []map[string]float64 {
	out := make([]map[string]float64, len(src))
	for i, m := range src {
		cp := make(map[string]float64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

func cloneMetadata(src map[string][]string) map[string][]string {
	out := make(map[string][]string, len(src))
	for k, v := range src {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func mergeOverridesInto(dst *config.SessionOverrides, partial config.SessionOverrides) {
	if partial.RecallThreshold != nil {
		dst.RecallThreshold = partial.RecallThreshold
	}
	if partial.Persistence != nil {
		dst.Persistence = partial.Persistence
	}
	if partial.MaxPatternLength != nil {
		dst.MaxPatternLength = partial.MaxPatternLength
	}
	if partial.MaxPredictions != nil {
		dst.MaxPredictions = partial.MaxPredictions
	}
	if partial.SortSymbols != nil {
		dst.SortSymbols = partial.SortSymbols
	}
	if partial.ProcessPredictions != nil {
		dst.ProcessPredictions = partial.ProcessPredictions
	}
	if partial.STMMode != nil {
		dst.STMMode = partial.STMMode
	}
	if partial.SortKey != nil {
		dst.SortKey = partial.SortKey
	}
}
