// Package observation implements the per-observation ingestion pipeline:
// vector resolution, STM append, auto-learn, and the CLEAR/ROLLING
// post-learn policy.
package observation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/katoerr"
	"github.com/katoml/kato/internal/session"
)

// VectorResolver resolves a raw vector into its content-addressed symbol
// plus its nearest neighbors. Satisfied by *internal/vectorindex.Index.
type VectorResolver interface {
	Upsert(vector []float32) string
	Neighbors(vector []float32, k int) []string
}

// Learner compresses the given session's STM into the pattern store.
// Satisfied by *internal/learner.Learner.
type Learner interface {
	Learn(ctx context.Context, nodeID string, sess *session.Session) (patternName string, learned bool, err error)
}

// Observation is a single ingestion event: strings contribute symbols
// directly, vectors are resolved to symbols through VectorResolver first,
// and the two sets are unioned. UniqueID is an optional caller-supplied
// idempotency token; it has no effect on STM and is only echoed back.
type Observation struct {
	Strings  []string
	Vectors  [][]float32
	Emotives map[string]float64
	Metadata map[string][]string
	UniqueID string
}

// Ack reports the outcome of one Observe call.
type Ack struct {
	SessionID          string `json:"session_id"`
	STMLength          int    `json:"stm_length"`
	Time               int64  `json:"time"`
	AutoLearnedPattern string `json:"auto_learned_pattern,omitempty"`
	UniqueID           string `json:"unique_id,omitempty"`
}

// Processor wires the vector resolver, the session registry, and the
// Learner together to implement the observation pipeline. Constructed
// with explicit dependencies rather than globals.
type Processor struct {
	registry *session.Registry
	vectors  VectorResolver
	learner  Learner
	defaults config.NodeDefaults
}

// NewProcessor builds an observation Processor over the given collaborators.
func NewProcessor(registry *session.Registry, vectors VectorResolver, learner Learner, defaults config.NodeDefaults) *Processor {
	return &Processor{registry: registry, vectors: vectors, learner: learner, defaults: defaults}
}

// Observe ingests one observation into sessionID's STM and, if the session's
// effective max_pattern_length is reached, triggers an auto-learn. At most
// one pattern is auto-learned per call.
func (p *Processor) Observe(ctx context.Context, sessionID string, obs Observation) (Ack, error) {
	sess, err := p.registry.Get(ctx, sessionID)
	if err != nil {
		return Ack{}, err
	}

	eff := config.Resolve(p.defaults, sess.Overrides)

	for _, s := range obs.Strings {
		if strings.ContainsAny(s, "\x1e\x1f") {
			return Ack{}, fmt.Errorf("%w: symbol %q contains a reserved separator character", katoerr.ErrInvalidObservation, s)
		}
	}

	event := resolveEvent(obs, p.vectors, eff.VectorNeighborK, eff.SortSymbols)
	if len(event) == 0 {
		return Ack{
			SessionID: sessionID,
			STMLength: len(sess.STM()),
			Time:      sess.Time(),
			UniqueID:  obs.UniqueID,
		}, nil
	}

	stmLength := sess.AddEvent(event, obs.Emotives, obs.Metadata)
	ack := Ack{SessionID: sessionID, STMLength: stmLength, Time: sess.Time(), UniqueID: obs.UniqueID}

	if eff.MaxPatternLength > 0 && stmLength >= eff.MaxPatternLength {
		name, learned, err := p.learner.Learn(ctx, sess.NodeID, sess)
		if err != nil {
			return Ack{}, fmt.Errorf("observation: auto-learn for session %s: %w", sessionID, err)
		}
		if learned {
			ack.AutoLearnedPattern = name
			switch eff.STMMode {
			case config.STMRolling:
				sess.DropOldest()
			default:
				sess.ClearSTM()
			}
		}
	}

	return ack, nil
}

// SequenceResult is the outcome of ObserveSequence.
type SequenceResult struct {
	Acks     []Ack
	Learned  []string // pattern names from any learn_after_each / learn_at_end calls
	Isolated bool
}

// ObserveSequence ingests each observation in order, optionally learning
// after every step and/or once at the end, optionally clearing STM between
// steps. Isolated is always true: every step in this call acts on one
// session under that session's own lock, so no isolation boundary is ever
// crossed regardless of these options.
func (p *Processor) ObserveSequence(ctx context.Context, sessionID string, observations []Observation, learnAfterEach, learnAtEnd, clearSTMBetween bool) (SequenceResult, error) {
	result := SequenceResult{Isolated: true}

	for _, obs := range observations {
		ack, err := p.Observe(ctx, sessionID, obs)
		if err != nil {
			return result, err
		}
		result.Acks = append(result.Acks, ack)

		if learnAfterEach {
			name, learned, err := p.explicitLearn(ctx, sessionID)
			if err != nil {
				return result, err
			}
			if learned {
				result.Learned = append(result.Learned, name)
			}
		}
		if clearSTMBetween {
			sess, err := p.registry.Get(ctx, sessionID)
			if err != nil {
				return result, err
			}
			sess.ClearSTM()
		}
	}

	if learnAtEnd {
		name, learned, err := p.explicitLearn(ctx, sessionID)
		if err != nil {
			return result, err
		}
		if learned {
			result.Learned = append(result.Learned, name)
		}
	}

	return result, nil
}

// explicitLearn invokes the Learner directly (not via the auto-learn threshold
// check) and, on success, fully clears STM — the explicit-learn
// convention documented on Learner.Learn.
func (p *Processor) explicitLearn(ctx context.Context, sessionID string) (string, bool, error) {
	sess, err := p.registry.Get(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	name, learned, err := p.learner.Learn(ctx, sess.NodeID, sess)
	if err != nil {
		return "", false, fmt.Errorf("observation: explicit learn for session %s: %w", sessionID, err)
	}
	if learned {
		sess.ClearSTM()
	}
	return name, learned, nil
}

// resolveEvent builds one event: each vector is resolved into its own
// content-addressed symbol plus up to neighborK-1 nearest-neighbor
// symbols (neighborK defaults to 4), unioned with the observation's
// strings, deduped, and sorted if sortSymbols is set.
func resolveEvent(obs Observation, resolver VectorResolver, neighborK int, sortSymbols bool) []string {
	seen := make(map[string]struct{}, len(obs.Strings)+len(obs.Vectors))
	symbols := make([]string, 0, len(obs.Strings)+len(obs.Vectors))

	add := func(sym string) {
		if _, ok := seen[sym]; ok {
			return
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}

	for _, s := range obs.Strings {
		add(s)
	}
	for _, v := range obs.Vectors {
		add(resolver.Upsert(v))
		for _, neighbor := range resolver.Neighbors(v, neighborK) {
			add(neighbor)
		}
	}

	if sortSymbols {
		sort.Strings(symbols)
	}
	return symbols
}
