// Package engine is the top-level per-session surface: session lifecycle
// plus observe/learn/predict, gluing the session Registry, the per-node
// processor Manager, the observation Processor, Learner, and Predictor
// together. Nothing outside this module imports it; cmd/katod is its only
// caller.
package engine

import (
	"context"
	"fmt"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/learner"
	"github.com/katoml/kato/internal/observation"
	"github.com/katoml/kato/internal/predictor"
	"github.com/katoml/kato/internal/processor"
	"github.com/katoml/kato/internal/session"
)

// Engine is the top-level facade a transport layer (HTTP, gRPC, CLI)
// drives. It owns no durable state itself — everything is delegated to
// the session Registry and the node-scoped Processor Manager.
type Engine struct {
	registry *session.Registry
	manager  *processor.Manager
	defaults config.NodeDefaults
}

// New builds an Engine over an already-constructed Registry and Manager.
func New(registry *session.Registry, manager *processor.Manager, defaults config.NodeDefaults) *Engine {
	return &Engine{registry: registry, manager: manager, defaults: defaults}
}

// CreateSession implements create_session.
func (e *Engine) CreateSession(nodeID string, ttlSeconds int, overrides config.SessionOverrides) (*session.Session, error) {
	if err := config.ValidateOverrides(overrides); err != nil {
		return nil, err
	}
	if ttlSeconds <= 0 {
		ttlSeconds = e.defaults.SessionTTLSeconds
	}
	return e.registry.Create(nodeID, ttlSeconds, overrides), nil
}

// GetSession implements get_session.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return e.registry.Get(ctx, sessionID)
}

// ExtendSession implements extend_session.
func (e *Engine) ExtendSession(ctx context.Context, sessionID string, ttlSeconds int) error {
	sess, err := e.registry.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Extend(ttlSeconds)
	return nil
}

// DeleteSession implements delete_session.
func (e *Engine) DeleteSession(sessionID string) error {
	return e.registry.Delete(sessionID)
}

// SessionExists implements session_exists.
func (e *Engine) SessionExists(sessionID string) bool {
	return e.registry.Exists(sessionID)
}

// UpdateSessionConfig implements update_session_config. An invalid patch
// is rejected wholesale, leaving the session's current config untouched.
func (e *Engine) UpdateSessionConfig(ctx context.Context, sessionID string, partial config.SessionOverrides) error {
	sess, err := e.registry.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := config.ValidateOverrides(partial); err != nil {
		return err
	}
	sess.SetOverrides(partial)
	return nil
}

// GetSTM implements get_stm.
func (e *Engine) GetSTM(ctx context.Context, sessionID string) ([]session.Event, error) {
	sess, err := e.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.STM(), nil
}

// ClearSTM implements clear_stm: empties STM and both accumulators, never
// the pattern store.
func (e *Engine) ClearSTM(ctx context.Context, sessionID string) error {
	sess, err := e.registry.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.ClearSTM()
	return nil
}

// ClearAll implements clear_all. At this layer it is identical to
// clear_stm: both wipe STM plus the accumulators and neither touches the
// pattern store, so ClearAll simply delegates.
func (e *Engine) ClearAll(ctx context.Context, sessionID string) error {
	return e.ClearSTM(ctx, sessionID)
}

// Observe implements observe(session_id, observation).
func (e *Engine) Observe(ctx context.Context, sessionID string, obs observation.Observation) (observation.Ack, error) {
	proc, err := e.observationProcessorFor(ctx, sessionID)
	if err != nil {
		return observation.Ack{}, err
	}
	return proc.Observe(ctx, sessionID, obs)
}

// ObserveSequence implements observe_sequence.
func (e *Engine) ObserveSequence(ctx context.Context, sessionID string, observations []observation.Observation, learnAfterEach, learnAtEnd, clearSTMBetween bool) (observation.SequenceResult, error) {
	proc, err := e.observationProcessorFor(ctx, sessionID)
	if err != nil {
		return observation.SequenceResult{}, err
	}
	return proc.ObserveSequence(ctx, sessionID, observations, learnAfterEach, learnAtEnd, clearSTMBetween)
}

// Learn implements learn(session_id): an explicit learn outside the
// auto-learn threshold check, always fully clearing STM on success.
func (e *Engine) Learn(ctx context.Context, sessionID string) (learner.Result, error) {
	sess, err := e.registry.Get(ctx, sessionID)
	if err != nil {
		return learner.Result{}, err
	}
	comp, err := e.manager.Get(ctx, sess.NodeID)
	if err != nil {
		return learner.Result{}, err
	}

	lrn := e.learnerFor(comp)
	result, err := lrn.LearnResult(ctx, sess.NodeID, sess)
	if err != nil {
		return learner.Result{}, err
	}
	if result.Status == learner.StatusLearned {
		sess.ClearSTM()
	}
	return result, nil
}

// GetPredictions implements get_predictions(session_id).
func (e *Engine) GetPredictions(ctx context.Context, sessionID string) ([]predictor.Prediction, error) {
	sess, err := e.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	comp, err := e.manager.Get(ctx, sess.NodeID)
	if err != nil {
		return nil, err
	}

	pred := predictor.New(comp.Store, func(string) predictor.Index { return comp.Index }, e.defaults)
	return pred.Predict(ctx, sess.NodeID, sess)
}

func (e *Engine) observationProcessorFor(ctx context.Context, sessionID string) (*observation.Processor, error) {
	sess, err := e.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	comp, err := e.manager.Get(ctx, sess.NodeID)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve processor for node %s: %w", sess.NodeID, err)
	}
	return observation.NewProcessor(e.registry, comp.Vectors, e.learnerFor(comp), e.defaults), nil
}

func (e *Engine) learnerFor(comp *processor.Components) *learner.Learner {
	return learner.New(comp.Store, func(string) learner.Index { return comp.Index })
}
