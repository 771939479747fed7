package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/learner"
	"github.com/katoml/kato/internal/observation"
	"github.com/katoml/kato/internal/patternstore"
	"github.com/katoml/kato/internal/processor"
	"github.com/katoml/kato/internal/session"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	registry, err := session.NewRegistry(1000, time.Hour, slog.Default())
	require.NoError(t, err)
	t.Cleanup(registry.Stop)

	store := patternstore.NewMemory()
	manager := processor.New(store, config.Default())
	return New(registry, manager, config.Default())
}

func TestCreateSessionAndObserveAccumulatesSTM(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession("node-a", 60, config.SessionOverrides{})
	require.NoError(t, err)

	ack, err := e.Observe(context.Background(), sess.ID, observation.Observation{Strings: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, ack.STMLength)

	stm, err := e.GetSTM(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []session.Event{{"a", "b"}}, stm)
}

func TestExplicitLearnClearsSTM(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession("node-a", 60, config.SessionOverrides{})
	require.NoError(t, err)

	_, err = e.Observe(context.Background(), sess.ID, observation.Observation{Strings: []string{"a", "b"}})
	require.NoError(t, err)

	result, err := e.Learn(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, learner.StatusLearned, result.Status)

	stm, err := e.GetSTM(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stm)
}

func TestGetPredictionsAfterLearning(t *testing.T) {
	e := newTestEngine(t)
	sessionA, err := e.CreateSession("node-a", 60, config.SessionOverrides{})
	require.NoError(t, err)
	_, err = e.Observe(context.Background(), sessionA.ID, observation.Observation{Strings: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = e.Observe(context.Background(), sessionA.ID, observation.Observation{Strings: []string{"c"}})
	require.NoError(t, err)
	_, err = e.Learn(context.Background(), sessionA.ID)
	require.NoError(t, err)

	sessionB, err := e.CreateSession("node-a", 60, config.SessionOverrides{})
	require.NoError(t, err)
	_, err = e.Observe(context.Background(), sessionB.ID, observation.Observation{Strings: []string{"a", "b"}})
	require.NoError(t, err)

	preds, err := e.GetPredictions(context.Background(), sessionB.ID)
	require.NoError(t, err)
	require.Len(t, preds, 1)
}

func TestUpdateSessionConfigRejectsInvalidPatch(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession("node-a", 60, config.SessionOverrides{})
	require.NoError(t, err)

	bad := -1.0
	err = e.UpdateSessionConfig(context.Background(), sess.ID, config.SessionOverrides{RecallThreshold: &bad})
	assert.Error(t, err)
	assert.Equal(t, 0, sess.ConfigVersion(), "an invalid patch must never be applied")
}

func TestDeleteSessionThenGetFails(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession("node-a", 60, config.SessionOverrides{})
	require.NoError(t, err)

	require.NoError(t, e.DeleteSession(sess.ID))
	assert.False(t, e.SessionExists(sess.ID))

	_, err = e.GetSession(context.Background(), sess.ID)
	assert.Error(t, err)
}
