// Package integration holds cross-component scenarios that exercise the
// full engine stack rather than a single package in isolation.
package integration

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/engine"
	"github.com/katoml/kato/internal/observation"
	"github.com/katoml/kato/internal/patternstore"
	"github.com/katoml/kato/internal/processor"
	"github.com/katoml/kato/internal/session"
)

func newTestEngine(t *testing.T) (*engine.Engine, patternstore.Store) {
	t.Helper()
	registry, err := session.NewRegistry(1000, time.Hour, slog.Default())
	require.NoError(t, err)
	t.Cleanup(registry.Stop)

	store := patternstore.NewMemory()
	manager := processor.New(store, config.Default())
	return engine.New(registry, manager, config.Default()), store
}

// TestCrossSessionIsolation: sessions on different node_ids are mutually
// invisible.
func TestCrossSessionIsolation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	ua, err := e.CreateSession("node-alice", 60, config.SessionOverrides{})
	require.NoError(t, err)
	ub, err := e.CreateSession("node-bob", 60, config.SessionOverrides{})
	require.NoError(t, err)

	_, err = e.Observe(ctx, ua.ID, observation.Observation{Strings: []string{"alice", "data"}})
	require.NoError(t, err)
	_, err = e.Observe(ctx, ub.ID, observation.Observation{Strings: []string{"bob", "info"}})
	require.NoError(t, err)

	stmA, err := e.GetSTM(ctx, ua.ID)
	require.NoError(t, err)
	stmB, err := e.GetSTM(ctx, ub.ID)
	require.NoError(t, err)

	assert.Equal(t, []session.Event{{"alice", "data"}}, stmA)
	assert.Equal(t, []session.Event{{"bob", "info"}}, stmB)

	_, err = e.Learn(ctx, ua.ID)
	require.NoError(t, err)

	predsB, err := e.GetPredictions(ctx, ub.ID)
	require.NoError(t, err)
	for _, p := range predsB {
		assert.NotContains(t, p.Matches, "alice")
		assert.NotContains(t, p.Matches, "data")
	}
}

// TestSameNodeDifferentSessionsShareLearnedPatterns documents the flip side
// of isolation: node_id, not session_id, is the knowledge boundary.
func TestSameNodeDifferentSessionsShareLearnedPatterns(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	sessionA, err := e.CreateSession("node-shared", 60, config.SessionOverrides{})
	require.NoError(t, err)
	_, err = e.Observe(ctx, sessionA.ID, observation.Observation{Strings: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = e.Observe(ctx, sessionA.ID, observation.Observation{Strings: []string{"c"}})
	require.NoError(t, err)
	result, err := e.Learn(ctx, sessionA.ID)
	require.NoError(t, err)
	require.NotEmpty(t, result.PatternName)

	sessionB, err := e.CreateSession("node-shared", 60, config.SessionOverrides{})
	require.NoError(t, err)
	_, err = e.Observe(ctx, sessionB.ID, observation.Observation{Strings: []string{"a", "b"}})
	require.NoError(t, err)

	preds, err := e.GetPredictions(ctx, sessionB.ID)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, result.PatternName, preds[0].Name)
}

// TestAutoLearnRollingPolicy: ROLLING keeps the newest
// max_pattern_length-1 events after each auto-learn.
func TestAutoLearnRollingPolicy(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	four := 4
	rolling := config.STMRolling
	sess, err := e.CreateSession("node-rolling", 60, config.SessionOverrides{
		MaxPatternLength: &four,
		STMMode:          &rolling,
	})
	require.NoError(t, err)

	var learned []string
	for _, sym := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		ack, err := e.Observe(ctx, sess.ID, observation.Observation{Strings: []string{sym}})
		require.NoError(t, err)
		if ack.AutoLearnedPattern != "" {
			learned = append(learned, ack.AutoLearnedPattern)
		}
	}

	assert.Len(t, learned, 4, "auto-learn fires on the 4th, 5th, 6th, and 7th observations")

	stm, err := e.GetSTM(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []session.Event{{"e"}, {"f"}, {"g"}}, stm)
}

// TestEmotivesAccumulateAcrossRelearn: re-learning the same sequence
// appends the new emotives after the previously stored ones; nothing is
// averaged at storage time.
func TestEmotivesAccumulateAcrossRelearn(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	sess, err := e.CreateSession("node-emotives", 60, config.SessionOverrides{})
	require.NoError(t, err)

	learnXY := func(moodX, moodY float64) string {
		_, err := e.Observe(ctx, sess.ID, observation.Observation{
			Strings: []string{"X"}, Emotives: map[string]float64{"mood": moodX},
		})
		require.NoError(t, err)
		_, err = e.Observe(ctx, sess.ID, observation.Observation{
			Strings: []string{"Y"}, Emotives: map[string]float64{"mood": moodY},
		})
		require.NoError(t, err)
		result, err := e.Learn(ctx, sess.ID)
		require.NoError(t, err)
		return result.PatternName
	}

	first := learnXY(0.9, 0.8)
	second := learnXY(0.5, 0.3)
	require.Equal(t, first, second)

	stored, ok, err := store.Get(ctx, "node-emotives", first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []map[string]float64{
		{"mood": 0.9}, {"mood": 0.8}, {"mood": 0.5}, {"mood": 0.3},
	}, stored.Emotives)
}

// TestMetadataSetUnion: metadata values accumulate per key as a set, so
// duplicates collapse.
func TestMetadataSetUnion(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	sess, err := e.CreateSession("node-metadata", 60, config.SessionOverrides{})
	require.NoError(t, err)

	steps := []observation.Observation{
		{Strings: []string{"e1"}, Metadata: map[string][]string{"book": {"title1"}, "author": {"Smith"}}},
		{Strings: []string{"e2"}, Metadata: map[string][]string{"book": {"title2"}, "chapter": {"1"}}},
		{Strings: []string{"e3"}, Metadata: map[string][]string{"book": {"title1"}, "chapter": {"2"}}},
	}
	for _, obs := range steps {
		_, err := e.Observe(ctx, sess.ID, obs)
		require.NoError(t, err)
	}
	result, err := e.Learn(ctx, sess.ID)
	require.NoError(t, err)

	stored, ok, err := store.Get(ctx, "node-metadata", result.PatternName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]map[string]struct{}{
		"book":    {"title1": {}, "title2": {}},
		"author":  {"Smith": {}},
		"chapter": {"1": {}, "2": {}},
	}, stored.Metadata)
}

// TestObserveClearObserveRoundTrip covers the round-trip law: observing
// the same input after a clear reproduces the identical STM state.
func TestObserveClearObserveRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	sess, err := e.CreateSession("node-roundtrip", 60, config.SessionOverrides{})
	require.NoError(t, err)

	obs := observation.Observation{Strings: []string{"b", "a", "c"}}
	_, err = e.Observe(ctx, sess.ID, obs)
	require.NoError(t, err)
	before, err := e.GetSTM(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, e.ClearSTM(ctx, sess.ID))
	_, err = e.Observe(ctx, sess.ID, obs)
	require.NoError(t, err)
	after, err := e.GetSTM(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}
