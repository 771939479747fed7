package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/katoerr"
)

func TestAddEventExtendsTTLAndIncrementsTime(t *testing.T) {
	s := New("s1", "node-a", 60, config.SessionOverrides{})
	before := s.ExpiresAt()

	time.Sleep(time.Millisecond)
	n := s.AddEvent(Event{"a", "b"}, map[string]float64{"joy": 1}, nil)

	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), s.Time())
	assert.True(t, s.ExpiresAt().After(before))
}

func TestClearSTMEmptiesAccumulators(t *testing.T) {
	s := New("s1", "node-a", 60, config.SessionOverrides{})
	s.AddEvent(Event{"a"}, map[string]float64{"joy": 1}, map[string][]string{"k": {"v"}})
	s.ClearSTM()

	snap := s.Snapshot()
	assert.Empty(t, snap.STM)
	assert.Empty(t, snap.EmotivesAcc)
	assert.Empty(t, snap.MetadataAcc)
}

func TestDropOldestShrinksSTMByOne(t *testing.T) {
	s := New("s1", "node-a", 60, config.SessionOverrides{})
	s.AddEvent(Event{"a"}, nil, nil)
	s.AddEvent(Event{"b"}, nil, nil)
	s.DropOldest()

	snap := s.Snapshot()
	require.Len(t, snap.STM, 1)
	assert.Equal(t, Event{"b"}, snap.STM[0])
}

func TestSetOverridesMergesPartial(t *testing.T) {
	s := New("s1", "node-a", 60, config.SessionOverrides{})
	threshold := 0.5
	s.SetOverrides(config.SessionOverrides{RecallThreshold: &threshold})

	require.NotNil(t, s.Overrides.RecallThreshold)
	assert.Equal(t, 0.5, *s.Overrides.RecallThreshold)
}

func TestRegistryCreateGetDelete(t *testing.T) {
	reg, err := NewRegistry(10, time.Hour, nil)
	require.NoError(t, err)
	defer reg.Stop()

	s := reg.Create("node-a", 60, config.SessionOverrides{})
	got, err := reg.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	require.NoError(t, reg.Delete(s.ID))
	_, err = reg.Get(context.Background(), s.ID)
	assert.ErrorIs(t, err, katoerr.ErrSessionNotFound)
}

func TestRegistryGetExpiredReturnsSessionExpired(t *testing.T) {
	reg, err := NewRegistry(10, time.Hour, nil)
	require.NoError(t, err)
	defer reg.Stop()

	s := reg.Create("node-a", 0, config.SessionOverrides{})
	time.Sleep(2 * time.Millisecond)

	_, err = reg.Get(context.Background(), s.ID)
	assert.ErrorIs(t, err, katoerr.ErrSessionExpired)
}

func TestRegistrySweepRemovesExpiredSessions(t *testing.T) {
	reg, err := NewRegistry(10, 5*time.Millisecond, nil)
	require.NoError(t, err)
	defer reg.Stop()

	reg.Create("node-a", 0, config.SessionOverrides{})
	require.Eventually(t, func() bool {
		return reg.Len() == 0
	}, 200*time.Millisecond, 5*time.Millisecond)
}
