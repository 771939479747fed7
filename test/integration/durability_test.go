package integration

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/database"
	"github.com/katoml/kato/internal/engine"
	"github.com/katoml/kato/internal/observation"
	"github.com/katoml/kato/internal/patternstore"
	"github.com/katoml/kato/internal/processor"
	"github.com/katoml/kato/internal/session"
)

func newDurableEngine(t *testing.T) (*engine.Engine, patternstore.Store) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("kato_test"),
		postgres.WithUsername("kato"),
		postgres.WithPassword("kato"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host:            host,
		Port:            port.Int(),
		User:            "kato",
		Password:        "kato",
		Database:        "kato_test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
		LockTimeout:     5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := patternstore.NewPostgres(client.DB())
	registry, err := session.NewRegistry(1000, time.Hour, slog.Default())
	require.NoError(t, err)
	t.Cleanup(registry.Stop)

	manager := processor.New(store, config.Default())
	return engine.New(registry, manager, config.Default()), store
}

// TestDurableKnowledgeAcrossSessionLifetime: deleting the session that
// learned a pattern never deletes the pattern itself.
func TestDurableKnowledgeAcrossSessionLifetime(t *testing.T) {
	ctx := context.Background()
	e, _ := newDurableEngine(t)

	x, err := e.CreateSession("node-durable", 60, config.SessionOverrides{})
	require.NoError(t, err)
	_, err = e.Observe(ctx, x.ID, observation.Observation{Strings: []string{"p", "q"}})
	require.NoError(t, err)
	_, err = e.Observe(ctx, x.ID, observation.Observation{Strings: []string{"r"}})
	require.NoError(t, err)
	result, err := e.Learn(ctx, x.ID)
	require.NoError(t, err)
	require.NotEmpty(t, result.PatternName)

	require.NoError(t, e.DeleteSession(x.ID))
	assert.False(t, e.SessionExists(x.ID))

	y, err := e.CreateSession("node-durable", 60, config.SessionOverrides{})
	require.NoError(t, err)
	_, err = e.Observe(ctx, y.ID, observation.Observation{Strings: []string{"p", "q"}})
	require.NoError(t, err)

	preds, err := e.GetPredictions(ctx, y.ID)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, result.PatternName, preds[0].Name)
}

// TestRelearnSameSequenceIncrementsFrequency exercises the re-learn path
// against the durable backend.
func TestRelearnSameSequenceIncrementsFrequency(t *testing.T) {
	ctx := context.Background()
	e, store := newDurableEngine(t)

	learnOnce := func() string {
		sess, err := e.CreateSession("node-relearn", 60, config.SessionOverrides{})
		require.NoError(t, err)
		_, err = e.Observe(ctx, sess.ID, observation.Observation{Strings: []string{"m", "n"}})
		require.NoError(t, err)
		result, err := e.Learn(ctx, sess.ID)
		require.NoError(t, err)
		return result.PatternName
	}

	first := learnOnce()
	second := learnOnce()
	assert.Equal(t, first, second)

	stored, ok, err := store.Get(ctx, "node-relearn", first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), stored.Frequency, "frequency must increase by exactly 1 per re-learn")
}
