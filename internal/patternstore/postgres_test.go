package patternstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/katoml/kato/internal/database"
)

func newTestStore(t *testing.T) *Postgres {
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

	return NewPostgres(client.DB())
}

func testPattern(name string, tokens ...string) *Pattern {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return &Pattern{
		Name:       name,
		Sequence:   [][]string{tokens},
		Length:     1,
		TokenSet:   set,
		TokenCount: len(tokens),
		FirstToken: tokens[0],
		LastToken:  tokens[len(tokens)-1],
		MinHashSig: []uint32{1, 2, 3, 4},
		Metadata:   map[string]map[string]struct{}{},
		Emotives:   nil,
	}
}

func TestPostgresUpsertFreshInsertsWithFrequencyOne(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.Upsert(ctx, "node-a", testPattern("PTRN|x", "t1", "t2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Frequency)

	got, ok, err := store.Get(ctx, "node-a", "PTRN|x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Frequency)
}

func TestPostgresUpsertRelearnIncrementsFrequency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "node-a", testPattern("PTRN|x", "t1", "t2"))
	require.NoError(t, err)
	p2, err := store.Upsert(ctx, "node-a", testPattern("PTRN|x", "t1", "t2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), p2.Frequency)
}

func TestPostgresUpsertCollisionIsFatal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "node-a", testPattern("PTRN|x", "t1", "t2"))
	require.NoError(t, err)

	collider := testPattern("PTRN|x", "t1", "t3")
	_, err = store.Upsert(ctx, "node-a", collider)
	require.Error(t, err)

	got, ok, err := store.Get(ctx, "node-a", "PTRN|x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Frequency, "colliding write must not mutate the stored row")
}

func TestPostgresNodesAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "node-a", testPattern("PTRN|x", "t1"))
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "node-b", "PTRN|x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresIterByTokenFindsMatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "node-a", testPattern("PTRN|x", "shared", "only-x"))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "node-a", testPattern("PTRN|y", "shared", "only-y"))
	require.NoError(t, err)

	var names []string
	seq, err := store.IterByToken(ctx, "node-a", "shared")
	require.NoError(t, err)
	for p := range seq {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"PTRN|x", "PTRN|y"}, names)
}
