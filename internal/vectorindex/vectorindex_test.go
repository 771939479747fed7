package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertReturnsStableSymbol(t *testing.T) {
	idx := New(MetricCosine)
	v := []float32{1, 2, 3}
	s1 := idx.Upsert(v)
	s2 := idx.Upsert(v)
	assert.Equal(t, s1, s2)
	assert.Equal(t, 1, len(idx.entries))
}

func TestNeighborsEmptyIndex(t *testing.T) {
	idx := New(MetricCosine)
	got := idx.Neighbors([]float32{1, 2, 3}, 4)
	assert.Empty(t, got)
}

func TestNeighborsIncludesSelf(t *testing.T) {
	idx := New(MetricCosine)
	v := []float32{1, 0, 0}
	self := idx.Upsert(v)
	idx.Upsert([]float32{0, 1, 0})
	idx.Upsert([]float32{0, 0, 1})

	got := idx.Neighbors(v, 1)
	require.Len(t, got, 1)
	assert.Equal(t, self, got[0])
}

func TestNeighborsOrdersByDistance(t *testing.T) {
	idx := New(MetricL2)
	near := idx.Upsert([]float32{1, 1, 1})
	far := idx.Upsert([]float32{10, 10, 10})

	got := idx.Neighbors([]float32{1, 1, 1.1}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, near, got[0])
	assert.Equal(t, far, got[1])
}

func TestNeighborsCapsAtK(t *testing.T) {
	idx := New(MetricCosine)
	idx.Upsert([]float32{1, 0})
	idx.Upsert([]float32{0, 1})
	idx.Upsert([]float32{1, 1})

	got := idx.Neighbors([]float32{1, 0}, 2)
	assert.Len(t, got, 2)
}
