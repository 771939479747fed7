// Package vectorindex maps a dense vector to a symbol via
// nearest-neighbor lookup, scoped by node_id. The engine consumes vector
// storage only through an interface; this package is one concrete index
// satisfying it, swappable for an HNSW/IVF backend without touching the
// observation or prediction paths.
package vectorindex

import (
	"hash/fnv"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/katoml/kato/internal/hasher"
)

// Metric selects the distance function used to rank neighbors. Fixed per
// node for the life of the store.
type Metric int

const (
	MetricCosine Metric = iota
	MetricL2
)

type entry struct {
	symbol string
	vector []float64
}

// Index is a per-node, in-memory nearest-neighbor index over previously
// seen vectors. Safe for concurrent use.
type Index struct {
	metric Metric
	mu     sync.RWMutex
	byHash map[string]int // vector hash -> index into entries
	entries []entry
}

// New creates an empty index using the given similarity metric.
func New(metric Metric) *Index {
	return &Index{
		metric: metric,
		byHash: make(map[string]int),
	}
}

// Upsert computes the vector's hash; if absent, stores the vector under
// that hash; returns "VCTR|<hash>" either way.
func (idx *Index) Upsert(vector []float32) string {
	symbol := hasher.VectorSymbol(vector)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.byHash[symbol]; !ok {
		idx.byHash[symbol] = len(idx.entries)
		idx.entries = append(idx.entries, entry{symbol: symbol, vector: toFloat64(vector)})
	}
	return symbol
}

// Neighbors returns up to k symbols whose stored vectors are nearest to
// vector, always including the observed vector's own symbol if present.
// Ties break by ascending FNV-1a hash of the symbol.
// Returns an empty slice on an empty index; never errors on an unknown
// vector.
func (idx *Index) Neighbors(vector []float32, k int) []string {
	if k <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 {
		return nil
	}

	query := toFloat64(vector)
	self := hasher.VectorSymbol(vector)
	type scored struct {
		symbol string
		dist   float64
		tie    uint64
	}
	scoredEntries := make([]scored, 0, len(idx.entries))
	for _, e := range idx.entries {
		d := idx.distance(query, e.vector)
		scoredEntries = append(scoredEntries, scored{symbol: e.symbol, dist: d, tie: fnvHash(e.symbol)})
	}

	sort.Slice(scoredEntries, func(i, j int) bool {
		if iSelf, jSelf := scoredEntries[i].symbol == self, scoredEntries[j].symbol == self; iSelf != jSelf {
			return iSelf
		}
		if scoredEntries[i].dist != scoredEntries[j].dist {
			return scoredEntries[i].dist < scoredEntries[j].dist
		}
		return scoredEntries[i].tie < scoredEntries[j].tie
	})

	if k > len(scoredEntries) {
		k = len(scoredEntries)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = scoredEntries[i].symbol
	}
	return out
}

// distance returns a value where smaller means more similar, regardless
// of the configured metric (cosine distance = 1 - cosine similarity).
func (idx *Index) distance(a, b []float64) float64 {
	switch idx.metric {
	case MetricL2:
		return floats.Distance(a, b, 2)
	default: // MetricCosine
		na := floats.Norm(a, 2)
		nb := floats.Norm(b, 2)
		if na == 0 || nb == 0 {
			return 1
		}
		cos := floats.Dot(a, b) / (na * nb)
		return 1 - cos
	}
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
