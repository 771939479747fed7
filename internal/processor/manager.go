// Package processor implements the per-tenant binding layer: each node_id
// gets its own isolated (VectorIndex, CandidateIndex) pair, sharing the
// single PatternStore, which already partitions by node_id internally.
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/katoml/kato/internal/candidateindex"
	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/nodeid"
	"github.com/katoml/kato/internal/patternstore"
	"github.com/katoml/kato/internal/vectorindex"
)

// base is the fixed processor-ID component appended to every sanitized
// node_id, forming `{safe_node}_{safe_base}`. KATO runs a single
// logical processor per node, so base never varies.
const base = "processor"

// Components is one node's isolated vector and candidate indices plus a
// handle to the shared, node_id-partitioned pattern store.
type Components struct {
	Vectors *vectorindex.Index
	Store   patternstore.Store
	Index   *candidateindex.Index
	NodeID  string
}

// Manager lazily creates and caches a Components triple per sanitized
// node_id. Concurrent first-access for the same node_id converges on one
// Components value: the lock is held only long enough to install (or
// retrieve) a *sync.Once, never across the Once's own initialization
// work, so a slow first call for node A never blocks a concurrent call
// for node B.
type Manager struct {
	store    patternstore.Store
	defaults config.NodeDefaults

	mu       sync.Mutex
	onceByID map[string]*sync.Once
	compByID map[string]*Components
	idToNode map[string]string
}

// New builds a Manager over the shared pattern store and node defaults.
func New(store patternstore.Store, defaults config.NodeDefaults) *Manager {
	return &Manager{
		store:    store,
		defaults: defaults,
		onceByID: make(map[string]*sync.Once),
		compByID: make(map[string]*Components),
		idToNode: make(map[string]string),
	}
}

// Get returns the Components bound to nodeID, creating and caching them
// on first access. The candidate index is not itself durable; it is
// lazily rebuilt from the store here.
func (m *Manager) Get(ctx context.Context, nodeID string) (*Components, error) {
	processorID := m.reserve(nodeID)

	var initErr error
	once := m.onceFor(processorID)
	once.Do(func() {
		comp, err := m.build(ctx, nodeID)
		if err != nil {
			initErr = err
			return
		}
		m.mu.Lock()
		m.compByID[processorID] = comp
		m.mu.Unlock()
	})
	if initErr != nil {
		// Allow a retry on a future call instead of caching a permanent
		// failure behind an already-fired sync.Once.
		m.mu.Lock()
		m.onceByID[processorID] = &sync.Once{}
		m.mu.Unlock()
		return nil, initErr
	}

	m.mu.Lock()
	comp := m.compByID[processorID]
	m.mu.Unlock()
	return comp, nil
}

// reserve records the sanitized-ID -> node_id mapping up front so the ID
// remains resolvable even if initialization is still in flight.
func (m *Manager) reserve(nodeID string) string {
	processorID := nodeid.ProcessorID(nodeID, base)
	m.mu.Lock()
	m.idToNode[processorID] = nodeID
	m.mu.Unlock()
	return processorID
}

func (m *Manager) onceFor(processorID string) *sync.Once {
	m.mu.Lock()
	defer m.mu.Unlock()
	once, ok := m.onceByID[processorID]
	if !ok {
		once = &sync.Once{}
		m.onceByID[processorID] = once
	}
	return once
}

func (m *Manager) build(ctx context.Context, nodeID string) (*Components, error) {
	metric := vectorindex.MetricCosine
	if m.defaults.VectorMetric == config.VectorMetricL2 {
		metric = vectorindex.MetricL2
	}

	comp := &Components{
		Vectors: vectorindex.New(metric),
		Store:   m.store,
		Index:   candidateindex.New(candidateindex.Params{Bands: m.defaults.LSHBands, RowsPerBand: m.defaults.LSHRowsPerBand}),
		NodeID:  nodeID,
	}

	patterns, err := m.store.All(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("processor: rebuild candidate index for %s: %w", nodeID, err)
	}
	for p := range patterns {
		comp.Index.Add(p.Name, p.TokenSet)
	}
	return comp, nil
}

// NodeIDFor reverses a sanitized processor ID back to its source node_id,
// for IDs this Manager has already bound.
func (m *Manager) NodeIDFor(processorID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodeID, ok := m.idToNode[processorID]
	return nodeID, ok
}
