package patternstore

import (
	"context"
	"iter"
	"sync"

	"github.com/katoml/kato/internal/katoerr"
)

// Memory is an in-memory Store, used by unit tests and by cmd/katoctl in
// dry-run mode. One mutex per node_id keeps unrelated nodes from
// contending on the same lock.
type Memory struct {
	mu    sync.Mutex
	nodes map[string]*nodeStore
}

type nodeStore struct {
	mu       sync.Mutex
	patterns map[string]*Pattern
}

// NewMemory creates an empty in-memory pattern store.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]*nodeStore)}
}

func (m *Memory) nodeFor(nodeID string) *nodeStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.nodes[nodeID]
	if !ok {
		ns = &nodeStore{patterns: make(map[string]*Pattern)}
		m.nodes[nodeID] = ns
	}
	return ns
}

func (m *Memory) Get(_ context.Context, nodeID, name string) (*Pattern, bool, error) {
	ns := m.nodeFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	p, ok := ns.patterns[name]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *Memory) Upsert(_ context.Context, nodeID string, p *Pattern) (*Pattern, error) {
	ns := m.nodeFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	existing, ok := ns.patterns[p.Name]
	if !ok {
		fresh := p.Clone()
		fresh.Frequency = 1
		ns.patterns[p.Name] = fresh
		return fresh.Clone(), nil
	}

	if !sequenceEqual(existing.Sequence, p.Sequence) {
		return nil, katoerr.NewCollisionError(nodeID, p.Name)
	}

	existing.Frequency++
	unionMetadata(existing.Metadata, p.Metadata)
	existing.Emotives = append(existing.Emotives, p.Emotives...)
	return existing.Clone(), nil
}

func (m *Memory) Count(_ context.Context, nodeID string) (int64, error) {
	ns := m.nodeFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return int64(len(ns.patterns)), nil
}

func (m *Memory) TotalFrequency(_ context.Context, nodeID string) (int64, error) {
	ns := m.nodeFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	var total int64
	for _, p := range ns.patterns {
		total += p.Frequency
	}
	return total, nil
}

func (m *Memory) BumpCoOccur(_ context.Context, nodeID, name string, delta int64) error {
	ns := m.nodeFor(nodeID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if p, ok := ns.patterns[name]; ok {
		p.CoOccur += delta
	}
	return nil
}

func (m *Memory) IterByToken(_ context.Context, nodeID, token string) (iter.Seq[*Pattern], error) {
	ns := m.nodeFor(nodeID)
	ns.mu.Lock()
	matches := make([]*Pattern, 0)
	for _, p := range ns.patterns {
		if _, ok := p.TokenSet[token]; ok {
			matches = append(matches, p.Clone())
		}
	}
	ns.mu.Unlock()

	return func(yield func(*Pattern) bool) {
		for _, p := range matches {
			if !yield(p) {
				return
			}
		}
	}, nil
}

// Nodes returns every node_id currently holding at least one pattern.
func (m *Memory) Nodes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.nodes))
	for nodeID, ns := range m.nodes {
		ns.mu.Lock()
		n := len(ns.patterns)
		ns.mu.Unlock()
		if n > 0 {
			out = append(out, nodeID)
		}
	}
	return out, nil
}

func (m *Memory) All(_ context.Context, nodeID string) (iter.Seq[*Pattern], error) {
	ns := m.nodeFor(nodeID)
	ns.mu.Lock()
	all := make([]*Pattern, 0, len(ns.patterns))
	for _, p := range ns.patterns {
		all = append(all, p.Clone())
	}
	ns.mu.Unlock()

	return func(yield func(*Pattern) bool) {
		for _, p := range all {
			if !yield(p) {
				return
			}
		}
	}, nil
}

func sequenceEqual(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func unionMetadata(dst, src map[string]map[string]struct{}) {
	for key, values := range src {
		set, ok := dst[key]
		if !ok {
			set = make(map[string]struct{})
			dst[key] = set
		}
		for v := range values {
			set[v] = struct{}{}
		}
	}
}

var _ Store = (*Memory)(nil)
