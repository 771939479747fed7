// Package patternstore implements the content-addressed pattern store,
// partitioned by node_id.
package patternstore

import (
	"context"
	"iter"
)

// Pattern is a content-addressed, learned record.
type Pattern struct {
	Name       string
	Sequence   [][]string
	Length     int
	Frequency  int64
	TokenSet   map[string]struct{}
	TokenCount int
	FirstToken string
	LastToken  string
	MinHashSig []uint32
	CoOccur    int64 // monotonic co-occurrence counter backing predictive_information (§4.8)
	Metadata   map[string]map[string]struct{}
	Emotives   []map[string]float64
}

// Clone returns a deep copy safe to hand to a caller without aliasing the
// store's internal maps/slices.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	out := &Pattern{
		Name:       p.Name,
		Length:     p.Length,
		Frequency:  p.Frequency,
		TokenCount: p.TokenCount,
		FirstToken: p.FirstToken,
		LastToken:  p.LastToken,
		CoOccur:    p.CoOccur,
	}
	out.Sequence = make([][]string, len(p.Sequence))
	for i, event := range p.Sequence {
		out.Sequence[i] = append([]string(nil), event...)
	}
	out.TokenSet = make(map[string]struct{}, len(p.TokenSet))
	for k := range p.TokenSet {
		out.TokenSet[k] = struct{}{}
	}
	out.MinHashSig = append([]uint32(nil), p.MinHashSig...)
	out.Metadata = make(map[string]map[string]struct{}, len(p.Metadata))
	for k, v := range p.Metadata {
		vs := make(map[string]struct{}, len(v))
		for s := range v {
			vs[s] = struct{}{}
		}
		out.Metadata[k] = vs
	}
	out.Emotives = make([]map[string]float64, len(p.Emotives))
	for i, e := range p.Emotives {
		em := make(map[string]float64, len(e))
		for k, v := range e {
			em[k] = v
		}
		out.Emotives[i] = em
	}
	return out
}

// Store is the durable, per-node-partitioned pattern repository.
// Implementations must make a hash collision fatal: if name is already
// present with a different Sequence, Upsert must abort the write and
// return a *katoerr.CollisionError.
type Store interface {
	// Get returns the pattern by name, or ok=false if absent.
	Get(ctx context.Context, nodeID, name string) (pattern *Pattern, ok bool, err error)

	// Upsert writes a fresh pattern (frequency=1) or, if name already
	// exists, verifies sequence equality, increments frequency, unions
	// metadata, and appends emotives.
	Upsert(ctx context.Context, nodeID string, p *Pattern) (*Pattern, error)

	// Count returns the number of distinct patterns stored for nodeID.
	Count(ctx context.Context, nodeID string) (int64, error)

	// TotalFrequency returns the sum of Frequency across every pattern
	// stored for nodeID, the Predictor's proxy for the node's total learn
	// count in the predictive-information formula.
	TotalFrequency(ctx context.Context, nodeID string) (int64, error)

	// BumpCoOccur adds delta to the pattern's CoOccur counter. Monotonic:
	// the Learner only ever calls this with a positive delta. A no-op if
	// the pattern does not exist.
	BumpCoOccur(ctx context.Context, nodeID, name string, delta int64) error

	// IterByToken yields every pattern containing token, for the given node.
	IterByToken(ctx context.Context, nodeID, token string) (iter.Seq[*Pattern], error)

	// All yields every pattern for the given node, used to rebuild the
	// in-memory candidate index on first access per node.
	All(ctx context.Context, nodeID string) (iter.Seq[*Pattern], error)

	// Nodes returns every node_id with at least one stored pattern, for
	// operator tooling (cmd/katoctl) that has no other way to discover
	// which nodes exist.
	Nodes(ctx context.Context) ([]string, error)
}
