// Package learner compresses a session's STM into a content-addressed
// pattern, upserting it into the pattern store and updating the candidate
// index on first insert.
package learner

import (
	"context"
	"fmt"

	"github.com/katoml/kato/internal/candidateindex"
	"github.com/katoml/kato/internal/hasher"
	"github.com/katoml/kato/internal/katoerr"
	"github.com/katoml/kato/internal/patternstore"
	"github.com/katoml/kato/internal/session"
)

// Status distinguishes a successful learn from the insufficient-data
// case, which is a normal outcome rather than an error: learn returns a
// status alongside a nil error instead of a sentinel.
type Status string

const (
	StatusLearned          Status = "learned"
	StatusInsufficientData Status = "insufficient_data"
)

// Result is the outcome of one Learn call.
type Result struct {
	Status      Status `json:"status"`
	PatternName string `json:"pattern_name"`
}

// Index is the per-node candidate index updated on a fresh insert and
// queried to detect co-occurrence with already-learned patterns
// (satisfied by *internal/candidateindex.Index).
type Index interface {
	Add(name string, tokenSet map[string]struct{})
	Query(tokens map[string]struct{}) []string
}

// Learner wires the hasher, pattern store, and candidate index together
// to implement the learn procedure.
type Learner struct {
	store patternstore.Store
	index func(nodeID string) Index
}

// New builds a Learner. indexFor resolves the per-node candidate index,
// e.g. a closure returning processor.Components.Index.
func New(store patternstore.Store, indexFor func(nodeID string) Index) *Learner {
	return &Learner{store: store, index: indexFor}
}

// Learn compresses sess's current STM into a pattern. Clearing STM
// afterward is the caller's responsibility, not the Learner's: the
// observation pipeline has two distinct post-auto-learn policies (CLEAR
// vs. ROLLING's partial drop), and the
// explicit `learn` operation always wants a full clear — a single shared
// clearing step inside Learn would have to know which policy applies, so
// instead every caller (observation.Processor, the explicit learn
// handler) clears STM itself once Learn reports success.
func (l *Learner) Learn(ctx context.Context, nodeID string, sess *session.Session) (string, bool, error) {
	result, err := l.LearnResult(ctx, nodeID, sess)
	if err != nil {
		return "", false, err
	}
	return result.PatternName, result.Status == StatusLearned, nil
}

// LearnResult is the full-fidelity entry point exposing the
// insufficient_data status, used directly by the
// explicit `learn` operation; Learn is the trimmed interface the
// observation pipeline consumes.
func (l *Learner) LearnResult(ctx context.Context, nodeID string, sess *session.Session) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, katoerr.ErrCancelled
	}

	snap := sess.Snapshot()
	totalSymbols := 0
	for _, event := range snap.STM {
		totalSymbols += len(event)
	}
	if totalSymbols < 2 {
		return Result{Status: StatusInsufficientData}, nil
	}

	sequence := make([][]string, len(snap.STM))
	for i, event := range snap.STM {
		sequence[i] = append([]string(nil), event...)
	}

	name := hasher.PatternName(sequence)
	tokenSet, tokenCount, firstToken, lastToken := deriveTokenFields(sequence)
	minhashSig := candidateindex.MinHashSignature(tokenSet, candidateindex.DefaultParams())

	pattern := &patternstore.Pattern{
		Name:       name,
		Sequence:   sequence,
		Length:     len(sequence),
		TokenSet:   tokenSet,
		TokenCount: tokenCount,
		FirstToken: firstToken,
		LastToken:  lastToken,
		MinHashSig: minhashSig,
		Metadata:   toMetadataSet(snap.MetadataAcc),
		Emotives:   snap.EmotivesAcc,
	}

	_, existed, err := l.store.Get(ctx, nodeID, name)
	if err != nil {
		return Result{}, fmt.Errorf("learner: lookup %s/%s: %w", nodeID, name, err)
	}

	stored, err := l.store.Upsert(ctx, nodeID, pattern)
	if err != nil {
		return Result{}, fmt.Errorf("learner: upsert %s/%s: %w", nodeID, name, err)
	}

	if l.index != nil {
		idx := l.index(nodeID)
		if !existed {
			idx.Add(stored.Name, stored.TokenSet)
		}
		l.bumpCoOccurIfOverlapping(ctx, nodeID, stored, idx)
	}

	return Result{Status: StatusLearned, PatternName: name}, nil
}

// bumpCoOccurIfOverlapping maintains the co-occurrence counter behind
// predictive information: if this learn event's pattern shares a token
// with any other already-known pattern, stored's CoOccur is incremented
// by 1. The query
// runs against the post-insert index, so a freshly added pattern is
// excluded by name rather than by ordering the Add/Query calls.
func (l *Learner) bumpCoOccurIfOverlapping(ctx context.Context, nodeID string, stored *patternstore.Pattern, idx Index) {
	for _, candidate := range idx.Query(stored.TokenSet) {
		if candidate != stored.Name {
			// Best-effort scoring signal: a failed bump never fails the learn.
			_ = l.store.BumpCoOccur(ctx, nodeID, stored.Name, 1)
			return
		}
	}
}

func deriveTokenFields(sequence [][]string) (map[string]struct{}, int, string, string) {
	tokenSet := make(map[string]struct{})
	count := 0
	var first, last string
	for _, event := range sequence {
		for _, sym := range event {
			if count == 0 {
				first = sym
			}
			last = sym
			count++
			tokenSet[sym] = struct{}{}
		}
	}
	return tokenSet, count, first, last
}

func toMetadataSet(acc map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(acc))
	for key, values := range acc {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		out[key] = set
	}
	return out
}
