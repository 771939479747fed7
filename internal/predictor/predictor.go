// Package predictor shortlists candidate patterns, scores them against
// the current STM, and returns a sorted, truncated list of predictions.
package predictor

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/patternstore"
	"github.com/katoml/kato/internal/session"
)

// Index shortlists candidate pattern names for a query token set
// (satisfied by *internal/candidateindex.Index).
type Index interface {
	Query(tokens map[string]struct{}) []string
}

// Prediction is one scored, segment-decomposed candidate.
type Prediction struct {
	Name       string  `json:"name"`
	Frequency  int64   `json:"frequency"`
	Similarity float64 `json:"similarity"`

	Matches []string   `json:"matches"`
	Missing []string   `json:"missing"`
	Past    [][]string `json:"past"`
	Present [][]string `json:"present"`
	Future  [][]string `json:"future"`

	Emotives map[string]float64  `json:"emotives"`
	Metadata map[string][]string `json:"metadata"`

	BayesianPrior      float64 `json:"bayesian_prior"`
	BayesianLikelihood float64 `json:"bayesian_likelihood"`
	BayesianPosterior  float64 `json:"bayesian_posterior"`
	PredictiveInfo     float64 `json:"predictive_information"`
	Potential          float64 `json:"potential"`
}

// Predictor wires the candidate index and pattern store together into
// the shortlist -> score -> sort pipeline.
type Predictor struct {
	store    patternstore.Store
	index    func(nodeID string) Index
	defaults config.NodeDefaults
}

// New builds a Predictor over the given collaborators.
func New(store patternstore.Store, indexFor func(nodeID string) Index, defaults config.NodeDefaults) *Predictor {
	return &Predictor{store: store, index: indexFor, defaults: defaults}
}

// Predict returns the ranked, truncated prediction list for sess's
// current STM.
func (p *Predictor) Predict(ctx context.Context, nodeID string, sess *session.Session) ([]Prediction, error) {
	eff := config.Resolve(p.defaults, sess.Overrides)
	stm := sess.STM()

	queryTokens, totalQuerySymbols := tokenMultiset(stm)
	if totalQuerySymbols < 2 {
		return nil, nil
	}

	names := p.index(nodeID).Query(queryTokens)
	if len(names) == 0 {
		return nil, nil
	}

	totalLearns, err := p.store.TotalFrequency(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("predictor: total frequency for %s: %w", nodeID, err)
	}

	var survivors []Prediction
	var patterns []*patternstore.Pattern
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pattern, ok, err := p.store.Get(ctx, nodeID, name)
		if err != nil {
			return nil, fmt.Errorf("predictor: get %s/%s: %w", nodeID, name, err)
		}
		if !ok {
			continue
		}

		similarity := diceSimilarity(stm, totalQuerySymbols, pattern)
		if similarity < eff.RecallThreshold {
			continue
		}

		past, present, future, matches, missing := decomposeSegments(queryTokens, pattern.Sequence)

		survivors = append(survivors, Prediction{
			Name:               pattern.Name,
			Frequency:          pattern.Frequency,
			Similarity:         similarity,
			Matches:            matches,
			Missing:            missing,
			Past:               past,
			Present:            present,
			Future:             future,
			Emotives:           meanEmotives(pattern.Emotives),
			Metadata:           metadataToSlices(pattern.Metadata),
			BayesianLikelihood: similarity,
		})
		patterns = append(patterns, pattern)
	}
	if len(survivors) == 0 {
		return nil, nil
	}

	applyBayesianScores(survivors)
	for i := range survivors {
		survivors[i].PredictiveInfo = predictiveInformation(patterns[i], totalLearns)
		survivors[i].Potential = survivors[i].Similarity * survivors[i].PredictiveInfo
	}

	sortPredictions(survivors, eff.SortKey)
	if eff.MaxPredictions > 0 && len(survivors) > eff.MaxPredictions {
		survivors = survivors[:eff.MaxPredictions]
	}
	return survivors, nil
}

// tokenMultiset flattens STM into a set of distinct symbols plus the total
// symbol count (with multiplicity), used both for the "2+ rule" check and
// as the query set for the candidate index and the Dice denominator.
func tokenMultiset(stm []session.Event) (map[string]struct{}, int) {
	set := make(map[string]struct{})
	total := 0
	for _, event := range stm {
		for _, sym := range event {
			set[sym] = struct{}{}
			total++
		}
	}
	return set, total
}

// diceSimilarity computes 2*|matches| / (|STM tokens| + |pattern tokens|)
// using multiplicities: a shared symbol counts as many times as it occurs
// on the side where it occurs least. STM contributes totalQuerySymbols
// (with multiplicity); the pattern contributes TokenCount (with
// multiplicity, as stored by the Learner).
func diceSimilarity(stm []session.Event, totalQuerySymbols int, pattern *patternstore.Pattern) float64 {
	queryCounts := make(map[string]int)
	for _, event := range stm {
		for _, sym := range event {
			queryCounts[sym]++
		}
	}
	patternCounts := make(map[string]int)
	for _, event := range pattern.Sequence {
		for _, sym := range event {
			patternCounts[sym]++
		}
	}
	matches := 0
	for tok, n := range queryCounts {
		matches += min(n, patternCounts[tok])
	}
	denom := totalQuerySymbols + pattern.TokenCount
	if denom == 0 {
		return 0
	}
	return 2 * float64(matches) / float64(denom)
}

// decomposeSegments aligns STM against pattern's sequence. present is
// the contiguous span of pattern events from the first to the last event
// overlapping STM's token set; past/future are the events before/after
// that span. matches/missing are computed at token level against
// present's tokens, not the whole pattern.
func decomposeSegments(queryTokens map[string]struct{}, sequence [][]string) (past, present, future [][]string, matches, missing []string) {
	firstIdx, lastIdx := -1, -1
	for i, event := range sequence {
		if eventOverlaps(event, queryTokens) {
			if firstIdx == -1 {
				firstIdx = i
			}
			lastIdx = i
		}
	}

	if firstIdx == -1 {
		return nil, nil, sequence, nil, nil
	}

	past = cloneEvents(sequence[:firstIdx])
	present = cloneEvents(sequence[firstIdx : lastIdx+1])
	future = cloneEvents(sequence[lastIdx+1:])

	presentTokens := make(map[string]struct{})
	for _, event := range present {
		for _, sym := range event {
			presentTokens[sym] = struct{}{}
		}
	}

	matchSet := make(map[string]struct{})
	for tok := range presentTokens {
		if _, ok := queryTokens[tok]; ok {
			matchSet[tok] = struct{}{}
		} else {
			missing = append(missing, tok)
		}
	}
	for tok := range matchSet {
		matches = append(matches, tok)
	}
	sort.Strings(matches)
	sort.Strings(missing)
	return past, present, future, matches, missing
}

func eventOverlaps(event []string, tokens map[string]struct{}) bool {
	for _, sym := range event {
		if _, ok := tokens[sym]; ok {
			return true
		}
	}
	return false
}

func cloneEvents(events [][]string) [][]string {
	if events == nil {
		return nil
	}
	out := make([][]string, len(events))
	for i, e := range events {
		out[i] = append([]string(nil), e...)
	}
	return out
}

// applyBayesianScores computes prior/posterior across the surviving
// ensemble in place: prior is each candidate's share of total frequency
// among survivors (frequency is always >= 1 once a pattern is stored, so
// totalFreq > 0 whenever survivors is non-empty); likelihood is already
// similarity; posterior is normalized so the ensemble sums to 1.0 when
// evidence > 0.
func applyBayesianScores(survivors []Prediction) {
	if len(survivors) == 1 {
		// A single surviving candidate is always certain, independent of
		// its similarity/frequency.
		survivors[0].BayesianPrior = 1.0
		survivors[0].BayesianPosterior = 1.0
		return
	}

	var totalFreq int64
	for _, s := range survivors {
		totalFreq += s.Frequency
	}

	var evidence float64
	for i := range survivors {
		prior := float64(survivors[i].Frequency) / float64(totalFreq)
		survivors[i].BayesianPrior = prior
		evidence += survivors[i].BayesianLikelihood * prior
	}

	for i := range survivors {
		if evidence > 0 {
			survivors[i].BayesianPosterior = (survivors[i].BayesianLikelihood * survivors[i].BayesianPrior) / evidence
		} else {
			survivors[i].BayesianPosterior = 0
		}
	}
}

// predictiveInformation is normalized pointwise mutual information over
// the pattern's monotonic CoOccur counter, mapped from [-1,1] into [0,1].
// A pattern never yet co-observed with another scores 0.
func predictiveInformation(pattern *patternstore.Pattern, totalLearns int64) float64 {
	if pattern.CoOccur <= 0 || totalLearns <= 0 || pattern.Frequency <= 0 {
		return 0
	}
	coOccur := float64(pattern.CoOccur)
	freq := float64(pattern.Frequency)
	total := float64(totalLearns)

	pmi := math.Log(coOccur / (freq * total))
	denom := -math.Log(coOccur / total)
	if denom == 0 {
		return 0
	}
	npmi := pmi / denom
	return clamp((npmi+1)/2, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func meanEmotives(list []map[string]float64) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, m := range list {
		for k, v := range m {
			sums[k] += v
			counts[k]++
		}
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}

func metadataToSlices(meta map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(meta))
	for key, set := range meta {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		out[key] = values
	}
	return out
}

// sortPredictions orders survivors by the session's configured sort key,
// descending, breaking ties by name for determinism.
func sortPredictions(survivors []Prediction, key config.SortKey) {
	less := func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		var av, bv float64
		switch key {
		case config.SortBySimilarity:
			av, bv = a.Similarity, b.Similarity
		case config.SortByFrequency:
			av, bv = float64(a.Frequency), float64(b.Frequency)
		case config.SortByPotential:
			av, bv = a.Potential, b.Potential
		case config.SortByPredictiveInformation:
			av, bv = a.PredictiveInfo, b.PredictiveInfo
		default: // SortByPosterior
			av, bv = a.BayesianPosterior, b.BayesianPosterior
		}
		if av != bv {
			return av > bv
		}
		return a.Name < b.Name
	}
	sort.SliceStable(survivors, less)
}
