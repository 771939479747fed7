// Package candidateindex provides token-level shortlisting of pattern
// names via an inverted token index plus MinHash/LSH banding, so the
// Predictor never has to scan every stored pattern.
package candidateindex

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"
	"github.com/spaolacci/murmur3"
)

// Params configures the MinHash/LSH construction. h = bands*rowsPerBand.
type Params struct {
	Bands       int
	RowsPerBand int
}

// DefaultParams matches internal/config.Default()'s lsh_bands/lsh_rows_per_band.
func DefaultParams() Params {
	return Params{Bands: 4, RowsPerBand: 4}
}

func (p Params) signatureLen() int { return p.Bands * p.RowsPerBand }

type bandEntry struct {
	bandIdx int
	bandKey uint64
	id      uint32
}

func lessBandEntry(a, b bandEntry) bool {
	if a.bandIdx != b.bandIdx {
		return a.bandIdx < b.bandIdx
	}
	if a.bandKey != b.bandKey {
		return a.bandKey < b.bandKey
	}
	return a.id < b.id
}

// Index is a per-node candidate shortlisting structure. Safe for
// concurrent use. Patterns are never removed, so IDs are allocated
// monotonically and never reused.
type Index struct {
	params Params

	mu        sync.RWMutex
	idByName  map[string]uint32
	nameByID  []string
	postings  map[string]*roaring.Bitmap // token -> pattern ids
	bandTree  *btree.BTreeG[bandEntry]
}

// New creates an empty candidate index with the given LSH parameters.
func New(params Params) *Index {
	return &Index{
		params:   params,
		idByName: make(map[string]uint32),
		postings: make(map[string]*roaring.Bitmap),
		bandTree: btree.NewG(32, lessBandEntry),
	}
}

// Add registers a freshly-learned pattern's token set and MinHash
// signature into the inverted index and LSH bands. Only a fresh insert
// changes the index: re-adding an already indexed name is a no-op, which
// is what a content-addressed re-learn needs.
func (idx *Index) Add(name string, tokenSet map[string]struct{}) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.idByName[name]; exists {
		return
	}

	id := uint32(len(idx.nameByID))
	idx.idByName[name] = id
	idx.nameByID = append(idx.nameByID, name)

	for token := range tokenSet {
		bm, ok := idx.postings[token]
		if !ok {
			bm = roaring.NewBitmap()
			idx.postings[token] = bm
		}
		bm.Add(id)
	}

	sig := MinHashSignature(tokenSet, idx.params)
	for _, be := range bandsOf(sig, idx.params, id) {
		idx.bandTree.ReplaceOrInsert(be)
	}
}

// Query returns a deduplicated shortlist of candidate pattern names: the
// union of every pattern sharing a token with the query set plus every
// pattern sharing an LSH band with the query's own signature. False
// positives are acceptable; the Predictor filters them downstream.
func (idx *Index) Query(tokens map[string]struct{}) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := roaring.NewBitmap()
	for token := range tokens {
		if bm, ok := idx.postings[token]; ok {
			result.Or(bm)
		}
	}

	sig := MinHashSignature(tokens, idx.params)
	for _, be := range bandsOf(sig, idx.params, 0) {
		idx.bandTree.AscendRange(
			bandEntry{bandIdx: be.bandIdx, bandKey: be.bandKey, id: 0},
			bandEntry{bandIdx: be.bandIdx, bandKey: be.bandKey, id: ^uint32(0)},
			func(item bandEntry) bool {
				result.Add(item.id)
				return true
			},
		)
	}

	ids := result.ToArray()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if int(id) < len(idx.nameByID) {
			names = append(names, idx.nameByID[id])
		}
	}
	sort.Strings(names) // deterministic for tests; Predictor re-sorts anyway
	return names
}

// Count returns the number of patterns ever added to this index.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nameByID)
}

// MinHashSignature computes an h-length MinHash signature over tokenSet
// using h independent murmur3 permutations (seeds 0..h-1).
func MinHashSignature(tokenSet map[string]struct{}, params Params) []uint32 {
	h := params.signatureLen()
	sig := make([]uint32, h)
	for i := range sig {
		sig[i] = ^uint32(0)
	}
	for token := range tokenSet {
		data := []byte(token)
		for i := 0; i < h; i++ {
			hasher := murmur3.New32WithSeed(uint32(i))
			_, _ = hasher.Write(data)
			v := hasher.Sum32()
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// bandsOf splits a signature into Bands groups of RowsPerBand rows and
// hashes each group into one band key, tagged with the given pattern id.
func bandsOf(sig []uint32, params Params, id uint32) []bandEntry {
	out := make([]bandEntry, 0, params.Bands)
	for b := 0; b < params.Bands; b++ {
		start := b * params.RowsPerBand
		end := start + params.RowsPerBand
		if end > len(sig) {
			end = len(sig)
		}
		var buf []byte
		for _, v := range sig[start:end] {
			buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
		}
		key := murmur3.Sum64(buf)
		out = append(out, bandEntry{bandIdx: b, bandKey: key, id: id})
	}
	return out
}
