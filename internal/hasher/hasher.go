// Package hasher computes the deterministic content hash over canonicalized
// STM sequences and vectors. The canonical form and hash
// algorithm are a frozen, permanent on-disk contract: changing either
// breaks every pattern name ever produced.
package hasher

import (
	"crypto/sha1" //nolint:gosec // content-addressing scheme, not a security boundary
	"encoding/hex"
	"strconv"
)

const (
	// PatternPrefix tags a hash as a learned pattern name.
	PatternPrefix = "PTRN|"
	// VectorPrefix tags a hash as a vector-derived symbol.
	VectorPrefix = "VCTR|"

	recordSeparator = '\x1e' // between events
	unitSeparator   = '\x1f' // between symbols within an event, and between vector components
)

// Symbol is an opaque domain token, or one of the two reserved forms
// PTRN|<hex> / VCTR|<hex>.
type Symbol = string

// Event is a sorted set of symbols observed simultaneously.
type Event = []Symbol

// PatternName computes "PTRN|<sha1 hex>" over the canonical textual form
// of sequence. Events are hashed in the order given; within-event symbol
// order must already be sorted by the caller (ingestion sorts events).
func PatternName(sequence []Event) string {
	return PatternPrefix + hexSHA1(canonicalSequence(sequence))
}

// VectorSymbol computes "VCTR|<sha1 hex>" over the canonical textual form
// of a dense vector.
func VectorSymbol(vector []float32) string {
	return VectorPrefix + hexSHA1(canonicalVector(vector))
}

func hexSHA1(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// canonicalSequence renders events joined by the record separator, symbols
// within an event joined by the unit separator. Both separators are
// non-printable ASCII control characters that cannot appear inside any
// observable symbol (observation.Processor rejects strings containing
// them, and vector symbols are hex), so no escaping is needed and the
// form never needs to change to handle a pathological symbol value.
func canonicalSequence(sequence []Event) []byte {
	var buf []byte
	for i, event := range sequence {
		if i > 0 {
			buf = append(buf, recordSeparator)
		}
		for j, sym := range event {
			if j > 0 {
				buf = append(buf, unitSeparator)
			}
			buf = append(buf, sym...)
		}
	}
	return buf
}

func canonicalVector(vector []float32) []byte {
	var buf []byte
	for i, v := range vector {
		if i > 0 {
			buf = append(buf, unitSeparator)
		}
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	}
	return buf
}
