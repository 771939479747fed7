package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// STMMode selects the post-auto-learn STM retention policy.
type STMMode string

const (
	// STMClear empties STM, emotives, and metadata after an auto-learn.
	STMClear STMMode = "CLEAR"
	// STMRolling drops only the oldest event after an auto-learn.
	STMRolling STMMode = "ROLLING"
)

// Valid reports whether m is a recognized STM mode.
func (m STMMode) Valid() bool {
	switch m {
	case STMClear, STMRolling:
		return true
	default:
		return false
	}
}

// VectorMetric selects the similarity metric a VectorIndex uses for a node.
// Fixed per node for the life of the store.
type VectorMetric string

const (
	VectorMetricCosine VectorMetric = "cosine"
	VectorMetricL2     VectorMetric = "l2"
)

// Valid reports whether m is a recognized vector metric.
func (m VectorMetric) Valid() bool {
	switch m {
	case VectorMetricCosine, VectorMetricL2:
		return true
	default:
		return false
	}
}

// SortKey selects the field predictions are ordered by.
type SortKey string

const (
	SortByPosterior             SortKey = "bayesian_posterior"
	SortBySimilarity            SortKey = "similarity"
	SortByFrequency             SortKey = "frequency"
	SortByPotential             SortKey = "potential"
	SortByPredictiveInformation SortKey = "predictive_information"
)

// Valid reports whether k is a recognized sort key.
func (k SortKey) Valid() bool {
	switch k {
	case SortByPosterior, SortBySimilarity, SortByFrequency, SortByPotential, SortByPredictiveInformation:
		return true
	default:
		return false
	}
}

func (k SortKey) String() string {
	return string(k)
}

func (m STMMode) String() string {
	return string(m)
}

func (m VectorMetric) String() string {
	return string(m)
}

// UnmarshalYAML maps an empty stm_mode value to CLEAR and rejects
// unrecognized modes. An omitted key never reaches this method; Load's
// merge keeps the built-in default for it.
func (m *STMMode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	candidate := STMMode(s)
	if s == "" {
		candidate = STMClear
	}
	if !candidate.Valid() {
		return fmt.Errorf("invalid stm_mode %q", s)
	}
	*m = candidate
	return nil
}
