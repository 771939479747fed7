// Package config loads and validates node-level defaults and per-session
// configuration overrides.
package config

// NodeDefaults holds the operator-supplied defaults for one node_id,
// injected at process start. Session overrides take precedence where
// provided.
type NodeDefaults struct {
	RecallThreshold    float64      `yaml:"recall_threshold"`
	Persistence        int          `yaml:"persistence"`
	MaxPatternLength   int          `yaml:"max_pattern_length"`
	MaxPredictions     int          `yaml:"max_predictions"`
	SortSymbols        bool         `yaml:"sort_symbols"`
	ProcessPredictions bool         `yaml:"process_predictions"`
	STMMode            STMMode      `yaml:"stm_mode"`
	VectorNeighborK    int          `yaml:"vector_neighbor_k"`
	VectorMetric       VectorMetric `yaml:"vector_metric"`
	SortKey            SortKey      `yaml:"sort_key"`
	LSHBands           int          `yaml:"lsh_bands"`
	LSHRowsPerBand     int          `yaml:"lsh_rows_per_band"`
	SessionTTLSeconds  int          `yaml:"session_ttl_seconds"`
	MaxSessions        int          `yaml:"max_sessions"`
}

// SessionOverrides holds the per-session config overrides recognized by
// update_session_config. A nil field means "inherit the node default."
type SessionOverrides struct {
	RecallThreshold    *float64     `json:"recall_threshold,omitempty" yaml:"recall_threshold,omitempty"`
	Persistence        *int         `json:"persistence,omitempty" yaml:"persistence,omitempty"`
	MaxPatternLength   *int         `json:"max_pattern_length,omitempty" yaml:"max_pattern_length,omitempty"`
	MaxPredictions     *int         `json:"max_predictions,omitempty" yaml:"max_predictions,omitempty"`
	SortSymbols        *bool        `json:"sort_symbols,omitempty" yaml:"sort_symbols,omitempty"`
	ProcessPredictions *bool        `json:"process_predictions,omitempty" yaml:"process_predictions,omitempty"`
	STMMode            *STMMode     `json:"stm_mode,omitempty" yaml:"stm_mode,omitempty"`
	SortKey            *SortKey     `json:"sort_key,omitempty" yaml:"sort_key,omitempty"`
}

// Effective is the fully-resolved configuration for one session: node
// defaults with any session overrides applied.
type Effective struct {
	RecallThreshold    float64
	Persistence        int
	MaxPatternLength   int
	MaxPredictions     int
	SortSymbols        bool
	ProcessPredictions bool
	STMMode            STMMode
	SortKey            SortKey
	VectorNeighborK    int // not session-overridable; carried from NodeDefaults for the observation pipeline's convenience
}

// Resolve merges node defaults with session overrides, overrides winning
// wherever set.
func Resolve(defaults NodeDefaults, overrides SessionOverrides) Effective {
	eff := Effective{
		RecallThreshold:    defaults.RecallThreshold,
		Persistence:        defaults.Persistence,
		MaxPatternLength:   defaults.MaxPatternLength,
		MaxPredictions:     defaults.MaxPredictions,
		SortSymbols:        defaults.SortSymbols,
		ProcessPredictions: defaults.ProcessPredictions,
		STMMode:            defaults.STMMode,
		SortKey:            defaults.SortKey,
		VectorNeighborK:    defaults.VectorNeighborK,
	}
	if overrides.RecallThreshold != nil {
		eff.RecallThreshold = *overrides.RecallThreshold
	}
	if overrides.Persistence != nil {
		eff.Persistence = *overrides.Persistence
	}
	if overrides.MaxPatternLength != nil {
		eff.MaxPatternLength = *overrides.MaxPatternLength
	}
	if overrides.MaxPredictions != nil {
		eff.MaxPredictions = *overrides.MaxPredictions
	}
	if overrides.SortSymbols != nil {
		eff.SortSymbols = *overrides.SortSymbols
	}
	if overrides.ProcessPredictions != nil {
		eff.ProcessPredictions = *overrides.ProcessPredictions
	}
	if overrides.STMMode != nil {
		eff.STMMode = *overrides.STMMode
	}
	if overrides.SortKey != nil {
		eff.SortKey = *overrides.SortKey
	}
	return eff
}
