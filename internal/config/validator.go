package config

import "fmt"

// Validate checks a NodeDefaults against its allowed ranges, failing at
// the first violation.
func Validate(d NodeDefaults) error {
	if d.RecallThreshold < 0.0 || d.RecallThreshold > 1.0 {
		return NewValidationError("recall_threshold", d.RecallThreshold, ErrInvalidValue)
	}
	if d.Persistence < 1 || d.Persistence > 100 {
		return NewValidationError("persistence", d.Persistence, ErrInvalidValue)
	}
	if d.MaxPatternLength < 0 {
		return NewValidationError("max_pattern_length", d.MaxPatternLength, ErrInvalidValue)
	}
	if d.MaxPredictions < 1 || d.MaxPredictions > 10000 {
		return NewValidationError("max_predictions", d.MaxPredictions, ErrInvalidValue)
	}
	if !d.STMMode.Valid() {
		return NewValidationError("stm_mode", d.STMMode, ErrInvalidValue)
	}
	if !d.VectorMetric.Valid() {
		return NewValidationError("vector_metric", d.VectorMetric, ErrInvalidValue)
	}
	if !d.SortKey.Valid() {
		return NewValidationError("sort_key", d.SortKey, ErrInvalidValue)
	}
	if d.VectorNeighborK < 1 {
		return NewValidationError("vector_neighbor_k", d.VectorNeighborK, ErrInvalidValue)
	}
	if d.LSHBands < 1 || d.LSHRowsPerBand < 1 {
		return NewValidationError("lsh_bands/lsh_rows_per_band", fmt.Sprintf("%d/%d", d.LSHBands, d.LSHRowsPerBand), ErrInvalidValue)
	}
	if d.SessionTTLSeconds < 1 {
		return NewValidationError("session_ttl_seconds", d.SessionTTLSeconds, ErrInvalidValue)
	}
	if d.MaxSessions < 1 {
		return NewValidationError("max_sessions", d.MaxSessions, ErrInvalidValue)
	}
	return nil
}

// ValidateOverrides checks a SessionOverrides patch in isolation, before
// it is merged onto a session's current effective config:
// update_session_config must reject an invalid partial update wholesale,
// never applying half a patch.
func ValidateOverrides(o SessionOverrides) error {
	if o.RecallThreshold != nil && (*o.RecallThreshold < 0.0 || *o.RecallThreshold > 1.0) {
		return NewValidationError("recall_threshold", *o.RecallThreshold, ErrInvalidValue)
	}
	if o.Persistence != nil && (*o.Persistence < 1 || *o.Persistence > 100) {
		return NewValidationError("persistence", *o.Persistence, ErrInvalidValue)
	}
	if o.MaxPatternLength != nil && *o.MaxPatternLength < 0 {
		return NewValidationError("max_pattern_length", *o.MaxPatternLength, ErrInvalidValue)
	}
	if o.MaxPredictions != nil && (*o.MaxPredictions < 1 || *o.MaxPredictions > 10000) {
		return NewValidationError("max_predictions", *o.MaxPredictions, ErrInvalidValue)
	}
	if o.STMMode != nil && !o.STMMode.Valid() {
		return NewValidationError("stm_mode", *o.STMMode, ErrInvalidValue)
	}
	if o.SortKey != nil && !o.SortKey.Valid() {
		return NewValidationError("sort_key", *o.SortKey, ErrInvalidValue)
	}
	return nil
}
