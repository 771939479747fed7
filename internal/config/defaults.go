package config

// Default returns the built-in system defaults, used when a node has no
// operator-supplied override file.
func Default() NodeDefaults {
	return NodeDefaults{
		RecallThreshold:    0.1,
		Persistence:        5,
		MaxPatternLength:   0,
		MaxPredictions:     100,
		SortSymbols:        true,
		ProcessPredictions: true,
		STMMode:            STMClear,
		VectorNeighborK:    4,
		VectorMetric:       VectorMetricCosine,
		SortKey:            SortByPosterior,
		LSHBands:           4,
		LSHRowsPerBand:     4,
		SessionTTLSeconds:  3600,
		MaxSessions:        100000,
	}
}
