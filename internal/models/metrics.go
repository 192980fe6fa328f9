package models

import "time"

// PipelineMetrics is a point-in-time view of pipeline counters.
type PipelineMetrics struct {
	ChecksChecked  uint64    `json:"checks_checked"`
	ChecksReported uint64    `json:"checks_reported"`
	ChecksFailed   uint64    `json:"checks_failed"`
	Cycles         uint64    `json:"cycles"`
	CycleFailures  uint64    `json:"cycle_failures"`
	CacheHitRatio  float64   `json:"cache_hit_ratio"`
	RequestsTotal  uint64    `json:"requests_total"`
	Goroutines     int       `json:"goroutines"`
	GeneratedAt    time.Time `json:"generated_at"`
}
