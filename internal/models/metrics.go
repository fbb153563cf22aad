package models

// SystemMetrics is a lightweight aggregate snapshot exposed alongside
// the Prometheus endpoint for quick health checks.
type SystemMetrics struct {
	RequestCount    uint64  `json:"request_count"`
	AvgRequestMs    float64 `json:"avg_request_ms"`
	DBQueryCount    uint64  `json:"db_query_count"`
	AvgDBQueryMs    float64 `json:"avg_db_query_ms"`
	CacheHitRatio   float64 `json:"cache_hit_ratio"`
	TokensIssued    uint64  `json:"tokens_issued"`
	AttendanceMarks uint64  `json:"attendance_marks"`
	GoroutineCount  int     `json:"goroutine_count"`
}
