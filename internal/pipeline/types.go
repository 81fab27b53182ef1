package pipeline

// FetchStats holds combined fetch statistics across all zoom levels.
type FetchStats struct {
	Expected   int64
	Downloaded int64
	Skipped    int64
	Filtered   int64
	Failed     int64
	Bytes      int64
}

// SuccessRate reports the share of wanted tiles now present in the store.
// Filtered tiles were never wanted and do not count against the rate.
func (s FetchStats) SuccessRate() float64 {
	wanted := s.Expected - s.Filtered
	if wanted <= 0 {
		return 0
	}
	return float64(s.Downloaded+s.Skipped) / float64(wanted)
}

// ZoomStats holds fetch statistics for a single zoom level.
type ZoomStats struct {
	Zoom       int
	Expected   int64
	Downloaded int64
	Skipped    int64
	Filtered   int64
	Failed     int64
	Bytes      int64
}
