package db

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// LatencySummary describes command-to-receipt latency for a run, in
// milliseconds.
type LatencySummary struct {
	Count  int     `json:"count"`
	Missed int     `json:"missed"`
	Mean   float64 `json:"mean_ms"`
	StdDev float64 `json:"stddev_ms"`
	Min    float64 `json:"min_ms"`
	P50    float64 `json:"p50_ms"`
	P90    float64 `json:"p90_ms"`
	Max    float64 `json:"max_ms"`
}

// SummarizeLatencies computes a LatencySummary over latencies. The slice is
// sorted in place.
func SummarizeLatencies(latencies []float64) LatencySummary {
	s := LatencySummary{Count: len(latencies)}
	if len(latencies) == 0 {
		return s
	}
	sort.Float64s(latencies)
	s.Mean, s.StdDev = stat.MeanStdDev(latencies, nil)
	if len(latencies) == 1 {
		s.StdDev = 0
	}
	s.Min = latencies[0]
	s.Max = latencies[len(latencies)-1]
	s.P50 = stat.Quantile(0.5, stat.Empirical, latencies, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, latencies, nil)
	return s
}

// LatencySummary summarises acknowledgement latency for a run.
func (db *DB) LatencySummary(runID string) (LatencySummary, error) {
	latencies, err := db.AckLatencies(runID)
	if err != nil {
		return LatencySummary{}, err
	}
	s := SummarizeLatencies(latencies)
	if s.Missed, err = db.MissedAcks(runID); err != nil {
		return LatencySummary{}, err
	}
	return s, nil
}
