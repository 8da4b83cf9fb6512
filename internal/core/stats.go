package core

import (
	"math"
	"strconv"
	"strings"

	"github.com/jo-hoe/thumbcaption/internal/backend/database"
)

type StatsPayload struct {
	Total                        int64   `json:"total"`
	Failed                       int64   `json:"failed"`
	SuccessRate                  *string `json:"success_rate"`
	AverageProcessingTimeSeconds float64 `json:"average_processing_time_seconds"`
}

func newStatsPayload(stats *database.Stats) *StatsPayload {
	return &StatsPayload{
		Total:                        stats.Total,
		Failed:                       stats.Failed,
		SuccessRate:                  SuccessRate(stats.Total, stats.Failed),
		AverageProcessingTimeSeconds: AverageProcessingTime(stats.Total, stats.TotalTime),
	}
}

// SuccessRate renders the share of non-failed uploads as a percentage with
// at least one decimal, e.g. "75.0%". It is nil when nothing was uploaded.
func SuccessRate(total, failed int64) *string {
	if total == 0 {
		return nil
	}
	rate := round2(float64(total-failed) / float64(total) * 100)
	s := strconv.FormatFloat(rate, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	s += "%"
	return &s
}

// AverageProcessingTime divides the accumulated caption time by all uploads.
func AverageProcessingTime(total int64, totalTime float64) float64 {
	if total == 0 {
		return 0
	}
	return round2(totalTime / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
