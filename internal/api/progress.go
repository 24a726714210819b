package api

import "math"

// Progress is the passing/total ratio shown for a project.
//
// A zero Total means "unknown", not "complete": Percentage is 0 in that case.
type Progress struct {
	Passing    int     `json:"passing"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// NewProgress builds a Progress with Passing clamped to [0, Total] and the
// percentage rounded to one decimal place.
func NewProgress(passing, total int) Progress {
	if total < 0 {
		total = 0
	}
	passing = min(max(passing, 0), total)
	return Progress{
		Passing:    passing,
		Total:      total,
		Percentage: Percentage(passing, total),
	}
}

// Percentage returns round(passing/total*100, 1), or 0 when total is 0.
func Percentage(passing, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(passing)/float64(total)*1000) / 10
}

// Known reports whether the progress carries real data.
func (p Progress) Known() bool {
	return p.Total > 0
}

// ProgressFromFeatures derives progress from snapshot counts.
func ProgressFromFeatures(l *FeatureList) Progress {
	c := l.Counts()
	return NewProgress(c.Done, c.Total())
}
