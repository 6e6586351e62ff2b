package domain

import "time"

// FlushStats holds statistics about a single flush of the work buffer.
type FlushStats struct {
	Presented int
	Inserted  int
	Requeued  int
	Dropped   int
	Attempts  int
	Duration  time.Duration
}

// Duplicates is the number of presented records that were already stored.
func (s FlushStats) Duplicates() int {
	if s.Inserted > s.Presented {
		return 0
	}
	return s.Presented - s.Inserted
}
