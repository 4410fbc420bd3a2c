package pipeline

import (
	"sync"
	"time"

	"github.com/lysyi3m/rss-sieve/app/tasks"
)

const maxCycleTimes = 100

// Stats aggregates cycle results across all feeds.
type Stats struct {
	mu sync.RWMutex

	totalCycles      int64
	totalFailures    int64
	totalPartial     int64
	entriesPublished int64
	entriesFiltered  int64
	lastCycleAt      *time.Time
	cycleTimes       []time.Duration
	feedStatus       map[string]tasks.CycleStatus
}

type StatsSnapshot struct {
	TotalCycles      int64                        `json:"total_cycles"`
	TotalFailures    int64                        `json:"total_failures"`
	TotalPartial     int64                        `json:"total_partial"`
	EntriesPublished int64                        `json:"entries_published"`
	EntriesFiltered  int64                        `json:"entries_filtered"`
	LastCycleAt      *time.Time                   `json:"last_cycle_at,omitempty"`
	AverageCycleTime time.Duration                `json:"average_cycle_time"`
	FeedStatus       map[string]tasks.CycleStatus `json:"feed_status"`
}

var _ tasks.CycleObserver = (*Stats)(nil)

func NewStats() *Stats {
	return &Stats{
		cycleTimes: make([]time.Duration, 0, maxCycleTimes),
		feedStatus: make(map[string]tasks.CycleStatus),
	}
}

func (s *Stats) CycleCompleted(feedID string, result tasks.CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalCycles++
	switch result.Status {
	case tasks.StatusFailure:
		s.totalFailures++
	case tasks.StatusPartial:
		s.totalPartial++
	}
	s.entriesPublished += int64(result.EntriesPublished)
	s.entriesFiltered += int64(result.EntriesFiltered)

	now := time.Now()
	s.lastCycleAt = &now
	s.feedStatus[feedID] = result.Status

	s.cycleTimes = append(s.cycleTimes, result.Duration)
	if len(s.cycleTimes) > maxCycleTimes {
		s.cycleTimes = s.cycleTimes[1:]
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feedStatus := make(map[string]tasks.CycleStatus, len(s.feedStatus))
	for feedID, status := range s.feedStatus {
		feedStatus[feedID] = status
	}

	return StatsSnapshot{
		TotalCycles:      s.totalCycles,
		TotalFailures:    s.totalFailures,
		TotalPartial:     s.totalPartial,
		EntriesPublished: s.entriesPublished,
		EntriesFiltered:  s.entriesFiltered,
		LastCycleAt:      s.lastCycleAt,
		AverageCycleTime: s.averageCycleTime(),
		FeedStatus:       feedStatus,
	}
}

func (s *Stats) averageCycleTime() time.Duration {
	if len(s.cycleTimes) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range s.cycleTimes {
		total += d
	}
	return total / time.Duration(len(s.cycleTimes))
}

// Health reports cycle counters and the failed cycle rate band. Feed failures
// stay informational here; they never decide process health.
func (s *Stats) Health() map[string]interface{} {
	stats := s.Snapshot()

	health := map[string]interface{}{
		"error_band":         StatusHealthy,
		"total_cycles":       stats.TotalCycles,
		"total_failures":     stats.TotalFailures,
		"total_partial":      stats.TotalPartial,
		"entries_published":  stats.EntriesPublished,
		"average_cycle_time": stats.AverageCycleTime.String(),
		"feed_status":        stats.FeedStatus,
	}

	if stats.LastCycleAt != nil {
		health["last_cycle_at"] = stats.LastCycleAt.Format(time.RFC3339)
		health["last_cycle_ago"] = time.Since(*stats.LastCycleAt).String()
	}

	if stats.TotalCycles > 0 {
		errorRate := float64(stats.TotalFailures) / float64(stats.TotalCycles)
		if errorRate > 0.5 {
			health["error_band"] = StatusUnhealthy
		} else if errorRate > 0.1 {
			health["error_band"] = StatusDegraded
		}
		health["error_rate"] = errorRate
	}

	return health
}
