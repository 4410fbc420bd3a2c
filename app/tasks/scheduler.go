package tasks

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lysyi3m/rss-sieve/app/feed"
)

var ErrFeedNotFound = errors.New("feed not found")

// CycleObserver is notified after every finished cycle.
type CycleObserver interface {
	CycleCompleted(feedID string, result CycleResult)
}

type slot struct {
	config  *feed.Config
	state   *FeedState
	trigger chan struct{}
	running atomic.Bool
}

// Scheduler runs one loop per enabled feed. A feed's cycles never overlap and
// the next cycle is timed from the end of the previous one.
type Scheduler struct {
	pipeline *Pipeline
	observer CycleObserver
	slots    map[string]*slot
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
}

func NewScheduler(configCache *feed.ConfigCache, pipeline *Pipeline, observer CycleObserver) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		pipeline: pipeline,
		observer: observer,
		slots:    make(map[string]*slot),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, feedConfig := range configCache.GetEnabledConfigs() {
		s.slots[feedConfig.Name] = &slot{
			config:  feedConfig,
			state:   NewFeedState(feedConfig),
			trigger: make(chan struct{}, 1),
		}
	}

	return s
}

func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	if len(s.slots) == 0 {
		slog.Warn("No enabled feed configurations found")
	}

	for _, sl := range s.slots {
		s.wg.Add(1)
		go s.run(sl)
	}

	slog.Info("Scheduler started", "feeds", len(s.slots))
}

// Stop cancels pending polls and waits for running cycles to finish. It
// returns ctx.Err() if ctx ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests an immediate cycle. It returns false when the feed is busy
// or already has a pending request.
func (s *Scheduler) Trigger(feedID string) (bool, error) {
	sl, ok := s.slots[feedID]
	if !ok {
		return false, ErrFeedNotFound
	}

	if sl.running.Load() {
		return false, nil
	}

	select {
	case sl.trigger <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

// Feeds returns snapshots of all feed states sorted by feed ID.
func (s *Scheduler) Feeds() []FeedSnapshot {
	snapshots := make([]FeedSnapshot, 0, len(s.slots))
	for _, feedID := range slices.Sorted(maps.Keys(s.slots)) {
		snapshots = append(snapshots, s.slots[feedID].state.Snapshot())
	}
	return snapshots
}

func (s *Scheduler) Feed(feedID string) (FeedSnapshot, error) {
	sl, ok := s.slots[feedID]
	if !ok {
		return FeedSnapshot{}, ErrFeedNotFound
	}
	return sl.state.Snapshot(), nil
}

func (s *Scheduler) FeedCount() int {
	return len(s.slots)
}

func (s *Scheduler) run(sl *slot) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		taskType := TaskTypeScheduledPoll

		select {
		case <-s.ctx.Done():
			slog.Debug("Feed loop stopped", "feed", sl.config.Name)
			return
		case <-timer.C:
		case <-sl.trigger:
			taskType = TaskTypeManualPoll
			timer.Stop()
		}

		next := s.runCycle(sl, taskType)
		timer.Reset(next)
	}
}

func (s *Scheduler) runCycle(sl *slot, taskType TaskType) time.Duration {
	sl.running.Store(true)
	task := NewPollFeedTask(taskType, sl.config, sl.state, s.pipeline)
	result, token := task.Execute(s.ctx)
	next := sl.state.Apply(result, token, time.Now().UTC())
	sl.running.Store(false)

	attrs := []any{
		"type", string(task.GetType()),
		"id", task.GetID(),
		"feed", task.GetFeedName(),
		"status", string(result.Status),
		"duration", result.Duration,
		"seen", result.EntriesSeen,
		"new", result.EntriesNew,
		"published", result.EntriesPublished,
		"filtered", result.EntriesFiltered,
		"next_poll_in", next.String(),
	}

	switch result.Status {
	case StatusFailure:
		slog.Error("Cycle failed", append(attrs, "consecutive_failures", sl.state.ConsecutiveFailures(), "error", result.Err)...)
	case StatusPartial:
		slog.Warn("Cycle partially completed", append(attrs, "error", result.Err)...)
	default:
		slog.Info("Cycle completed", attrs...)
	}

	if s.observer != nil {
		s.observer.CycleCompleted(sl.config.Name, result)
	}

	return next
}
