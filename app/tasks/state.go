package tasks

import (
	"sync"
	"time"

	"github.com/lysyi3m/rss-sieve/app/feed"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseParsing    Phase = "parsing"
	PhaseFiltering  Phase = "filtering"
	PhasePublishing Phase = "publishing"
	PhaseCommitting Phase = "committing"
)

// FeedState is the live state of one feed. Only the feed's own slot mutates
// it; the mutex guards snapshot reads.
type FeedState struct {
	mu sync.RWMutex

	feedID              string
	url                 string
	baseInterval        time.Duration
	maxInterval         time.Duration
	currentInterval     time.Duration
	failureThreshold    int
	backoffFactor       float64
	phase               Phase
	token               feed.Token
	consecutiveFailures int
	lastSuccessAt       *time.Time
	nextPollAt          *time.Time
	lastResult          *CycleResult
}

// FeedSnapshot is a point-in-time copy of FeedState.
type FeedSnapshot struct {
	FeedID              string       `json:"feed_id"`
	URL                 string       `json:"url"`
	Phase               Phase        `json:"phase"`
	BaseInterval        string       `json:"base_interval"`
	CurrentInterval     string       `json:"current_interval"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Token               feed.Token   `json:"token"`
	LastSuccessAt       *time.Time   `json:"last_success_at,omitempty"`
	NextPollAt          *time.Time   `json:"next_poll_at,omitempty"`
	LastResult          *CycleResult `json:"last_result,omitempty"`
}

func NewFeedState(feedConfig *feed.Config) *FeedState {
	settings := feedConfig.Settings
	base := settings.GetRefreshInterval()

	return &FeedState{
		feedID:           feedConfig.Name,
		url:              feedConfig.URL,
		baseInterval:     base,
		maxInterval:      max(settings.GetMaxRefreshInterval(), base),
		currentInterval:  base,
		failureThreshold: max(settings.FailureThreshold, 1),
		backoffFactor:    max(settings.BackoffFactor, 1),
		phase:            PhaseIdle,
	}
}

func (s *FeedState) FeedID() string {
	return s.feedID
}

func (s *FeedState) Token() feed.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *FeedState) CurrentInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentInterval
}

func (s *FeedState) ConsecutiveFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consecutiveFailures
}

func (s *FeedState) setPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

// Apply records the outcome of a finished cycle and returns the delay until
// the next one. token is stored only when the cycle succeeded.
//
// Every failed cycle at or past the failure threshold multiplies the interval
// by the backoff factor, up to the max interval. Any other status resets it.
func (s *FeedState) Apply(result CycleResult, token feed.Token, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = PhaseIdle
	s.lastResult = &result

	switch result.Status {
	case StatusFailure:
		s.consecutiveFailures++
		if s.consecutiveFailures >= s.failureThreshold {
			next := time.Duration(float64(s.currentInterval) * s.backoffFactor)
			s.currentInterval = min(max(next, s.currentInterval), s.maxInterval)
		}
	case StatusSuccess:
		s.token = token
		fallthrough
	default:
		s.consecutiveFailures = 0
		s.currentInterval = s.baseInterval
		s.lastSuccessAt = &now
	}

	next := now.Add(s.currentInterval)
	s.nextPollAt = &next

	return s.currentInterval
}

func (s *FeedState) Snapshot() FeedSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := FeedSnapshot{
		FeedID:              s.feedID,
		URL:                 s.url,
		Phase:               s.phase,
		BaseInterval:        s.baseInterval.String(),
		CurrentInterval:     s.currentInterval.String(),
		ConsecutiveFailures: s.consecutiveFailures,
		Token:               s.token,
		LastSuccessAt:       s.lastSuccessAt,
		NextPollAt:          s.nextPollAt,
	}

	if s.lastResult != nil {
		result := *s.lastResult
		snapshot.LastResult = &result
	}

	return snapshot
}
