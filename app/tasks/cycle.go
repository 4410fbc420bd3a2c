package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-sieve/app/backoff"
	"github.com/lysyi3m/rss-sieve/app/database"
	"github.com/lysyi3m/rss-sieve/app/feed"
)

type CycleStatus string

const (
	StatusSuccess   CycleStatus = "success"
	StatusPartial   CycleStatus = "partial"
	StatusFailure   CycleStatus = "failure"
	StatusUnchanged CycleStatus = "unchanged"
)

type CycleResult struct {
	Status           CycleStatus   `json:"status"`
	EntriesSeen      int           `json:"entries_seen"`
	EntriesNew       int           `json:"entries_new"`
	EntriesPublished int           `json:"entries_published"`
	EntriesFiltered  int           `json:"entries_filtered"`
	Err              error         `json:"-"`
	Error            string        `json:"error,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// Failed reports whether the cycle counts toward the failure streak.
func (r CycleResult) Failed() bool {
	return r.Status == StatusFailure
}

type Ledger interface {
	IsNew(ctx context.Context, feedID, identityKey string) (bool, error)
	Commit(ctx context.Context, feedID, identityKey string, firstSeenAt, publishedAt time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, entry feed.Entry) error
}

type Fetcher interface {
	Run(ctx context.Context, req feed.FetchRequest) feed.FetchOutcome
}

// Pipeline holds the collaborators shared by every feed cycle.
type Pipeline struct {
	Fetcher          Fetcher
	Parser           feed.FeedParser
	Normalizer       *feed.Normalizer
	Filterer         *feed.Filterer
	Ledger           Ledger
	Publisher        Publisher
	OperationTimeout time.Duration
}

// PollFeedTask runs one fetch cycle of a feed.
type PollFeedTask struct {
	Task
	FeedConfig *feed.Config
	state      *FeedState
	pipeline   *Pipeline
}

func NewPollFeedTask(taskType TaskType, feedConfig *feed.Config, state *FeedState, pipeline *Pipeline) *PollFeedTask {
	return &PollFeedTask{
		Task:       NewTask(taskType, feedConfig.Name),
		FeedConfig: feedConfig,
		state:      state,
		pipeline:   pipeline,
	}
}

// Execute runs Fetch, Parse, then filter, is_new, publish and commit per entry
// in parser order. It returns the result and the token to keep if the cycle
// succeeded. Cancelling ctx stops the cycle between entries; the entry in
// flight still gets published and committed.
func (t *PollFeedTask) Execute(ctx context.Context) (CycleResult, feed.Token) {
	t.Start()
	result := CycleResult{StartedAt: *t.StartedAt}

	finish := func(status CycleStatus, err error) (CycleResult, feed.Token) {
		result.Status = status
		result.Err = err
		if err != nil {
			result.Error = err.Error()
		}
		result.Duration = t.GetDuration()
		return result, feed.Token{}
	}

	settings := t.FeedConfig.Settings

	t.state.setPhase(PhaseFetching)
	outcome := t.pipeline.Fetcher.Run(ctx, feed.FetchRequest{
		FeedID:  t.FeedName,
		URL:     t.FeedConfig.URL,
		Token:   t.state.Token(),
		Timeout: settings.GetTimeout(),
		Retry: backoff.Policy{
			MaxAttempts: settings.MaxRetries + 1,
			Base:        settings.GetBackoffBase(),
			Cap:         settings.GetBackoffCap(),
			Jitter:      true,
		},
	})

	switch outcome.Kind {
	case feed.FetchFailed:
		return finish(StatusFailure, fmt.Errorf("failed to fetch feed: %w", outcome.Err))
	case feed.FetchUnchanged:
		return finish(StatusUnchanged, nil)
	}

	t.state.setPhase(PhaseParsing)
	rawEntries, err := t.pipeline.Parser.Run(outcome.Body)
	if err != nil {
		return finish(StatusFailure, fmt.Errorf("failed to parse feed: %w", err))
	}

	var entryErrs []error
	for _, raw := range rawEntries {
		if err := ctx.Err(); err != nil {
			entryErrs = append(entryErrs, fmt.Errorf("cycle interrupted: %w", err))
			break
		}

		entry := t.pipeline.Normalizer.Run(t.FeedName, raw)
		result.EntriesSeen++

		t.state.setPhase(PhaseFiltering)
		entry = t.pipeline.Filterer.Run(entry, t.FeedConfig)
		if entry.IsFiltered {
			result.EntriesFiltered++
			slog.Debug("Entry filtered", "feed", t.FeedName, "identity_key", entry.IdentityKey, "reason", entry.FilterReason)
			continue
		}

		isNew, err := t.pipeline.Ledger.IsNew(ctx, t.FeedName, entry.IdentityKey)
		if err != nil {
			return finish(StatusFailure, fmt.Errorf("failed to check ledger: %w", err))
		}
		if !isNew {
			continue
		}
		result.EntriesNew++

		published, err := t.publishAndCommit(ctx, entry)
		if published {
			result.EntriesPublished++
		}
		if err != nil {
			entryErrs = append(entryErrs, err)
		}
	}

	if len(entryErrs) > 0 {
		return finish(StatusPartial, errors.Join(entryErrs...))
	}

	result, _ = finish(StatusSuccess, nil)
	return result, outcome.Token
}

// publishAndCommit publishes the entry and then records it in the ledger. A
// failed commit after a successful publish leaves the entry new, so a later
// cycle publishes it again.
func (t *PollFeedTask) publishAndCommit(ctx context.Context, entry feed.Entry) (bool, error) {
	firstSeenAt := time.Now().UTC()
	detached := context.WithoutCancel(ctx)

	t.state.setPhase(PhasePublishing)
	publishCtx, cancel := t.operationContext(detached)
	err := t.pipeline.Publisher.Publish(publishCtx, entry)
	cancel()
	if err != nil {
		slog.Warn("Entry publish failed", "feed", t.FeedName, "identity_key", entry.IdentityKey, "error", err)
		return false, fmt.Errorf("failed to publish %s: %w", entry.IdentityKey, err)
	}

	t.state.setPhase(PhaseCommitting)
	commitCtx, cancel := t.operationContext(detached)
	err = t.pipeline.Ledger.Commit(commitCtx, t.FeedName, entry.IdentityKey, firstSeenAt, time.Now().UTC())
	cancel()
	if err != nil && !errors.Is(err, database.ErrDuplicateCommit) {
		slog.Error("Ledger commit failed after publish, entry may be published again", "feed", t.FeedName, "identity_key", entry.IdentityKey, "error", err)
		return true, fmt.Errorf("failed to commit %s: %w", entry.IdentityKey, err)
	}

	return true, nil
}

func (t *PollFeedTask) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.pipeline.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.pipeline.OperationTimeout)
}
