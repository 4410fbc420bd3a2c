package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-sieve/app/backoff"
)

type FetchOutcomeKind string

const (
	FetchUnchanged  FetchOutcomeKind = "unchanged"
	FetchNewContent FetchOutcomeKind = "new_content"
	FetchFailed     FetchOutcomeKind = "error"
)

type FetchRequest struct {
	FeedID  string
	URL     string
	Token   Token
	Timeout time.Duration // per attempt
	Retry   backoff.Policy
}

// FetchOutcome is Unchanged, NewContent with the body and the token to store
// once the cycle succeeds, or Error.
type FetchOutcome struct {
	Kind     FetchOutcomeKind
	Body     []byte
	Token    Token
	Err      error
	Attempts int
}

type Fetcher struct {
	client         HTTPClient
	defaultTimeout time.Duration
}

func NewFetcher(client HTTPClient, defaultTimeout time.Duration) *Fetcher {
	return &Fetcher{
		client:         client,
		defaultTimeout: defaultTimeout,
	}
}

func (f *Fetcher) Run(ctx context.Context, req FetchRequest) FetchOutcome {
	timeout := requestTimeout(req.Timeout, f.defaultTimeout)

	var (
		resp     *FetchResponse
		attempts int
	)

	err := backoff.Retry(ctx, req.Retry, isTransientFetchError, func(ctx context.Context, attempt int) error {
		attempts = attempt

		attemptCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var err error
		resp, err = f.client.Fetch(attemptCtx, req.URL, req.Token)
		if err != nil {
			slog.Debug("Fetch attempt failed", "feed", req.FeedID, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return FetchOutcome{Kind: FetchFailed, Err: err, Attempts: attempts}
	}

	if resp.NotModified {
		return FetchOutcome{Kind: FetchUnchanged, Token: req.Token, Attempts: attempts}
	}

	return FetchOutcome{Kind: FetchNewContent, Body: resp.Body, Token: resp.Token, Attempts: attempts}
}

func isTransientFetchError(err error) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Transient()
	}
	return !errors.Is(err, context.Canceled)
}
