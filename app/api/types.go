package api

import (
	"context"

	"github.com/lysyi3m/rss-sieve/app/database"
	"github.com/lysyi3m/rss-sieve/app/feed"
	"github.com/lysyi3m/rss-sieve/app/pipeline"
	"github.com/lysyi3m/rss-sieve/app/tasks"
)

type FeedScheduler interface {
	Feeds() []tasks.FeedSnapshot
	Feed(feedID string) (tasks.FeedSnapshot, error)
	Trigger(feedID string) (bool, error)
}

type LedgerReader interface {
	CountByFeed(ctx context.Context) (map[string]int, error)
	Recent(ctx context.Context, feedID string, limit int) ([]database.LedgerRecord, error)
}

type HealthChecker interface {
	Health(ctx context.Context) map[string]interface{}
}

type StatsSource interface {
	Snapshot() pipeline.StatsSnapshot
}

var (
	_ FeedScheduler = (*tasks.Scheduler)(nil)
	_ LedgerReader  = (*database.Ledger)(nil)
	_ HealthChecker = (*pipeline.Coordinator)(nil)
	_ StatsSource   = (*pipeline.Stats)(nil)
)

type Handler struct {
	configCache *feed.ConfigCache
	scheduler   FeedScheduler
	ledger      LedgerReader
	health      HealthChecker
	stats       StatsSource
	topic       string
}
