package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-sieve/app/backoff"
)

var (
	ErrDuplicateCommit    = errors.New("ledger record already exists")
	ErrStorageUnavailable = errors.New("ledger storage unavailable")
)

// LedgerRecord marks an entry that was handed to the bus and acknowledged.
type LedgerRecord struct {
	FeedID      string    `json:"feed_id"`
	IdentityKey string    `json:"identity_key"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Ledger is the durable record of published identity keys per feed.
type Ledger struct {
	db    *DB
	retry backoff.Policy
}

func NewLedger(db *DB, retry backoff.Policy) *Ledger {
	return &Ledger{db: db, retry: retry}
}

// IsNew reports whether no record exists for the pair.
func (l *Ledger) IsNew(ctx context.Context, feedID, identityKey string) (bool, error) {
	var exists bool

	err := l.withRetry(ctx, "is_new", func(ctx context.Context) error {
		var one int
		err := l.db.QueryRowContext(ctx,
			l.db.rebind(`SELECT 1 FROM ledger_records WHERE feed_id = $1 AND identity_key = $2`),
			feedID, identityKey).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}

	return !exists, nil
}

// Commit inserts the record for the pair. ErrDuplicateCommit is returned when
// the pair was already committed; callers treat it as success.
func (l *Ledger) Commit(ctx context.Context, feedID, identityKey string, firstSeenAt, publishedAt time.Time) error {
	var inserted int64

	err := l.withRetry(ctx, "commit", func(ctx context.Context) error {
		result, err := l.db.ExecContext(ctx, l.db.rebind(`
			INSERT INTO ledger_records (feed_id, identity_key, first_seen_at, published_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (feed_id, identity_key) DO NOTHING
		`), feedID, identityKey, firstSeenAt.UTC(), publishedAt.UTC())
		if err != nil {
			return err
		}

		inserted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to commit ledger record: %w", err)
	}

	if inserted == 0 {
		return ErrDuplicateCommit
	}

	return nil
}

// CountByFeed returns the number of committed records per feed.
func (l *Ledger) CountByFeed(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT feed_id, COUNT(*) FROM ledger_records GROUP BY feed_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger records: %w", wrapStorage(err))
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var feedID string
		var count int
		if err := rows.Scan(&feedID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan ledger count: %w", err)
		}
		counts[feedID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger counts: %w", wrapStorage(err))
	}

	return counts, nil
}

// Recent returns the latest records of a feed, newest first.
func (l *Ledger) Recent(ctx context.Context, feedID string, limit int) ([]LedgerRecord, error) {
	rows, err := l.db.QueryContext(ctx, l.db.rebind(`
		SELECT feed_id, identity_key, first_seen_at, published_at
		FROM ledger_records
		WHERE feed_id = $1
		ORDER BY published_at DESC, identity_key
		LIMIT $2
	`), feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger records: %w", wrapStorage(err))
	}
	defer rows.Close()

	var records []LedgerRecord
	for rows.Next() {
		var record LedgerRecord
		if err := rows.Scan(&record.FeedID, &record.IdentityKey, &record.FirstSeenAt, &record.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger records: %w", wrapStorage(err))
	}

	return records, nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return wrapStorage(err)
	}
	return nil
}

func (l *Ledger) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return backoff.Retry(ctx, l.retry, isRetryableStorageError, func(ctx context.Context, attempt int) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		err = wrapStorage(err)
		if attempt < max(l.retry.MaxAttempts, 1) && isRetryableStorageError(err) {
			slog.Warn("Ledger operation failed, retrying", "op", op, "attempt", attempt, "error", err)
		}
		return err
	})
}

func wrapStorage(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

func isRetryableStorageError(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
