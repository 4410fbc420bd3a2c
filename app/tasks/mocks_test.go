package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lysyi3m/rss-sieve/app/database"
	"github.com/lysyi3m/rss-sieve/app/feed"
)

// MockFetcher answers every request with respond.
type MockFetcher struct {
	mu          sync.Mutex
	respond     func(req feed.FetchRequest) feed.FetchOutcome
	delay       time.Duration
	calls       int
	tokens      []feed.Token
	inFlight    map[string]int
	maxInFlight int
}

var _ Fetcher = (*MockFetcher)(nil)

func (m *MockFetcher) Run(ctx context.Context, req feed.FetchRequest) feed.FetchOutcome {
	m.mu.Lock()
	m.calls++
	m.tokens = append(m.tokens, req.Token)
	if m.inFlight == nil {
		m.inFlight = make(map[string]int)
	}
	m.inFlight[req.FeedID]++
	m.maxInFlight = max(m.maxInFlight, m.inFlight[req.FeedID])
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight[req.FeedID]--
		m.mu.Unlock()
	}()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	return m.respond(req)
}

func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newContent(body string, etag string) func(req feed.FetchRequest) feed.FetchOutcome {
	return func(req feed.FetchRequest) feed.FetchOutcome {
		if etag != "" && req.Token.ETag == etag {
			return feed.FetchOutcome{Kind: feed.FetchUnchanged, Token: req.Token}
		}
		return feed.FetchOutcome{Kind: feed.FetchNewContent, Body: []byte(body), Token: feed.Token{ETag: etag}}
	}
}

// MockParser maps a document body to its entries.
type MockParser struct {
	mu        sync.Mutex
	documents map[string][]feed.RawEntry
	calls     int
}

func (m *MockParser) Run(data []byte) ([]feed.RawEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	entries, ok := m.documents[string(data)]
	if !ok {
		return nil, feed.ErrMalformedFeed
	}
	return entries, nil
}

// MockLedger is an in-memory ledger keyed by feed ID and identity key.
type MockLedger struct {
	mu          sync.Mutex
	records     map[string]database.LedgerRecord
	isNewErr    error
	commitFails map[string]int // identity key -> remaining failures
	isNewCalls  int
	commitCalls int
}

var _ Ledger = (*MockLedger)(nil)

func NewMockLedger() *MockLedger {
	return &MockLedger{
		records:     make(map[string]database.LedgerRecord),
		commitFails: make(map[string]int),
	}
}

func (m *MockLedger) IsNew(ctx context.Context, feedID, identityKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.isNewCalls++
	if m.isNewErr != nil {
		return false, m.isNewErr
	}
	_, exists := m.records[feedID+"/"+identityKey]
	return !exists, nil
}

func (m *MockLedger) Commit(ctx context.Context, feedID, identityKey string, firstSeenAt, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commitCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.commitFails[identityKey] > 0 {
		m.commitFails[identityKey]--
		return database.ErrStorageUnavailable
	}

	key := feedID + "/" + identityKey
	if _, exists := m.records[key]; exists {
		return database.ErrDuplicateCommit
	}
	m.records[key] = database.LedgerRecord{FeedID: feedID, IdentityKey: identityKey, FirstSeenAt: firstSeenAt, PublishedAt: publishedAt}
	return nil
}

func (m *MockLedger) Has(feedID, identityKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.records[feedID+"/"+identityKey]
	return exists
}

func (m *MockLedger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

var errPublishRejected = errors.New("publish rejected")

// MockPublisher records published entries; fail decides per attempt.
type MockPublisher struct {
	mu        sync.Mutex
	fail      func(entry feed.Entry) bool
	onPublish func(entry feed.Entry)
	published []feed.Entry
	calls     int
}

var _ Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, entry feed.Entry) error {
	m.mu.Lock()
	m.calls++
	onPublish := m.onPublish
	m.mu.Unlock()

	if onPublish != nil {
		onPublish(entry)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil && m.fail(entry) {
		return errPublishRejected
	}
	m.published = append(m.published, entry)
	return nil
}

func (m *MockPublisher) Titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	titles := make([]string, 0, len(m.published))
	for _, entry := range m.published {
		titles = append(titles, entry.Title)
	}
	return titles
}

func newTestPipeline(fetcher Fetcher, parser feed.FeedParser, ledger Ledger, publisher Publisher) *Pipeline {
	return &Pipeline{
		Fetcher:          fetcher,
		Parser:           parser,
		Normalizer:       feed.NewNormalizer(),
		Filterer:         feed.NewFilterer(),
		Ledger:           ledger,
		Publisher:        publisher,
		OperationTimeout: time.Second,
	}
}

func testFeedConfig(name string) *feed.Config {
	return &feed.Config{
		Name: name,
		URL:  "https://example.com/" + name + ".xml",
		Settings: feed.ConfigSettings{
			Enabled:            true,
			RefreshInterval:    60,
			MaxRefreshInterval: 600,
			MaxRetries:         2,
			BackoffBase:        1,
			BackoffCap:         5,
			FailureThreshold:   2,
			BackoffFactor:      2,
		},
	}
}

func rawEntries(titles ...string) []feed.RawEntry {
	entries := make([]feed.RawEntry, 0, len(titles))
	for _, title := range titles {
		entries = append(entries, feed.RawEntry{GUID: "id-" + title, Title: title, Link: "https://example.com/" + title})
	}
	return entries
}

func identityOf(feedID string, raw feed.RawEntry) string {
	return feed.NewNormalizer().Run(feedID, raw).IdentityKey
}
