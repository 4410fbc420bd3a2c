package feed

import (
	"time"
)

// Feed processing types

// RawEntry is one item as returned by the feed parser, in document order.
type RawEntry struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt *time.Time
	UpdatedAt   *time.Time
	Authors     []string // Multiple authors in format "email (name)" or "name"
	Categories  []string
}

// Entry is the canonical form of a RawEntry.
type Entry struct {
	FeedID      string
	IdentityKey string
	Title       string
	Link        string
	PublishedAt time.Time // zero when the source had no date
	UpdatedAt   time.Time // zero when the source had no date; not part of the identity
	ContentHash string

	Description string
	Content     string
	Authors     []string
	Categories  []string

	IsFiltered   bool
	FilterReason string
}

// Configuration types

type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	URL      string         `yaml:"url"`
	Settings ConfigSettings `yaml:"settings"`
	Filters  []ConfigFilter `yaml:"filters"`
}

type ConfigSettings struct {
	Enabled            bool    `yaml:"enabled"`
	RefreshInterval    int     `yaml:"refresh_interval"`     // seconds
	MaxRefreshInterval int     `yaml:"max_refresh_interval"` // seconds
	Timeout            int     `yaml:"timeout"`              // seconds, 0 uses the global fetch timeout
	MaxRetries         int     `yaml:"max_retries"`          // 0 disables retries
	BackoffBase        int     `yaml:"backoff_base"`         // milliseconds
	BackoffCap         int     `yaml:"backoff_cap"`          // milliseconds
	FailureThreshold   int     `yaml:"failure_threshold"`    // 0 backs off from the first failure
	BackoffFactor      float64 `yaml:"backoff_factor"`
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

func (s ConfigSettings) GetRefreshInterval() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

func (s ConfigSettings) GetMaxRefreshInterval() time.Duration {
	return time.Duration(s.MaxRefreshInterval) * time.Second
}

func (s ConfigSettings) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

func (s ConfigSettings) GetBackoffBase() time.Duration {
	return time.Duration(s.BackoffBase) * time.Millisecond
}

func (s ConfigSettings) GetBackoffCap() time.Duration {
	return time.Duration(s.BackoffCap) * time.Millisecond
}
