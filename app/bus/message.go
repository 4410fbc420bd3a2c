package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/rss-sieve/app/feed"
)

// Message is the JSON payload written to the bus for every new entry.
type Message struct {
	ID          string     `json:"id"`
	FeedID      string     `json:"feed_id"`
	IdentityKey string     `json:"identity_key"`
	Title       string     `json:"title"`
	Link        string     `json:"link,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	ContentHash string     `json:"content_hash"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	Authors     []string   `json:"authors,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	EmittedAt   time.Time  `json:"emitted_at"`
}

func NewMessage(entry feed.Entry, emittedAt time.Time) Message {
	msg := Message{
		ID:          uuid.NewString(),
		FeedID:      entry.FeedID,
		IdentityKey: entry.IdentityKey,
		Title:       entry.Title,
		Link:        entry.Link,
		ContentHash: entry.ContentHash,
		Description: entry.Description,
		Content:     entry.Content,
		Authors:     entry.Authors,
		Categories:  entry.Categories,
		EmittedAt:   emittedAt.UTC(),
	}

	if !entry.PublishedAt.IsZero() {
		published := entry.PublishedAt.UTC()
		msg.PublishedAt = &published
	}
	if !entry.UpdatedAt.IsZero() {
		updated := entry.UpdatedAt.UTC()
		msg.UpdatedAt = &updated
	}

	return msg
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
