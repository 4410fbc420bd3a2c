package feed

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

const (
	identityPrefixGUID = "guid:"
	identityPrefixLink = "link:"
	identityPrefixText = "text:"
)

var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"ref":    true,
}

// Normalizer converts raw entries into canonical entries. Run never fails and
// always returns the same Entry for the same input.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) Run(feedID string, raw RawEntry) Entry {
	link := n.normalizeURL(strings.TrimSpace(raw.Link))
	title := collapse(raw.Title)

	entry := Entry{
		FeedID:      feedID,
		Title:       title,
		Link:        link,
		Description: raw.Description,
		Content:     raw.Content,
		Authors:     raw.Authors,
		Categories:  raw.Categories,
	}

	if raw.PublishedAt != nil {
		entry.PublishedAt = raw.PublishedAt.UTC()
	}
	if raw.UpdatedAt != nil {
		entry.UpdatedAt = raw.UpdatedAt.UTC()
	}

	body := plainText(raw.Content)
	if body == "" {
		body = plainText(raw.Description)
	}

	entry.IdentityKey = n.identityKey(raw.GUID, link, entry.PublishedAt, title, body)
	entry.ContentHash = hashOf(title, body)

	return entry
}

// identityKey prefers the source GUID, then link plus publish time, then title plus body.
func (n *Normalizer) identityKey(guid, link string, publishedAt time.Time, title, body string) string {
	if guid = norm.NFC.String(strings.TrimSpace(guid)); guid != "" {
		return identityPrefixGUID + hashOf(guid)
	}

	if link != "" {
		published := ""
		if !publishedAt.IsZero() {
			published = publishedAt.Format(time.RFC3339)
		}
		return identityPrefixLink + hashOf(link, published)
	}

	return identityPrefixText + hashOf(title, body)
}

// normalizeURL strips tracking parameters so the same article shared through
// different campaigns keeps one identity.
func (n *Normalizer) normalizeURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Host = strings.ToLower(u.Host)

	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			if strings.HasPrefix(strings.ToLower(key), "utm_") || trackingParams[strings.ToLower(key)] {
				query.Del(key)
			}
		}
		u.RawQuery = query.Encode()
	}

	return u.String()
}

func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}

	return collapse(doc.Text())
}

func collapse(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// hashOf length-prefixes every part so no two part lists share an input.
func hashOf(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(binary.BigEndian.AppendUint64(nil, uint64(len(part))))
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
