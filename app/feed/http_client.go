package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Token carries the validators returned by the last successful fetch.
type Token struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

func (t Token) IsZero() bool {
	return t.ETag == "" && t.LastModified == ""
}

type FetchResponse struct {
	NotModified bool
	Body        []byte
	Token       Token
}

// HTTPClient fetches a feed document, honouring the conditional token.
type HTTPClient interface {
	Fetch(ctx context.Context, url string, token Token) (*FetchResponse, error)
}

var _ HTTPClient = (*Client)(nil)

const maxBodySize = 16 << 20

type Client struct {
	httpClient *http.Client
	userAgent  string
}

func NewClient(httpClient *http.Client, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

func (c *Client) Fetch(ctx context.Context, url string, token Token) (*FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrorRequest, URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")
	if token.ETag != "" {
		req.Header.Set("If-None-Match", token.ETag)
	}
	if token.LastModified != "" {
		req.Header.Set("If-Modified-Since", token.LastModified)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResponse{NotModified: true, Token: token}, nil
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Kind: FetchErrorStatus, URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, classifyTransportError(url, fmt.Errorf("failed to read response body: %w", err))
	}
	if len(data) > maxBodySize {
		return nil, &FetchError{Kind: FetchErrorTooLarge, URL: url, Err: fmt.Errorf("response body exceeds %d bytes", maxBodySize)}
	}

	return &FetchResponse{
		Body: data,
		Token: Token{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

func classifyTransportError(url string, err error) *FetchError {
	kind := FetchErrorNetwork
	var timeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		kind = FetchErrorTimeout
	}
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// requestTimeout picks the feed's own timeout, falling back to the global one.
func requestTimeout(feedTimeout, fallback time.Duration) time.Duration {
	if feedTimeout > 0 {
		return feedTimeout
	}
	return fallback
}
