package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultSearchURL = "https://api.duckduckgo.com/"
	SearchTimeout    = 10 * time.Second
)

// SearchClient queries an instant-answer style search API.
type SearchClient struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewSearchClient returns a client for url, or the default endpoint.
func NewSearchClient(url string) *SearchClient {
	if url == "" {
		url = DefaultSearchURL
	}
	return &SearchClient{URL: url, Timeout: SearchTimeout}
}

func (c *SearchClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

type searchResponse struct {
	Abstract      string `json:"Abstract"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// Search returns the Abstract for query, or the first related topic text.
func (c *SearchClient) Search(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	req.URL.RawQuery = q.Encode()

	body, err := do(c.http(), "search", req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("search response: %w: %v", errDecode, err)
	}
	if s := strings.TrimSpace(out.Abstract); s != "" {
		return s, nil
	}
	if len(out.RelatedTopics) > 0 {
		if s := strings.TrimSpace(out.RelatedTopics[0].Text); s != "" {
			return s, nil
		}
	}
	return "", ErrEmpty
}
