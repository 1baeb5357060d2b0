package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/linnemanlabs/chainwatch/internal/candidate"
)

const maxFeedBody = 4 << 20 // 4MB

// JSONFeed polls an HTTP endpoint that serves candidates as a JSON array.
// This covers aggregator APIs that already speak our candidate shape.
type JSONFeed struct {
	name       string
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewJSONFeed creates a JSON feed adapter. token, when non-empty, is sent as
// a bearer token.
func NewJSONFeed(name, endpoint, token string) *JSONFeed {
	return &JSONFeed{
		name:     name,
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (f *JSONFeed) Name() string { return f.name }

// Fetch implements Adapter. The since bound is passed upstream so feeds that
// support it can trim their response; everything older is filtered locally
// regardless.
func (f *JSONFeed) Fetch(ctx context.Context, since time.Time) ([]candidate.Candidate, error) {
	endpoint := f.endpoint
	if !since.IsZero() {
		u, err := url.Parse(f.endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse %s endpoint: %w", f.name, err)
		}
		q := u.Query()
		q.Set("since", since.UTC().Format(time.RFC3339))
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch %s: status %d: %s", f.name, resp.StatusCode, body)
	}

	var items []candidate.Candidate
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBody)).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode %s feed: %w", f.name, err)
	}

	out := items[:0]
	for _, c := range items {
		if !since.IsZero() && !c.ObservedAt.After(since) {
			continue
		}
		if c.SourceID == "" {
			c.SourceID = f.name
		}
		out = append(out, c)
	}
	return out, nil
}
