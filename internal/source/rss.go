package source

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/chainwatch/internal/candidate"
)

// txHashRe matches an EVM transaction hash anywhere in feed text.
var txHashRe = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)

// RSSFeed polls an RSS 2.0 feed of exploit write-ups. Items are thin: the
// adapter extracts a tx hash from the text when one is present and keeps the
// raw item for human review, leaving dedup to the pipeline.
type RSSFeed struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewRSSFeed creates an RSS adapter.
func NewRSSFeed(name, endpoint string) *RSSFeed {
	return &RSSFeed{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (f *RSSFeed) Name() string { return f.name }

type rssDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title" json:"title"`
	Link        string `xml:"link" json:"link"`
	GUID        string `xml:"guid" json:"guid"`
	Description string `xml:"description" json:"description"`
	PubDate     string `xml:"pubDate" json:"pub_date"`
}

// Fetch implements Adapter.
func (f *RSSFeed) Fetch(ctx context.Context, since time.Time) ([]candidate.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", f.name, resp.StatusCode)
	}

	var doc rssDoc
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxFeedBody)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse %s feed: %w", f.name, err)
	}

	var out []candidate.Candidate
	for _, item := range doc.Channel.Items {
		c, ok := f.toCandidate(item, since)
		if !ok {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *RSSFeed) toCandidate(item rssItem, since time.Time) (candidate.Candidate, bool) {
	observed, err := parsePubDate(item.PubDate)
	if err != nil {
		return candidate.Candidate{}, false
	}
	if !since.IsZero() && !observed.After(since) {
		return candidate.Candidate{}, false
	}

	ref := item.GUID
	if ref == "" {
		ref = item.Link
	}
	if ref == "" {
		return candidate.Candidate{}, false
	}

	raw, _ := json.Marshal(item)

	return candidate.Candidate{
		SourceID:    f.name,
		ExternalRef: ref,
		ObservedAt:  observed,
		TxHash:      txHashRe.FindString(item.Title + " " + item.Description),
		RawPayload:  raw,
	}, true
}

func parsePubDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized pubDate %q", s)
}
