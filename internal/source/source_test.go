package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/chainwatch/internal/candidate"
	"github.com/linnemanlabs/chainwatch/internal/incident"
)

type stubAdapter struct {
	name    string
	fetchFn func(ctx context.Context, since time.Time) ([]candidate.Candidate, error)
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(ctx context.Context, since time.Time) ([]candidate.Candidate, error) {
	return a.fetchFn(ctx, since)
}

type stubSubmitter struct {
	mu       sync.Mutex
	received []candidate.Candidate
	submitFn func(c *candidate.Candidate) (*incident.Outcome, error)
}

func (s *stubSubmitter) Submit(_ context.Context, c *candidate.Candidate) (*incident.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, *c)
	if s.submitFn != nil {
		return s.submitFn(c)
	}
	return &incident.Outcome{Kind: incident.OutcomeCreated}, nil
}

func (s *stubSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := &stubAdapter{name: "rekt"}
	b := &stubAdapter{name: "peckshield"}
	r.Register(a)
	r.Register(b)

	got, ok := r.Get("rekt")
	if !ok || got.Name() != "rekt" {
		t.Errorf("Get(rekt) = %v, %v", got, ok)
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) = ok, want miss")
	}

	all := r.All()
	if len(all) != 2 || all[0].Name() != "rekt" || all[1].Name() != "peckshield" {
		t.Errorf("All() order wrong: %v", names(all))
	}

	// Re-registering replaces, not duplicates.
	r.Register(&stubAdapter{name: "rekt"})
	if len(r.All()) != 2 {
		t.Errorf("re-register grew registry to %d", len(r.All()))
	}
}

func names(as []Adapter) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Name()
	}
	return out
}

func TestJSONFeed_Fetch(t *testing.T) {
	t.Parallel()

	var gotAuth, gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSince = r.URL.Query().Get("since")
		fmt.Fprint(w, `[
			{"source_id":"rekt","external_ref":"r/1","observed_at":"2026-03-01T10:00:00Z","tx_hash":"0xabc"},
			{"external_ref":"r/2","observed_at":"2026-03-02T10:00:00Z","chain":"bsc","protocol_name":"BarVault"},
			{"external_ref":"r/0","observed_at":"2026-02-01T10:00:00Z"}
		]`)
	}))
	defer srv.Close()

	f := NewJSONFeed("rektfeed", srv.URL, "tok-1")
	since := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	got, err := f.Fetch(context.Background(), since)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotSince != "2026-02-15T00:00:00Z" {
		t.Errorf("since = %q", gotSince)
	}

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 (older one filtered)", len(got))
	}
	if got[0].SourceID != "rekt" {
		t.Errorf("explicit source_id overwritten: %q", got[0].SourceID)
	}
	if got[1].SourceID != "rektfeed" {
		t.Errorf("missing source_id not defaulted: %q", got[1].SourceID)
	}
}

func TestJSONFeed_FetchEndpointWithQuery(t *testing.T) {
	t.Parallel()

	var gotKey, gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotSince = r.URL.Query().Get("since")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	// The since cursor must merge with query parameters already present on
	// the configured endpoint.
	f := NewJSONFeed("rektfeed", srv.URL+"/feed?key=abc", "")
	since := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	if _, err := f.Fetch(context.Background(), since); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotKey != "abc" {
		t.Errorf("key = %q, endpoint query parameter lost", gotKey)
	}
	if gotSince != "2026-02-15T00:00:00Z" {
		t.Errorf("since = %q", gotSince)
	}
}

func TestJSONFeed_FetchErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewJSONFeed("broken", srv.URL, "")
	if _, err := f.Fetch(context.Background(), time.Time{}); err == nil {
		t.Error("Fetch on 502 returned nil error")
	}
}

const rssFixture = `<?xml version="1.0"?>
<rss version="2.0"><channel>
	<title>exploit reports</title>
	<item>
		<title>FooSwap drained via 0x` + txHash64 + `</title>
		<link>https://example.com/fooswap</link>
		<guid>https://example.com/fooswap</guid>
		<description>reentrancy, ~$5M</description>
		<pubDate>Mon, 02 Mar 2026 10:00:00 +0000</pubDate>
	</item>
	<item>
		<title>weekly roundup</title>
		<guid>https://example.com/roundup</guid>
		<pubDate>Sun, 01 Mar 2026 09:00:00 +0000</pubDate>
	</item>
	<item>
		<title>no date, dropped</title>
		<guid>https://example.com/nodate</guid>
	</item>
</channel></rss>`

const txHash64 = "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

func TestRSSFeed_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFixture)
	}))
	defer srv.Close()

	f := NewRSSFeed("rektblog", srv.URL)
	got, err := f.Fetch(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 (undated item dropped)", len(got))
	}
	if got[0].SourceID != "rektblog" {
		t.Errorf("SourceID = %q", got[0].SourceID)
	}
	if got[0].ExternalRef != "https://example.com/fooswap" {
		t.Errorf("ExternalRef = %q", got[0].ExternalRef)
	}
	if got[0].TxHash != "0x"+txHash64 {
		t.Errorf("TxHash = %q, want extracted hash", got[0].TxHash)
	}
	if got[1].TxHash != "" {
		t.Errorf("roundup TxHash = %q, want empty", got[1].TxHash)
	}
	if len(got[0].RawPayload) == 0 {
		t.Error("RawPayload not kept")
	}

	// since filter excludes the older item.
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err = f.Fetch(context.Background(), since)
	if err != nil {
		t.Fatalf("Fetch with since: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d candidates after since filter, want 1", len(got))
	}
}

func TestParsePubDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantErr bool
	}{
		{"Mon, 02 Mar 2026 10:00:00 +0000", false},
		{"Mon, 02 Mar 2026 10:00:00 UTC", false},
		{"2026-03-02T10:00:00Z", false},
		{"yesterday-ish", true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := parsePubDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePubDate(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestRunner_PollsAndAdvancesWatermark(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	var sinces []time.Time
	adapter := &stubAdapter{
		name: "feed",
		fetchFn: func(_ context.Context, since time.Time) ([]candidate.Candidate, error) {
			mu.Lock()
			sinces = append(sinces, since)
			n := len(sinces)
			mu.Unlock()
			if n > 1 {
				return nil, nil
			}
			return []candidate.Candidate{
				{SourceID: "feed", ExternalRef: "f/2", ObservedAt: base.Add(2 * time.Hour), TxHash: "0xb"},
				{SourceID: "feed", ExternalRef: "f/1", ObservedAt: base.Add(time.Hour), TxHash: "0xa"},
			}, nil
		},
	}

	reg := NewRegistry()
	reg.Register(adapter)

	sub := &stubSubmitter{}
	r := NewRunner(reg, sub, nil, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(sinces)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("runner never reached a second poll")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if sub.count() != 2 {
		t.Fatalf("submitted %d candidates, want 2", sub.count())
	}
	// Oldest first despite feed order.
	if sub.received[0].ExternalRef != "f/1" || sub.received[1].ExternalRef != "f/2" {
		t.Errorf("submit order = [%s %s], want [f/1 f/2]",
			sub.received[0].ExternalRef, sub.received[1].ExternalRef)
	}

	if !sinces[0].IsZero() {
		t.Errorf("first poll since = %v, want zero", sinces[0])
	}
	if !sinces[1].Equal(base.Add(2 * time.Hour)) {
		t.Errorf("second poll since = %v, want %v", sinces[1], base.Add(2*time.Hour))
	}
}

func TestRunner_WatermarkHeldOnSubmitError(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	adapter := &stubAdapter{
		name: "feed",
		fetchFn: func(_ context.Context, _ time.Time) ([]candidate.Candidate, error) {
			return []candidate.Candidate{
				{SourceID: "feed", ExternalRef: "f/1", ObservedAt: base.Add(time.Hour), TxHash: "0xa"},
				{SourceID: "feed", ExternalRef: "f/2", ObservedAt: base.Add(2 * time.Hour), TxHash: "0xb"},
			}, nil
		},
	}
	reg := NewRegistry()
	reg.Register(adapter)

	sub := &stubSubmitter{
		submitFn: func(c *candidate.Candidate) (*incident.Outcome, error) {
			if c.ExternalRef == "f/2" {
				return nil, fmt.Errorf("store down")
			}
			return &incident.Outcome{Kind: incident.OutcomeCreated}, nil
		},
	}

	r := NewRunner(reg, sub, nil, nil, time.Minute)
	r.poll(context.Background(), adapter)

	if got := r.watermark("feed"); !got.Equal(base.Add(time.Hour)) {
		t.Errorf("watermark = %v, want %v (held behind failed candidate)", got, base.Add(time.Hour))
	}
}
