package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

const testBase = "https://jobs.test"

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func searchPage(from, n int) []byte {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for i := from; i < from+n; i++ {
		fmt.Fprintf(&b, `<li><div class="base-card job-search-card" data-entity-urn="urn:li:jobPosting:%d">
<a class="base-card__full-link" href="/jobs/view/role-%d?trk=1"></a>
<h3 class="base-search-card__title">Go Engineer %d</h3>
<h4 class="base-search-card__subtitle">Company %d</h4>
<span class="job-search-card__location">Remote</span>
<time datetime="2024-04-30"></time>
</div></li>`, 100000+i, 100000+i, i, i)
	}
	b.WriteString("</ul></body></html>")
	return []byte(b.String())
}

func newTestScraper(t *testing.T, primary, fallback Engine, blobs discovery.BlobStore, cfg Config) *Scraper {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = testBase
	}
	deps := Deps{Primary: primary, Blobs: blobs, Hasher: fakeHasher{}, Clock: fakeClock{}}
	if fallback != nil {
		deps.Fallback = fallback
	}
	s, err := New(deps, cfg)
	require.NoError(t, err)
	return s
}

func TestScrape_PrimarySucceeds(t *testing.T) {
	t.Parallel()

	req := discovery.SearchRequest{Query: "go", MaxResults: 10}
	primary := &fakeEngine{name: "stealth", pages: map[string][]byte{
		SearchURL(testBase, req, 1): searchPage(0, 12),
	}}
	fallback := &fakeEngine{name: "colly"}
	blobs := &fakeBlobs{}
	s := newTestScraper(t, primary, fallback, blobs, Config{SnapshotPrefix: "snap"})

	out := s.Scrape(context.Background(), "task-1", discovery.Credential{ID: "c1"}, req)
	require.True(t, out.Succeeded())
	require.NoError(t, out.Err())
	require.Equal(t, discovery.ScraperModePrimary, out.Engine)
	require.Len(t, out.Postings, 10, "stops at max results")
	require.Empty(t, out.Warnings)
	require.Equal(t, 0, fallback.opened())
	require.Equal(t, "c1", primary.lastCred)
	require.True(t, primary.closed())

	p := out.Postings[0]
	require.Equal(t, "100000", p.ExternalID)
	require.Equal(t, "https://jobs.test/jobs/view/role-100000", p.URL)
	require.True(t, p.Remote)
	require.Equal(t, "task-1", p.SourceTaskID)
	require.Equal(t, testNow, p.DiscoveredAt)

	require.Equal(t, []string{"snap/task-1/page-1.html"}, blobs.paths())
}

func TestScrape_PrimaryFailsFallbackSucceeds(t *testing.T) {
	t.Parallel()

	req := discovery.SearchRequest{Query: "go", MaxResults: 25}
	primary := &fakeEngine{name: "stealth", openErr: errors.New("chrome not found")}
	fallback := &fakeEngine{name: "colly", pages: map[string][]byte{
		SearchURL(testBase, req, 1): searchPage(0, 3),
	}}
	s := newTestScraper(t, primary, fallback, nil, Config{})

	out := s.Scrape(context.Background(), "task-2", discovery.Credential{ID: "c1"}, req)
	require.True(t, out.Succeeded())
	require.Equal(t, discovery.ScraperModeFallback, out.Engine)
	require.Len(t, out.Postings, 3)
	require.Equal(t, 1, fallback.opened())
}

func TestScrape_ChallengePageFallsBack(t *testing.T) {
	t.Parallel()

	req := discovery.SearchRequest{Query: "go", MaxResults: 25}
	primary := &fakeEngine{name: "stealth", pages: map[string][]byte{
		SearchURL(testBase, req, 1): []byte(`<form action="/checkpoint/challenge/verify"></form>`),
	}}
	fallback := &fakeEngine{name: "colly", pages: map[string][]byte{
		SearchURL(testBase, req, 1): searchPage(0, 2),
	}}
	s := newTestScraper(t, primary, fallback, nil, Config{})

	out := s.Scrape(context.Background(), "task-4", discovery.Credential{ID: "c1"}, req)
	require.True(t, out.Succeeded())
	require.Equal(t, discovery.ScraperModeFallback, out.Engine)
	require.Len(t, out.Postings, 2)
	require.Equal(t, 1, fallback.opened())
}

func TestScrape_BothFail(t *testing.T) {
	t.Parallel()

	req := discovery.SearchRequest{Query: "go", MaxResults: 25}
	primary := &fakeEngine{name: "stealth", fetchErr: errors.New("navigation timeout")}
	fallback := &fakeEngine{name: "colly", pages: map[string][]byte{
		SearchURL(testBase, req, 1): []byte("blocked"),
	}, status: 999}
	s := newTestScraper(t, primary, fallback, nil, Config{})

	out := s.Scrape(context.Background(), "task-3", discovery.Credential{}, req)
	require.False(t, out.Succeeded())
	require.Len(t, out.Reasons, 2)

	var engineErr *discovery.ScrapeEngineError
	require.ErrorAs(t, out.Err(), &engineErr)
	require.Equal(t, discovery.KindScrapeEngine, discovery.KindOf(out.Err()))
	require.Contains(t, out.Err().Error(), "navigation timeout")
	require.Contains(t, out.Err().Error(), "unexpected status 999")
	require.True(t, primary.closed())
}

func TestScrape_EmptyResultWarns(t *testing.T) {
	t.Parallel()

	req := discovery.SearchRequest{Query: "nothing", MaxResults: 25}
	primary := &fakeEngine{name: "stealth", pages: map[string][]byte{
		SearchURL(testBase, req, 1): []byte("<html><body>No matching jobs</body></html>"),
	}}
	s := newTestScraper(t, primary, nil, nil, Config{})

	out := s.Scrape(context.Background(), "task-4", discovery.Credential{}, req)
	require.True(t, out.Succeeded())
	require.Empty(t, out.Postings)
	require.Equal(t, []string{NoCardsWarning}, out.Warnings)
}

func TestScrape_PaginationPartialFailure(t *testing.T) {
	t.Parallel()

	req := discovery.SearchRequest{Query: "go", MaxResults: 60}
	primary := &fakeEngine{name: "stealth", pages: map[string][]byte{
		SearchURL(testBase, req, 1): searchPage(0, 25),
		SearchURL(testBase, req, 2): searchPage(20, 25),
	}}
	s := newTestScraper(t, primary, nil, nil, Config{})

	out := s.Scrape(context.Background(), "task-5", discovery.Credential{}, req)
	require.True(t, out.Succeeded())
	require.Len(t, out.Postings, 45, "overlapping cards are deduplicated")
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "page 3 failed to load")
}

func TestScrape_PanicIsEngineFailure(t *testing.T) {
	t.Parallel()

	req := discovery.SearchRequest{Query: "go", MaxResults: 5}
	primary := &fakeEngine{name: "stealth", panics: true}
	fallback := &fakeEngine{name: "colly", pages: map[string][]byte{
		SearchURL(testBase, req, 1): searchPage(0, 2),
	}}
	s := newTestScraper(t, primary, fallback, nil, Config{})

	out := s.Scrape(context.Background(), "task-6", discovery.Credential{}, req)
	require.Equal(t, discovery.ScraperModeFallback, out.Engine)
	require.Len(t, out.Postings, 2)
}

func TestScrape_FetchesDetailsAndAggregatesWarnings(t *testing.T) {
	t.Parallel()

	req := discovery.SearchRequest{Query: "go", MaxResults: 25}
	page := `<html><body><ul>
<li><div class="job-search-card" data-entity-urn="urn:li:jobPosting:555555">
<a class="base-card__full-link" href="/jobs/view/555555"></a>
<h3 class="base-search-card__title">Staff Engineer</h3></div></li>
<li><div class="job-search-card" data-entity-urn="urn:li:jobPosting:666666">
<a class="base-card__full-link" href="/jobs/view/666666"></a>
<h3 class="base-search-card__title">Principal Engineer</h3></div></li>
<li><div class="job-search-card"><h4 class="base-search-card__subtitle">Untitled</h4></div></li>
</ul></body></html>`
	desc := strings.Repeat("Own the Go platform end to end. ", 8)
	primary := &fakeEngine{name: "stealth", pages: map[string][]byte{
		SearchURL(testBase, req, 1):   []byte(page),
		testBase + "/jobs/view/555555": []byte(`<div id="job-details">` + desc + `</div>`),
	}}
	s := newTestScraper(t, primary, nil, nil, Config{FetchDetails: true})

	out := s.Scrape(context.Background(), "task-7", discovery.Credential{}, req)
	require.True(t, out.Succeeded())
	require.Len(t, out.Postings, 2)
	require.Equal(t, strings.TrimSpace(desc), out.Postings[0].Description)
	require.Empty(t, out.Postings[1].Description)
	require.Equal(t, []string{
		"1 cards dropped: missing title",
		"2 cards missing company",
		"1 cards missing description",
		"2 cards missing location",
		"2 cards missing posted_at",
		"1 detail pages failed",
	}, out.Warnings)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
	_, err = New(Deps{Primary: &fakeEngine{}}, Config{})
	require.Error(t, err)
}

// --- fakes ---

type fakeEngine struct {
	name     string
	pages    map[string][]byte
	status   int
	openErr  error
	fetchErr error
	panics   bool

	mu       sync.Mutex
	opens    int
	closes   int
	lastCred string
}

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) Open(_ context.Context, cred discovery.Credential) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opens++
	e.lastCred = cred.ID
	if e.openErr != nil {
		return nil, e.openErr
	}
	return &fakeSession{engine: e}, nil
}

func (e *fakeEngine) opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

func (e *fakeEngine) closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes == e.opens && e.opens > 0
}

type fakeSession struct {
	engine *fakeEngine
}

func (s *fakeSession) Fetch(_ context.Context, url string) (Page, error) {
	e := s.engine
	if e.panics {
		panic("renderer crashed")
	}
	if e.fetchErr != nil {
		return Page{}, e.fetchErr
	}
	body, ok := e.pages[url]
	if !ok {
		return Page{}, fmt.Errorf("no fixture for %s", url)
	}
	status := e.status
	if status == 0 {
		status = 200
	}
	return Page{URL: url, StatusCode: status, Body: body}, nil
}

func (s *fakeSession) Close() {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.closes++
}

type fakeBlobs struct {
	mu   sync.Mutex
	keys []string
}

func (b *fakeBlobs) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, path)
	return "memory://" + path, nil
}

func (b *fakeBlobs) paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys...)
}

type fakeClock struct{}

func (fakeClock) Now() time.Time { return testNow }

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("%032x", len(data)), nil
}
