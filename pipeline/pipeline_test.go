package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MikeyMike1984/amazon-seller-by-asin/config"
	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
	"github.com/MikeyMike1984/amazon-seller-by-asin/scraper"
	"github.com/jarcoal/httpmock"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.URLTemplate = "http://example.test/gp/aod/ajax/ref=dp_aod_NEW_mbc?asin={asin}"
	cfg.Timeout = 2 * time.Second
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMin = 2 * time.Millisecond
	cfg.RetryBackoffMax = 10 * time.Millisecond
	return cfg
}

func newTestRun(t *testing.T) *Run {
	t.Helper()
	run, err := NewRun(100)
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	t.Cleanup(run.Close)
	return run
}

// fakeFetcher counts calls and tracks how many fetches overlap.
type fakeFetcher struct {
	delay   time.Duration
	respond func(asin string, call int) models.FetchOutcome

	mu             sync.Mutex
	calls          map[string]int
	missingHeaders int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newFakeFetcher(respond func(asin string, call int) models.FetchOutcome) *fakeFetcher {
	return &fakeFetcher{respond: respond, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, asin string, headers http.Header) models.FetchOutcome {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if current <= peak || f.maxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[asin]++
	call := f.calls[asin]
	if headers.Get("User-Agent") == "" {
		f.missingHeaders++
	}
	f.mu.Unlock()

	return f.respond(asin, call)
}

func (f *fakeFetcher) callCount(asin string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[asin]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func sellersFor(asin string, sellers ...string) models.FetchOutcome {
	stamp := time.Now()
	records := make([]models.SellerRecord, 0, len(sellers))
	for _, seller := range sellers {
		records = append(records, models.SellerRecord{ASIN: asin, Seller: seller, ScrapedAt: stamp})
	}
	return models.Success(asin, records)
}

func alwaysFail(asin string, _ int) models.FetchOutcome {
	err := scraper.ErrHTTPStatus{StatusCode: http.StatusServiceUnavailable}
	return models.Failure(asin, models.KindHTTPStatus, err)
}

var offersPath = regexp.MustCompile(`/gp/aod/ajax/`)

func newMockedScraper(t *testing.T, cfg *config.Config, transport http.RoundTripper) *scraper.Scraper {
	t.Helper()
	s, err := scraper.NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.WithTransport(transport)
	return s
}

// Raw sellers {"Acme", "Acme ", "Acme"} collapse to one row. Only
// whitespace is folded: matching is case-sensitive, so "acme " would stay a
// second seller (TestScraperCustomExtractor pins that).
func TestScrapeDeduplicatesSellers(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder(http.MethodGet, offersPath, httpmock.NewStringResponder(http.StatusOK, "<html></html>"))

	s := newMockedScraper(t, cfg, transport)
	s.Extract = func(body []byte) ([]string, error) {
		return []string{"Acme", "Acme ", "Acme"}, nil
	}
	p := NewPipeline(cfg, s, s.Metrics)

	result := p.Scrape(context.Background(), newTestRun(t), []string{"B001"})
	if len(result.Records) != 1 {
		t.Fatalf("records = %+v, want exactly one", result.Records)
	}
	if got := result.Records[0]; got.ASIN != "B001" || got.Seller != "Acme" {
		t.Fatalf("record = %+v, want B001/Acme", got)
	}
}

// One ASIN fails on every attempt, the other succeeds. The run
// returns the successful row only and no error reaches the caller.
func TestScrapeIsolatesFailures(t *testing.T) {
	cfg := testConfig()
	var b001Calls atomic.Int64
	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder(http.MethodGet, offersPath, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("asin") == "B001" {
			b001Calls.Add(1)
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		body := `<div id="aod-offer-soldBy"><div class="a-fixed-left-grid-col a-col-right"><a>Globex</a></div></div>`
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	})

	s := newMockedScraper(t, cfg, transport)
	p := NewPipeline(cfg, s, s.Metrics)

	result := p.Scrape(context.Background(), newTestRun(t), []string{"B001", "B002"})
	if len(result.Records) != 1 {
		t.Fatalf("records = %+v, want one", result.Records)
	}
	if got := result.Records[0]; got.ASIN != "B002" || got.Seller != "Globex" {
		t.Fatalf("record = %+v, want B002/Globex", got)
	}
	if got := b001Calls.Load(); got != 3 {
		t.Fatalf("B001 attempts = %d, want 3", got)
	}
	if !reflect.DeepEqual(result.FailedASINs, []string{"B001"}) {
		t.Fatalf("failed asins = %v", result.FailedASINs)
	}
	if result.Reports[0].Status != models.ReportFailed || result.Reports[1].Status != models.ReportOK {
		t.Fatalf("reports = %+v", result.Reports)
	}
}

// No ASINs means no network calls and a header-only table.
func TestScrapeEmptyInput(t *testing.T) {
	cfg := testConfig()
	fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
		return sellersFor(asin, "Acme")
	})
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

	result := p.Scrape(context.Background(), newTestRun(t), nil)
	if len(result.Records) != 0 {
		t.Fatalf("records = %+v, want none", result.Records)
	}
	if fetcher.totalCalls() != 0 {
		t.Fatalf("empty input must not fetch")
	}

	var buf bytes.Buffer
	if err := WriteTable(&buf, result.Records); err != nil {
		t.Fatalf("write table: %v", err)
	}
	if got := buf.String(); got != "ASIN,Seller,Date,Time\n" {
		t.Fatalf("table = %q, want header only", got)
	}
}

func TestScrapeRespectsConcurrencyLimit(t *testing.T) {
	for _, capacity := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			cfg := testConfig()
			cfg.Concurrency = capacity

			fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
				return sellersFor(asin, "Acme")
			})
			fetcher.delay = 5 * time.Millisecond
			p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

			asins := make([]string, 40)
			for i := range asins {
				asins[i] = fmt.Sprintf("B%03d", i)
			}

			result := p.Scrape(context.Background(), newTestRun(t), asins)
			if len(result.Records) != len(asins) {
				t.Fatalf("records = %d, want %d", len(result.Records), len(asins))
			}
			if peak := fetcher.maxInFlight.Load(); peak > int64(capacity) || peak == 0 {
				t.Fatalf("peak in-flight = %d, capacity %d", peak, capacity)
			}
			if p.Limiter().InFlight() != 0 {
				t.Fatalf("limiter still holds %d slots", p.Limiter().InFlight())
			}
			if fetcher.missingHeaders != 0 {
				t.Fatalf("%d fetches ran without rotated headers", fetcher.missingHeaders)
			}
		})
	}
}

func TestScrapeWarmCacheIsIdempotent(t *testing.T) {
	cfg := testConfig()
	fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
		return sellersFor(asin, "Acme", "Globex")
	})
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())
	run := newTestRun(t)

	first := p.Scrape(context.Background(), run, []string{"B001"})
	time.Sleep(5 * time.Millisecond)
	second := p.Scrape(context.Background(), run, []string{"B001"})

	if fetcher.callCount("B001") != 1 {
		t.Fatalf("calls = %d, want 1", fetcher.callCount("B001"))
	}
	if !reflect.DeepEqual(first.Records, second.Records) {
		t.Fatalf("second run records differ:\n%+v\n%+v", first.Records, second.Records)
	}

	var a, b bytes.Buffer
	if err := WriteTable(&a, first.Records); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := WriteTable(&b, second.Records); err != nil {
		t.Fatalf("write second: %v", err)
	}
	if a.String() != b.String() {
		t.Fatalf("tables differ:\n%s\n%s", a.String(), b.String())
	}
	if second.CacheHits != 1 || second.Reports[0].Status != models.ReportCached {
		t.Fatalf("second run should be served from cache: %+v", second.Reports)
	}
}

func TestScrapeClosedRunRefetches(t *testing.T) {
	cfg := testConfig()
	fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
		return sellersFor(asin, "Acme")
	})
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())
	run := newTestRun(t)

	p.Scrape(context.Background(), run, []string{"B001"})
	run.Close()
	p.Scrape(context.Background(), run, []string{"B001"})

	if fetcher.callCount("B001") != 2 {
		t.Fatalf("calls = %d, want 2 after clearing the run", fetcher.callCount("B001"))
	}
}

func TestScrapeDoesNotCacheFailures(t *testing.T) {
	cfg := testConfig()
	fetcher := newFakeFetcher(alwaysFail)
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())
	run := newTestRun(t)

	p.Scrape(context.Background(), run, []string{"B001"})
	if run.Cache().Len() != 0 {
		t.Fatalf("failed asin was cached")
	}
	p.Scrape(context.Background(), run, []string{"B001"})
	if got := fetcher.callCount("B001"); got != 6 {
		t.Fatalf("calls = %d, want 3 per run", got)
	}
}

func TestScrapePreservesSubmissionOrder(t *testing.T) {
	cfg := testConfig()
	delays := map[string]time.Duration{"B003": 15 * time.Millisecond, "B001": 0, "B002": 5 * time.Millisecond}
	fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
		time.Sleep(delays[asin])
		return sellersFor(asin, asin+"-x", asin+"-y")
	})
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

	result := p.Scrape(context.Background(), newTestRun(t), []string{"B003", "B001", "B002"})

	var got []string
	for _, record := range result.Records {
		got = append(got, record.Seller)
	}
	want := []string{"B003-x", "B003-y", "B001-x", "B001-y", "B002-x", "B002-y"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestScrapeRowCountBound(t *testing.T) {
	cfg := testConfig()
	sellers := map[string][]string{
		"B001": {"Acme", "Globex"},
		"B002": {},
		"B003": {"Initech"},
	}
	fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
		if asin == "B004" {
			return alwaysFail(asin, 0)
		}
		return sellersFor(asin, sellers[asin]...)
	})
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

	result := p.Scrape(context.Background(), newTestRun(t), []string{"B001", "B002", "B003", "B004"})
	if len(result.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(result.Records))
	}

	seen := make(map[string]map[string]bool)
	for _, record := range result.Records {
		if seen[record.ASIN] == nil {
			seen[record.ASIN] = make(map[string]bool)
		}
		if seen[record.ASIN][record.Seller] {
			t.Fatalf("duplicate seller %q for %s", record.Seller, record.ASIN)
		}
		seen[record.ASIN][record.Seller] = true
	}

	statuses := make(map[string]string)
	for _, report := range result.Reports {
		statuses[report.ASIN] = report.Status
	}
	want := map[string]string{"B001": "ok", "B002": "empty", "B003": "ok", "B004": "failed"}
	if !reflect.DeepEqual(statuses, want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
}

func TestScrapeDuplicateASINFetchedOnce(t *testing.T) {
	cfg := testConfig()
	fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
		return sellersFor(asin, "Acme")
	})
	fetcher.delay = 5 * time.Millisecond
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

	result := p.Scrape(context.Background(), newTestRun(t), []string{"B001", "B001", "B001"})
	if fetcher.callCount("B001") != 1 {
		t.Fatalf("calls = %d, want 1", fetcher.callCount("B001"))
	}
	if len(result.Records) != 3 {
		t.Fatalf("records = %d, want one per submission", len(result.Records))
	}
}

func TestScrapeDuplicateFailureCountedPerFetch(t *testing.T) {
	cfg := testConfig()
	cfg.FailurePolicy = config.FailurePolicyFail
	fetcher := newFakeFetcher(alwaysFail)
	fetcher.delay = 5 * time.Millisecond
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

	result := p.Scrape(context.Background(), newTestRun(t), []string{"B001", "B001", "B001"})

	calls := fetcher.callCount("B001")
	if calls == 0 || calls%cfg.MaxAttempts != 0 {
		t.Fatalf("calls = %d, want whole retry sequences of %d", calls, cfg.MaxAttempts)
	}
	fetches := calls / cfg.MaxAttempts
	if want := fetches * (cfg.MaxAttempts - 1); result.RetryCount != want {
		t.Fatalf("retries = %d, want %d for %d fetch(es)", result.RetryCount, want, fetches)
	}
	if !reflect.DeepEqual(result.FailedASINs, []string{"B001"}) {
		t.Fatalf("failed = %v, want B001 once", result.FailedASINs)
	}
	if len(result.Reports) != 3 {
		t.Fatalf("reports = %d, want one per submission", len(result.Reports))
	}
	for _, report := range result.Reports {
		if report.Status != models.ReportFailed {
			t.Fatalf("report = %+v, want failed", report)
		}
	}
}

func TestScrapeFailPolicyStillCompletes(t *testing.T) {
	cfg := testConfig()
	cfg.FailurePolicy = config.FailurePolicyFail
	fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
		if asin == "B001" {
			return alwaysFail(asin, 0)
		}
		return sellersFor(asin, "Globex")
	})
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

	result := p.Scrape(context.Background(), newTestRun(t), []string{"B001", "B002"})
	if len(result.Records) != 1 || result.Records[0].ASIN != "B002" {
		t.Fatalf("records = %+v", result.Records)
	}
	if result.Reports[0].Status != models.ReportFailed || result.Reports[0].Error == "" {
		t.Fatalf("report = %+v", result.Reports[0])
	}
}

func TestScrapeCanceledContext(t *testing.T) {
	cfg := testConfig()
	fetcher := newFakeFetcher(func(asin string, _ int) models.FetchOutcome {
		return sellersFor(asin, "Acme")
	})
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Scrape(ctx, newTestRun(t), []string{"B001", "B002"})
	if len(result.Records) != 0 {
		t.Fatalf("records = %+v, want none", result.Records)
	}
	if len(result.FailedASINs) != 2 {
		t.Fatalf("failed = %v, want both", result.FailedASINs)
	}
	if fetcher.totalCalls() != 0 {
		t.Fatalf("canceled run should not fetch")
	}
}

func TestScrapeRunTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.RunTimeout = 30 * time.Millisecond
	cfg.RetryBackoffMin = time.Hour
	cfg.RetryBackoffMax = time.Hour
	fetcher := newFakeFetcher(alwaysFail)
	p := NewPipeline(cfg, fetcher, scraper.NewMetrics())

	start := time.Now()
	result := p.Scrape(context.Background(), newTestRun(t), []string{"B001", "B002"})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run timeout ignored, took %v", elapsed)
	}
	if len(result.FailedASINs) != 2 {
		t.Fatalf("failed = %v, want both", result.FailedASINs)
	}
}
