package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MikeyMike1984/amazon-seller-by-asin/cache"
	"github.com/MikeyMike1984/amazon-seller-by-asin/config"
	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
	"github.com/MikeyMike1984/amazon-seller-by-asin/scraper"
	"golang.org/x/sync/singleflight"
)

// Fetcher performs one fetch-and-parse attempt for an ASIN.
type Fetcher interface {
	Fetch(ctx context.Context, asin string, headers http.Header) models.FetchOutcome
}

// Run is the state scoped to one scrape invocation. The caller owns it and
// must Close it when the run's results have been consumed.
type Run struct {
	cache  *cache.ResponseCache
	flight singleflight.Group
}

// NewRun builds a run whose cache holds up to cacheSize ASINs.
func NewRun(cacheSize int) (*Run, error) {
	c, err := cache.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Run{cache: c}, nil
}

// Cache exposes the run's response cache.
func (r *Run) Cache() *cache.ResponseCache {
	return r.cache
}

// Close clears the run's cache.
func (r *Run) Close() {
	r.cache.Clear()
}

// Pipeline fans ASINs out to the fetcher under the limiter and gathers the
// records back in submission order.
type Pipeline struct {
	fetcher    Fetcher
	retrier    *scraper.Retrier
	rotator    *scraper.HeaderRotator
	limiter    *Limiter
	metrics    *scraper.Metrics
	runTimeout time.Duration
}

// NewPipeline wires a pipeline from cfg around fetcher.
func NewPipeline(cfg *config.Config, fetcher Fetcher, metrics *scraper.Metrics) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		retrier:    scraper.NewRetrier(cfg, metrics),
		rotator:    scraper.NewHeaderRotator(),
		limiter:    NewLimiter(cfg.Concurrency, metrics),
		metrics:    metrics,
		runTimeout: cfg.RunTimeout,
	}
}

// Limiter exposes the pipeline's concurrency limiter.
func (p *Pipeline) Limiter() *Limiter {
	return p.limiter
}

// Scrape fetches every ASIN and returns the flattened dataset. Per-ASIN
// failures never fail the run; they show up in the result's reports.
func (p *Pipeline) Scrape(ctx context.Context, run *Run, asins []string) *models.ScrapeResult {
	result := &models.ScrapeResult{
		Records:   []models.SellerRecord{},
		StartTime: time.Now(),
	}
	if len(asins) == 0 {
		result.EndTime = time.Now()
		return result
	}

	if p.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.runTimeout)
		defer cancel()
	}

	outcomes := make([]models.FetchOutcome, len(asins))
	fetched := make([]bool, len(asins))
	var wg sync.WaitGroup
	for i, asin := range asins {
		wg.Go(func() {
			outcomes[i], fetched[i] = p.scrapeOne(ctx, run, asin)
		})
	}
	wg.Wait()

	failed := make(map[string]bool)
	for i, outcome := range outcomes {
		result.Records = append(result.Records, outcome.Records...)
		report := reportFor(outcome)
		result.Reports = append(result.Reports, report)
		if outcome.Cached {
			result.CacheHits++
		}
		// Positions sharing one in-flight fetch count its retries once.
		if fetched[i] && outcome.Attempts > 1 {
			result.RetryCount += outcome.Attempts - 1
		}
		if report.Status == models.ReportFailed && !failed[outcome.ASIN] {
			failed[outcome.ASIN] = true
			result.FailedASINs = append(result.FailedASINs, outcome.ASIN)
		}
	}
	result.EndTime = time.Now()

	slog.Info("scrape finished",
		slog.Int("asins", len(asins)),
		slog.Int("records", len(result.Records)),
		slog.Int("failed", len(result.FailedASINs)),
		slog.Int("cache_hits", result.CacheHits),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	return result
}

// scrapeOne reports whether this call performed the fetch itself, as opposed
// to hitting the cache or joining another caller's flight.
func (p *Pipeline) scrapeOne(ctx context.Context, run *Run, asin string) (models.FetchOutcome, bool) {
	if outcome, ok := p.cached(run, asin); ok {
		return outcome, false
	}

	fetched := false
	v, _, _ := run.flight.Do(asin, func() (any, error) {
		if outcome, ok := p.cached(run, asin); ok {
			return outcome, nil
		}
		fetched = true

		if err := p.limiter.Acquire(ctx); err != nil {
			return p.retrier.Exhaust(models.Failure(asin, models.KindCanceled, err)), nil
		}
		defer p.limiter.Release()

		outcome := p.retrier.Run(ctx, asin, func(ctx context.Context, asin string) models.FetchOutcome {
			return p.fetcher.Fetch(ctx, asin, p.rotator.Next())
		})
		if outcome.OK() && outcome.Cause == nil {
			run.cache.Put(asin, outcome.Records)
		}
		return outcome, nil
	})
	return v.(models.FetchOutcome), fetched
}

func (p *Pipeline) cached(run *Run, asin string) (models.FetchOutcome, bool) {
	records, ok := run.cache.Get(asin)
	if !ok {
		return models.FetchOutcome{}, false
	}
	p.metrics.IncCacheHit()
	outcome := models.Success(asin, records)
	outcome.Cached = true
	return outcome, true
}

func reportFor(outcome models.FetchOutcome) models.IdentifierReport {
	report := models.IdentifierReport{
		ASIN:     outcome.ASIN,
		Sellers:  len(outcome.Records),
		Attempts: outcome.Attempts,
	}
	switch {
	case outcome.Cached:
		report.Status = models.ReportCached
	case !outcome.OK() || outcome.Cause != nil:
		report.Status = models.ReportFailed
		if outcome.Cause != nil {
			report.Error = outcome.Cause.Error()
		}
	case len(outcome.Records) == 0:
		report.Status = models.ReportEmpty
	default:
		report.Status = models.ReportOK
	}
	return report
}
