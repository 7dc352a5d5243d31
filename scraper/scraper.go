package scraper

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MikeyMike1984/amazon-seller-by-asin/config"
	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
	"github.com/MikeyMike1984/amazon-seller-by-asin/parser"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/http2"
)

// Scraper performs single fetch-and-parse attempts against the offers
// endpoint. It holds no per-ASIN state and is safe for concurrent use.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	Extract   parser.Extractor
	Metrics   *Metrics

	now func() time.Time
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	host, err := cfg.Host()
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(host),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	collector.WithTransport(transport)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Scraper{
		cfg:       cfg,
		collector: collector,
		Extract:   parser.ExtractSellers,
		Metrics:   NewMetrics(),
		now:       time.Now,
	}, nil
}

// newTransport negotiates TLS 1.2 to 1.3 and prefers HTTP/2, falling back to
// HTTP/1.1 when the server does not offer h2.
func newTransport(cfg *config.Config) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Concurrency,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if _, err := http2.ConfigureTransports(transport); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return transport, nil
}

// WithTransport swaps the HTTP transport used by every fetch.
func (s *Scraper) WithTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
}

// Fetch issues one request for asin with the given headers and turns the
// response into seller records. It never retries and never caches.
func (s *Scraper) Fetch(ctx context.Context, asin string, headers http.Header) models.FetchOutcome {
	if err := ctx.Err(); err != nil {
		return models.Failure(asin, models.KindCanceled, err)
	}

	target := s.cfg.TargetURL(asin)
	c := s.collector.Clone()

	var (
		statusCode int
		body       []byte
		requestErr error
	)
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		requestErr = err
	})

	start := time.Now()
	err := c.Request(http.MethodGet, target, nil, colly.NewContext(), headers)
	s.Metrics.ObserveDuration(time.Since(start))
	if err == nil {
		err = requestErr
	}

	if classified := classifyError(err, statusCode); classified != nil {
		return s.fail(asin, target, classified)
	}

	names, err := s.Extract(body)
	if err != nil {
		return s.fail(asin, target, ErrExtraction{Err: err})
	}
	sellers := parser.NormalizeSellers(names)

	scrapedAt := s.now()
	records := make([]models.SellerRecord, 0, len(sellers))
	for _, seller := range sellers {
		records = append(records, models.SellerRecord{
			ASIN:      asin,
			Seller:    seller,
			ScrapedAt: scrapedAt,
		})
	}

	s.Metrics.IncRequest("success")
	s.Metrics.AddSellers(len(records))
	slog.Debug("offers fetched",
		slog.String("asin", asin),
		slog.Int("status", statusCode),
		slog.Int("sellers", len(records)),
	)
	return models.Success(asin, records)
}

func (s *Scraper) fail(asin, target string, err error) models.FetchOutcome {
	category := errorTypeLabel(err)
	s.Metrics.IncRequest("failure")
	s.Metrics.IncError(category)
	slog.Warn("offer request failed",
		slog.String("asin", asin),
		slog.String("url", target),
		slog.String("category", category),
		slog.Any("error", err),
	)
	return models.Failure(asin, KindOf(err), err)
}
