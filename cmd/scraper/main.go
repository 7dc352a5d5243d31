package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MikeyMike1984/amazon-seller-by-asin/config"
	"github.com/MikeyMike1984/amazon-seller-by-asin/input"
	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
	"github.com/MikeyMike1984/amazon-seller-by-asin/pipeline"
	"github.com/MikeyMike1984/amazon-seller-by-asin/scraper"
	"github.com/MikeyMike1984/amazon-seller-by-asin/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	defaults := config.DefaultConfig()

	configFile := flag.String("config", "", "Config file (yaml, toml or json)")
	inputFile := flag.String("input", "", "Spreadsheet of ASINs (.xlsx or .csv)")
	serve := flag.Bool("serve", false, "Serve the upload API instead of running one batch")
	addr := flag.String("addr", defaults.ListenAddr, "HTTP listen address for -serve")
	concurrency := flag.Int("concurrency", defaults.Concurrency, "Maximum concurrent fetches")
	delayMs := flag.Int("delay", 0, "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	timeout := flag.Duration("timeout", defaults.Timeout, "Per-request timeout")
	runTimeout := flag.Duration("run-timeout", defaults.RunTimeout, "Deadline for a whole batch (0 disables)")
	maxAttempts := flag.Int("max-attempts", defaults.MaxAttempts, "Attempts per ASIN")
	failurePolicy := flag.String("failure-policy", defaults.FailurePolicy, "On exhaustion: empty or fail")
	outputFile := flag.String("output", defaults.OutputFile, "Output file path")
	outputFormat := flag.String("format", defaults.OutputFormat, "Output format: csv, json, or dual")
	metricsAddr := flag.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg := config.DefaultConfig()
	if *configFile != "" {
		if err := config.LoadFile(*configFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	if err := applyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ListenAddr = *addr
		case "concurrency":
			cfg.Concurrency = *concurrency
		case "delay":
			cfg.Delay = time.Duration(*delayMs) * time.Millisecond
		case "random-delay":
			cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
		case "timeout":
			cfg.Timeout = *timeout
		case "run-timeout":
			cfg.RunTimeout = *runTimeout
		case "max-attempts":
			cfg.MaxAttempts = *maxAttempts
		case "failure-policy":
			cfg.FailurePolicy = *failurePolicy
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if !*serve && *inputFile == "" {
		fmt.Fprintln(os.Stderr, "either -input or -serve is required")
		flag.Usage()
		os.Exit(2)
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}
	p := pipeline.NewPipeline(cfg, s, s.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		if err := runServer(ctx, cfg, p, s.Metrics); err != nil {
			slog.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	metricsServer := startMetricsServer(cfg, s.Metrics)
	err = runBatch(ctx, cfg, p, *inputFile)
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	if err != nil {
		slog.Error("batch failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *config.Config) error {
	if value, ok, err := config.EnvInt("SCRAPER_CONCURRENCY"); err != nil {
		return fmt.Errorf("invalid SCRAPER_CONCURRENCY: %w", err)
	} else if ok {
		cfg.Concurrency = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_RUN_TIMEOUT"); err != nil {
		return fmt.Errorf("invalid SCRAPER_RUN_TIMEOUT: %w", err)
	} else if ok {
		cfg.RunTimeout = value
	}
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	if value, ok := config.EnvString("PORT"); ok {
		cfg.ListenAddr = ":" + value
	}
	return nil
}

func runBatch(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, inputFile string) error {
	asins, err := input.ReadFile(inputFile)
	if err != nil {
		return err
	}
	if len(asins) == 0 {
		return input.ErrNoIdentifiers
	}

	slog.Info("starting scrape",
		slog.String("input", inputFile),
		slog.Int("asins", len(asins)),
		slog.Int("workers", cfg.Concurrency),
	)

	run, err := pipeline.NewRun(max(cfg.CacheSize, len(asins)))
	if err != nil {
		return err
	}
	defer run.Close()

	result := p.Scrape(ctx, run, asins)

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	stats, err := pipeline.Export(writer, result.Records, pipeline.DefaultBatchSize)
	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close writer: %w", closeErr)
	}
	if err != nil {
		return err
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	printSummary(result, stats, cfg.OutputFile)
	return nil
}

func runServer(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, metrics *scraper.Metrics) error {
	srv := server.NewServer(cfg, p, metrics)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", slog.String("addr", srv.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received, waiting for in-flight requests to finish")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func startMetricsServer(cfg *config.Config, metrics *scraper.Metrics) *http.Server {
	if cfg.MetricsAddr == "" || metrics == nil {
		return nil
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	return metricsServer
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.ScrapeResult, stats pipeline.ExportStats, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	counts := make(map[string]int)
	for _, report := range result.Reports {
		counts[report.Status]++
	}
	duration := result.EndTime.Sub(result.StartTime)

	fmt.Printf("  ASINs:         %d\n", len(result.Reports))
	fmt.Printf("  Rows written:  %d\n", stats.Written)
	if stats.Invalid > 0 {
		fmt.Printf("  Invalid rows:  %d\n", stats.Invalid)
	}
	fmt.Printf("  With sellers:  %d\n", counts[models.ReportOK])
	fmt.Printf("  Empty:         %d\n", counts[models.ReportEmpty])
	fmt.Printf("  Cached:        %d\n", counts[models.ReportCached])
	fmt.Printf("  Failed:        %d\n", len(result.FailedASINs))
	if len(result.FailedASINs) > 0 {
		fmt.Printf("  Failed ASINs:  %s\n", strings.Join(result.FailedASINs, ", "))
	}
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
