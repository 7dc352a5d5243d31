package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ASINPlaceholder marks where the identifier goes in URLTemplate.
const ASINPlaceholder = "{asin}"

// Exhaustion policies applied once every retry attempt for an ASIN failed.
const (
	// FailurePolicyEmpty logs the failure and reports the ASIN as having no sellers.
	FailurePolicyEmpty = "empty"
	// FailurePolicyFail reports the ASIN as failed. The run still continues.
	FailurePolicyFail = "fail"
)

// Config holds scraper configuration.
type Config struct {
	URLTemplate     string
	Concurrency     int
	Delay           time.Duration
	RandomDelay     time.Duration
	Timeout         time.Duration
	RunTimeout      time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
	FailurePolicy   string
	CacheSize       int
	OutputFile      string
	OutputFormat    string // csv, json, or dual
	ListenAddr      string
	MetricsAddr     string
	MaxUploadBytes  int64
	Verbose         bool
}

// DefaultConfig returns the defaults used against the live marketplace.
func DefaultConfig() *Config {
	return &Config{
		URLTemplate:     "https://www.amazon.com/gp/aod/ajax/ref=dp_aod_NEW_mbc?asin=" + ASINPlaceholder,
		Concurrency:     3,
		Delay:           0,
		RandomDelay:     0,
		Timeout:         30 * time.Second,
		RunTimeout:      0,
		MaxAttempts:     3,
		RetryBackoff:    time.Second,
		RetryBackoffMin: 2 * time.Second,
		RetryBackoffMax: 10 * time.Second,
		FailurePolicy:   FailurePolicyEmpty,
		CacheSize:       10000,
		OutputFile:      "output/amazon_sellers.csv",
		OutputFormat:    "csv",
		ListenAddr:      ":10000",
		MetricsAddr:     "",
		MaxUploadBytes:  10 << 20,
		Verbose:         false,
	}
}

// TargetURL substitutes asin into the URL template.
func (c *Config) TargetURL(asin string) string {
	return strings.ReplaceAll(c.URLTemplate, ASINPlaceholder, url.QueryEscape(asin))
}

// Host returns the host the URL template points at.
func (c *Config) Host() (string, error) {
	parsed, err := url.Parse(strings.ReplaceAll(c.URLTemplate, ASINPlaceholder, "x"))
	if err != nil {
		return "", fmt.Errorf("invalid url template: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url template must include a host")
	}
	return parsed.Hostname(), nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.URLTemplate == "" {
		return fmt.Errorf("url template cannot be empty")
	}
	if !strings.Contains(c.URLTemplate, ASINPlaceholder) {
		return fmt.Errorf("url template must contain %s", ASINPlaceholder)
	}
	if _, err := c.Host(); err != nil {
		return err
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run timeout cannot be negative")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMin < 0 {
		return fmt.Errorf("retry backoff min cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoffMin > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff min (%s) cannot exceed retry backoff max (%s)", c.RetryBackoffMin, c.RetryBackoffMax)
	}
	if c.FailurePolicy != FailurePolicyEmpty && c.FailurePolicy != FailurePolicyFail {
		return fmt.Errorf("failure policy must be %s or %s", FailurePolicyEmpty, FailurePolicyFail)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	return nil
}
