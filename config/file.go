package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadFile overlays the keys present in a YAML, TOML, or JSON file onto cfg.
// Every key can also be overridden through SCRAPER_<KEY> environment variables.
func LoadFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	if v.IsSet("url_template") {
		cfg.URLTemplate = v.GetString("url_template")
	}
	if v.IsSet("concurrency") {
		cfg.Concurrency = v.GetInt("concurrency")
	}
	if v.IsSet("delay") {
		cfg.Delay = v.GetDuration("delay")
	}
	if v.IsSet("random_delay") {
		cfg.RandomDelay = v.GetDuration("random_delay")
	}
	if v.IsSet("timeout") {
		cfg.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("run_timeout") {
		cfg.RunTimeout = v.GetDuration("run_timeout")
	}
	if v.IsSet("retry.max_attempts") {
		cfg.MaxAttempts = v.GetInt("retry.max_attempts")
	}
	if v.IsSet("retry.backoff") {
		cfg.RetryBackoff = v.GetDuration("retry.backoff")
	}
	if v.IsSet("retry.backoff_min") {
		cfg.RetryBackoffMin = v.GetDuration("retry.backoff_min")
	}
	if v.IsSet("retry.backoff_max") {
		cfg.RetryBackoffMax = v.GetDuration("retry.backoff_max")
	}
	if v.IsSet("retry.failure_policy") {
		cfg.FailurePolicy = strings.ToLower(v.GetString("retry.failure_policy"))
	}
	if v.IsSet("cache_size") {
		cfg.CacheSize = v.GetInt("cache_size")
	}
	if v.IsSet("output.file") {
		cfg.OutputFile = v.GetString("output.file")
	}
	if v.IsSet("output.format") {
		cfg.OutputFormat = strings.ToLower(v.GetString("output.format"))
	}
	if v.IsSet("server.addr") {
		cfg.ListenAddr = v.GetString("server.addr")
	}
	if v.IsSet("server.metrics_addr") {
		cfg.MetricsAddr = v.GetString("server.metrics_addr")
	}
	if v.IsSet("server.max_upload_bytes") {
		cfg.MaxUploadBytes = v.GetInt64("server.max_upload_bytes")
	}
	if v.IsSet("verbose") {
		cfg.Verbose = v.GetBool("verbose")
	}

	return nil
}
