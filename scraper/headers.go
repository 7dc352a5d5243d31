package scraper

import (
	"errors"
	"math/rand/v2"
	"net/http"
)

var defaultHeaderPool = []http.Header{
	{
		"User-Agent":                {"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"},
		"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language":           {"en-US,en;q=0.9"},
		"Accept-Encoding":           {"gzip"},
		"Connection":                {"keep-alive"},
		"Dnt":                       {"1"},
		"Upgrade-Insecure-Requests": {"1"},
	},
	{
		"User-Agent":      {"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"},
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.9"},
		"Accept-Encoding": {"gzip"},
		"Connection":      {"keep-alive"},
		"Dnt":             {"1"},
	},
	{
		"User-Agent":      {"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"},
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.5"},
		"Accept-Encoding": {"gzip"},
		"Connection":      {"keep-alive"},
	},
}

// HeaderRotator hands out browser-like header sets picked uniformly at random.
type HeaderRotator struct {
	pool []http.Header
}

// NewHeaderRotator returns a rotator over the built-in browser profiles.
func NewHeaderRotator() *HeaderRotator {
	return &HeaderRotator{pool: defaultHeaderPool}
}

// NewHeaderRotatorFromPool returns a rotator over a custom pool.
func NewHeaderRotatorFromPool(pool []http.Header) (*HeaderRotator, error) {
	if len(pool) == 0 {
		return nil, errors.New("header pool cannot be empty")
	}
	return &HeaderRotator{pool: pool}, nil
}

// Next returns a copy of one header set; callers may modify it freely.
func (r *HeaderRotator) Next() http.Header {
	return r.pool[rand.IntN(len(r.pool))].Clone()
}

// Size reports how many header sets the rotator picks from.
func (r *HeaderRotator) Size() int {
	return len(r.pool)
}
