// Package models defines data structures for the scraper.
package models

import "time"

// Layouts used when rendering a record's timestamp.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// SellerRecord is one seller found for one ASIN.
type SellerRecord struct {
	ASIN      string    `json:"asin"`
	Seller    string    `json:"seller"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Date renders the record's date column.
func (r SellerRecord) Date() string {
	return r.ScrapedAt.Format(DateLayout)
}

// Time renders the record's time column.
func (r SellerRecord) Time() string {
	return r.ScrapedAt.Format(TimeLayout)
}

// OutcomeStatus tags a FetchOutcome.
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeFailure
)

func (s OutcomeStatus) String() string {
	if s == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// ErrorKind groups failures by where they happened.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransport
	KindHTTPStatus
	KindExtraction
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTPStatus:
		return "http_status"
	case KindExtraction:
		return "extraction"
	case KindCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// FetchOutcome is the result of fetching one ASIN, possibly over several attempts.
//
// A successful outcome may still carry a Cause when the retry policy turned an
// exhausted ASIN into an empty result.
type FetchOutcome struct {
	ASIN     string
	Status   OutcomeStatus
	Records  []SellerRecord
	Kind     ErrorKind
	Cause    error
	Attempts int
	Cached   bool
}

// Success builds a successful outcome.
func Success(asin string, records []SellerRecord) FetchOutcome {
	return FetchOutcome{ASIN: asin, Status: OutcomeSuccess, Records: records}
}

// Failure builds a failed outcome.
func Failure(asin string, kind ErrorKind, cause error) FetchOutcome {
	return FetchOutcome{ASIN: asin, Status: OutcomeFailure, Kind: kind, Cause: cause}
}

// OK reports whether the outcome is tagged as a success.
func (o FetchOutcome) OK() bool {
	return o.Status == OutcomeSuccess
}

// Per-ASIN report statuses.
const (
	ReportOK     = "ok"
	ReportEmpty  = "empty"
	ReportFailed = "failed"
	ReportCached = "cached"
)

// IdentifierReport summarises what happened to one submitted ASIN.
type IdentifierReport struct {
	ASIN     string `json:"asin"`
	Status   string `json:"status"`
	Sellers  int    `json:"sellers"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// ScrapeResult holds the overall result of one run.
type ScrapeResult struct {
	Records     []SellerRecord
	Reports     []IdentifierReport
	StartTime   time.Time
	EndTime     time.Time
	CacheHits   int
	RetryCount  int
	FailedASINs []string
}
