package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
)

// ErrTransport indicates the request never produced a response.
type ErrTransport struct {
	Err     error
	Timeout bool
}

func (e ErrTransport) Error() string {
	if e.Timeout {
		return fmt.Errorf("timeout: %w", e.Err).Error()
	}
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrTransport) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates a response outside the 2xx range.
type ErrHTTPStatus struct {
	StatusCode int
}

func (e ErrHTTPStatus) Error() string {
	return fmt.Sprintf("http status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ErrExtraction indicates the page did not have the expected shape.
type ErrExtraction struct {
	Err error
}

func (e ErrExtraction) Error() string {
	return fmt.Errorf("extraction: %w", e.Err).Error()
}

func (e ErrExtraction) Unwrap() error {
	return e.Err
}

// KindOf maps an error to its ErrorKind.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.KindNone
	}
	if errors.Is(err, context.Canceled) {
		return models.KindCanceled
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return models.KindHTTPStatus
	}
	var extraction ErrExtraction
	if errors.As(err, &extraction) {
		return models.KindExtraction
	}
	return models.KindTransport
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var transport ErrTransport
	if errors.As(err, &transport) {
		if transport.Timeout {
			return "timeout"
		}
		return "connection"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests:
			return "rate_limited"
		default:
			return "http_status"
		}
	}
	var extraction ErrExtraction
	if errors.As(err, &extraction) {
		return "extraction"
	}
	return "other"
}

// classifyError wraps a raw collector error or a non-2xx status code.
func classifyError(err error, statusCode int) error {
	if err == nil {
		if statusCode != 0 && (statusCode < 200 || statusCode > 299) {
			return ErrHTTPStatus{StatusCode: statusCode}
		}
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTransport{Err: err, Timeout: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTransport{Err: err, Timeout: true}
	}
	return ErrTransport{Err: err}
}
