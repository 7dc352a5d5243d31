// Package pipeline runs a batch of ASINs through the scraper and writes the
// resulting seller table.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
)

// namedWriter tags a sink so errors say which output broke.
type namedWriter struct {
	name string
	w    OutputWriter
}

// TeeWriter hands every batch to each of its sinks in order.
type TeeWriter struct {
	mu    sync.Mutex
	sinks []namedWriter
}

// NewDualWriter writes the seller table to a CSV file and a JSON lines file.
func NewDualWriter(csvFilename, jsonFilename string) (*TeeWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}
	return &TeeWriter{sinks: []namedWriter{
		{name: "csv", w: csvWriter},
		{name: "json", w: jsonWriter},
	}}, nil
}

// Write stops at the first sink that fails.
func (t *TeeWriter) Write(records []models.SellerRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sink := range t.sinks {
		if err := sink.w.Write(records); err != nil {
			return fmt.Errorf("%s write: %w", sink.name, err)
		}
	}
	return nil
}

// Close closes every sink, even after a failure.
func (t *TeeWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.each("close", OutputWriter.Close)
}

// Validate checks every sink and joins their errors.
func (t *TeeWriter) Validate() error {
	return t.each("validate", OutputWriter.Validate)
}

func (t *TeeWriter) each(op string, fn func(OutputWriter) error) error {
	var errs []error
	for _, sink := range t.sinks {
		if err := fn(sink.w); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", sink.name, op, err))
		}
	}
	return errors.Join(errs...)
}
