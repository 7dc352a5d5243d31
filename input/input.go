// Package input reads ASINs from uploaded spreadsheets.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither .xlsx nor .csv.
	ErrUnsupportedFormat = errors.New("input: unsupported file format")
	// ErrNoIdentifiers is returned by callers that require at least one ASIN.
	ErrNoIdentifiers = errors.New("input: no identifiers found")
)

// ReadFile opens path and reads its ASINs.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return Read(f, filepath.Base(path))
}

// Read returns the values of the first column, skipping the header row and
// blank cells. The format is picked from filename's extension.
func Read(r io.Reader, filename string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return readXLSX(r)
	case ".csv":
		return readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
}

func readXLSX(r io.Reader) ([]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheet := book.GetSheetName(book.GetActiveSheetIndex())
	rows, err := book.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return firstColumn(rows), nil
}

func readCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return firstColumn(rows), nil
}

func firstColumn(rows [][]string) []string {
	var asins []string
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(row[0], "\uFEFF"))
		if value == "" {
			continue
		}
		asins = append(asins, value)
	}
	return asins
}
