// Package cache keeps the seller records already produced during one run.
package cache

import (
	"fmt"

	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ResponseCache maps an ASIN to the records its last successful fetch
// produced. It is safe for concurrent use.
type ResponseCache struct {
	entries *lru.Cache[string, []models.SellerRecord]
}

// New builds a cache holding up to size ASINs.
func New(size int) (*ResponseCache, error) {
	entries, err := lru.New[string, []models.SellerRecord](size)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &ResponseCache{entries: entries}, nil
}

// Get returns a copy of the cached records for asin.
func (c *ResponseCache) Get(asin string) ([]models.SellerRecord, bool) {
	records, ok := c.entries.Get(asin)
	if !ok {
		return nil, false
	}
	return cloneRecords(records), true
}

// Put stores records for asin, replacing any previous entry.
func (c *ResponseCache) Put(asin string, records []models.SellerRecord) {
	c.entries.Add(asin, cloneRecords(records))
}

// Clear drops every entry.
func (c *ResponseCache) Clear() {
	c.entries.Purge()
}

// Len reports the number of cached ASINs.
func (c *ResponseCache) Len() int {
	return c.entries.Len()
}

func cloneRecords(records []models.SellerRecord) []models.SellerRecord {
	out := make([]models.SellerRecord, len(records))
	copy(out, records)
	return out
}
