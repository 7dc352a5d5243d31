package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
	"github.com/PuerkitoBio/goquery"
)

// SellerSelector matches the "Sold by" links of the all-offers fragment.
const SellerSelector = "#aod-offer-soldBy .a-fixed-left-grid-col.a-col-right a"

// captchaSelector matches the robot check page served instead of the fragment.
const captchaSelector = `form[action*="validateCaptcha"]`

var (
	// ErrEmptyBody is returned when the response carried no markup at all.
	ErrEmptyBody = errors.New("parser: empty body")
	// ErrCaptcha is returned when the target answered with a robot check page.
	ErrCaptcha = errors.New("parser: captcha page")
)

// Extractor turns a fetched page into raw seller names.
type Extractor func(body []byte) ([]string, error)

// NewSelectorExtractor builds an Extractor returning the text of every node
// matching selector, in document order.
func NewSelectorExtractor(selector string) Extractor {
	return func(body []byte) ([]string, error) {
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, ErrEmptyBody
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
		if doc.Find(captchaSelector).Length() > 0 {
			return nil, ErrCaptcha
		}

		var names []string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			names = append(names, s.Text())
		})
		return names, nil
	}
}

// ExtractSellers applies SellerSelector to body.
func ExtractSellers(body []byte) ([]string, error) {
	return NewSelectorExtractor(SellerSelector)(body)
}

// NormalizeSellers trims names, drops empty ones, and removes exact
// duplicates while keeping first-seen order.
func NormalizeSellers(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ValidateRecord ensures a record carries the fields every output needs.
func ValidateRecord(r *models.SellerRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.ASIN) == "" {
		return fmt.Errorf("record missing asin")
	}
	if strings.TrimSpace(r.Seller) == "" {
		return fmt.Errorf("record missing seller for %s", r.ASIN)
	}
	if r.ScrapedAt.IsZero() {
		return fmt.Errorf("record missing timestamp for %s", r.ASIN)
	}
	return nil
}
