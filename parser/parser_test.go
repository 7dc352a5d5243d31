package parser

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
)

const offersFragment = `<div id="aod-container">
<div id="aod-offer">
  <div id="aod-offer-soldBy">
    <div class="a-fixed-left-grid-col a-col-left">Sold by</div>
    <div class="a-fixed-left-grid-col a-col-right"><a href="/sp?seller=1"> Acme Goods </a></div>
  </div>
</div>
<div id="aod-offer">
  <div id="aod-offer-soldBy">
    <div class="a-fixed-left-grid-col a-col-right"><a href="/sp?seller=2">Globex</a></div>
  </div>
</div>
<div class="a-fixed-left-grid-col a-col-right"><a href="/other">Not a seller</a></div>
</div>`

func TestExtractSellers(t *testing.T) {
	names, err := ExtractSellers([]byte(offersFragment))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []string{" Acme Goods ", "Globex"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %q, want %q", names, want)
	}
}

func TestExtractSellersNoOffers(t *testing.T) {
	names, err := ExtractSellers([]byte(`<div id="aod-container"></div>`))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("names = %q, want none", names)
	}
}

func TestExtractSellersErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "empty", body: "", want: ErrEmptyBody},
		{name: "whitespace", body: "  \n\t", want: ErrEmptyBody},
		{
			name: "captcha",
			body: `<html><form method="get" action="/errors/validateCaptcha"><input name="amzn"></form></html>`,
			want: ErrCaptcha,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ExtractSellers([]byte(tt.body)); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNormalizeSellers(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "trim and dedupe",
			input: []string{"Acme", "acme ", "Acme", " Acme "},
			want:  []string{"Acme", "acme"},
		},
		{
			name:  "drop blanks",
			input: []string{"", "   ", "Globex"},
			want:  []string{"Globex"},
		},
		{
			name:  "keeps first seen order",
			input: []string{"Zeta", "Alpha", "Zeta", "Beta"},
			want:  []string{"Zeta", "Alpha", "Beta"},
		},
		{
			name:  "nil",
			input: nil,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSellers(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeSellers(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateRecord(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		record  *models.SellerRecord
		wantErr bool
	}{
		{name: "valid", record: &models.SellerRecord{ASIN: "B001", Seller: "Acme", ScrapedAt: now}},
		{name: "nil", record: nil, wantErr: true},
		{name: "missing asin", record: &models.SellerRecord{Seller: "Acme", ScrapedAt: now}, wantErr: true},
		{name: "missing seller", record: &models.SellerRecord{ASIN: "B001", ScrapedAt: now}, wantErr: true},
		{name: "missing timestamp", record: &models.SellerRecord{ASIN: "B001", Seller: "Acme"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.record)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
