// Package ingest pulls, receives, and streams price rows from upstream
// sources, matches them to the catalog, and writes them into the price store.
package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solescan/internal/faults"
	"solescan/internal/matcher"
	"solescan/internal/pricestore"
)

// Event is one upstream price row, already decoded from the source's
// transport. Metadata carries fields the engine does not interpret.
type Event struct {
	ExternalID string `json:"external_id"`
	PlatformID string `json:"platform_id,omitempty"`
	EAN        string `json:"ean,omitempty"`
	GTIN       string `json:"gtin,omitempty"`
	StyleCode  string `json:"style_code,omitempty"`
	Name       string `json:"name,omitempty"`
	Brand      string `json:"brand,omitempty"`
	VariantID  string `json:"variant_id,omitempty"`

	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	InStock  bool            `json:"in_stock"`
	StockQty *int            `json:"stock_qty,omitempty"`
	Supplier string          `json:"supplier,omitempty"`
	URL      string          `json:"url,omitempty"`

	ObservedAt time.Time       `json:"observed_at"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Row projects the event's identifying fields for the matcher.
func (e Event) Row() matcher.Row {
	return matcher.Row{
		PlatformID: e.PlatformID,
		EAN:        e.EAN,
		GTIN:       e.GTIN,
		StyleCode:  e.StyleCode,
		Name:       e.Name,
		Brand:      e.Brand,
	}
}

// Observation builds the price-store write for a matched event.
func (e Event) Observation(productID, source, kind string) pricestore.Observation {
	obs := pricestore.Observation{
		ProductID:  productID,
		Source:     source,
		SourceKind: kind,
		VariantID:  e.VariantID,
		Price:      e.Price,
		Currency:   e.Currency,
		InStock:    e.InStock,
		StockQty:   e.StockQty,
		ObservedAt: e.ObservedAt,
		Metadata:   e.Metadata,
	}
	if e.ExternalID != "" {
		id := e.ExternalID
		obs.ExternalID = &id
	}
	if e.URL != "" {
		u := e.URL
		obs.ExternalURL = &u
	}
	if e.Supplier != "" {
		s := e.Supplier
		obs.Supplier = &s
	}
	return obs
}

// Page is one fetch result. An empty NextCursor ends the walk.
type Page struct {
	Events     []Event `json:"events"`
	NextCursor string  `json:"next_cursor"`
}

// FeedClient fetches one page of events from an upstream source.
type FeedClient interface {
	Fetch(ctx context.Context, cursor string, limit int) (Page, error)
}

// HTTPFeed is the resty-backed FeedClient for REST sources. Upstream status
// codes are classified into the fault taxonomy here so workers only branch
// on kinds.
type HTTPFeed struct {
	Client  *resty.Client
	BaseURL string
	APIKey  string
	Logger  *zap.Logger
}

func NewHTTPFeed(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFeed{
		Client:  resty.New().SetTimeout(timeout),
		BaseURL: strings.TrimSpace(baseURL),
		APIKey:  apiKey,
		Logger:  logger,
	}
}

func (f *HTTPFeed) Fetch(ctx context.Context, cursor string, limit int) (Page, error) {
	if f.BaseURL == "" {
		return Page{}, faults.New(faults.ConfigurationInvalid, "feed has no base url")
	}
	req := f.Client.R().SetContext(ctx)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	if f.APIKey != "" {
		req.SetHeader("Authorization", "Bearer "+f.APIKey)
	}

	resp, err := req.Get(f.BaseURL)
	if err != nil {
		return Page{}, faults.Wrap(faults.TransientUpstream, err, "feed request")
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusOK:
		var page Page
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return Page{}, faults.Wrap(faults.PermanentUpstream, err, "feed payload")
		}
		return page, nil
	case status == http.StatusTooManyRequests:
		return Page{}, faults.RateLimitedAfter(retryAfter(resp.Header().Get("Retry-After")), "feed rate limited")
	case status >= 500:
		return Page{}, faults.New(faults.TransientUpstream, "feed returned %d", status)
	default:
		return Page{}, faults.New(faults.PermanentUpstream, "feed returned %d", status)
	}
}

// retryAfter parses the Retry-After header, which may be delay seconds or an
// HTTP date. Unparseable values yield 0 and fall back to backoff.
func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
