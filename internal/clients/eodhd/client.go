// Package eodhd provides the tertiary market-data client (EODHD API).
// It serves per-symbol EOD prices, dividends, and splits as the second
// fallback behind the primary provider.
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/finbase/rawfeed/internal/clients"
	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
	"github.com/finbase/rawfeed/internal/ratelimit"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second

	dateLayout = "2006-01-02"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// Client implements the tertiary provider capabilities.
type Client struct {
	*clients.Transport
	apiKey string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.Transport.BaseURL = baseURL
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.Transport.Logger = logger
	}
}

// WithRateLimit sets the request pacing in requests per second.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.Transport.Pace = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.Transport.HTTPClient.Timeout = timeout
	}
}

// NewClient creates a new tertiary client with the given adaptive limiter.
func NewClient(apiKey string, limiter *ratelimit.Limiter, opts ...ClientOption) *Client {
	c := &Client{
		Transport: &clients.Transport{
			Provider:   models.SourceTertiary,
			BaseURL:    DefaultBaseURL,
			HTTPClient: &http.Client{Timeout: DefaultTimeout},
			Limiter:    limiter,
			Pace:       rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
			Logger:     common.NewSilentLogger(),
		},
		apiKey: apiKey,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name identifies the provider in the tracking ledger.
func (c *Client) Name() models.SourceName { return models.SourceTertiary }

func (c *Client) params() url.Values {
	p := url.Values{}
	p.Set("api_token", c.apiKey)
	p.Set("fmt", "json")
	return p
}

// ticker maps a raw-layer identifier to the provider's EXCHANGE-qualified
// form. Unqualified US/Canadian identifiers get the US suffix.
func ticker(symbol string) string {
	if strings.ContainsRune(symbol, '.') {
		return symbol
	}
	return symbol + ".US"
}

// FetchPrices returns daily bars for a symbol, oldest first.
func (c *Client) FetchPrices(ctx context.Context, symbol string, from time.Time) ([]models.PriceBar, error) {
	params := c.params()
	params.Set("period", "d")
	params.Set("order", "a")
	if !from.IsZero() {
		params.Set("from", from.Format(dateLayout))
	}

	var rows []eodBarRow
	if err := c.GetJSON(ctx, "/eod/"+url.PathEscape(ticker(symbol)), symbol, params, &rows); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(dateLayout, row.Date)
		if err != nil {
			c.Logger.Warn().Str("symbol", symbol).Str("date", row.Date).Msg("Dropping bar with bad date")
			continue
		}
		bars = append(bars, models.PriceBar{
			Symbol:   models.NormalizeIdentifier(symbol),
			Date:     date,
			Open:     row.Open,
			High:     row.High,
			Low:      row.Low,
			Close:    row.Close,
			AdjClose: row.AdjustedClose,
			Volume:   row.Volume,
		})
	}
	return bars, nil
}

// FetchDividends returns historical dividend events from the given date.
func (c *Client) FetchDividends(ctx context.Context, symbol string, from time.Time) ([]models.DividendEvent, error) {
	params := c.params()
	if !from.IsZero() {
		params.Set("from", from.Format(dateLayout))
	}

	var rows []dividendRow
	if err := c.GetJSON(ctx, "/div/"+url.PathEscape(ticker(symbol)), symbol, params, &rows); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	events := make([]models.DividendEvent, 0, len(rows))
	for _, row := range rows {
		exDate, err := time.Parse(dateLayout, row.Date)
		if err != nil {
			c.Logger.Warn().Str("symbol", symbol).Str("date", row.Date).Msg("Dropping dividend with bad ex-date")
			continue
		}
		currency := row.Currency
		if currency == "" {
			currency = "USD"
		}
		events = append(events, models.DividendEvent{
			Symbol:          models.NormalizeIdentifier(symbol),
			ExDate:          exDate,
			RecordDate:      parseOptionalDate(row.RecordDate),
			PaymentDate:     parseOptionalDate(row.PaymentDate),
			DeclarationDate: parseOptionalDate(row.DeclarationDate),
			Amount:          float64(row.Value),
			Currency:        currency,
			Frequency:       row.Period,
		})
	}
	return events, nil
}

// FetchSplits returns split history from the given date. The provider encodes
// the ratio as "numerator/denominator" in a single field.
func (c *Client) FetchSplits(ctx context.Context, symbol string, from time.Time) ([]models.CorporateSplit, error) {
	params := c.params()
	if !from.IsZero() {
		params.Set("from", from.Format(dateLayout))
	}

	var rows []splitRow
	if err := c.GetJSON(ctx, "/splits/"+url.PathEscape(ticker(symbol)), symbol, params, &rows); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	splits := make([]models.CorporateSplit, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(dateLayout, row.Date)
		if err != nil {
			c.Logger.Warn().Str("symbol", symbol).Str("date", row.Date).Msg("Dropping split with bad date")
			continue
		}
		num, den, err := parseSplitRatio(row.Split)
		if err != nil {
			c.Logger.Warn().Str("symbol", symbol).Str("split", row.Split).Msg("Dropping split with bad ratio")
			continue
		}
		splits = append(splits, models.CorporateSplit{
			Symbol:      models.NormalizeIdentifier(symbol),
			SplitDate:   date,
			Numerator:   num,
			Denominator: den,
		})
	}
	return splits, nil
}

// --- Wire formats ---

type eodBarRow struct {
	Date          string  `json:"date"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjusted_close"`
	Volume        int64   `json:"volume"`
}

type dividendRow struct {
	Date            string      `json:"date"` // ex-date
	DeclarationDate string      `json:"declarationDate"`
	RecordDate      string      `json:"recordDate"`
	PaymentDate     string      `json:"paymentDate"`
	Period          string      `json:"period"`
	Value           flexFloat64 `json:"value"`
	Currency        string      `json:"currency"`
}

type splitRow struct {
	Date  string `json:"date"`
	Split string `json:"split"` // "4.000000/1.000000"
}

func parseSplitRatio(s string) (num, den float64, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed split ratio %q", s)
	}
	num, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, err
	}
	den, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, err
	}
	return num, den, nil
}

func parseOptionalDate(s string) *time.Time {
	if s == "" || s == "0000-00-00" {
		return nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &d
}

// Interface checks.
var (
	_ interfaces.PriceSource    = (*Client)(nil)
	_ interfaces.DividendSource = (*Client)(nil)
	_ interfaces.SplitSource    = (*Client)(nil)
	_ interfaces.StatsReporter  = (*Client)(nil)
)
