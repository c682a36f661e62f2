// Package marketstack provides the secondary market-data client
// (Marketstack API). It serves ticker discovery, per-symbol EOD prices,
// dividends, and company info as the last fallback in the source chain.
// The client is disabled entirely when no secondary API key is configured.
package marketstack

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/finbase/rawfeed/internal/clients"
	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
	"github.com/finbase/rawfeed/internal/ratelimit"
)

const (
	DefaultBaseURL   = "https://api.marketstack.com/v1"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
	DefaultPageSize  = 1000

	dateLayout = "2006-01-02"
	tsLayout   = "2006-01-02T15:04:05-0700"
)

// Client implements the secondary provider capabilities.
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

// NewClient creates a new secondary client with the given adaptive limiter.
func NewClient(apiKey string, limiter *ratelimit.Limiter, opts ...ClientOption) *Client {
	c := &Client{
		Transport: &clients.Transport{
			Provider:   models.SourceSecondary,
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
func (c *Client) Name() models.SourceName { return models.SourceSecondary }

func (c *Client) params() url.Values {
	p := url.Values{}
	p.Set("access_key", c.apiKey)
	return p
}

// envelope is the provider's standard paginated response wrapper.
type envelope[T any] struct {
	Pagination struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Count  int `json:"count"`
		Total  int `json:"total"`
	} `json:"pagination"`
	Data []T `json:"data"`
}

// --- Discovery ---

// ListSymbols pages through the ticker directory using offset cursors.
func (c *Client) ListSymbols(ctx context.Context, cursor string, limit int) ([]*models.Symbol, string, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err == nil {
			offset = n
		}
	}

	params := c.params()
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var resp envelope[tickerRow]
	if err := c.GetJSON(ctx, "/tickers", "", params, &resp); err != nil {
		return nil, "", err
	}

	out := make([]*models.Symbol, 0, len(resp.Data))
	for _, row := range resp.Data {
		out = append(out, row.toSymbol())
	}

	next := ""
	if resp.Pagination.Offset+resp.Pagination.Count < resp.Pagination.Total {
		next = strconv.Itoa(resp.Pagination.Offset + resp.Pagination.Count)
	}
	return out, next, nil
}

// ListETFs returns nothing: the provider's directory does not classify funds.
func (c *Client) ListETFs(ctx context.Context) ([]*models.Symbol, error) {
	return nil, nil
}

// ListDividendCandidates returns nothing: the provider has no payer directory.
func (c *Client) ListDividendCandidates(ctx context.Context) ([]string, error) {
	return nil, nil
}

// --- Prices ---

// FetchPrices returns daily bars for a symbol, oldest first.
func (c *Client) FetchPrices(ctx context.Context, symbol string, from time.Time) ([]models.PriceBar, error) {
	params := c.params()
	params.Set("symbols", symbol)
	params.Set("sort", "ASC")
	params.Set("limit", strconv.Itoa(DefaultPageSize))
	if !from.IsZero() {
		params.Set("date_from", from.Format(dateLayout))
	}

	var resp envelope[eodRow]
	if err := c.GetJSON(ctx, "/eod", symbol, params, &resp); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(resp.Data))
	for _, row := range resp.Data {
		bar, ok := row.toBar()
		if !ok {
			c.Logger.Warn().Str("symbol", symbol).Str("date", row.Date).Msg("Dropping bar with bad date")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// --- Dividends ---

// FetchDividends returns historical dividend events from the given date.
func (c *Client) FetchDividends(ctx context.Context, symbol string, from time.Time) ([]models.DividendEvent, error) {
	params := c.params()
	params.Set("symbols", symbol)
	params.Set("sort", "ASC")
	params.Set("limit", strconv.Itoa(DefaultPageSize))
	if !from.IsZero() {
		params.Set("date_from", from.Format(dateLayout))
	}

	var resp envelope[dividendRow]
	if err := c.GetJSON(ctx, "/dividends", symbol, params, &resp); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	events := make([]models.DividendEvent, 0, len(resp.Data))
	for _, row := range resp.Data {
		exDate, err := time.Parse(dateLayout, row.Date)
		if err != nil {
			c.Logger.Warn().Str("symbol", symbol).Str("date", row.Date).Msg("Dropping dividend with bad ex-date")
			continue
		}
		events = append(events, models.DividendEvent{
			Symbol:      models.NormalizeIdentifier(row.Symbol),
			ExDate:      exDate,
			PaymentDate: parseOptionalDate(row.PaymentDate),
			RecordDate:  parseOptionalDate(row.RecordDate),
			Amount:      row.Dividend,
			Currency:    "USD",
		})
	}
	return events, nil
}

// --- Company ---

// FetchCompany returns ticker metadata, including fund fields when present.
func (c *Client) FetchCompany(ctx context.Context, symbol string) (*models.CompanyInfo, error) {
	var row tickerRow
	if err := c.GetJSON(ctx, "/tickers/"+url.PathEscape(symbol), symbol, c.params(), &row); err != nil {
		return nil, err
	}

	info := &models.CompanyInfo{
		Symbol:      models.NormalizeIdentifier(row.Symbol),
		Name:        row.Name,
		Sector:      row.Sector,
		Industry:    row.Industry,
		RefreshedAt: time.Now().UTC(),
	}
	if row.ETF != nil {
		info.IsFund = true
		info.FundFamily = row.ETF.FundFamily
		info.ExpenseRatio = row.ETF.ExpenseRatio
	}
	return info, nil
}

// --- Wire formats ---

type tickerRow struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Sector        string `json:"sector"`
	Industry      string `json:"industry"`
	StockExchange struct {
		Acronym string `json:"acronym"`
		MIC     string `json:"mic"`
		Country string `json:"country"`
	} `json:"stock_exchange"`
	ETF *struct {
		FundFamily   string  `json:"fund_family"`
		ExpenseRatio float64 `json:"expense_ratio"`
	} `json:"etf"`
}

func (r *tickerRow) toSymbol() *models.Symbol {
	t := models.InstrumentStock
	if r.ETF != nil {
		t = models.InstrumentETF
	}
	return &models.Symbol{
		Identifier: models.NormalizeIdentifier(r.Symbol),
		Exchange:   r.StockExchange.Acronym,
		Name:       r.Name,
		Country:    r.StockExchange.Country,
		Type:       t,
	}
}

type eodRow struct {
	Symbol   string  `json:"symbol"`
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close"`
	Volume   float64 `json:"volume"`
}

func (r *eodRow) toBar() (models.PriceBar, bool) {
	date, err := time.Parse(tsLayout, r.Date)
	if err != nil {
		date, err = time.Parse(dateLayout, r.Date)
		if err != nil {
			return models.PriceBar{}, false
		}
	}
	adj := r.AdjClose
	if adj == 0 {
		adj = r.Close
	}
	return models.PriceBar{
		Symbol:   models.NormalizeIdentifier(r.Symbol),
		Date:     time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Open:     r.Open,
		High:     r.High,
		Low:      r.Low,
		Close:    r.Close,
		AdjClose: adj,
		Volume:   int64(r.Volume),
	}, true
}

type dividendRow struct {
	Symbol      string  `json:"symbol"`
	Date        string  `json:"date"` // ex-date
	Dividend    float64 `json:"dividend"`
	PaymentDate string  `json:"payment_date"`
	RecordDate  string  `json:"record_date"`
}

func parseOptionalDate(s string) *time.Time {
	if s == "" {
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
	_ interfaces.SymbolLister   = (*Client)(nil)
	_ interfaces.PriceSource    = (*Client)(nil)
	_ interfaces.DividendSource = (*Client)(nil)
	_ interfaces.CompanySource  = (*Client)(nil)
	_ interfaces.StatsReporter  = (*Client)(nil)
)
