// Package fmp provides the primary market-data client (Financial Modeling
// Prep style API). It covers symbol discovery, per-symbol and batch EOD
// prices, dividends, splits, company profiles, ETF info, and the batch-quote
// endpoint.
package fmp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
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
	DefaultBaseURL   = "https://financialmodelingprep.com/api/v3"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 20 // requests per second
	DefaultPageSize  = 10000

	dateLayout = "2006-01-02"
)

// Client implements the primary provider capabilities. A second instance
// constructed with NewQuoteClient serves only the batch-quote endpoint under
// its own limiter, keeping the quote budget independent.
type Client struct {
	*clients.Transport
	apiKey string
	name   models.SourceName
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

// NewClient creates the primary data client with the given adaptive limiter.
func NewClient(apiKey string, limiter *ratelimit.Limiter, opts ...ClientOption) *Client {
	c := &Client{
		Transport: &clients.Transport{
			Provider:   models.SourcePrimary,
			BaseURL:    DefaultBaseURL,
			HTTPClient: &http.Client{Timeout: DefaultTimeout},
			Limiter:    limiter,
			Pace:       rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
			Logger:     common.NewSilentLogger(),
		},
		apiKey: apiKey,
		name:   models.SourcePrimary,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewQuoteClient creates a client dedicated to the batch-quote endpoint.
func NewQuoteClient(apiKey string, limiter *ratelimit.Limiter, opts ...ClientOption) *Client {
	c := NewClient(apiKey, limiter, opts...)
	c.Transport.Provider = models.SourceBatchQuote
	c.name = models.SourceBatchQuote
	return c
}

// Name identifies the provider in the tracking ledger.
func (c *Client) Name() models.SourceName { return c.name }

func (c *Client) params() url.Values {
	p := url.Values{}
	p.Set("apikey", c.apiKey)
	return p
}

// --- Discovery ---

// ListSymbols pages through the full symbol directory. The upstream endpoint
// returns everything in one response; paging is emulated with an integer
// cursor so callers can bound memory.
func (c *Client) ListSymbols(ctx context.Context, cursor string, limit int) ([]*models.Symbol, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var rows []listedSymbol
	if err := c.GetJSON(ctx, "/stock/list", "", c.params(), &rows); err != nil {
		return nil, "", err
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		offset = n
	}
	if offset >= len(rows) {
		return nil, "", nil
	}

	end := offset + limit
	next := ""
	if end < len(rows) {
		next = strconv.Itoa(end)
	} else {
		end = len(rows)
	}

	out := make([]*models.Symbol, 0, end-offset)
	for _, row := range rows[offset:end] {
		out = append(out, row.toSymbol())
	}
	return out, next, nil
}

// ListETFs enumerates exchange-traded funds.
func (c *Client) ListETFs(ctx context.Context) ([]*models.Symbol, error) {
	var rows []listedSymbol
	if err := c.GetJSON(ctx, "/etf/list", "", c.params(), &rows); err != nil {
		return nil, err
	}

	out := make([]*models.Symbol, 0, len(rows))
	for _, row := range rows {
		sym := row.toSymbol()
		sym.Type = models.InstrumentETF
		out = append(out, sym)
	}
	return out, nil
}

// ListDividendCandidates returns symbols with a dividend event in the
// trailing year, from the dividend calendar.
func (c *Client) ListDividendCandidates(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	params := c.params()
	params.Set("from", now.AddDate(-1, 0, 0).Format(dateLayout))
	params.Set("to", now.Format(dateLayout))

	var rows []calendarDividend
	if err := c.GetJSON(ctx, "/stock_dividend_calendar", "", params, &rows); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	var out []string
	for _, row := range rows {
		id := models.NormalizeIdentifier(row.Symbol)
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- Prices ---

// FetchPrices returns daily bars for a symbol, oldest first.
func (c *Client) FetchPrices(ctx context.Context, symbol string, from time.Time) ([]models.PriceBar, error) {
	params := c.params()
	if !from.IsZero() {
		params.Set("from", from.Format(dateLayout))
	}

	var resp historicalPrices
	if err := c.GetJSON(ctx, "/historical-price-full/"+url.PathEscape(symbol), symbol, params, &resp); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(resp.Historical))
	// Upstream is descending; reverse to chronological.
	for i := len(resp.Historical) - 1; i >= 0; i-- {
		bar, err := resp.Historical[i].toBar(symbol)
		if err != nil {
			c.Logger.Warn().Str("symbol", symbol).Err(err).Msg("Dropping malformed price bar")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// FetchBatchEOD returns one bar per symbol for a single trading date.
// The upstream serves this as CSV.
func (c *Client) FetchBatchEOD(ctx context.Context, date time.Time) (map[string]models.PriceBar, error) {
	params := c.params()
	params.Set("date", date.Format(dateLayout))

	rows, err := c.GetCSV(ctx, "/batch-request-end-of-day-prices", "", params)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.PriceBar, len(rows))
	for _, row := range rows {
		// symbol,date,open,low,high,close,adjClose,volume
		if len(row) < 8 {
			continue
		}
		bar, err := parseCSVBar(row)
		if err != nil {
			c.Logger.Debug().Str("symbol", row[0]).Err(err).Msg("Dropping malformed batch EOD row")
			continue
		}
		out[bar.Symbol] = bar
	}
	return out, nil
}

// FetchBatchQuotes returns quote deltas for up to 500 symbols in one call.
func (c *Client) FetchBatchQuotes(ctx context.Context, symbols []string) (map[string]models.QuoteDelta, error) {
	if len(symbols) == 0 {
		return map[string]models.QuoteDelta{}, nil
	}

	var rows []quoteRow
	path := "/quote/" + url.PathEscape(strings.Join(symbols, ","))
	if err := c.GetJSON(ctx, path, "", c.params(), &rows); err != nil {
		return nil, err
	}

	out := make(map[string]models.QuoteDelta, len(rows))
	for _, row := range rows {
		id := models.NormalizeIdentifier(row.Symbol)
		out[id] = models.QuoteDelta{
			Symbol:        id,
			Price:         row.Price,
			Change:        row.Change,
			ChangePercent: row.ChangesPercentage,
			Volume:        row.Volume,
		}
	}
	return out, nil
}

// --- Dividends and splits ---

// FetchDividends returns historical dividend events from the given date.
func (c *Client) FetchDividends(ctx context.Context, symbol string, from time.Time) ([]models.DividendEvent, error) {
	var resp historicalDividends
	if err := c.GetJSON(ctx, "/historical-price-full/stock_dividend/"+url.PathEscape(symbol), symbol, c.params(), &resp); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	events := make([]models.DividendEvent, 0, len(resp.Historical))
	for i := len(resp.Historical) - 1; i >= 0; i-- {
		ev, err := resp.Historical[i].toEvent(symbol)
		if err != nil {
			c.Logger.Warn().Str("symbol", symbol).Err(err).Msg("Dropping malformed dividend")
			continue
		}
		if !from.IsZero() && ev.ExDate.Before(from) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// FetchFutureDividends returns announced events with ex-dates inside [start, end].
func (c *Client) FetchFutureDividends(ctx context.Context, start, end time.Time) ([]models.DividendEvent, error) {
	params := c.params()
	params.Set("from", start.Format(dateLayout))
	params.Set("to", end.Format(dateLayout))

	var rows []calendarDividend
	if err := c.GetJSON(ctx, "/stock_dividend_calendar", "", params, &rows); err != nil {
		return nil, err
	}

	events := make([]models.DividendEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEvent()
		if err != nil {
			c.Logger.Debug().Str("symbol", row.Symbol).Err(err).Msg("Dropping malformed calendar dividend")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// FetchSplits returns split history from the given date.
func (c *Client) FetchSplits(ctx context.Context, symbol string, from time.Time) ([]models.CorporateSplit, error) {
	var resp historicalSplits
	if err := c.GetJSON(ctx, "/historical-price-full/stock_split/"+url.PathEscape(symbol), symbol, c.params(), &resp); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	splits := make([]models.CorporateSplit, 0, len(resp.Historical))
	for i := len(resp.Historical) - 1; i >= 0; i-- {
		sp, err := resp.Historical[i].toSplit(symbol)
		if err != nil {
			c.Logger.Warn().Str("symbol", symbol).Err(err).Msg("Dropping malformed split")
			continue
		}
		if !from.IsZero() && sp.SplitDate.Before(from) {
			continue
		}
		splits = append(splits, sp)
	}
	return splits, nil
}

// --- Company / fund metadata ---

// FetchCompany returns the company profile.
func (c *Client) FetchCompany(ctx context.Context, symbol string) (*models.CompanyInfo, error) {
	var rows []profileRow
	if err := c.GetJSON(ctx, "/profile/"+url.PathEscape(symbol), symbol, c.params(), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &clients.APIError{Provider: c.name, Endpoint: "/profile", Symbol: symbol,
			Kind: clients.KindNotFound, Message: "empty profile"}
	}

	row := rows[0]
	info := &models.CompanyInfo{
		Symbol:      models.NormalizeIdentifier(row.Symbol),
		Name:        row.CompanyName,
		Sector:      row.Sector,
		Industry:    row.Industry,
		MarketCap:   row.MktCap,
		Description: row.Description,
		IsFund:      row.IsETF || row.IsFund,
		RefreshedAt: time.Now().UTC(),
	}
	if row.LastDiv > 0 && row.Price > 0 {
		info.DividendYield = row.LastDiv / row.Price * 100
	}
	return info, nil
}

// FetchHoldings returns the top constituents of a fund, heaviest first.
func (c *Client) FetchHoldings(ctx context.Context, etfSymbol string) ([]models.ETFHolding, error) {
	var rows []holdingRow
	if err := c.GetJSON(ctx, "/etf-holder/"+url.PathEscape(etfSymbol), etfSymbol, c.params(), &rows); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	holdings := make([]models.ETFHolding, 0, len(rows))
	for _, row := range rows {
		holdings = append(holdings, models.ETFHolding{
			Symbol: models.NormalizeIdentifier(row.Asset),
			Name:   row.Name,
			Weight: row.WeightPercentage,
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Weight > holdings[j].Weight })
	if len(holdings) > 10 {
		holdings = holdings[:10]
	}
	return holdings, nil
}

// FetchFundMetrics returns assets under management and implied volatility
// for a fund, when the provider reports them.
func (c *Client) FetchFundMetrics(ctx context.Context, symbol string) (aum, iv *float64, err error) {
	params := c.params()
	params.Set("symbol", symbol)

	var rows []etfInfoRow
	if err := c.GetJSON(ctx, "/etf-info", symbol, params, &rows); err != nil {
		if clients.IsNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	row := rows[0]
	if row.AUM > 0 {
		aum = &row.AUM
	}
	if row.ImpliedVolatility > 0 {
		iv = &row.ImpliedVolatility
	}
	return aum, iv, nil
}

// --- Wire formats ---

type listedSymbol struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	ExchangeShortName string  `json:"exchangeShortName"`
	Type              string  `json:"type"`
}

func (r *listedSymbol) toSymbol() *models.Symbol {
	t := models.InstrumentStock
	switch strings.ToLower(r.Type) {
	case "etf":
		t = models.InstrumentETF
	case "trust", "fund":
		t = models.InstrumentTrust
	}
	return &models.Symbol{
		Identifier: models.NormalizeIdentifier(r.Symbol),
		Exchange:   strings.ToUpper(r.ExchangeShortName),
		Name:       r.Name,
		Type:       t,
	}
}

type historicalPrices struct {
	Symbol     string     `json:"symbol"`
	Historical []priceRow `json:"historical"`
}

type priceRow struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adjClose"`
	Volume   int64   `json:"volume"`
}

func (r *priceRow) toBar(symbol string) (models.PriceBar, error) {
	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return models.PriceBar{}, fmt.Errorf("bad date %q: %w", r.Date, err)
	}
	return models.PriceBar{
		Symbol:   models.NormalizeIdentifier(symbol),
		Date:     date,
		Open:     r.Open,
		High:     r.High,
		Low:      r.Low,
		Close:    r.Close,
		AdjClose: r.AdjClose,
		Volume:   r.Volume,
	}, nil
}

func parseCSVBar(row []string) (models.PriceBar, error) {
	date, err := time.Parse(dateLayout, row[1])
	if err != nil {
		return models.PriceBar{}, fmt.Errorf("bad date %q: %w", row[1], err)
	}
	open, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return models.PriceBar{}, err
	}
	low, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return models.PriceBar{}, err
	}
	high, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return models.PriceBar{}, err
	}
	cls, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return models.PriceBar{}, err
	}
	adj, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		adj = cls
	}
	vol, err := strconv.ParseFloat(row[7], 64)
	if err != nil {
		vol = 0
	}
	return models.PriceBar{
		Symbol:   models.NormalizeIdentifier(row[0]),
		Date:     date,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		AdjClose: adj,
		Volume:   int64(vol),
	}, nil
}

type quoteRow struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	Change            float64 `json:"change"`
	ChangesPercentage float64 `json:"changesPercentage"`
	Volume            int64   `json:"volume"`
}

type historicalDividends struct {
	Symbol     string        `json:"symbol"`
	Historical []dividendRow `json:"historical"`
}

type dividendRow struct {
	Date            string  `json:"date"` // ex-date
	AdjDividend     float64 `json:"adjDividend"`
	Dividend        float64 `json:"dividend"`
	RecordDate      string  `json:"recordDate"`
	PaymentDate     string  `json:"paymentDate"`
	DeclarationDate string  `json:"declarationDate"`
}

func (r *dividendRow) toEvent(symbol string) (models.DividendEvent, error) {
	exDate, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return models.DividendEvent{}, fmt.Errorf("bad ex-date %q: %w", r.Date, err)
	}
	amount := r.Dividend
	if amount == 0 {
		amount = r.AdjDividend
	}
	return models.DividendEvent{
		Symbol:          models.NormalizeIdentifier(symbol),
		ExDate:          exDate,
		RecordDate:      parseOptionalDate(r.RecordDate),
		PaymentDate:     parseOptionalDate(r.PaymentDate),
		DeclarationDate: parseOptionalDate(r.DeclarationDate),
		Amount:          amount,
		Currency:        "USD",
	}, nil
}

type calendarDividend struct {
	Symbol          string  `json:"symbol"`
	Date            string  `json:"date"` // ex-date
	Dividend        float64 `json:"dividend"`
	RecordDate      string  `json:"recordDate"`
	PaymentDate     string  `json:"paymentDate"`
	DeclarationDate string  `json:"declarationDate"`
}

func (r *calendarDividend) toEvent() (models.DividendEvent, error) {
	exDate, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return models.DividendEvent{}, fmt.Errorf("bad ex-date %q: %w", r.Date, err)
	}
	return models.DividendEvent{
		Symbol:          models.NormalizeIdentifier(r.Symbol),
		ExDate:          exDate,
		RecordDate:      parseOptionalDate(r.RecordDate),
		PaymentDate:     parseOptionalDate(r.PaymentDate),
		DeclarationDate: parseOptionalDate(r.DeclarationDate),
		Amount:          r.Dividend,
		Currency:        "USD",
	}, nil
}

type historicalSplits struct {
	Symbol     string     `json:"symbol"`
	Historical []splitRow `json:"historical"`
}

type splitRow struct {
	Date        string  `json:"date"`
	Numerator   float64 `json:"numerator"`
	Denominator float64 `json:"denominator"`
}

func (r *splitRow) toSplit(symbol string) (models.CorporateSplit, error) {
	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return models.CorporateSplit{}, fmt.Errorf("bad date %q: %w", r.Date, err)
	}
	return models.CorporateSplit{
		Symbol:      models.NormalizeIdentifier(symbol),
		SplitDate:   date,
		Numerator:   r.Numerator,
		Denominator: r.Denominator,
	}, nil
}

type profileRow struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	MktCap      float64 `json:"mktCap"`
	LastDiv     float64 `json:"lastDiv"`
	CompanyName string  `json:"companyName"`
	Sector      string  `json:"sector"`
	Industry    string  `json:"industry"`
	Description string  `json:"description"`
	Currency    string  `json:"currency"`
	Country     string  `json:"country"`
	IsETF       bool    `json:"isEtf"`
	IsFund      bool    `json:"isFund"`
}

type holdingRow struct {
	Asset            string  `json:"asset"`
	Name             string  `json:"name"`
	WeightPercentage float64 `json:"weightPercentage"`
}

type etfInfoRow struct {
	Symbol            string  `json:"symbol"`
	AUM               float64 `json:"aum"`
	ExpenseRatio      float64 `json:"expenseRatio"`
	ETFCompany        string  `json:"etfCompany"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
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
	_ interfaces.SymbolLister         = (*Client)(nil)
	_ interfaces.PriceSource          = (*Client)(nil)
	_ interfaces.BatchEODSource       = (*Client)(nil)
	_ interfaces.BatchQuoteSource     = (*Client)(nil)
	_ interfaces.DividendSource       = (*Client)(nil)
	_ interfaces.FutureDividendSource = (*Client)(nil)
	_ interfaces.SplitSource          = (*Client)(nil)
	_ interfaces.CompanySource        = (*Client)(nil)
	_ interfaces.HoldingsSource       = (*Client)(nil)
	_ interfaces.StatsReporter        = (*Client)(nil)
)
