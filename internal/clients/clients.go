// Package clients provides the shared HTTP plumbing for the provider
// wrappers: typed errors, retry with jittered exponential backoff, adaptive
// limiter integration, and per-client request stats.
package clients

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/finbase/rawfeed/internal/common"
	"github.com/finbase/rawfeed/internal/interfaces"
	"github.com/finbase/rawfeed/internal/models"
	"github.com/finbase/rawfeed/internal/ratelimit"
)

// ErrorKind classifies a provider failure for fallback decisions.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindThrottled ErrorKind = "throttled"
	KindNotFound  ErrorKind = "not_found"
	KindAuth      ErrorKind = "auth"
	KindParse     ErrorKind = "parse"
)

// APIError identifies the provider, endpoint, symbol, and kind of a failed
// request after retries are exhausted.
type APIError struct {
	Provider   models.SourceName
	Endpoint   string
	Symbol     string
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	sym := ""
	if e.Symbol != "" {
		sym = ", symbol: " + e.Symbol
	}
	return fmt.Sprintf("%s API error: %s (kind: %s, status: %d, endpoint: %s%s)",
		e.Provider, e.Message, e.Kind, e.StatusCode, e.Endpoint, sym)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsNotFound reports a terminal 404 for the (provider, symbol, data type).
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsAuth reports a 401/403, fatal for the client instance.
func IsAuth(err error) bool { return IsKind(err, KindAuth) }

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 30 * time.Second
	retryMaxAttempts     = 5
)

// Transport is the shared request engine embedded by every provider client.
type Transport struct {
	Provider   models.SourceName
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Pace       *rate.Limiter
	Logger     *common.Logger

	authFailed atomic.Bool

	attempts     atomic.Int64
	successes    atomic.Int64
	retries      atomic.Int64
	clientErrors atomic.Int64
	serverErrors atomic.Int64
	timeouts     atomic.Int64
}

// Stats returns a snapshot of the request counters.
func (t *Transport) Stats() interfaces.ClientStats {
	return interfaces.ClientStats{
		Attempts:     t.attempts.Load(),
		Successes:    t.successes.Load(),
		Retries:      t.retries.Load(),
		ClientErrors: t.clientErrors.Load(),
		ServerErrors: t.serverErrors.Load(),
		Timeouts:     t.timeouts.Load(),
	}
}

// GetJSON performs a limiter-scoped GET and decodes the JSON response.
// Symbol is used only for error attribution and may be empty.
func (t *Transport) GetJSON(ctx context.Context, path, symbol string, params url.Values, out any) error {
	return t.get(ctx, path, symbol, params, func(body []byte) error {
		return json.Unmarshal(body, out)
	})
}

// GetCSV performs a limiter-scoped GET and parses the CSV response,
// returning rows without the header line.
func (t *Transport) GetCSV(ctx context.Context, path, symbol string, params url.Values) ([][]string, error) {
	var rows [][]string
	err := t.get(ctx, path, symbol, params, func(body []byte) error {
		records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
		if err != nil {
			return err
		}
		if len(records) > 0 {
			records = records[1:]
		}
		rows = records
		return nil
	})
	return rows, err
}

// get holds one limiter slot across all retry attempts of one logical call.
// Retries (429/5xx/transport) use jittered exponential backoff; a parse
// failure is retried once; 404 and 401/403 are terminal.
func (t *Transport) get(ctx context.Context, path, symbol string, params url.Values, decode func([]byte) error) error {
	if t.authFailed.Load() {
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindAuth,
			Message: "client disabled after earlier auth failure"}
	}

	if err := t.Limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("limiter acquire: %w", err)
	}
	defer t.Limiter.Release()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	parseRetried := false
	attempt := 0

	operation := func() error {
		attempt++
		if attempt > 1 {
			t.retries.Add(1)
		}
		err := t.attemptOnce(ctx, path, symbol, params, decode)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Kind {
			case KindNotFound, KindAuth:
				return backoff.Permanent(err)
			case KindParse:
				if parseRetried {
					return backoff.Permanent(err)
				}
				parseRetried = true
				return err
			}
		}
		if attempt >= retryMaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	if IsAuth(err) {
		t.authFailed.Store(true)
	}
	return err
}

func (t *Transport) attemptOnce(ctx context.Context, path, symbol string, params url.Values, decode func([]byte) error) error {
	t.attempts.Add(1)

	if t.Pace != nil {
		if err := t.Pace.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	reqURL := t.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	t.Logger.Debug().Str("provider", string(t.Provider)).Str("url", t.BaseURL+path).Msg("API request")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			t.timeouts.Add(1)
		}
		t.Limiter.ReportSuccess() // transport error, not provider pushback
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Limiter.ReportSuccess()
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindTransport, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		t.Limiter.ReportSuccess()
	case resp.StatusCode == http.StatusTooManyRequests:
		t.clientErrors.Add(1)
		t.Limiter.ReportThrottle()
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindThrottled,
			StatusCode: resp.StatusCode, Message: "throttled"}
	case resp.StatusCode == http.StatusNotFound:
		t.clientErrors.Add(1)
		t.Limiter.ReportSuccess()
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindNotFound,
			StatusCode: resp.StatusCode, Message: "not found"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		t.clientErrors.Add(1)
		t.Limiter.ReportSuccess()
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindAuth,
			StatusCode: resp.StatusCode, Message: "authentication rejected"}
	case resp.StatusCode >= 500:
		t.serverErrors.Add(1)
		t.Limiter.ReportThrottle()
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindTransport,
			StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	default:
		t.clientErrors.Add(1)
		t.Limiter.ReportSuccess()
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindTransport,
			StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}

	if err := decode(body); err != nil {
		return &APIError{Provider: t.Provider, Endpoint: path, Symbol: symbol, Kind: KindParse, Message: err.Error()}
	}

	t.successes.Add(1)
	return nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
