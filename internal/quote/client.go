// Package quote provides a client for the upstream market data and FX provider.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/finledger/ledgerd/internal/common"
	"github.com/finledger/ledgerd/internal/valuation"
)

const (
	// DefaultBaseURL points at the provider's public REST surface.
	DefaultBaseURL = "https://api.twelvedata.com"
	DefaultTimeout = 30 * time.Second
	// minCallInterval enforces the documented free-tier budget of 8 calls/minute
	// with margin: one call every 8 seconds, §4.5.
	minCallInterval = 8 * time.Second
)

// InstrumentKind selects which directory endpoint list() queries.
type InstrumentKind string

const (
	KindStocks InstrumentKind = "stocks"
	KindETFs   InstrumentKind = "etfs"
	KindCrypto InstrumentKind = "cryptocurrencies"
)

// Client is a rate-limited, non-retrying client for the quote provider's
// directory, time series, and exchange rate endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the provider base URL, for tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient overrides the underlying http.Client, for tests.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// NewClient builds a Client rate-limited to one call every 8 seconds,
// per §4.5's documented free-tier budget.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(minCallInterval), 1),
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError represents a non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quote provider error: %s (status %d, endpoint %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Is reports whether err should be classified as the shared provider error,
// so callers can match with errors.Is(err, valuation.ErrProvider).
func (e *APIError) Is(target error) bool {
	return target == valuation.ErrProvider
}

// call performs a single rate-limited GET request. Concurrent callers queue
// in arrival order on the limiter; no retry is attempted here - §4.5 leaves
// that decision to the scheduled job that invoked the call.
func (c *Client) call(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", valuation.ErrProvider, err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	params.Set("format", "JSON")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("quote provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", valuation.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: path}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: decode %s: %v", valuation.ErrProvider, path, err)
	}
	return nil
}

// directoryEnvelope is the common shape of /stocks, /etfs, /cryptocurrencies.
type directoryEnvelope struct {
	Data []directoryEntry `json:"data"`
}

type directoryEntry struct {
	Symbol             string `json:"symbol"`
	Name               string `json:"name"`
	MicCode            string `json:"mic_code"`
	Exchange           string `json:"exchange"`
	Country            string `json:"country"`
	Currency           string `json:"currency"`
	AvailableExchanges string `json:"available_exchanges"`
}

// List retrieves the instrument directory for one asset kind.
func (c *Client) List(ctx context.Context, kind InstrumentKind) ([]valuation.Instrument, error) {
	var path string
	switch kind {
	case KindStocks:
		path = "/stocks"
	case KindETFs:
		path = "/etfs"
	case KindCrypto:
		path = "/cryptocurrencies"
	default:
		return nil, fmt.Errorf("quote: unknown instrument kind %q", kind)
	}

	var env directoryEnvelope
	if err := c.call(ctx, path, nil, &env); err != nil {
		return nil, err
	}

	venue := func(e directoryEntry) string {
		if e.MicCode != "" {
			return e.MicCode
		}
		return e.Exchange
	}

	out := make([]valuation.Instrument, 0, len(env.Data))
	for _, e := range env.Data {
		if e.Symbol == "" {
			continue
		}
		out = append(out, valuation.Instrument{
			Symbol:        e.Symbol,
			Venue:         venue(e),
			DisplayVenue:  e.Exchange,
			Name:          e.Name,
			Country:       e.Country,
			QuoteCurrency: e.Currency,
		})
	}
	return out, nil
}

type timeSeriesEnvelope struct {
	Meta struct {
		Currency string `json:"currency"`
	} `json:"meta"`
	Values []timeSeriesValue `json:"values"`
}

type timeSeriesValue struct {
	Datetime string `json:"datetime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

// acceptedTimestampLayouts enumerates the date formats §6 requires the client
// to accept from the time_series endpoint.
var acceptedTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"2006-01-02",
}

func parseProviderTimestamp(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range acceptedTimestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q: %v", valuation.ErrMalformedBar, raw, lastErr)
}

// TimeSeries fetches OHLCV bars for (symbol, venue) at the given interval
// within [start, end]. The envelope's meta.currency is propagated onto every
// returned Bar, per §4.5.
func (c *Client) TimeSeries(ctx context.Context, symbol, venue string, interval valuation.Interval, start, end time.Time) ([]valuation.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if venue != "" {
		params.Set("mic_code", venue)
	}
	params.Set("interval", providerInterval(interval))
	if !start.IsZero() {
		params.Set("start_date", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		params.Set("end_date", end.Format("2006-01-02"))
	}

	var env timeSeriesEnvelope
	if err := c.call(ctx, "/time_series", params, &env); err != nil {
		return nil, err
	}

	bars := make([]valuation.Bar, 0, len(env.Values))
	for _, v := range env.Values {
		ts, err := parseProviderTimestamp(v.Datetime)
		if err != nil {
			continue // drop the single malformed row, keep the rest of the series
		}
		open, _ := strconv.ParseFloat(v.Open, 64)
		high, _ := strconv.ParseFloat(v.High, 64)
		low, _ := strconv.ParseFloat(v.Low, 64)
		cls, _ := strconv.ParseFloat(v.Close, 64)
		vol, _ := strconv.ParseFloat(v.Volume, 64)
		bars = append(bars, valuation.Bar{
			Symbol:    symbol,
			Venue:     venue,
			Timestamp: ts,
			Interval:  interval,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    vol,
			Currency:  env.Meta.Currency,
		})
	}
	return bars, nil
}

func providerInterval(i valuation.Interval) string {
	switch i {
	case valuation.Interval1Hour:
		return "1h"
	case valuation.Interval1Day:
		return "1day"
	default:
		return string(i)
	}
}

type exchangeRateResponse struct {
	Symbol    string  `json:"symbol"`
	Rate      float64 `json:"rate"`
	Timestamp int64   `json:"timestamp"`
}

// ExchangeRate fetches the current rate for a "SOURCE/TARGET" pair.
func (c *Client) ExchangeRate(ctx context.Context, pair string) (*valuation.FXRate, error) {
	params := url.Values{}
	params.Set("symbol", pair)

	var resp exchangeRateResponse
	if err := c.call(ctx, "/exchange_rate", params, &resp); err != nil {
		return nil, err
	}
	if resp.Rate <= 0 {
		return nil, fmt.Errorf("%w: exchange rate for %s", valuation.ErrProvider, pair)
	}

	source, target := splitPair(pair)
	return &valuation.FXRate{
		SourceCcy: source,
		TargetCcy: target,
		Rate:      resp.Rate,
		FetchedAt: time.Unix(resp.Timestamp, 0).UTC(),
	}, nil
}

func splitPair(pair string) (string, string) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '/' {
			return pair[:i], pair[i+1:]
		}
	}
	return pair, ""
}
