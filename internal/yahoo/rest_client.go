package yahoo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ma-breach-backtester/internal/config"
	"ma-breach-backtester/internal/models"
)

const (
	defaultBaseURL    = "https://query1.finance.yahoo.com"
	defaultMaxRetries = 3
	userAgent         = "Mozilla/5.0"
)

// ErrNoData is returned when the provider has no bars for the requested range.
var ErrNoData = errors.New("no price data returned")

// PriceClientInterface defines the interface for a daily price provider.
type PriceClientInterface interface {
	FetchDailyBars(ctx context.Context, ticker string, start, end time.Time) ([]models.Bar, error)
}

// RestClient is a client for the Yahoo Finance chart API.
// It implements the PriceClientInterface.
type RestClient struct {
	client     *resty.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// ensure RestClient implements the interface
var _ PriceClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Yahoo Finance REST client.
func NewRestClient(cfg *config.Market, logger *zap.Logger) *RestClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", userAgent)
	if cfg.TimeoutSeconds > 0 {
		client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	if cfg.RateLimit <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	return &RestClient{
		client:     client,
		logger:     logger,
		limiter:    limiter,
		maxRetries: maxRetries,
		backoff:    time.Second,
	}
}

// chartResponse is the response structure of the v8 chart endpoint.
// Quote values are pointers because Yahoo reports holidays as null.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol       string `json:"symbol"`
				Currency     string `json:"currency"`
				ExchangeName string `json:"exchangeName"`
				GMTOffset    int64  `json:"gmtoffset"`
				ExchangeTZ   string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *chartError `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// FetchDailyBars fetches daily bars for ticker in [start, end).
// Bars come back sorted by date with null rows skipped and duplicate dates collapsed.
func (c *RestClient) FetchDailyBars(ctx context.Context, ticker string, start, end time.Time) ([]models.Bar, error) {
	var chart chartResponse

	req := c.client.R().
		SetContext(ctx).
		SetResult(&chart).
		SetError(&chart).
		SetQueryParams(map[string]string{
			"period1":  strconv.FormatInt(start.Unix(), 10),
			"period2":  strconv.FormatInt(end.Unix(), 10),
			"interval": "1d",
			"events":   "history",
		})

	_, err := c.doRequest(ctx, http.MethodGet, "/v8/finance/chart/"+url.PathEscape(ticker), req)
	if err != nil {
		if chart.Chart.Error != nil {
			return nil, fmt.Errorf("%w for %s: %s", ErrNoData, ticker, chart.Chart.Error.Description)
		}
		c.logger.Error("Failed to fetch daily bars", zap.String("ticker", ticker), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch daily bars for %s: %w", ticker, err)
	}

	bars, err := parseChart(&chart)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrNoData, ticker, err)
	}
	c.logger.Info("Fetched daily bars",
		zap.String("ticker", ticker),
		zap.Int("bars", len(bars)),
		zap.Time("first", bars[0].Date),
		zap.Time("last", bars[len(bars)-1].Date),
	)
	return bars, nil
}

func parseChart(chart *chartResponse) ([]models.Bar, error) {
	if chart.Chart.Error != nil {
		return nil, errors.New(chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, errors.New("empty result")
	}
	res := chart.Chart.Result[0]
	if len(res.Timestamp) == 0 || len(res.Indicators.Quote) == 0 {
		return nil, errors.New("empty result")
	}
	quote := res.Indicators.Quote[0]
	loc := exchangeLocation(res.Meta.ExchangeTZ, res.Meta.GMTOffset)

	byDay := make(map[time.Time]models.Bar, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		closePrice := value(quote.Close, i)
		if math.IsNaN(closePrice) || closePrice <= 0 {
			continue
		}
		// Bars are stamped at the local session open, so the trading day is the exchange's calendar date.
		local := time.Unix(ts, 0).In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		// A later timestamp on the same day replaces the earlier one.
		byDay[day] = models.Bar{
			Date:   day,
			Open:   value(quote.Open, i),
			High:   value(quote.High, i),
			Low:    value(quote.Low, i),
			Close:  closePrice,
			Volume: value(quote.Volume, i),
		}
	}
	if len(byDay) == 0 {
		return nil, errors.New("every bar is null")
	}

	bars := make([]models.Bar, 0, len(byDay))
	for _, b := range byDay {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// exchangeLocation resolves the exchange time zone, falling back to the fixed
// offset Yahoo reports when the zone name is missing or unknown.
func exchangeLocation(name string, gmtOffset int64) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if gmtOffset == 0 {
		return time.UTC
	}
	return time.FixedZone("", int(gmtOffset))
}

func value(series []*float64, i int) float64 {
	if i >= len(series) || series[i] == nil {
		return math.NaN()
	}
	return *series[i]
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else if ctx.Err() == nil {
			// Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}
		if i == c.maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x the base delay
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil {
		err = fmt.Errorf("status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries, err)
}
