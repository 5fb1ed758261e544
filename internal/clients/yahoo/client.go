package yahoo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
	"golang.org/x/time/rate"

	"github.com/aristath/allocator/internal/domain"
)

// Defaults for zero Options fields.
const (
	DefaultMaxRetries        = 3
	DefaultRequestsPerSecond = 2.0
	DefaultBreakerFailures   = 5
	DefaultBreakerCooldown   = 30 * time.Second
)

// Options configures request pacing and failure handling.
type Options struct {
	MaxRetries        int           // attempts per symbol
	RequestsPerSecond float64       // shared across all symbols
	BreakerFailures   uint32        // consecutive failures before requests are short-circuited
	BreakerCooldown   time.Duration // open-state duration before a probe request
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = DefaultBreakerFailures
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = DefaultBreakerCooldown
	}
	return o
}

// historyFunc loads bars for one Yahoo symbol.
type historyFunc func(symbol string, params models.HistoryParams) ([]models.Bar, error)

// Client fetches monthly adjusted closes from Yahoo Finance using go-yfinance.
// It implements domain.PriceProvider. Requests from concurrent fetches share
// one rate limiter and one circuit breaker.
type Client struct {
	history    historyFunc
	maxRetries int
	baseDelay  time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewClient creates a new Yahoo Finance price client
func NewClient(opts Options, log zerolog.Logger) *Client {
	opts = opts.withDefaults()
	log = log.With().Str("client", "yahoo").Logger()

	settings := gobreaker.Settings{Name: "yahoo"}
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= opts.BreakerFailures
	}
	settings.Timeout = opts.BreakerCooldown
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	}

	return &Client{
		history:    tickerHistory,
		maxRetries: opts.MaxRetries,
		baseDelay:  time.Second,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		log:        log,
	}
}

func tickerHistory(symbol string, params models.HistoryParams) ([]models.Bar, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(params)
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices: %w", err)
	}
	return bars, nil
}

// FetchMonthlyPrices returns monthly adjusted closes from January of
// startYear through December of endYear (or the latest month when endYear
// is nil), sorted ascending by date. The window covers whole calendar years
// rather than a Feb-to-Feb range keyed on Yahoo's zero-based month fields.
//
// Unusable bars at either edge of the window are trimmed. An unusable bar
// between two usable ones is a DataUnavailableError, so a gap is never
// mistaken for a shorter listing history.
func (c *Client) FetchMonthlyPrices(ctx context.Context, symbol string, startYear int, endYear *int) ([]domain.PricePoint, error) {
	yahooSymbol := strings.ToUpper(strings.TrimSpace(symbol))
	if yahooSymbol == "" {
		return nil, &domain.DataUnavailableError{Symbol: symbol, Err: fmt.Errorf("empty symbol")}
	}

	params := models.HistoryParams{
		Period:     "max",
		Interval:   "1mo",
		AutoAdjust: false,
	}

	bars, err := c.historyWithRetry(ctx, yahooSymbol, params)
	if err != nil {
		return nil, &domain.DataUnavailableError{Symbol: symbol, Err: err}
	}

	points := make([]domain.PricePoint, 0, len(bars))
	for _, bar := range bars {
		year := bar.Date.Year()
		if year < startYear || (endYear != nil && year > *endYear) {
			continue
		}
		points = append(points, domain.PricePoint{Date: bar.Date, Price: adjustedClose(bar)})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	points = trimInvalidEdges(points)
	if len(points) == 0 {
		return nil, &domain.DataUnavailableError{
			Symbol: symbol,
			Err:    fmt.Errorf("no monthly prices since %d", startYear),
		}
	}
	for _, point := range points {
		if point.Price <= 0 {
			return nil, &domain.DataUnavailableError{
				Symbol: symbol,
				Err:    fmt.Errorf("missing price for %s", point.Date.Format("2006-01")),
			}
		}
	}

	c.log.Debug().
		Str("symbol", yahooSymbol).
		Int("points", len(points)).
		Time("first", points[0].Date).
		Time("last", points[len(points)-1].Date).
		Msg("Fetched monthly prices")

	return points, nil
}

// trimInvalidEdges drops non-positive prices from both ends of a sorted series.
func trimInvalidEdges(points []domain.PricePoint) []domain.PricePoint {
	first := 0
	for first < len(points) && points[first].Price <= 0 {
		first++
	}
	last := len(points)
	for last > first && points[last-1].Price <= 0 {
		last--
	}
	return points[first:last]
}

// historyWithRetry retries failed requests with exponential backoff,
// giving up early when ctx is done or the breaker is open.
func (c *Client) historyWithRetry(ctx context.Context, symbol string, params models.HistoryParams) ([]models.Bar, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.history(symbol, params)
		})
		if err == nil {
			bars, _ := result.([]models.Bar)
			return bars, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("yahoo requests suspended: %w", err)
		}
		lastErr = err

		if attempt < c.maxRetries-1 {
			waitTime := c.baseDelay * time.Duration(1<<uint(attempt))
			c.log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Dur("wait", waitTime).Msg("Retrying")

			timer := time.NewTimer(waitTime)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

// adjustedClose prefers the dividend and split adjusted close, falling back
// to the raw close when Yahoo leaves it empty.
func adjustedClose(bar models.Bar) float64 {
	if bar.AdjClose > 0 && !math.IsInf(bar.AdjClose, 0) && !math.IsNaN(bar.AdjClose) {
		return bar.AdjClose
	}
	if math.IsInf(bar.Close, 0) || math.IsNaN(bar.Close) {
		return 0
	}
	return bar.Close
}
