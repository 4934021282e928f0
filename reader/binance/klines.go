package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"klineflow/config"
	"klineflow/internal/interval"
	"klineflow/internal/metrics"
	binancemetrics "klineflow/internal/metrics/binance"
	ratemetrics "klineflow/internal/metrics/rate"
	"klineflow/internal/pagination"
	"klineflow/internal/progress"
	"klineflow/logger"
	"klineflow/models"
)

const component = "kline_reader"

// maxErrorBody bounds how much of a failed response is kept for logs and errors.
const maxErrorBody = 512

// PageSink accumulates the pages fetched for one symbol.
type PageSink interface {
	AppendPage(candles []models.Candle)
}

// KlineReader downloads the candles of one symbol at a time, page window by
// page window. Each page first takes a slot from the shared budget; failed
// pages are retried for the same window after a delay.
type KlineReader struct {
	client      *gobinance.Client
	endpoint    string
	spec        interval.Spec
	planner     *pagination.Planner
	start       time.Time
	end         time.Time
	budget      ratemetrics.Budget
	progress    progress.Reporter
	retry       config.RetryConfig
	sleep       ratemetrics.Sleeper
	log         *logger.Log
	localIP     string
	weightLimit int64

	mu      sync.Mutex
	retries int64
}

// Option configures a KlineReader.
type Option func(*KlineReader)

// WithHTTPClient replaces the pooled client built from configuration.
func WithHTTPClient(c *http.Client) Option {
	return func(r *KlineReader) {
		if c != nil {
			r.client.HTTPClient = c
		}
	}
}

// WithSleeper replaces the retry sleep, mainly for tests.
func WithSleeper(s ratemetrics.Sleeper) Option {
	return func(r *KlineReader) {
		if s != nil {
			r.sleep = s
		}
	}
}

func WithLogger(log *logger.Log) Option {
	return func(r *KlineReader) {
		if log != nil {
			r.log = log
		}
	}
}

// WithWeightLimit sets the REQUEST_WEIGHT per minute limit used to report the
// share of the budget consumed.
func WithWeightLimit(limit int64) Option {
	return func(r *KlineReader) { r.weightLimit = limit }
}

// NewKlineReader creates a reader for the fetch range and interval in cfg.
func NewKlineReader(cfg *config.Config, budget ratemetrics.Budget, reporter progress.Reporter, opts ...Option) (*KlineReader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if budget == nil {
		return nil, fmt.Errorf("request budget is required")
	}

	spec, err := interval.Parse(cfg.Fetch.Interval)
	if err != nil {
		return nil, err
	}
	planner, err := pagination.New(spec, cfg.Fetch.PageRowLimit)
	if err != nil {
		return nil, err
	}
	start, end, err := cfg.Fetch.Range()
	if err != nil {
		return nil, err
	}

	src := cfg.Source.Binance
	client, err := NewAPIClient(src, NewHTTPClient(src))
	if err != nil {
		return nil, err
	}

	r := &KlineReader{
		client:   client,
		endpoint: src.URL,
		spec:     spec,
		planner:  planner,
		start:    start,
		end:      end,
		budget:   budget,
		progress: reporter,
		retry:    cfg.Retry,
		sleep:    ratemetrics.Sleep,
		log:      logger.GetLogger(),
		localIP:  src.LocalIP,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.log.WithComponent(component).WithFields(logger.Fields{
		"endpoint":           r.endpoint,
		"interval":           spec.String(),
		"page_row_limit":     planner.Limit(),
		"max_idle_conns":     src.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": src.ConnectionPool.MaxConnsPerHost,
		"timeout":            src.Timeout,
	}).Info("kline reader initialized")

	return r, nil
}

// Client exposes the underlying go-binance client.
func (r *KlineReader) Client() *gobinance.Client { return r.client }

// Planner returns the page planner for the configured interval.
func (r *KlineReader) Planner() *pagination.Planner { return r.planner }

// Range returns the fetch range [start, end).
func (r *KlineReader) Range() (time.Time, time.Time) { return r.start, r.end }

// Retries returns the number of failed attempts that were retried.
func (r *KlineReader) Retries() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

// FetchSymbol pages through the whole range for symbol, appending every page
// to sink. Cancellation is observed between pages and during sleeps; pages
// already appended are left in sink.
func (r *KlineReader) FetchSymbol(ctx context.Context, symbol string, sink PageSink) error {
	log := r.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":   symbol,
		"interval": r.spec.String(),
	})
	log.WithFields(logger.Fields{
		"start":    r.start.Format(models.DatetimeLayout),
		"end":      r.end.Format(models.DatetimeLayout),
		"expected": r.planner.ExpectedRequests(r.start, r.end),
	}).Info("fetching symbol")

	started := time.Now()
	pages, rows := 0, 0
	it := r.planner.Windows(r.start, r.end)
	for {
		if err := ctx.Err(); err != nil {
			log.WithFields(logger.Fields{"pages": pages, "cursor": it.Cursor().Format(models.DatetimeLayout)}).Warn("fetch cancelled")
			return err
		}

		w, ok := it.Next()
		if !ok {
			break
		}

		candles, err := r.fetchWindow(ctx, symbol, w)
		if err != nil {
			return err
		}

		sink.AppendPage(candles)
		pages++
		rows += len(candles)
		logger.IncrementPageFetched(len(candles))
		logger.LogDataFlowEntry(log, "binance_api", "aggregator", len(candles), "klines")
		if r.progress != nil {
			r.progress.PageDone(symbol)
		}
	}

	metrics.EmitMetric(r.log, component, "pages_fetched", int64(pages), "counter", logger.Fields{"symbol": symbol})
	logger.LogPerformanceEntry(log, component, "fetch_symbol", time.Since(started), logger.Fields{"symbol": symbol})
	log.WithFields(logger.Fields{"pages": pages, "rows": rows}).Info("symbol fetched")
	return nil
}

// fetchWindow issues requests for one window until one succeeds, the retry
// ceiling is reached or ctx is cancelled.
func (r *KlineReader) fetchWindow(ctx context.Context, symbol string, w pagination.Window) ([]models.Candle, error) {
	attempt := 0
	for {
		if err := r.budget.Acquire(ctx); err != nil {
			return nil, err
		}

		candles, header, err := r.doRequest(ctx, symbol, w)
		if err == nil {
			return candles, nil
		}

		attempt++
		log := r.log.WithComponent(component).WithFields(logger.Fields{
			"symbol":  symbol,
			"window":  w.String(),
			"attempt": attempt,
		}).WithError(err)

		if r.retry.MaxAttempts > 0 && attempt >= r.retry.MaxAttempts {
			log.Error("giving up on page window")
			return nil, fmt.Errorf("%s %s: %w after %d attempts: %v", symbol, w, ErrRetriesExhausted, attempt, err)
		}

		delay := r.retryDelay(attempt, header, err)
		log.WithFields(logger.Fields{"delay": delay.String()}).Warn("page request failed, retrying")

		r.mu.Lock()
		r.retries++
		r.mu.Unlock()
		logger.IncrementRetry()
		metrics.EmitMetric(r.log, component, "retry_events", int64(1), "counter", logger.Fields{"symbol": symbol})

		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// retryDelay grows BaseDelay by BackoffMultiplier per attempt, capped at
// MaxDelay, and never waits less than the server asked for.
func (r *KlineReader) retryDelay(attempt int, header http.Header, err error) time.Duration {
	delay := r.retry.BaseDelay
	mult := r.retry.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt && mult > 1; i++ {
		delay *= time.Duration(mult)
		if r.retry.MaxDelay > 0 && delay >= r.retry.MaxDelay {
			break
		}
	}
	if r.retry.MaxDelay > 0 && delay > r.retry.MaxDelay {
		delay = r.retry.MaxDelay
	}

	if d, ok := ratemetrics.RetryAfter(header); ok && d > delay {
		delay = d
	}
	var nonSuccess *NonSuccessResponseError
	if errors.As(err, &nonSuccess) {
		if until, ok := ratemetrics.BanUntil(nonSuccess.Body); ok {
			if d := time.Until(until); d > delay {
				delay = d
			}
		}
	}
	return delay
}

func (r *KlineReader) requestURL(symbol string, w pagination.Window) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", r.spec.String())
	q.Set("startTime", strconv.FormatInt(w.StartMillis(), 10))
	// endTime is inclusive on the exchange side; the window end is exclusive.
	q.Set("endTime", strconv.FormatInt(w.EndMillis()-1, 10))
	q.Set("limit", strconv.Itoa(r.planner.Limit()))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// doRequest performs a single klines call. The request is detached from ctx
// cancellation so an in-flight page always completes; the client timeout
// still bounds it.
func (r *KlineReader) doRequest(ctx context.Context, symbol string, w pagination.Window) ([]models.Candle, http.Header, error) {
	reqURL, err := r.requestURL(symbol, w)
	if err != nil {
		return nil, nil, &TransportError{Op: "build request", Err: err}
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, &TransportError{Op: "build request", Err: err}
	}

	start := time.Now()
	resp, err := r.client.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	log := r.log.WithComponent(component).WithFields(logger.Fields{"symbol": symbol})
	logger.LogPerformanceEntry(log, component, "api_request", time.Since(start), logger.Fields{
		"symbol": symbol,
		"status": resp.StatusCode,
	})
	binancemetrics.ReportUsedWeight(r.log, resp.Header, component, symbol, r.localIP, r.weightLimit)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, &TransportError{Op: "read body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		rateLimited, banned := ratemetrics.ReportLimitFromMessage(r.log, component, symbol, r.localIP, msg)
		if !rateLimited && !banned && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot) {
			ratemetrics.ReportRateLimitExceeded(r.log, component, symbol, r.localIP)
		}
		return nil, resp.Header, &NonSuccessResponseError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       msg,
		}
	}

	candles, err := models.DecodeKlines(body)
	if err != nil {
		return nil, resp.Header, &TransportError{Op: "decode", Err: err}
	}
	return candles, resp.Header, nil
}
