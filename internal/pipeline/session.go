package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"klineflow/config"
	"klineflow/internal/interval"
	ratemetrics "klineflow/internal/metrics/rate"
	"klineflow/internal/pagination"
	"klineflow/internal/progress"
	"klineflow/logger"
	"klineflow/models"
	"klineflow/processor"
	"klineflow/reader/binance"
	"klineflow/writer"
)

const component = "session"

// ErrInvalidRange is returned when the fetch start is not before its end.
var ErrInvalidRange = errors.New("fetch start must be before end")

// SymbolResult is the outcome for one symbol. Series is set whenever the
// fetch completed, even if persisting it failed. Partial holds the pages
// fetched before a cancelled or exhausted fetch stopped; it is never
// persisted.
type SymbolResult struct {
	Symbol  string
	Series  *models.Series
	Partial *processor.SymbolSeries
	Paths   []string
	Err     error
}

// Session runs one download of every configured symbol over a shared
// request budget.
type Session struct {
	cfg        *config.Config
	runID      string
	symbols    []string
	start      time.Time
	end        time.Time
	expected   int
	budget     ratemetrics.Budget
	tracker    *progress.Tracker
	reader     *binance.KlineReader
	aggregator *processor.Aggregator
	persister  *writer.Persister
	log        *logger.Log
}

type sessionOptions struct {
	httpClient     *http.Client
	sleeper        ratemetrics.Sleeper
	progressOut    io.Writer
	progressSet    bool
	budget         ratemetrics.Budget
	persisterOpts  []writer.Option
	uploaderFromS3 bool
}

// Option configures a Session.
type Option func(*sessionOptions)

// WithHTTPClient replaces the pooled HTTP client for every Binance call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *sessionOptions) { o.httpClient = c }
}

// WithSleeper replaces cool-down and retry sleeps.
func WithSleeper(s ratemetrics.Sleeper) Option {
	return func(o *sessionOptions) { o.sleeper = s }
}

// WithProgressOutput sets where the progress line is printed. A nil writer
// disables the line; progress is still logged.
func WithProgressOutput(w io.Writer) Option {
	return func(o *sessionOptions) {
		o.progressOut = w
		o.progressSet = true
	}
}

// WithBudget replaces the budget built from configuration.
func WithBudget(b ratemetrics.Budget) Option {
	return func(o *sessionOptions) { o.budget = b }
}

// WithPersisterOptions passes options through to the persister.
func WithPersisterOptions(opts ...writer.Option) Option {
	return func(o *sessionOptions) { o.persisterOpts = append(o.persisterOpts, opts...) }
}

// WithS3Upload uploads artifacts using the storage.s3 section when it is enabled.
func WithS3Upload() Option {
	return func(o *sessionOptions) { o.uploaderFromS3 = true }
}

// NewSession validates cfg and wires the reader, aggregator and persister.
// When budget.requests_per_window is 0 the limit is read from exchangeInfo
// before any kline request is made.
func NewSession(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	start, end, err := cfg.Fetch.Range()
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrInvalidRange, cfg.Fetch.Start, cfg.Fetch.End)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := sessionOptions{sleeper: ratemetrics.Sleep}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.progressSet && cfg.Progress.Enabled {
		o.progressOut = os.Stdout
	}
	if !cfg.Progress.Enabled {
		o.progressOut = nil
	}

	log := logger.GetLogger()
	runID := uuid.NewString()
	src := cfg.Source.Binance
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = binance.NewHTTPClient(src)
	}

	budget := o.budget
	weightLimit := int64(cfg.Budget.RequestsPerWindow * cfg.Budget.RequestWeight)
	if budget == nil {
		requests := cfg.Budget.RequestsPerWindow
		if requests == 0 {
			requests, weightLimit, err = discoverRequests(cfg, httpClient)
			if err != nil {
				return nil, err
			}
			log.WithComponent(component).WithFields(logger.Fields{
				"weight_limit":        weightLimit,
				"request_weight":      cfg.Budget.RequestWeight,
				"requests_per_window": requests,
			}).Info("request budget discovered from exchange info")
		}
		budget, err = newBudget(cfg.Budget, requests, o.sleeper, log)
		if err != nil {
			return nil, err
		}
	}

	planner, err := plannerFor(cfg)
	if err != nil {
		return nil, err
	}
	expected := planner.ExpectedRequests(start, end) * len(cfg.Fetch.Symbols)

	trackerOpts := []progress.Option{progress.WithLogger(log)}
	if o.progressOut != nil {
		trackerOpts = append(trackerOpts, progress.WithPrinter(progress.NewPrinter(o.progressOut)))
	}
	tracker := progress.NewTracker(expected, trackerOpts...)

	reader, err := binance.NewKlineReader(cfg, budget, tracker,
		binance.WithHTTPClient(httpClient),
		binance.WithSleeper(o.sleeper),
		binance.WithLogger(log),
		binance.WithWeightLimit(weightLimit),
	)
	if err != nil {
		return nil, err
	}

	persisterOpts := o.persisterOpts
	if o.uploaderFromS3 && cfg.Storage.S3.Enabled {
		uploader, err := writer.NewS3Uploader(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		persisterOpts = append(persisterOpts, writer.WithUploader(uploader))
	}

	s := &Session{
		cfg:        cfg,
		runID:      runID,
		symbols:    append([]string(nil), cfg.Fetch.Symbols...),
		start:      start,
		end:        end,
		expected:   expected,
		budget:     budget,
		tracker:    tracker,
		reader:     reader,
		aggregator: processor.NewAggregator(cfg.Fetch.Interval, start, end),
		persister:  writer.NewPersister(cfg, persisterOpts...),
		log:        log,
	}

	log.WithComponent(component).WithFields(logger.Fields{
		"run_id":            runID,
		"symbols":           len(s.symbols),
		"interval":          cfg.Fetch.Interval,
		"start":             start.Format(models.DatetimeLayout),
		"end":               end.Format(models.DatetimeLayout),
		"expected_requests": expected,
		"concurrency":       cfg.Fetch.Concurrency,
		"budget_mode":       cfg.Budget.Mode,
	}).Info("session initialized")

	return s, nil
}

func plannerFor(cfg *config.Config) (*pagination.Planner, error) {
	spec, err := interval.Parse(cfg.Fetch.Interval)
	if err != nil {
		return nil, err
	}
	return pagination.New(spec, cfg.Fetch.PageRowLimit)
}

func discoverRequests(cfg *config.Config, httpClient *http.Client) (int, int64, error) {
	client, err := binance.NewAPIClient(cfg.Source.Binance, httpClient)
	if err != nil {
		return 0, 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Source.Binance.Timeout)
	defer cancel()

	limit, err := ratemetrics.FetchRequestWeightLimit(ctx, client)
	if err != nil {
		return 0, 0, fmt.Errorf("discover request weight limit: %w", err)
	}
	requests, err := ratemetrics.RequestsPerWindow(limit, cfg.Budget.RequestWeight)
	if err != nil {
		return 0, 0, fmt.Errorf("discover request weight limit: %w", err)
	}
	return requests, limit, nil
}

func newBudget(cfg config.BudgetConfig, requests int, sleeper ratemetrics.Sleeper, log *logger.Log) (ratemetrics.Budget, error) {
	if cfg.Mode == config.BudgetModeTokenBucket {
		b, err := ratemetrics.NewTokenBucketBudget(requests, cfg.Window, cfg.Burst)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := ratemetrics.NewFixedWindowBudget(requests, cfg.CoolDown,
		ratemetrics.WithSleeper(sleeper),
		ratemetrics.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RunID identifies this session in logs, manifests and object metadata.
func (s *Session) RunID() string { return s.runID }

// ExpectedRequests is the number of pages the whole run should take.
func (s *Session) ExpectedRequests() int { return s.expected }

// Budget returns the request budget shared by all symbols.
func (s *Session) Budget() ratemetrics.Budget { return s.budget }

// Progress returns the run's progress tracker.
func (s *Session) Progress() *progress.Tracker { return s.tracker }

// Run fetches, finalizes and persists every symbol. With concurrency 1 the
// symbols run one after another in configured order. A failed symbol does
// not stop its siblings; the returned error joins every symbol failure, or
// is the context error when the run was cancelled.
func (s *Session) Run(ctx context.Context) ([]SymbolResult, error) {
	started := time.Now()
	results := make([]SymbolResult, len(s.symbols))

	var g errgroup.Group
	g.SetLimit(s.cfg.Fetch.Concurrency)
	for i, symbol := range s.symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = s.runSymbol(ctx, symbol)
			return nil
		})
	}
	_ = g.Wait()
	s.tracker.Complete()

	log := s.log.WithComponent(component).WithFields(logger.Fields{"run_id": s.runID})
	logger.LogPerformanceEntry(log, component, "run", time.Since(started), logger.Fields{"symbols": len(s.symbols)})
	if stats, ok := s.budget.(*ratemetrics.FixedWindowBudget); ok {
		st := stats.Stats()
		log = log.WithFields(logger.Fields{"requests_issued": st.TotalIssued, "throttles": st.Throttles})
	}

	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("run cancelled")
		return results, err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	if len(errs) > 0 {
		log.WithFields(logger.Fields{"failed": len(errs), "retries": s.reader.Retries()}).Error("run finished with failures")
		return results, errors.Join(errs...)
	}

	log.WithFields(logger.Fields{"retries": s.reader.Retries()}).Info("run finished")
	return results, nil
}

func (s *Session) runSymbol(ctx context.Context, symbol string) SymbolResult {
	res := SymbolResult{Symbol: symbol}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	pages := s.aggregator.Series(symbol)
	if err := s.reader.FetchSymbol(ctx, symbol, pages); err != nil {
		// The aggregator keeps the fetched pages for the caller.
		res.Partial = pages
		res.Err = fmt.Errorf("fetch %s: %w", symbol, err)
		s.log.WithComponent(component).WithFields(logger.Fields{
			"symbol": symbol,
			"rows":   pages.Rows(),
			"pages":  pages.Pages(),
		}).Warn("fetch stopped early, partial series left unpersisted")
		return res
	}

	series, err := s.aggregator.Finalize(symbol)
	if err != nil {
		res.Err = err
		return res
	}
	s.aggregator.Release(symbol)
	res.Series = series

	paths, err := s.persister.Persist(ctx, series, writer.Meta{RunID: s.runID})
	res.Paths = paths
	if err != nil {
		res.Err = err
	}
	return res
}
