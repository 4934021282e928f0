package processor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"klineflow/internal/metrics"
	"klineflow/logger"
	"klineflow/models"
)

const component = "aggregator"

// SymbolSeries accumulates raw pages for one symbol in arrival order.
type SymbolSeries struct {
	mu     sync.Mutex
	symbol string
	pages  [][]models.Candle
	rows   int
}

// AppendPage adds one fetched page. The slice is retained, not copied.
func (s *SymbolSeries) AppendPage(candles []models.Candle) {
	if len(candles) == 0 {
		return
	}
	s.mu.Lock()
	s.pages = append(s.pages, candles)
	s.rows += len(candles)
	s.mu.Unlock()
}

func (s *SymbolSeries) Symbol() string { return s.symbol }

// Rows returns the number of raw rows accumulated so far, duplicates included.
func (s *SymbolSeries) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Pages returns the number of non-empty pages appended.
func (s *SymbolSeries) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Candles concatenates all pages in arrival order.
func (s *SymbolSeries) Candles() []models.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Candle, 0, s.rows)
	for _, p := range s.pages {
		out = append(out, p...)
	}
	return out
}

// Aggregator owns the in-memory series of every symbol in a run.
type Aggregator struct {
	mu       sync.Mutex
	interval string
	start    time.Time
	end      time.Time
	series   map[string]*SymbolSeries
	log      *logger.Log
}

// NewAggregator creates an aggregator for one interval and fetch range. The
// values are carried into every finalized series.
func NewAggregator(interval string, start, end time.Time) *Aggregator {
	log := logger.GetLogger()
	a := &Aggregator{
		interval: interval,
		start:    start,
		end:      end,
		series:   make(map[string]*SymbolSeries),
		log:      log,
	}
	log.WithComponent(component).WithFields(logger.Fields{"interval": interval}).Debug("aggregator initialized")
	return a
}

// Series returns the accumulating series for symbol, creating it on first use.
func (a *Aggregator) Series(symbol string) *SymbolSeries {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.series[symbol]
	if !ok {
		s = &SymbolSeries{symbol: symbol}
		a.series[symbol] = s
	}
	return s
}

// Finalize merges the pages of symbol into a deduplicated series sorted by
// open time, with the datetime column derived. The raw pages are kept until
// Release, so Finalize may be called again with the same result.
func (a *Aggregator) Finalize(symbol string) (*models.Series, error) {
	a.mu.Lock()
	s, ok := a.series[symbol]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no data accumulated for symbol %s", symbol)
	}

	raw := s.Candles()
	rows := Normalize(raw)
	removed := len(raw) - len(rows)

	fields := logger.Fields{"symbol": symbol}
	metrics.EmitMetric(a.log, component, "duplicates_removed", int64(removed), "counter", fields)
	a.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":             symbol,
		"raw_rows":           len(raw),
		"rows":               len(rows),
		"duplicates_removed": removed,
	}).Info("series finalized")

	return &models.Series{
		Symbol:   symbol,
		Interval: a.interval,
		Start:    a.start,
		End:      a.end,
		Rows:     rows,
	}, nil
}

// Release drops the in-memory pages of symbol.
func (a *Aggregator) Release(symbol string) {
	a.mu.Lock()
	delete(a.series, symbol)
	a.mu.Unlock()
}

// Symbols returns the symbols that currently hold accumulated data.
func (a *Aggregator) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.series))
	for sym := range a.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Normalize derives the datetime column, collapses rows sharing an open time
// to the one that arrived last and sorts ascending by open time. Applying it
// to its own output returns the same rows.
func Normalize(candles []models.Candle) []models.Row {
	index := make(map[int64]int, len(candles))
	rows := make([]models.Row, 0, len(candles))
	for _, c := range candles {
		row := models.NewRow(c)
		if i, dup := index[c.OpenTime]; dup {
			rows[i] = row
			continue
		}
		index[c.OpenTime] = len(rows)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].OpenTime < rows[j].OpenTime
	})
	return rows
}
