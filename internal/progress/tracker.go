// Package progress reports how far a fetch run has got, both on a terminal
// line and as metric events.
package progress

import (
	"fmt"
	"math"
	"sync"

	"klineflow/internal/metrics"
	"klineflow/logger"
)

// Reporter receives one call per successfully fetched page.
type Reporter interface {
	PageDone(symbol string)
}

// Tracker computes progress as pages done over the expected page count for
// the whole run. The expected count is an estimate, so the raw percentage can
// pass 100 near the end; Display clamps it.
type Tracker struct {
	mu         sync.Mutex
	expected   int
	done       int
	printer    *Printer
	log        *logger.Log
	lastLogged int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPrinter renders every update on p.
func WithPrinter(p *Printer) Option {
	return func(t *Tracker) { t.printer = p }
}

func WithLogger(log *logger.Log) Option {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// NewTracker returns a tracker expecting the given number of pages.
func NewTracker(expected int, opts ...Option) *Tracker {
	t := &Tracker{
		expected:   expected,
		log:        logger.GetLogger(),
		lastLogged: -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PageDone records one fetched page and publishes the new percentage.
func (t *Tracker) PageDone(symbol string) {
	t.mu.Lock()
	t.done++
	pct := t.percentLocked()
	display := clamp(pct)
	whole := int(math.Floor(display))
	shouldLog := whole != t.lastLogged
	if shouldLog {
		t.lastLogged = whole
	}
	if t.printer != nil {
		t.printer.Update(Format(display))
	}
	t.mu.Unlock()

	metrics.EmitMetric(t.log, "progress", "progress_percent", display, "gauge", logger.Fields{"unit": "percent"})
	if shouldLog {
		t.log.WithComponent("progress").WithFields(logger.Fields{
			"symbol":  symbol,
			"percent": fmt.Sprintf("%.1f", display),
		}).Info("fetch progress")
	}
}

// Percent returns the unclamped percentage.
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentLocked()
}

// Display returns the percentage clamped to [0, 100].
func (t *Tracker) Display() float64 {
	return clamp(t.Percent())
}

// Done returns the number of pages recorded.
func (t *Tracker) Done() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Complete finishes the terminal line.
func (t *Tracker) Complete() {
	if t.printer != nil {
		t.printer.Complete(Format(t.Display()))
	}
}

func (t *Tracker) percentLocked() float64 {
	if t.expected <= 0 {
		return 100
	}
	return float64(t.done) / float64(t.expected) * 100
}

// Format renders a percentage as the progress line.
func Format(pct float64) string {
	return fmt.Sprintf("%.1f%% completed. ", pct)
}

func clamp(pct float64) float64 {
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
