// Package pagination splits a time range into request-sized page windows.
package pagination

import (
	"fmt"
	"math"
	"time"

	"klineflow/internal/interval"
)

// MaxPageRowLimit is the largest number of rows the klines endpoint returns
// for a single request.
const MaxPageRowLimit = 1000

// Window is one page request covering [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// StartMillis returns Start as epoch milliseconds.
func (w Window) StartMillis() int64 { return w.Start.UnixMilli() }

// EndMillis returns End as epoch milliseconds.
func (w Window) EndMillis() int64 { return w.End.UnixMilli() }

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}

// Planner computes page windows for one interval and row limit. Windows are
// derived from the cursor alone, so paging can resume from any point.
type Planner struct {
	spec  interval.Spec
	limit int
}

// New returns a planner for spec with at most limit rows per page.
func New(spec interval.Spec, limit int) (*Planner, error) {
	if spec.Scale <= 0 {
		return nil, fmt.Errorf("pagination: interval scale must be greater than 0")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("pagination: page row limit must be greater than 0")
	}
	return &Planner{spec: spec, limit: limit}, nil
}

func (p *Planner) Interval() interval.Spec { return p.spec }

func (p *Planner) Limit() int { return p.limit }

// Next returns the window starting at cursor, clipped to end. The boolean is
// false once cursor has reached end.
func (p *Planner) Next(cursor, end time.Time) (Window, bool) {
	if !cursor.Before(end) {
		return Window{}, false
	}
	windowEnd := p.spec.Advance(cursor, p.limit)
	if windowEnd.After(end) {
		windowEnd = end
	}
	return Window{Start: cursor, End: windowEnd}, true
}

// ExpectedRequests estimates how many windows cover [start, end). It is used
// for progress reporting only.
func (p *Planner) ExpectedRequests(start, end time.Time) int {
	if !start.Before(end) {
		return 0
	}
	if !p.spec.IsCalendar() {
		span := end.Sub(start)
		windowSpan := time.Duration(p.limit) * p.spec.RowSpan()
		return int((span + windowSpan - 1) / windowSpan)
	}
	n := int(math.Ceil(p.spec.Rows(start, end) / float64(p.limit)))
	if n < 1 {
		n = 1
	}
	return n
}

// Windows returns a lazy iterator over the windows covering [start, end).
func (p *Planner) Windows(start, end time.Time) *Iterator {
	return &Iterator{planner: p, cursor: start, end: end}
}

// Iterator walks page windows one at a time without materialising them.
type Iterator struct {
	planner *Planner
	cursor  time.Time
	end     time.Time
}

// Next returns the next window and advances the cursor past it.
func (it *Iterator) Next() (Window, bool) {
	w, ok := it.planner.Next(it.cursor, it.end)
	if !ok {
		return Window{}, false
	}
	it.cursor = w.End
	return w, true
}

// Cursor is the start of the next window.
func (it *Iterator) Cursor() time.Time { return it.cursor }

// Done reports whether the range has been exhausted.
func (it *Iterator) Done() bool { return !it.cursor.Before(it.end) }
