package pagination

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klineflow/internal/interval"
)

func utc(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewRejectsBadLimit(t *testing.T) {
	_, err := New(interval.MustParse("1m"), 0)
	require.Error(t, err)
	_, err = New(interval.Spec{}, 10)
	require.Error(t, err)
}

func TestSingleDailyWindow(t *testing.T) {
	p, err := New(interval.MustParse("1d"), MaxPageRowLimit)
	require.NoError(t, err)

	start, end := utc(2021, 1, 1), utc(2021, 1, 5)
	it := p.Windows(start, end)

	w, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, start, w.Start)
	assert.Equal(t, end, w.End)

	_, ok = it.Next()
	assert.False(t, ok)
	assert.True(t, it.Done())
	assert.Equal(t, 1, p.ExpectedRequests(start, end))
}

func TestNextIsRestartable(t *testing.T) {
	p, err := New(interval.MustParse("1h"), 10)
	require.NoError(t, err)

	start, end := utc(2021, 1, 1), utc(2021, 1, 2)
	first, ok := p.Next(start, end)
	require.True(t, ok)
	assert.Equal(t, start.Add(10*time.Hour), first.End)

	// Resuming from an arbitrary cursor only depends on that cursor.
	resumed := p.Windows(first.End, end)
	w, ok := resumed.Next()
	require.True(t, ok)
	assert.Equal(t, first.End, w.Start)
	assert.Equal(t, start.Add(20*time.Hour), w.End)

	w, ok = resumed.Next()
	require.True(t, ok)
	assert.Equal(t, end, w.End)

	_, ok = p.Next(end, end)
	assert.False(t, ok)
}

func TestWindowsCoverRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	intervals := []string{"1s", "1m", "15m", "1h", "4h", "1d", "3d"}
	base := utc(2020, 6, 1)

	for i := 0; i < 200; i++ {
		spec := interval.MustParse(intervals[rng.Intn(len(intervals))])
		limit := 1 + rng.Intn(MaxPageRowLimit)
		p, err := New(spec, limit)
		require.NoError(t, err)

		rows := 1 + rng.Intn(5*limit)
		start := base.Add(time.Duration(rng.Intn(86400)) * time.Second)
		end := spec.Advance(start, rows)
		if rng.Intn(2) == 0 && spec.Unit != interval.Day {
			end = end.Add(-time.Duration(rng.Int63n(int64(spec.RowSpan()))))
			if !end.After(start) {
				end = start.Add(time.Second)
			}
		}

		it := p.Windows(start, end)
		cursor := start
		count := 0
		for {
			w, ok := it.Next()
			if !ok {
				break
			}
			require.Equal(t, cursor, w.Start, "windows must be contiguous")
			require.True(t, w.End.After(w.Start), "windows must be non-empty")
			require.False(t, w.End.After(end), "windows must not pass end")
			cursor = w.End
			count++
		}
		require.Equal(t, end, cursor, "windows must cover the range")
		require.Equal(t, p.ExpectedRequests(start, end), count,
			"spec=%s limit=%d start=%s end=%s", spec, limit, start, end)
	}
}

func TestExpectedRequests(t *testing.T) {
	p, err := New(interval.MustParse("1m"), 1000)
	require.NoError(t, err)

	start := utc(2021, 1, 1)
	assert.Equal(t, 0, p.ExpectedRequests(start, start))
	assert.Equal(t, 1, p.ExpectedRequests(start, start.Add(time.Minute)))
	assert.Equal(t, 1, p.ExpectedRequests(start, start.Add(1000*time.Minute)))
	assert.Equal(t, 2, p.ExpectedRequests(start, start.Add(1001*time.Minute)))
	// One day of minutes: 1440 rows, two pages.
	assert.Equal(t, 2, p.ExpectedRequests(start, utc(2021, 1, 2)))
}

func TestWindowMillis(t *testing.T) {
	w := Window{Start: utc(2021, 1, 1), End: utc(2021, 1, 5)}
	assert.Equal(t, int64(1609459200000), w.StartMillis())
	assert.Equal(t, int64(1609804800000), w.EndMillis())
}
