package rate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"klineflow/logger"
)

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestFixedWindowBudgetThrottlesOncePastLimit(t *testing.T) {
	rec := &sleepRecorder{}
	const limit = 5
	b, err := NewFixedWindowBudget(limit, 30*time.Second, WithSleeper(rec.sleep))
	if err != nil {
		t.Fatalf("new budget: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < limit; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if rec.count() != 0 {
		t.Fatalf("expected no sleep within budget, got %d", rec.count())
	}
	if s := b.Stats(); s.WindowCount != limit {
		t.Fatalf("expected window count %d, got %d", limit, s.WindowCount)
	}

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("acquire past limit: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected exactly one cool down, got %d", rec.count())
	}
	if rec.calls[0] != 30*time.Second {
		t.Fatalf("unexpected cool down %s", rec.calls[0])
	}
	s := b.Stats()
	if s.WindowCount != 1 {
		t.Fatalf("expected counter reset then one request, got %d", s.WindowCount)
	}
	if s.TotalIssued != limit+1 {
		t.Fatalf("expected %d issued, got %d", limit+1, s.TotalIssued)
	}
	if s.Throttles != 1 {
		t.Fatalf("expected one throttle, got %d", s.Throttles)
	}
}

func TestFixedWindowBudgetConcurrentCallersShareLimit(t *testing.T) {
	rec := &sleepRecorder{}
	b, err := NewFixedWindowBudget(25, time.Second, WithSleeper(rec.sleep))
	if err != nil {
		t.Fatalf("new budget: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := b.Acquire(context.Background()); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	s := b.Stats()
	if s.TotalIssued != 100 {
		t.Fatalf("expected 100 issued, got %d", s.TotalIssued)
	}
	if rec.count() != 3 {
		t.Fatalf("expected 3 cool downs for 100 requests at 25 per window, got %d", rec.count())
	}
	if s.WindowCount != 25 {
		t.Fatalf("expected final window to be full, got %d", s.WindowCount)
	}
}

func TestFixedWindowBudgetCancelledDuringCoolDown(t *testing.T) {
	b, err := NewFixedWindowBudget(1, time.Hour)
	if err != nil {
		t.Fatalf("new budget: %v", err)
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if s := b.Stats(); s.TotalIssued != 1 || s.WindowCount != 1 {
		t.Fatalf("cancelled acquire must not count: %+v", s)
	}
}

func TestNewFixedWindowBudgetValidation(t *testing.T) {
	if _, err := NewFixedWindowBudget(0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewFixedWindowBudget(1, -time.Second); err == nil {
		t.Fatalf("expected error for negative cool down")
	}
}

func TestTokenBucketBudget(t *testing.T) {
	b, err := NewTokenBucketBudget(1200, time.Minute, 5)
	if err != nil {
		t.Fatalf("new token bucket: %v", err)
	}
	if b.Rate() != 20 {
		t.Fatalf("expected 20 req/s, got %v", b.Rate())
	}
	if b.Burst() != 5 {
		t.Fatalf("expected burst 5, got %d", b.Burst())
	}

	for i := 0; i < 5; i++ {
		if err := b.Acquire(context.Background()); err != nil {
			t.Fatalf("burst acquire %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Acquire(ctx); err == nil {
		t.Fatalf("expected error for cancelled context")
	}

	if _, err := NewTokenBucketBudget(10, 0, 1); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchRequestWeightLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"timezone":"UTC","serverTime":1,"rateLimits":[` +
			`{"rateLimitType":"ORDERS","interval":"SECOND","intervalNum":10,"limit":50},` +
			`{"rateLimitType":"REQUEST_WEIGHT","interval":"MINUTE","intervalNum":1,"limit":6000}],"symbols":[]}`))
	}))
	defer srv.Close()

	client := binance.NewClient("", "")
	client.BaseURL = srv.URL

	limit, err := FetchRequestWeightLimit(context.Background(), client)
	if err != nil {
		t.Fatalf("fetch limit: %v", err)
	}
	if limit != 6000 {
		t.Fatalf("expected 6000, got %d", limit)
	}

	n, err := RequestsPerWindow(limit, 2)
	if err != nil || n != 3000 {
		t.Fatalf("expected 3000 requests, got %d (%v)", n, err)
	}
}

func TestRequestsPerWindowValidation(t *testing.T) {
	if _, err := RequestsPerWindow(0, 2); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := RequestsPerWindow(1, 2); err == nil {
		t.Fatalf("expected error when weight exceeds limit")
	}
	if n, err := RequestsPerWindow(1200, 0); err != nil || n != 1200 {
		t.Fatalf("expected weight to default to 1, got %d (%v)", n, err)
	}
}

func TestReportRateLimitExceeded(t *testing.T) {
	log := logger.GetLogger()
	ReportRateLimitExceeded(log, "kline_reader", "BTCUSDT", "127.0.0.1")
}

func TestReportIPBan(t *testing.T) {
	log := logger.GetLogger()
	ReportIPBan(log, "kline_reader", "BTCUSDT", "127.0.0.1")
}

func TestDetectLimit(t *testing.T) {
	cases := []struct {
		msg  string
		rate bool
		ban  bool
	}{
		{`{"code":-1003,"msg":"Too many requests; current limit is 1200 request weight per 1 MINUTE."}`, true, false},
		{`{"code":-1003,"msg":"Way too much request weight used; IP banned until 1700000000000."}`, false, true},
		{"429 Too Many Requests", true, false},
		{"hello world", false, false},
	}
	for _, c := range cases {
		rl, ban := detectLimit(c.msg)
		if rl != c.rate {
			t.Errorf("%q: expected rateLimit %v got %v", c.msg, c.rate, rl)
		}
		if ban != c.ban {
			t.Errorf("%q: expected ipBan %v got %v", c.msg, c.ban, ban)
		}
	}
}

func TestBanUntil(t *testing.T) {
	until, ok := BanUntil("Way too much request weight used; IP banned until 1700000000000.")
	if !ok {
		t.Fatalf("expected ban timestamp")
	}
	if !until.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected ban time %s", until)
	}
	if _, ok := BanUntil("Too many requests; current limit is 1200"); ok {
		t.Fatalf("unexpected ban timestamp")
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if _, ok := RetryAfter(h); ok {
		t.Fatalf("expected no delay without header")
	}
	h.Set("Retry-After", "7")
	d, ok := RetryAfter(h)
	if !ok || d != 7*time.Second {
		t.Fatalf("expected 7s, got %s %v", d, ok)
	}
	h.Set("Retry-After", "soon")
	if _, ok := RetryAfter(h); ok {
		t.Fatalf("expected invalid header to be ignored")
	}
}

func TestExtractInts(t *testing.T) {
	got := extractInts("limit 1200 per 1 MINUTE")
	if len(got) != 2 || got[0] != 1200 || got[1] != 1 {
		t.Fatalf("unexpected ints %v", got)
	}
}
