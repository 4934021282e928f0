package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnRecordsComponentCount(t *testing.T) {
	log := Logger()
	log.SetOutput(io.Discard)

	before := componentWarns(t, "report-test")
	log.WithComponent("report-test").Warn("something odd")
	log.WithComponent("report-test").Error("something failed")

	if got := componentWarns(t, "report-test"); got != before+1 {
		t.Fatalf("expected %d warnings, got %d", before+1, got)
	}
	errs := Snapshot()["errors"].(map[string]int64)
	if errs["report-test"] < 1 {
		t.Fatalf("expected error count to be recorded: %v", errs)
	}
}

func TestSnapshotCounters(t *testing.T) {
	base := Snapshot()
	IncrementPageFetched(500)
	IncrementThrottle()
	IncrementFileWritten(1024)

	snap := Snapshot()
	if snap["pages_fetched"].(int64) != base["pages_fetched"].(int64)+1 {
		t.Fatalf("pages_fetched not incremented: %v", snap)
	}
	if snap["rows_fetched"].(int64) != base["rows_fetched"].(int64)+500 {
		t.Fatalf("rows_fetched not incremented: %v", snap)
	}
	if snap["throttle_events"].(int64) != base["throttle_events"].(int64)+1 {
		t.Fatalf("throttle_events not incremented: %v", snap)
	}
	if snap["bytes_written"].(int64) != base["bytes_written"].(int64)+1024 {
		t.Fatalf("bytes_written not incremented: %v", snap)
	}
}

func TestLogMetricFields(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.LogMetric("reader", "pages", 3, "", Fields{"symbol": "BTCUSDT"})

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	if rec["metric"] != "pages" || rec["metric_type"] != "counter" || rec["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected metric record: %v", rec)
	}
	if rec["message"] != "metric" {
		t.Fatalf("expected message field, got %v", rec)
	}
}

func componentWarns(t *testing.T, component string) int64 {
	t.Helper()
	warns := Snapshot()["warns"].(map[string]int64)
	return warns[component]
}
