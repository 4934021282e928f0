package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestPrinter_UpdateIncreasesMaxLength(t *testing.T) {
	var buf bytes.Buffer
	pp := NewPrinter(&buf)

	for _, msg := range []string{"Short", "This is a longer message"} {
		pp.Update(msg)
		if pp.max != len(msg) {
			t.Errorf("After Update(%q), max = %d; want %d", msg, pp.max, len(msg))
		}
	}
}

func TestPrinter_UpdatePrintsOutput(t *testing.T) {
	var buf bytes.Buffer
	pp := NewPrinter(&buf)

	pp.Update("First")
	if out := buf.String(); out != "First\r" {
		t.Errorf("unexpected output: %q", out)
	}

	pp.Update("Second message")
	if out := buf.String(); out != "First\rSecond message\r" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestPrinter_PreviousUpdatesAreOverwritten(t *testing.T) {
	var buf bytes.Buffer
	pp := NewPrinter(&buf)

	pp.Update("Longer message")
	pp.Complete("Short")
	out := buf.String()

	if !strings.Contains(out, "Short"+strings.Repeat(" ", len("Longer message")-len("Short"))+"\r\n") {
		t.Errorf("expected padded final line, got: %q", out)
	}
}

func TestTrackerPercent(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker(4, WithPrinter(NewPrinter(&buf)))

	tr.PageDone("BTCUSDT")
	if got := tr.Percent(); got != 25 {
		t.Fatalf("expected 25%%, got %v", got)
	}
	if !strings.HasPrefix(buf.String(), "25.0% completed. \r") {
		t.Fatalf("unexpected progress line %q", buf.String())
	}

	for i := 0; i < 4; i++ {
		tr.PageDone("BTCUSDT")
	}
	if got := tr.Percent(); got != 125 {
		t.Fatalf("expected raw percentage to pass 100, got %v", got)
	}
	if got := tr.Display(); got != 100 {
		t.Fatalf("expected display clamp at 100, got %v", got)
	}
	if !strings.HasSuffix(buf.String(), "100.0% completed. \r") {
		t.Fatalf("expected clamped progress line, got %q", buf.String())
	}

	tr.Complete()
	if !strings.HasSuffix(buf.String(), "\r\n") {
		t.Fatalf("expected newline after completion, got %q", buf.String())
	}
}

func TestTrackerMonotonicUnderConcurrency(t *testing.T) {
	tr := NewTracker(100)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				tr.PageDone("ETHUSDT")
			}
		}()
	}
	wg.Wait()

	if tr.Done() != 100 {
		t.Fatalf("expected 100 pages, got %d", tr.Done())
	}
	if tr.Display() != 100 {
		t.Fatalf("expected 100%%, got %v", tr.Display())
	}
}

func TestTrackerZeroExpected(t *testing.T) {
	tr := NewTracker(0)
	if tr.Display() != 100 {
		t.Fatalf("expected empty run to report complete")
	}
}

func TestFormat(t *testing.T) {
	if got := Format(33.333); got != "33.3% completed. " {
		t.Fatalf("unexpected format %q", got)
	}
}
