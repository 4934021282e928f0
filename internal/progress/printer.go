package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Printer prints progress messages that overwrite the previous message in the
// terminal.
type Printer struct {
	mu  sync.Mutex
	w   io.Writer // The writer to which messages are printed
	max int       // Tracks the maximum line length that's been printed
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Update prints a message followed by a carriage return, padding with spaces
// so a longer previous message is fully cleared.
func (p *Printer) Update(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(message)
}

func (p *Printer) update(message string) {
	_, _ = fmt.Fprint(p.w, message+strings.Repeat(" ", max(0, p.max-len(message)))+"\r")

	if len(message) > p.max {
		p.max = len(message)
	}
}

// Complete prints a final message and moves to the next line.
func (p *Printer) Complete(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(message)
	_, _ = fmt.Fprintln(p.w)
}
