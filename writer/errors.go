package writer

import "fmt"

// PersistenceError reports a failed write of one symbol's output. It halts
// that symbol only.
type PersistenceError struct {
	Symbol string
	Sink   string
	Path   string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persist %s (%s): %v", e.Symbol, e.Sink, e.Err)
	}
	return fmt.Sprintf("persist %s (%s) to %s: %v", e.Symbol, e.Sink, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
