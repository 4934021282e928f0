package binance

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted is returned when a page window keeps failing past the
// configured retry ceiling.
var ErrRetriesExhausted = errors.New("retries exhausted")

// NonSuccessResponseError is a klines response with a status other than 200.
type NonSuccessResponseError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *NonSuccessResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("klines request failed: %s", e.Status)
	}
	return fmt.Sprintf("klines request failed: %s: %s", e.Status, e.Body)
}

// TransportError wraps a failure to complete the HTTP exchange or to decode
// its body.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("klines %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
