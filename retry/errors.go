package retry

import (
	"fmt"
	"strings"
)

// MultiError aggregates the error of every attempt. It unwraps to the last one.
type MultiError struct {
	Errors   []error
	Attempts int
}

func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "retry failed: no errors"
	}
	return e.Errors[len(e.Errors)-1].Error()
}

func (e *MultiError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

// AllErrors lists every attempt, one per line.
func (e *MultiError) AllErrors() string {
	var b strings.Builder
	fmt.Fprintf(&b, "retry failed after %d attempts:", e.Attempts)
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "\n  attempt %d: %v", i+1, err)
	}
	return b.String()
}
