package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError коннектор попросил подождать (ResourceExhausted, 429)
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// retryAfter пауза, которую назвал коннектор; false - решает backoff
func retryAfter(err error) (time.Duration, bool) {
	var tErr *ThrottleError
	if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
		return tErr.RetryAfter, true
	}
	return 0, false
}
