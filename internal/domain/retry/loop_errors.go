package retry

import (
	"fmt"
	"time"
)

// DeadlineExceededError is returned when the overall retry deadline
// elapses.
type DeadlineExceededError struct {
	Attempts int
	Cause    error
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("retry deadline exceeded after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *DeadlineExceededError) Unwrap() error { return e.Cause }

// AbortedError is returned when the caller cancels the loop
// cooperatively.
type AbortedError struct {
	Cause error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("retry loop aborted: %v", e.Cause)
}

func (e *AbortedError) Unwrap() error { return e.Cause }

// formatThinking renders the user-visible retry status line:
// "Rate limit (attempt N): reason; retrying in Ns (elapsed Ts); next
// attempt at HH:MM:SS".
func formatThinking(attempt int, reason string, wait, elapsed time.Duration, nextAt time.Time) string {
	return fmt.Sprintf(
		"Rate limit (attempt %d): %s; retrying in %ds (elapsed %ds); next attempt at %s",
		attempt, reason, int(wait.Seconds()), int(elapsed.Seconds()), nextAt.UTC().Format("15:04:05"),
	)
}
