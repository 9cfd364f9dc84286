package queue

import (
	"errors"
	"time"
)

// DefaultBackoffBase is the base delay for exponential retry backoff.
const DefaultBackoffBase = 2 * time.Second

// Decision is the outcome of evaluating a job attempt.
type Decision int

const (
	// Complete means the job is finished and must not run again. This
	// covers success and permanent failures alike; the engine tells them
	// apart by the attempt error.
	Complete Decision = iota

	// Retry means the job should run again after backoff.
	Retry

	// Dead means the retry budget is exhausted; move to the dead letters.
	Dead
)

// permanentError marks a handler failure that retrying cannot fix
// (unknown event type, missing downstream entity).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the retrier completes the job instead of
// retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retrier decides what to do after a job attempt.
type Retrier struct {
	base time.Duration
}

// NewRetrier creates a retrier with the given backoff base. A base of 0
// selects DefaultBackoffBase.
func NewRetrier(base time.Duration) *Retrier {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	return &Retrier{base: base}
}

// Decide determines what to do with a job after an attempt.
//
//   - nil error → Complete
//   - permanent error → Complete (retrying cannot help)
//   - attempts remaining → Retry
//   - otherwise → Dead
func (r *Retrier) Decide(err error, j *Job) Decision {
	if err == nil || IsPermanent(err) {
		return Complete
	}
	if j.Attempts < j.MaxAttempts {
		return Retry
	}
	return Dead
}

// Backoff returns the delay before the next attempt: base * 2^attempts.
func (r *Retrier) Backoff(attempts int) time.Duration {
	d := r.base
	for i := 0; i < attempts; i++ {
		d *= 2
	}
	return d
}
