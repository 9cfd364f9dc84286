package queue

import (
	"errors"
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	r := NewRetrier(0)
	failed := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		attempts int
		max      int
		want     Decision
	}{
		{"success", nil, 1, 3, Complete},
		{"permanent failure", Permanent(failed), 1, 3, Complete},
		{"wrapped permanent", Permanent(failed), 3, 3, Complete},
		{"first failure retries", failed, 1, 3, Retry},
		{"second failure retries", failed, 2, 3, Retry},
		{"budget exhausted", failed, 3, 3, Dead},
		{"over budget", failed, 4, 3, Dead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Attempts: tt.attempts, MaxAttempts: tt.max}
			if got := r.Decide(tt.err, j); got != tt.want {
				t.Fatalf("Decide = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoffDoubles(t *testing.T) {
	r := NewRetrier(2 * time.Second)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := r.Backoff(tt.attempts); got != tt.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	base := errors.New("gone")
	if !IsPermanent(Permanent(base)) {
		t.Fatal("Permanent-wrapped error not detected")
	}
	if IsPermanent(base) {
		t.Fatal("plain error detected as permanent")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}

	// Unwrap keeps the chain intact.
	if !errors.Is(Permanent(base), base) {
		t.Fatal("errors.Is broken through Permanent")
	}
}
