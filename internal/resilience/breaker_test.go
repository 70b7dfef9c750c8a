package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func ok() error      { return nil }

func TestClosedPassesThrough(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	if err := b.Execute(ok); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := b.Execute(failing); !errors.Is(err, errBackend) {
		t.Errorf("Execute = %v, want backend error", err)
	}
	if b.State() != "closed" {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for range 3 {
		_ = b.Execute(failing)
	}
	if b.State() != "open" {
		t.Fatalf("state = %s, want open", b.State())
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute while open = %v, want ErrCircuitOpen", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	_ = b.Execute(failing)
	_ = b.Execute(failing)
	_ = b.Execute(ok)
	_ = b.Execute(failing)
	_ = b.Execute(failing)

	if b.State() != "closed" {
		t.Errorf("state = %s, want closed after streak was broken", b.State())
	}
}

func TestHalfOpenRecovers(t *testing.T) {
	clock := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return clock }

	_ = b.Execute(failing)
	if b.State() != "open" {
		t.Fatalf("state = %s, want open", b.State())
	}

	clock = clock.Add(time.Minute)
	if err := b.Execute(ok); err != nil {
		t.Fatalf("probe after cool-down: %v", err)
	}
	if b.State() != "closed" {
		t.Errorf("state = %s, want closed after successful probe", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return clock }

	_ = b.Execute(failing)
	clock = clock.Add(time.Minute)

	if err := b.Execute(failing); !errors.Is(err, errBackend) {
		t.Fatalf("probe = %v, want backend error", err)
	}
	if b.State() != "open" {
		t.Errorf("state = %s, want open after failed probe", b.State())
	}

	// The cool-down restarts from the failed probe.
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute = %v, want ErrCircuitOpen", err)
	}
}
