package breaker

import (
	"testing"
	"time"

	"github.com/tindry/heritagefetch/internal/clockwork"
)

func TestClosedAdmitsUntilThreshold(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	b := New("ia", 3, 10*time.Second, clock)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("unexpected ErrOpen before threshold: %v", err)
		}
		b.Trip()
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed before threshold reached", b.State())
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("unexpected ErrOpen on 3rd attempt: %v", err)
	}
	b.Trip()
	if b.State() != Open {
		t.Fatalf("state = %v, want Open after reaching threshold", b.State())
	}
}

func TestOpenRejectsUntilCooldown(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	b := New("ia", 1, 10*time.Second, clock)

	_ = b.Allow()
	b.Trip() // trips immediately, threshold=1
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	if err := b.Allow(); err == nil {
		t.Fatal("expected ErrOpen while within cooldown")
	}

	clock.Advance(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected admission into HALF_OPEN after cooldown, got %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", b.State())
	}
}

func TestHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	b := New("ia", 1, 1*time.Second, clock)
	_ = b.Allow()
	b.Trip()
	clock.Advance(2 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("first HALF_OPEN probe should be admitted: %v", err)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("second concurrent HALF_OPEN probe must be rejected")
	}
}

func TestHalfOpenSuccessClosesBreaker(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	b := New("ia", 1, 1*time.Second, clock)
	_ = b.Allow()
	b.Trip()
	clock.Advance(2 * time.Second)
	_ = b.Allow()
	b.Success()

	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed after successful probe", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("unexpected ErrOpen after reset: %v", err)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	b := New("ia", 1, 1*time.Second, clock)
	_ = b.Allow()
	b.Trip()
	clock.Advance(2 * time.Second)
	_ = b.Allow()
	b.Trip()

	if b.State() != Open {
		t.Fatalf("state = %v, want Open after failed probe", b.State())
	}
}

func TestNonTripSuccessResetsConsecutiveFailures(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	b := New("ia", 3, 10*time.Second, clock)
	_ = b.Allow()
	b.Trip()
	_ = b.Allow()
	b.Success()
	_ = b.Allow()
	b.Trip()
	_ = b.Allow()
	b.Trip()
	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed: a success in between should have reset the failure streak", b.State())
	}
}
