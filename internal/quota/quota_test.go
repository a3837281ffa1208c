package quota

import (
	"testing"
	"time"

	"github.com/tindry/heritagefetch/internal/clockwork"
)

func TestAllowUnlimitedWhenDailyLimitZero(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	l := New(clock)
	for i := 0; i < 1000; i++ {
		if !l.Allow("ia", 0, time.Hour) {
			t.Fatalf("expected unlimited allow, denied at i=%d", i)
		}
		l.RecordUse("ia", time.Hour)
	}
}

func TestAllowDeniesAtDailyLimit(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	l := New(clock)
	for i := 0; i < 3; i++ {
		if !l.Allow("ia", 3, time.Hour) {
			t.Fatalf("unexpected deny before limit at i=%d", i)
		}
		l.RecordUse("ia", time.Hour)
	}
	if l.Allow("ia", 3, time.Hour) {
		t.Fatal("expected deny once used_today reaches daily_limit")
	}
}

func TestWindowResetsAfterInterval(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	l := New(clock)
	l.RecordUse("ia", time.Hour)
	l.RecordUse("ia", time.Hour)
	if l.Allow("ia", 2, time.Hour) {
		t.Fatal("expected deny at limit before window advances")
	}

	clock.Advance(2 * time.Hour)
	if !l.Allow("ia", 2, time.Hour) {
		t.Fatal("expected allow after window reset")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	l := New(clock)
	l.RecordUse("ia", time.Hour)
	snap := l.Snapshot()

	l2 := New(clock)
	l2.LoadSnapshot(snap)
	if l2.Allow("ia", 1, time.Hour) {
		t.Fatal("expected restored ledger to deny once used_today already at limit")
	}
}

func TestResetAtAdvancesFromWindowStart(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(0, 0))
	l := New(clock)
	at := l.ResetAt("ia", time.Hour)
	want := clock.Now().Add(time.Hour)
	if !at.Equal(want) {
		t.Fatalf("ResetAt = %v, want %v", at, want)
	}
}
