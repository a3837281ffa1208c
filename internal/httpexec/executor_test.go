package httpexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tindry/heritagefetch/internal/breaker"
	"github.com/tindry/heritagefetch/internal/clockwork"
	"github.com/tindry/heritagefetch/internal/domain"
	"github.com/tindry/heritagefetch/internal/ratelimit"
)

func newExecutor(t *testing.T, settings Settings) *Executor {
	t.Helper()
	clock := clockwork.Real{}
	lim := ratelimit.New(0, 0, clock)
	brk := breaker.New("test", 3, time.Second, clock)
	return New(http.DefaultClient, lim, brk, settings, clock)
}

func TestDoSucceedsOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newExecutor(t, Settings{MaxAttempts: 1, TimeoutS: 5})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := e.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
}

func TestDoReturnsClientErrorWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := newExecutor(t, Settings{MaxAttempts: 3, TimeoutS: 5, BaseBackoffS: 0.01})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := e.Do(context.Background(), req)
	if err == nil {
		t.Fatal("expected ClientError")
	}
	ce, ok := err.(*domain.ClientError)
	if !ok {
		t.Fatalf("expected *domain.ClientError, got %T: %v", err, err)
	}
	if ce.Code != 404 {
		t.Fatalf("Code = %d, want 404", ce.Code)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (4xx other than 429 must not retry)", calls)
	}
}

func TestDoRetriesThenSucceedsOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newExecutor(t, Settings{MaxAttempts: 5, TimeoutS: 5, BaseBackoffS: 0.01, BackoffMultiplier: 1.5, MaxBackoffS: 0.1})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := e.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsRetriesOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newExecutor(t, Settings{MaxAttempts: 2, TimeoutS: 5, BaseBackoffS: 0.01, MaxBackoffS: 0.05})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := e.Do(context.Background(), req)
	if err == nil {
		t.Fatal("expected Transient error after exhausting retries")
	}
	if _, ok := err.(*domain.Transient); !ok {
		t.Fatalf("expected *domain.Transient, got %T", err)
	}
}

func TestDoReturnsCircuitOpenWhenBreakerTripped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clock := clockwork.Real{}
	lim := ratelimit.New(0, 0, clock)
	brk := breaker.New("test", 1, time.Hour, clock)
	e := New(http.DefaultClient, lim, brk, Settings{MaxAttempts: 1, TimeoutS: 5, BaseBackoffS: 0.01}, clock)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := e.Do(context.Background(), req); err == nil {
		t.Fatal("expected first call to fail and trip breaker")
	}

	req2, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := e.Do(context.Background(), req2)
	if _, ok := err.(*domain.CircuitOpen); !ok {
		t.Fatalf("expected *domain.CircuitOpen on second call, got %T: %v", err, err)
	}
}

func TestParseRetryAfterDistinguishesAbsentFromZero(t *testing.T) {
	now := time.Unix(1000, 0)
	if _, ok := parseRetryAfter("", now); ok {
		t.Fatal("absent header should report ok=false")
	}
	if d, ok := parseRetryAfter("0", now); !ok || d != 0 {
		t.Fatalf(`parseRetryAfter("0") = (%v, %v), want (0, true)`, d, ok)
	}
	if d, ok := parseRetryAfter("5", now); !ok || d != 5*time.Second {
		t.Fatalf(`parseRetryAfter("5") = (%v, %v), want (5s, true)`, d, ok)
	}
	if _, ok := parseRetryAfter("not-a-date", now); ok {
		t.Fatal("unparseable header should report ok=false")
	}
}

func TestDoRetryAfterZeroDoesNotFallBackToBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newExecutor(t, Settings{MaxAttempts: 2, TimeoutS: 5, BaseBackoffS: 5, BackoffMultiplier: 2})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	start := time.Now()
	resp, err := e.Do(context.Background(), req)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if elapsed > time.Second {
		t.Fatalf("elapsed = %v, want well under the 5s backoff (Retry-After: 0 must sleep 0, not fall back to backoffDuration)", elapsed)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoResolvesHalfOpenProbeOnNonTrippingClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	clock := clockwork.NewFake(time.Unix(0, 0))
	lim := ratelimit.New(0, 0, clock)
	brk := breaker.New("test", 1, time.Second, clock)
	e := New(http.DefaultClient, lim, brk, Settings{MaxAttempts: 1, TimeoutS: 5}, clock)

	req1, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := e.Do(context.Background(), req1); err == nil {
		t.Fatal("expected first call (500) to fail and trip the breaker")
	}
	if brk.State() != breaker.Open {
		t.Fatalf("state = %v, want Open after trip", brk.State())
	}

	clock.Advance(2 * time.Second) // past cooldown, next Allow() grants the half-open probe

	req2, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := e.Do(context.Background(), req2)
	if _, ok := err.(*domain.ClientError); !ok {
		t.Fatalf("expected *domain.ClientError for the half-open probe, got %T: %v", err, err)
	}
	if brk.State() != breaker.Closed {
		t.Fatalf("state = %v, want Closed — a non-trip 4xx must resolve the half-open probe", brk.State())
	}

	req3, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := e.Do(context.Background(), req3)
	if err != nil {
		t.Fatalf("expected third call to succeed now that the breaker is closed, got %v", err)
	}
	resp.Body.Close()
}

func TestDoRetriesInsecureOnceOnTLSError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newExecutor(t, Settings{MaxAttempts: 1, TimeoutS: 5, SSLErrorPolicy: "retry_insecure_once"})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := e.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("expected the insecure retry to succeed against a self-signed cert, got %v", err)
	}
	resp.Body.Close()
}

func TestDoFailsOnTLSErrorWithoutInsecurePolicy(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newExecutor(t, Settings{MaxAttempts: 1, TimeoutS: 5})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := e.Do(context.Background(), req); err == nil {
		t.Fatal("expected a certificate error without ssl_error_policy=retry_insecure_once")
	}
}
