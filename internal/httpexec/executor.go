// Package httpexec is the HTTP Executor from spec.md §4.3: every outbound
// request — search API call or artifact download — passes through a
// single breaker-check / rate-limiter-wait / timed-request / classify /
// retry pipeline so pacing, breaker state, retries and budget accounting
// apply uniformly across every provider adapter. Grounded on the teacher's
// indexer/newsnab.Client (internal/indexer/newsnab/client.go), which does
// the bare request+status-check this package generalizes into a full
// retry/backoff/breaker/budget pipeline, and on cenkalti/backoff/v4 (used
// elsewhere in the example pack, e.g. Andrew50-peripheral's go.mod) for
// the exponential-backoff-with-jitter math spec.md §4.3 step 4 specifies.
package httpexec

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tindry/heritagefetch/internal/breaker"
	"github.com/tindry/heritagefetch/internal/budget"
	"github.com/tindry/heritagefetch/internal/clockwork"
	"github.com/tindry/heritagefetch/internal/domain"
	"github.com/tindry/heritagefetch/internal/ratelimit"
)

// Settings mirrors domain.ProviderNetworkSettings; kept separate so this
// package has no import-time dependency on config shapes beyond domain.
type Settings struct {
	MaxAttempts       int
	BaseBackoffS      float64
	BackoffMultiplier float64
	MaxBackoffS       float64
	TimeoutS          float64
	SSLErrorPolicy    string
}

// Executor drives one provider's outbound requests through its limiter and
// breaker, retrying per spec.md §4.3 and feeding outcomes back to the
// breaker.
type Executor struct {
	client   *http.Client
	limiter  *ratelimit.Limiter
	breaker  *breaker.Breaker
	settings Settings
	clock    clockwork.Clock
}

func New(client *http.Client, limiter *ratelimit.Limiter, brk *breaker.Breaker, settings Settings, clock clockwork.Clock) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.Real{}
	}
	return &Executor{
		client:   client,
		limiter:  limiter,
		breaker:  brk,
		settings: settings,
		clock:    clock,
	}
}

// Do executes one logical request to completion (including retries) and
// returns the final successful *http.Response, whose Body the caller must
// close. On failure it returns one of domain's typed errors.
func (e *Executor) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := e.breaker.Allow(); err != nil {
		key := ""
		if eo, ok := err.(*breaker.ErrOpen); ok {
			key = eo.ProviderKey
		}
		return nil, &domain.CircuitOpen{ProviderKey: key}
	}

	maxAttempts := e.settings.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	insecureRetried := false
	client := e.client

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if e.settings.TimeoutS > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, time.Duration(e.settings.TimeoutS*float64(time.Second)))
		}
		resp, err := client.Do(req.WithContext(reqCtx))
		if cancel != nil {
			defer cancel()
		}

		if err != nil {
			if reqCtx.Err() == context.DeadlineExceeded {
				e.breaker.Trip()
				return nil, &domain.TimeoutErr{}
			}
			if isTLSError(err) && e.settings.SSLErrorPolicy == "retry_insecure_once" && !insecureRetried {
				insecureRetried = true
				client = insecureClientClone(client)
				attempt-- // the insecure retry is its own one-shot, not counted against max_attempts
				continue
			}
			lastErr = err
			if attempt == maxAttempts {
				e.breaker.Trip()
				return nil, &domain.Transient{Cause: err}
			}
			e.sleepBackoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			e.breaker.Success()
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			wait, ok := parseRetryAfter(resp.Header.Get("Retry-After"), e.clock.Now())
			resp.Body.Close()
			if !ok {
				wait = e.backoffDuration(attempt)
			}
			if max := time.Duration(e.settings.MaxBackoffS * float64(time.Second)); max > 0 && wait > max {
				wait = max
			}
			if attempt == maxAttempts {
				e.breaker.Trip()
				return nil, &domain.RateLimited{RetryAfterS: wait.Seconds()}
			}
			e.sleepFor(ctx, wait)
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == maxAttempts {
				e.breaker.Trip()
				return nil, &domain.Transient{Cause: statusError(resp.StatusCode)}
			}
			e.sleepBackoff(ctx, attempt)
			continue

		default:
			resp.Body.Close()
			// Not a breaker-trip failure (only 429 and exhausted 5xx/network
			// errors trip), so resolve any HALF_OPEN probe the same as a
			// success — otherwise a single 4xx during a probe leaves
			// probeInFlight set and wedges the provider open forever.
			e.breaker.Success()
			return nil, &domain.ClientError{Code: resp.StatusCode}
		}
	}

	e.breaker.Trip()
	return nil, &domain.Transient{Cause: lastErr}
}

// StreamToBudget copies src through the BudgetAccountant, truncating and
// reporting an error the instant cumulative bytes for this class exceed
// any applicable limit (spec.md §4.1 streaming rule).
func StreamToBudget(dst io.Writer, src io.Reader, class budget.Class, acct *budget.Accountant) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if werr := writeAll(dst, buf[:n]); werr != nil {
				return written, &domain.IOErr{Cause: werr}
			}
			written += int64(n)
			if err := acct.StreamChunk(class, written); err != nil {
				exceeded := err.(*budget.Exceeded)
				return written, &domain.BudgetExceeded{Class: string(exceeded.Class), Scope: exceeded.Scope}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, &domain.IOErr{Cause: rerr}
		}
	}
	acct.Account(class, written)
	return written, nil
}

func writeAll(dst io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := dst.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (e *Executor) backoffDuration(attempt int) time.Duration {
	base := e.settings.BaseBackoffS
	if base <= 0 {
		base = 1
	}
	mult := e.settings.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	d := backoff.NewExponentialBackOff()
	d.InitialInterval = time.Duration(base * float64(time.Second))
	d.Multiplier = mult
	d.RandomizationFactor = 0.1
	if e.settings.MaxBackoffS > 0 {
		d.MaxInterval = time.Duration(e.settings.MaxBackoffS * float64(time.Second))
	}
	var next time.Duration
	for i := 0; i < attempt; i++ {
		next = d.NextBackOff()
	}
	if next == backoff.Stop {
		return time.Duration(e.settings.MaxBackoffS * float64(time.Second))
	}
	return next
}

func (e *Executor) sleepBackoff(ctx context.Context, attempt int) {
	e.sleepFor(ctx, e.backoffDuration(attempt))
}

func (e *Executor) sleepFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-e.clock.After(d):
	case <-ctx.Done():
	}
}

// parseRetryAfter reports the wait the header asks for, and whether the
// header was present and parsed at all — a literal "Retry-After: 0" is a
// valid zero wait (spec.md §8) and must be distinguished from an absent or
// unparseable header, which falls back to backoffDuration instead.
func parseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.UTC().Sub(now.UTC()); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func isTLSError(err error) bool {
	// net/http wraps x509/tls failures; string match keeps this dependency-free.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "x509:") || strings.Contains(msg, "tls:") || strings.Contains(msg, "certificate")
}

// insecureClientClone returns a client identical to c except its transport's
// TLSClientConfig has InsecureSkipVerify set, for the single
// ssl_error_policy=retry_insecure_once retry (spec.md §4.3). The original
// client and its transport are left untouched so every other request keeps
// verifying certificates normally.
func insecureClientClone(c *http.Client) *http.Client {
	base, ok := c.Transport.(*http.Transport)
	if !ok || base == nil {
		if d, ok := http.DefaultTransport.(*http.Transport); ok {
			base = d
		} else {
			base = &http.Transport{}
		}
	}
	transport := base.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.InsecureSkipVerify = true

	clone := *c
	clone.Transport = transport
	return &clone
}

type statusError int

func (s statusError) Error() string {
	return "http status " + strconv.Itoa(int(s))
}

