// Package transport implements the retry-and-credential-rotation engine
// that wraps a single adapter attempt (spec §4.2).
package transport

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taipm/llmgateway"
	"github.com/taipm/llmgateway/credential"
)

var tracer = otel.Tracer("github.com/taipm/llmgateway/transport")

// Classification is the retry-routing outcome of a failed attempt (spec
// §4.2): whether to retry on the same credential, rotate to a new one, or
// give up.
type Classification string

const (
	SameCredential Classification = "retryable_with_same_credential"
	NewCredential  Classification = "retryable_with_new_credential"
	Fatal          Classification = "fatal"
)

// Classifier turns an attempt's error into a reporting Kind (for
// AttemptRecord/RequestFailed) and a Classification (for retry routing).
// The caller supplies this; package model passes Model.classify, which maps
// the GatewayError kinds the adapters produce onto a Classification.
type Classifier func(err error) (llmgateway.Kind, Classification)

// RetryPolicy tunes the executor's backoff behavior (spec §4.2 defaults).
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      float64 // fraction, e.g. 0.25 for ±25%
}

// DefaultRetryPolicy matches the defaults named in spec §4.2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
		Jitter:      0.25,
	}
}

// backoff computes min(base*2^(n-1), max) * (1 ± jitter) for attempt n (1-based).
func (p RetryPolicy) backoff(attempt int, rng *rand.Rand) time.Duration {
	d := p.BaseBackoff << uint(attempt-1)
	if d > p.MaxBackoff || d <= 0 {
		d = p.MaxBackoff
	}
	if p.Jitter <= 0 {
		return d
	}
	delta := float64(d) * p.Jitter
	offset := (rng.Float64()*2 - 1) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		result = 0
	}
	return result
}

// failureKindFor maps the reporting Kind onto the credential store's
// narrower failure vocabulary for ReportFailure (spec §4.1/§4.2).
func failureKindFor(kind llmgateway.Kind) credential.FailureKind {
	switch kind {
	case llmgateway.KindAuthError:
		return credential.FailureAuth
	case llmgateway.KindRateLimited:
		return credential.FailureRateLimit
	default:
		return credential.FailureTransient
	}
}

// Do performs one attempt using the dispensed credential. Implementations
// are expected to build a provider request with cred injected, execute it
// over HTTP, and parse the response — all adapter concerns the executor
// itself stays agnostic to.
type Do[R any] func(ctx context.Context, cred *credential.Credential) (R, error)

// Execute runs the retry loop described in spec §4.2: acquire a credential,
// attempt, classify failures, report to the store, back off, retry — up to
// policy.MaxAttempts times. On exhaustion it returns *llmgateway.RequestFailed
// carrying the full attempt history.
func Execute[R any](
	ctx context.Context,
	store *credential.Store,
	policy RetryPolicy,
	classify Classifier,
	do Do[R],
) (R, error) {
	var zero R
	var history []llmgateway.AttemptRecord
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for n := 1; n <= policy.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return zero, llmgateway.NewGatewayError(llmgateway.KindCanceled, "", "", err)
		}

		cred, waitFor, err := store.Acquire(true)
		if err != nil {
			return zero, llmgateway.NewGatewayError(llmgateway.KindNoCredentialsAvailable, "", "", err)
		}
		if waitFor > 0 {
			if !sleepOrCancel(ctx, waitFor) {
				return zero, llmgateway.NewGatewayError(llmgateway.KindCanceled, "", "", ctx.Err())
			}
			continue
		}

		resp, attemptErr := attemptWithSpan(ctx, n, do, cred)
		if attemptErr == nil {
			store.ReportSuccess(cred)
			return resp, nil
		}

		if ctx.Err() != nil {
			return zero, llmgateway.NewGatewayError(llmgateway.KindCanceled, "", "", ctx.Err())
		}

		kind, class := classify(attemptErr)
		history = append(history, llmgateway.AttemptRecord{CredentialValue: cred.Value, Kind: kind, Err: attemptErr})

		if class == Fatal {
			return zero, attemptErr
		}

		store.ReportFailure(cred, failureKindFor(kind))

		if n == policy.MaxAttempts {
			return zero, &llmgateway.RequestFailed{Attempts: history, Last: attemptErr}
		}

		// Both retryable classes are handled alike: back off, then Acquire
		// again. Acquire keeps round-robin order over the healthy
		// credentials, so a SameCredential failure also moves on to the
		// next healthy credential whenever the pool holds more than one.
		_ = class
		if !sleepOrCancel(ctx, policy.backoff(n, rng)) {
			return zero, llmgateway.NewGatewayError(llmgateway.KindCanceled, "", "", ctx.Err())
		}
	}

	return zero, &llmgateway.RequestFailed{Attempts: history, Last: nil}
}

// attemptWithSpan wraps one do call in an OpenTelemetry span, recording the
// attempt number and outcome for distributed-tracing backends (spec §4.2's
// attempt history, surfaced as spans rather than only as AttemptRecords).
func attemptWithSpan[R any](ctx context.Context, n int, do Do[R], cred *credential.Credential) (R, error) {
	ctx, span := tracer.Start(ctx, "llmgateway.executor.attempt",
		trace.WithAttributes(attribute.Int("llmgateway.attempt", n)))
	defer span.End()

	resp, err := do(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// sleepOrCancel blocks for d or until ctx is done, returning false on
// cancellation.
func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
