package llmgateway

import (
	"errors"
	"fmt"
)

// Kind is a stable error taxonomy entry (spec §7).
type Kind string

const (
	KindConfigError            Kind = "config_error"
	KindNoCredentialsAvailable Kind = "no_credentials_available"
	KindAuthError              Kind = "auth_error"
	KindRateLimited            Kind = "rate_limited"
	KindTransientNetwork       Kind = "transient_network"
	KindServerError            Kind = "server_error"
	KindBadRequest             Kind = "bad_request"
	KindContentFiltered        Kind = "content_filtered"
	KindUnsupportedFeature     Kind = "unsupported_feature"
	KindToolExecutionFailed    Kind = "tool_execution_failed"
	KindToolLoopExhausted      Kind = "tool_loop_exhausted"
	KindParseError             Kind = "parse_error"
	KindModelNotFound          Kind = "model_not_found"
	KindCanceled               Kind = "canceled"
)

// retryableKinds are recovered by the Request Executor per spec §4.2 /
// §7 until attempts are exhausted.
var retryableKinds = map[Kind]bool{
	KindTransientNetwork: true,
	KindServerError:      true,
	KindRateLimited:      true,
	KindAuthError:        true,
}

// GatewayError is the concrete error type every public operation surfaces,
// exposing {kind, provider?, model?, attempt_count?, underlying-message,
// retryable} as spec §7 requires.
type GatewayError struct {
	Kind          Kind
	Provider      string
	Model         string
	AttemptCount  int
	Underlying    error
	RetryableHint *bool // nil means "derive from Kind"
}

// Retryable reports whether the Request Executor should retry this error.
func (e *GatewayError) Retryable() bool {
	if e.RetryableHint != nil {
		return *e.RetryableHint
	}
	return retryableKinds[e.Kind]
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.Provider != "" {
		msg += fmt.Sprintf(" provider=%s", e.Provider)
	}
	if e.Model != "" {
		msg += fmt.Sprintf(" model=%s", e.Model)
	}
	if e.AttemptCount > 0 {
		msg += fmt.Sprintf(" attempts=%d", e.AttemptCount)
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Underlying
}

// Is allows errors.Is(err, someGatewayError) to match on Kind alone, so
// callers can test `errors.Is(err, &GatewayError{Kind: KindRateLimited})`.
func (e *GatewayError) Is(target error) bool {
	var t *GatewayError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewGatewayError constructs a GatewayError, the common path for adapters
// and the executor.
func NewGatewayError(kind Kind, provider, model string, underlying error) *GatewayError {
	return &GatewayError{Kind: kind, Provider: provider, Model: model, Underlying: underlying}
}

// RequestFailed wraps the most recent classified error after the Request
// Executor exhausts its attempts, carrying the full attempt history
// (spec §4.2 step 6).
type RequestFailed struct {
	Attempts []AttemptRecord
	Last     error
}

// AttemptRecord captures one Request Executor attempt for diagnostics.
type AttemptRecord struct {
	CredentialValue string // redacted by callers before logging if needed
	Kind            Kind
	Err             error
}

func (e *RequestFailed) Error() string {
	return fmt.Sprintf("request failed after %d attempt(s): %v", len(e.Attempts), e.Last)
}

func (e *RequestFailed) Unwrap() error {
	return e.Last
}

// Sentinel kind-only errors for errors.Is-style checks without constructing
// a full GatewayError, mirroring the teacher's errors.go convention of
// exported sentinel values alongside the richer wrapped type.
var (
	ErrNoCredentialsAvailable = &GatewayError{Kind: KindNoCredentialsAvailable}
	ErrAuth                   = &GatewayError{Kind: KindAuthError}
	ErrRateLimited            = &GatewayError{Kind: KindRateLimited}
	ErrContentFiltered        = &GatewayError{Kind: KindContentFiltered}
	ErrUnsupportedFeature     = &GatewayError{Kind: KindUnsupportedFeature}
	ErrToolLoopExhausted      = &GatewayError{Kind: KindToolLoopExhausted}
	ErrModelNotFound          = &GatewayError{Kind: KindModelNotFound}
	ErrCanceled               = &GatewayError{Kind: KindCanceled}
)

// IsRateLimited reports whether err is (or wraps) a rate-limit error.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsAuthError reports whether err is (or wraps) an auth error.
func IsAuthError(err error) bool { return errors.Is(err, ErrAuth) }

// IsContentFiltered reports whether err is (or wraps) a content-filter refusal.
func IsContentFiltered(err error) bool { return errors.Is(err, ErrContentFiltered) }

// IsCanceled reports whether err is (or wraps) a cancellation.
func IsCanceled(err error) bool { return errors.Is(err, ErrCanceled) }

// WrapToolExecution wraps a tool executor's error with the tool name and
// call id, matching spec §7's ToolExecutionFailed taxonomy entry.
func WrapToolExecution(toolName, callID string, err error) error {
	return &GatewayError{
		Kind:       KindToolExecutionFailed,
		Underlying: fmt.Errorf("tool %q (call %s): %w", toolName, callID, err),
	}
}
