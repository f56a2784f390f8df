package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmgateway"
	"github.com/taipm/llmgateway/credential"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, Jitter: 0}
}

var errBoom = errors.New("boom")

func classifyAlwaysTransientNewCredential(err error) (llmgateway.Kind, Classification) {
	return llmgateway.KindTransientNetwork, NewCredential
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	store := credential.NewStore("p", []string{"A"}, credential.DefaultCooldownPolicy())
	calls := 0
	resp, err := Execute(context.Background(), store, fastPolicy(), classifyAlwaysTransientNewCredential,
		func(ctx context.Context, cred *credential.Credential) (string, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, 1, calls)
}

func TestExecute_RotatesCredentialOnFailure(t *testing.T) {
	store := credential.NewStore("p", []string{"A", "B"}, credential.DefaultCooldownPolicy())
	var used []string
	resp, err := Execute(context.Background(), store, fastPolicy(), classifyAlwaysTransientNewCredential,
		func(ctx context.Context, cred *credential.Credential) (string, error) {
			used = append(used, cred.Value)
			if cred.Value == "A" {
				return "", errBoom
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, []string{"A", "B"}, used)
}

func TestExecute_ExhaustsAttemptsReturnsRequestFailed(t *testing.T) {
	store := credential.NewStore("p", []string{"A"}, credential.DefaultCooldownPolicy())
	policy := fastPolicy()
	policy.MaxAttempts = 2

	_, err := Execute(context.Background(), store, policy, classifyAlwaysTransientNewCredential,
		func(ctx context.Context, cred *credential.Credential) (string, error) {
			return "", errBoom
		})
	require.Error(t, err)
	var failed *llmgateway.RequestFailed
	require.ErrorAs(t, err, &failed)
	assert.Len(t, failed.Attempts, 2)
}

func TestExecute_FatalStopsImmediately(t *testing.T) {
	store := credential.NewStore("p", []string{"A"}, credential.DefaultCooldownPolicy())
	calls := 0
	_, err := Execute(context.Background(), store, fastPolicy(),
		func(err error) (llmgateway.Kind, Classification) { return llmgateway.KindBadRequest, Fatal },
		func(ctx context.Context, cred *credential.Credential) (string, error) {
			calls++
			return "", errBoom
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBoom)
}

func TestExecute_AuthFailureDisablesCredentialForNextAttempt(t *testing.T) {
	store := credential.NewStore("p", []string{"A", "B"}, credential.DefaultCooldownPolicy())
	classify := func(err error) (llmgateway.Kind, Classification) {
		return llmgateway.KindAuthError, NewCredential
	}
	var used []string
	_, err := Execute(context.Background(), store, fastPolicy(), classify,
		func(ctx context.Context, cred *credential.Credential) (string, error) {
			used = append(used, cred.Value)
			if cred.Value == "A" {
				return "", errBoom
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, used)

	stats := store.Stats()
	for _, s := range stats {
		if s.Value == "A" {
			assert.Equal(t, credential.StatusDisabled, s.Status)
		}
	}
}

func TestExecute_CanceledContextStopsLoop(t *testing.T) {
	store := credential.NewStore("p", []string{"A"}, credential.DefaultCooldownPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, store, fastPolicy(), classifyAlwaysTransientNewCredential,
		func(ctx context.Context, cred *credential.Credential) (string, error) {
			return "", errBoom
		})
	require.Error(t, err)
	var gwErr *llmgateway.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, llmgateway.KindCanceled, gwErr.Kind)
}
