package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llmgateway"
	"github.com/taipm/llmgateway/toolregistry"
)

func weatherRegistry(t *testing.T) *toolregistry.Registry {
	t.Helper()
	r := toolregistry.NewRegistry()
	tool := toolregistry.NewTool("get_weather", "looks up weather").
		AddParameter("location", map[string]any{"type": "string"}, true)
	require.NoError(t, r.Register(tool))
	return r
}

func TestOrchestrator_NoToolCallsReturnsImmediately(t *testing.T) {
	r := weatherRegistry(t)
	o := New(r, func(ctx context.Context, name, args string) (string, error) {
		t.Fatal("executor should not be called")
		return "", nil
	}, DefaultConfig())

	generate := func(ctx context.Context, messages []llmgateway.Message) (llmgateway.Response, error) {
		return llmgateway.Response{Text: "hello", FinishReason: llmgateway.FinishStop}, nil
	}

	resp, history, err := o.Run(context.Background(), generate, []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Len(t, history, 1)
}

func TestOrchestrator_SingleToolCallRoundTrip(t *testing.T) {
	r := weatherRegistry(t)
	o := New(r, func(ctx context.Context, name, args string) (string, error) {
		assert.Equal(t, "get_weather", name)
		var params struct{ Location string }
		require.NoError(t, json.Unmarshal([]byte(args), &params))
		return fmt.Sprintf("sunny in %s", params.Location), nil
	}, DefaultConfig())

	round := 0
	generate := func(ctx context.Context, messages []llmgateway.Message) (llmgateway.Response, error) {
		round++
		if round == 1 {
			return llmgateway.Response{
				ToolCalls:    []llmgateway.ToolCallRef{{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`}},
				FinishReason: llmgateway.FinishToolCalls,
			}, nil
		}
		// second round: assert the tool result was appended before replying
		last := messages[len(messages)-1]
		assert.Equal(t, llmgateway.RoleTool, last.Role)
		return llmgateway.Response{Text: "It's sunny in Paris.", FinishReason: llmgateway.FinishStop}, nil
	}

	resp, history, err := o.Run(context.Background(), generate, []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "weather in Paris?")})
	require.NoError(t, err)
	assert.Equal(t, "It's sunny in Paris.", resp.Text)
	assert.Equal(t, 2, round)

	// user, assistant(tool_call), tool(result)
	require.Len(t, history, 3)
	assert.Equal(t, llmgateway.RoleAssistant, history[1].Role)
	assert.Equal(t, llmgateway.RoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
}

func TestOrchestrator_ParallelCallsPreserveOriginalOrder(t *testing.T) {
	r := toolregistry.NewRegistry()
	require.NoError(t, r.Register(toolregistry.NewTool("slow", "")))
	require.NoError(t, r.Register(toolregistry.NewTool("fast", "")))

	o := New(r, func(ctx context.Context, name, args string) (string, error) {
		if name == "slow" {
			time.Sleep(20 * time.Millisecond)
		}
		return name + "-result", nil
	}, DefaultConfig())

	round := 0
	generate := func(ctx context.Context, messages []llmgateway.Message) (llmgateway.Response, error) {
		round++
		if round == 1 {
			return llmgateway.Response{
				ToolCalls: []llmgateway.ToolCallRef{
					{ID: "call_slow", Name: "slow", Arguments: `{}`},
					{ID: "call_fast", Name: "fast", Arguments: `{}`},
				},
				FinishReason: llmgateway.FinishToolCalls,
			}, nil
		}
		return llmgateway.Response{Text: "done", FinishReason: llmgateway.FinishStop}, nil
	}

	_, history, err := o.Run(context.Background(), generate, []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "go")})
	require.NoError(t, err)

	// tool-role messages must appear in call order (slow first) even
	// though "fast" finishes first.
	require.Len(t, history, 4)
	assert.Equal(t, "call_slow", history[2].ToolCallID)
	assert.Equal(t, "call_fast", history[3].ToolCallID)
}

func TestOrchestrator_InvalidArgumentsSynthesizeErrorResultInsteadOfAborting(t *testing.T) {
	r := weatherRegistry(t)
	executorCalled := int32(0)
	o := New(r, func(ctx context.Context, name, args string) (string, error) {
		atomic.AddInt32(&executorCalled, 1)
		return "should not run", nil
	}, DefaultConfig())

	round := 0
	generate := func(ctx context.Context, messages []llmgateway.Message) (llmgateway.Response, error) {
		round++
		if round == 1 {
			return llmgateway.Response{
				ToolCalls:    []llmgateway.ToolCallRef{{ID: "call_1", Name: "get_weather", Arguments: `{}`}}, // missing required "location"
				FinishReason: llmgateway.FinishToolCalls,
			}, nil
		}
		last := messages[len(messages)-1]
		assert.Contains(t, contentText(last), "error")
		return llmgateway.Response{Text: "handled the error", FinishReason: llmgateway.FinishStop}, nil
	}

	resp, _, err := o.Run(context.Background(), generate, []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "weather?")})
	require.NoError(t, err)
	assert.Equal(t, "handled the error", resp.Text)
	assert.Equal(t, int32(0), atomic.LoadInt32(&executorCalled), "invalid arguments must never reach the executor")
}

func TestOrchestrator_ExceedingMaxRoundsReturnsLastResponseByDefault(t *testing.T) {
	r := weatherRegistry(t)
	o := New(r, func(ctx context.Context, name, args string) (string, error) {
		return "ok", nil
	}, Config{MaxToolRounds: 2, RaiseOnExhaustion: false})

	generate := func(ctx context.Context, messages []llmgateway.Message) (llmgateway.Response, error) {
		return llmgateway.Response{
			ToolCalls:    []llmgateway.ToolCallRef{{ID: "call_x", Name: "get_weather", Arguments: `{"location":"Rome"}`}},
			FinishReason: llmgateway.FinishToolCalls,
		}, nil
	}

	resp, _, err := o.Run(context.Background(), generate, []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "weather?")})
	require.NoError(t, err)
	assert.Equal(t, llmgateway.FinishToolCalls, resp.FinishReason)
	assert.NotEmpty(t, resp.ToolCalls)
}

func TestOrchestrator_ExceedingMaxRoundsRaisesWhenConfigured(t *testing.T) {
	r := weatherRegistry(t)
	o := New(r, func(ctx context.Context, name, args string) (string, error) {
		return "ok", nil
	}, Config{MaxToolRounds: 1, RaiseOnExhaustion: true})

	generate := func(ctx context.Context, messages []llmgateway.Message) (llmgateway.Response, error) {
		return llmgateway.Response{
			ToolCalls:    []llmgateway.ToolCallRef{{ID: "call_x", Name: "get_weather", Arguments: `{"location":"Rome"}`}},
			FinishReason: llmgateway.FinishToolCalls,
		}, nil
	}

	_, _, err := o.Run(context.Background(), generate, []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "weather?")})
	require.Error(t, err)
	assert.ErrorIs(t, err, llmgateway.ErrToolLoopExhausted)
}

func TestOrchestrator_CancellationStopsWithoutFurtherModelRequests(t *testing.T) {
	r := weatherRegistry(t)
	var generateCalls int32
	o := New(r, func(ctx context.Context, name, args string) (string, error) {
		return "ok", nil
	}, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	generate := func(ctx context.Context, messages []llmgateway.Message) (llmgateway.Response, error) {
		atomic.AddInt32(&generateCalls, 1)
		return llmgateway.Response{Text: "should not reach here"}, nil
	}

	_, _, err := o.Run(ctx, generate, []llmgateway.Message{llmgateway.Text(llmgateway.RoleUser, "hi")})
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&generateCalls))
}

func contentText(msg llmgateway.Message) string {
	var sb string
	for _, part := range msg.Content {
		if part.Type == llmgateway.ContentToolResult && part.ToolResult != nil {
			sb += part.ToolResult.Content
		}
	}
	return sb
}
