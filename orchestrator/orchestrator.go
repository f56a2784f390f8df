// Package orchestrator implements the multi-turn tool-calling loop (spec
// §4.4): detect tool calls in a response, validate and dispatch them
// concurrently, append results, and re-invoke the model until a terminal
// response is produced or max_tool_rounds is exceeded.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/taipm/llmgateway"
	"github.com/taipm/llmgateway/toolregistry"
)

// Generator issues one model request for the accumulated message history.
// The orchestrator takes this as a closure rather than importing a Model
// type directly, keeping the dependency order adapter/executor → model →
// orchestrator one-way (model.Model wires this up as transport.Execute plus
// an adapter's BuildRequest/ParseResponse).
type Generator func(ctx context.Context, messages []llmgateway.Message) (llmgateway.Response, error)

// ToolExecutor is the caller-supplied contract from spec §4.4: given a tool
// name and its raw JSON arguments object, return a result string or an
// error. The orchestrator never interprets the result beyond passing it
// back to the model as a tool-role message.
type ToolExecutor func(ctx context.Context, name string, arguments string) (string, error)

// Config tunes the loop's bounds.
type Config struct {
	// MaxToolRounds caps how many times the orchestrator will dispatch
	// tool calls and re-invoke the model before giving up (spec §4.4 step
	// 4 default: 5).
	MaxToolRounds int

	// RaiseOnExhaustion, when true, returns ErrToolLoopExhausted once
	// MaxToolRounds is exceeded instead of returning the last response
	// with its unresolved tool calls attached (spec §4.4 step 4 names
	// both behaviors as valid "per caller preference").
	RaiseOnExhaustion bool
}

// DefaultConfig matches spec §4.4's named default.
func DefaultConfig() Config {
	return Config{MaxToolRounds: 5, RaiseOnExhaustion: false}
}

// Orchestrator runs the tool-calling loop described in spec §4.4.
type Orchestrator struct {
	tools *toolregistry.Registry
	exec  ToolExecutor
	cfg   Config
}

// New builds an Orchestrator. tools supplies ToolDefinitions/argument
// validation; exec dispatches validated calls.
func New(tools *toolregistry.Registry, exec ToolExecutor, cfg Config) *Orchestrator {
	return &Orchestrator{tools: tools, exec: exec, cfg: cfg}
}

// Run drives the loop starting from messages, returning the terminal
// Response and the full message history (including every tool round),
// so a caller can continue the conversation afterward.
func (o *Orchestrator) Run(ctx context.Context, generate Generator, messages []llmgateway.Message) (llmgateway.Response, []llmgateway.Message, error) {
	history := append([]llmgateway.Message(nil), messages...)
	round := 0

	for {
		if err := ctx.Err(); err != nil {
			return llmgateway.Response{}, history, llmgateway.NewGatewayError(llmgateway.KindCanceled, "", "", err)
		}

		resp, err := generate(ctx, history)
		if err != nil {
			return resp, history, err
		}

		if len(resp.ToolCalls) == 0 {
			return resp, history, nil
		}

		round++
		if round > o.cfg.MaxToolRounds {
			if o.cfg.RaiseOnExhaustion {
				return resp, history, llmgateway.ErrToolLoopExhausted
			}
			return resp, history, nil
		}

		history = append(history, assistantToolCallMessage(resp))

		results := o.dispatch(ctx, resp.ToolCalls)
		if ctx.Err() != nil {
			return resp, history, llmgateway.NewGatewayError(llmgateway.KindCanceled, "", "", ctx.Err())
		}

		for _, r := range results {
			history = append(history, llmgateway.ToolResultMessage(r.callID, r.content))
		}
	}
}

// assistantToolCallMessage rebuilds the assistant turn that carried the
// tool calls, preserving the provider-issued call IDs unchanged so the
// subsequent tool-role messages can reference them (spec §4.4 step 3).
func assistantToolCallMessage(resp llmgateway.Response) llmgateway.Message {
	msg := llmgateway.Message{Role: llmgateway.RoleAssistant}
	if resp.Text != "" {
		msg.Content = append(msg.Content, llmgateway.ContentPart{Type: llmgateway.ContentText, Text: resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		tc := tc
		msg.Content = append(msg.Content, llmgateway.ContentPart{Type: llmgateway.ContentToolCall, ToolCall: &tc})
	}
	return msg
}

type toolOutcome struct {
	callID  string
	content string
}

// dispatch runs every call in resp concurrently (spec §4.4 "Parallel tool
// calls") and returns outcomes in the original call order regardless of
// completion order. Argument-schema failures synthesize an error tool
// result instead of aborting the round (spec §4.4 step 3), and a panicking
// executor becomes an error result for its own call. If ctx is canceled
// first, dispatch returns without waiting for the outstanding calls and the
// caller discards the outcomes.
func (o *Orchestrator) dispatch(ctx context.Context, calls []llmgateway.ToolCallRef) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llmgateway.ToolCallRef) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = toolOutcome{callID: call.ID, content: errorToolResult(
						llmgateway.WrapToolExecution(call.Name, call.ID, fmt.Errorf("panic: %v", r)))}
				}
			}()
			outcomes[i] = o.runOne(ctx, call)
		}(i, call)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return outcomes
}

func (o *Orchestrator) runOne(ctx context.Context, call llmgateway.ToolCallRef) toolOutcome {
	if o.tools != nil {
		if err := o.tools.Validate(call.Name, call.Arguments); err != nil {
			return toolOutcome{callID: call.ID, content: errorToolResult(err)}
		}
	}

	if err := ctx.Err(); err != nil {
		return toolOutcome{callID: call.ID, content: errorToolResult(err)}
	}

	result, err := o.exec(ctx, call.Name, call.Arguments)
	if err != nil {
		return toolOutcome{callID: call.ID, content: errorToolResult(llmgateway.WrapToolExecution(call.Name, call.ID, err))}
	}
	return toolOutcome{callID: call.ID, content: result}
}

// errorToolResult renders a tool-round failure as the content string sent
// back to the model, rather than as a Go error, since the model only ever
// sees tool-role message text.
func errorToolResult(err error) string {
	return fmt.Sprintf(`{"error":%q}`, err.Error())
}
