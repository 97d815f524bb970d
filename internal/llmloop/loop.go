// Package llmloop drives the reliable model-call round-trip: it builds the
// prompt from an agent's instructions and a session's history, invokes a
// provider, drains any tool-call rounds through a tools.Registry, and
// parses the model's final structured response. Retries use the same
// exponential-backoff helper the providers package exposes.
package llmloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/tools"
)

// FailureKind classifies a non-final outcome of Loop.Run.
type FailureKind string

const (
	FailureModelCall  FailureKind = "model_call_failed"
	FailureUnparsable FailureKind = "unparseable_response"
	FailureMaxAttempts FailureKind = "max_attempts"
	FailureToolLoop   FailureKind = "tool_loop"
)

// Failure is the typed error Loop.Run returns when it cannot produce a
// final reply.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Err)
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// ToolOutcome records one tool call executed during the round-trip, in
// execution order, so the caller can branch on what the tools actually
// returned rather than on the model's narration of them.
type ToolOutcome struct {
	Name   string
	Result *tools.Result
}

// Reply is the final structured response from a successful round-trip.
type Reply struct {
	AgentFinalResponse string
	RoutineNumber      *int // nil when the model didn't emit one
	ToolOutcomes       []ToolOutcome
}

// Config parameterizes one Loop.
type Config struct {
	MaxToolRounds int           // default 8
	Retry         providers.RetryConfig
	PerAttempt    time.Duration // per-attempt model-call deadline, default 30s
	TurnDeadline  time.Duration // whole-turn deadline, default 120s
}

func DefaultConfig() Config {
	return Config{
		MaxToolRounds: 8,
		Retry:         providers.DefaultRetryConfig(),
		PerAttempt:    30 * time.Second,
		TurnDeadline:  120 * time.Second,
	}
}

// Loop is the reusable model-call loop for one provider + tool registry.
type Loop struct {
	Provider providers.Provider
	Tools    *tools.Registry
	Config   Config
}

func New(provider providers.Provider, registry *tools.Registry, cfg Config) *Loop {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 8
	}
	if cfg.PerAttempt <= 0 {
		cfg.PerAttempt = 30 * time.Second
	}
	if cfg.TurnDeadline <= 0 {
		cfg.TurnDeadline = 120 * time.Second
	}
	return &Loop{Provider: provider, Tools: registry, Config: cfg}
}

// Run executes the full round-trip: send
// instructions + history + the agent's allowed tool schemas, drain tool
// calls through the registry (appending each outcome to history via
// appendTool), and parse the model's final content block. The whole call
// is bounded by Config.TurnDeadline; transient model-call errors retry
// with exponential backoff.
func (l *Loop) Run(ctx context.Context, instructions string, history []providers.Message, allowedTools []string, appendTool func(providers.Message)) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, l.Config.TurnDeadline)
	defer cancel()

	toolDefs := l.Tools.ProviderDefs(allowedTools)
	msgs := make([]providers.Message, 0, len(history)+1)
	msgs = append(msgs, providers.Message{Role: "system", Content: instructions})
	msgs = append(msgs, history...)

	var outcomes []ToolOutcome
	for round := 0; round < l.Config.MaxToolRounds; round++ {
		resp, err := l.callModel(ctx, msgs, toolDefs)
		if err != nil {
			var f *Failure
			if errors.As(err, &f) {
				return nil, f
			}
			return nil, &Failure{Kind: FailureModelCall, Err: err}
		}

		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			reply, perr := parseFinal(resp.Content)
			if perr != nil {
				return nil, &Failure{Kind: FailureUnparsable, Err: perr}
			}
			reply.ToolOutcomes = outcomes
			return reply, nil
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		msgs = append(msgs, assistantMsg)
		if appendTool != nil {
			appendTool(assistantMsg)
		}

		for _, call := range resp.ToolCalls {
			result := l.Tools.ExecuteWithContext(ctx, call.Name, call.Arguments)
			outcomes = append(outcomes, ToolOutcome{Name: call.Name, Result: result})
			summary := result.Summary(call.Name)
			slog.Info("tool executed", "tool", call.Name, "ok", !result.IsError, "kind", result.Kind)

			toolMsg := providers.Message{Role: "tool", Content: summary, ToolCallID: call.ID}
			msgs = append(msgs, toolMsg)
			if appendTool != nil {
				appendTool(toolMsg)
			}
		}
	}

	return nil, &Failure{Kind: FailureToolLoop, Err: fmt.Errorf("exceeded %d tool rounds", l.Config.MaxToolRounds)}
}

// callModel invokes the provider once per attempt under RetryDo, bounding
// each individual attempt by Config.PerAttempt.
func (l *Loop) callModel(ctx context.Context, msgs []providers.Message, toolDefs []providers.ToolDefinition) (*providers.ChatResponse, error) {
	return providers.RetryDo(ctx, l.Config.Retry, func() (*providers.ChatResponse, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, l.Config.PerAttempt)
		defer cancel()
		return l.Provider.Chat(attemptCtx, providers.ChatRequest{Messages: msgs, Tools: toolDefs})
	})
}

// parseFinal implements the three-stage structured-response
// parsing: nested JSON object, flat text field re-parsed the same way, or
// raw text as a last resort.
func parseFinal(content string) (*Reply, error) {
	if reply, ok := tryParseStructured(content); ok {
		return reply, nil
	}

	var flat struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &flat); err == nil && flat.Text != "" {
		if reply, ok := tryParseStructured(flat.Text); ok {
			return reply, nil
		}
	}

	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}
	return &Reply{AgentFinalResponse: content}, nil
}

func tryParseStructured(s string) (*Reply, bool) {
	var parsed struct {
		AgentFinalResponse string `json:"agent_final_response"`
		RoutineNumber      *int   `json:"routine_number,omitempty"`
	}
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, false
	}
	if parsed.AgentFinalResponse == "" {
		return nil, false
	}
	return &Reply{AgentFinalResponse: parsed.AgentFinalResponse, RoutineNumber: parsed.RoutineNumber}, true
}
