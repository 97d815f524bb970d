package llmloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/tools"
)

// scriptedProvider replays a fixed sequence of responses/errors, standing
// in for the model so tests are deterministic.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	errs      []error
	calls     int
}

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	return s.responses[i], nil
}

func (s *scriptedProvider) DefaultModel() string { return "test-model" }
func (s *scriptedProvider) Name() string         { return "scripted" }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = providers.RetryConfig{Attempts: 3, Base: time.Millisecond}
	return cfg
}

func final(content string) *providers.ChatResponse {
	return &providers.ChatResponse{Content: content, FinishReason: "stop"}
}

func TestRunStructuredReply(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final(`{"agent_final_response": "What is your name?", "routine_number": 2}`),
	}}
	loop := New(p, tools.NewRegistry(), fastConfig())

	reply, err := loop.Run(context.Background(), "instructions", nil, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.AgentFinalResponse != "What is your name?" {
		t.Errorf("AgentFinalResponse = %q", reply.AgentFinalResponse)
	}
	if reply.RoutineNumber == nil || *reply.RoutineNumber != 2 {
		t.Errorf("RoutineNumber = %v, want 2", reply.RoutineNumber)
	}
}

func TestRunFlatWireShape(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final(`{"text": "{\"agent_final_response\": \"Thanks!\", \"routine_number\": 5}"}`),
	}}
	loop := New(p, tools.NewRegistry(), fastConfig())

	reply, err := loop.Run(context.Background(), "instructions", nil, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.AgentFinalResponse != "Thanks!" || reply.RoutineNumber == nil || *reply.RoutineNumber != 5 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestRunRawTextFallback(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final("just plain prose"),
	}}
	loop := New(p, tools.NewRegistry(), fastConfig())

	reply, err := loop.Run(context.Background(), "instructions", nil, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.AgentFinalResponse != "just plain prose" {
		t.Errorf("AgentFinalResponse = %q", reply.AgentFinalResponse)
	}
	if reply.RoutineNumber != nil {
		t.Errorf("RoutineNumber = %v, want nil", *reply.RoutineNumber)
	}
}

func TestRunDrainsToolCalls(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(tools.NewPersonNameValidationTool())

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID: "tc_1", Name: "person_name_validation",
				Arguments: map[string]interface{}{"name": "Sarah Martinez"},
			}},
		},
		final(`{"agent_final_response": "Got it, Sarah.", "routine_number": 2}`),
	}}
	loop := New(p, registry, fastConfig())

	var recorded []providers.Message
	appendTool := func(m providers.Message) { recorded = append(recorded, m) }

	reply, err := loop.Run(context.Background(), "instructions", nil, []string{"person_name_validation"}, appendTool)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.AgentFinalResponse != "Got it, Sarah." {
		t.Errorf("AgentFinalResponse = %q", reply.AgentFinalResponse)
	}
	if p.calls != 2 {
		t.Errorf("model called %d times, want 2", p.calls)
	}
	if len(reply.ToolOutcomes) != 1 || reply.ToolOutcomes[0].Name != "person_name_validation" || reply.ToolOutcomes[0].Result.IsError {
		t.Errorf("tool outcomes = %+v", reply.ToolOutcomes)
	}

	// the assistant tool-call turn and the tool result are both recorded
	if len(recorded) != 2 {
		t.Fatalf("recorded %d messages, want 2: %+v", len(recorded), recorded)
	}
	if recorded[1].Role != "tool" || recorded[1].ToolCallID != "tc_1" {
		t.Errorf("tool message = %+v", recorded[1])
	}
	if want := "tool=person_name_validation status=ok"; len(recorded[1].Content) < len(want) || recorded[1].Content[:len(want)] != want {
		t.Errorf("tool summary = %q", recorded[1].Content)
	}
}

func TestRunToolLoopCap(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(tools.NewPersonNameValidationTool())

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID: "tc_1", Name: "person_name_validation",
				Arguments: map[string]interface{}{"name": "Sarah Martinez"},
			}},
		},
	}}
	cfg := fastConfig()
	cfg.MaxToolRounds = 3
	loop := New(p, registry, cfg)

	_, err := loop.Run(context.Background(), "instructions", nil, []string{"person_name_validation"}, nil)
	var f *Failure
	if !errors.As(err, &f) || f.Kind != FailureToolLoop {
		t.Fatalf("err = %v, want tool_loop failure", err)
	}
	if p.calls != 3 {
		t.Errorf("model called %d times, want 3", p.calls)
	}
}

func TestRunRetriesTransientErrors(t *testing.T) {
	transient := &providers.APIError{StatusCode: 500, Retryable: true, Err: errors.New("upstream hiccup")}
	p := &scriptedProvider{
		errs:      []error{transient, transient, nil},
		responses: []*providers.ChatResponse{nil, nil, final(`{"agent_final_response": "ok"}`)},
	}
	loop := New(p, tools.NewRegistry(), fastConfig())

	reply, err := loop.Run(context.Background(), "instructions", nil, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.AgentFinalResponse != "ok" {
		t.Errorf("reply = %+v", reply)
	}
	if p.calls != 3 {
		t.Errorf("model called %d times, want 3", p.calls)
	}
}

func TestRunNonRetryableFailsFast(t *testing.T) {
	fatal := &providers.APIError{StatusCode: 401, Retryable: false, Err: errors.New("bad key")}
	p := &scriptedProvider{
		errs:      []error{fatal},
		responses: []*providers.ChatResponse{nil},
	}
	loop := New(p, tools.NewRegistry(), fastConfig())

	_, err := loop.Run(context.Background(), "instructions", nil, nil, nil)
	var f *Failure
	if !errors.As(err, &f) || f.Kind != FailureModelCall {
		t.Fatalf("err = %v, want model_call_failed", err)
	}
	if p.calls != 1 {
		t.Errorf("model called %d times, want 1 (no retry on auth failure)", p.calls)
	}
}

func TestRunEmptyContentUnparseable(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{final("")}}
	loop := New(p, tools.NewRegistry(), fastConfig())

	_, err := loop.Run(context.Background(), "instructions", nil, nil, nil)
	var f *Failure
	if !errors.As(err, &f) || f.Kind != FailureUnparsable {
		t.Fatalf("err = %v, want unparseable_response", err)
	}
}
