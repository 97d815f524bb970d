package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clubside/regbot/internal/llmloop"
	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/record"
	"github.com/clubside/regbot/internal/routine"
	"github.com/clubside/regbot/internal/session"
	"github.com/clubside/regbot/internal/tools"
)

type scriptedProvider struct {
	responses []*providers.ChatResponse
	requests  []providers.ChatRequest
}

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scriptedProvider) DefaultModel() string { return "test-model" }
func (s *scriptedProvider) Name() string         { return "scripted" }

func newTestDispatcher(t *testing.T, p providers.Provider, registry *tools.Registry) (*Dispatcher, *session.Store, *record.MemStore) {
	t.Helper()
	store := record.NewMemStore()
	store.SeedTeam("Lions", "U9", true)
	store.SeedTeam("Lions", "U10", true)
	store.SeedTeam("Lions", "U16", true)

	sessions := session.NewStore(40, time.Hour)
	locker := session.NewLocker(5 * time.Millisecond)
	cfg := llmloop.DefaultConfig()
	cfg.Retry = providers.RetryConfig{Attempts: 1, Base: time.Millisecond}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	loop := llmloop.New(p, registry, cfg)

	d := New(sessions, locker, routine.New(), store, loop, "2526")
	return d, sessions, store
}

func final(content string) *providers.ChatResponse {
	return &providers.ChatResponse{Content: content, FinishReason: "stop"}
}

func TestCodeAcceptanceStartsNewRegistration(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final(`{"agent_final_response": "Welcome! What is the parent's first and last name?", "routine_number": 1}`),
	}}
	d, sessions, _ := newTestDispatcher(t, p, nil)

	resp, err := d.Handle(context.Background(), Request{SessionID: "s1", UserMessage: "200-Lions-U10-2526"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.LastAgent != session.AgentNewRegistration {
		t.Errorf("LastAgent = %q, want new_registration", resp.LastAgent)
	}
	if resp.RoutineNumber == nil || *resp.RoutineNumber != 1 {
		t.Errorf("RoutineNumber = %v, want 1", resp.RoutineNumber)
	}
	if !strings.Contains(resp.ReplyText, "name") {
		t.Errorf("reply = %q, expected it to ask for the parent's name", resp.ReplyText)
	}

	snap, err := sessions.Snapshot("s1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Code == nil || snap.Code.Team != "lions" || !snap.Code.IsNew {
		t.Errorf("code context not persisted: %+v", snap.Code)
	}
	if snap.LastAgent != session.AgentNewRegistration {
		t.Errorf("session LastAgent = %q", snap.LastAgent)
	}

	// step 1 text was injected into the system instructions
	if len(p.requests) != 1 {
		t.Fatalf("model called %d times", len(p.requests))
	}
	sys := p.requests[0].Messages[0]
	if sys.Role != "system" || !strings.Contains(sys.Content, "parent") {
		t.Errorf("system instructions = %q", sys.Content)
	}
}

func TestReRegistrationCodeSelectsReAgent(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final(`{"agent_final_response": "Welcome back! Is your address still the same?"}`),
	}}
	d, _, _ := newTestDispatcher(t, p, nil)

	resp, err := d.Handle(context.Background(), Request{SessionID: "s2", UserMessage: "  100-lions-u9-2526  "})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.LastAgent != session.AgentReRegistration {
		t.Errorf("LastAgent = %q, want re_registration", resp.LastAgent)
	}
}

func TestPlainChatFallsBackToGeneric(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final(`{"agent_final_response": "Training is on Tuesdays."}`),
	}}
	d, _, _ := newTestDispatcher(t, p, nil)

	resp, err := d.Handle(context.Background(), Request{SessionID: "s3", UserMessage: "when is training?"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.LastAgent != session.AgentGeneric {
		t.Errorf("LastAgent = %q, want generic", resp.LastAgent)
	}
	if resp.RoutineNumber != nil {
		t.Errorf("RoutineNumber = %v, want nil", *resp.RoutineNumber)
	}
}

func TestRoutineHintContinuesFlow(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final(`{"agent_final_response": "Thanks. What is the child's date of birth?", "routine_number": 3}`),
	}}
	d, _, _ := newTestDispatcher(t, p, nil)

	step := 3
	resp, err := d.Handle(context.Background(), Request{SessionID: "s4", UserMessage: "Seb Martinez", HintRoutine: &step})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.LastAgent != session.AgentNewRegistration {
		t.Errorf("LastAgent = %q", resp.LastAgent)
	}
	if resp.RoutineNumber == nil || *resp.RoutineNumber != 3 {
		t.Errorf("RoutineNumber = %v, want 3", resp.RoutineNumber)
	}
}

func TestAgeHopReentersServerSide(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final(`{"agent_final_response": "Address confirmed.", "routine_number": 22}`),
		final(`{"agent_final_response": "Since your child is 16 or over, what is their own mobile number?", "routine_number": 23}`),
	}}
	d, sessions, _ := newTestDispatcher(t, p, nil)

	// the session is mid-registration for a U16 player
	agent := session.AgentNewRegistration
	code := &session.CodeContext{Series: "200", Team: "Lions", AgeGroup: "U16", Season: "2526", IsNew: true}
	if _, err := sessions.Get("s5"); err != nil {
		t.Fatal(err)
	}
	if err := sessions.SetContext("s5", &agent, nil, code, nil); err != nil {
		t.Fatal(err)
	}

	step := 16
	resp, err := d.Handle(context.Background(), Request{SessionID: "s5", UserMessage: "yes", HintRoutine: &step})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	// the caller sees only the follow-up step's reply
	if resp.RoutineNumber == nil || *resp.RoutineNumber != 23 {
		t.Errorf("RoutineNumber = %v, want 23", resp.RoutineNumber)
	}
	if len(p.requests) != 2 {
		t.Fatalf("model called %d times, want 2 (turn + internal hop)", len(p.requests))
	}

	// but history carries both assistant entries plus the routing note
	history, err := sessions.History("s5")
	if err != nil {
		t.Fatal(err)
	}
	var assistants, internal int
	for _, m := range history {
		if m.Role == "assistant" {
			assistants++
		}
		if m.Role == "user" && strings.Contains(m.Content, "age_group=U16") {
			internal++
		}
	}
	if assistants != 2 {
		t.Errorf("history has %d assistant entries, want 2", assistants)
	}
	if internal != 1 {
		t.Errorf("history has %d internal routing notes, want 1", internal)
	}
}

func TestConcurrentTurnRejectedAsBusy(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		final(`{"agent_final_response": "hello"}`),
	}}
	d, _, _ := newTestDispatcher(t, p, nil)

	release, err := d.Locker.Acquire("s6")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, err = d.Handle(context.Background(), Request{SessionID: "s6", UserMessage: "hi"})
	if !errors.Is(err, session.ErrSessionBusy) {
		t.Errorf("err = %v, want session_busy", err)
	}
}

func TestModelFailureLeavesRoutineUnchanged(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{final("")}} // unparseable
	d, sessions, _ := newTestDispatcher(t, p, nil)

	agent := session.AgentNewRegistration
	n := 7
	if _, err := sessions.Get("s7"); err != nil {
		t.Fatal(err)
	}
	if err := sessions.SetContext("s7", &agent, &n, nil, nil); err != nil {
		t.Fatal(err)
	}

	resp, err := d.Handle(context.Background(), Request{SessionID: "s7", UserMessage: "anything"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.RoutineNumber == nil || *resp.RoutineNumber != 7 {
		t.Errorf("RoutineNumber = %v, want unchanged 7", resp.RoutineNumber)
	}
	if !strings.Contains(resp.ReplyText, "try again") {
		t.Errorf("reply = %q, want a generic try-again message", resp.ReplyText)
	}
}

func TestResumeDetectionOverridesModelRoutineNumber(t *testing.T) {
	store := record.NewMemStore()
	store.SeedTeam("Lions", "U9", true)
	store.SeedRegistration(&record.Registration{
		BillingRequestID: "br_1",
		ParentFullName:   "Sarah Martinez",
		ChildFullName:    "Seb Martinez",
		Team:             "Lions",
		AgeGroup:         "U9",
		PlayedLastSeason: true,
		Status:           record.StatusActive,
	})
	registry := tools.NewRegistry()
	registry.Register(tools.NewCheckRecordExistsTool(store))

	// the model calls the lookup tool, then wrongly proposes step 3; the
	// engine's step-2 resume branch must win (returning player, kit
	// needed -> 32)
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID: "tc_1", Name: "check_if_record_exists_in_db",
				Arguments: map[string]interface{}{"parent_name": "Sarah Martinez", "child_name": "Seb Martinez"},
			}},
		},
		final(`{"agent_final_response": "Welcome back, Seb!", "routine_number": 3}`),
	}}

	sessions := session.NewStore(40, time.Hour)
	locker := session.NewLocker(5 * time.Millisecond)
	cfg := llmloop.DefaultConfig()
	cfg.Retry = providers.RetryConfig{Attempts: 1, Base: time.Millisecond}
	loop := llmloop.New(p, registry, cfg)
	d := New(sessions, locker, routine.New(), store, loop, "2526")

	step := 2
	resp, err := d.Handle(context.Background(), Request{SessionID: "s8", UserMessage: "Seb Martinez", HintRoutine: &step})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.RoutineNumber == nil || *resp.RoutineNumber != 32 {
		t.Errorf("RoutineNumber = %v, want 32 (kit selection, not the model's 3)", resp.RoutineNumber)
	}
}

func TestFailedValidationHoldsStep(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(tools.NewMedicalIssuesValidationTool())

	// the validation tool reports needs_followup but the model proposes
	// advancing anyway; the step must not move
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID: "tc_1", Name: "medical_issues_validation",
				Arguments: map[string]interface{}{"has_issues": true, "details": "asthma"},
			}},
		},
		final(`{"agent_final_response": "Noted, moving on.", "routine_number": 6}`),
	}}
	d, _, _ := newTestDispatcher(t, p, registry)

	step := 5
	resp, err := d.Handle(context.Background(), Request{SessionID: "s9", UserMessage: "asthma", HintRoutine: &step})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.RoutineNumber == nil || *resp.RoutineNumber != 5 {
		t.Errorf("RoutineNumber = %v, want to stay at 5", resp.RoutineNumber)
	}
}

type failingAddressProvider struct{}

func (failingAddressProvider) Lookup(ctx context.Context, postcode, house string) (string, map[string]string, string, error) {
	return "", nil, "", errors.New("provider down")
}

func (failingAddressProvider) Validate(ctx context.Context, fullAddress string) (bool, bool, error) {
	return false, false, errors.New("provider down")
}

func TestAddressLookupFailureFallsThroughToManualEntry(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(tools.NewAddressLookupTool(failingAddressProvider{}))

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID: "tc_1", Name: "address_lookup",
				Arguments: map[string]interface{}{"postcode": "BS1 4DJ", "house": "12"},
			}},
		},
		final(`{"agent_final_response": "I couldn't find that address.", "routine_number": 13}`),
	}}
	d, _, _ := newTestDispatcher(t, p, registry)

	step := 13
	resp, err := d.Handle(context.Background(), Request{SessionID: "s10", UserMessage: "12", HintRoutine: &step})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.RoutineNumber == nil || *resp.RoutineNumber != 14 {
		t.Errorf("RoutineNumber = %v, want 14 (manual entry)", resp.RoutineNumber)
	}
}
