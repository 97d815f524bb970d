// Package dispatch implements the chat endpoint's per-turn orchestration
// (C7): classify the turn, resolve an agent variant and its effective
// instructions, drive one model round-trip, and persist the outcome back
// to the session.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clubside/regbot/internal/agentdef"
	"github.com/clubside/regbot/internal/llmloop"
	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/record"
	"github.com/clubside/regbot/internal/regcode"
	"github.com/clubside/regbot/internal/routine"
	"github.com/clubside/regbot/internal/session"
)

// stepAgeHop is the routine's server-internal re-entry step.
const stepAgeHop = 22

// Request is one chat turn as received from the HTTP surface.
type Request struct {
	SessionID      string
	UserMessage    string
	HintRoutine    *int
	HintLastAgent  session.LastAgent
}

// Response is the dispatcher's reply, shaped for the /chat JSON body.
type Response struct {
	ReplyText     string
	LastAgent     session.LastAgent
	RoutineNumber *int
}

// Dispatcher ties the session store, routine engine, registration-code
// parser, record store, and model loop together for one turn.
type Dispatcher struct {
	Sessions      *session.Store
	Locker        *session.Locker
	Routine       *routine.Engine
	Records       record.Store
	Loop          *llmloop.Loop
	CurrentSeason string
}

func New(sessions *session.Store, locker *session.Locker, routineEngine *routine.Engine, records record.Store, loop *llmloop.Loop, currentSeason string) *Dispatcher {
	return &Dispatcher{
		Sessions:      sessions,
		Locker:        locker,
		Routine:       routineEngine,
		Records:       records,
		Loop:          loop,
		CurrentSeason: currentSeason,
	}
}

// Handle runs one full chat turn. The session lock is acquired
// here and held across the model round-trip so turns stay serialized.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (*Response, error) {
	release, err := d.Locker.Acquire(req.SessionID)
	if err != nil {
		return nil, err // session.ErrSessionBusy
	}
	defer release()

	resp, err := d.runTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	// A routine_number of 22 means the engine produced a
	// server-internal routing note; re-enter immediately with a
	// synthesized message so the age hop resolves within this request.
	if resp.RoutineNumber != nil && *resp.RoutineNumber == stepAgeHop {
		snap, snapErr := d.Sessions.Snapshot(req.SessionID)
		ageGroup := ""
		if snapErr == nil && snap.Code != nil {
			ageGroup = snap.Code.AgeGroup
		}
		internal := fmt.Sprintf("[internal routing: age_group=%s]", ageGroup)
		next := stepAgeHop
		follow, err := d.runTurn(ctx, Request{SessionID: req.SessionID, UserMessage: internal, HintRoutine: &next})
		if err != nil {
			return resp, nil // surface the first reply; the hop can be retried next turn
		}
		return follow, nil
	}

	return resp, nil
}

// runTurn performs one classify-resolve-run-persist cycle without
// acquiring the session lock (the caller already holds it).
func (d *Dispatcher) runTurn(ctx context.Context, req Request) (*Response, error) {
	snap, err := d.Sessions.Snapshot(req.SessionID)
	if err != nil {
		return nil, err
	}

	instructions, allowedTools, classified, codeCtx, currentStep := d.classify(req, snap)

	if err := d.Sessions.Append(req.SessionID, providers.Message{Role: "user", Content: req.UserMessage}, false); err != nil {
		return nil, err
	}
	if codeCtx != nil {
		_ = d.Sessions.SetContext(req.SessionID, nil, nil, codeCtx, nil)
	}

	history, err := d.Sessions.History(req.SessionID)
	if err != nil {
		return nil, err
	}

	appendTool := func(msg providers.Message) {
		_ = d.Sessions.Append(req.SessionID, msg, true)
	}

	reply, err := d.Loop.Run(ctx, instructions, history, allowedTools, appendTool)
	if err != nil {
		slog.Error("model round-trip failed", "session", req.SessionID, "err", err)
		return &Response{ReplyText: "Sorry, something went wrong on our end. Please try again.", LastAgent: snap.LastAgent, RoutineNumber: routineNumberOrNil(snap)}, nil
	}

	if err := d.Sessions.Append(req.SessionID, providers.Message{Role: "assistant", Content: reply.AgentFinalResponse}, false); err != nil {
		return nil, err
	}

	next := d.resolveNext(currentStep, classified, reply, snap, codeCtx)

	lastAgent := classified
	_ = d.Sessions.SetContext(req.SessionID, &lastAgent, next, nil, nil)

	return &Response{ReplyText: reply.AgentFinalResponse, LastAgent: lastAgent, RoutineNumber: next}, nil
}

// resolveNext computes the authoritative next routine step. The engine's
// transition rules decide where the routine goes; the model's emitted
// routine_number is read only as a valid/invalid signal (did this step's
// input pass), never as the destination. The exception is a turn outside
// the routine (current == 0): there the new-registration agent's emitted
// number is returned as the starting step.
func (d *Dispatcher) resolveNext(current int, agent session.LastAgent, reply *llmloop.Reply, snap *session.Session, codeCtx *session.CodeContext) *int {
	if current == 0 {
		// Not a routine turn. Only the new-registration agent may move
		// the routine pointer at all.
		if agent == session.AgentNewRegistration {
			return reply.RoutineNumber
		}
		return nil
	}

	rctx, toolFailed, lookupRan := routineContextFrom(reply, snap, codeCtx)

	// The age hop is server-internal: no user input to validate, so the
	// engine always advances it.
	if current == stepAgeHop {
		n := d.Routine.OnValid(current, rctx)
		return &n
	}

	// Once address_lookup has run, its outcome alone decides between the
	// confirmation step and manual entry; a failed lookup falls through
	// rather than holding the step.
	if (current == 13 || current == 19) && lookupRan && !toolFailed {
		n := d.Routine.OnValid(current, rctx)
		return &n
	}

	advanced := reply.RoutineNumber != nil && *reply.RoutineNumber != current
	if toolFailed || !advanced {
		n := d.Routine.OnInvalid(current)
		return &n
	}

	// The same-address branch has no tool behind it; the model's proposed
	// target carries the parent's yes/no, and the engine still owns the
	// resulting transition.
	if current == 16 {
		rctx.SameAddress = *reply.RoutineNumber == stepAgeHop
	}

	n := d.Routine.OnValid(current, rctx)
	return &n
}

// routineContextFrom builds the engine's branching facts from what the
// tools actually returned this turn plus the session's parsed code.
// toolFailed reports a tool error that must hold the routine at the
// current step; a failed address_lookup is not one (the engine routes it
// into manual entry instead), so it is reported separately via lookupRan.
func routineContextFrom(reply *llmloop.Reply, snap *session.Session, codeCtx *session.CodeContext) (rctx routine.Context, toolFailed, lookupRan bool) {
	if snap.Code != nil {
		rctx.AgeGroup = snap.Code.AgeGroup
	}
	if codeCtx != nil {
		rctx.AgeGroup = codeCtx.AgeGroup
	}

	for _, o := range reply.ToolOutcomes {
		switch o.Name {
		case "address_lookup":
			lookupRan = true
			rctx.AddressLookupOK = !o.Result.IsError
		case "check_if_record_exists_in_db":
			if o.Result.IsError {
				toolFailed = true
				continue
			}
			rctx.RecordFound, _ = o.Result.Data["found"].(bool)
			rctx.PlayedLastSeason, _ = o.Result.Data["played_last_season"].(bool)
			if kit, ok := o.Result.Data["kit_needed"].(bool); ok {
				rctx.KitNeeded = kit
			}
		case "check_if_kit_needed":
			if o.Result.IsError {
				toolFailed = true
				continue
			}
			rctx.KitNeeded, _ = o.Result.Data["kit_needed"].(bool)
		case "child_dob_validation":
			if o.Result.IsError {
				toolFailed = true
				continue
			}
			if age, ok := o.Result.Data["age_group"].(string); ok && age != "" {
				rctx.AgeGroup = age
			}
		default:
			if o.Result.IsError {
				toolFailed = true
			}
		}
	}
	return rctx, toolFailed, lookupRan
}

func routineNumberOrNil(snap *session.Session) *int {
	if snap.RoutineNumber == 0 {
		return nil
	}
	n := snap.RoutineNumber
	return &n
}

// classify applies the turn-classification priority order and returns
// the effective instructions, the agent's allowed tool set, which agent
// was selected, the code context to persist (only when a registration
// code was freshly detected), and the routine step this turn serves
// (0 when the turn is not part of the routine).
func (d *Dispatcher) classify(req Request, snap *session.Session) (instructions string, allowedTools []string, effectiveAgent session.LastAgent, codeCtx *session.CodeContext, currentStep int) {
	// 1. explicit routine hint continues new-registration at that step.
	if req.HintRoutine != nil {
		v, _ := agentdef.Get(agentdef.NewRegistration)
		stepText := d.Routine.InstructionText(*req.HintRoutine)
		instr, tools := agentdef.Resolve(v, stepText)
		return instr, tools, session.AgentNewRegistration, nil, *req.HintRoutine
	}

	// 2/3. last-agent continuation, no fresh step text.
	if req.HintLastAgent == session.AgentReRegistration || snap.LastAgent == session.AgentReRegistration {
		v, _ := agentdef.Get(agentdef.ReRegistration)
		instr, tools := agentdef.Resolve(v, "")
		return instr, tools, session.AgentReRegistration, nil, 0
	}
	if req.HintLastAgent == session.AgentNewRegistration || snap.LastAgent == session.AgentNewRegistration {
		v, _ := agentdef.Get(agentdef.NewRegistration)
		instr, tools := agentdef.Resolve(v, "")
		return instr, tools, session.AgentNewRegistration, nil, snap.RoutineNumber
	}

	// 4. parse the message as a registration code.
	code, err := regcode.Parse(req.UserMessage, d.CurrentSeason, teamResolverAdapter{d.Records})
	if err == nil {
		ctx := &session.CodeContext{Series: code.Series, Team: code.Team, AgeGroup: code.AgeGroup, Season: code.Season, IsNew: code.Classification == regcode.NewRegistration}
		if code.Classification == regcode.NewRegistration {
			v, _ := agentdef.Get(agentdef.NewRegistration)
			stepText := d.Routine.InstructionText(routine.FirstStep)
			instr, tools := agentdef.Resolve(v, stepText)
			return instr, tools, session.AgentNewRegistration, ctx, routine.FirstStep
		}
		v, _ := agentdef.Get(agentdef.ReRegistration)
		instr, tools := agentdef.Resolve(v, "")
		return instr, tools, session.AgentReRegistration, ctx, 0
	}

	// 5. generic fallback.
	v, _ := agentdef.Get(agentdef.Generic)
	instr, tools := agentdef.Resolve(v, "")
	return instr, tools, session.AgentGeneric, nil, 0
}

// teamResolverAdapter adapts record.Store.ResolveTeam to regcode.TeamResolver.
type teamResolverAdapter struct {
	store record.Store
}

func (t teamResolverAdapter) Resolve(team, age string) (string, bool) {
	return t.store.ResolveTeam(team, age)
}
