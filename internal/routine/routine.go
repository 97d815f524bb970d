// Package routine implements the 35-step new-registration state machine.
// The Engine is pure: it holds per-step instruction text and the
// transition rules, and never performs I/O itself. Every fact it needs to
// branch on (record lookups, kit checks, age group) is passed in via
// Context by the caller, which has already run the relevant tool.
package routine

// Step is one state in the 35-step workflow.
type Step struct {
	Number         int
	InstructionText string
	ServerInternal bool // step 22: synthesized without waiting for user input
}

// Context carries the session/tool facts a transition may depend on.
// Zero value is safe for steps that don't consult it.
type Context struct {
	RecordFound      bool
	PlayedLastSeason bool
	KitNeeded        bool
	AgeGroup         string // e.g. "U14", "U16", "Open Age"
	SameAddress      bool
	AddressLookupOK  bool
}

// Engine exposes the routine's three pure operations.
type Engine struct {
	steps map[int]Step
}

// Terminal is the last step; reaching it produces only a completion
// message.
const Terminal = 35

// FirstStep is where a freshly-detected new-registration code begins.
const FirstStep = 1

func New() *Engine {
	e := &Engine{steps: make(map[int]Step, Terminal)}
	for n, text := range stepText {
		e.steps[n] = Step{Number: n, InstructionText: text, ServerInternal: n == 22}
	}
	return e
}

// Step returns the step descriptor for n, or false if n is out of range.
func (e *Engine) Step(n int) (Step, bool) {
	s, ok := e.steps[n]
	return s, ok
}

// InstructionText returns the prompt fragment injected for step n.
func (e *Engine) InstructionText(n int) string {
	if s, ok := e.steps[n]; ok {
		return s.InstructionText
	}
	return ""
}

// OnInvalid returns the next state when the model marks the user's answer
// invalid: almost always n itself (the step does not advance).
func (e *Engine) OnInvalid(n int) int {
	return n
}

// OnValid returns the next state after step n's input validates, applying
// the context-dependent branches. Steps not listed here
// advance linearly (n+1); steps 17 and 31 are defined (InstructionText
// exists) but are never the target of a transition; the documented
// graph skips both, and this engine preserves that gap rather than
// inventing behavior for it.
func (e *Engine) OnValid(n int, ctx Context) int {
	switch n {
	case 2:
		if !ctx.RecordFound {
			return 3
		}
		if !ctx.PlayedLastSeason {
			return 32
		}
		if ctx.KitNeeded {
			return 32
		}
		return 34
	case 16:
		if ctx.SameAddress {
			return 22
		}
		return 18
	case 13:
		// address_lookup ran as part of entering the house number; a
		// failed lookup drops into manual entry (14) instead of the
		// confirmation step (15).
		if ctx.AddressLookupOK {
			return 15
		}
		return 14
	case 19:
		if ctx.AddressLookupOK {
			return 21
		}
		return 20
	case 22:
		if isU16OrAbove(ctx.AgeGroup) {
			return 23
		}
		return 28
	case 30:
		if ctx.KitNeeded {
			return 32
		}
		return 34
	case Terminal:
		return Terminal
	default:
		return n + 1
	}
}

// isU16OrAbove compares an age-group label like "U14"/"U16"/"U18" or
// "Open Age" against the U16 cutoff.
func isU16OrAbove(ageGroup string) bool {
	if ageGroup == "" {
		return false
	}
	if ageGroup == "Open Age" || ageGroup == "mens" {
		return true
	}
	n := 0
	for _, r := range ageGroup {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
		}
	}
	return n >= 16
}

var stepText = map[int]string{
	1:  "Ask the parent for their first and last name. Validate it with person_name_validation before moving on.",
	2:  "Ask for the child's first and last name, then call check_if_record_exists_in_db with both names to see whether this player has registered before.",
	3:  "Ask for the child's date of birth. Validate it with child_dob_validation; the child must have been born in 2007 or later.",
	4:  "Ask for the child's gender.",
	5:  "Ask whether the child has any medical issues or allergies the club should know about. Validate the answer with medical_issues_validation.",
	6:  "Ask which team the child played for last season, if any.",
	7:  "Ask the parent's relationship to the child (e.g. mother, father, guardian).",
	8:  "Ask for the parent's UK mobile number, starting with 07.",
	9:  "Ask for the parent's email address.",
	10: "Ask whether the parent consents to club communications by email and SMS.",
	11: "Ask for the parent's own date of birth.",
	12: "Ask for the parent's home postcode.",
	13: "Ask for the parent's house name or number, then call address_lookup with the postcode and house number.",
	14: "The automated lookup couldn't find that address. Ask the parent to type their full address manually.",
	15: "Read back the looked-up address and ask the parent to confirm it's correct.",
	16: "Ask whether the child lives at the same address as the parent.",
	17: "",
	18: "Ask for the child's home postcode.",
	19: "Ask for the child's house name or number, then call address_lookup with the postcode and house number.",
	20: "The automated lookup couldn't find that address. Ask the parent to type the child's full address manually.",
	21: "Read back the child's looked-up address and ask the parent to confirm it's correct.",
	22: "Internal routing step: no user input is expected here.",
	23: "Ask for the player's own mobile number. It must be different from the parent's mobile number.",
	24: "Ask for the player's own email address. It must be different from the parent's email address.",
	25: "Summarize the child's details collected so far and ask the parent to confirm they're correct.",
	26: "Summarize the parent's contact details collected so far and ask the parent to confirm they're correct.",
	27: "Summarize the addresses collected and ask the parent to confirm they're correct.",
	28: "All registration details are confirmed. Let the parent know you're about to set up payment.",
	29: "Call create_payment_token with the parent's preferred payment day, then update_reg_details_to_db with everything collected, and let the parent know a payment link has been texted to their phone.",
	30: "Internal routing step: check whether this player needs new kit.",
	31: "",
	32: "Ask for the child's kit size.",
	33: "Ask for the desired shirt number and check its availability with check_shirt_number_availability.",
	34: "Ask the parent to upload a recent photo of the child for their club profile.",
	35: "Thank the parent — registration is complete.",
}
