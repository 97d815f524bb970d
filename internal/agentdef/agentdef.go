// Package agentdef defines the three immutable agent variants as
// plain data records, plus a Resolve function that substitutes the active
// routine step's text into a variant's instruction placeholder. No variant
// carries mutable state; per-request agent selection lives in
// internal/dispatch.
package agentdef

import "strings"

// Name identifies one of the three agent variants.
type Name string

const (
	Generic         Name = "generic"
	NewRegistration Name = "new_registration"
	ReRegistration  Name = "re_registration"
)

// Placeholder is substituted with the active routine step's instruction
// text at dispatch time. Variants that have no step to inject (generic,
// and re-registration's opener) leave the placeholder empty.
const Placeholder = "{{STEP_INSTRUCTIONS}}"

// Variant is an immutable agent definition: a name, its base instruction
// template (containing exactly one Placeholder), and the tool identities
// it may invoke.
type Variant struct {
	Name          Name
	BaseTemplate  string
	AllowedTools  []string
}

// The full registry minus the re-registration-only entries.
var newRegistrationTools = []string{
	"person_name_validation",
	"child_dob_validation",
	"medical_issues_validation",
	"check_if_record_exists_in_db",
	"check_if_kit_needed",
	"check_shirt_number_availability",
	"update_reg_details_to_db",
	"update_kit_details_to_db",
	"update_photo_link_to_db",
	"create_payment_token",
	"create_signup_payment_link",
	"send_sms_payment_link",
	"upload_photo_to_s3",
}

var variants = map[Name]*Variant{
	Generic: {
		Name: Generic,
		BaseTemplate: "You are the club's registration assistant. Answer general " +
			"questions about the club helpfully and briefly. Watch for a " +
			"registration code of the form 200-Lions-U10-2526 in anything the " +
			"parent sends; if you see one, say so rather than trying to handle " +
			"registration yourself.\n" + Placeholder,
		AllowedTools: []string{"check_if_record_exists_in_db"},
	},
	ReRegistration: {
		Name: ReRegistration,
		BaseTemplate: "You are helping a returning parent re-register their " +
			"child for the new season. Confirm or collect their address using " +
			"the tools available to you.\n" + Placeholder,
		AllowedTools: []string{"address_validation", "address_lookup"},
	},
	NewRegistration: {
		Name: NewRegistration,
		BaseTemplate: "You are walking a parent through new-player registration, " +
			"one step at a time. Follow the current step's instructions exactly, " +
			"validate the parent's answer with the matching tool before moving " +
			"on, and always reply with a JSON object " +
			`{"agent_final_response": "...", "routine_number": <int>}` +
			".\n" + Placeholder,
		AllowedTools: newRegistrationTools,
	},
}

// Get returns the named variant. ok is false for an unknown name.
func Get(name Name) (*Variant, bool) {
	v, ok := variants[name]
	return v, ok
}

// Resolve substitutes stepText into variant's placeholder and returns the
// effective instructions plus the variant's allowed tool set. An empty
// stepText collapses to no injected guidance (used for last-agent
// continuations that don't carry a fresh step prompt).
func Resolve(variant *Variant, stepText string) (instructions string, allowedTools []string) {
	instructions = strings.Replace(variant.BaseTemplate, Placeholder, stepText, 1)
	allowedTools = variant.AllowedTools
	return instructions, allowedTools
}
