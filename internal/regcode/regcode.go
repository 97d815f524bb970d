// Package regcode recognizes the registration-code grammar parents type
// into chat, classifies new-vs-re-registration, and validates the
// resulting team/age/season triple against the team table.
package regcode

import (
	"regexp"
	"strings"
)

// Classification distinguishes a new registration from a returning player
// re-registering, based on the series prefix digit.
type Classification int

const (
	Unknown Classification = iota
	NewRegistration
	ReRegistration
)

func (c Classification) String() string {
	switch c {
	case NewRegistration:
		return "new_registration"
	case ReRegistration:
		return "re_registration"
	default:
		return "unknown"
	}
}

// Code is a successfully parsed and validated registration code.
type Code struct {
	Series         string
	Team           string
	AgeGroup       string
	Season         string
	Classification Classification
}

// Rejection describes why a candidate string failed to parse or validate.
type Rejection struct {
	Reason string // "no_match", "bad_series", "season_mismatch", "unknown_team_age"
}

func (r *Rejection) Error() string { return r.Reason }

var codePattern = regexp.MustCompile(`(?i)^([0-9]{3})-([A-Za-z]+)-(U[0-9]{1,2}|open)-([0-9]{4})$`)

// TeamResolver validates a (team, age group) pair against the team table.
// check_shirt_number_availability and friends go through the same table,
// but regcode only needs existence plus the "mens" special case.
type TeamResolver interface {
	// Resolve reports whether team+age resolve to a known row, and
	// returns the canonical age group (e.g. "mens" always resolves to
	// "Open Age" regardless of the AGE token supplied).
	Resolve(team, age string) (canonicalAge string, ok bool)
}

// Parse recognizes candidate against the registration-code grammar, classifies
// it, and validates season + (team, age) against teams and currentSeason.
// Leading/trailing whitespace is stripped and matching is case-insensitive.
func Parse(candidate string, currentSeason string, teams TeamResolver) (*Code, error) {
	trimmed := strings.TrimSpace(candidate)
	m := codePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, &Rejection{Reason: "no_match"}
	}

	series, team, age, season := m[1], m[2], strings.ToUpper(m[3]), m[4]

	var class Classification
	switch series[0] {
	case '1':
		class = ReRegistration
	case '2':
		class = NewRegistration
	default:
		return nil, &Rejection{Reason: "bad_series"}
	}

	if season != currentSeason {
		return nil, &Rejection{Reason: "season_mismatch"}
	}

	canonicalAge, ok := teams.Resolve(team, age)
	if !ok {
		return nil, &Rejection{Reason: "unknown_team_age"}
	}

	return &Code{
		Series:         series,
		Team:           strings.ToLower(team),
		AgeGroup:       canonicalAge,
		Season:         season,
		Classification: class,
	}, nil
}

// StaticTeams is an in-memory TeamResolver for tests and the in-memory
// record store; production wiring may instead query the record table.
type StaticTeams struct {
	// Teams maps a lowercased team name to the set of valid age tokens
	// (uppercased, e.g. "U10", "OPEN").
	Teams map[string]map[string]bool
}

func (t *StaticTeams) Resolve(team, age string) (string, bool) {
	lowerTeam := strings.ToLower(team)
	age = strings.ToUpper(age)

	if lowerTeam == "mens" {
		return "Open Age", true
	}

	ages, ok := t.Teams[lowerTeam]
	if !ok {
		return "", false
	}
	if !ages[age] {
		return "", false
	}
	return age, true
}

// UserMessage renders a Rejection as plain language, never exposing the
// grammar or field names to the parent.
func (r *Rejection) UserMessage() string {
	switch r.Reason {
	case "season_mismatch":
		return "That registration code is for a different season. Please check the code and try again."
	case "unknown_team_age":
		return "I don't recognize that team and age group combination. Please double check your registration code."
	default:
		return "That doesn't look like a valid registration code. It should look like 200-Lions-U10-2526."
	}
}
