package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// --- person_name_validation ---

type PersonNameValidationTool struct{}

func NewPersonNameValidationTool() *PersonNameValidationTool { return &PersonNameValidationTool{} }

func (t *PersonNameValidationTool) Name() string        { return "person_name_validation" }
func (t *PersonNameValidationTool) Description() string  { return "Validate and normalize a person's full name" }
func (t *PersonNameValidationTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "description": "Full name as given by the parent"},
		},
		"required": []string{"name"},
	}
}

var namePattern = regexp.MustCompile(`^[A-Za-z \-']+$`)

func (t *PersonNameValidationTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["name"].(string)
	normalized := foldApostrophes(strings.TrimSpace(raw))

	if !namePattern.MatchString(normalized) {
		return Fail("invalid_chars", "name contains characters other than letters, spaces, hyphens, and apostrophes")
	}

	tokens := strings.Fields(normalized)
	valid := 0
	for _, tok := range tokens {
		if len(strings.Trim(tok, "-'")) >= 2 {
			valid++
		}
	}
	if valid < 2 {
		return Fail("too_few_tokens", "name must contain at least two name tokens")
	}

	return OK(fmt.Sprintf("valid=%v normalized=%s", true, normalized), map[string]interface{}{
		"valid":      true,
		"normalized": normalized,
	})
}

// foldApostrophes folds curly apostrophes (’ and ‘) to the straight ASCII form.
func foldApostrophes(s string) string {
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.ReplaceAll(s, "‘", "'")
	return s
}

// --- child_dob_validation ---

type ChildDOBValidationTool struct {
	Now        func() time.Time
	CutoffDate time.Time // season cutoff (default 31 August) used to compute the age group
}

func NewChildDOBValidationTool(cutoff time.Time) *ChildDOBValidationTool {
	return &ChildDOBValidationTool{Now: time.Now, CutoffDate: cutoff}
}

func (t *ChildDOBValidationTool) Name() string       { return "child_dob_validation" }
func (t *ChildDOBValidationTool) Description() string { return "Validate and normalize a child's date of birth" }
func (t *ChildDOBValidationTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"dob": map[string]interface{}{"type": "string", "description": "Date of birth in any common layout"},
		},
		"required": []string{"dob"},
	}
}

var dobLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2/1/2006",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

func (t *ChildDOBValidationTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["dob"].(string)
	raw = strings.TrimSpace(raw)

	var parsed time.Time
	var ok bool
	for _, layout := range dobLayouts {
		if p, err := time.Parse(layout, raw); err == nil {
			parsed, ok = p, true
			break
		}
	}
	if !ok {
		return Fail("unparseable", "could not parse date of birth")
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	if parsed.After(now()) {
		return Fail("in_future", "date of birth is in the future")
	}
	if parsed.Year() < 2007 {
		return Fail("too_old", "child is too old to register (born before 2007)")
	}

	iso := parsed.Format("2006-01-02")
	ddmmyyyy := parsed.Format("02-01-2006")
	ageGroup := seasonAgeGroup(parsed, t.CutoffDate)

	return OK(fmt.Sprintf("iso_date=%s birth_year=%d age_group=%s", iso, parsed.Year(), ageGroup), map[string]interface{}{
		"valid":      true,
		"iso_date":   ddmmyyyy,
		"birth_year": parsed.Year(),
		"age_group":  ageGroup,
	})
}

// seasonAgeGroup computes "U<n>" from a date of birth and the season's
// cutoff date: n is the child's age, in whole years, as of the cutoff.
func seasonAgeGroup(dob, cutoff time.Time) string {
	age := cutoff.Year() - dob.Year()
	anniversaryThisCutoffYear := time.Date(cutoff.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)
	if cutoff.Before(anniversaryThisCutoffYear) {
		age--
	}
	return "U" + strconv.Itoa(age)
}

// --- medical_issues_validation ---

// criticalConditions require an explicit follow-up from the parent before
// the routine can proceed.
var criticalConditions = []string{"epilepsy", "anaphylaxis", "severe allergy", "asthma", "diabetes", "heart condition"}

type MedicalIssuesValidationTool struct{}

func NewMedicalIssuesValidationTool() *MedicalIssuesValidationTool { return &MedicalIssuesValidationTool{} }

func (t *MedicalIssuesValidationTool) Name() string       { return "medical_issues_validation" }
func (t *MedicalIssuesValidationTool) Description() string { return "Validate and normalize reported medical issues" }
func (t *MedicalIssuesValidationTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"has_issues": map[string]interface{}{"type": "boolean"},
			"details":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"has_issues"},
	}
}

func (t *MedicalIssuesValidationTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	hasIssues, _ := args["has_issues"].(bool)
	details, _ := args["details"].(string)

	if !hasIssues {
		return OK("normalized=none", map[string]interface{}{"normalized": "none", "needs_followup": false})
	}

	items := strings.Split(details, ",")
	normalized := make([]string, 0, len(items))
	needsFollowup := false
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		normalized = append(normalized, item)
		lower := strings.ToLower(item)
		for _, critical := range criticalConditions {
			if strings.Contains(lower, critical) {
				needsFollowup = true
			}
		}
	}

	if len(normalized) == 0 {
		return Fail("needs_followup", "please describe the medical issue")
	}

	joined := strings.Join(normalized, ", ")
	if needsFollowup {
		return Fail("needs_followup", fmt.Sprintf("listed condition(s) %q require a follow-up question before continuing", joined))
	}

	return OK(fmt.Sprintf("normalized=%s", joined), map[string]interface{}{
		"normalized":     joined,
		"needs_followup": false,
	})
}
