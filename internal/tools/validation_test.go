package tools

import (
	"context"
	"testing"
	"time"
)

var cutoff2025 = time.Date(2025, time.August, 31, 0, 0, 0, 0, time.UTC)

func TestPersonNameValidation(t *testing.T) {
	tool := NewPersonNameValidationTool()

	tests := []struct {
		name     string
		input    string
		wantKind string // empty = success
		wantNorm string
	}{
		{"plain", "John Smith", "", "John Smith"},
		{"curly apostrophe folded", "Mary O’Brien", "", "Mary O'Brien"},
		{"hyphenated", "Anna-Marie Jones", "", "Anna-Marie Jones"},
		{"single letter token", "J Smith", "too_few_tokens", ""},
		{"one token only", "Smith", "too_few_tokens", ""},
		{"digits", "John5 Smith", "invalid_chars", ""},
		{"emoji", "John 😀 Smith", "invalid_chars", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := tool.Execute(context.Background(), map[string]interface{}{"name": tc.input})
			if tc.wantKind == "" {
				if res.IsError {
					t.Fatalf("Execute(%q) failed: %s %s", tc.input, res.Kind, res.ForLLM)
				}
				if got := res.Data["normalized"]; got != tc.wantNorm {
					t.Errorf("normalized = %q, want %q", got, tc.wantNorm)
				}
			} else if !res.IsError || res.Kind != tc.wantKind {
				t.Errorf("Execute(%q) = (err=%v kind=%q), want kind %q", tc.input, res.IsError, res.Kind, tc.wantKind)
			}
		})
	}
}

func TestPersonNameNormalizationFixedPoint(t *testing.T) {
	tool := NewPersonNameValidationTool()
	first := tool.Execute(context.Background(), map[string]interface{}{"name": "Mary O’Brien"})
	if first.IsError {
		t.Fatal(first.ForLLM)
	}
	norm := first.Data["normalized"].(string)
	second := tool.Execute(context.Background(), map[string]interface{}{"name": norm})
	if second.IsError {
		t.Fatalf("re-validating %q failed: %s", norm, second.ForLLM)
	}
	if second.Data["normalized"] != norm {
		t.Errorf("normalization is not a fixed point: %q -> %q", norm, second.Data["normalized"])
	}
}

func TestChildDOBValidation(t *testing.T) {
	tool := NewChildDOBValidationTool(cutoff2025)
	tool.Now = func() time.Time { return time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		input    string
		wantKind string
		wantISO  string
		wantAge  string
	}{
		{"iso layout", "2015-06-10", "", "10-06-2015", "U10"},
		{"uk layout", "10/06/2015", "", "10-06-2015", "U10"},
		{"long layout", "10 June 2015", "", "10-06-2015", "U10"},
		{"birthday after cutoff", "2015-10-02", "", "02-10-2015", "U9"},
		{"too old", "2006-12-31", "too_old", "", ""},
		{"in future", "2026-01-01", "in_future", "", ""},
		{"garbage", "not a date", "unparseable", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := tool.Execute(context.Background(), map[string]interface{}{"dob": tc.input})
			if tc.wantKind == "" {
				if res.IsError {
					t.Fatalf("Execute(%q) failed: %s %s", tc.input, res.Kind, res.ForLLM)
				}
				if got := res.Data["iso_date"]; got != tc.wantISO {
					t.Errorf("iso_date = %q, want %q", got, tc.wantISO)
				}
				if got := res.Data["age_group"]; got != tc.wantAge {
					t.Errorf("age_group = %q, want %q", got, tc.wantAge)
				}
			} else if !res.IsError || res.Kind != tc.wantKind {
				t.Errorf("Execute(%q) = (err=%v kind=%q), want kind %q", tc.input, res.IsError, res.Kind, tc.wantKind)
			}
		})
	}
}

func TestChildDOBIdempotentUnderRevalidation(t *testing.T) {
	tool := NewChildDOBValidationTool(cutoff2025)
	tool.Now = func() time.Time { return time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC) }

	first := tool.Execute(context.Background(), map[string]interface{}{"dob": "2015-06-10"})
	if first.IsError {
		t.Fatal(first.ForLLM)
	}
	formatted := first.Data["iso_date"].(string)

	second := tool.Execute(context.Background(), map[string]interface{}{"dob": formatted})
	if second.IsError {
		t.Fatalf("re-validating %q failed: %s", formatted, second.ForLLM)
	}
	if second.Data["iso_date"] != formatted {
		t.Errorf("DD-MM-YYYY is not idempotent: %q -> %q", formatted, second.Data["iso_date"])
	}
}

func TestMedicalIssuesValidation(t *testing.T) {
	tool := NewMedicalIssuesValidationTool()

	none := tool.Execute(context.Background(), map[string]interface{}{"has_issues": false})
	if none.IsError || none.Data["normalized"] != "none" {
		t.Errorf("no issues: %+v", none)
	}

	benign := tool.Execute(context.Background(), map[string]interface{}{"has_issues": true, "details": "hay fever, mild eczema"})
	if benign.IsError {
		t.Fatalf("benign conditions failed: %s", benign.ForLLM)
	}
	if benign.Data["normalized"] != "hay fever, mild eczema" {
		t.Errorf("normalized = %q", benign.Data["normalized"])
	}

	critical := tool.Execute(context.Background(), map[string]interface{}{"has_issues": true, "details": "asthma"})
	if !critical.IsError || critical.Kind != "needs_followup" {
		t.Errorf("asthma should need a follow-up, got %+v", critical)
	}

	empty := tool.Execute(context.Background(), map[string]interface{}{"has_issues": true, "details": "  ,  "})
	if !empty.IsError || empty.Kind != "needs_followup" {
		t.Errorf("empty details should need a follow-up, got %+v", empty)
	}
}

func TestRegistryValidatesArgs(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewPersonNameValidationTool())

	res := reg.ExecuteWithContext(context.Background(), "person_name_validation", map[string]interface{}{})
	if !res.IsError {
		t.Error("missing required argument accepted")
	}

	res = reg.ExecuteWithContext(context.Background(), "no_such_tool", map[string]interface{}{})
	if !res.IsError {
		t.Error("unknown tool accepted")
	}
}
