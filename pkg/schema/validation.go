package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a condition configuration.
//
// Path is a JSON pointer into the configuration document. When the issue
// belongs to a single visual rule, RuleIndex holds its zero-based position so
// an editor can highlight the row. Operator names the rule or expression
// operator the issue concerns, when there is one.
type ValidationIssue struct {
	Path      string             `json:"path"`
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	Severity  ValidationSeverity `json:"severity"`
	RuleIndex *int               `json:"rule_index,omitempty"`
	Operator  string             `json:"operator,omitempty"`
}

// ValidationResult collects the issues of one check. Errors block saving;
// warnings are reported alongside a successful save.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether the configuration can be saved.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Add files issue under its severity; anything not a warning is an error.
// Issues located under /rules/<n> get RuleIndex filled in from the path.
func (r *ValidationResult) Add(issue ValidationIssue) {
	if issue.RuleIndex == nil {
		if i, ok := ruleIndexOf(issue.Path); ok {
			issue.RuleIndex = &i
		}
	}
	if issue.Severity == SeverityWarning {
		r.Warnings = append(r.Warnings, issue)
		return
	}
	issue.Severity = SeverityError
	r.Errors = append(r.Errors, issue)
}

// AddError records an error at path.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

// AddWarning records a warning at path.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a CondError if invalid, nil if valid.
// A single error keeps its own code and rule location so callers can branch
// on it.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	details := map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	}
	if len(r.Errors) > 1 {
		return NewErrorf(ErrCodeValidation, "validation failed with %d errors", len(r.Errors)).
			WithDetails(details)
	}

	first := r.Errors[0]
	if first.RuleIndex != nil {
		details["rule_index"] = *first.RuleIndex
	}
	if first.Operator != "" {
		details["operator"] = first.Operator
	}
	return NewError(first.Code, first.Message).WithDetails(details)
}

// ruleIndexOf extracts n from a pointer of the form /rules/<n>[/...].
func ruleIndexOf(path string) (int, bool) {
	rest, ok := strings.CutPrefix(path, "/rules/")
	if !ok {
		return 0, false
	}
	seg, _, _ := strings.Cut(rest, "/")
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// RulePath returns the pointer to field of the visual rule at index, or to the
// rule itself when field is empty.
func RulePath(index int, field string) string {
	if field == "" {
		return fmt.Sprintf("/rules/%d", index)
	}
	return fmt.Sprintf("/rules/%d/%s", index, field)
}
