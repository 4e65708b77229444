package models

import "fmt"

// Severity classifies a validation diagnostic.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Diagnostic is one validator finding, addressed to a (config, field) pair.
type Diagnostic struct {
	ConfigID string
	Field    string
	Severity Severity
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s.%s: %s", d.Severity, d.ConfigID, d.Field, d.Message)
}

// ValidationResult aggregates diagnostics for a batch of configurations.
// Ordering is per-config in rule order, as produced by the validator.
type ValidationResult struct {
	Diagnostics []Diagnostic
}

// Add appends a diagnostic.
func (r *ValidationResult) Add(configID, field string, sev Severity, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		ConfigID: configID,
		Field:    field,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
	})
}

// HasErrors reports whether any diagnostic is an ERROR.
func (r *ValidationResult) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ErrorsFor returns the ERROR diagnostics for one configuration.
func (r *ValidationResult) ErrorsFor(configID string) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.ConfigID == configID && d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// DisabledIDs returns the ids of every configuration carrying at least one
// ERROR; these are removed from the working set for the run.
func (r *ValidationResult) DisabledIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError && !seen[d.ConfigID] {
			seen[d.ConfigID] = true
			ids = append(ids, d.ConfigID)
		}
	}
	return ids
}
