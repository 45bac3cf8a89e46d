// Package validator checks workflow documents at the template, executable,
// and dag stages, lints them with auto-repair, and lowers executable
// documents into runnable DAGs. It is a pure library: no I/O beyond the
// provided catalog snapshot.
package validator

import (
	"encoding/json"
	"fmt"
)

// Stage identifies the lifecycle stage of a workflow document.
type Stage string

const (
	StageTemplate   Stage = "template"
	StageExecutable Stage = "executable"
	StageDAG        Stage = "dag"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageTemplate, StageExecutable, StageDAG:
		return true
	}
	return false
}

// Severity ranks a finding.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityHint    Severity = "HINT"
)

// Rule codes are stable across releases; tools key off them.
const (
	CodeUnknownTool       = "E001"
	CodeParamSpecMismatch = "E002"
	CodeUnknownTrigger    = "E003"
	CodeScopeMissing      = "E004"
	CodeSchemaInvalid     = "E005"
	CodeCycleInGraph      = "E006"
	CodeUnreachableNode   = "E007"
	CodeUnresolvedRef     = "E008"
	CodeTypeBridgeMissing = "E009"
	CodeCronInvalid       = "E010"
	CodePollNoCursor      = "E011"
	CodeWebhookNoVerify   = "E012"
	CodePlaintextSecret   = "E013"

	CodeAggressiveFanout   = "W201"
	CodeMissingChoiceGuard = "W202"
	CodeUnknownParam       = "W203"
	CodeNoIdempotency      = "W501"
	CodeMissingRetryPolicy = "W502"
)

// ValidationError is one blocking violation.
type ValidationError struct {
	Code    string         `json:"code"`
	Path    string         `json:"path"`
	Stage   Stage          `json:"stage"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s at %s: %s", e.Code, e.Stage, e.Path, e.Message)
}

// Finding is one lint result. Errors may be auto-repairable; warnings and
// hints never block.
type Finding struct {
	Code           string   `json:"code"`
	Severity       Severity `json:"severity"`
	Path           string   `json:"path"`
	Message        string   `json:"message"`
	Hint           string   `json:"hint,omitempty"`
	AutoRepairable bool     `json:"auto_repairable,omitempty"`
}

// Repair records one applied auto-repair.
type Repair struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result is the outcome of a validate call.
type Result struct {
	OK     bool              `json:"ok"`
	Stage  Stage             `json:"stage"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// LintReport groups findings by severity.
type LintReport struct {
	Errors   []Finding `json:"errors,omitempty"`
	Warnings []Finding `json:"warnings,omitempty"`
	Hints    []Finding `json:"hints,omitempty"`
}

// Add routes a finding into the matching bucket.
func (r *LintReport) Add(f Finding) {
	switch f.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, f)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, f)
	default:
		r.Hints = append(r.Hints, f)
	}
}

// HasErrors reports whether any blocking finding remains.
func (r *LintReport) HasErrors() bool { return len(r.Errors) > 0 }

// Report is the combined output of the full pipeline, printable as JSON for
// the CLI.
type Report struct {
	OK      bool              `json:"ok"`
	Stage   Stage             `json:"stage"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Lint    *LintReport       `json:"lint,omitempty"`
	Repairs []Repair          `json:"repairs,omitempty"`
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
