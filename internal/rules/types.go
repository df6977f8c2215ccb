// Package rules evaluates configurable validation rules against workbook rows.
package rules

import (
	"fmt"
	"strconv"
	"time"
)

// Rule kinds.
const (
	KindFormat   = "format"
	KindRange    = "range"
	KindDataType = "data_type"
	KindCustom   = "custom"
)

// Violation severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Outcome statuses.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// Definition is one configurable validation rule. Parameters are kind-specific
// and validated once when the definition set is compiled, not per row.
type Definition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Kind        string         `json:"kind"`
	Parameters  map[string]any `json:"parameters"`
	Severity    string         `json:"severity,omitempty"`
}

// Violation is one rule violation on one cell.
type Violation struct {
	Row                 int    `json:"row"`
	Column              string `json:"column"`
	Value               string `json:"value"`
	RuleID              string `json:"rule_id"`
	Message             string `json:"message"`
	Severity            string `json:"severity"`
	SuggestedCorrection string `json:"suggested_correction,omitempty"`
}

// Outcome is the immutable result of evaluating a rule set against one
// submission. ValidationID and FileID are assigned by the orchestrator.
type Outcome struct {
	ValidationID  string      `json:"validation_id"`
	FileID        string      `json:"file_id"`
	Status        string      `json:"status"`
	TotalErrors   int         `json:"total_errors"`
	TotalWarnings int         `json:"total_warnings"`
	ProcessedRows int         `json:"processed_rows"`
	Violations    []Violation `json:"violations"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Failed reports whether the outcome carries at least one error violation.
func (o *Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// DefinitionError reports a malformed rule definition. It is raised during
// compilation, before any row is evaluated.
type DefinitionError struct {
	RuleID string
	Reason string
}

func (e *DefinitionError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid rule definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid rule definition %q: %s", e.RuleID, e.Reason)
}

// formatValue renders a loosely typed cell value for violation reports.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
