package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/sheetguard/internal/workbook"
)

// checker is one compiled rule applied to every row.
type checker interface {
	check(row workbook.Row) []Violation
}

// Compile validates every definition and resolves kind-specific parameters.
// A single malformed definition fails the whole set.
func Compile(defs []Definition) ([]checker, error) {
	checkers := make([]checker, 0, len(defs))
	for i := range defs {
		def := defs[i]
		if def.Severity == "" {
			def.Severity = SeverityError
		}
		if def.Severity != SeverityError && def.Severity != SeverityWarning {
			return nil, &DefinitionError{RuleID: def.ID, Reason: fmt.Sprintf("unknown severity %q", def.Severity)}
		}

		var (
			c   checker
			err error
		)
		switch def.Kind {
		case KindFormat:
			c, err = compileFormat(def)
		case KindRange:
			c, err = compileRange(def)
		case KindDataType:
			c, err = compileDataType(def)
		case KindCustom:
			c, err = compileCustom(def)
		default:
			err = &DefinitionError{RuleID: def.ID, Reason: fmt.Sprintf("unknown kind %q", def.Kind)}
		}
		if err != nil {
			return nil, err
		}
		checkers = append(checkers, c)
	}
	return checkers, nil
}

// Evaluate runs the definitions against the table in definition order.
// Every rule checks every row; a single row may accumulate violations from
// multiple rules. The returned outcome carries no file or validation id.
func Evaluate(table *workbook.Table, defs []Definition) (*Outcome, error) {
	checkers, err := Compile(defs)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		ProcessedRows: len(table.Rows),
		Timestamp:     time.Now().UTC(),
	}
	for _, c := range checkers {
		for _, row := range table.Rows {
			outcome.Violations = append(outcome.Violations, c.check(row)...)
		}
	}

	for _, v := range outcome.Violations {
		if v.Severity == SeverityWarning {
			outcome.TotalWarnings++
		} else {
			outcome.TotalErrors++
		}
	}
	if outcome.TotalErrors > 0 {
		outcome.Status = StatusFailed
	} else {
		outcome.Status = StatusPassed
	}
	return outcome, nil
}

// ---- format ----

type formatChecker struct {
	def     Definition
	pattern string
	re      *regexp.Regexp
	columns []string
}

func compileFormat(def Definition) (checker, error) {
	pattern, ok := stringParam(def.Parameters, "pattern")
	if !ok || pattern == "" {
		return nil, &DefinitionError{RuleID: def.ID, Reason: "format rule requires a pattern parameter"}
	}
	columns, err := columnsParam(def, "columns")
	if err != nil {
		return nil, err
	}
	// Whole-cell match regardless of how the pattern is anchored.
	re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
	if err != nil {
		return nil, &DefinitionError{RuleID: def.ID, Reason: fmt.Sprintf("invalid pattern: %v", err)}
	}
	return &formatChecker{def: def, pattern: pattern, re: re, columns: columns}, nil
}

func (c *formatChecker) check(row workbook.Row) []Violation {
	var out []Violation
	for _, col := range c.columns {
		v, ok := row.Values[col]
		if !ok || v == nil {
			continue
		}
		if !c.re.MatchString(formatValue(v)) {
			out = append(out, Violation{
				Row:                 row.Index,
				Column:              col,
				Value:               formatValue(v),
				RuleID:              c.def.ID,
				Message:             fmt.Sprintf("value does not match the format required by rule %q", c.def.Name),
				Severity:            c.def.Severity,
				SuggestedCorrection: fmt.Sprintf("provide a value matching pattern %s", c.pattern),
			})
		}
	}
	return out
}

// ---- range ----

type rangeChecker struct {
	def      Definition
	min, max float64
	columns  []string
}

func compileRange(def Definition) (checker, error) {
	min, hasMin := floatParam(def.Parameters, "min")
	max, hasMax := floatParam(def.Parameters, "max")
	if !hasMin && !hasMax {
		return nil, &DefinitionError{RuleID: def.ID, Reason: "range rule requires a min or max parameter"}
	}
	if !hasMin {
		min = math.Inf(-1)
	}
	if !hasMax {
		max = math.Inf(1)
	}
	if min > max {
		return nil, &DefinitionError{RuleID: def.ID, Reason: "range rule min exceeds max"}
	}
	columns, err := columnsParam(def, "columns")
	if err != nil {
		return nil, err
	}
	return &rangeChecker{def: def, min: min, max: max, columns: columns}, nil
}

func (c *rangeChecker) bounds() string {
	return fmt.Sprintf("%s..%s",
		strconv.FormatFloat(c.min, 'g', -1, 64),
		strconv.FormatFloat(c.max, 'g', -1, 64))
}

func (c *rangeChecker) check(row workbook.Row) []Violation {
	var out []Violation
	for _, col := range c.columns {
		v, ok := row.Values[col]
		if !ok || v == nil {
			continue
		}
		suggestion := fmt.Sprintf("provide a numeric value within %s inclusive", c.bounds())

		num, numeric := asFloat(v)
		if !numeric {
			out = append(out, Violation{
				Row:                 row.Index,
				Column:              col,
				Value:               formatValue(v),
				RuleID:              c.def.ID,
				Message:             fmt.Sprintf("value %q is not numeric", formatValue(v)),
				Severity:            c.def.Severity,
				SuggestedCorrection: suggestion,
			})
			continue
		}
		if num < c.min || num > c.max {
			out = append(out, Violation{
				Row:                 row.Index,
				Column:              col,
				Value:               formatValue(v),
				RuleID:              c.def.ID,
				Message:             fmt.Sprintf("value %s is outside range %s", formatValue(v), c.bounds()),
				Severity:            c.def.Severity,
				SuggestedCorrection: suggestion,
			})
		}
	}
	return out
}

// ---- data_type ----

type dataTypeChecker struct {
	def      Definition
	expected string
	columns  []string
}

func compileDataType(def Definition) (checker, error) {
	expected, ok := stringParam(def.Parameters, "expected_type")
	if !ok {
		return nil, &DefinitionError{RuleID: def.ID, Reason: "data_type rule requires an expected_type parameter"}
	}
	switch expected {
	case "int", "float", "bool", "string":
	default:
		return nil, &DefinitionError{RuleID: def.ID, Reason: fmt.Sprintf("unknown expected_type %q", expected)}
	}
	columns, err := columnsParam(def, "columns")
	if err != nil {
		return nil, err
	}
	return &dataTypeChecker{def: def, expected: expected, columns: columns}, nil
}

func (c *dataTypeChecker) check(row workbook.Row) []Violation {
	var out []Violation
	for _, col := range c.columns {
		v, ok := row.Values[col]
		if !ok || v == nil {
			continue
		}
		if coercible(v, c.expected) {
			continue
		}
		out = append(out, Violation{
			Row:                 row.Index,
			Column:              col,
			Value:               formatValue(v),
			RuleID:              c.def.ID,
			Message:             fmt.Sprintf("expected a %s value", c.expected),
			Severity:            c.def.Severity,
			SuggestedCorrection: fmt.Sprintf("provide a %s value", c.expected),
		})
	}
	return out
}

func coercible(v any, expected string) bool {
	switch expected {
	case "string":
		return true
	case "float":
		_, ok := asFloat(v)
		return ok
	case "int":
		num, ok := asFloat(v)
		return ok && num == math.Trunc(num)
	case "bool":
		switch val := v.(type) {
		case bool:
			return true
		case string:
			lower := strings.ToLower(strings.TrimSpace(val))
			return lower == "true" || lower == "false"
		}
		return false
	}
	return false
}

// ---- custom (required columns) ----

type requiredChecker struct {
	def     Definition
	columns []string
}

func compileCustom(def Definition) (checker, error) {
	columns, err := columnsParam(def, "required_columns")
	if err != nil {
		return nil, err
	}
	return &requiredChecker{def: def, columns: columns}, nil
}

func (c *requiredChecker) check(row workbook.Row) []Violation {
	var out []Violation
	for _, col := range c.columns {
		v, ok := row.Values[col]
		if ok && v != nil && formatValue(v) != "" {
			continue
		}
		out = append(out, Violation{
			Row:                 row.Index,
			Column:              col,
			RuleID:              c.def.ID,
			Message:             fmt.Sprintf("required column %q is missing or empty", col),
			Severity:            c.def.Severity,
			SuggestedCorrection: "provide a value",
		})
	}
	return out
}

// ---- parameter helpers ----

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

func columnsParam(def Definition, key string) ([]string, error) {
	v, ok := def.Parameters[key]
	if !ok {
		return nil, &DefinitionError{RuleID: def.ID, Reason: fmt.Sprintf("%s rule requires a %s parameter", def.Kind, key)}
	}
	var columns []string
	switch list := v.(type) {
	case []string:
		columns = list
	case []any:
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &DefinitionError{RuleID: def.ID, Reason: fmt.Sprintf("%s must be a list of column names", key)}
			}
			columns = append(columns, s)
		}
	default:
		return nil, &DefinitionError{RuleID: def.ID, Reason: fmt.Sprintf("%s must be a list of column names", key)}
	}
	if len(columns) == 0 {
		return nil, &DefinitionError{RuleID: def.ID, Reason: fmt.Sprintf("%s must name at least one column", key)}
	}
	return columns, nil
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return n, err == nil
	}
	return 0, false
}
