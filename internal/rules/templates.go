package rules

// Defaults returns the rule set applied when a submission carries no rules.
func Defaults() []Definition {
	return []Definition{
		{
			ID:          "email_format",
			Name:        "Email Format Validation",
			Description: "Validate email format",
			Kind:        KindFormat,
			Parameters: map[string]any{
				"pattern": `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
				"columns": []string{"email"},
			},
			Severity: SeverityError,
		},
	}
}

// Templates returns predefined rule definitions exposed for clients to copy
// and adapt.
func Templates() map[string]Definition {
	return map[string]Definition{
		"email_validation": {
			Name:        "Email Format Validation",
			Description: "Validate email addresses",
			Kind:        KindFormat,
			Parameters: map[string]any{
				"pattern": `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
				"columns": []string{"email"},
			},
			Severity: SeverityError,
		},
		"phone_validation": {
			Name:        "Phone Number Validation",
			Description: "Validate phone number format",
			Kind:        KindFormat,
			Parameters: map[string]any{
				"pattern": `\+?1?-?(\d{3})-?(\d{3})-?(\d{4})`,
				"columns": []string{"phone"},
			},
			Severity: SeverityError,
		},
		"numeric_range": {
			Name:        "Numeric Range Validation",
			Description: "Validate numeric values within range",
			Kind:        KindRange,
			Parameters: map[string]any{
				"min":     0,
				"max":     100,
				"columns": []string{"score", "percentage"},
			},
			Severity: SeverityError,
		},
		"required_fields": {
			Name:        "Required Fields",
			Description: "Ensure required fields are not empty",
			Kind:        KindCustom,
			Parameters: map[string]any{
				"required_columns": []string{"name", "email", "id"},
			},
			Severity: SeverityError,
		},
		"date_format": {
			Name:        "Date Format Validation",
			Description: "Validate date format (YYYY-MM-DD)",
			Kind:        KindFormat,
			Parameters: map[string]any{
				"pattern": `\d{4}-\d{2}-\d{2}`,
				"columns": []string{"date", "created_date"},
			},
			Severity: SeverityWarning,
		},
	}
}
