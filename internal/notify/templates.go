package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/sheetguard/internal/rules"
	"github.com/ignite/sheetguard/internal/storage"
	"github.com/osteele/liquid"
)

// maxListedViolations caps how many violations an email body enumerates.
const maxListedViolations = 10

const failureSubject = "Action required: validation failed for {{ filename }}"
const failureBody = `<html><body>
<h2>Validation failed for {{ filename }}</h2>
<p>Your submission was checked on {{ checked_at }} and {{ total_errors }} error(s)
{% if total_warnings > 0 %}and {{ total_warnings }} warning(s) {% endif %}were found
across {{ processed_rows }} row(s).</p>
<table border="1" cellpadding="4">
<tr><th>Row</th><th>Column</th><th>Value</th><th>Problem</th><th>Suggestion</th></tr>
{% for v in violations %}
<tr><td>{{ v.row }}</td><td>{{ v.column }}</td><td>{{ v.value | escape }}</td>
<td>{{ v.message | escape }}</td><td>{{ v.suggestion | escape }}</td></tr>
{% endfor %}
</table>
{% if remaining > 0 %}<p>...and {{ remaining }} more issue(s) not listed here.</p>{% endif %}
<p>Please correct the file and resubmit by <strong>{{ deadline }}</strong>.</p>
<p>Reference: {{ validation_id }}</p>
</body></html>`

const reminderSubject = "Reminder: {{ filename }} still needs corrections"
const reminderBody = `<html><body>
<h2>Correction reminder for {{ filename }}</h2>
<p>We flagged {{ total_errors }} error(s) in your submission on {{ checked_at }}
and have not received a corrected version yet.</p>
<p>Please resubmit as soon as possible. The original deadline was
<strong>{{ deadline }}</strong>.</p>
<p>Reference: {{ validation_id }}</p>
</body></html>`

const successSubject = "Resolved: {{ filename }} passed validation"
const successBody = `<html><body>
<h2>{{ filename }} is now valid</h2>
<p>Your corrected submission was checked on {{ checked_at }} and all previously
reported issues are resolved. No further action is needed.</p>
<p>Reference: {{ validation_id }}</p>
</body></html>`

// TemplateEngine renders notification emails with Liquid. All templates are
// parsed once at construction.
type TemplateEngine struct {
	subjects map[string]*liquid.Template
	bodies   map[string]*liquid.Template
}

// NewTemplateEngine parses the built-in notification templates. A parse
// failure is a programming error and panics.
func NewTemplateEngine() *TemplateEngine {
	engine := liquid.NewEngine()
	engine.RegisterFilter("escape", func(s string) string {
		r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
		return r.Replace(s)
	})

	parse := func(src string) *liquid.Template {
		tpl, err := engine.ParseString(src)
		if err != nil {
			panic(fmt.Sprintf("notify: parsing built-in template: %v", err))
		}
		return tpl
	}

	return &TemplateEngine{
		subjects: map[string]*liquid.Template{
			TypeFailure:  parse(failureSubject),
			TypeReminder: parse(reminderSubject),
			TypeSuccess:  parse(successSubject),
		},
		bodies: map[string]*liquid.Template{
			TypeFailure:  parse(failureBody),
			TypeReminder: parse(reminderBody),
			TypeSuccess:  parse(successBody),
		},
	}
}

// Render produces the subject and HTML body for one notification.
func (e *TemplateEngine) Render(typ string, outcome *rules.Outcome, meta *storage.FileMetadata, deadline *time.Time) (subject, body string, err error) {
	bindings := map[string]any{
		"filename":       meta.Filename,
		"file_id":        meta.FileID,
		"validation_id":  outcome.ValidationID,
		"total_errors":   outcome.TotalErrors,
		"total_warnings": outcome.TotalWarnings,
		"processed_rows": outcome.ProcessedRows,
		"checked_at":     outcome.Timestamp.UTC().Format("Jan 2, 2006 15:04 UTC"),
		"violations":     violationRows(outcome.Violations),
		"remaining":      max(0, len(outcome.Violations)-maxListedViolations),
	}
	if deadline != nil {
		bindings["deadline"] = deadline.UTC().Format("Jan 2, 2006 15:04 UTC")
	} else {
		bindings["deadline"] = ""
	}

	subjectTpl, ok := e.subjects[typ]
	if !ok {
		return "", "", fmt.Errorf("unknown notification type %q", typ)
	}
	subject, err = subjectTpl.RenderString(bindings)
	if err != nil {
		return "", "", fmt.Errorf("rendering %s subject: %w", typ, err)
	}
	body, err = e.bodies[typ].RenderString(bindings)
	if err != nil {
		return "", "", fmt.Errorf("rendering %s body: %w", typ, err)
	}
	return subject, body, nil
}

func violationRows(violations []rules.Violation) []map[string]any {
	n := len(violations)
	if n > maxListedViolations {
		n = maxListedViolations
	}
	rows := make([]map[string]any, 0, n)
	for _, v := range violations[:n] {
		rows = append(rows, map[string]any{
			"row":        v.Row,
			"column":     v.Column,
			"value":      v.Value,
			"message":    v.Message,
			"suggestion": v.SuggestedCorrection,
		})
	}
	return rows
}
