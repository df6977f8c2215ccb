package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ignite/sheetguard/internal/config"
	"github.com/ignite/sheetguard/internal/notify"
	"github.com/ignite/sheetguard/internal/rules"
	"github.com/ignite/sheetguard/internal/storage"
	"github.com/ignite/sheetguard/internal/validation"
	"github.com/ignite/sheetguard/internal/workbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	sent []string
}

func (s *captureSender) Send(_ context.Context, to, _, _, _ string) (string, error) {
	s.sent = append(s.sent, to)
	return fmt.Sprintf("msg-%d", len(s.sent)), nil
}

type testEnv struct {
	handler http.Handler
	store   *storage.MemoryStore
	sender  *captureSender
}

func newTestEnv() *testEnv {
	store := storage.NewMemoryStore()
	sender := &captureSender{}
	notifier := notify.NewService(store, sender, config.NotifyConfig{ReminderWindowHours: 72, ReminderSweepCap: 50}, nil)
	ingestor := workbook.New(config.IngestConfig{MaxFileSizeMB: 1, SupportedTypes: []string{"xlsx", "csv"}})
	validator := validation.NewService(ingestor, store, notifier, "email")
	server := NewServer(config.ServerConfig{}, validator, notifier, store)
	return &testEnv{handler: server.Handler(), store: store, sender: sender}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

var testRules = []rules.Definition{
	{
		ID: "email_format", Name: "Email format", Kind: rules.KindFormat,
		Parameters: map[string]any{"columns": []string{"email"}, "pattern": `[^@\s]+@[^@\s]+\.[^@\s]+`},
	},
	{
		ID: "score_range", Name: "Score range", Kind: rules.KindRange,
		Parameters: map[string]any{"columns": []string{"score"}, "min": 0.0, "max": 100.0},
	},
}

func submission(content, filename string) map[string]any {
	return map[string]any{
		"filename":       filename,
		"content_base64": base64.StdEncoding.EncodeToString([]byte(content)),
		"rules":          testRules,
	}
}

const failingCSV = "email,score\nalice@example.com,95\nbogus,120\n"
const passingCSV = "email,score\nalice@example.com,95\nbob@example.com,80\n"

func TestHealthCheck(t *testing.T) {
	env := newTestEnv()
	rec := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessSubmission(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/process", submission(failingCSV, "report.csv"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result validation.ProcessResult
	decodeBody(t, rec, &result)
	assert.Equal(t, rules.StatusFailed, result.Outcome.Status)
	assert.Equal(t, 2, result.Outcome.TotalErrors)
	assert.NotEmpty(t, result.FileID)
	assert.Equal(t, []string{"alice@example.com"}, env.sender.sent)
}

func TestProcessUnsupportedFormat(t *testing.T) {
	env := newTestEnv()
	rec := env.postJSON(t, "/api/process", submission("junk", "report.pdf"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessOversizedPayload(t *testing.T) {
	env := newTestEnv()
	big := make([]byte, 2<<20)
	rec := env.postJSON(t, "/api/process", submission(string(big), "report.csv"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProcessBadBase64(t *testing.T) {
	env := newTestEnv()
	rec := env.postJSON(t, "/api/process", map[string]any{
		"filename":       "report.csv",
		"content_base64": "not-base64!!!",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateInlineRows(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/validate", map[string]any{
		"rows": []map[string]any{
			{"email": "alice@example.com", "score": 95},
			{"email": "bogus", "score": 120},
		},
		"rules": testRules,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome rules.Outcome
	decodeBody(t, rec, &outcome)
	assert.Equal(t, rules.StatusFailed, outcome.Status)
	assert.Empty(t, env.sender.sent, "validate-only must not notify")
}

func TestValidateMalformedRule(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/validate", map[string]any{
		"rows":  []map[string]any{{"score": 50}},
		"rules": []map[string]any{{"id": "r", "name": "r", "kind": "range", "parameters": map[string]any{"column": "score"}}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateRequiresInput(t *testing.T) {
	env := newTestEnv()
	rec := env.postJSON(t, "/api/validate", map[string]any{"filename": "report.csv"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyUnknownFile(t *testing.T) {
	env := newTestEnv()

	body := submission(passingCSV, "report.csv")
	body["file_id"] = "file_missing"
	rec := env.postJSON(t, "/api/verify", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyCorrectedRoundTrip(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/process", submission(failingCSV, "report.csv"))
	require.Equal(t, http.StatusOK, rec.Code)
	var processed validation.ProcessResult
	decodeBody(t, rec, &processed)

	body := submission(passingCSV, "report.csv")
	body["file_id"] = processed.FileID
	rec = env.postJSON(t, "/api/verify", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result validation.VerifyResult
	decodeBody(t, rec, &result)
	assert.True(t, result.Changed)
	assert.Equal(t, rules.StatusPassed, result.Status)
	assert.Equal(t, 0, result.RemainingErrors)

	rec = env.get(t, "/api/files/"+processed.FileID+"/history")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Total int `json:"total"`
	}
	decodeBody(t, rec, &history)
	assert.Equal(t, 2, history.Total)
}

func TestCompareSubmission(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/process", submission(failingCSV, "report.csv"))
	require.Equal(t, http.StatusOK, rec.Code)
	var processed validation.ProcessResult
	decodeBody(t, rec, &processed)

	body := submission(failingCSV, "report.csv")
	body["file_id"] = processed.FileID
	rec = env.postJSON(t, "/api/compare", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result validation.CompareResult
	decodeBody(t, rec, &result)
	assert.False(t, result.Changed)
}

func TestGetFileStatus(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/process", submission(failingCSV, "report.csv"))
	require.Equal(t, http.StatusOK, rec.Code)
	var processed validation.ProcessResult
	decodeBody(t, rec, &processed)

	rec = env.get(t, "/api/files/"+processed.FileID+"/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		File        storage.FileMetadata `json:"file"`
		LastOutcome rules.Outcome        `json:"last_outcome"`
	}
	decodeBody(t, rec, &status)
	assert.Equal(t, processed.FileID, status.File.FileID)
	assert.Equal(t, rules.StatusFailed, status.LastOutcome.Status)

	rec = env.get(t, "/api/files/file_missing/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetValidation(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/process", submission(failingCSV, "report.csv"))
	require.Equal(t, http.StatusOK, rec.Code)
	var processed validation.ProcessResult
	decodeBody(t, rec, &processed)

	rec = env.get(t, "/api/validations/"+processed.Outcome.ValidationID)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/api/validations/val_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuleTemplates(t *testing.T) {
	env := newTestEnv()
	rec := env.get(t, "/api/rules/templates")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "email")
}

func TestCheckRule(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/rules", map[string]any{
		"rule": map[string]any{
			"id": "score_range", "name": "Score range", "kind": "range",
			"parameters": map[string]any{"columns": []string{"score"}, "min": 0, "max": 100},
		},
		"sample_rows": []map[string]any{{"score": 150}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Valid         bool          `json:"valid"`
		SampleOutcome rules.Outcome `json:"sample_outcome"`
	}
	decodeBody(t, rec, &result)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.SampleOutcome.TotalErrors)

	rec = env.postJSON(t, "/api/rules", map[string]any{
		"rule": map[string]any{"id": "r", "name": "r", "kind": "range", "parameters": map[string]any{"columns": []string{"score"}}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendNotificationIdempotent(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/process", submission(failingCSV, "report.csv"))
	require.Equal(t, http.StatusOK, rec.Code)
	var processed validation.ProcessResult
	decodeBody(t, rec, &processed)
	sentBefore := len(env.sender.sent)

	body := map[string]any{
		"validation_id": processed.Outcome.ValidationID,
		"recipients":    []string{"ops@example.com"},
	}
	rec = env.postJSON(t, "/api/notify", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var first notify.DispatchResult
	decodeBody(t, rec, &first)
	assert.Equal(t, 1, first.Sent)

	rec = env.postJSON(t, "/api/notify", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var second notify.DispatchResult
	decodeBody(t, rec, &second)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, env.sender.sent, sentBefore+1)
}

func TestSendNotificationValidation(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/notify", map[string]any{"recipients": []string{"a@b.com"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/api/notify", map[string]any{
		"validation_id": "val_x", "type": "bogus", "recipients": []string{"a@b.com"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/api/notify", map[string]any{
		"validation_id": "val_missing", "recipients": []string{"a@b.com"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetNotification(t *testing.T) {
	env := newTestEnv()

	rec := env.postJSON(t, "/api/process", submission(failingCSV, "report.csv"))
	require.Equal(t, http.StatusOK, rec.Code)
	var processed validation.ProcessResult
	decodeBody(t, rec, &processed)
	require.NotNil(t, processed.Notifications)
	require.NotEmpty(t, processed.Notifications.NotificationIDs)

	rec = env.get(t, "/api/notifications/"+processed.Notifications.NotificationIDs[0])
	require.Equal(t, http.StatusOK, rec.Code)
	var record storage.NotificationRecord
	decodeBody(t, rec, &record)
	assert.Equal(t, storage.DeliverySent, record.DeliveryStatus)

	rec = env.get(t, "/api/notifications/ntf_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReminderSweepEndpoint(t *testing.T) {
	env := newTestEnv()
	rec := env.postJSON(t, "/api/notify/sweep", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)

	var result notify.SweepResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 0, result.Sent)
}
