package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/sheetguard/internal/notify"
	"github.com/ignite/sheetguard/internal/rules"
	"github.com/ignite/sheetguard/internal/storage"
	"github.com/ignite/sheetguard/internal/validation"
	"github.com/ignite/sheetguard/internal/workbook"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	validator *validation.Service
	notifier  *notify.Service
	store     storage.Store
}

// NewHandlers creates a new Handlers instance
func NewHandlers(validator *validation.Service, notifier *notify.Service, store storage.Store) *Handlers {
	return &Handlers{
		validator: validator,
		notifier:  notifier,
		store:     store,
	}
}

// submissionRequest is the JSON body shared by the submission endpoints.
// Workbook bytes arrive base64-encoded, or as a multipart "file" part.
type submissionRequest struct {
	FileID        string             `json:"file_id,omitempty"`
	Filename      string             `json:"filename"`
	ContentBase64 string             `json:"content_base64,omitempty"`
	Rows          []map[string]any   `json:"rows,omitempty"`
	Rules         []rules.Definition `json:"rules,omitempty"`
	Requester     string             `json:"requester,omitempty"`
	LookupField   string             `json:"lookup_field,omitempty"`
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ProcessSubmission validates an uploaded workbook, records the outcome and
// ledger entry, and notifies recipients when validation fails.
func (h *Handlers) ProcessSubmission(w http.ResponseWriter, r *http.Request) {
	req, payload, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}

	result, err := h.validator.Process(r.Context(), payload, req.Filename, validation.Options{
		Rules:       req.Rules,
		Requester:   req.Requester,
		LookupField: req.LookupField,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ValidateSubmission evaluates rules without persisting anything. Accepts
// either an encoded workbook or inline rows.
func (h *Handlers) ValidateSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var outcome *rules.Outcome
	var err error
	switch {
	case len(req.Rows) > 0:
		outcome, err = h.validator.ValidateTable(tableFromRows(req.Rows), req.Rules)
	case req.ContentBase64 != "":
		var payload []byte
		payload, err = base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid base64 content")
			return
		}
		outcome, err = h.validator.ValidateOnly(payload, req.Filename, req.Rules)
	default:
		respondError(w, http.StatusBadRequest, "either rows or content_base64 is required")
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// VerifySubmission re-validates a resubmission of a known file.
func (h *Handlers) VerifySubmission(w http.ResponseWriter, r *http.Request) {
	req, payload, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}
	if req.FileID == "" {
		respondError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	result, err := h.validator.Verify(r.Context(), req.FileID, payload, req.Filename, validation.Options{
		Rules:       req.Rules,
		Requester:   req.Requester,
		LookupField: req.LookupField,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// CompareSubmission hashes an upload against stored content, with no writes.
func (h *Handlers) CompareSubmission(w http.ResponseWriter, r *http.Request) {
	req, payload, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}
	if req.FileID == "" {
		respondError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	result, err := h.validator.Compare(r.Context(), req.FileID, payload, req.Filename)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetFileStatus returns file metadata with its latest validation outcome.
func (h *Handlers) GetFileStatus(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	meta, err := h.store.GetFileMetadata(r.Context(), fileID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	response := map[string]any{"file": meta}
	if outcome, err := h.store.GetOutcome(r.Context(), meta.LastValidationID); err == nil {
		response["last_outcome"] = outcome
	}
	respondJSON(w, http.StatusOK, response)
}

// GetFileHistory returns the append-only change ledger for a file.
func (h *Handlers) GetFileHistory(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	if _, err := h.store.GetFileMetadata(r.Context(), fileID); err != nil {
		respondServiceError(w, err)
		return
	}
	history, err := h.store.History(r.Context(), fileID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"file_id": fileID,
		"history": history,
		"total":   len(history),
	})
}

// GetValidation returns a recorded validation outcome by id.
func (h *Handlers) GetValidation(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.store.GetOutcome(r.Context(), chi.URLParam(r, "validationID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// checkRuleRequest carries one rule definition and optional sample rows to
// test it against.
type checkRuleRequest struct {
	Rule       rules.Definition `json:"rule"`
	SampleRows []map[string]any `json:"sample_rows,omitempty"`
}

// CheckRule compiles a rule definition and, when sample rows are supplied,
// evaluates it against them. Rules are supplied per request; nothing is
// stored.
func (h *Handlers) CheckRule(w http.ResponseWriter, r *http.Request) {
	var req checkRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	defs := []rules.Definition{req.Rule}
	if _, err := rules.Compile(defs); err != nil {
		respondServiceError(w, err)
		return
	}

	response := map[string]any{"valid": true, "rule_id": req.Rule.ID}
	if len(req.SampleRows) > 0 {
		outcome, err := rules.Evaluate(tableFromRows(req.SampleRows), defs)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		response["sample_outcome"] = outcome
	}
	respondJSON(w, http.StatusOK, response)
}

// GetRuleTemplates returns the built-in rule templates.
func (h *Handlers) GetRuleTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"templates": rules.Templates()})
}

// notifyRequest triggers a manual notification dispatch for a recorded
// validation.
type notifyRequest struct {
	ValidationID string   `json:"validation_id"`
	Type         string   `json:"type,omitempty"`
	Recipients   []string `json:"recipients"`
}

// SendNotification dispatches notifications for a recorded outcome. Already
// claimed (validation, recipient, type) pairs are skipped, so repeating the
// call cannot double-send.
func (h *Handlers) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ValidationID == "" || len(req.Recipients) == 0 {
		respondError(w, http.StatusBadRequest, "validation_id and recipients are required")
		return
	}
	typ := req.Type
	if typ == "" {
		typ = notify.TypeFailure
	}
	if typ != notify.TypeFailure && typ != notify.TypeReminder && typ != notify.TypeSuccess {
		respondError(w, http.StatusBadRequest, "unknown notification type")
		return
	}

	result, err := h.notifier.DispatchForValidation(r.Context(), typ, req.ValidationID, req.Recipients)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RunReminderSweep triggers one bounded reminder pass.
func (h *Handlers) RunReminderSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.notifier.RunReminderSweep(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetNotification returns a notification record by id.
func (h *Handlers) GetNotification(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetNotification(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// decodeSubmission reads a submission from either a JSON body with base64
// content or a multipart form with a "file" part. On failure it writes the
// error response and returns ok=false.
func (h *Handlers) decodeSubmission(w http.ResponseWriter, r *http.Request) (*submissionRequest, []byte, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return h.decodeMultipart(w, r)
	}

	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, nil, false
	}
	if req.ContentBase64 == "" {
		respondError(w, http.StatusBadRequest, "content_base64 is required")
		return nil, nil, false
	}
	payload, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid base64 content")
		return nil, nil, false
	}
	return &req, payload, true
}

func (h *Handlers) decodeMultipart(w http.ResponseWriter, r *http.Request) (*submissionRequest, []byte, bool) {
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file part")
		return nil, nil, false
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "reading file part")
		return nil, nil, false
	}

	req := &submissionRequest{
		FileID:      r.FormValue("file_id"),
		Filename:    header.Filename,
		Requester:   r.FormValue("requester"),
		LookupField: r.FormValue("lookup_field"),
	}
	if raw := r.FormValue("rules"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Rules); err != nil {
			respondError(w, http.StatusBadRequest, "invalid rules JSON")
			return nil, nil, false
		}
	}
	return req, payload, true
}

// tableFromRows converts inline JSON rows into a workbook table.
func tableFromRows(rows []map[string]any) *workbook.Table {
	columns := map[string]bool{}
	table := &workbook.Table{}
	for i, values := range rows {
		for name := range values {
			columns[name] = true
		}
		table.Rows = append(table.Rows, workbook.Row{Index: i + 1, Values: values})
	}
	for name := range columns {
		table.Columns = append(table.Columns, name)
	}
	sort.Strings(table.Columns)
	return table
}

func respondServiceError(w http.ResponseWriter, err error) {
	var defErr *rules.DefinitionError
	switch {
	case errors.Is(err, workbook.ErrPayloadTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, workbook.ErrUnsupportedFormat), errors.Is(err, workbook.ErrEmptyWorkbook):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &defErr):
		respondError(w, http.StatusBadRequest, defErr.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
