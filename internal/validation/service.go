// Package validation orchestrates one submission end to end: ingest,
// evaluate, persist the outcome with its ledger entry, and dispatch
// notifications. Persistence happens before notification so a delivery
// failure can never lose an outcome.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/sheetguard/internal/contenthash"
	"github.com/ignite/sheetguard/internal/notify"
	"github.com/ignite/sheetguard/internal/rules"
	"github.com/ignite/sheetguard/internal/storage"
	"github.com/ignite/sheetguard/internal/workbook"
)

// Options adjust a single process or verify run.
type Options struct {
	// Rules to evaluate. Empty means the default rule set.
	Rules []rules.Definition
	// Requester is notified in addition to addresses found in the sheet.
	Requester string
	// LookupField overrides the column scanned for recipient addresses.
	LookupField string
}

// ProcessResult is the full outcome of one submission.
type ProcessResult struct {
	Outcome       *rules.Outcome         `json:"outcome"`
	FileID        string                 `json:"file_id"`
	ContentHash   string                 `json:"content_hash"`
	Notifications *notify.DispatchResult `json:"notifications,omitempty"`
}

// VerifyResult reports whether a resubmission actually changed and, when it
// did, how the new content validated.
type VerifyResult struct {
	FileID          string                 `json:"file_id"`
	Changed         bool                   `json:"changed"`
	Status          string                 `json:"status"`
	RemainingErrors int                    `json:"remaining_errors"`
	ContentHash     string                 `json:"content_hash"`
	Outcome         *rules.Outcome         `json:"outcome,omitempty"`
	Notifications   *notify.DispatchResult `json:"notifications,omitempty"`
}

// CompareResult reports content equality between a stored file and an
// uploaded candidate, with no side effects.
type CompareResult struct {
	FileID        string `json:"file_id"`
	Changed       bool   `json:"changed"`
	StoredHash    string `json:"stored_hash"`
	CandidateHash string `json:"candidate_hash"`
}

// Service wires the ingestor, rule engine, store and notifier together.
type Service struct {
	ingestor    *workbook.Ingestor
	store       storage.Store
	notifier    *notify.Service
	lookupField string
	now         func() time.Time
}

// NewService creates the orchestrator. lookupField names the sheet column
// scanned for notification recipients.
func NewService(ingestor *workbook.Ingestor, store storage.Store, notifier *notify.Service, lookupField string) *Service {
	if lookupField == "" {
		lookupField = "email"
	}
	return &Service{
		ingestor:    ingestor,
		store:       store,
		notifier:    notifier,
		lookupField: lookupField,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process ingests a submission, validates it, records the outcome together
// with its ledger entry, archives the raw bytes, and notifies recipients on
// failure. The returned error only covers ingest, rule and persistence
// problems; notification delivery failures are reported in the result.
func (s *Service) Process(ctx context.Context, payload []byte, filename string, opts Options) (*ProcessResult, error) {
	table, err := s.ingestor.Ingest(payload, filename)
	if err != nil {
		return nil, err
	}

	outcome, err := rules.Evaluate(table, s.effectiveRules(opts))
	if err != nil {
		return nil, err
	}

	hash := contenthash.Table(table)
	fileID := contenthash.FileID(hash)
	outcome.ValidationID = "val_" + uuid.New().String()
	outcome.FileID = fileID
	outcome.Timestamp = s.now()

	if err := s.store.ArchiveSubmission(ctx, fileID, outcome.ValidationID, payload); err != nil {
		return nil, fmt.Errorf("archiving submission: %w", err)
	}

	meta := &storage.FileMetadata{
		FileID:           fileID,
		Filename:         filename,
		ContentHash:      hash,
		ByteSize:         int64(len(payload)),
		FirstUploadedAt:  outcome.Timestamp,
		LastValidationID: outcome.ValidationID,
	}

	var entry *storage.TrackingEntry
	if outcome.Failed() {
		entry = s.trackingEntry(fileID, outcome.ValidationID, storage.TrackingFailed, hash)
	}
	if err := s.store.RecordOutcome(ctx, outcome, meta, entry); err != nil {
		return nil, err
	}

	result := &ProcessResult{Outcome: outcome, FileID: fileID, ContentHash: hash}
	if outcome.Failed() {
		recipients := s.recipients(table, opts)
		result.Notifications = s.notifier.Dispatch(ctx, notify.TypeFailure, outcome, meta, recipients)
	}
	return result, nil
}

// ValidateOnly evaluates a submission without persisting anything and
// without notifying anyone.
func (s *Service) ValidateOnly(payload []byte, filename string, defs []rules.Definition) (*rules.Outcome, error) {
	table, err := s.ingestor.Ingest(payload, filename)
	if err != nil {
		return nil, err
	}
	return s.validateTable(table, defs)
}

// ValidateTable evaluates already-parsed rows, for callers submitting inline
// data instead of an encoded workbook.
func (s *Service) ValidateTable(table *workbook.Table, defs []rules.Definition) (*rules.Outcome, error) {
	return s.validateTable(table, defs)
}

func (s *Service) validateTable(table *workbook.Table, defs []rules.Definition) (*rules.Outcome, error) {
	if len(defs) == 0 {
		defs = rules.Defaults()
	}
	outcome, err := rules.Evaluate(table, defs)
	if err != nil {
		return nil, err
	}
	outcome.ValidationID = "val_" + uuid.New().String()
	outcome.Timestamp = s.now()
	return outcome, nil
}

// Verify re-validates a resubmission of a known file. Unchanged content is a
// no-op: nothing is written and no notification goes out. Changed content
// that now passes appends one corrected ledger entry and sends one success
// notification; changed content that still fails starts a fresh failure
// cycle under a new validation id.
func (s *Service) Verify(ctx context.Context, fileID string, payload []byte, filename string, opts Options) (*VerifyResult, error) {
	meta, err := s.store.GetFileMetadata(ctx, fileID)
	if err != nil {
		return nil, err
	}

	table, err := s.ingestor.Ingest(payload, filename)
	if err != nil {
		return nil, err
	}

	newHash := contenthash.Table(table)
	if newHash == meta.ContentHash {
		previous, err := s.store.GetOutcome(ctx, meta.LastValidationID)
		if err != nil {
			return nil, err
		}
		return &VerifyResult{
			FileID:          fileID,
			Changed:         false,
			Status:          previous.Status,
			RemainingErrors: previous.TotalErrors,
			ContentHash:     newHash,
		}, nil
	}

	outcome, err := rules.Evaluate(table, s.effectiveRules(opts))
	if err != nil {
		return nil, err
	}
	outcome.ValidationID = "val_" + uuid.New().String()
	outcome.FileID = fileID
	outcome.Timestamp = s.now()

	if err := s.store.ArchiveSubmission(ctx, fileID, outcome.ValidationID, payload); err != nil {
		return nil, fmt.Errorf("archiving submission: %w", err)
	}

	status := storage.TrackingCorrected
	if outcome.Failed() {
		status = storage.TrackingFailed
	}
	entry := s.trackingEntry(fileID, outcome.ValidationID, status, newHash)

	updated := *meta
	updated.Filename = filename
	updated.ContentHash = newHash
	updated.ByteSize = int64(len(payload))
	updated.LastValidationID = outcome.ValidationID
	if err := s.store.RecordOutcome(ctx, outcome, &updated, entry); err != nil {
		return nil, err
	}

	result := &VerifyResult{
		FileID:          fileID,
		Changed:         true,
		Status:          outcome.Status,
		RemainingErrors: outcome.TotalErrors,
		ContentHash:     newHash,
		Outcome:         outcome,
	}
	if outcome.Failed() {
		result.Notifications = s.notifier.Dispatch(ctx, notify.TypeFailure, outcome, &updated, s.recipients(table, opts))
	} else {
		result.Notifications = s.notifier.Dispatch(ctx, notify.TypeSuccess, outcome, &updated, s.successRecipients(ctx, fileID, table, opts))
	}
	return result, nil
}

// Compare hashes an uploaded candidate against the stored content of a file
// without recording anything.
func (s *Service) Compare(ctx context.Context, fileID string, payload []byte, filename string) (*CompareResult, error) {
	meta, err := s.store.GetFileMetadata(ctx, fileID)
	if err != nil {
		return nil, err
	}
	table, err := s.ingestor.Ingest(payload, filename)
	if err != nil {
		return nil, err
	}
	candidate := contenthash.Table(table)
	return &CompareResult{
		FileID:        fileID,
		Changed:       candidate != meta.ContentHash,
		StoredHash:    meta.ContentHash,
		CandidateHash: candidate,
	}, nil
}

func (s *Service) effectiveRules(opts Options) []rules.Definition {
	if len(opts.Rules) > 0 {
		return opts.Rules
	}
	return rules.Defaults()
}

func (s *Service) trackingEntry(fileID, validationID, status, hash string) *storage.TrackingEntry {
	return &storage.TrackingEntry{
		TrackingID:   "trk_" + uuid.New().String(),
		FileID:       fileID,
		ValidationID: validationID,
		Status:       status,
		ContentHash:  hash,
		Timestamp:    s.now(),
	}
}

// recipients collects addresses from the submission's lookup column plus the
// requester, if any.
func (s *Service) recipients(table *workbook.Table, opts Options) []string {
	field := opts.LookupField
	if field == "" {
		field = s.lookupField
	}

	var out []string
	for _, v := range table.Strings(field) {
		if strings.Contains(v, "@") {
			out = append(out, v)
		}
	}
	if opts.Requester != "" {
		out = append(out, opts.Requester)
	}
	return out
}

// successRecipients prefers whoever received the original failure
// notification, falling back to the current submission's addresses.
func (s *Service) successRecipients(ctx context.Context, fileID string, table *workbook.Table, opts Options) []string {
	failures, err := s.store.ListNotificationsByType(ctx, notify.TypeFailure)
	if err == nil {
		var out []string
		for _, rec := range failures {
			if rec.FileID == fileID {
				out = append(out, rec.Recipient)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return s.recipients(table, opts)
}
