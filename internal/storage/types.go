// Package storage persists file metadata, validation outcomes, the change
// tracking ledger and notification records. Two implementations exist: an
// in-memory store for tests and local development, and an AWS store backed
// by DynamoDB with raw submissions archived in S3.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/sheetguard/internal/rules"
)

// ErrNotFound is returned when a requested identifier does not exist.
var ErrNotFound = errors.New("not found")

// Notification delivery statuses.
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// Change tracking statuses.
const (
	TrackingFailed    = "failed"
	TrackingCorrected = "corrected"
	TrackingVerified  = "verified"
)

// FileMetadata describes one logical file, keyed by content-derived file id.
type FileMetadata struct {
	FileID           string    `json:"file_id"`
	Filename         string    `json:"filename"`
	ContentHash      string    `json:"content_hash"`
	ByteSize         int64     `json:"byte_size"`
	FirstUploadedAt  time.Time `json:"first_uploaded_at"`
	LastValidationID string    `json:"last_validation_id"`
}

// TrackingEntry is one append-only ledger record of a status transition.
// Entries are never mutated or deleted.
type TrackingEntry struct {
	TrackingID   string    `json:"tracking_id"`
	FileID       string    `json:"file_id"`
	ValidationID string    `json:"validation_id"`
	Status       string    `json:"status"`
	ContentHash  string    `json:"content_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

// NotificationRecord is the durable record of one notification attempt.
// At most one record exists per (file_id, validation_id, recipient, type).
type NotificationRecord struct {
	NotificationID     string     `json:"notification_id"`
	FileID             string     `json:"file_id"`
	ValidationID       string     `json:"validation_id"`
	Recipient          string     `json:"recipient"`
	Type               string     `json:"type"`
	Subject            string     `json:"subject"`
	DeliveryStatus     string     `json:"delivery_status"`
	MessageID          string     `json:"message_id,omitempty"`
	SentTimestamp      time.Time  `json:"sent_timestamp"`
	CorrectionDeadline *time.Time `json:"correction_deadline,omitempty"`
}

// ClaimKey is the idempotency key for a notification record.
func (r *NotificationRecord) ClaimKey() string {
	return r.ValidationID + "#" + r.Type + "#" + r.Recipient
}

// Store is the metadata store contract consumed by the orchestrator and the
// notification state machine.
type Store interface {
	// GetFileMetadata returns the metadata for a logical file, or ErrNotFound.
	GetFileMetadata(ctx context.Context, fileID string) (*FileMetadata, error)

	// RecordOutcome persists a validation outcome, the file metadata upsert
	// and the optional ledger entry as one unit: on error nothing is visible.
	// A duplicate (file_id, content_hash) ledger entry is silently skipped;
	// the ledger never holds two entries for the same content of a file.
	RecordOutcome(ctx context.Context, outcome *rules.Outcome, meta *FileMetadata, entry *TrackingEntry) error

	// GetOutcome returns a validation outcome by id, or ErrNotFound.
	GetOutcome(ctx context.Context, validationID string) (*rules.Outcome, error)

	// History returns the full ledger for a file, ordered by timestamp ascending.
	History(ctx context.Context, fileID string) ([]TrackingEntry, error)

	// ClaimNotification atomically creates the record if no record exists for
	// its (file_id, validation_id, recipient, type), closing the
	// duplicate-send race. A claim whose delivery failed does not block the
	// tuple: the new record replaces it so a fresh dispatch can retry. Any
	// other existing claim returns false.
	ClaimNotification(ctx context.Context, rec *NotificationRecord) (bool, error)

	// UpdateNotificationDelivery overwrites the record with its final
	// delivery status and transport message id.
	UpdateNotificationDelivery(ctx context.Context, rec *NotificationRecord) error

	// GetNotification returns a record by notification id, or ErrNotFound.
	GetNotification(ctx context.Context, notificationID string) (*NotificationRecord, error)

	// ListNotificationsByType returns all records of the given type.
	ListNotificationsByType(ctx context.Context, notifType string) ([]NotificationRecord, error)

	// ArchiveSubmission stores the raw submission bytes in the object store.
	ArchiveSubmission(ctx context.Context, fileID, validationID string, payload []byte) error
}
