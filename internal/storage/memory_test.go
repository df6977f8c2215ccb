package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/sheetguard/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(validationID, fileID string, errs int) *rules.Outcome {
	status := rules.StatusPassed
	if errs > 0 {
		status = rules.StatusFailed
	}
	return &rules.Outcome{
		ValidationID: validationID,
		FileID:       fileID,
		Status:       status,
		TotalErrors:  errs,
		Timestamp:    time.Now(),
	}
}

func TestRecordOutcomePreservesFirstUpload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := store.RecordOutcome(ctx, outcome("val_1", "file_a", 1), &FileMetadata{
		FileID:           "file_a",
		Filename:         "report.xlsx",
		ContentHash:      "aaa",
		FirstUploadedAt:  first,
		LastValidationID: "val_1",
	}, nil)
	require.NoError(t, err)

	err = store.RecordOutcome(ctx, outcome("val_2", "file_a", 0), &FileMetadata{
		FileID:           "file_a",
		Filename:         "report.xlsx",
		ContentHash:      "bbb",
		FirstUploadedAt:  first.Add(48 * time.Hour),
		LastValidationID: "val_2",
	}, nil)
	require.NoError(t, err)

	meta, err := store.GetFileMetadata(ctx, "file_a")
	require.NoError(t, err)
	assert.Equal(t, first, meta.FirstUploadedAt)
	assert.Equal(t, "val_2", meta.LastValidationID)
	assert.Equal(t, "bbb", meta.ContentHash)
}

func TestRecordOutcomeSkipsDuplicateLedgerEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	meta := &FileMetadata{FileID: "file_a", ContentHash: "aaa"}

	entry := func(id, validationID string) *TrackingEntry {
		return &TrackingEntry{
			TrackingID:   id,
			FileID:       "file_a",
			ValidationID: validationID,
			Status:       TrackingFailed,
			ContentHash:  "aaa",
			Timestamp:    time.Now(),
		}
	}

	require.NoError(t, store.RecordOutcome(ctx, outcome("val_1", "file_a", 2), meta, entry("trk_1", "val_1")))
	require.NoError(t, store.RecordOutcome(ctx, outcome("val_2", "file_a", 2), meta, entry("trk_2", "val_2")))

	history, err := store.History(ctx, "file_a")
	require.NoError(t, err)
	require.Len(t, history, 1, "same content hash must not produce a second ledger entry")
	assert.Equal(t, "trk_1", history[0].TrackingID)

	// Both outcomes are still recorded.
	_, err = store.GetOutcome(ctx, "val_1")
	assert.NoError(t, err)
	_, err = store.GetOutcome(ctx, "val_2")
	assert.NoError(t, err)
}

func TestHistoryOrderedByTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	meta := &FileMetadata{FileID: "file_a"}
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordOutcome(ctx, outcome("val_1", "file_a", 1), meta, &TrackingEntry{
		TrackingID: "trk_late", FileID: "file_a", ContentHash: "bbb",
		Status: TrackingCorrected, Timestamp: base.Add(time.Hour),
	}))
	require.NoError(t, store.RecordOutcome(ctx, outcome("val_2", "file_a", 1), meta, &TrackingEntry{
		TrackingID: "trk_early", FileID: "file_a", ContentHash: "aaa",
		Status: TrackingFailed, Timestamp: base,
	}))

	history, err := store.History(ctx, "file_a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "trk_early", history[0].TrackingID)
	assert.Equal(t, "trk_late", history[1].TrackingID)
}

func TestClaimNotificationOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := &NotificationRecord{
		NotificationID: "ntf_1",
		FileID:         "file_a",
		ValidationID:   "val_1",
		Recipient:      "user@example.com",
		Type:           "failure",
		DeliveryStatus: DeliveryPending,
		SentTimestamp:  time.Now(),
	}
	claimed, err := store.ClaimNotification(ctx, rec)
	require.NoError(t, err)
	assert.True(t, claimed)

	dup := *rec
	dup.NotificationID = "ntf_2"
	claimed, err = store.ClaimNotification(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, claimed, "same validation, recipient and type must not claim twice")

	// A different recipient is an independent claim.
	other := *rec
	other.NotificationID = "ntf_3"
	other.Recipient = "other@example.com"
	claimed, err = store.ClaimNotification(ctx, &other)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimNotificationRetriesFailedDelivery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := &NotificationRecord{
		NotificationID: "ntf_1",
		ValidationID:   "val_1",
		Recipient:      "user@example.com",
		Type:           "failure",
		DeliveryStatus: DeliveryPending,
	}
	claimed, err := store.ClaimNotification(ctx, rec)
	require.NoError(t, err)
	require.True(t, claimed)

	rec.DeliveryStatus = DeliveryFailed
	require.NoError(t, store.UpdateNotificationDelivery(ctx, rec))

	// The failed record is replaced by the retry claim.
	retry := &NotificationRecord{
		NotificationID: "ntf_2",
		ValidationID:   "val_1",
		Recipient:      "user@example.com",
		Type:           "failure",
		DeliveryStatus: DeliveryPending,
	}
	claimed, err = store.ClaimNotification(ctx, retry)
	require.NoError(t, err)
	assert.True(t, claimed, "a failed delivery must not block the claim")

	_, err = store.GetNotification(ctx, "ntf_1")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := store.GetNotification(ctx, "ntf_2")
	require.NoError(t, err)
	assert.Equal(t, DeliveryPending, got.DeliveryStatus)

	// A pending or delivered record still blocks.
	blocked := &NotificationRecord{
		NotificationID: "ntf_3",
		ValidationID:   "val_1",
		Recipient:      "user@example.com",
		Type:           "failure",
		DeliveryStatus: DeliveryPending,
	}
	claimed, err = store.ClaimNotification(ctx, blocked)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestUpdateNotificationDelivery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := &NotificationRecord{
		NotificationID: "ntf_1",
		ValidationID:   "val_1",
		Recipient:      "user@example.com",
		Type:           "failure",
		DeliveryStatus: DeliveryPending,
	}
	_, err := store.ClaimNotification(ctx, rec)
	require.NoError(t, err)

	rec.DeliveryStatus = DeliverySent
	rec.MessageID = "ses-msg-1"
	require.NoError(t, store.UpdateNotificationDelivery(ctx, rec))

	got, err := store.GetNotification(ctx, "ntf_1")
	require.NoError(t, err)
	assert.Equal(t, DeliverySent, got.DeliveryStatus)
	assert.Equal(t, "ses-msg-1", got.MessageID)
}

func TestListNotificationsByType(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i, typ := range []string{"failure", "reminder", "failure"} {
		rec := &NotificationRecord{
			NotificationID: string(rune('a' + i)),
			ValidationID:   "val_" + string(rune('a'+i)),
			Recipient:      "user@example.com",
			Type:           typ,
			SentTimestamp:  time.Now().Add(time.Duration(i) * time.Minute),
		}
		_, err := store.ClaimNotification(ctx, rec)
		require.NoError(t, err)
	}

	failures, err := store.ListNotificationsByType(ctx, "failure")
	require.NoError(t, err)
	assert.Len(t, failures, 2)

	reminders, err := store.ListNotificationsByType(ctx, "reminder")
	require.NoError(t, err)
	assert.Len(t, reminders, 1)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetFileMetadata(ctx, "file_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetOutcome(ctx, "val_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetNotification(ctx, "ntf_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveSubmission(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	payload := []byte("email,score\na@b.com,95\n")
	require.NoError(t, store.ArchiveSubmission(ctx, "file_a", "val_1", payload))

	got, ok := store.ArchivedSubmission("file_a", "val_1")
	require.True(t, ok)
	assert.Equal(t, payload, got)
}
