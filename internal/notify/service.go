// Package notify implements the notification state machine: at-most-once
// email delivery per (file, validation, recipient, type), with a bounded
// reminder sweep for uncorrected failures.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/sheetguard/internal/config"
	"github.com/ignite/sheetguard/internal/rules"
	"github.com/ignite/sheetguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Notification types.
const (
	TypeFailure  = "failure"
	TypeReminder = "reminder"
	TypeSuccess  = "success"
)

const sweepLockKey = "sheetguard:reminder-sweep"
const sweepLockTTL = 5 * time.Minute

// DispatchResult summarizes one dispatch over a recipient set. Delivery
// failures are counted, never raised; the validation outcome they belong to
// is already persisted.
type DispatchResult struct {
	NotificationIDs []string `json:"notification_ids"`
	Sent            int      `json:"sent"`
	Failed          int      `json:"failed"`
	Skipped         int      `json:"skipped"`
}

// SweepResult summarizes one reminder sweep run.
type SweepResult struct {
	Scanned  int  `json:"scanned"`
	Sent     int  `json:"sent"`
	Failed   int  `json:"failed"`
	Skipped  int  `json:"skipped"`
	Deferred int  `json:"deferred"`
	Locked   bool `json:"locked,omitempty"`
}

// Service drives notification delivery against the store and a Sender.
type Service struct {
	store     storage.Store
	sender    Sender
	templates *TemplateEngine
	window    time.Duration
	sweepCap  int
	redis     *redis.Client
	now       func() time.Time
}

// NewService creates the notification service. redisClient may be nil; the
// reminder sweep then runs without a distributed lock.
func NewService(store storage.Store, sender Sender, cfg config.NotifyConfig, redisClient *redis.Client) *Service {
	return &Service{
		store:     store,
		sender:    sender,
		templates: NewTemplateEngine(),
		window:    cfg.ReminderWindow(),
		sweepCap:  cfg.ReminderSweepCap,
		redis:     redisClient,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch sends one notification of the given type to every recipient.
// Each recipient is claimed in the store before the send; an existing claim
// means an earlier dispatch already covered this (validation, recipient,
// type) and the recipient is skipped. Transport errors mark the record
// failed and are not returned.
func (s *Service) Dispatch(ctx context.Context, typ string, outcome *rules.Outcome, meta *storage.FileMetadata, recipients []string) *DispatchResult {
	result := &DispatchResult{}

	var deadline *time.Time
	if typ == TypeFailure || typ == TypeReminder {
		d := s.now().Add(s.window)
		deadline = &d
	}

	for _, recipient := range dedupe(recipients) {
		rec := &storage.NotificationRecord{
			NotificationID:     "ntf_" + uuid.New().String(),
			FileID:             meta.FileID,
			ValidationID:       outcome.ValidationID,
			Recipient:          recipient,
			Type:               typ,
			DeliveryStatus:     storage.DeliveryPending,
			SentTimestamp:      s.now(),
			CorrectionDeadline: deadline,
		}

		subject, body, err := s.templates.Render(typ, outcome, meta, deadline)
		if err != nil {
			log.Printf("[notify] render %s for %s: %v", typ, recipient, err)
			result.Failed++
			continue
		}
		rec.Subject = subject

		claimed, err := s.store.ClaimNotification(ctx, rec)
		if err != nil {
			log.Printf("[notify] claim %s for %s: %v", typ, recipient, err)
			result.Failed++
			continue
		}
		if !claimed {
			result.Skipped++
			continue
		}

		result.NotificationIDs = append(result.NotificationIDs, rec.NotificationID)
		messageID, err := s.sender.Send(ctx, recipient, subject, body, "")
		if err != nil {
			log.Printf("[notify] send %s to %s: %v", typ, recipient, err)
			rec.DeliveryStatus = storage.DeliveryFailed
			result.Failed++
		} else {
			rec.DeliveryStatus = storage.DeliverySent
			rec.MessageID = messageID
			result.Sent++
		}
		if err := s.store.UpdateNotificationDelivery(ctx, rec); err != nil {
			log.Printf("[notify] update delivery %s: %v", rec.NotificationID, err)
		}
	}
	return result
}

// DispatchForValidation looks up a recorded outcome and dispatches to the
// given recipients. Used by the manual notification endpoint.
func (s *Service) DispatchForValidation(ctx context.Context, typ, validationID string, recipients []string) (*DispatchResult, error) {
	outcome, err := s.store.GetOutcome(ctx, validationID)
	if err != nil {
		return nil, err
	}
	meta, err := s.store.GetFileMetadata(ctx, outcome.FileID)
	if err != nil {
		return nil, err
	}
	return s.Dispatch(ctx, typ, outcome, meta, recipients), nil
}

// RunReminderSweep scans delivered failure notifications whose correction
// window has elapsed and whose file is still failing, and sends at most the
// configured cap of reminders. Eligible records beyond the cap are deferred
// to the next run. The sweep is bounded and externally triggered; it never
// loops or schedules itself.
func (s *Service) RunReminderSweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, sweepLockKey, "1", sweepLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring sweep lock: %w", err)
		}
		if !ok {
			result.Locked = true
			return result, nil
		}
		defer s.redis.Del(context.WithoutCancel(ctx), sweepLockKey)
	}

	failures, err := s.store.ListNotificationsByType(ctx, TypeFailure)
	if err != nil {
		return nil, fmt.Errorf("listing failure notifications: %w", err)
	}

	cutoff := s.now().Add(-s.window)
	evaluated := 0
	for _, failure := range failures {
		result.Scanned++
		if failure.DeliveryStatus != storage.DeliverySent {
			continue
		}
		if failure.SentTimestamp.After(cutoff) {
			continue
		}

		// The cap bounds evaluation cost, not just sends: candidates past it
		// are deferred without touching the store.
		if evaluated >= s.sweepCap {
			result.Deferred++
			continue
		}
		evaluated++

		corrected, err := s.fileCorrected(ctx, failure.FileID)
		if err != nil {
			log.Printf("[notify] sweep: checking %s: %v", failure.FileID, err)
			result.Failed++
			continue
		}
		if corrected {
			continue
		}
		s.sendReminder(ctx, &failure, result)
	}
	return result, nil
}

// fileCorrected reports whether the file's latest recorded outcome passed.
func (s *Service) fileCorrected(ctx context.Context, fileID string) (bool, error) {
	meta, err := s.store.GetFileMetadata(ctx, fileID)
	if err != nil {
		return false, err
	}
	outcome, err := s.store.GetOutcome(ctx, meta.LastValidationID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !outcome.Failed(), nil
}

func (s *Service) sendReminder(ctx context.Context, failure *storage.NotificationRecord, result *SweepResult) {
	outcome, err := s.store.GetOutcome(ctx, failure.ValidationID)
	if err != nil {
		log.Printf("[notify] sweep: outcome %s: %v", failure.ValidationID, err)
		result.Failed++
		return
	}
	meta, err := s.store.GetFileMetadata(ctx, failure.FileID)
	if err != nil {
		log.Printf("[notify] sweep: metadata %s: %v", failure.FileID, err)
		result.Failed++
		return
	}

	rec := &storage.NotificationRecord{
		NotificationID:     "ntf_" + uuid.New().String(),
		FileID:             failure.FileID,
		ValidationID:       failure.ValidationID,
		Recipient:          failure.Recipient,
		Type:               TypeReminder,
		DeliveryStatus:     storage.DeliveryPending,
		SentTimestamp:      s.now(),
		CorrectionDeadline: failure.CorrectionDeadline,
	}

	subject, body, err := s.templates.Render(TypeReminder, outcome, meta, failure.CorrectionDeadline)
	if err != nil {
		log.Printf("[notify] sweep: render for %s: %v", failure.Recipient, err)
		result.Failed++
		return
	}
	rec.Subject = subject

	claimed, err := s.store.ClaimNotification(ctx, rec)
	if err != nil {
		log.Printf("[notify] sweep: claim for %s: %v", failure.Recipient, err)
		result.Failed++
		return
	}
	if !claimed {
		result.Skipped++
		return
	}

	messageID, err := s.sender.Send(ctx, failure.Recipient, subject, body, "")
	if err != nil {
		log.Printf("[notify] sweep: send to %s: %v", failure.Recipient, err)
		rec.DeliveryStatus = storage.DeliveryFailed
		result.Failed++
	} else {
		rec.DeliveryStatus = storage.DeliverySent
		rec.MessageID = messageID
		result.Sent++
	}
	if err := s.store.UpdateNotificationDelivery(ctx, rec); err != nil {
		log.Printf("[notify] sweep: update delivery %s: %v", rec.NotificationID, err)
	}
}

func dedupe(recipients []string) []string {
	seen := make(map[string]bool, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
