package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/sheetguard/internal/rules"
)

// MemoryStore is an in-process Store used for tests and local development.
// It enforces the same conditional-write semantics as the AWS store.
type MemoryStore struct {
	mu            sync.Mutex
	files         map[string]FileMetadata
	outcomes      map[string]rules.Outcome
	tracking      map[string][]TrackingEntry // by file id, append order
	trackedHashes map[string]bool            // file id + "#" + content hash
	notifications map[string]NotificationRecord
	claims        map[string]string // claim key -> notification id
	objects       map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:         make(map[string]FileMetadata),
		outcomes:      make(map[string]rules.Outcome),
		tracking:      make(map[string][]TrackingEntry),
		trackedHashes: make(map[string]bool),
		notifications: make(map[string]NotificationRecord),
		claims:        make(map[string]string),
		objects:       make(map[string][]byte),
	}
}

func (s *MemoryStore) GetFileMetadata(_ context.Context, fileID string) (*FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.files[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}

func (s *MemoryStore) RecordOutcome(_ context.Context, outcome *rules.Outcome, meta *FileMetadata, entry *TrackingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.files[meta.FileID]; ok {
		meta.FirstUploadedAt = existing.FirstUploadedAt
	}
	s.outcomes[outcome.ValidationID] = *outcome
	s.files[meta.FileID] = *meta

	if entry != nil {
		dedupe := entry.FileID + "#" + entry.ContentHash
		if !s.trackedHashes[dedupe] {
			s.trackedHashes[dedupe] = true
			s.tracking[entry.FileID] = append(s.tracking[entry.FileID], *entry)
		}
	}
	return nil
}

func (s *MemoryStore) GetOutcome(_ context.Context, validationID string) (*rules.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, ok := s.outcomes[validationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &outcome, nil
}

func (s *MemoryStore) History(_ context.Context, fileID string) ([]TrackingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]TrackingEntry, len(s.tracking[fileID]))
	copy(entries, s.tracking[fileID])
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func (s *MemoryStore) ClaimNotification(_ context.Context, rec *NotificationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID, claimed := s.claims[rec.ClaimKey()]; claimed {
		if s.notifications[oldID].DeliveryStatus != DeliveryFailed {
			return false, nil
		}
		// A failed delivery does not block the tuple; the fresh dispatch
		// replaces the record.
		delete(s.notifications, oldID)
	}
	s.claims[rec.ClaimKey()] = rec.NotificationID
	s.notifications[rec.NotificationID] = *rec
	return true, nil
}

func (s *MemoryStore) UpdateNotificationDelivery(_ context.Context, rec *NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications[rec.NotificationID] = *rec
	return nil
}

func (s *MemoryStore) GetNotification(_ context.Context, notificationID string) (*NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.notifications[notificationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ListNotificationsByType(_ context.Context, notifType string) ([]NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []NotificationRecord
	for _, rec := range s.notifications {
		if rec.Type == notifType {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SentTimestamp.Before(out[j].SentTimestamp)
	})
	return out, nil
}

func (s *MemoryStore) ArchiveSubmission(_ context.Context, fileID, validationID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make([]byte, len(payload))
	copy(data, payload)
	s.objects["submissions/"+fileID+"/"+validationID] = data
	return nil
}

// ArchivedSubmission returns archived bytes, for tests.
func (s *MemoryStore) ArchivedSubmission(fileID, validationID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects["submissions/"+fileID+"/"+validationID]
	return data, ok
}
