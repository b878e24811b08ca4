package securestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/crypto"
)

// eventsPayload is the wire form of the advisory event history, inside
// the AEAD envelope. Same sign-and-checksum pipeline as the primary
// path, but no backup chain: events are display history, never
// required for correct firing.
type eventsPayload struct {
	Events    []alarm.Event `json:"events"`
	Checksum  string        `json:"checksum"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	OwnerID   string        `json:"owner_id,omitempty"`
	Signature string        `json:"signature"`
}

// EventsResult is the outcome of a RetrieveAlarmEvents call
type EventsResult struct {
	Events  []alarm.Event
	Outcome Outcome
}

func eventsChecksum(events []alarm.Event) (string, error) {
	type canonicalEvent struct {
		ID      string `json:"id"`
		AlarmID string `json:"alarm_id"`
		Kind    string `json:"kind"`
		At      int64  `json:"at"`
		Note    string `json:"note"`
	}
	canon := make([]canonicalEvent, len(events))
	for i, e := range events {
		canon[i] = canonicalEvent{
			ID:      e.ID,
			AlarmID: e.AlarmID,
			Kind:    string(e.Kind),
			At:      e.At.Unix(),
			Note:    e.Note,
		}
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	return crypto.HashBytes(data), nil
}

func eventsSignMessage(p *eventsPayload) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%s|%d",
		p.Checksum, p.Timestamp.Unix(), p.Version, p.OwnerID, len(p.Events)))
}

// StoreAlarmEvents persists the advisory event history, keeping only
// the newest maxStoredEvents records.
func (s *Store) StoreAlarmEvents(ctx context.Context, events []alarm.Event, ownerID string) error {
	sorted := make([]alarm.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	if len(sorted) > maxStoredEvents {
		sorted = sorted[len(sorted)-maxStoredEvents:]
	}

	checksum, err := eventsChecksum(sorted)
	if err != nil {
		return fmt.Errorf("failed to checksum events: %w", err)
	}
	payload := eventsPayload{
		Events:    sorted,
		Checksum:  checksum,
		Timestamp: s.now().UTC().Truncate(time.Second),
		Version:   dataVersion,
		OwnerID:   ownerID,
	}
	payload.Signature = s.signer.SignMessage(eventsSignMessage(&payload))

	blob, err := s.enc.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("failed to encrypt events: %w", err)
	}
	if err := s.kv.Set(ctx, eventsKey, blob); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}

	s.log.Debug("alarm events stored", zap.Int("events", len(sorted)))
	return nil
}

// RetrieveAlarmEvents reads the advisory event history. There is no
// recovery tier here: any validation failure yields an empty list with
// OutcomeCorrupted.
func (s *Store) RetrieveAlarmEvents(ctx context.Context, ownerID string) (EventsResult, error) {
	corrupted := EventsResult{Events: []alarm.Event{}, Outcome: OutcomeCorrupted}

	blob, ok, err := s.kv.Get(ctx, eventsKey)
	if err != nil {
		return corrupted, fmt.Errorf("failed to read events: %w", err)
	}
	if !ok {
		return EventsResult{Events: []alarm.Event{}, Outcome: OutcomeEmpty}, nil
	}

	var payload eventsPayload
	if err := s.enc.Decrypt(blob, &payload); err != nil {
		s.log.Warn("event history failed decryption, returning empty", zap.Error(err))
		return corrupted, nil
	}

	signature := payload.Signature
	payload.Signature = ""
	if !s.signer.VerifyMessage(eventsSignMessage(&payload), signature) {
		s.log.Warn("event history signature invalid, returning empty")
		return corrupted, nil
	}

	checksum, err := eventsChecksum(payload.Events)
	if err != nil || checksum != payload.Checksum {
		s.log.Warn("event history checksum mismatch, returning empty")
		return corrupted, nil
	}

	if ownerID != "" && payload.OwnerID != "" && payload.OwnerID != ownerID {
		s.log.Warn("event history ownership mismatch, access denied")
		return EventsResult{Events: []alarm.Event{}, Outcome: OutcomeDenied}, nil
	}

	return EventsResult{Events: payload.Events, Outcome: OutcomePrimary}, nil
}
