package securestore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/crypto"
	apperrors "github.com/alarmvault/alarmvault/internal/errors"
)

// StoreReceipt summarizes a successful StoreAlarms call
type StoreReceipt struct {
	AlarmCount      int    `json:"alarm_count"`
	Checksum        string `json:"checksum"`
	BackupID        string `json:"backup_id,omitempty"`
	BackupCount     int    `json:"backup_count"`
	SanitizedFields int    `json:"sanitized_fields"`
}

// StoreAlarms sanitizes, signs, encrypts and persists the alarm set,
// fully overwriting the previous primary payload, then rotates a new
// backup into the chain. Backup failure is logged but never fails the
// call; primary-path durability takes priority over backup
// completeness.
func (s *Store) StoreAlarms(ctx context.Context, alarms []alarm.Alarm, ownerID string) (StoreReceipt, error) {
	clean, sanitized, err := s.sanitizeAlarms(alarms)
	if err != nil {
		return StoreReceipt{}, err
	}

	data, err := s.newSecureData(clean, ownerID)
	if err != nil {
		return StoreReceipt{}, err
	}
	signature, err := s.signData(&data)
	if err != nil {
		return StoreReceipt{}, err
	}
	payload := signedPayload{
		Data:           data,
		Signature:      signature,
		IntegrityToken: integrityToken(&data),
	}

	blob, err := s.enc.Encrypt(payload)
	if err != nil {
		return StoreReceipt{}, fmt.Errorf("failed to encrypt payload: %w", err)
	}
	if err := s.kv.Set(ctx, primaryKey, blob); err != nil {
		return StoreReceipt{}, fmt.Errorf("failed to write primary payload: %w", err)
	}

	receipt := StoreReceipt{
		AlarmCount:      len(clean),
		Checksum:        data.Checksum,
		SanitizedFields: sanitized,
	}

	backupID, backupCount, err := s.rotateBackup(ctx, data, signature)
	if err != nil {
		s.log.Warn("backup rotation failed, primary write already durable", zap.Error(err))
	} else {
		receipt.BackupID = backupID
		receipt.BackupCount = backupCount
	}

	s.auditAppend("store", fmt.Sprintf("stored %d alarms", len(clean)), ownerID)
	s.log.Info("alarm set stored",
		zap.Int("alarms", len(clean)),
		zap.Int("sanitized_fields", sanitized),
		zap.Int("backups", receipt.BackupCount))
	return receipt, nil
}

// sanitizeAlarms runs every record through the sanitization boundary
// and type coercion, rejecting records that are malformed beyond
// repair. Returns the clean copies and the number of free-text fields
// the sanitizer had to change.
func (s *Store) sanitizeAlarms(alarms []alarm.Alarm) ([]alarm.Alarm, int, error) {
	now := s.now()
	clean := make([]alarm.Alarm, 0, len(alarms))
	sanitized := 0
	var rejected []string

	for i := range alarms {
		a := alarms[i]

		if label := crypto.SanitizeText(a.Label, crypto.MaxLabelLen); label != a.Label {
			a.Label = label
			sanitized++
		}
		if sound := crypto.SanitizeText(a.Sound, crypto.MaxSoundLen); sound != a.Sound {
			a.Sound = sound
			sanitized++
		}
		if mood := crypto.SanitizeText(string(a.VoiceMood), crypto.MaxMoodLen); mood != string(a.VoiceMood) {
			a.VoiceMood = alarm.VoiceMood(mood)
			sanitized++
		}

		a.Normalize()

		if err := a.Validate(now); err != nil {
			id := a.ID
			if id == "" {
				id = fmt.Sprintf("index-%d", i)
			}
			s.log.Warn("rejecting malformed alarm at store time",
				zap.String("alarm_id", id), zap.Error(err))
			rejected = append(rejected, id)
			continue
		}
		clean = append(clean, a)
	}

	if len(rejected) > 0 {
		return nil, 0, fmt.Errorf("%w: invalid alarm records: %s",
			apperrors.ErrStructuralCorruption, strings.Join(rejected, ", "))
	}
	return clean, sanitized, nil
}

// rotateBackup writes a fresh backup record and prunes the chain down
// to the newest maxBackups slots.
func (s *Store) rotateBackup(ctx context.Context, data SecureAlarmData, signature string) (string, int, error) {
	record := backupRecord{
		Data:      data,
		Signature: signature,
		BackupID:  uuid.NewString(),
		Created:   s.now().UTC(),
	}
	mac, err := s.macBackup(&record)
	if err != nil {
		return "", 0, err
	}
	record.MAC = mac

	blob, err := s.enc.Encrypt(record)
	if err != nil {
		return "", 0, fmt.Errorf("failed to encrypt backup: %w", err)
	}
	if err := s.kv.Set(ctx, backupKey(record.BackupID), blob); err != nil {
		return "", 0, fmt.Errorf("failed to write backup: %w", err)
	}

	count, err := s.pruneBackups(ctx)
	if err != nil {
		// The new backup is durable; pruning retries next rotation
		s.log.Warn("backup pruning failed", zap.Error(err))
		count = maxBackups
	}
	return record.BackupID, count, nil
}

// loadedBackup pairs a decrypted backup record with its kv key
type loadedBackup struct {
	key    string
	record backupRecord
}

// loadBackups decrypts every backup slot, newest first. Slots that
// fail to decrypt are returned by key in undecryptable so callers can
// count or prune them.
func (s *Store) loadBackups(ctx context.Context) (backups []loadedBackup, undecryptable []string, err error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enumerate keys: %w", err)
	}

	for _, key := range keys {
		if !isBackupKey(key) {
			continue
		}
		blob, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		var record backupRecord
		if err := s.enc.Decrypt(blob, &record); err != nil {
			undecryptable = append(undecryptable, key)
			continue
		}
		backups = append(backups, loadedBackup{key: key, record: record})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].record.Created.After(backups[j].record.Created)
	})
	return backups, undecryptable, nil
}

// pruneBackups deletes everything beyond the newest maxBackups slots.
// Undecryptable slots are dead weight and always pruned.
func (s *Store) pruneBackups(ctx context.Context) (int, error) {
	backups, undecryptable, err := s.loadBackups(ctx)
	if err != nil {
		return 0, err
	}

	for _, key := range undecryptable {
		if err := s.kv.Remove(ctx, key); err != nil {
			s.log.Warn("failed to prune undecryptable backup", zap.String("key", key), zap.Error(err))
		}
	}

	for i := maxBackups; i < len(backups); i++ {
		if err := s.kv.Remove(ctx, backups[i].key); err != nil {
			s.log.Warn("failed to prune backup", zap.String("key", backups[i].key), zap.Error(err))
		}
	}

	remaining := len(backups)
	if remaining > maxBackups {
		remaining = maxBackups
	}
	return remaining, nil
}
