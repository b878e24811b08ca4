package securestore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	apperrors "github.com/alarmvault/alarmvault/internal/errors"
)

// Outcome classifies what a retrieval actually returned, so callers
// can tell "genuinely no alarms" from "corruption with failed
// recovery" without parsing errors.
type Outcome string

const (
	// OutcomeEmpty means no primary payload exists (first run)
	OutcomeEmpty Outcome = "empty"
	// OutcomePrimary means the primary payload validated cleanly
	OutcomePrimary Outcome = "primary"
	// OutcomeRecovered means the primary failed and a backup was promoted
	OutcomeRecovered Outcome = "recovered"
	// OutcomeDenied means the stored data belongs to a different owner
	OutcomeDenied Outcome = "denied"
	// OutcomeCorrupted means validation and recovery both failed
	OutcomeCorrupted Outcome = "corrupted"
)

// RetrieveResult is the outcome of a RetrieveAlarms call
type RetrieveResult struct {
	Alarms         []alarm.Alarm
	Outcome        Outcome
	Recovered      bool
	DroppedRecords int
	// FailureClass carries the classifying sentinel when the outcome
	// is denied or corrupted; nil otherwise
	FailureClass error
}

// RetrieveAlarms reads and validates the primary payload, recovering
// from the backup chain when validation fails. It never returns an
// error for corruption: unrecoverable failure degrades to an empty
// alarm list with OutcomeCorrupted, keeping the host application
// alive at the cost of strictness. An error is returned only for
// infrastructure failures (store I/O, context cancellation).
func (s *Store) RetrieveAlarms(ctx context.Context, ownerID string) (RetrieveResult, error) {
	blob, ok, err := s.kv.Get(ctx, primaryKey)
	if err != nil {
		return RetrieveResult{Outcome: OutcomeCorrupted}, fmt.Errorf("failed to read primary payload: %w", err)
	}
	if !ok {
		// First-run semantics: absence is not an error
		return RetrieveResult{Alarms: []alarm.Alarm{}, Outcome: OutcomeEmpty}, nil
	}

	var payload signedPayload
	if err := s.enc.Decrypt(blob, &payload); err != nil {
		s.log.Warn("primary payload failed decryption, attempting recovery", zap.Error(err))
		s.notifyTamper(SignalDecryptionFailure, "primary payload failed decryption", ownerID)
		return s.recoverFromBackups(ctx, ownerID, apperrors.ErrDecryptionFailure)
	}

	if !s.verifyData(&payload.Data, payload.Signature) {
		s.log.Warn("primary payload signature invalid, attempting recovery")
		s.notifyTamper(SignalSignatureInvalid, "primary payload signature does not verify", ownerID)
		return s.recoverFromBackups(ctx, ownerID, apperrors.ErrSignatureInvalid)
	}

	if integrityToken(&payload.Data) != payload.IntegrityToken {
		s.log.Warn("primary payload integrity token invalid, attempting recovery")
		s.notifyTamper(SignalIntegrityTokenInvalid, "primary payload integrity token mismatch", ownerID)
		return s.recoverFromBackups(ctx, ownerID, apperrors.ErrIntegrityTokenInvalid)
	}

	checksum, err := computeChecksum(payload.Data.Alarms)
	if err != nil || checksum != payload.Data.Checksum {
		s.log.Warn("primary payload checksum mismatch, attempting recovery")
		s.notifyTamper(SignalChecksumMismatch, "recomputed checksum differs from stored checksum", ownerID)
		return s.recoverFromBackups(ctx, ownerID, apperrors.ErrChecksumMismatch)
	}

	// Ownership is checked after integrity so a forged owner field
	// cannot slip through, and never resolved through recovery:
	// substituting another owner's backup would itself be a violation.
	if ownerID != "" && payload.Data.OwnerID != "" && payload.Data.OwnerID != ownerID {
		s.log.Warn("ownership mismatch on retrieval, access denied")
		s.notifyTamper(SignalOwnershipMismatch, "stored data belongs to a different owner", ownerID)
		return RetrieveResult{
			Alarms:       []alarm.Alarm{},
			Outcome:      OutcomeDenied,
			FailureClass: apperrors.ErrOwnershipMismatch,
		}, nil
	}

	alarms, dropped := s.revalidate(payload.Data.Alarms)
	return RetrieveResult{
		Alarms:         alarms,
		Outcome:        OutcomePrimary,
		DroppedRecords: dropped,
	}, nil
}

// revalidate structurally checks every returned alarm, dropping
// malformed individual records rather than failing the whole batch.
// Availability over strictness: one decayed record must not take the
// rest of the alarm set down with it.
func (s *Store) revalidate(alarms []alarm.Alarm) (valid []alarm.Alarm, dropped int) {
	now := s.now()
	valid = make([]alarm.Alarm, 0, len(alarms))
	for i := range alarms {
		a := alarms[i]
		if err := a.Validate(now); err != nil {
			s.log.Warn("dropping malformed alarm record on retrieval",
				zap.String("alarm_id", a.ID), zap.Error(err))
			dropped++
			continue
		}
		valid = append(valid, a)
	}
	return valid, dropped
}

// recoverFromBackups walks the backup chain newest-first and promotes
// the first fully valid candidate: its alarm list is re-submitted
// through StoreAlarms so both the primary slot and the backup chain
// are refreshed. If no candidate validates the caller gets the
// empty-list degrade policy with the original failure class.
func (s *Store) recoverFromBackups(ctx context.Context, ownerID string, cause error) (RetrieveResult, error) {
	failed := RetrieveResult{
		Alarms:       []alarm.Alarm{},
		Outcome:      OutcomeCorrupted,
		FailureClass: cause,
	}

	backups, undecryptable, err := s.loadBackups(ctx)
	if err != nil {
		return failed, err
	}
	for _, key := range undecryptable {
		s.log.Warn("backup candidate failed decryption", zap.String("key", key))
	}

	for _, candidate := range backups {
		record := candidate.record
		if reason := s.validateBackup(&record, ownerID); reason != nil {
			s.log.Warn("backup candidate rejected",
				zap.String("backup_id", record.BackupID),
				zap.Time("created", record.Created),
				zap.Error(reason))
			continue
		}

		if _, err := s.StoreAlarms(ctx, record.Data.Alarms, record.Data.OwnerID); err != nil {
			s.log.Warn("failed to promote backup candidate",
				zap.String("backup_id", record.BackupID), zap.Error(err))
			continue
		}

		s.log.Info("recovered alarm set from backup",
			zap.String("backup_id", record.BackupID),
			zap.Time("created", record.Created),
			zap.Int("alarms", len(record.Data.Alarms)))
		s.auditAppend("recover", fmt.Sprintf("promoted backup %s", record.BackupID), ownerID)

		alarms, dropped := s.revalidate(record.Data.Alarms)
		return RetrieveResult{
			Alarms:         alarms,
			Outcome:        OutcomeRecovered,
			Recovered:      true,
			DroppedRecords: dropped,
		}, nil
	}

	s.log.Error("backup recovery exhausted, no valid candidate",
		zap.Int("candidates", len(backups)), zap.Error(cause))
	s.auditAppend("recovery_failed", "no backup candidate validated", ownerID)
	return failed, nil
}

// validateBackup runs the full validation stack over a backup
// candidate: MAC, signature, checksum, then owner match when an owner
// was requested. Returns nil when the candidate is trustworthy.
func (s *Store) validateBackup(record *backupRecord, ownerID string) error {
	if !s.verifyBackupMAC(record) {
		return apperrors.ErrSignatureInvalid
	}
	if !s.verifyData(&record.Data, record.Signature) {
		return apperrors.ErrSignatureInvalid
	}
	checksum, err := computeChecksum(record.Data.Alarms)
	if err != nil || checksum != record.Data.Checksum {
		return apperrors.ErrChecksumMismatch
	}
	if ownerID != "" && record.Data.OwnerID != "" && record.Data.OwnerID != ownerID {
		return apperrors.ErrOwnershipMismatch
	}
	return nil
}
