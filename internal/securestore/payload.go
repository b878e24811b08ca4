package securestore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/crypto"
)

// canonicalData fixes the serialized field order of a bundle for
// signing. Alarms use their own canonical form; the timestamp reduces
// to unix seconds so the signature survives JSON round trips.
type canonicalData struct {
	Alarms    json.RawMessage `json:"alarms"`
	Checksum  string          `json:"checksum"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
	OwnerID   string          `json:"owner_id"`
}

func canonicalDataBytes(d *SecureAlarmData) ([]byte, error) {
	alarms, err := alarm.CanonicalList(d.Alarms)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize alarms: %w", err)
	}
	return json.Marshal(canonicalData{
		Alarms:    alarms,
		Checksum:  d.Checksum,
		Timestamp: d.Timestamp.Unix(),
		Version:   d.Version,
		OwnerID:   d.OwnerID,
	})
}

// computeChecksum hashes the canonical alarm list
func computeChecksum(alarms []alarm.Alarm) (string, error) {
	data, err := alarm.CanonicalList(alarms)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize alarms: %w", err)
	}
	return crypto.HashBytes(data), nil
}

// integrityToken hashes a reduced bundle summary: checksum, timestamp,
// version and alarm count. It is deliberately independent of the main
// signature.
func integrityToken(d *SecureAlarmData) string {
	summary := fmt.Sprintf("%s|%d|%s|%d", d.Checksum, d.Timestamp.Unix(), d.Version, len(d.Alarms))
	return crypto.Hash(summary)
}

// newSecureData builds a bundle around the given alarm set with a
// fresh checksum and timestamp.
func (s *Store) newSecureData(alarms []alarm.Alarm, ownerID string) (SecureAlarmData, error) {
	checksum, err := computeChecksum(alarms)
	if err != nil {
		return SecureAlarmData{}, err
	}
	return SecureAlarmData{
		Alarms:    alarms,
		Checksum:  checksum,
		Timestamp: s.now().UTC().Truncate(time.Second),
		Version:   dataVersion,
		OwnerID:   ownerID,
	}, nil
}

// signData produces the payload signature over the canonical bundle
func (s *Store) signData(d *SecureAlarmData) (string, error) {
	canonical, err := canonicalDataBytes(d)
	if err != nil {
		return "", err
	}
	return s.signer.SignMessage(canonical), nil
}

// verifyData checks the payload signature against the canonical bundle
func (s *Store) verifyData(d *SecureAlarmData, signature string) bool {
	canonical, err := canonicalDataBytes(d)
	if err != nil {
		return false
	}
	return s.signer.VerifyMessage(canonical, signature)
}

// backupMACMessage fixes the byte form a backup record is MAC'd over
func backupMACMessage(r *backupRecord) ([]byte, error) {
	canonical, err := canonicalDataBytes(&r.Data)
	if err != nil {
		return nil, err
	}
	header := fmt.Sprintf("%s|%d|%s|", r.BackupID, r.Created.Unix(), r.Signature)
	return append([]byte(header), canonical...), nil
}

func (s *Store) macBackup(r *backupRecord) (string, error) {
	msg, err := backupMACMessage(r)
	if err != nil {
		return "", err
	}
	return crypto.ComputeMAC(s.backupMACKey, msg), nil
}

func (s *Store) verifyBackupMAC(r *backupRecord) bool {
	msg, err := backupMACMessage(r)
	if err != nil {
		return false
	}
	return crypto.VerifyMAC(s.backupMACKey, msg, r.MAC)
}

// backupKey builds the kv key for a backup slot
func backupKey(backupID string) string {
	return backupKeyPrefix + backupID
}

// isBackupKey reports whether a kv key belongs to the backup chain
func isBackupKey(key string) bool {
	return strings.HasPrefix(key, backupKeyPrefix)
}
