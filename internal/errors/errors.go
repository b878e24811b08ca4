// Package errors provides sentinel errors for the alarmvault application.
package errors

import "errors"

// Integrity taxonomy. These classify why a stored payload or an alarm
// set failed validation; they are matched with errors.Is throughout.
var (
	// ErrDecryptionFailure is returned when a stored blob cannot be decrypted.
	ErrDecryptionFailure = errors.New("decryption failure")

	// ErrSignatureInvalid is returned when a payload signature does not verify.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrIntegrityTokenInvalid is returned when a payload's integrity token does not match.
	ErrIntegrityTokenInvalid = errors.New("integrity token invalid")

	// ErrChecksumMismatch is returned when the recomputed checksum differs from the stored one.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrOwnershipMismatch is returned when stored data belongs to a different owner.
	// Ownership mismatches are a hard denial and never trigger backup recovery.
	ErrOwnershipMismatch = errors.New("ownership mismatch")

	// ErrStructuralCorruption is returned when alarm records are malformed beyond repair.
	ErrStructuralCorruption = errors.New("structural corruption")

	// ErrSchedulingAnomaly is returned when an enabled alarm cannot be scheduled as stored.
	ErrSchedulingAnomaly = errors.New("scheduling anomaly")

	// ErrUnauthorizedModification is returned when alarm content changed outside a legitimate update.
	ErrUnauthorizedModification = errors.New("unauthorized modification")

	// ErrSuspiciousActivity is returned when the mutation frequency heuristic trips.
	ErrSuspiciousActivity = errors.New("suspicious activity")
)

// Store errors
var (
	// ErrStoreClosed is returned when an operation is attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrRecoveryFailed is returned when no backup candidate validates during recovery.
	ErrRecoveryFailed = errors.New("backup recovery failed")
)

// Monitor errors
var (
	// ErrMonitorRunning is returned when Start is called on an already running monitor.
	ErrMonitorRunning = errors.New("monitor already running")

	// ErrMonitorClosed is returned when the monitor has been destroyed.
	ErrMonitorClosed = errors.New("monitor destroyed")

	// ErrCheckInFlight is returned when an integrity check is already executing.
	ErrCheckInFlight = errors.New("integrity check already in flight")
)

// Configuration errors
var (
	// ErrNotInitialized is returned when alarmvault has not been initialized.
	ErrNotInitialized = errors.New("alarmvault not initialized")

	// ErrAlreadyLocked is returned when another process holds the data directory lock.
	ErrAlreadyLocked = errors.New("data directory locked by another process")
)
