// Package securestore is the secure storage layer for the alarm set.
// It builds signed, checksummed, encrypted payloads, maintains a
// rotating backup chain, and performs ordered recovery when the
// primary payload fails validation.
package securestore

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/crypto"
	"github.com/alarmvault/alarmvault/internal/kv"
	"github.com/alarmvault/alarmvault/internal/tamperlog"
)

// Key layout in the durable store. The storage layer is the sole
// writer and reader of these keys.
const (
	primaryKey      = "alarms:primary"
	eventsKey       = "alarms:events"
	backupKeyPrefix = "alarms:backup:"
)

const (
	// maxBackups bounds the rotating backup chain; oldest evicted first
	maxBackups = 5

	// maxStoredEvents caps the advisory event list at store time
	maxStoredEvents = 500

	// dataVersion tags every SecureAlarmData bundle
	dataVersion = "5.0"
)

// SecureAlarmData is the trusted bundle wrapping the alarm set.
// Checksum is always recomputed from Alarms on read; a stored value
// that differs means the bundle cannot be trusted.
type SecureAlarmData struct {
	Alarms    []alarm.Alarm `json:"alarms"`
	Checksum  string        `json:"checksum"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	OwnerID   string        `json:"owner_id,omitempty"`
}

// signedPayload is the wire form written to the primary key, inside
// the AEAD envelope.
type signedPayload struct {
	Data SecureAlarmData `json:"data"`
	// Signature is an Ed25519 signature over the canonical form of Data
	Signature string `json:"signature"`
	// IntegrityToken is a hash over a reduced summary of Data,
	// defense-in-depth independent of the signature
	IntegrityToken string `json:"integrity_token"`
}

// backupRecord is one slot in the rotating backup chain. Records are
// never mutated after creation.
type backupRecord struct {
	Data      SecureAlarmData `json:"data"`
	Signature string          `json:"signature"`
	BackupID  string          `json:"backup_id"`
	Created   time.Time       `json:"created"`
	// MAC covers the whole record so slot tampering is caught before
	// the full signature and checksum validation runs
	MAC string `json:"mac"`
}

// SignalKind classifies a tamper signal raised by the read path
type SignalKind string

const (
	SignalDecryptionFailure     SignalKind = "decryption_failure"
	SignalSignatureInvalid      SignalKind = "signature_invalid"
	SignalIntegrityTokenInvalid SignalKind = "integrity_token_invalid"
	SignalChecksumMismatch      SignalKind = "checksum_mismatch"
	SignalOwnershipMismatch     SignalKind = "ownership_mismatch"
)

// TamperSignal is raised when an ad-hoc read fails validation, outside
// the monitor's periodic cycle. The monitor subscribes via Notifier.
type TamperSignal struct {
	Kind        SignalKind
	Description string
	OwnerID     string
	At          time.Time
}

// Notifier receives tamper signals from the storage read path
type Notifier interface {
	NotifyTamper(TamperSignal)
}

// StatusSource feeds monitor state into storage status output
type StatusSource interface {
	MonitoringActive() bool
	LastCheckTime() time.Time
}

// Store is the secure storage layer. Construct with New; Close when done.
type Store struct {
	kv     kv.Store
	enc    *crypto.Encryptor
	signer *crypto.Signer
	log    *zap.Logger

	audit        *tamperlog.Chain // optional
	backupMACKey []byte
	now          func() time.Time

	mu           sync.Mutex
	notifier     Notifier
	statusSource StatusSource
	closed       bool
}

// Option configures a Store
type Option func(*Store)

// WithAuditLog attaches a persistent tamper log; store and clear
// operations append audit entries to it.
func WithAuditLog(chain *tamperlog.Chain) Option {
	return func(s *Store) { s.audit = chain }
}

// WithClock overrides the timestamp source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a secure store over the given durable store and crypto
// boundary.
func New(store kv.Store, enc *crypto.Encryptor, signer *crypto.Signer, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		kv:           store,
		enc:          enc,
		signer:       signer,
		log:          log,
		backupMACKey: signer.MACKey("backup"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier registers the tamper signal receiver. Settable after
// construction so the monitor can attach without an import cycle.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// SetStatusSource registers the monitor state source for Status output
func (s *Store) SetStatusSource(src StatusSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusSource = src
}

// Close releases the store. The underlying kv store is not closed;
// its lifecycle belongs to the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.notifier = nil
	s.statusSource = nil
	return nil
}

func (s *Store) notifyTamper(kind SignalKind, description, ownerID string) {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		n.NotifyTamper(TamperSignal{
			Kind:        kind,
			Description: description,
			OwnerID:     ownerID,
			At:          s.now().UTC(),
		})
	}
}

func (s *Store) auditAppend(kind, description, ownerID string) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Append(kind, description, ownerFingerprint(ownerID)); err != nil {
		s.log.Warn("audit log append failed", zap.Error(err))
	}
}

// ownerFingerprint reduces an owner ID to a short hash so raw
// identifiers never land in the audit log.
func ownerFingerprint(ownerID string) string {
	if ownerID == "" {
		return ""
	}
	return crypto.Hash(ownerID)[:12]
}
