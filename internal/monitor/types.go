package monitor

import (
	"time"
)

// Severity ranks how serious an integrity issue is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is at least as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func maxSeverity(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// IssueType classifies an integrity issue
type IssueType string

const (
	IssueChecksumMismatch   IssueType = "checksum_mismatch"
	IssueSignatureInvalid   IssueType = "signature_invalid"
	IssueDataCorruption     IssueType = "data_corruption"
	IssueUnauthorizedAccess IssueType = "unauthorized_access"
	IssueTimestampAnomaly   IssueType = "timestamp_anomaly"
)

// Issue is a single finding from an integrity check cycle
type Issue struct {
	Type             IssueType         `json:"type"`
	Description      string            `json:"description"`
	AffectedAlarmIDs []string          `json:"affected_alarm_ids,omitempty"`
	Severity         Severity          `json:"severity"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// CheckState names a position in the per-check state machine:
// Idle -> Checking -> {Clean | IssuesFound} -> (critical?) Recovering
// -> {Recovered | RecoveryFailed} -> Idle.
type CheckState string

const (
	StateIdle           CheckState = "idle"
	StateChecking       CheckState = "checking"
	StateClean          CheckState = "clean"
	StateIssuesFound    CheckState = "issues_found"
	StateRecovering     CheckState = "recovering"
	StateRecovered      CheckState = "recovered"
	StateRecoveryFailed CheckState = "recovery_failed"
)

// CheckResult is produced once per monitor cycle
type CheckResult struct {
	CheckID    string        `json:"check_id"`
	Timestamp  time.Time     `json:"timestamp"`
	IsValid    bool          `json:"is_valid"`
	Issues     []Issue       `json:"issues,omitempty"`
	Severity   Severity      `json:"severity,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinalState CheckState    `json:"final_state"`
}

// TamperKind classifies a broadcast tamper event
type TamperKind string

const (
	TamperDetected     TamperKind = "tamper_detected"
	IntegrityViolation TamperKind = "integrity_violation"
	DataRecovered      TamperKind = "data_recovered"
	SecurityEvent      TamperKind = "security_event"
)

// TamperEvent is a structured record of a detected integrity
// violation, broadcast to subscribers and kept in an in-memory ring.
type TamperEvent struct {
	ID           string     `json:"id"`
	Type         TamperKind `json:"type"`
	Description  string     `json:"description"`
	Severity     Severity   `json:"severity"`
	Timestamp    time.Time  `json:"timestamp"`
	AffectedData []string   `json:"affected_data,omitempty"`
	OwnerID      string     `json:"owner_id,omitempty"`
}

// Metrics are the monitor's running counters. Mutated only by the
// monitor; reset via ResetMetrics.
type Metrics struct {
	TotalChecks          int64         `json:"total_checks"`
	FailedChecks         int64         `json:"failed_checks"`
	TamperAttempts       int64         `json:"tamper_attempts"`
	RecoveryAttempts     int64         `json:"recovery_attempts"`
	SuccessfulRecoveries int64         `json:"successful_recoveries"`
	AverageCheckDuration time.Duration `json:"average_check_duration"`
	LastCheckTime        time.Time     `json:"last_check_time,omitempty"`
}
