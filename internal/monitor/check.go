package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/crypto"
	apperrors "github.com/alarmvault/alarmvault/internal/errors"
	"github.com/alarmvault/alarmvault/internal/securestore"
)

// PerformIntegrityCheck runs one full validation cycle over the
// currently stored alarm set. Checks are single-flight per monitor: a
// concurrent call gets ErrCheckInFlight along with the previous
// result snapshot.
func (m *Monitor) PerformIntegrityCheck(ctx context.Context, ownerID string) (CheckResult, error) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return CheckResult{}, apperrors.ErrMonitorClosed
	}
	m.mu.Unlock()

	if !m.checkMu.TryLock() {
		m.mu.Lock()
		var last CheckResult
		if m.lastResult != nil {
			last = *m.lastResult
		}
		m.mu.Unlock()
		return last, apperrors.ErrCheckInFlight
	}
	defer m.checkMu.Unlock()

	start := m.now()
	m.setState(StateChecking)

	result := CheckResult{
		CheckID:   uuid.NewString(),
		Timestamp: start.UTC(),
	}

	retrieved, err := m.store.RetrieveAlarms(ctx, ownerID)
	if err != nil {
		result.Issues = append(result.Issues, Issue{
			Type:        IssueDataCorruption,
			Description: "storage read failed: " + err.Error(),
			Severity:    SeverityCritical,
		})
	}
	result.Issues = append(result.Issues, m.classifyOutcome(&retrieved, ownerID)...)

	now := m.now()
	result.Issues = append(result.Issues, m.structuralPass(retrieved.Alarms)...)
	result.Issues = append(result.Issues, m.consistencyPass(retrieved.Alarms)...)
	result.Issues = append(result.Issues, m.timestampPass(retrieved.Alarms, now)...)
	result.Issues = append(result.Issues, m.injectionPass(retrieved.Alarms)...)
	result.Issues = append(result.Issues, m.modificationPass(retrieved.Alarms, now)...)
	result.Issues = append(result.Issues, m.schedulingPass(retrieved.Alarms)...)

	result.Severity = SeverityLow
	for _, issue := range result.Issues {
		result.Severity = maxSeverity(result.Severity, issue.Severity)
	}
	result.IsValid = len(result.Issues) == 0
	if result.IsValid {
		result.Severity = ""
		m.setState(StateClean)
		result.FinalState = StateClean
	} else {
		m.setState(StateIssuesFound)
		result.FinalState = StateIssuesFound
	}
	result.Duration = m.now().Sub(start)

	m.recordResult(&result, ownerID)

	if !result.IsValid && result.Severity == SeverityCritical {
		result.FinalState = m.attemptRecovery(ctx, ownerID)
	}

	m.mu.Lock()
	m.history = append(m.history, result)
	if len(m.history) > m.historyCap {
		m.history = m.history[1:]
	}
	m.lastResult = &result
	m.mu.Unlock()
	m.setState(StateIdle)
	return result, nil
}

// classifyOutcome turns the storage layer's own verdict into issues
func (m *Monitor) classifyOutcome(r *securestore.RetrieveResult, ownerID string) []Issue {
	switch r.Outcome {
	case securestore.OutcomeDenied:
		// Ownership mismatch is a hard denial and never
		// recovery-eligible, so it stays below critical
		return []Issue{{
			Type:        IssueUnauthorizedAccess,
			Description: "stored alarm data belongs to a different owner",
			Severity:    SeverityHigh,
		}}
	case securestore.OutcomeCorrupted:
		desc := "stored alarm data failed validation and recovery"
		meta := map[string]string{}
		if r.FailureClass != nil {
			meta["failure_class"] = r.FailureClass.Error()
		}
		return []Issue{{
			Type:        IssueDataCorruption,
			Description: desc,
			Severity:    SeverityCritical,
			Metadata:    meta,
		}}
	case securestore.OutcomeRecovered:
		m.log.Info("storage layer recovered from backup during check",
			zap.Int("alarms", len(r.Alarms)))
	}
	if r.DroppedRecords > 0 {
		return []Issue{{
			Type:        IssueDataCorruption,
			Description: fmt.Sprintf("%d malformed alarm records dropped on retrieval", r.DroppedRecords),
			Severity:    SeverityMedium,
			Metadata:    map[string]string{"dropped": fmt.Sprintf("%d", r.DroppedRecords)},
		}}
	}
	return nil
}

// structuralPass checks required fields are present
func (m *Monitor) structuralPass(alarms []alarm.Alarm) []Issue {
	var issues []Issue
	for i := range alarms {
		if err := alarms[i].ValidateStructure(); err != nil {
			issues = append(issues, Issue{
				Type:             IssueDataCorruption,
				Description:      err.Error(),
				AffectedAlarmIDs: []string{alarms[i].ID},
				Severity:         SeverityHigh,
				Metadata:         map[string]string{"pass": "structural"},
			})
		}
	}
	return issues
}

// consistencyPass checks field contents: time format, day range,
// snooze interval.
func (m *Monitor) consistencyPass(alarms []alarm.Alarm) []Issue {
	var issues []Issue
	for i := range alarms {
		if err := alarms[i].ValidateConsistency(); err != nil {
			issues = append(issues, Issue{
				Type:             IssueDataCorruption,
				Description:      err.Error(),
				AffectedAlarmIDs: []string{alarms[i].ID},
				Severity:         SeverityHigh,
				Metadata:         map[string]string{"pass": "consistency"},
			})
		}
	}
	return issues
}

// timestampPass checks createdAt/updatedAt sanity
func (m *Monitor) timestampPass(alarms []alarm.Alarm, now time.Time) []Issue {
	var issues []Issue
	for i := range alarms {
		if err := alarms[i].ValidateTimestamps(now); err != nil {
			issues = append(issues, Issue{
				Type:             IssueTimestampAnomaly,
				Description:      err.Error(),
				AffectedAlarmIDs: []string{alarms[i].ID},
				Severity:         SeverityMedium,
			})
		}
	}
	return issues
}

// injectionPass scans free-text fields against the denylist. Stored
// data should already be sanitized; a hit here means something wrote
// around the storage boundary.
func (m *Monitor) injectionPass(alarms []alarm.Alarm) []Issue {
	var issues []Issue
	for i := range alarms {
		a := &alarms[i]
		for field, value := range map[string]string{
			"label": a.Label,
			"sound": a.Sound,
			"mood":  string(a.VoiceMood),
		} {
			if crypto.ContainsInjection(value) {
				issues = append(issues, Issue{
					Type:             IssueUnauthorizedAccess,
					Description:      fmt.Sprintf("alarm %s %s contains injection pattern", a.ID, field),
					AffectedAlarmIDs: []string{a.ID},
					Severity:         SeverityHigh,
					Metadata:         map[string]string{"pass": "injection", "field": field},
				})
			}
		}
	}
	return issues
}

// modificationPass compares per-alarm content hashes against the
// previously observed set. A changed hash without a recent UpdatedAt
// is unauthorized modification; a tracked id that vanished without a
// sanctioned deletion is unauthorized deletion.
func (m *Monitor) modificationPass(alarms []alarm.Alarm, now time.Time) []Issue {
	m.mu.Lock()
	defer m.mu.Unlock()

	var issues []Issue
	current := make(map[string]bool, len(alarms))

	for i := range alarms {
		a := &alarms[i]
		if a.ID == "" {
			continue
		}
		current[a.ID] = true
		hash := a.ContentHash()

		tracked, seen := m.tracked[a.ID]
		if !seen {
			m.tracked[a.ID] = &trackedAlarm{hash: hash, firstSeen: now, lastSeen: now}
			continue
		}
		tracked.lastSeen = now
		if tracked.hash == hash {
			continue
		}

		// Changed content. Legitimate if the alarm says it was
		// updated within the grace window.
		if now.Sub(a.UpdatedAt) <= m.updateWindow && !a.UpdatedAt.After(now.Add(time.Minute)) {
			tracked.hash = hash
			continue
		}

		issues = append(issues, Issue{
			Type:             IssueUnauthorizedAccess,
			Description:      fmt.Sprintf("alarm %s content changed outside a legitimate update", a.ID),
			AffectedAlarmIDs: []string{a.ID},
			Severity:         SeverityHigh,
			Metadata:         map[string]string{"pass": "modification"},
		})
		// Track the new hash so one tamper event does not repeat
		// every cycle forever
		tracked.hash = hash
	}

	for id := range m.tracked {
		if current[id] {
			continue
		}
		if _, ok := m.sanctioned[id]; ok {
			delete(m.sanctioned, id)
			delete(m.tracked, id)
			continue
		}
		issues = append(issues, Issue{
			Type:             IssueUnauthorizedAccess,
			Description:      fmt.Sprintf("alarm %s disappeared without a sanctioned deletion", id),
			AffectedAlarmIDs: []string{id},
			Severity:         SeverityCritical,
			Metadata:         map[string]string{"pass": "modification", "kind": "deletion"},
		})
		delete(m.tracked, id)
	}

	m.evictTrackedLocked()
	return issues
}

// evictTrackedLocked bounds the change-detection map, oldest-seen first
func (m *Monitor) evictTrackedLocked() {
	if len(m.tracked) <= m.trackedCap {
		return
	}
	type entry struct {
		id        string
		firstSeen time.Time
	}
	entries := make([]entry, 0, len(m.tracked))
	for id, t := range m.tracked {
		entries = append(entries, entry{id: id, firstSeen: t.firstSeen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].firstSeen.Before(entries[j].firstSeen)
	})
	for _, e := range entries[:len(entries)-m.trackedCap] {
		delete(m.tracked, e.id)
		m.log.Debug("evicted tracked alarm", zap.String("alarm_id", e.id))
	}
}

// schedulingPass validates that enabled alarms can actually fire
func (m *Monitor) schedulingPass(alarms []alarm.Alarm) []Issue {
	var issues []Issue
	for i := range alarms {
		if err := alarms[i].ValidateScheduling(); err != nil {
			issues = append(issues, Issue{
				Type:             IssueDataCorruption,
				Description:      err.Error(),
				AffectedAlarmIDs: []string{alarms[i].ID},
				Severity:         SeverityHigh,
				Metadata:         map[string]string{"pass": "scheduling"},
			})
		}
	}
	return issues
}

// recordResult updates metrics and, on failure, dispatches one
// summarizing tamper event. The history ring is appended by the
// caller once the final state is known.
func (m *Monitor) recordResult(result *CheckResult, ownerID string) {
	m.mu.Lock()
	m.metrics.TotalChecks++
	m.metrics.LastCheckTime = result.Timestamp
	m.durationTotal += result.Duration
	m.metrics.AverageCheckDuration = m.durationTotal / time.Duration(m.metrics.TotalChecks)
	if !result.IsValid {
		m.metrics.FailedChecks++
		m.metrics.TamperAttempts++
	}
	m.mu.Unlock()

	if result.IsValid {
		return
	}

	affected := affectedIDs(result.Issues)
	m.dispatch(TamperEvent{
		ID:   uuid.NewString(),
		Type: IntegrityViolation,
		Description: fmt.Sprintf("integrity check %s found %d issues",
			result.CheckID, len(result.Issues)),
		Severity:     result.Severity,
		Timestamp:    result.Timestamp,
		AffectedData: affected,
		OwnerID:      ownerID,
	})
}

// attemptRecovery re-drives the storage read path, which re-validates
// and re-persists rather than assuming exclusive ownership, so
// concurrent attempts stay safe.
func (m *Monitor) attemptRecovery(ctx context.Context, ownerID string) CheckState {
	m.setState(StateRecovering)

	m.mu.Lock()
	m.metrics.RecoveryAttempts++
	m.mu.Unlock()

	result, err := m.store.RetrieveAlarms(ctx, ownerID)
	if err == nil && len(result.Alarms) > 0 {
		m.mu.Lock()
		m.metrics.SuccessfulRecoveries++
		m.mu.Unlock()

		m.setState(StateRecovered)
		m.dispatchRecovery(TamperEvent{
			ID:          uuid.NewString(),
			Type:        DataRecovered,
			Description: fmt.Sprintf("automatic recovery restored %d alarms", len(result.Alarms)),
			Severity:    SeverityLow,
			Timestamp:   m.now().UTC(),
			OwnerID:     ownerID,
		})
		return StateRecovered
	}

	m.setState(StateRecoveryFailed)
	m.dispatch(TamperEvent{
		ID:          uuid.NewString(),
		Type:        IntegrityViolation,
		Description: "automatic recovery failed, alarm set unavailable",
		Severity:    SeverityCritical,
		Timestamp:   m.now().UTC(),
		OwnerID:     ownerID,
	})
	return StateRecoveryFailed
}

func affectedIDs(issues []Issue) []string {
	seen := make(map[string]bool)
	var out []string
	for _, issue := range issues {
		for _, id := range issue.AffectedAlarmIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
