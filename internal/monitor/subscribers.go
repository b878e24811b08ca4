package monitor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/securestore"
)

// Subscribe registers a callback for every tamper event. Dispatch is
// synchronous in cycle order; callbacks must return quickly. The
// returned function unsubscribes.
func (m *Monitor) Subscribe(fn func(TamperEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// SubscribeRecovery registers a callback for recovery outcomes only
func (m *Monitor) SubscribeRecovery(fn func(TamperEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.recoverySubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.recoverySubs, id)
	}
}

// RecoveryEvents returns the buffered recovery event channel. When the
// buffer is full the oldest event is dropped; the channel is a
// convenience mirror, subscribers are the reliable path.
func (m *Monitor) RecoveryEvents() <-chan TamperEvent {
	return m.recoveryCh
}

// dispatch records an event in the ring, mirrors it to the tamper log,
// and fans it out to all subscribers.
func (m *Monitor) dispatch(event TamperEvent) {
	m.mu.Lock()
	m.events = append(m.events, event)
	if len(m.events) > eventRingCap {
		m.events = m.events[1:]
	}
	subs := make([]func(TamperEvent), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if m.audit != nil {
		if _, err := m.audit.Append(string(event.Type), event.Description, event.OwnerID); err != nil {
			m.log.Warn("tamper log append failed", zap.Error(err))
		}
	}

	m.log.Warn("tamper event",
		zap.String("type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.String("description", event.Description))
	for _, fn := range subs {
		fn(event)
	}
}

// dispatchRecovery notifies recovery subscribers and the recovery
// channel, then the general subscribers.
func (m *Monitor) dispatchRecovery(event TamperEvent) {
	m.mu.Lock()
	subs := make([]func(TamperEvent), 0, len(m.recoverySubs))
	for _, fn := range m.recoverySubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}

	select {
	case m.recoveryCh <- event:
	default:
		// Drop the oldest buffered event to make room
		select {
		case <-m.recoveryCh:
		default:
		}
		select {
		case m.recoveryCh <- event:
		default:
		}
	}

	m.dispatch(event)
}

// NotifyTamper implements securestore.Notifier: ad-hoc validation
// failures on the storage read path enter the monitor here, outside
// the periodic cycle.
func (m *Monitor) NotifyTamper(sig securestore.TamperSignal) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.metrics.TamperAttempts++
	m.mu.Unlock()

	severity := SeverityHigh
	if sig.Kind == securestore.SignalSignatureInvalid || sig.Kind == securestore.SignalChecksumMismatch {
		severity = SeverityCritical
	}

	m.dispatch(TamperEvent{
		ID:          uuid.NewString(),
		Type:        TamperDetected,
		Description: string(sig.Kind) + ": " + sig.Description,
		Severity:    severity,
		Timestamp:   sig.At,
		OwnerID:     sig.OwnerID,
	})
	m.recordMutation(sig.At)
}

// ReportSecurityEvent is the generic security-event channel; mutation
// kinds feed the frequency heuristic.
func (m *Monitor) ReportSecurityEvent(kind alarm.EventKind, detail string) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.dispatch(TamperEvent{
		ID:          uuid.NewString(),
		Type:        SecurityEvent,
		Description: string(kind) + ": " + detail,
		Severity:    SeverityLow,
		Timestamp:   m.now().UTC(),
	})
	if kind.IsMutation() {
		m.recordMutation(m.now())
	}
}

// recordMutation feeds the sliding frequency window. More than
// freqThreshold mutation events inside freqWindow raises one
// medium-severity suspicious activity event per window.
func (m *Monitor) recordMutation(at time.Time) {
	m.mu.Lock()
	cutoff := m.now().Add(-m.freqWindow)
	kept := m.mutations[:0]
	for _, t := range m.mutations {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.mutations = append(kept, at)

	suspicious := len(m.mutations) > m.freqThreshold &&
		m.now().Sub(m.lastSuspicion) >= m.freqWindow
	count := len(m.mutations)
	if suspicious {
		m.lastSuspicion = m.now()
	}
	m.mu.Unlock()

	if !suspicious {
		return
	}
	m.dispatch(TamperEvent{
		ID:          uuid.NewString(),
		Type:        TamperDetected,
		Description: fmt.Sprintf("suspicious activity: %d mutation events in the last %s", count, m.freqWindow),
		Severity:    SeverityMedium,
		Timestamp:   m.now().UTC(),
	})
}
