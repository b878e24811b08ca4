// Package alarm defines the alarm data model shared by the storage
// layer and the integrity monitor.
package alarm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// VoiceMood selects the announcement personality for an alarm
type VoiceMood string

const (
	MoodMotivational  VoiceMood = "motivational"
	MoodDrillSergeant VoiceMood = "drill-sergeant"
	MoodGentle        VoiceMood = "gentle"
	MoodAnimeHero     VoiceMood = "anime-hero"
	MoodSavageRoast   VoiceMood = "savage-roast"
)

// DefaultMood is applied when an unknown mood tag is encountered
const DefaultMood = MoodGentle

// DefaultSnoozeInterval is applied when snooze is enabled without an interval
const DefaultSnoozeInterval = 5

// clockSkewAllowance tolerates small clock drift when checking CreatedAt
const clockSkewAllowance = 2 * time.Minute

var timePattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// Alarm is a single scheduled wake-up
type Alarm struct {
	ID             string    `json:"id"`
	Time           string    `json:"time"` // 24-hour HH:MM
	Label          string    `json:"label,omitempty"`
	Days           []int     `json:"days"` // weekday indices, 0 = Sunday
	Enabled        bool      `json:"enabled"`
	Active         bool      `json:"active"`
	VoiceMood      VoiceMood `json:"voice_mood,omitempty"`
	Sound          string    `json:"sound,omitempty"`
	SnoozeEnabled  bool      `json:"snooze_enabled"`
	SnoozeInterval int       `json:"snooze_interval,omitempty"` // minutes
	SnoozeCount    int       `json:"snooze_count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ValidTimeFormat reports whether s is a 24-hour HH:MM string
func ValidTimeFormat(s string) bool {
	return timePattern.MatchString(s)
}

// ParseTime splits a 24-hour HH:MM string into hour and minute
func ParseTime(s string) (hour, minute int, err error) {
	if !timePattern.MatchString(s) {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	return hour, minute, nil
}

// KnownMood reports whether m is one of the supported voice moods
func KnownMood(m VoiceMood) bool {
	switch m {
	case MoodMotivational, MoodDrillSergeant, MoodGentle, MoodAnimeHero, MoodSavageRoast:
		return true
	}
	return false
}

// ValidateStructure checks that required fields are present.
// This is the structural pass: it does not judge field contents.
func (a *Alarm) ValidateStructure() error {
	if a.ID == "" {
		return fmt.Errorf("alarm missing id")
	}
	if a.Time == "" {
		return fmt.Errorf("alarm %s missing time", a.ID)
	}
	if a.Days == nil {
		return fmt.Errorf("alarm %s missing days", a.ID)
	}
	return nil
}

// ValidateConsistency checks field contents: time format, day range,
// and snooze interval when snooze is enabled.
func (a *Alarm) ValidateConsistency() error {
	if !ValidTimeFormat(a.Time) {
		return fmt.Errorf("alarm %s has invalid time %q", a.ID, a.Time)
	}
	for _, d := range a.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("alarm %s has out-of-range day %d", a.ID, d)
		}
	}
	if a.SnoozeEnabled && a.SnoozeInterval < 1 {
		return fmt.Errorf("alarm %s has snooze enabled with interval %d", a.ID, a.SnoozeInterval)
	}
	if a.SnoozeCount < 0 {
		return fmt.Errorf("alarm %s has negative snooze count", a.ID)
	}
	return nil
}

// ValidateTimestamps checks createdAt/updatedAt sanity against now
func (a *Alarm) ValidateTimestamps(now time.Time) error {
	if a.CreatedAt.IsZero() {
		return fmt.Errorf("alarm %s missing created_at", a.ID)
	}
	if a.CreatedAt.After(now.Add(clockSkewAllowance)) {
		return fmt.Errorf("alarm %s created in the future", a.ID)
	}
	if a.UpdatedAt.Before(a.CreatedAt) {
		return fmt.Errorf("alarm %s updated before created", a.ID)
	}
	return nil
}

// ValidateScheduling checks that an enabled alarm can actually fire:
// at least one weekday and a parseable in-range time.
func (a *Alarm) ValidateScheduling() error {
	if !a.Enabled {
		return nil
	}
	if len(a.Days) == 0 {
		return fmt.Errorf("enabled alarm %s has no scheduled days", a.ID)
	}
	hour, minute, err := ParseTime(a.Time)
	if err != nil {
		return fmt.Errorf("enabled alarm %s: %w", a.ID, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("enabled alarm %s time out of range", a.ID)
	}
	return nil
}

// Validate runs every pass and returns the first failure
func (a *Alarm) Validate(now time.Time) error {
	if err := a.ValidateStructure(); err != nil {
		return err
	}
	if err := a.ValidateConsistency(); err != nil {
		return err
	}
	if err := a.ValidateTimestamps(now); err != nil {
		return err
	}
	return a.ValidateScheduling()
}

// Normalize coerces fields into canonical shape: days sorted and
// deduplicated, time zero-padded, unknown moods replaced, snooze
// defaults applied, timestamps forced to UTC. Free-text sanitization
// is the crypto boundary's job, not Normalize's.
func (a *Alarm) Normalize() {
	a.Days = normalizeDays(a.Days)
	if hour, minute, err := ParseTime(a.Time); err == nil {
		a.Time = fmt.Sprintf("%02d:%02d", hour, minute)
	}
	if a.VoiceMood != "" && !KnownMood(a.VoiceMood) {
		a.VoiceMood = DefaultMood
	}
	if a.SnoozeEnabled && a.SnoozeInterval < 1 {
		a.SnoozeInterval = DefaultSnoozeInterval
	}
	if a.SnoozeCount < 0 {
		a.SnoozeCount = 0
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
}

func normalizeDays(days []int) []int {
	if days == nil {
		return []int{}
	}
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// canonicalAlarm fixes the marshaling order for hashing. Days are
// sorted and timestamps reduced to unix seconds so the hash is stable
// across serialization round trips.
type canonicalAlarm struct {
	ID             string    `json:"id"`
	Time           string    `json:"time"`
	Label          string    `json:"label"`
	Days           []int     `json:"days"`
	Enabled        bool      `json:"enabled"`
	Active         bool      `json:"active"`
	VoiceMood      VoiceMood `json:"voice_mood"`
	Sound          string    `json:"sound"`
	SnoozeEnabled  bool      `json:"snooze_enabled"`
	SnoozeInterval int       `json:"snooze_interval"`
	SnoozeCount    int       `json:"snooze_count"`
	CreatedAt      int64     `json:"created_at"`
}

func (a *Alarm) canonical() canonicalAlarm {
	return canonicalAlarm{
		ID:             a.ID,
		Time:           a.Time,
		Label:          a.Label,
		Days:           normalizeDays(a.Days),
		Enabled:        a.Enabled,
		Active:         a.Active,
		VoiceMood:      a.VoiceMood,
		Sound:          a.Sound,
		SnoozeEnabled:  a.SnoozeEnabled,
		SnoozeInterval: a.SnoozeInterval,
		SnoozeCount:    a.SnoozeCount,
		CreatedAt:      a.CreatedAt.Unix(),
	}
}

// CanonicalJSON returns the canonical serialized form of a single alarm.
// UpdatedAt is deliberately excluded: a legitimate update bumps it
// without changing what the alarm does.
func (a *Alarm) CanonicalJSON() ([]byte, error) {
	return json.Marshal(a.canonical())
}

// ContentHash returns the sha256 hex digest of the canonical form,
// used for change detection.
func (a *Alarm) ContentHash() string {
	data, err := a.CanonicalJSON()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalList returns the canonical serialized form of a whole alarm
// list, the input to the bundle checksum.
func CanonicalList(alarms []Alarm) ([]byte, error) {
	canon := make([]canonicalAlarm, len(alarms))
	for i := range alarms {
		canon[i] = alarms[i].canonical()
	}
	return json.Marshal(canon)
}
