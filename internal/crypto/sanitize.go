package crypto

import (
	"regexp"
	"strings"
)

// Length caps for alarm free-text fields
const (
	MaxLabelLen = 120
	MaxSoundLen = 64
	MaxMoodLen  = 32
)

// Injection denylist. An alarm label is display-only, but it flows
// into webviews and notification templates downstream, so anything
// script-shaped is stripped at the storage boundary and flagged by
// the monitor if it ever shows up in stored data.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script[^>]*>`),
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)</?\w+[^>]*>`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bnew\s+Function\s*\(`),
	regexp.MustCompile(`(?i)\bsetTimeout\s*\(\s*["']`),
	regexp.MustCompile(`(?i)\bsetInterval\s*\(\s*["']`),
	regexp.MustCompile(`(?i)expression\s*\(`),
}

var controlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")

var whitespaceRuns = regexp.MustCompile(`\s{2,}`)

// ContainsInjection reports whether s matches any denylist pattern.
// Used by the storage layer at write time and by the monitor's
// injection scan over stored data.
func ContainsInjection(s string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return controlChars.MatchString(s)
}

// SanitizeText strips injection patterns and control characters from
// a free-text field and enforces a length cap. The result is safe to
// persist and display.
func SanitizeText(s string, maxLen int) string {
	out := s
	for _, p := range injectionPatterns {
		out = p.ReplaceAllString(out, "")
	}
	out = controlChars.ReplaceAllString(out, "")
	out = whitespaceRuns.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)

	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen]
		out = strings.TrimSpace(strings.ToValidUTF8(out, ""))
	}
	return out
}
