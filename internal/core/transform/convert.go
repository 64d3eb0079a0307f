// Package transform maps Project Online entities onto sheet rows and
// columns. Everything here is pure: no I/O, deterministic for a given input.
package transform

// convert.go holds the scalar conversions:
//   - container names (sanitized, length-capped)
//   - ISO 8601 date-times collapsed to dates
//   - ISO 8601 durations as decimal days or hour strings (8-hour day)
//   - numeric priority to one of seven labels
//   - percent complete to a status label

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength is the longest workspace or sheet name the target accepts.
const MaxNameLength = 50

// HoursPerDay is the workday used for every day/hour conversion.
const HoursPerDay = 8.0

const ellipsis = "..."

var dashRuns = regexp.MustCompile(`-{2,}`)

// SanitizeName replaces characters the target rejects in container names
// with a dash, collapses dash runs, trims, and truncates to MaxNameLength
// with an ellipsis.
func SanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}

	out := dashRuns.ReplaceAllString(b.String(), "-")
	out = strings.TrimSpace(out)
	out = strings.Trim(out, "-")
	out = strings.TrimSpace(out)
	if out == "" {
		return "Untitled"
	}
	return Truncate(out, MaxNameLength)
}

// Truncate shortens s to at most max runes, ending in an ellipsis when cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return string([]rune(s)[:max])
	}
	r := []rune(s)[:max-len(ellipsis)]
	return strings.TrimRight(string(r), " -") + ellipsis
}

// SheetName returns "<project> - <suffix>", shortening the project part so
// the suffix always survives.
func SheetName(project, suffix string) string {
	tail := " - " + suffix
	base := SanitizeName(project)
	room := MaxNameLength - utf8.RuneCountInString(tail)
	return Truncate(base, room) + tail
}

// Date collapses an ISO 8601 date-time to its date. No timezone adjustment
// is applied.
func Date(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[:i]
	}
	return s
}

var isoDuration = regexp.MustCompile(`^(-)?P(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseHours converts an ISO 8601 duration (weeks, days, hours, minutes,
// seconds) to hours. A week is five workdays.
func ParseHours(s string) (float64, error) {
	s = strings.TrimSpace(s)
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	part := func(i int) float64 {
		if m[i] == "" {
			return 0
		}
		f, _ := strconv.ParseFloat(m[i], 64)
		return f
	}

	hours := part(2)*5*HoursPerDay + part(3)*HoursPerDay + part(4) + part(5)/60 + part(6)/3600
	if m[1] == "-" {
		hours = -hours
	}
	return hours, nil
}

// DurationDays renders an ISO duration as decimal days for a Duration
// column: PT40H and P5D are 5, PT480M is 1.
func DurationDays(s string) (float64, bool) {
	h, err := ParseHours(s)
	if err != nil {
		return 0, false
	}
	return round2(h / HoursPerDay), true
}

// DurationHours renders an ISO duration as an hour string such as "40h".
func DurationHours(s string) (string, bool) {
	h, err := ParseHours(s)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(round2(h), 'f', -1, 64) + "h", true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Priority labels, lowest first.
const (
	PriorityLowest   = "Lowest"
	PriorityVeryLow  = "Very Low"
	PriorityLower    = "Lower"
	PriorityMedium   = "Medium"
	PriorityHigher   = "Higher"
	PriorityVeryHigh = "Very High"
	PriorityHighest  = "Highest"
)

type priorityBucket struct {
	min   int
	label string
}

// priorityBuckets is ordered by descending threshold.
var priorityBuckets = []priorityBucket{
	{1000, PriorityHighest},
	{800, PriorityVeryHigh},
	{600, PriorityHigher},
	{500, PriorityMedium},
	{400, PriorityLower},
	{200, PriorityVeryLow},
	{0, PriorityLowest},
}

// PriorityLabels lists the seven labels in ascending order.
func PriorityLabels() []string {
	out := make([]string, len(priorityBuckets))
	for i, b := range priorityBuckets {
		out[len(out)-1-i] = b.label
	}
	return out
}

// Priority maps a 0-1000 priority to its label. Values outside the range
// clamp to the nearest bound.
func Priority(v int) string {
	if v < 0 {
		v = 0
	}
	if v > 1000 {
		v = 1000
	}
	for _, b := range priorityBuckets {
		if v >= b.min {
			return b.label
		}
	}
	return PriorityLowest
}

// Task status labels.
const (
	StatusNotStarted = "Not Started"
	StatusInProgress = "In Progress"
	StatusComplete   = "Complete"
)

// TaskStatus derives a status from percent complete.
func TaskStatus(percent float64) string {
	switch {
	case percent <= 0:
		return StatusNotStarted
	case percent >= 100:
		return StatusComplete
	default:
		return StatusInProgress
	}
}

// ProjectStatuses are the project status labels, in catalog order.
var ProjectStatuses = []string{"Active", "Planning", "Completed", "On Hold", "Cancelled"}

// ProjectStatus returns status when it names a known label (any case),
// otherwise derives one from percent complete.
func ProjectStatus(status string, percent float64) string {
	for _, s := range ProjectStatuses {
		if strings.EqualFold(strings.TrimSpace(status), s) {
			return s
		}
	}
	switch {
	case percent <= 0:
		return "Planning"
	case percent >= 100:
		return "Completed"
	default:
		return "Active"
	}
}

// ConstraintTypes are the task constraint labels indexed by the numeric
// Project constraint type.
var ConstraintTypes = []string{
	"As Soon As Possible",
	"As Late As Possible",
	"Must Start On",
	"Must Finish On",
	"Start No Earlier Than",
	"Start No Later Than",
	"Finish No Earlier Than",
	"Finish No Later Than",
}

// Constraint maps a numeric constraint type to its label.
func Constraint(v int) string {
	if v < 0 || v >= len(ConstraintTypes) {
		return ConstraintTypes[0]
	}
	return ConstraintTypes[v]
}
