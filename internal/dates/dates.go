// Package dates normalizes the day/month/year notation used by the
// recall source file into ISO dates. Callers must distinguish two falsy
// outcomes: an absent date (empty input) and a malformed one (the
// Invalid sentinel). An absent launch date is a validation failure; a
// malformed one additionally signals a corrupt source row.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Invalid is the sentinel stored in place of a date value that was
// present but did not parse. It is deliberately not a valid ISO string
// so it can never compare equal to a real date.
const Invalid = "invalid date"

// ISOLayout is the storage form of all dates in the system.
const ISOLayout = "2006-01-02"

// ErrMalformed reports input that was present but not a dd/mm/yyyy
// calendar date.
var ErrMalformed = errors.New("malformed date")

// dayMonthYear matches the source notation exactly: two-digit day and
// month, four-digit year. A five-digit year or a missing slash is
// malformed, not a partial match.
var dayMonthYear = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)

// Parse parses a dd/mm/yyyy string at day granularity.
//
// Empty input returns the zero time and a nil error (absent). Input
// that does not match the pattern, or matches it with an impossible
// calendar date (day 32, month 13), returns ErrMalformed.
func Parse(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	m := dayMonthYear.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (32 Jan -> 1 Feb); a round-trip
	// mismatch therefore means the components were not a real date.
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return t, nil
}

// ToISO converts a dd/mm/yyyy string to yyyy-mm-dd. Empty input stays
// empty (absent); malformed input becomes the Invalid sentinel.
func ToISO(s string) string {
	t, err := Parse(s)
	if err != nil {
		return Invalid
	}
	if t.IsZero() {
		return ""
	}
	return t.Format(ISOLayout)
}

// ParseISO parses a stored yyyy-mm-dd value. ok is false for empty
// input, the Invalid sentinel, and anything else that does not parse.
func ParseISO(iso string) (time.Time, bool) {
	if iso == "" || iso == Invalid {
		return time.Time{}, false
	}
	t, err := time.Parse(ISOLayout, iso)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
