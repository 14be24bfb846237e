package recall

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"recalls/internal/dates"
	"recalls/internal/logging"
)

// RuleResult is the outcome of a single validation rule.
type RuleResult struct {
	Valid  bool
	Reason string
}

func valid() RuleResult { return RuleResult{Valid: true} }

func invalid(format string, a ...any) RuleResult {
	return RuleResult{Reason: fmt.Sprintf(format, a...)}
}

// CheckLaunchDate requires a launch date that is present, parseable and
// not in the future.
func CheckLaunchDate(launchDate string, now time.Time) RuleResult {
	if launchDate == "" {
		return invalid("launch date is missing")
	}
	t, ok := dates.ParseISO(launchDate)
	if !ok {
		return invalid("launch date %q is not a valid date", launchDate)
	}
	if t.After(now) {
		return invalid("launch date %q is in the future", launchDate)
	}
	return valid()
}

// CheckRecallNumber requires the GROUP/YEAR/SEQ form with a recognized
// campaign group and a year that is not in the future. A two-digit year
// maps to 1900+YY; the source has used that epoch since inception and
// it is preserved as-is.
func CheckRecallNumber(recallNumber string, now time.Time) RuleResult {
	parts := strings.Split(recallNumber, "/")
	if len(parts) != 3 {
		return invalid("recall number %q is not in group/year/sequence form", recallNumber)
	}
	group, year := parts[0], parts[1]
	if !acceptedGroups[group] {
		return invalid("recall number %q has unknown campaign group %q", recallNumber, group)
	}
	if len(year) != 2 && len(year) != 4 {
		return invalid("recall number %q has malformed year %q", recallNumber, year)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return invalid("recall number %q has malformed year %q", recallNumber, year)
	}
	if len(year) == 2 {
		y += 1900
	}
	if y > now.Year() {
		return invalid("recall number %q has year in the future", recallNumber)
	}
	return valid()
}

// CheckVehicleCount requires the affected-vehicle count to be an
// integer.
func CheckVehicleCount(count string) RuleResult {
	if _, err := strconv.Atoi(count); err != nil {
		return invalid("vehicle count %q is not a number", count)
	}
	return valid()
}

// CheckBuildRanges requires every build range to start on or before the
// launch date, and on or before its own end when both bounds are
// present. One bad range invalidates the record.
func CheckBuildRanges(ranges []Range, launchDate string) RuleResult {
	launch, haveLaunch := dates.ParseISO(launchDate)

	var reasons []string
	for _, r := range ranges {
		if r.Start == "" {
			continue
		}
		start, ok := dates.ParseISO(r.Start)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("build range start %q is not a valid date", r.Start))
			continue
		}
		if haveLaunch && start.After(launch) {
			reasons = append(reasons, fmt.Sprintf("build range start %q is after the launch date %q", r.Start, launchDate))
		}
		if r.End != "" {
			if end, ok := dates.ParseISO(r.End); ok && start.After(end) {
				reasons = append(reasons, fmt.Sprintf("build range start %q is after its end %q", r.Start, r.End))
			}
		}
	}
	if len(reasons) > 0 {
		return invalid("%s", strings.Join(reasons, "; "))
	}
	return valid()
}

// CheckRequiredFields requires make, model, concern, defect and remedy
// to be non-empty.
func CheckRequiredFields(r Record) RuleResult {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"make", r.Make},
		{"model", r.Model},
		{"concern", r.Concern},
		{"defect", r.Defect},
		{"remedy", r.Remedy},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return invalid("missing required fields: %s", strings.Join(missing, ", "))
	}
	return valid()
}

// Validate runs every rule against the record and returns all failure
// reasons. All rules run even after the first failure so every problem
// with a record is reported at once.
func Validate(r Record, now time.Time) []string {
	var reasons []string
	for _, res := range []RuleResult{
		CheckLaunchDate(r.LaunchDate, now),
		CheckRecallNumber(r.RecallNumber, now),
		CheckVehicleCount(r.VehicleCount),
		CheckBuildRanges(r.BuildRanges, r.LaunchDate),
		CheckRequiredFields(r),
	} {
		if !res.Valid {
			reasons = append(reasons, res.Reason)
		}
	}
	return reasons
}

// IsValid reports whether the record passes every rule, logging each
// failure reason at warn level. Invalid records are never persisted;
// downstream the reconciliation engine substitutes or drops them.
func IsValid(r Record, now time.Time) bool {
	reasons := Validate(r, now)
	for _, reason := range reasons {
		logging.Warn().
			Str("recall", r.MakeModelRecallNumber).
			Str("reason", reason).
			Msg("recall failed validation")
	}
	return len(reasons) == 0
}
