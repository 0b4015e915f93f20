// Package schedule validates and normalizes the weekly schedule expressions
// used by publisher upgrade profiles.
//
// A schedule is a 5-field cron expression "MIN HOUR DAY MONTH DOW" restricted
// to a fixed weekly cadence: DAY and MONTH must be "*", MIN and HOUR are
// single numeric values, and DOW is one or more days of the week. The
// canonical form spells days as uppercase three-letter names:
//
//	0 10 * * TUE
//	30 2 * * MON,THU
//
// All functions are pure and safe for concurrent use.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/localrivet/npamcp/internal/errortypes"
)

// ExpectedFormat describes the accepted inputs; it is included in every
// format error so callers can correct their input.
const ExpectedFormat = `expected "MIN HOUR * * DAY" (e.g. "0 10 * * TUE") or "DAY HH:MM" (e.g. "TUE 10:00")`

// DayNames are the canonical day-of-week tokens indexed by cron number.
var DayNames = [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// dayAliases maps lowercase day spellings to cron day numbers.
var dayAliases = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tues": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thur": 4, "thurs": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

func formatError(err error) *errortypes.AppError {
	return errortypes.FormatError(err, "invalid schedule ("+ExpectedFormat+")")
}

// Normalize validates a 5-field expression and returns its canonical form.
// Normalize(Normalize(x)) == Normalize(x) for every accepted x.
func Normalize(expr string) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", formatError(fmt.Errorf("expected 5 fields, got %d", len(fields))).
			WithField("input", expr)
	}

	minute, err := parseNumber(fields[0], 0, 59)
	if err != nil {
		return "", formatError(fmt.Errorf("minute field: %w", err)).WithField("input", expr)
	}
	hour, err := parseNumber(fields[1], 0, 23)
	if err != nil {
		return "", formatError(fmt.Errorf("hour field: %w", err)).WithField("input", expr)
	}
	if fields[2] != "*" {
		return "", formatError(fmt.Errorf("day-of-month field must be \"*\", got %q", fields[2])).
			WithField("input", expr)
	}
	if fields[3] != "*" {
		return "", formatError(fmt.Errorf("month field must be \"*\", got %q", fields[3])).
			WithField("input", expr)
	}
	days, err := parseDays(fields[4])
	if err != nil {
		return "", formatError(fmt.Errorf("day-of-week field: %w", err)).WithField("input", expr)
	}

	return fmt.Sprintf("%d %d * * %s", minute, hour, joinDays(days)), nil
}

// HumanToCron converts a day (or comma-joined days) and an "HH:MM" time into
// a canonical expression. HumanToCron("TUE", "10:00") returns "0 10 * * TUE".
func HumanToCron(day, hhmm string) (string, error) {
	days, err := parseDays(strings.TrimSpace(day))
	if err != nil {
		return "", formatError(fmt.Errorf("day: %w", err)).WithField("day", day)
	}

	clock := strings.TrimSpace(hhmm)
	hourPart, minutePart, ok := strings.Cut(clock, ":")
	if !ok {
		return "", formatError(fmt.Errorf("time %q is not HH:MM", hhmm)).WithField("time", hhmm)
	}
	hour, err := parseNumber(hourPart, 0, 23)
	if err != nil {
		return "", formatError(fmt.Errorf("hour: %w", err)).WithField("time", hhmm)
	}
	if len(minutePart) != 2 {
		return "", formatError(fmt.Errorf("minute %q must be two digits", minutePart)).WithField("time", hhmm)
	}
	minute, err := parseNumber(minutePart, 0, 59)
	if err != nil {
		return "", formatError(fmt.Errorf("minute: %w", err)).WithField("time", hhmm)
	}

	return Normalize(fmt.Sprintf("%d %d * * %s", minute, hour, joinDays(days)))
}

// Canonicalize accepts either the 5-field form or the "DAY HH:MM" shorthand
// and returns the canonical 5-field expression.
func Canonicalize(input string) (string, error) {
	fields := strings.Fields(input)
	switch len(fields) {
	case 5:
		return Normalize(input)
	case 2:
		return HumanToCron(fields[0], fields[1])
	default:
		return "", formatError(fmt.Errorf("expected 5 fields or \"DAY HH:MM\", got %d fields", len(fields))).
			WithField("input", input)
	}
}

// Describe renders an expression as "every TUE at 10:00".
func Describe(expr string) (string, error) {
	canonical, err := Canonicalize(expr)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(canonical)
	minute, _ := strconv.Atoi(fields[0])
	hour, _ := strconv.Atoi(fields[1])
	days := strings.ReplaceAll(fields[4], ",", ", ")
	return fmt.Sprintf("every %s at %02d:%02d", days, hour, minute), nil
}

// parseNumber accepts a single decimal value in [minimum, maximum].
func parseNumber(field string, minimum, maximum int) (int, error) {
	if field == "" {
		return 0, errors.New("empty value")
	}
	for _, r := range field {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid value %q: only a single number is allowed", field)
		}
	}
	value, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", field, err)
	}
	if value < minimum || value > maximum {
		return 0, fmt.Errorf("value out of range [%d-%d]: got %d", minimum, maximum, value)
	}
	return value, nil
}

// parseDays parses a comma-joined list of day numbers (0-6) or names.
// Duplicates collapse; first-seen order is kept.
func parseDays(field string) ([]int, error) {
	if field == "" {
		return nil, errors.New("empty day-of-week")
	}
	var days []int
	seen := make(map[int]bool, 7)
	for _, term := range strings.Split(field, ",") {
		day, err := parseDay(term)
		if err != nil {
			return nil, err
		}
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	return days, nil
}

func parseDay(term string) (int, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return 0, errors.New("empty day in list")
	}
	if term[0] >= '0' && term[0] <= '9' {
		day, err := parseNumber(term, 0, 6)
		if err != nil {
			return 0, err
		}
		return day, nil
	}
	day, ok := dayAliases[strings.ToLower(term)]
	if !ok {
		return 0, fmt.Errorf("unknown day %q (use SUN..SAT or 0-6)", term)
	}
	return day, nil
}

func joinDays(days []int) string {
	names := make([]string, len(days))
	for i, day := range days {
		names[i] = DayNames[day]
	}
	return strings.Join(names, ",")
}
