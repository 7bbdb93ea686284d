// Package recurrence handles recurrence-rule end conditions.
//
// A recurrence rule without COUNT or UNTIL repeats forever; the dispatcher
// refuses to create such events and asks the user for an end condition,
// which this package parses from short natural-language phrases.
package recurrence

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable means the text held no recognizable end condition. The
// dispatcher re-prompts on this error instead of failing the flow.
var ErrUnparseable = errors.New("no recognizable end condition")

// NeedsEndCondition reports whether a recurrence rule lacks both COUNT and
// UNTIL. Empty rules never need one.
func NeedsEndCondition(rule string) bool {
	if rule == "" {
		return false
	}
	upper := strings.ToUpper(rule)
	return !strings.Contains(upper, "COUNT=") && !strings.Contains(upper, "UNTIL=")
}

var (
	countPattern = regexp.MustCompile(`(\d+)\s*(?:times|time|次|回)`)
	isoDate      = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
	cjkDate      = regexp.MustCompile(`(?:(\d{4})年)?(\d{1,2})月(\d{1,2})日`)
)

// ApplyEndCondition rewrites rule with a COUNT or UNTIL clause parsed from
// text. ref anchors year inference for dates given without one. Returns
// ErrUnparseable when the text contains neither form.
func ApplyEndCondition(rule, text string, ref time.Time) (string, error) {
	if m := countPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return "", ErrUnparseable
		}
		return appendClause(rule, fmt.Sprintf("COUNT=%d", n)), nil
	}

	if until, ok := parseUntil(text, ref); ok {
		return appendClause(rule, "UNTIL="+until.UTC().Format("20060102T150405Z")), nil
	}

	return "", ErrUnparseable
}

func parseUntil(text string, ref time.Time) (time.Time, bool) {
	if m := isoDate.FindStringSubmatch(text); m != nil {
		return endOfDay(atoi(m[1]), atoi(m[2]), atoi(m[3]), ref.Location()), true
	}
	if m := cjkDate.FindStringSubmatch(text); m != nil {
		year := ref.Year()
		if m[1] != "" {
			year = atoi(m[1])
		}
		t := endOfDay(year, atoi(m[2]), atoi(m[3]), ref.Location())
		// A month/day without a year means the next such date, not a past one.
		if m[1] == "" && t.Before(ref) {
			t = t.AddDate(1, 0, 0)
		}
		return t, true
	}
	return time.Time{}, false
}

func endOfDay(year, month, day int, loc *time.Location) time.Time {
	return time.Date(year, time.Month(month), day, 23, 59, 59, 0, loc)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func appendClause(rule, clause string) string {
	rule = strings.TrimRight(rule, ";")
	if rule == "" {
		return clause
	}
	return rule + ";" + clause
}
