package calendar

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// UntilLayout is the RFC5545 zulu form used for UNTIL boundaries.
const UntilLayout = "20060102T150405Z"

const rrulePrefix = "RRULE:"

// Rule wraps the RFC5545 rule array of one series together with its anchor
// date. It is a pure transformation over rule text; nothing here touches the
// store.
type Rule struct {
	event *Event
	lines []string
	rr    *rrule.RRule
}

// NewRule constructs a wrapper around the given base-shaped event. The event
// must carry a non-empty recurrence rule.
func NewRule(base *Event) (*Rule, error) {
	if base.Recurrence == nil || len(base.Recurrence.Rule) == 0 {
		return nil, newResolutionError("event has no recurrence rule", base.ID)
	}
	return newRuleFromLines(base, append([]string(nil), base.Recurrence.Rule...))
}

// NewRuleWithUntil constructs a wrapper whose rule is truncated at the given
// instant, overriding any UNTIL or COUNT already present.
func NewRuleWithUntil(base *Event, until time.Time) (*Rule, error) {
	r, err := NewRule(base)
	if err != nil {
		return nil, err
	}
	return newRuleFromLines(base, TruncateLines(r.lines, until))
}

func newRuleFromLines(base *Event, lines []string) (*Rule, error) {
	rr, err := parseFirstRRule(lines)
	if err != nil {
		return nil, &Error{Code: ErrCodeShape, Message: "unparseable recurrence rule", EventID: base.ID, Err: err}
	}
	rr.DTStart(base.StartDate.UTC())
	return &Rule{event: base, lines: lines, rr: rr}, nil
}

// Lines returns the rule array, including any truncation applied at
// construction time.
func (r *Rule) Lines() []string {
	return append([]string(nil), r.lines...)
}

// Base materializes the canonical base representation of the series: the
// wrapped event with its rule serialized and its own id as the series anchor.
func (r *Rule) Base() *Event {
	base := r.event.Clone()
	base.Recurrence = &Recurrence{
		Rule:    append([]string(nil), r.lines...),
		EventID: base.ID,
	}
	return base
}

// Until reports the UNTIL boundary of the rule, if one is present.
func (r *Rule) Until() (time.Time, bool) {
	raw, ok := UntilFromLines(r.lines)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(UntilLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// First returns the series' first occurrence.
func (r *Rule) First() time.Time {
	return r.rr.After(r.event.StartDate.UTC().Add(-time.Second), true)
}

// Between returns all occurrence starts in [from, to].
func (r *Rule) Between(from, to time.Time) []time.Time {
	return r.rr.Between(from.UTC(), to.UTC(), true)
}

// Before returns the last occurrence strictly before t.
func (r *Rule) Before(t time.Time) (time.Time, bool) {
	occ := r.rr.Before(t.UTC(), false)
	if occ.IsZero() {
		return time.Time{}, false
	}
	return occ, true
}

// TruncateLines returns a copy of the rule array whose RRULE lines end at the
// given instant. Any existing UNTIL is replaced and COUNT is dropped, since
// RFC5545 forbids carrying both.
func TruncateLines(lines []string, until time.Time) []string {
	out := make([]string, 0, len(lines))
	boundary := FormatUntil(until)
	for _, line := range lines {
		if !strings.HasPrefix(line, rrulePrefix) {
			out = append(out, line)
			continue
		}
		parts := strings.Split(strings.TrimPrefix(line, rrulePrefix), ";")
		kept := parts[:0]
		for _, p := range parts {
			if p == "" || strings.HasPrefix(p, "UNTIL=") || strings.HasPrefix(p, "COUNT=") {
				continue
			}
			kept = append(kept, p)
		}
		out = append(out, rrulePrefix+strings.Join(append(kept, "UNTIL="+boundary), ";"))
	}
	return out
}

// FormatUntil renders an instant in the RFC5545 zulu form.
func FormatUntil(t time.Time) string {
	return t.UTC().Format(UntilLayout)
}

// ParseUntil parses an RFC5545 zulu boundary string.
func ParseUntil(s string) (time.Time, error) {
	return time.Parse(UntilLayout, s)
}

// UntilFromLines extracts the raw UNTIL token from a rule array.
func UntilFromLines(lines []string) (string, bool) {
	for _, line := range lines {
		body := strings.TrimPrefix(line, rrulePrefix)
		for _, p := range strings.Split(body, ";") {
			if v, ok := strings.CutPrefix(p, "UNTIL="); ok {
				return v, true
			}
		}
	}
	return "", false
}

func parseFirstRRule(lines []string) (*rrule.RRule, error) {
	for _, line := range lines {
		if strings.HasPrefix(line, rrulePrefix) {
			return rrule.StrToRRule(strings.TrimPrefix(line, rrulePrefix))
		}
	}
	// No prefixed line; treat the first line as a bare rule string.
	return rrule.StrToRRule(lines[0])
}
