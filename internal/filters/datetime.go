package filters

import (
	"fmt"
	"strings"
	"time"
)

// OpenEnd is the instant an open ".." upper bound maps to.
var OpenEnd = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DateRange is a parsed datetime query. For a single instant Start equals End.
type DateRange struct {
	Start  time.Time
	End    time.Time
	Single bool
	// Raw is the single-instant input as given, used for prefix matching.
	Raw string
}

// ParseDate parses an ISO-8601 instant or an "a/b" interval where either end
// may be "..". An empty string yields a nil range.
func ParseDate(s string) (*DateRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		if s == ".." {
			return nil, fmt.Errorf("%w: datetime %q must name an instant", ErrInvalidInput, s)
		}
		t, err := parseInstant(s)
		if err != nil {
			return nil, err
		}
		return &DateRange{Start: t, End: t, Single: true, Raw: s}, nil

	case 2:
		start, end := time.Time{}, OpenEnd
		var err error
		if p := strings.TrimSpace(parts[0]); p != ".." && p != "" {
			if start, err = parseInstant(p); err != nil {
				return nil, err
			}
		}
		if p := strings.TrimSpace(parts[1]); p != ".." && p != "" {
			if end, err = parseInstant(p); err != nil {
				return nil, err
			}
		}
		if end.Before(start) {
			return nil, fmt.Errorf("%w: datetime range %q ends before it starts", ErrInvalidInput, s)
		}
		return &DateRange{Start: start, End: end}, nil

	default:
		return nil, fmt.Errorf("%w: datetime must be a date or two dates separated by '/' but got %q", ErrInvalidInput, s)
	}
}

// MatchesLastUpdate is the single-instant predicate: the location's last
// update timestamp must start with the requested instant as written.
func (r *DateRange) MatchesLastUpdate(lastUpdate string) bool {
	if r == nil {
		return true
	}
	if lastUpdate == "" {
		return false
	}
	return strings.HasPrefix(normalizeStamp(lastUpdate), normalizeStamp(r.Raw))
}

// MatchesService is the interval predicate over a location's service dates.
// When endSentinel is set the location is still active and the upper bound
// is not checked.
func (r *DateRange) MatchesService(begin, end *time.Time, endSentinel bool) bool {
	if r == nil {
		return true
	}
	if begin == nil {
		return false
	}
	if begin.Before(r.Start) {
		return false
	}
	if endSentinel {
		return true
	}
	if end == nil {
		return false
	}
	return !end.After(r.End)
}

// ResultBounds returns the interval to request from an upstream results
// endpoint. A single instant yields the same bound twice.
func (r *DateRange) ResultBounds() (after, before string) {
	if r == nil {
		return "", ""
	}
	if r.Single {
		return r.Raw, r.Raw
	}
	return formatBound(r.Start, time.Time{}), formatBound(r.End, OpenEnd)
}

func formatBound(t, open time.Time) string {
	if t.Equal(open) {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseInstant(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid datetime %q", ErrInvalidInput, s)
}

func normalizeStamp(s string) string {
	return strings.Replace(strings.TrimSpace(s), "T", " ", 1)
}
