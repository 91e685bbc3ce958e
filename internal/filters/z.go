package filters

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidInput marks malformed query parameters. It is never retried.
var ErrInvalidInput = errors.New("invalid query parameter")

// ZType is the form of a vertical level filter.
type ZType int

const (
	ZSingle ZType = iota + 1
	// ZRange matches every value between two bounds, inclusive.
	ZRange
	// ZEnumeratedList matches any of the listed values.
	ZEnumeratedList
)

func (t ZType) String() string {
	switch t {
	case ZSingle:
		return "SINGLE"
	case ZRange:
		return "RANGE"
	case ZEnumeratedList:
		return "ENUMERATED_LIST"
	default:
		return "UNKNOWN"
	}
}

// ZFilter is a parsed vertical level ("z") query.
type ZFilter struct {
	Type   ZType
	Values []float64
}

// ParseZ parses an EDR z value: "N", "N1/N2", "v1,v2,..." or "Rk/start/step".
// An empty string yields a nil filter.
func ParseZ(z string) (*ZFilter, error) {
	z = strings.TrimSpace(z)
	if z == "" {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(z, "R"):
		parts := strings.Split(strings.TrimPrefix(z, "R"), "/")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: invalid z interval %q", ErrInvalidInput, z)
		}
		steps, err := strconv.Atoi(parts[0])
		if err != nil || steps <= 0 {
			return nil, fmt.Errorf("%w: invalid z repeat count in %q", ErrInvalidInput, z)
		}
		start, err := parseZNumber(parts[1], z)
		if err != nil {
			return nil, err
		}
		step, err := parseZNumber(parts[2], z)
		if err != nil {
			return nil, err
		}
		values := make([]float64, 0, steps)
		for i := 0; i < steps; i++ {
			values = append(values, start+float64(i)*step)
		}
		return &ZFilter{Type: ZEnumeratedList, Values: values}, nil

	case strings.Contains(z, "/"):
		parts := strings.Split(z, "/")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: invalid z range %q", ErrInvalidInput, z)
		}
		lo, err := parseZNumber(parts[0], z)
		if err != nil {
			return nil, err
		}
		hi, err := parseZNumber(parts[1], z)
		if err != nil {
			return nil, err
		}
		if hi < lo {
			return nil, fmt.Errorf("%w: z range %q ends before it starts", ErrInvalidInput, z)
		}
		return &ZFilter{Type: ZRange, Values: []float64{lo, hi}}, nil

	case strings.Contains(z, ","):
		parts := strings.Split(z, ",")
		values := make([]float64, 0, len(parts))
		for _, p := range parts {
			v, err := parseZNumber(p, z)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return &ZFilter{Type: ZEnumeratedList, Values: values}, nil

	default:
		v, err := parseZNumber(z, z)
		if err != nil {
			return nil, err
		}
		return &ZFilter{Type: ZSingle, Values: []float64{v}}, nil
	}
}

// Matches reports whether an elevation satisfies the filter.
// A nil elevation never matches.
func (f *ZFilter) Matches(elevation *float64) bool {
	if f == nil {
		return true
	}
	if elevation == nil {
		return false
	}
	e := *elevation
	switch f.Type {
	case ZSingle:
		return e == f.Values[0]
	case ZRange:
		return e >= f.Values[0] && e <= f.Values[1]
	case ZEnumeratedList:
		for _, v := range f.Values {
			if e == v {
				return true
			}
		}
	}
	return false
}

func parseZNumber(s, whole string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty segment in z value %q", ErrInvalidInput, whole)
	}
	v, err := parseFinite(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid z value %q", ErrInvalidInput, whole)
	}
	return v, nil
}

// parseFinite parses a decimal number, rejecting NaN and infinities.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}
