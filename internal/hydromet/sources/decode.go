package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flexFloat accepts a JSON number, a numeric string, an empty string or null.
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		f.v = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			f.v = nil
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		f.v = &v
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.v = &v
	return nil
}

// flexID accepts a JSON string or number and keeps its text form.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = flexID(n.String())
	return nil
}

// relationship is a JSON:API relationship whose data may be one object or a list.
type relationship struct {
	Data []resourceRef
}

type resourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (r *relationship) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d := bytes.TrimSpace(raw.Data)
	switch {
	case len(d) == 0 || bytes.Equal(d, []byte("null")):
		r.Data = nil
	case d[0] == '[':
		return json.Unmarshal(d, &r.Data)
	default:
		var one resourceRef
		if err := json.Unmarshal(d, &one); err != nil {
			return err
		}
		r.Data = []resourceRef{one}
	}
	return nil
}

func (r *relationship) first() (string, bool) {
	if r == nil || len(r.Data) == 0 || r.Data[0].ID == "" {
		return "", false
	}
	return r.Data[0].ID, true
}

var stampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseStamp parses the timestamp layouts used by RISE and AWDB.
func parseStamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
