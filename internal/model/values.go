package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID is a numeric record identifier (equipment, inspections).
// Documents written by older clients sometimes carry ids as strings, so
// decoding accepts "12" as well as 12. Non-integer values are rejected;
// importers renumber them with IDRemap first.
type ID int64

// UnmarshalJSON accepts a JSON number or a numeric string.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*id = 0
			return nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*id = ID(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("id %q: not a number", s)
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return fmt.Errorf("id %q: not an integer", s)
	}
	*id = ID(f)
	return nil
}

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseID parses a decimal id as typed by a user or passed on a command line.
func ParseID(s string) (ID, error) {
	var id ID
	if err := id.UnmarshalJSON([]byte(strconv.Quote(s))); err != nil {
		return 0, err
	}
	return id, nil
}

// Reading is an optional numeric measurement taken during an inspection.
// Form submissions deliver numbers as strings; an empty string or null
// means the reading was not taken.
type Reading struct {
	value float64
	valid bool
}

// ReadingOf returns a present reading.
func ReadingOf(v float64) Reading { return Reading{value: v, valid: true} }

// Float64 returns the value and whether it was recorded.
func (r Reading) Float64() (float64, bool) { return r.value, r.valid }

// IsZero reports an absent reading; used by the omitzero json option.
func (r Reading) IsZero() bool { return !r.valid }

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*r = Reading{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("reading %q: %w", s, err)
		}
		*r = ReadingOf(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	*r = ReadingOf(f)
	return nil
}

func (r Reading) String() string {
	if !r.valid {
		return ""
	}
	return strconv.FormatFloat(r.value, 'f', -1, 64)
}
