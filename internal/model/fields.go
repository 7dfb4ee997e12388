package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Fields holds members of a stored JSON object that the Go type does not
// declare. Clients add fields over time; they are kept so a record reads
// back exactly as it was written.
type Fields map[string]json.RawMessage

// jsonNames returns the member names the struct type of v encodes.
func jsonNames(v any) map[string]bool {
	t := reflect.TypeOf(v)
	names := make(map[string]bool, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		names[name] = true
	}
	return names
}

// unknownFields returns the members of object b not listed in known, or nil.
func unknownFields(b []byte, known map[string]bool) (Fields, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	var out Fields
	for k, v := range all {
		if known[k] {
			continue
		}
		if out == nil {
			out = Fields{}
		}
		out[k] = v
	}
	return out, nil
}

// appendFields adds extra members to the encoded object b, in name order.
func appendFields(b []byte, extra Fields) ([]byte, error) {
	if len(extra) == 0 {
		return b, nil
	}
	b = bytes.TrimRight(b, " \n")
	if len(b) < 2 || b[len(b)-1] != '}' {
		return nil, fmt.Errorf("append fields: not an object")
	}
	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	sep := len(bytes.TrimSpace(b[1:len(b)-1])) > 0
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		if sep {
			buf.WriteByte(',')
		}
		sep = true
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := json.Compact(&buf, extra[k]); err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
