package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// IDRemap gives records with a non-integer id a fresh one. Older clients
// minted inspection ids as Date.now()+Math.random(), so documents they
// exported carry values like 1700000000001.4321. The same raw id always
// maps to the same fresh id, so photos keep pointing at their inspection.
//
// A nil *IDRemap leaves every document unchanged.
type IDRemap struct {
	next func() ID
	ids  map[string]ID
}

func NewIDRemap(next func() ID) *IDRemap {
	return &IDRemap{next: next, ids: map[string]ID{}}
}

// Len reports how many distinct raw ids were replaced.
func (r *IDRemap) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ids)
}

// Lookup returns the fresh id given to a raw id, written as JSON.
func (r *IDRemap) Lookup(raw string) (ID, bool) {
	if r == nil {
		return 0, false
	}
	key, ok := fractionalID(json.RawMessage(raw))
	if !ok {
		return 0, false
	}
	id, ok := r.ids[key]
	return id, ok
}

// Inspection rewrites the id of an encoded inspection and the inspectionId
// of its inline photos.
func (r *IDRemap) Inspection(raw json.RawMessage) json.RawMessage {
	return r.rewrite(raw, "id", true)
}

// Photo rewrites the inspectionId of an encoded photo.
func (r *IDRemap) Photo(raw json.RawMessage) json.RawMessage {
	return r.rewrite(raw, "inspectionId", false)
}

// rewrite returns raw unchanged when it needs no fix or is not an object;
// decoding reports malformed input later.
func (r *IDRemap) rewrite(raw json.RawMessage, field string, inline bool) json.RawMessage {
	if r == nil {
		return raw
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil || obj == nil {
		return raw
	}
	changed := r.fix(obj, field)
	if v, ok := obj["photos"]; inline && ok {
		var photos []map[string]json.RawMessage
		if json.Unmarshal(v, &photos) == nil {
			fixed := false
			for _, p := range photos {
				if p != nil && r.fix(p, "inspectionId") {
					fixed = true
				}
			}
			if fixed {
				if b, err := json.Marshal(photos); err == nil {
					obj["photos"] = b
					changed = true
				}
			}
		}
	}
	if !changed {
		return raw
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return b
}

func (r *IDRemap) fix(obj map[string]json.RawMessage, field string) bool {
	v, ok := obj[field]
	if !ok {
		return false
	}
	key, ok := fractionalID(v)
	if !ok {
		return false
	}
	id, seen := r.ids[key]
	if !seen {
		id = r.next()
		r.ids[key] = id
	}
	obj[field] = json.RawMessage(id.String())
	return true
}

// fractionalID reports whether v is a number, or a numeric string, that ID
// refuses, and returns it in a canonical form so 1.5 and "1.5" match.
func fractionalID(v json.RawMessage) (string, bool) {
	var id ID
	if id.UnmarshalJSON(v) == nil {
		return "", false
	}
	s := strings.TrimSpace(string(v))
	if strings.HasPrefix(s, `"`) {
		if json.Unmarshal([]byte(s), &s) != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", false
	}
	return strconv.FormatFloat(f, 'g', -1, 64), true
}
