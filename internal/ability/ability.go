// Package ability models the capability snapshot a camera or hub reports.
//
// A Matrix maps an ability name (for example "ptz", "supportFtpEnable") to
// its permission level. A permit of 0 means the device knows the feature but
// does not allow it; an absent name means the model does not have it at all.
// Once built, a Matrix is treated as read-only; use Clone to derive a copy.
package ability

import (
	"encoding/json"
	"errors"
	"fmt"
)

// channelKey holds per-channel abilities inside the global Ability object.
const channelKey = "abilityChn"

// ErrMalformed is returned when an ability document cannot be decoded.
var ErrMalformed = errors.New("ability: malformed document")

// Entry is the capability record for one ability name.
type Entry struct {
	Permit int            `json:"permit"`
	Ver    int            `json:"ver,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Matrix is a flat ability-name to Entry mapping.
type Matrix map[string]Entry

// Lookup returns the entry for name and whether the device reported it.
func (m Matrix) Lookup(name string) (Entry, bool) {
	e, ok := m[name]
	return e, ok
}

// Permits reports whether name is present with a non-zero permit.
func (m Matrix) Permits(name string) bool {
	e, ok := m[name]
	return ok && e.Permit != 0
}

// Len returns the number of abilities.
func (m Matrix) Len() int { return len(m) }

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for k, v := range m {
		if v.Extra != nil {
			extra := make(map[string]any, len(v.Extra))
			for ek, ev := range v.Extra {
				extra[ek] = ev
			}
			v.Extra = extra
		}
		out[k] = v
	}
	return out
}

// Parse decodes an ability document.
//
// Two shapes are accepted:
//
//   - the device-native GetAbility value, {"Ability": {..., "abilityChn": [{...}, ...]}},
//     which is flattened into the global abilities merged with channel 0;
//   - an already flat object {"name": {"permit": 1, "ver": 0}, ...}, as returned
//     by the hub-mediated ability endpoints.
//
// Values that are not objects (for example a plain version number) are
// ignored.
func Parse(data []byte) (Matrix, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if raw, ok := doc["Ability"]; ok {
		var global map[string]json.RawMessage
		if err := json.Unmarshal(raw, &global); err != nil {
			return nil, fmt.Errorf("%w: Ability: %v", ErrMalformed, err)
		}
		return flatten(global)
	}
	return fromObject(doc), nil
}

// flatten merges the global abilities with channel 0 abilities. Channel keys
// extend the global set; on a shared name the channel value wins.
func flatten(global map[string]json.RawMessage) (Matrix, error) {
	m := fromObject(global)
	delete(m, channelKey)

	raw, ok := global[channelKey]
	if !ok {
		return m, nil
	}
	var channels []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &channels); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, channelKey, err)
	}
	if len(channels) == 0 {
		return m, nil
	}
	for k, v := range fromObject(channels[0]) {
		m[k] = v
	}
	return m, nil
}

func fromObject(obj map[string]json.RawMessage) Matrix {
	m := make(Matrix, len(obj))
	for name, raw := range obj {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			continue
		}
		m[name] = entryFromFields(fields)
	}
	return m
}

func entryFromFields(fields map[string]any) Entry {
	var e Entry
	for k, v := range fields {
		switch k {
		case "permit":
			e.Permit = toInt(v)
		case "ver":
			e.Ver = toInt(v)
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			e.Extra[k] = v
		}
	}
	return e
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case bool:
		if n {
			return 1
		}
	}
	return 0
}
