package demux

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/savaki/jq"
)

// path is a compiled field selector such as ".Rec.schedule.enable".
type path struct {
	expr string
	op   jq.Op
}

func mustPath(expr string) path {
	op, err := jq.Parse(expr)
	if err != nil {
		panic("demux: bad selector " + expr + ": " + err.Error())
	}
	return path{expr: expr, op: op}
}

// raw returns the JSON at p, or nil when the field is missing or null.
func (p path) raw(value []byte) []byte {
	out, err := p.op.Apply(value)
	if err != nil {
		return nil
	}
	out = bytes.TrimSpace(out)
	if len(out) == 0 || bytes.Equal(out, []byte("null")) {
		return nil
	}
	return out
}

// text returns the field as command state text: strings unquoted,
// booleans as "1"/"0", numbers verbatim.
func (p path) text(value []byte) (string, bool) {
	return toText(p.raw(value))
}

// number returns the field as a float when it is numeric.
func (p path) number(value []byte) (float64, bool) {
	s, ok := p.text(value)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func toText(raw []byte) (string, bool) {
	if raw == nil {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case 't':
		return "1", true
	case 'f':
		return "0", true
	case '{', '[':
		return string(raw), true
	}
	return string(raw), true
}
