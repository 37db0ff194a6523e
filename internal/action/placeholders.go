package action

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultSpeed is used for #SPEED# when no SetSpeed value is stored.
const DefaultSpeed = 32

// Options carries the user's input for an action.
type Options struct {
	Select *string `json:"select,omitempty"`
	Slider *int    `json:"slider,omitempty"`
}

// linkedValue is what lands on the linked state after success: the
// select value, else the slider, else "0".
func (o Options) linkedValue() string {
	switch {
	case o.Select != nil:
		return *o.Select
	case o.Slider != nil:
		return strconv.Itoa(*o.Slider)
	}
	return "0"
}

func (o Options) selectInt() int {
	if o.Select == nil {
		return 0
	}
	return leadingInt(*o.Select)
}

func (o Options) sliderInt() int {
	if o.Slider == nil {
		return 0
	}
	return *o.Slider
}

// leadingInt parses the optional sign and digits at the start of s, so
// "12abc" is 12 and "abc" is 0.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c == '-' || c == '+') && end == 0 {
			end++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// substitution holds the values of one payload rendering.
type substitution struct {
	opts    Options
	revert  int
	channel int
	speed   int
}

func (s substitution) apply(payload string) string {
	selected := ""
	if s.opts.Select != nil {
		selected = *s.opts.Select
	}
	quoted, _ := json.Marshal(selected)

	slider := s.opts.sliderInt()
	reverted := s.revert - slider
	if reverted < 0 {
		reverted = -reverted
	}

	return strings.NewReplacer(
		`\`, "",
		"#OPTSELECTEDINT#", strconv.Itoa(s.opts.selectInt()),
		"#OPTSELECTEDSTR#", string(quoted),
		"#OPTSLIDER#", strconv.Itoa(slider),
		"#OPTR_SLIDER#", strconv.Itoa(reverted),
		"#CHANNEL#", strconv.Itoa(s.channel),
		"#SPEED#", strconv.Itoa(s.speed),
	).Replace(payload)
}

// envelope wraps a substituted payload into the device command object.
func envelope(api, payload string) (string, error) {
	var param map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &param); err != nil {
		return "", err
	}
	b, err := json.Marshal(struct {
		Cmd   string          `json:"cmd"`
		Param json.RawMessage `json:"param"`
	}{Cmd: api, Param: json.RawMessage(payload)})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
