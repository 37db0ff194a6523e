// Package catalog loads the declarative command catalog.
//
// The catalog is the superset of every logical command a Reolink camera or
// hub can expose. Each entry names the ability it needs and carries the
// request template used to read or write it. The synthesizer filters the
// catalog against a device's ability matrix to decide which commands that
// device actually gets.
//
// A Catalog is immutable after Load and safe for concurrent readers.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrCatalogLoad is returned when the catalog document cannot be used.
// It is fatal for the refresh subsystem.
var ErrCatalogLoad = errors.New("catalog: load failed")

//go:embed default.json
var defaultDocument []byte

// AbilityNone marks a command that every device gets regardless of abilities.
const AbilityNone = "none"

// Kind distinguishes readable state from executable actions.
type Kind string

// Command kinds.
const (
	KindInfo   Kind = "info"
	KindAction Kind = "action"
)

// Configuration is the transport-facing part of a catalog entry.
type Configuration struct {
	// Payload is the request template. For info commands it is one element
	// of a batched read; for actions it becomes the "param" of the request.
	Payload string `json:"payload,omitempty"`

	// ActionAPI is the device command name an action is sent as.
	ActionAPI string `json:"actionapi,omitempty"`

	// ValueFrom names the info command this command mirrors.
	ValueFrom string `json:"valueFrom,omitempty"`

	// RevertValue is the top of an inverted scale (see #OPTR_SLIDER#).
	RevertValue FlexInt `json:"revertvalue,omitempty"`

	ListValue string   `json:"listValue,omitempty"`
	MinValue  *FlexInt `json:"minValue,omitempty"`
	MaxValue  *FlexInt `json:"maxValue,omitempty"`
}

// CommandSpec is one catalog entry.
type CommandSpec struct {
	LogicalID     string        `json:"logicalId"`
	Name          string        `json:"name"`
	Kind          Kind          `json:"type"`
	SubType       string        `json:"subType,omitempty"`
	AbilityNeeded string        `json:"abilityneed"`
	AIGate        *FlexInt      `json:"iastate,omitempty"`
	Unit          string        `json:"unite,omitempty"`
	IsVisible     FlexInt       `json:"isVisible,omitempty"`
	Configuration Configuration `json:"configuration"`
}

// RequiresAI reports whether the entry is gated on AI support, and the
// required value.
func (s CommandSpec) RequiresAI() (gated, wantAI bool) {
	if s.AIGate == nil {
		return false, false
	}
	return true, *s.AIGate != 0
}

// Catalog is an ordered, read-only list of CommandSpecs.
type Catalog struct {
	specs []CommandSpec
	index map[string]int
}

type document struct {
	Commands *[]CommandSpec `json:"commands"`
}

// Parse decodes a catalog document of the form {"commands": [...]}.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogLoad, err)
	}
	if doc.Commands == nil {
		return nil, fmt.Errorf("%w: missing top-level \"commands\" collection", ErrCatalogLoad)
	}

	specs := *doc.Commands
	c := &Catalog{specs: specs, index: make(map[string]int, len(specs))}
	var problems []string
	for i, s := range specs {
		switch {
		case s.LogicalID == "":
			problems = append(problems, fmt.Sprintf("entry %d: missing logicalId", i))
			continue
		case s.Kind != KindInfo && s.Kind != KindAction:
			problems = append(problems, fmt.Sprintf("%s: invalid type %q", s.LogicalID, s.Kind))
		case s.AbilityNeeded == "":
			problems = append(problems, fmt.Sprintf("%s: missing abilityneed", s.LogicalID))
		}
		if _, dup := c.index[s.LogicalID]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate logicalId", s.LogicalID))
			continue
		}
		c.index[s.LogicalID] = i
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCatalogLoad, strings.Join(problems, "; "))
	}
	return c, nil
}

// Load reads the catalog at path. An empty path loads the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCatalogLoad, path, err)
	}
	return Parse(data)
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultDocument)
}

// Specs returns the entries in catalog order. The slice is a copy.
func (c *Catalog) Specs() []CommandSpec {
	out := make([]CommandSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Lookup finds an entry by logical ID.
func (c *Catalog) Lookup(logicalID string) (CommandSpec, bool) {
	i, ok := c.index[logicalID]
	if !ok {
		return CommandSpec{}, false
	}
	return c.specs[i], true
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.specs) }

// FlexInt decodes an integer written either as a JSON number or as a string.
// Catalog files edited by hand use both forms.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = FlexInt(n)
	return nil
}

// Int returns the value as an int.
func (f FlexInt) Int() int { return int(f) }
