package device

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/reolink-core/internal/ability"
	"github.com/nerrad567/reolink-core/internal/catalog"
)

// Role is how a device is addressed on the network.
type Role string

// Device roles.
const (
	// RoleStandalone is a camera reached directly with its own credentials.
	RoleStandalone Role = "standalone"

	// RoleHub is a Home Hub or NVR. It is reached directly and also exposes
	// hub-level operations (discovery, scenes) through the mediated service.
	RoleHub Role = "hub"

	// RoleChild is a camera behind a hub, addressed by the hub's credentials
	// plus a channel index.
	RoleChild Role = "child"
)

// AllRoles returns every valid role.
func AllRoles() []Role {
	return []Role{RoleStandalone, RoleHub, RoleChild}
}

// Credentials address a device's HTTP API.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Secure   bool   `json:"secure"`
}

// Complete reports whether host, username and password are all set.
func (c Credentials) Complete() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// BaseURL returns the scheme://host[:port] root of the device API.
func (c Credentials) BaseURL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	if c.Port == 0 {
		return scheme + "://" + c.Host
	}
	return scheme + "://" + c.Host + ":" + strconv.Itoa(c.Port)
}

// Device is a camera, hub or hub channel.
// This matches the devices table in migrations/20260301_090000_initial_schema.up.sql.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LogicalID string `json:"logical_id"`
	Role      Role   `json:"role"`

	// ParentHubID is set only for RoleChild.
	ParentHubID string `json:"parent_hub_id,omitempty"`

	// Channel is the hub channel for children, or the defined channel of a
	// standalone camera (0 unless configured otherwise).
	Channel int `json:"channel"`

	Credentials Credentials `json:"credentials"`

	// Abilities is nil until the device has been probed.
	Abilities  ability.Matrix `json:"abilities,omitempty"`
	SupportsAI bool           `json:"supports_ai"`

	Model    string         `json:"model,omitempty"`
	Firmware string         `json:"firmware,omitempty"`
	Serial   string         `json:"serial,omitempty"`
	UID      string         `json:"uid,omitempty"`
	Info     map[string]any `json:"info,omitempty"`

	// AutoRefresh is a 5-field cron expression; empty uses the configured default.
	AutoRefresh string `json:"autorefresh,omitempty"`
	Enabled     bool   `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsHub reports whether the device is a hub or NVR.
func (d *Device) IsHub() bool { return d.Role == RoleHub }

// IsChild reports whether the device is reached through a hub.
func (d *Device) IsChild() bool { return d.Role == RoleChild }

// DeepCopy creates an independent copy so cached devices cannot be mutated
// through returned values.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Abilities = d.Abilities.Clone()
	cpy.Info = deepCopyMap(d.Info)
	return &cpy
}

// Redacted returns a copy without the password, for API output.
func (d *Device) Redacted() *Device {
	cpy := d.DeepCopy()
	cpy.Credentials.Password = ""
	return cpy
}

// ChildLogicalID is the logical ID given to a camera discovered on a hub channel.
func ChildLogicalID(hubID string, channel int) string {
	return fmt.Sprintf("homehub_%s_ch%d", hubID, channel)
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// CommandConfig is the per-device configuration of a command. It starts as a
// copy of the catalog entry; ListValue and SpeedValue change at runtime.
type CommandConfig struct {
	Payload     string `json:"payload,omitempty"`
	ActionAPI   string `json:"actionapi,omitempty"`
	ValueFrom   string `json:"valueFrom,omitempty"`
	RevertValue int    `json:"revertvalue,omitempty"`
	SpeedValue  int    `json:"speedvalue,omitempty"`
	ListValue   string `json:"listValue,omitempty"`
	MinValue    *int   `json:"minValue,omitempty"`
	MaxValue    *int   `json:"maxValue,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

// Command is one readable or executable parameter of one device.
// At most one exists per (DeviceID, LogicalID).
type Command struct {
	DeviceID  string       `json:"device_id"`
	LogicalID string       `json:"logical_id"`
	Name      string       `json:"name"`
	Kind      catalog.Kind `json:"kind"`
	SubType   string       `json:"sub_type,omitempty"`
	Order     int          `json:"order"`

	// Value is the last known state, stored as text ("1"/"0" for booleans).
	Value string `json:"value"`

	// RevertBaseline is the top of an inverted scale, from the catalog's revertvalue.
	RevertBaseline int `json:"revert_baseline,omitempty"`

	// LinkedCommand is the resolved valueFrom target, empty when unresolved.
	LinkedCommand string `json:"linked_command,omitempty"`

	Config CommandConfig `json:"config"`

	ValueUpdatedAt *time.Time `json:"value_updated_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsInfo reports whether the command is readable state.
func (c *Command) IsInfo() bool { return c.Kind == catalog.KindInfo }

// CommandFromSpec instantiates a catalog entry for a device.
func CommandFromSpec(deviceID string, spec catalog.CommandSpec, order int) Command {
	cfg := CommandConfig{
		Payload:     spec.Configuration.Payload,
		ActionAPI:   spec.Configuration.ActionAPI,
		ValueFrom:   spec.Configuration.ValueFrom,
		RevertValue: spec.Configuration.RevertValue.Int(),
		ListValue:   spec.Configuration.ListValue,
		Unit:        spec.Unit,
	}
	if spec.Configuration.MinValue != nil {
		v := spec.Configuration.MinValue.Int()
		cfg.MinValue = &v
	}
	if spec.Configuration.MaxValue != nil {
		v := spec.Configuration.MaxValue.Int()
		cfg.MaxValue = &v
	}
	return Command{
		DeviceID:       deviceID,
		LogicalID:      spec.LogicalID,
		Name:           spec.Name,
		Kind:           spec.Kind,
		SubType:        spec.SubType,
		Order:          order,
		RevertBaseline: cfg.RevertValue,
		Config:         cfg,
	}
}

// CommandSet is the ordered list of commands of one device.
type CommandSet []Command

// Lookup returns the command with the given logical ID.
func (s CommandSet) Lookup(logicalID string) (*Command, bool) {
	for i := range s {
		if s[i].LogicalID == logicalID {
			return &s[i], true
		}
	}
	return nil, false
}

// Has reports whether a command with the logical ID or name exists.
func (s CommandSet) Has(logicalID, name string) bool {
	for i := range s {
		if s[i].LogicalID == logicalID || (name != "" && s[i].Name == name) {
			return true
		}
	}
	return false
}

// Dependents returns the commands whose valueFrom is logicalID.
func (s CommandSet) Dependents(logicalID string) []Command {
	var out []Command
	for _, c := range s {
		if c.Config.ValueFrom == logicalID && c.LogicalID != logicalID {
			out = append(out, c)
		}
	}
	return out
}

// NextOrder returns one past the highest order in the set.
func (s CommandSet) NextOrder() int {
	next := 0
	for _, c := range s {
		if c.Order >= next {
			next = c.Order + 1
		}
	}
	return next
}

// Clone returns an independent copy.
func (s CommandSet) Clone() CommandSet {
	if s == nil {
		return nil
	}
	out := make(CommandSet, len(s))
	copy(out, s)
	return out
}
