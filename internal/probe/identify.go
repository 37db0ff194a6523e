package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Identity is the descriptive information of a device.
type Identity struct {
	Model      string
	Firmware   string
	Serial     string
	UID        string
	LocalLink  string
	SupportsAI bool

	// IsHub is only ever set for directly reachable devices.
	IsHub bool

	// Info holds DevInfo and NetPort fields for display.
	Info map[string]any
}

// Apply copies the identity onto d.
func (id Identity) Apply(d *device.Device) {
	if id.Model != "" {
		d.Model = id.Model
	}
	if id.Firmware != "" {
		d.Firmware = id.Firmware
	}
	if id.Serial != "" {
		d.Serial = id.Serial
	}
	if id.UID != "" {
		d.UID = id.UID
	}
	d.SupportsAI = id.SupportsAI
	if d.Info == nil {
		d.Info = make(map[string]any)
	}
	for k, v := range id.Info {
		d.Info[k] = v
	}
	if id.LocalLink != "" {
		d.Info["linkconnection"] = id.LocalLink
	}
}

// Identify reads dev's descriptive information.
func (p *Prober) Identify(ctx context.Context, dev *device.Device) (Identity, error) {
	results, err := p.sender.Send(ctx, dev, transport.Request{Op: transport.OpIdentify})
	if err != nil {
		if errors.Is(err, ErrMissingCredentials) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrProbeUnreachable, err)
	}

	var id Identity
	if dev.IsChild() {
		id, err = parseFullInfo(results)
	} else {
		id, err = parseDirectInfo(results)
	}
	if err != nil {
		return Identity{}, err
	}

	if !dev.IsChild() {
		id.IsHub = p.looksLikeHub(ctx, dev, id.Model)
	}

	p.logger.Info("device identified", "device_id", dev.ID, "model", id.Model, "firmware", id.Firmware,
		"supports_ai", id.SupportsAI, "hub", id.IsHub)
	return id, nil
}

// looksLikeHub applies the model-name test, then asks for the channel list.
func (p *Prober) looksLikeHub(ctx context.Context, dev *device.Device, model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "rln") || strings.Contains(lower, "homehub") {
		return true
	}

	results, err := p.sender.Send(ctx, dev, transport.Request{
		Op:       transport.OpRead,
		Payloads: []string{`{"cmd":"GetChannelStatus"}`},
	})
	if err != nil || len(results) == 0 || results[0].Failed() {
		p.logger.Debug("channel status unavailable", "device_id", dev.ID, "error", err)
		return false
	}
	var status struct {
		Status []json.RawMessage `json:"status"`
	}
	if json.Unmarshal(results[0].Value, &status) != nil {
		return false
	}
	return len(status.Status) > 1
}

type devInfo map[string]any

func (d devInfo) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := d[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// parseDirectInfo reads the GetDevInfo/GetP2P/GetLocalLink/GetAiState/GetNetPort batch.
func parseDirectInfo(results []transport.Result) (Identity, error) {
	id := Identity{Info: make(map[string]any)}
	var info devInfo

	for _, r := range results {
		if r.Failed() {
			continue
		}
		switch r.Code {
		case "GetDevInfo":
			var v struct {
				DevInfo devInfo `json:"DevInfo"`
			}
			if json.Unmarshal(r.Value, &v) == nil {
				info = v.DevInfo
			}
		case "GetP2P":
			var v struct {
				P2p struct {
					UID string `json:"uid"`
				} `json:"P2p"`
			}
			if json.Unmarshal(r.Value, &v) == nil {
				id.UID = v.P2p.UID
			}
		case "GetLocalLink":
			var v struct {
				LocalLink struct {
					ActiveLink string `json:"activeLink"`
				} `json:"LocalLink"`
			}
			if json.Unmarshal(r.Value, &v) == nil {
				id.LocalLink = v.LocalLink.ActiveLink
			}
		case "GetAiState":
			id.SupportsAI = len(r.Value) > 0 && string(r.Value) != "null"
		case "GetNetPort":
			var v struct {
				NetPort map[string]any `json:"NetPort"`
			}
			if json.Unmarshal(r.Value, &v) == nil && v.NetPort != nil {
				id.Info["netPort"] = v.NetPort
			}
		}
	}
	return id.withDevInfo(info)
}

// parseFullInfo reads the mediation service's full_info object.
func parseFullInfo(results []transport.Result) (Identity, error) {
	if len(results) == 0 {
		return Identity{}, fmt.Errorf("%w: empty full_info response", ErrProbeUnreachable)
	}
	var v struct {
		DevInfo devInfo `json:"DevInfo"`
		P2p     struct {
			UID string `json:"uid"`
		} `json:"P2p"`
		LocalLink struct {
			ActiveLink string `json:"activeLink"`
		} `json:"LocalLink"`
		NetPort      map[string]any `json:"NetPort"`
		Capabilities struct {
			AISupported bool `json:"ai_supported"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(results[0].Value, &v); err != nil {
		return Identity{}, fmt.Errorf("%w: malformed full_info: %w", ErrProbeUnreachable, err)
	}

	id := Identity{
		UID:        v.P2p.UID,
		LocalLink:  v.LocalLink.ActiveLink,
		SupportsAI: v.Capabilities.AISupported,
		Info:       make(map[string]any),
	}
	if v.NetPort != nil {
		id.Info["netPort"] = v.NetPort
	}
	return id.withDevInfo(v.DevInfo)
}

func (id Identity) withDevInfo(info devInfo) (Identity, error) {
	if len(info) < 2 {
		return Identity{}, fmt.Errorf("%w: no device information returned", ErrProbeUnreachable)
	}
	id.Model = info.str("model")
	id.Firmware = info.str("firmVer")
	id.Serial = info.str("serial", "serialNumber")
	id.Info["devInfo"] = map[string]any(info)
	return id, nil
}
