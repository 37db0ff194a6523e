package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/infrastructure/metrics"
)

// Logger defines the logging interface used by the transport package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Baichuan motion endpoints default to the camera's native port.
const defaultMotionPort = 9000

// DeviceLookup resolves a device by ID. *device.Registry satisfies it.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// Direct is the device-native batched transport.
type Direct interface {
	Send(ctx context.Context, creds device.Credentials, payloads []string) ([]Result, error)
	Login(ctx context.Context, creds device.Credentials) error
}

// Mediated is the hub-mediation service transport.
type Mediated interface {
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// Router picks the transport for each call so callers never branch on role.
//
// A child is always addressed with its parent hub's credentials and its own
// channel; its own credential fields are never read. Standalone cameras and
// hubs use their own credentials. Hub-level operations (discovery, scenes)
// exist only on the mediation service.
type Router struct {
	devices  DeviceLookup
	direct   Direct
	mediated Mediated
	timeouts Timeouts
	logger   Logger
}

// NewRouter creates a router.
func NewRouter(devices DeviceLookup, direct Direct, mediated Mediated, timeouts Timeouts) *Router {
	return &Router{
		devices:  devices,
		direct:   direct,
		mediated: mediated,
		timeouts: timeouts,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// route is the resolved addressing of one device.
type route struct {
	creds   device.Credentials
	channel int
	role    device.Role
}

// Send routes req for dev and returns the normalised results.
func (r *Router) Send(ctx context.Context, dev *device.Device, req Request) ([]Result, error) {
	rt, err := r.resolve(ctx, dev)
	if err != nil {
		return nil, err
	}
	if req.Op.hubOnly() && rt.role != device.RoleHub {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotHub, req.Op, dev.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeouts.forOp(req.Op))
	defer cancel()

	switch rt.role {
	case device.RoleChild:
		return r.sendChild(ctx, rt, req)
	case device.RoleHub:
		return r.sendHub(ctx, rt, req)
	default:
		return r.sendStandalone(ctx, rt, req)
	}
}

// TestConnection checks that dev answers with its resolved credentials.
func (r *Router) TestConnection(ctx context.Context, dev *device.Device) error {
	results, err := r.Send(ctx, dev, Request{Op: OpTestConnection})
	if err != nil {
		return err
	}
	var status struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if len(results) == 0 || json.Unmarshal(results[0].Value, &status) != nil {
		return fmt.Errorf("%w: malformed test-connection response", ErrTransportUnreachable)
	}
	if !status.Success {
		return fmt.Errorf("%w: %s", ErrLoginFailed, status.Error)
	}
	return nil
}

func (r *Router) resolve(ctx context.Context, dev *device.Device) (route, error) {
	rt := route{creds: dev.Credentials, channel: dev.Channel, role: dev.Role}

	if dev.IsChild() {
		parent, err := r.devices.GetDevice(ctx, dev.ParentHubID)
		if err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				return route{}, fmt.Errorf("%w: hub %s of %s", ErrParentUnavailable, dev.ParentHubID, dev.ID)
			}
			return route{}, err
		}
		if !parent.IsHub() {
			return route{}, fmt.Errorf("%w: %s is %s", ErrParentUnavailable, parent.ID, parent.Role)
		}
		rt.creds = parent.Credentials
	}

	if !rt.creds.Complete() {
		return route{}, fmt.Errorf("%w: device %s", ErrMissingCredentials, dev.ID)
	}
	return rt, nil
}

func (r *Router) sendChild(ctx context.Context, rt route, req Request) ([]Result, error) {
	prefix := "/reolink/camera/" + strconv.Itoa(rt.channel) + "/"

	switch req.Op {
	case OpRead:
		return r.mediatedList(ctx, req.Op, prefix+"refresh_info", serviceCreds(rt.creds))
	case OpAbility:
		return r.mediatedObject(ctx, req.Op, prefix+"ability", "GetAbility", serviceCreds(rt.creds))
	case OpIdentify, OpTestConnection:
		return r.mediatedObject(ctx, req.Op, prefix+string(req.Op), string(req.Op), serviceCreds(rt.creds))
	case OpExecute:
		return r.sendDirect(ctx, req.Op, rt.creds, req.Payloads)
	case OpMotionEnable, OpMotionDisable, OpMotionStatus:
		return r.motion(ctx, rt, req.Op)
	}
	return nil, fmt.Errorf("%w: %s on child", ErrUnsupportedOp, req.Op)
}

func (r *Router) sendHub(ctx context.Context, rt route, req Request) ([]Result, error) {
	switch req.Op {
	case OpRead, OpExecute:
		return r.sendDirect(ctx, req.Op, rt.creds, req.Payloads)
	case OpIdentify:
		return r.sendDirect(ctx, req.Op, rt.creds, identifyPayloads)
	case OpAbility:
		return r.mediatedObject(ctx, req.Op, "/reolink/nvr/ability", "GetAbility", serviceCreds(rt.creds))
	case OpTestConnection, OpDiscover, OpScenes:
		return r.mediatedObject(ctx, req.Op, "/reolink/"+string(req.Op), string(req.Op), serviceCreds(rt.creds))
	case OpSetScene:
		body := serviceCreds(rt.creds)
		body.SceneID = &req.SceneID
		return r.mediatedObject(ctx, req.Op, "/reolink/scene/set", string(req.Op), body)
	case OpMotionEnable, OpMotionDisable, OpMotionStatus:
		return r.motion(ctx, rt, req.Op)
	}
	return nil, fmt.Errorf("%w: %s on hub", ErrUnsupportedOp, req.Op)
}

func (r *Router) sendStandalone(ctx context.Context, rt route, req Request) ([]Result, error) {
	switch req.Op {
	case OpRead, OpExecute:
		return r.sendDirect(ctx, req.Op, rt.creds, req.Payloads)
	case OpIdentify:
		return r.sendDirect(ctx, req.Op, rt.creds, identifyPayloads)
	case OpAbility:
		return r.sendDirect(ctx, req.Op, rt.creds, []string{abilityPayload(rt.creds.Username)})
	case OpTestConnection:
		return r.directLogin(ctx, rt.creds)
	case OpMotionEnable, OpMotionDisable, OpMotionStatus:
		return r.motion(ctx, rt, req.Op)
	}
	return nil, fmt.Errorf("%w: %s on standalone camera", ErrUnsupportedOp, req.Op)
}

func (r *Router) sendDirect(ctx context.Context, op Op, creds device.Credentials, payloads []string) ([]Result, error) {
	started := time.Now()
	results, err := r.direct.Send(ctx, creds, payloads)
	metrics.ObserveTransportCall("direct", string(op), started, err)
	if err != nil {
		r.logger.Debug("direct call failed", "op", op, "credentials", MaskCredentials(creds), "error", err)
		return nil, err
	}
	return results, nil
}

func (r *Router) directLogin(ctx context.Context, creds device.Credentials) ([]Result, error) {
	started := time.Now()
	err := r.direct.Login(ctx, creds)
	metrics.ObserveTransportCall("direct", string(OpTestConnection), started, err)

	status := map[string]any{"success": err == nil}
	if err != nil {
		if !errors.Is(err, ErrLoginFailed) {
			return nil, err
		}
		status["error"] = err.Error()
	}
	value, _ := json.Marshal(status) //nolint:errcheck // map of primitives
	return []Result{{Code: string(OpTestConnection), Value: value}}, nil
}

func (r *Router) motion(ctx context.Context, rt route, op Op) ([]Result, error) {
	body := serviceCreds(rt.creds)
	if rt.creds.Port == 0 {
		body.Port = defaultMotionPort
	}
	body.Channel = &rt.channel
	return r.mediatedObject(ctx, op, "/reolink/camera/"+string(op), string(op), body)
}

func (r *Router) mediatedList(ctx context.Context, op Op, path string, body serviceCredentials) ([]Result, error) {
	data, err := r.callMediated(ctx, op, path, body)
	if err != nil {
		return nil, err
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("%w: %s: expected a result list: %v", ErrTransportUnreachable, path, err) //nolint:errorlint // sentinel carries the classification
	}
	return results, nil
}

func (r *Router) mediatedObject(ctx context.Context, op Op, path, code string, body serviceCredentials) ([]Result, error) {
	data, err := r.callMediated(ctx, op, path, body)
	if err != nil {
		return nil, err
	}
	return []Result{{Code: code, Value: data}}, nil
}

func (r *Router) callMediated(ctx context.Context, op Op, path string, body serviceCredentials) (json.RawMessage, error) {
	r.logger.Debug("mediated call", "path", path, "credentials", body.masked())

	started := time.Now()
	data, err := r.mediated.Post(ctx, path, body)
	metrics.ObserveTransportCall("mediated", string(op), started, err)
	return data, err
}

// serviceCredentials is the request body the mediation service expects.
type serviceCredentials struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
	Port     int    `json:"port"`
	UseHTTPS bool   `json:"use_https"`
	Channel  *int   `json:"channel,omitempty"`
	SceneID  *int   `json:"scene_id,omitempty"`
}

func serviceCreds(c device.Credentials) serviceCredentials {
	port := c.Port
	if port == 0 {
		port = 80
		if c.Secure {
			port = 443
		}
	}
	return serviceCredentials{
		Host:     c.Host,
		Username: c.Username,
		Password: c.Password,
		Port:     port,
		UseHTTPS: c.Secure,
	}
}

func (s serviceCredentials) masked() string {
	return MaskCredentials(device.Credentials{Host: s.Host, Port: s.Port, Username: s.Username, Secure: s.UseHTTPS})
}

// identifyPayloads read the descriptive information of a directly reachable device.
var identifyPayloads = []string{
	`{"cmd":"GetDevInfo"}`,
	`{"cmd":"GetP2P"}`,
	`{"cmd":"GetLocalLink"}`,
	`{"cmd":"GetAiState"}`,
	`{"cmd":"GetNetPort"}`,
}

func abilityPayload(username string) string {
	if username == "" {
		username = "admin"
	}
	user, _ := json.Marshal(username) //nolint:errcheck // string marshalling cannot fail
	return `{"cmd":"GetAbility","param":{"User":{"userName":` + string(user) + `}}}`
}
