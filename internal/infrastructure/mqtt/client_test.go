package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/reolink-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "reolinkd-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnected returns a client that never dialled a broker.
func disconnected() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestTopics(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", topics.State("cam-1", "SetIrLightsState"), "reolink/state/cam-1/SetIrLightsState"},
		{"Command", topics.Command("cam-1", "SetIrLights"), "reolink/command/cam-1/SetIrLights"},
		{"Ack", topics.Ack("cam-1", "SetIrLights"), "reolink/ack/cam-1/SetIrLights"},
		{"Event", topics.Event("device_provisioned"), "reolink/event/device_provisioned"},
		{"Health", topics.Health(), "reolink/health"},
		{"SystemStatus", topics.SystemStatus(), "reolink/system/status"},
		{"AllCommands", topics.AllCommands(), "reolink/command/+/+"},
		{"AllStates", topics.AllStates(), "reolink/state/+/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		topic      string
		wantDevice string
		wantID     string
		wantOK     bool
	}{
		{"reolink/command/cam-1/SetIrLights", "cam-1", "SetIrLights", true},
		{"reolink/state/cam-1/SetIrLights", "", "", false},
		{"reolink/command/cam-1", "", "", false},
		{"reolink/command/cam-1/a/b", "", "", false},
		{"other/command/cam-1/SetIrLights", "", "", false},
		{"reolink/command//SetIrLights", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			dev, id, ok := Topics{}.ParseCommand(tt.topic)
			if ok != tt.wantOK || dev != tt.wantDevice || id != tt.wantID {
				t.Errorf("ParseCommand() = (%q, %q, %v), want (%q, %q, %v)", dev, id, ok, tt.wantDevice, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "reolink"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "reolinkd-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "reolink" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without broker TLS")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)
	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS min version not set")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "reolinkd-test")

	if !opts.WillEnabled || opts.WillTopic != "reolink/system/status" || !opts.WillRetained {
		t.Fatalf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var payload map[string]string
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if payload["status"] != "offline" || payload["reason"] != "unexpected_disconnect" {
		t.Errorf("will payload = %v", payload)
	}
}

func TestStatusPayloads(t *testing.T) {
	for _, raw := range []string{buildOnlinePayload("id"), buildOfflinePayload("id")} {
		var payload map[string]string
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			t.Fatalf("payload %q not JSON: %v", raw, err)
		}
		if payload["client_id"] != "id" || payload["timestamp"] == "" {
			t.Errorf("payload = %v", payload)
		}
	}
}

func TestPublish_Validation(t *testing.T) {
	c := disconnected()
	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"bad qos", "reolink/x", 3, nil, ErrInvalidQoS},
		{"too large", "reolink/x", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"not connected", "reolink/x", 1, []byte("{}"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSON_NotConnected(t *testing.T) {
	if err := disconnected().PublishJSON("reolink/x", map[string]int{"a": 1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishJSON() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnected()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := c.Subscribe("reolink/x", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: %v", err)
	}
	if err := c.Subscribe("reolink/x", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: %v", err)
	}
	if err := c.Subscribe("reolink/x", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := disconnected()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestClose_NeverConnected(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
	if err := disconnected().Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestDispatch(t *testing.T) {
	logger := &recordingLogger{}

	dispatch(logger, func(string, []byte) error { return errors.New("boom") }, "t", nil)
	dispatch(logger, func(string, []byte) error { panic("bad handler") }, "t", nil)
	dispatch(logger, func(string, []byte) error { return nil }, "t", nil)
	dispatch(nil, func(string, []byte) error { panic("no logger") }, "t", nil)

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want 1", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want 1", logger.errors)
	}
}
