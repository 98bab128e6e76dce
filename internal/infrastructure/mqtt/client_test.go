package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/infrastructure/config"
)

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{name: "State", got: Topics{}.State("sensor-01", 3303, 0, 5700), expected: "lwm2m/state/sensor-01/3303/0/5700"},
		{name: "Command", got: Topics{}.Command("lamp-01", 3311, 1, 5850), expected: "lwm2m/command/lamp-01/3311/1/5850"},
		{name: "Discovery", got: Topics{}.Discovery("sensor-01"), expected: "lwm2m/discovery/sensor-01"},
		{name: "Health", got: Topics{}.Health("bridge-01"), expected: "lwm2m/health/bridge-01"},
		{name: "Status", got: Topics{}.Status(), expected: "lwm2m/system/status"},
		{name: "AllCommands", got: Topics{}.AllCommands(), expected: "lwm2m/command/+/+/+/+"},
		{name: "AllStates", got: Topics{}.AllStates(), expected: "lwm2m/state/+/+/+/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestParseResourceTopic(t *testing.T) {
	category, addr, err := ParseResourceTopic("lwm2m/command/lamp-01/3311/0/5850")
	if err != nil {
		t.Fatalf("ParseResourceTopic() error = %v", err)
	}
	if category != "command" {
		t.Errorf("category = %q, want %q", category, "command")
	}
	want := ResourceAddress{Endpoint: "lamp-01", ObjectID: 3311, InstanceID: 0, ResourceID: 5850}
	if addr != want {
		t.Errorf("address = %+v, want %+v", addr, want)
	}
}

func TestParseResourceTopic_RoundTripsBuilders(t *testing.T) {
	topic := Topics{}.State("sensor-01", 3303, 2, 5700)
	category, addr, err := ParseResourceTopic(topic)
	if err != nil {
		t.Fatalf("ParseResourceTopic(%q) error = %v", topic, err)
	}
	if category != "state" || addr.Endpoint != "sensor-01" || addr.InstanceID != 2 {
		t.Errorf("ParseResourceTopic(%q) = %q, %+v", topic, category, addr)
	}
}

func TestParseResourceTopic_Invalid(t *testing.T) {
	tests := []string{
		"",
		"lwm2m/command/lamp-01/3311/0",
		"lwm2m/command/lamp-01/3311/0/5850/extra",
		"other/command/lamp-01/3311/0/5850",
		"lwm2m/command//3311/0/5850",
		"lwm2m/command/lamp-01/abc/0/5850",
		"lwm2m/command/lamp-01/3311/-1/5850",
	}

	for _, topic := range tests {
		t.Run(topic, func(t *testing.T) {
			_, _, err := ParseResourceTopic(topic)
			if !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("ParseResourceTopic(%q) error = %v, want ErrInvalidTopic", topic, err)
			}
		})
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBrokerURL(t *testing.T) {
	cfg := config.MQTTConfig{Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883}}
	if got := brokerURL(cfg); got != "tcp://broker.local:8883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	if got := brokerURL(cfg); got != "ssl://broker.local:8883" {
		t.Errorf("brokerURL() with TLS = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: "bridge-test", TLS: true},
		Auth:   config.MQTTAuthConfig{Username: "user", Password: "pass"},
	}
	opts := buildClientOptions(cfg)

	if opts.ClientID != "bridge-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "bridge-test")
	}
	if opts.Username != "user" {
		t.Errorf("Username = %q, want %q", opts.Username, "user")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{Broker: config.MQTTBrokerConfig{ClientID: "bridge-test"}})
	configureLWT(opts, "bridge-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if want := (Topics{}).Status(); opts.WillTopic != want {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, want)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will retained=%v qos=%d, want retained QoS 1", opts.WillRetained, opts.WillQos)
	}
}

// =============================================================================
// Disconnected Client Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &Client{}
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "lwm2m/test", qos: 3, wantErr: ErrInvalidQoS},
		{name: "wildcard topic", topic: "lwm2m/command/#", qos: 1, wantErr: ErrInvalidTopic},
		{name: "payload too large", topic: "lwm2m/test", payload: make([]byte, maxPayloadSize+1), wantErr: ErrPayloadTooLarge},
		{name: "not connected", topic: "lwm2m/test", qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishJSON_UnencodableValue(t *testing.T) {
	client := &Client{}
	err := client.PublishJSON("lwm2m/test", make(chan int), false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("lwm2m/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("lwm2m/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("lwm2m/#", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if client.SubscriptionCount() != 0 || client.HasSubscription("lwm2m/#") {
		t.Error("failed subscription was tracked")
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("lwm2m/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	warns  []string
	errors []string
}

func (l *recordingLogger) Info(string, ...any)        {}
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }

func TestWrapHandler_RecoversPanic(t *testing.T) {
	client := &Client{}
	logger := &recordingLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, fakeMessage{topic: "lwm2m/command/x/1/0/1"})

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
}

func TestWrapHandler_LogsReturnedError(t *testing.T) {
	client := &Client{}
	logger := &recordingLogger{}
	client.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("bad payload")
	})
	wrapped(nil, fakeMessage{topic: "lwm2m/command/x/1/0/1", payload: []byte("{}")})

	if gotTopic != "lwm2m/command/x/1/0/1" || string(gotPayload) != "{}" {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

func TestStatusPayload(t *testing.T) {
	var msg statusMessage
	if err := json.Unmarshal(buildStatusPayload(statusOffline, "bridge-1", "graceful_shutdown"), &msg); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if msg.Status != statusOffline || msg.ClientID != "bridge-1" || msg.Reason != "graceful_shutdown" {
		t.Errorf("status = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", msg.Timestamp, err)
	}
}

func TestSubscriptionSet(t *testing.T) {
	var set subscriptionSet
	if set.len() != 0 || set.has("a/b") {
		t.Fatal("zero subscriptionSet not empty")
	}
	set.put(subscription{topic: "a/b", qos: 1})
	set.put(subscription{topic: "a/b", qos: 2})
	set.put(subscription{topic: "c/#"})
	if set.len() != 2 {
		t.Errorf("len() = %d, want 2", set.len())
	}

	var qos byte
	set.each(func(s subscription) {
		if s.topic == "a/b" {
			qos = s.qos
		}
	})
	if qos != 2 {
		t.Errorf("a/b qos = %d, want latest put (2)", qos)
	}

	set.remove("a/b")
	if set.has("a/b") || !set.has("c/#") {
		t.Error("remove() dropped the wrong entry")
	}
}

func TestSetLogger_Nil(t *testing.T) {
	client := &Client{}
	client.SetLogger(&recordingLogger{})
	client.SetLogger(nil)
	if _, ok := client.log().(nopLogger); !ok {
		t.Errorf("log() = %T after SetLogger(nil), want nopLogger", client.log())
	}
}

func TestWrapHandler_NoLogger(t *testing.T) {
	client := &Client{}
	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	// Must not panic.
	wrapped(nil, fakeMessage{topic: "t"})
}
