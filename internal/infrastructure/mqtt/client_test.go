package mqtt

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hillheadsc/racelights/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	host := os.Getenv("RACELIGHTS_TEST_MQTT_HOST")
	if host == "" {
		host = "localhost"
	}
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     host,
			Port:     1883,
			ClientID: "racelights-test-" + strings.ReplaceAll(time.Now().Format("150405.000000"), ".", ""),
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "racelights-test",
	}
}

// connectOrSkip needs RUN_INTEGRATION and a broker; paho's connect retry
// would otherwise hold every test for the full connect timeout.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run against an MQTT broker")
	}
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// ============================================================================
// Topics
// ============================================================================

func TestTopics(t *testing.T) {
	topics := NewTopics("racelights")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"command", topics.Command("start"), "racelights/command/start"},
		{"ack", topics.Ack("start"), "racelights/ack/start"},
		{"session", topics.SessionState(), "racelights/state/session"},
		{"sequence", topics.SequenceState(), "racelights/state/sequence"},
		{"countdown", topics.CountdownState(), "racelights/state/countdown"},
		{"health", topics.Health(), "racelights/health"},
		{"all commands", topics.AllCommands(), "racelights/command/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_Prefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", DefaultTopicPrefix},
		{"/", DefaultTopicPrefix},
		{"club/lights/", "club/lights"},
		{"/boat", "boat"},
	}

	for _, tt := range tests {
		if got := NewTopics(tt.prefix).Prefix(); got != tt.want {
			t.Errorf("NewTopics(%q).Prefix() = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestTopics_ActionFromCommand(t *testing.T) {
	topics := NewTopics("racelights")

	tests := []struct {
		topic  string
		action string
		ok     bool
	}{
		{"racelights/command/start", "start", true},
		{"racelights/command/lights_off", "lights_off", true},
		{"racelights/command/", "", false},
		{"racelights/command/a/b", "", false},
		{"racelights/ack/start", "", false},
		{"other/command/start", "", false},
	}

	for _, tt := range tests {
		action, ok := topics.ActionFromCommand(tt.topic)
		if action != tt.action || ok != tt.ok {
			t.Errorf("ActionFromCommand(%q) = (%q, %v), want (%q, %v)", tt.topic, action, ok, tt.action, tt.ok)
		}
	}
}

// ============================================================================
// Options
// ============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Host = "broker.local"
	cfg.Auth.Username = "committee"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, NewTopics(cfg.TopicPrefix))

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker.local:1883" {
		t.Errorf("Servers = %v, want [tcp://broker.local:1883]", opts.Servers)
	}
	if opts.ClientID != cfg.Broker.ClientID {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, cfg.Broker.ClientID)
	}
	if opts.Username != "committee" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want committee/secret", opts.Username, opts.Password)
	}
	if !opts.WillEnabled || !opts.WillRetained {
		t.Errorf("will enabled=%v retained=%v, want both true", opts.WillEnabled, opts.WillRetained)
	}
	if opts.WillTopic != "racelights-test/health" {
		t.Errorf("WillTopic = %q, want racelights-test/health", opts.WillTopic)
	}
	if !strings.Contains(string(opts.WillPayload), `"status":"offline"`) {
		t.Errorf("WillPayload = %s, want offline status", opts.WillPayload)
	}
	if opts.Order {
		t.Error("Order = true, want handlers on their own goroutines")
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without broker.tls")
	}
}

func TestBrokerURL_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	if got := brokerURL(cfg); !strings.HasPrefix(got, "ssl://") || !strings.HasSuffix(got, ":8883") {
		t.Errorf("brokerURL() = %q, want ssl://...:8883", got)
	}
	if opts := buildClientOptions(cfg, NewTopics("")); opts.TLSConfig == nil {
		t.Error("TLSConfig nil with broker.tls")
	}
}

// ============================================================================
// Validation without a broker
// ============================================================================

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"bad qos", "a/b", 3, nil, ErrInvalidQoS},
		{"too large", "a/b", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"not connected", "a/b", 1, []byte("{}"), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/b", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("a/b", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

// ============================================================================
// Broker round trip
// ============================================================================

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	client := connectOrSkip(t)
	topics := client.Topics()

	received := make(chan string, 1)
	err := client.Subscribe(topics.AllCommands(), 1, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(topics.Command("reset"), []byte(`{"action":"reset"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		want := `racelights-test/command/reset {"action":"reset"}`
		if got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	client := connectOrSkip(t)
	topics := client.Topics()

	done := make(chan struct{}, 2)
	err := client.Subscribe(topics.Command("panic"), 1, func(string, []byte) error {
		done <- struct{}{}
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for range 2 {
		if err := client.Publish(topics.Command("panic"), []byte("x"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("handler not called; panic may have killed the client")
		}
	}
}
