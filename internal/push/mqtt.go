package push

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the MQTT transport
type MQTTConfig struct {
	Broker    string // host:port
	Topic     string // e.g. rovers/+/events
	ClientID  string
	QoS       byte
	Reconnect ReconnectConfig
}

// MQTTSource subscribes to device events on an MQTT broker. The rover id
// is taken from the topic when the payload does not carry one.
type MQTTSource struct {
	cfg       MQTTConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client
	logger    interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	}
}

// NewMQTTSource creates an MQTT transport
func NewMQTTSource(
	cfg MQTTConfig,
	logger interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	},
) *MQTTSource {
	if cfg.Topic == "" {
		cfg.Topic = "rovers/+/events"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "roverlive"
	}
	return &MQTTSource{cfg: cfg, newClient: mqtt.NewClient, logger: logger}
}

// Run implements Source. Paho reconnects on its own once connected; the
// outer loop only covers the initial connection.
func (s *MQTTSource) Run(ctx context.Context, handler Handler) error {
	return runWithReconnect(ctx, "mqtt", func(ctx context.Context) (bool, error) {
		return s.session(ctx, handler)
	}, s.cfg.Reconnect, s.logger)
}

func (s *MQTTSource) session(ctx context.Context, handler Handler) (bool, error) {
	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		dispatch(msg.Payload(), roverFromTopic(s.cfg.Topic, msg.Topic()), handler, s.logger)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)

	// Subscriptions are lost with a clean session, so resubscribe on every connect
	opts.OnConnect = func(c mqtt.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, onMessage)
		if !token.WaitTimeout(5 * time.Second) {
			s.logger.Warn("mqtt subscription timeout", "topic", s.cfg.Topic)
			return
		}
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt subscription failed", err, "topic", s.cfg.Topic)
			return
		}
		s.logger.Info("push channel connected", "transport", "mqtt", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost, will auto-reconnect", "error", errString(err), "broker", s.cfg.Broker)
	}

	client := s.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return false, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("mqtt connection failed: %w", err)
	}

	<-ctx.Done()

	if client.IsConnected() {
		client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	client.Disconnect(250)
	return true, ctx.Err()
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// roverFromTopic extracts the segment matched by the single-level wildcard
// in pattern, e.g. rovers/+/events and rovers/r7/events give r7
func roverFromTopic(pattern, topic string) string {
	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")
	for i, part := range want {
		if i >= len(got) {
			return ""
		}
		if part == "+" {
			return got[i]
		}
		if part == "#" {
			return ""
		}
	}
	return ""
}
