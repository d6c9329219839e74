package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"watchover/internal/config"
	"watchover/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const disconnectQuiesceMs = 250

var errTimeout = errors.New("timed out")

// MQTTConnector opens a fresh MQTT connection for every session.
type MQTTConnector struct {
	broker         string
	clientPrefix   string
	qos            byte
	connectTimeout time.Duration
	publishTimeout time.Duration
	logger         *logger.Logger

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTConnector creates a connector for the broker in cfg.
func NewMQTTConnector(cfg *config.Config, logger *logger.Logger) *MQTTConnector {
	return &MQTTConnector{
		broker:         cfg.BrokerURL(),
		clientPrefix:   cfg.MQTTClientPrefix,
		qos:            byte(cfg.MQTTQoS),
		connectTimeout: cfg.MQTTConnectTimeout,
		publishTimeout: cfg.MQTTPublishTimeout,
		logger:         logger.Named("mqtt"),
		newClient:      mqtt.NewClient,
	}
}

// Connect dials the broker with a unique client id.
func (c *MQTTConnector) Connect(ctx context.Context) (Session, error) {
	clientID := fmt.Sprintf("%s-%s", c.clientPrefix, uuid.NewString())

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(c.connectTimeout)

	client := c.newClient(opts)
	token := client.Connect()
	if err := wait(ctx, token, c.connectTimeout); err != nil {
		go release(client, token)
		return nil, fmt.Errorf("mqtt connection to %s failed: %w", c.broker, err)
	}

	c.logger.Debug("Connected to %s as %s", c.broker, clientID)
	return &mqttSession{client: client, qos: c.qos, timeout: c.publishTimeout}, nil
}

type mqttSession struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

func (s *mqttSession) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := wait(ctx, s.client.Publish(topic, s.qos, false, payload), s.timeout); err != nil {
		return fmt.Errorf("mqtt publish to %s failed: %w", topic, err)
	}
	return nil
}

func (s *mqttSession) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesceMs)
	}
}

// release disconnects a client whose connect attempt was abandoned,
// once paho finishes the handshake it started.
func release(client mqtt.Client, token mqtt.Token) {
	token.Wait()
	if client.IsConnected() {
		client.Disconnect(0)
	}
}

// wait blocks until the token completes, the timeout elapses or ctx is done.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-expired:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
