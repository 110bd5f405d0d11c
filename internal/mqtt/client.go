package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/daedalus/internal/config"
)

// publisher is the subset of *autopaho.ConnectionManager used to send
// messages. Tests substitute a recorder.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// MessageHandler is called for each message received on the
// subscribed topic. It runs on the paho client's goroutine and must
// not block.
type MessageHandler func(topic string, payload []byte)

// Client manages the broker connection.
type Client struct {
	cfg    config.MQTTConfig
	logger *slog.Logger

	mu      sync.Mutex
	cm      *autopaho.ConnectionManager
	handler MessageHandler
}

// NewClient creates a client but does not connect.
func NewClient(cfg config.MQTTConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("broker", cfg.Broker)}
}

// Connect dials the broker, subscribing to the configured topic on
// every (re-)connect and passing its messages to handler. It waits up
// to 30 seconds for the first connection; autopaho keeps retrying in
// the background after that.
func (c *Client) Connect(ctx context.Context, handler MessageHandler) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = "daedalus"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker")
			c.subscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		c.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

func (c *Client) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if c.cfg.Topic == "" {
		return
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: c.cfg.Topic, QoS: 1}},
	}); err != nil {
		c.logger.Warn("mqtt subscribe failed", "topic", c.cfg.Topic, "error", err)
		return
	}
	c.logger.Info("mqtt subscribed", "topic", c.cfg.Topic)
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}

// Publish sends p through the connection manager.
func (c *Client) Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return nil, fmt.Errorf("mqtt client not connected")
	}
	return cm.Publish(ctx, p)
}

// Disconnect closes the connection.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}
