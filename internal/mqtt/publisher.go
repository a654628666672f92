package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/PranavPipariya/Godel/internal/agent"
	"github.com/PranavPipariya/Godel/internal/config"
)

// queueSize bounds events waiting for the broker.
const queueSize = 256

// publishTimeout bounds a single event publish.
const publishTimeout = 5 * time.Second

// publishFunc matches [autopaho.ConnectionManager.Publish].
type publishFunc func(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)

// EventMessage is the JSON payload of one mirrored event.
type EventMessage struct {
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
	agent.Event
}

type outbound struct {
	topic   string
	payload []byte
}

// Publisher manages the MQTT connection and forwards queued agent
// events to the broker.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger

	queue   chan outbound
	dropped atomic.Int64

	mu      sync.Mutex
	cm      *autopaho.ConnectionManager
	publish publishFunc
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop. Events passed to Observe
// before that are queued.
func New(cfg config.MQTTConfig, clientID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = config.DefaultTopicPrefix
	}
	if cfg.ClientID != "" {
		clientID = cfg.ClientID
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		logger:   logger,
		queue:    make(chan outbound, queueSize),
	}
}

// Start connects to the MQTT broker and forwards events until ctx is
// cancelled. On every (re-)connect it publishes a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm.Publish, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.publish = cm.Publish
	p.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.run(ctx)
	return nil
}

// Stop publishes an "offline" availability message and closes the
// connection.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm.Publish, "offline")
	return cm.Disconnect(ctx)
}

// Observe queues ev for publishing. It has the signature of
// [agent.Observer] and never blocks.
func (p *Publisher) Observe(sessionID string, ev agent.Event) {
	payload, err := json.Marshal(EventMessage{
		SessionID: sessionID,
		Time:      time.Now().UTC(),
		Event:     ev,
	})
	if err != nil {
		p.logger.Error("mqtt marshal event", "session_id", sessionID, "type", ev.Kind, "error", err)
		return
	}

	select {
	case p.queue <- outbound{topic: p.eventsTopic(sessionID), payload: payload}:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("mqtt event queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was
// full.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

func (p *Publisher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			p.send(ctx, msg)
		}
	}
}

func (p *Publisher) send(ctx context.Context, msg outbound) {
	p.mu.Lock()
	publish := p.publish
	p.mu.Unlock()
	if publish == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := publish(pubCtx, &paho.Publish{
		Topic:   msg.topic,
		Payload: msg.payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", msg.topic, "error", err)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, publish publishFunc, status string) {
	if _, err := publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Topic helpers ---

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) eventsTopic(sessionID string) string {
	return p.cfg.TopicPrefix + "/" + sessionID + "/events"
}
