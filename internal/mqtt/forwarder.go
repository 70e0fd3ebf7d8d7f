package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/vidchat/internal/buildinfo"
	"github.com/nugget/vidchat/internal/config"
	"github.com/nugget/vidchat/internal/events"
)

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped while the broker is slow.
const eventBuffer = 256

// Forwarder owns the broker connection, relays bus events, and
// publishes the status document on an interval.
type Forwarder struct {
	cfg        config.MQTTConfig
	instanceID string
	bus        *events.Bus
	counts     *DailyCounts
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// Status is the retained status document.
type Status struct {
	Instance string         `json:"instance"`
	Version  string         `json:"version"`
	Uptime   string         `json:"uptime"`
	Today    CountsSnapshot `json:"today"`
	At       time.Time      `json:"at"`
}

// New creates a Forwarder but does not connect. Call [Forwarder.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, counts *DailyCounts, logger *slog.Logger) *Forwarder {
	if counts == nil {
		counts = NewDailyCounts(nil)
	}
	return &Forwarder{
		cfg:        cfg,
		instanceID: instanceID,
		bus:        bus,
		counts:     counts,
		logger:     logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled.
func (f *Forwarder) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   f.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("mqtt connected to broker", "broker", f.cfg.Broker)
			f.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: f.clientID(),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	f.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		f.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	f.run(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (f *Forwarder) Stop(ctx context.Context) error {
	if f.cm == nil {
		return nil
	}
	f.publishAvailability(ctx, f.cm, "offline")
	return f.cm.Disconnect(ctx)
}

func (f *Forwarder) run(ctx context.Context) {
	sub := f.bus.Subscribe(eventBuffer)
	defer f.bus.Unsubscribe(sub)

	interval := time.Duration(f.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.publishStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			f.counts.Observe(e)
			f.publishEvent(ctx, e)
		case <-ticker.C:
			f.publishStatus(ctx)
		}
	}
}

// --- Topic helpers ---

func (f *Forwarder) clientID() string {
	id := f.instanceID
	if len(id) > 12 {
		id = id[len(id)-12:]
	}
	return "vidchat-" + id
}

func (f *Forwarder) baseTopic() string {
	return strings.TrimRight(f.cfg.TopicPrefix, "/")
}

func (f *Forwarder) availabilityTopic() string {
	return f.baseTopic() + "/availability"
}

func (f *Forwarder) statusTopic() string {
	return f.baseTopic() + "/status"
}

func (f *Forwarder) eventTopic(e events.Event) string {
	return f.baseTopic() + "/events/" + topicSafe(e.Source) + "/" + topicSafe(e.Kind)
}

// topicSafe replaces MQTT wildcard and separator characters.
func topicSafe(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// --- Publishing ---

func (f *Forwarder) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if f.cm == nil {
		return fmt.Errorf("mqtt forwarder not started")
	}
	_, err := f.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	return err
}

func (f *Forwarder) publishEvent(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		f.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := f.eventTopic(e)
	if err := f.publish(ctx, topic, payload, 0, false); err != nil {
		f.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

func (f *Forwarder) status() Status {
	return Status{
		Instance: f.instanceID,
		Version:  buildinfo.Version,
		Uptime:   buildinfo.Uptime().String(),
		Today:    f.counts.Snapshot(),
		At:       time.Now().UTC(),
	}
}

func (f *Forwarder) publishStatus(ctx context.Context) {
	payload, err := json.Marshal(f.status())
	if err != nil {
		f.logger.Error("mqtt marshal status", "error", err)
		return
	}
	if err := f.publish(ctx, f.statusTopic(), payload, 0, true); err != nil {
		f.logger.Debug("mqtt status publish failed", "error", err)
		return
	}
	f.logger.Debug("mqtt status published")
}

func (f *Forwarder) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   f.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		f.logger.Info("mqtt availability published", "status", status)
	}
}
