// Package telemetry publishes command activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/util"
)

// MaxResponseBytes bounds the response text carried in a message.
const MaxResponseBytes = 1024

// Topic suffixes, appended to the configured prefix.
const (
	TopicCommand    = "command"
	TopicAuthFailed = "auth_failed"
	TopicGateway    = "gateway"
)

// publisher is the part of mqtt.Client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler forwards bus events to the broker as JSON messages.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   publisher
	conn     mqtt.Client
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates the handler and configures, but does not connect,
// the MQTT client.
func NewMQTTHandler(mqttCfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rconctl-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	h := newHandler(mqttCfg, eventBus, nil, sysInfo)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.conn = mqtt.NewClient(opts)
	h.client = h.conn
	return h, nil
}

func newHandler(mqttCfg config.MQTTConfig, eventBus *events.EventBus, client publisher, sysInfo util.SystemInfo) *MQTTHandler {
	if mqttCfg.TopicPrefix == "" {
		mqttCfg.TopicPrefix = "rcon"
	}
	return &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		client:   client,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"platform":  sysInfo.Platform,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
			"app":       "rconctl",
		},
	}
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.conn.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe()

	<-ctx.Done()

	h.PublishShutdown()
	h.conn.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

// Subscribe registers the bus handlers that publish to MQTT.
func (h *MQTTHandler) Subscribe() {
	h.eventBus.Subscribe(events.EventCommandExecuted, "mqtt.command", h.onCommand)
	h.eventBus.Subscribe(events.EventAuthFailed, "mqtt.authFailed", h.onAuthFailed)
	h.eventBus.Subscribe(events.EventGatewayStarted, "mqtt.gatewayStarted", h.onGateway)
	h.eventBus.Subscribe(events.EventGatewayStopped, "mqtt.gatewayStopped", h.onGateway)
}

// Topic returns the full topic for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.cfg.TopicPrefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if h.client == nil || !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// commandMessage is the published form of a CommandPayload.
type commandMessage struct {
	ID         string `json:"id"`
	Profile    string `json:"profile"`
	Address    string `json:"address"`
	Command    string `json:"command"`
	Response   string `json:"response"`
	Truncated  bool   `json:"truncated,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Source     string `json:"source"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}

func (h *MQTTHandler) onCommand(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.CommandPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	resp, truncated := Truncate(p.Response, MaxResponseBytes)
	h.publish(h.Topic(TopicCommand), commandMessage{
		ID:         p.ID,
		Profile:    p.Profile,
		Address:    p.Address,
		Command:    p.Command,
		Response:   resp,
		Truncated:  truncated,
		ErrorKind:  p.ErrorKind,
		Source:     p.Source,
		StartedAt:  p.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: p.Duration.Milliseconds(),
	})
	return nil
}

func (h *MQTTHandler) onAuthFailed(ctx context.Context, event events.Event) error {
	h.publish(h.Topic(TopicAuthFailed), event.Payload)
	return nil
}

func (h *MQTTHandler) onGateway(ctx context.Context, event events.Event) error {
	h.publish(h.Topic(TopicGateway), map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// PublishShutdown announces that this process is going away.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicGateway), map[string]interface{}{
		"event": string(events.EventShutdown),
	})
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
