package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/util"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic string
	data  []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	messages  []message
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic: topic, data: payload.([]byte)})
	return doneToken{}
}

func (f *fakeClient) all() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func newTestHandler(t *testing.T, connected bool) (*MQTTHandler, *fakeClient, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	client := &fakeClient{connected: connected}
	h := newHandler(config.MQTTConfig{TopicPrefix: "ops"}, bus, client, util.SystemInfo{Hostname: "box"})
	h.Subscribe()
	return h, client, bus
}

func TestCommandEventPublished(t *testing.T) {
	_, client, bus := newTestHandler(t, true)

	bus.Emit(context.Background(), events.Event{
		Type: events.EventCommandExecuted,
		Payload: events.CommandPayload{
			ID:        "abc",
			Profile:   "local",
			Command:   "status",
			Response:  strings.Repeat("r", MaxResponseBytes+100),
			Source:    "gateway",
			StartedAt: time.Now(),
			Duration:  250 * time.Millisecond,
		},
	})
	bus.Wait()

	msgs := client.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ops/command", msgs[0].topic)

	var decoded struct {
		Hostname string         `json:"hostname"`
		Payload  commandMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].data, &decoded))
	assert.Equal(t, "box", decoded.Hostname)
	assert.Equal(t, "status", decoded.Payload.Command)
	assert.Len(t, decoded.Payload.Response, MaxResponseBytes)
	assert.True(t, decoded.Payload.Truncated)
	assert.Equal(t, int64(250), decoded.Payload.DurationMS)
	assert.NotContains(t, string(msgs[0].data), "password")
}

func TestAuthFailedAndGatewayTopics(t *testing.T) {
	h, client, bus := newTestHandler(t, true)

	bus.Emit(context.Background(), events.Event{
		Type:    events.EventAuthFailed,
		Payload: events.SessionPayload{Profile: "local", Address: "127.0.0.1:25575"},
	})
	bus.Emit(context.Background(), events.Event{
		Type:    events.EventGatewayStarted,
		Payload: events.GatewayPayload{Address: "127.0.0.1:8095"},
	})
	bus.Wait()
	h.PublishShutdown()

	topics := map[string]int{}
	for _, m := range client.all() {
		topics[m.topic]++
	}
	assert.Equal(t, 1, topics["ops/auth_failed"])
	assert.Equal(t, 2, topics["ops/gateway"])
}

func TestNothingPublishedWhileDisconnected(t *testing.T) {
	_, client, bus := newTestHandler(t, false)

	bus.Emit(context.Background(), events.Event{
		Type:    events.EventCommandExecuted,
		Payload: events.CommandPayload{Command: "status"},
	})
	bus.Wait()
	assert.Empty(t, client.all())
}

func TestTruncate(t *testing.T) {
	s, cut := Truncate("short", 10)
	assert.Equal(t, "short", s)
	assert.False(t, cut)

	s, cut = Truncate("ab€", 3)
	assert.Equal(t, "ab", s)
	assert.True(t, cut)
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{Enabled: false}, events.NewEventBus())
	assert.Error(t, err)
}
