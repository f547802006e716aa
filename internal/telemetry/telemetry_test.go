package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/smartbin/internal/detect"
	"github.com/banshee-data/smartbin/internal/ranging"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool                     { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

type message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connectErr   error
	publishErr   error
	pending      bool
	messages     []message
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	return &fakeToken{err: c.connectErr, pending: c.pending}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool { return !c.disconnected }

func newTestMQTT(t *testing.T, fc *fakeClient) *MQTT {
	t.Helper()
	m := NewMQTT(MQTTConfig{Broker: "localhost:1883", TopicPrefix: "bins/kitchen/", QoS: 1, ConnectTimeout: 50 * time.Millisecond})
	m.newClient = func(o *mqtt.ClientOptions) mqttClient {
		fc.opts = o
		return fc
	}
	return m
}

func TestMQTTPublish(t *testing.T) {
	fc := &fakeClient{}
	m := newTestMQTT(t, fc)

	err := m.PublishSystemStatus(SystemStatus{Phase: PhaseReady})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, "tcp://localhost:1883", fc.opts.Servers[0].String())
	assert.Equal(t, "bins/kitchen/status", fc.opts.WillTopic)
	assert.True(t, fc.opts.WillRetained)
	assert.Contains(t, string(fc.opts.WillPayload), `"phase":"offline"`)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sum := detect.DefaultSummarizer().Summarize([]detect.Detection{{Label: detect.LabelWet, Confidence: 0.65}})
	require.NoError(t, m.PublishDetection(DetectionEvent{RunID: "r1", Time: at, Detector: "heuristic", Summary: sum}))
	require.NoError(t, m.PublishBinStatus(BinStatus{Time: at, Levels: []ranging.FillLevel{{Bin: "dry", Percent: 50}}}))
	require.NoError(t, m.PublishSystemStatus(SystemStatus{Phase: PhaseReady, Time: at}))

	require.Len(t, fc.messages, 3)
	gotTopics := []string{fc.messages[0].Topic, fc.messages[1].Topic, fc.messages[2].Topic}
	if diff := cmp.Diff([]string{"bins/kitchen/detection", "bins/kitchen/bins", "bins/kitchen/status"}, gotTopics); diff != "" {
		t.Errorf("topics mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, fc.messages[0].Retained)
	assert.True(t, fc.messages[2].Retained)
	assert.Equal(t, byte(1), fc.messages[2].QoS)

	var got DetectionEvent
	require.NoError(t, json.Unmarshal(fc.messages[0].Payload, &got))
	assert.Equal(t, "wet", got.Summary.Destination)
	assert.Equal(t, "r1", got.RunID)

	require.NoError(t, m.Disconnect())
	assert.True(t, fc.disconnected)
	assert.ErrorIs(t, m.PublishBinStatus(BinStatus{}), ErrNotConnected)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Errors)
	assert.Equal(t, uint64(1), stats.Published["bins/kitchen/status"])
}

func TestMQTTConnectErrors(t *testing.T) {
	boom := errors.New("refused")
	m := newTestMQTT(t, &fakeClient{connectErr: boom})
	assert.ErrorIs(t, m.Connect(context.Background()), boom)

	m = newTestMQTT(t, &fakeClient{pending: true})
	assert.ErrorContains(t, m.Connect(context.Background()), "timeout")

	assert.Error(t, NewMQTT(MQTTConfig{}).Connect(context.Background()))
}

func TestMQTTPublishFailure(t *testing.T) {
	boom := errors.New("broker gone")
	m := newTestMQTT(t, &fakeClient{publishErr: boom})
	require.NoError(t, m.Connect(context.Background()))
	assert.ErrorIs(t, m.PublishSystemStatus(SystemStatus{Phase: PhaseError}), boom)
}

func TestHub(t *testing.T) {
	h := NewHub()
	require.NoError(t, h.Connect(context.Background()))

	ch, unsubscribe := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	at := time.Unix(100, 0)
	require.NoError(t, h.PublishSystemStatus(SystemStatus{Phase: PhaseReady, Time: at}))
	ev := <-ch
	assert.Equal(t, KindStatus, ev.Kind)
	assert.Equal(t, PhaseReady, ev.Payload.(SystemStatus).Phase)

	require.NoError(t, h.PublishBinStatus(BinStatus{Time: at}))
	<-ch
	last := h.Last()
	require.Len(t, last, 2)
	assert.Equal(t, KindStatus, last[0].Kind)
	assert.Equal(t, KindBins, last[1].Kind)

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.Subscribers())
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewHub()
	_, unsubscribe := h.Subscribe()
	defer unsubscribe()
	for i := 0; i < DefaultSubscriberBuffer+3; i++ {
		require.NoError(t, h.PublishSystemStatus(SystemStatus{Phase: PhaseAlert}))
	}
	assert.Equal(t, uint64(3), h.Drops())
}

func TestHubDisconnect(t *testing.T) {
	h := NewHub()
	ch, _ := h.Subscribe()
	require.NoError(t, h.Disconnect())
	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, h.PublishSystemStatus(SystemStatus{}), ErrNotConnected)

	late, _ := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

type failing struct{ Log }

func (failing) PublishSystemStatus(SystemStatus) error { return errors.New("down") }

func TestMultiDeliversToEverySink(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	m := Multi{failing{}, nil, h, Log{}}
	err := m.PublishSystemStatus(SystemStatus{Phase: PhaseShutdown})
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, PhaseShutdown, (<-ch).Payload.(SystemStatus).Phase)

	assert.NoError(t, m.PublishDetection(DetectionEvent{Summary: detect.Summary{Destination: detect.DestinationNone, Objects: []detect.Object{}}}))
	assert.NoError(t, m.Disconnect())
}
