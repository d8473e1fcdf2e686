//go:build test

package sink_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/sink"
	"github.com/srg/blesync/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var txChar = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")

func orderedValue() any {
	om := orderedmap.New[string, any]()
	om.Set("zeta", 1.0)
	om.Set("alpha", "on")
	return om
}

func message(v any) sink.Message {
	return sink.Message{
		Characteristic: txChar,
		Value:          v,
		ReceivedAt:     time.Date(2024, 5, 1, 13, 4, 5, 6_000_000, time.UTC),
	}
}

func TestJSONLinesKeepsKeyOrder(t *testing.T) {
	var buf bytes.Buffer
	s := sink.NewJSONLines(&buf)

	require.NoError(t, s.Emit(context.Background(), message(orderedValue())))
	require.NoError(t, s.Emit(context.Background(), message([]any{1.0, nil, true})))

	assert.Equal(t, "{\"zeta\":1,\"alpha\":\"on\"}\n[1,null,true]\n", buf.String())
}

func TestPrettyWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := sink.NewPretty(&buf)

	require.NoError(t, s.Emit(context.Background(), message(orderedValue())))

	testutils.NewTextAsserter(t).Assert(buf.String(), `
[13:04:05.006]
{
  "zeta": 1,
  "alpha": "on"
}
`)
}

func TestLogSinkWritesInfoLine(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	s := sink.NewLog(helper.Logger)

	require.NoError(t, s.Emit(context.Background(), message(orderedValue())))

	entries := helper.Entries(logrus.InfoLevel)
	require.Len(t, entries, 1)
	assert.Equal(t, `→ {"zeta":1,"alpha":"on"}`, entries[0].Message)
	assert.Equal(t, "6e400003", entries[0].Data["characteristic"])
}

func TestEncodeFailure(t *testing.T) {
	var buf bytes.Buffer

	err := sink.NewJSONLines(&buf).Emit(context.Background(), message(func() {}))

	assert.ErrorContains(t, err, "encode value")
	assert.Empty(t, buf.String())
}

type closingSink struct {
	emitErr  error
	closeErr error
	emitted  int
	closed   int
}

func (c *closingSink) Emit(context.Context, sink.Message) error {
	c.emitted++
	return c.emitErr
}

func (c *closingSink) Close() error {
	c.closed++
	return c.closeErr
}

func TestMultiTriesEverySink(t *testing.T) {
	first := &closingSink{emitErr: errors.New("first failed")}
	second := &closingSink{}
	var seen []sink.Message
	third := sink.Func(func(_ context.Context, msg sink.Message) error {
		seen = append(seen, msg)
		return errors.New("third failed")
	})

	err := sink.Multi{first, second, third}.Emit(context.Background(), message(1.0))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "third failed")
	assert.Equal(t, 1, first.emitted)
	assert.Equal(t, 1, second.emitted)
	assert.Len(t, seen, 1)
}

func TestMultiClose(t *testing.T) {
	a := &closingSink{closeErr: errors.New("close failed")}
	b := &closingSink{}

	err := sink.Multi{a, sink.Discard, b}.Close()

	assert.ErrorContains(t, err, "close failed")
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakePublisher struct {
	mu         sync.Mutex
	token      pahomqtt.Token
	published  []published
	disconnect []uint
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{topic, qos, retained, string(payload.([]byte))})
	return p.token
}

func (p *fakePublisher) Disconnect(quiesce uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnect = append(p.disconnect, quiesce)
}

func newTestMQTT(t *testing.T, pub *fakePublisher, opts sink.MQTTOptions) *sink.MQTT {
	t.Helper()
	if opts.Topic == "" {
		opts.Topic = "blesync/notifications"
	}
	m, err := sink.NewMQTT(pub, opts, testutils.NewTestHelper(t).Logger)
	require.NoError(t, err)
	return m
}

func TestMQTTPublishesJSON(t *testing.T) {
	pub := &fakePublisher{token: completedToken(nil)}
	m := newTestMQTT(t, pub, sink.MQTTOptions{Topic: "home/sensor", QoS: 1, Retained: true})

	require.NoError(t, m.Emit(context.Background(), message(orderedValue())))

	require.Len(t, pub.published, 1)
	assert.Equal(t, published{"home/sensor", 1, true, `{"zeta":1,"alpha":"on"}`}, pub.published[0])

	require.NoError(t, m.Close())
	assert.Equal(t, []uint{sink.DefaultDisconnectQuiesce}, pub.disconnect)
}

func TestMQTTPublishError(t *testing.T) {
	pub := &fakePublisher{token: completedToken(errors.New("not connected"))}
	m := newTestMQTT(t, pub, sink.MQTTOptions{})

	err := m.Emit(context.Background(), message(1.0))

	assert.ErrorIs(t, err, sink.ErrMQTTPublish)
	assert.ErrorContains(t, err, "not connected")
}

func TestMQTTPublishTimeout(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: make(chan struct{})}}
	m := newTestMQTT(t, pub, sink.MQTTOptions{PublishTimeout: 10 * time.Millisecond})

	err := m.Emit(context.Background(), message(1.0))

	assert.ErrorIs(t, err, sink.ErrMQTTPublish)
	assert.ErrorContains(t, err, "timeout")
}

func TestMQTTPublishCancelled(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: make(chan struct{})}}
	m := newTestMQTT(t, pub, sink.MQTTOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Emit(ctx, message(1.0))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestMQTTRejectsOversizedPayload(t *testing.T) {
	pub := &fakePublisher{token: completedToken(nil)}
	m := newTestMQTT(t, pub, sink.MQTTOptions{})

	err := m.Emit(context.Background(), message(strings.Repeat("x", sink.MaxPayloadSize)))

	assert.ErrorIs(t, err, sink.ErrMQTTPublish)
	assert.Empty(t, pub.published)
}

func TestMQTTOptionsValidation(t *testing.T) {
	_, err := sink.NewMQTT(&fakePublisher{}, sink.MQTTOptions{}, nil)
	assert.ErrorIs(t, err, sink.ErrMQTTTopic)

	_, err = sink.NewMQTT(&fakePublisher{}, sink.MQTTOptions{Topic: "t", QoS: 3}, nil)
	assert.ErrorIs(t, err, sink.ErrMQTTQoS)

	_, err = sink.DialMQTT(sink.MQTTOptions{Broker: "tcp://localhost:1"}, nil)
	assert.ErrorIs(t, err, sink.ErrMQTTTopic, "options are checked before dialing")
}
