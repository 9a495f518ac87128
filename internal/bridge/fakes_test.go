package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/farouk15160/robot-edge-bridge/internal/canframe"
	"github.com/farouk15160/robot-edge-bridge/internal/robot"
)

// eventLog records transport calls across fakes so tests can check ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeCAN struct {
	log *eventLog

	mu         sync.Mutex
	connected  bool
	connectErr error
	sendErr    error
	sent       []canframe.Frame
	sentAfter  int // frames sent while disconnected
	onReceive  func(id uint32, payload []byte)
}

func (f *fakeCAN) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.log.add("can.connect")
	return nil
}

func (f *fakeCAN) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.log.add("can.disconnect")
	return nil
}

func (f *fakeCAN) Send(_ context.Context, frame canframe.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		f.sentAfter++
		return fmt.Errorf("%w: fake CAN", ErrTransportUnavailable)
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeCAN) OnReceive(fn func(id uint32, payload []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReceive = fn
}

func (f *fakeCAN) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeCAN) frames() []canframe.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]canframe.Frame(nil), f.sent...)
}

func (f *fakeCAN) deliver(id uint32, payload []byte) {
	f.mu.Lock()
	fn := f.onReceive
	f.mu.Unlock()
	fn(id, payload)
}

type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakeMQTT struct {
	log *eventLog

	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	published  []message
	subs       map[string]func([]byte)
}

func (f *fakeMQTT) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.log.add("mqtt.connect")
	return nil
}

func (f *fakeMQTT) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.log.add("mqtt.disconnect")
	return nil
}

func (f *fakeMQTT) Publish(_ context.Context, topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("%w: fake MQTT", ErrTransportUnavailable)
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, message{topic, append([]byte(nil), payload...), qos, retained})
	f.log.add("mqtt.publish " + topic)
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, fn func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]func([]byte))
	}
	f.subs[topic] = fn
	return nil
}

func (f *fakeMQTT) setPublishErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishErr = err
}

func (f *fakeMQTT) deliver(topic string, payload []byte) {
	f.mu.Lock()
	fn := f.subs[topic]
	f.mu.Unlock()
	fn(payload)
}

func (f *fakeMQTT) messages(topic string) []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeStatusRecorder struct {
	mu      sync.Mutex
	records []robot.RobotStatus
}

func (r *fakeStatusRecorder) RecordStatus(s robot.RobotStatus, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, s)
}

func (r *fakeStatusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fakeFrameRecorder struct {
	mu     sync.Mutex
	counts map[canframe.Direction]int
}

func (r *fakeFrameRecorder) RecordFrame(dir canframe.Direction, _ canframe.Frame, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[canframe.Direction]int)
	}
	r.counts[dir]++
}

func (r *fakeFrameRecorder) count(dir canframe.Direction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[dir]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func decodeControl(t *testing.T, f canframe.Frame) canframe.Fields {
	t.Helper()
	fields, err := canframe.Decode(f.ID, f.Payload())
	if err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	return fields
}
