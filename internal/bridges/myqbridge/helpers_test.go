package myqbridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/device"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-myq/internal/myq"
	"github.com/nerrad567/gray-logic-myq/internal/scheduler"
	"github.com/nerrad567/gray-logic-myq/internal/settings"
	"github.com/nerrad567/gray-logic-myq/migrations"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]mqtt.MessageHandler
	publishErr    error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// SetPublishError makes every Publish fail with err until cleared with nil.
func (m *MockMQTTClient) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// PublishedOn returns the messages published on topic, oldest first.
func (m *MockMQTTClient) PublishedOn(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message to the handler whose subscription
// pattern matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		_ = handler(topic, payload)
	}
}

// topicMatches supports the single-level "+" wildcard.
func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

// waitForPublish polls until a message appears on topic.
func waitForPublish(t *testing.T, m *MockMQTTClient, topic string) mockPublish {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := m.PublishedOn(topic); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no message published on %s", topic)
	return mockPublish{}
}

// fakeCloudClient implements CloudClient in memory.
type fakeCloudClient struct {
	mu sync.Mutex

	configured   bool
	configureErr error
	configuredTo []string

	devices  map[string]*myq.Device
	getErr   error
	getCalls int

	commandErr error
	commands   []string

	pairable map[myq.Kind][]myq.PairCandidate
	pairErr  error

	limiter *myq.RateLimiter
}

func newFakeCloudClient(clock scheduler.Clock) *fakeCloudClient {
	return &fakeCloudClient{
		configured: true,
		devices:    make(map[string]*myq.Device),
		pairable:   make(map[myq.Kind][]myq.PairCandidate),
		limiter:    myq.NewRateLimiter(clock),
	}
}

func (f *fakeCloudClient) IsConfigured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configured
}

func (f *fakeCloudClient) GetDevice(_ context.Context, serial string) (*myq.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.devices[serial]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeCloudClient) SendDoorCommand(_ context.Context, serial string, cmd myq.Command) error {
	return f.send(serial, cmd)
}

func (f *fakeCloudClient) SendLampCommand(_ context.Context, serial string, cmd myq.Command) error {
	return f.send(serial, cmd)
}

func (f *fakeCloudClient) send(serial string, cmd myq.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commandErr != nil {
		return f.commandErr
	}
	f.commands = append(f.commands, serial+":"+string(cmd))
	return nil
}

func (f *fakeCloudClient) Configure(_ context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configuredTo = append(f.configuredTo, refreshToken)
	if f.configureErr != nil {
		return f.configureErr
	}
	f.configured = true
	return nil
}

func (f *fakeCloudClient) ListPairable(_ context.Context, kind myq.Kind) ([]myq.PairCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pairErr != nil {
		return nil, f.pairErr
	}
	return append([]myq.PairCandidate{}, f.pairable[kind]...), nil
}

func (f *fakeCloudClient) RateLimiter() *myq.RateLimiter { return f.limiter }

func (f *fakeCloudClient) set(fn func(f *fakeCloudClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeCloudClient) setDoor(serial, state string) {
	f.set(func(f *fakeCloudClient) {
		f.devices[serial] = &myq.Device{
			SerialNumber: serial,
			Family:       myq.FamilyGarageDoor,
			State:        myq.DeviceState{DoorState: state},
		}
	})
}

func (f *fakeCloudClient) setLamp(serial, state string) {
	f.set(func(f *fakeCloudClient) {
		f.devices[serial] = &myq.Device{
			SerialNumber: serial,
			Family:       myq.FamilyLamp,
			State:        myq.DeviceState{LampState: state},
		}
	})
}

// recorderFunc adapts a function to StateRecorder.
type recorderFunc func(influxdb.DeviceState)

func (f recorderFunc) WriteDeviceState(s influxdb.DeviceState) { f(s) }

type testBridge struct {
	*Bridge
	mqtt     *MockMQTTClient
	cloud    *fakeCloudClient
	sched    *scheduler.Fake
	store    *settings.MemoryStore
	registry *device.Registry
}

// newTestRegistry returns a registry over a migrated in-memory database
// holding devices.
func newTestRegistry(t *testing.T, devices ...*device.Device) *device.Registry {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	reg := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	for _, d := range devices {
		if err := reg.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice(%s) error = %v", d.SerialNumber, err)
		}
	}
	return reg
}

func newTestBridge(t *testing.T, devices ...*device.Device) *testBridge {
	t.Helper()
	sched := scheduler.NewFake(testStart)
	tb := &testBridge{
		mqtt:     NewMockMQTTClient(),
		cloud:    newFakeCloudClient(sched),
		sched:    sched,
		store:    settings.NewMemoryStore(),
		registry: newTestRegistry(t, devices...),
	}

	b, err := NewBridge(BridgeOptions{
		Client:     tb.cloud,
		Registry:   tb.registry,
		Store:      tb.store,
		MQTTClient: tb.mqtt,
		Scheduler:  sched,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	t.Cleanup(b.Stop)
	tb.Bridge = b
	return tb
}

func garageDoor(serial string) *device.Device {
	return &device.Device{SerialNumber: serial, AccountID: "acc-1", Kind: myq.KindGarageDoor, Name: "Door " + serial}
}

func gate(serial string) *device.Device {
	return &device.Device{SerialNumber: serial, AccountID: "acc-1", Kind: myq.KindGate, Name: "Gate " + serial}
}

func lamp(serial string) *device.Device {
	return &device.Device{SerialNumber: serial, AccountID: "acc-1", Kind: myq.KindLamp, Name: "Lamp " + serial}
}

func decodeState(t *testing.T, p mockPublish) StateMessage {
	t.Helper()
	var msg StateMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return msg
}

func decodeAck(t *testing.T, p mockPublish) AckMessage {
	t.Helper()
	var ack AckMessage
	if err := json.Unmarshal(p.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func decodeResponse(t *testing.T, p mockPublish) ResponseMessage {
	t.Helper()
	var resp ResponseMessage
	if err := json.Unmarshal(p.Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}
