package delivery

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/victron-ble2mqtt/internal/journal"
	"github.com/nerrad567/victron-ble2mqtt/internal/outbox"
	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MockPublisher records publishes. errs are returned in order, one per
// call; once exhausted, defaultErr is returned.
type MockPublisher struct {
	mu         sync.Mutex
	published  []mockPublish
	errs       []error
	defaultErr error
	onPublish  func()
}

func (m *MockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	err := m.defaultErr
	if len(m.errs) > 0 {
		err = m.errs[0]
		m.errs = m.errs[1:]
	}
	hook := m.onPublish
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (m *MockPublisher) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.published)
}

func (m *MockPublisher) SetDefaultErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultErr = err
}

// MockOutbox is an in-memory outbox.
type MockOutbox struct {
	mu       sync.Mutex
	entries  map[string][]byte
	removed  []string
	stores   int
	storeErr error
}

func NewMockOutbox() *MockOutbox {
	return &MockOutbox{entries: make(map[string][]byte)}
}

func (m *MockOutbox) Store(_ context.Context, e outbox.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.stores++
	m.entries[e.Key] = slices.Clone(e.Payload)
	return nil
}

func (m *MockOutbox) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, key)
	delete(m.entries, key)
	return nil
}

func (m *MockOutbox) List(_ context.Context) iter.Seq2[outbox.Entry, error] {
	m.mu.Lock()
	snapshot := make([]outbox.Entry, 0, len(m.entries))
	for k, v := range m.entries {
		snapshot = append(snapshot, outbox.Entry{Key: k, Payload: v})
	}
	m.mu.Unlock()
	slices.SortFunc(snapshot, func(a, b outbox.Entry) int {
		return strings.Compare(a.Key, b.Key)
	})

	return func(yield func(outbox.Entry, error) bool) {
		for _, e := range snapshot {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *MockOutbox) Put(key string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = payload
}

func (m *MockOutbox) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *MockOutbox) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *MockOutbox) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.removed)
}

func (m *MockOutbox) Stores() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores
}

// MockRecorder collects journal rows.
type MockRecorder struct {
	mu   sync.Mutex
	rows []journal.Attempt
}

func (m *MockRecorder) Record(_ context.Context, a journal.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return nil
}

func (m *MockRecorder) Rows() []journal.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rows)
}

// MockMirror collects mirrored records.
type MockMirror struct {
	mu      sync.Mutex
	records []telemetry.Record
	err     error
}

func (m *MockMirror) Mirror(_ context.Context, rec telemetry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *MockMirror) Records() []telemetry.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// MockMetrics counts metric calls.
type MockMetrics struct {
	mu        sync.Mutex
	attempted int
	finished  map[string]int
	stored    int
	replayed  map[string]int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{finished: make(map[string]int), replayed: make(map[string]int)}
}

func (m *MockMetrics) PublishAttempted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempted++
}

func (m *MockMetrics) PublishFinished(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[outcome]++
}

func (m *MockMetrics) OutboxStored() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored++
}

func (m *MockMetrics) Replayed(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayed[outcome]++
}

func (m *MockMetrics) OutboxEntries(int) {}

// events records the order of lifecycle steps across mocks.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) get() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.list)
}

// MockBroker fires the connect callback from Connect, like paho does.
type MockBroker struct {
	mu           sync.Mutex
	onConnect    func()
	onDisconnect func(error)
	connectErr   error
	closes       int
	ev           *events
}

func (m *MockBroker) Connect(context.Context) error {
	m.mu.Lock()
	err := m.connectErr
	cb := m.onConnect
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if cb != nil {
		cb()
	}
	return nil
}

func (m *MockBroker) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	if m.ev != nil {
		m.ev.add("close")
	}
	return nil
}

func (m *MockBroker) SetOnConnect(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = cb
}

func (m *MockBroker) SetOnDisconnect(cb func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = cb
}

// Reconnect simulates an automatic reconnect after a connection loss.
func (m *MockBroker) Reconnect(cause error) {
	m.mu.Lock()
	lost, up := m.onDisconnect, m.onConnect
	m.mu.Unlock()
	if lost != nil {
		lost(cause)
	}
	if up != nil {
		up()
	}
}

func (m *MockBroker) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// MockForwarder counts passes and optionally blocks until released.
type MockForwarder struct {
	mu      sync.Mutex
	passes  int
	release chan struct{}
	ev      *events
}

func (m *MockForwarder) ForwardAll(ctx context.Context) ForwardResult {
	m.mu.Lock()
	m.passes++
	release := m.release
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	if m.ev != nil {
		m.ev.add("forward")
	}
	return ForwardResult{}
}

func (m *MockForwarder) Passes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

// MockQuiescer records Wait calls.
type MockQuiescer struct {
	ev *events
}

func (m *MockQuiescer) Wait() {
	if m.ev != nil {
		m.ev.add("pipeline")
	}
}
