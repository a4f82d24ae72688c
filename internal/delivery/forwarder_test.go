package delivery

import (
	"context"
	"testing"

	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/mqtt"
)

func storedRecord(t *testing.T, box *MockOutbox, capturedAt int64) string {
	t.Helper()
	rec := testRecord()
	rec.CapturedAt = capturedAt
	data, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	box.Put(rec.Key(), data)
	return rec.Key()
}

func newTestForwarder(t *testing.T, pub *MockPublisher, box *MockOutbox, metrics Metrics) *Forwarder {
	t.Helper()
	f, err := NewForwarder(ForwarderOptions{
		Outbox:      box,
		Engine:      newTestEngine(t, pub, box, nil),
		MaxAttempts: 2,
		Metrics:     metrics,
	})
	if err != nil {
		t.Fatalf("NewForwarder() error = %v", err)
	}
	return f
}

func TestForwarder_ReplaysAndRemoves(t *testing.T) {
	pub := &MockPublisher{}
	box := NewMockOutbox()
	metrics := NewMockMetrics()
	k1 := storedRecord(t, box, 1700000000000)
	k2 := storedRecord(t, box, 1700000060000)

	res := newTestForwarder(t, pub, box, metrics).ForwardAll(context.Background())

	if res.Listed != 2 || res.Delivered != 2 || res.Failed != 0 {
		t.Errorf("ForwardAll() = %+v, want 2 listed and delivered", res)
	}
	if keys := box.Keys(); len(keys) != 0 {
		t.Errorf("outbox keys = %v, want empty", keys)
	}

	published := pub.GetPublished()
	if len(published) != 2 {
		t.Fatalf("publish calls = %d, want 2", len(published))
	}
	for _, p := range published {
		if p.Topic != "victron/solar/roof1" {
			t.Errorf("topic = %q, want victron/solar/roof1", p.Topic)
		}
	}
	wantPayload := `{"charge_state":"bulk","battery_voltage":12.5,"captured_at":1700000000000}`
	if string(published[0].Payload) != wantPayload {
		t.Errorf("replayed payload = %s, want %s", published[0].Payload, wantPayload)
	}

	removed := box.Removed()
	if len(removed) != 2 || removed[0] != k1 || removed[1] != k2 {
		t.Errorf("removed = %v, want [%s %s]", removed, k1, k2)
	}
	if metrics.replayed["delivered"] != 2 {
		t.Errorf("replayed metrics = %v", metrics.replayed)
	}
}

func TestForwarder_FailedEntriesStay(t *testing.T) {
	pub := &MockPublisher{defaultErr: mqtt.ErrNotConnected}
	box := NewMockOutbox()
	key := storedRecord(t, box, 1700000000000)
	before, _ := box.Get(key)

	res := newTestForwarder(t, pub, box, nil).ForwardAll(context.Background())

	if res.Failed != 1 || res.Delivered != 0 {
		t.Errorf("ForwardAll() = %+v, want 1 failed", res)
	}
	if n := len(pub.GetPublished()); n != 2 {
		t.Errorf("publish calls = %d, want 2 (MaxAttempts)", n)
	}
	after, ok := box.Get(key)
	if !ok || string(after) != string(before) {
		t.Error("failed entry was changed or removed")
	}
	if box.Stores() != 0 {
		t.Error("ForwardAll() re-stored an entry")
	}
}

func TestForwarder_LeavesCorruptEntries(t *testing.T) {
	pub := &MockPublisher{}
	box := NewMockOutbox()
	box.Put("solar_roof1_1", []byte("{not json"))
	box.Put("solar_roof1_2", []byte(`{"device_type":"solar","device_name":"roof1","captured_at":3,"fields":{}}`))
	good := storedRecord(t, box, 1700000000000)

	res := newTestForwarder(t, pub, box, nil).ForwardAll(context.Background())

	if res.Corrupt != 2 || res.Delivered != 1 {
		t.Errorf("ForwardAll() = %+v, want 2 corrupt, 1 delivered", res)
	}
	keys := box.Keys()
	if len(keys) != 2 || keys[0] != "solar_roof1_1" || keys[1] != "solar_roof1_2" {
		t.Errorf("outbox keys = %v, want corrupt entries left in place", keys)
	}
	if _, ok := box.Get(good); ok {
		t.Error("delivered entry still present")
	}
}

func TestForwarder_EmptyOutbox(t *testing.T) {
	pub := &MockPublisher{}
	res := newTestForwarder(t, pub, NewMockOutbox(), nil).ForwardAll(context.Background())

	if res != (ForwardResult{}) {
		t.Errorf("ForwardAll() = %+v, want zero", res)
	}
	if n := len(pub.GetPublished()); n != 0 {
		t.Errorf("publish calls = %d, want 0", n)
	}
}

func TestForwarder_StopsWhenCancelled(t *testing.T) {
	pub := &MockPublisher{}
	box := NewMockOutbox()
	storedRecord(t, box, 1700000000000)
	storedRecord(t, box, 1700000060000)

	ctx, cancel := context.WithCancel(context.Background())
	pub.onPublish = cancel

	res := newTestForwarder(t, pub, box, nil).ForwardAll(ctx)

	if res.Delivered != 1 {
		t.Errorf("ForwardAll() = %+v, want stop after first entry", res)
	}
	if keys := box.Keys(); len(keys) != 1 {
		t.Errorf("outbox keys = %v, want one left", keys)
	}
}

func TestForwarder_JournalSourceIsReplay(t *testing.T) {
	pub := &MockPublisher{}
	box := NewMockOutbox()
	rec := &MockRecorder{}
	storedRecord(t, box, 1700000000000)

	f, err := NewForwarder(ForwarderOptions{
		Outbox: box,
		Engine: newTestEngine(t, pub, box, func(o *EngineOptions) { o.Journal = rec }),
	})
	if err != nil {
		t.Fatalf("NewForwarder() error = %v", err)
	}
	f.ForwardAll(context.Background())

	rows := rec.Rows()
	if len(rows) != 1 || rows[0].Source != "replay" {
		t.Errorf("journal rows = %+v, want one replay row", rows)
	}
}
