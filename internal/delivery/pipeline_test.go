package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

func sampleFields() telemetry.Fields {
	return telemetry.Fields{
		{Name: "charge_state", Value: "bulk"},
		{Name: "battery_voltage", Value: 12.5},
	}
}

func newTestPipeline(t *testing.T, pub *MockPublisher, box *MockOutbox, mutate func(*PipelineOptions)) *Pipeline {
	t.Helper()
	opts := PipelineOptions{
		Engine:      newTestEngine(t, pub, box, nil),
		Outbox:      box,
		MaxAttempts: 5,
		Clock:       func() time.Time { return time.UnixMilli(1700000000000) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := NewPipeline(opts)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p
}

func TestPipeline_DeliveredNotStored(t *testing.T) {
	pub := &MockPublisher{}
	box := NewMockOutbox()
	p := newTestPipeline(t, pub, box, nil)

	outcome, err := p.Submit(context.Background(), sampleFields(), "solar", "roof1")
	if err != nil || outcome != Delivered {
		t.Fatalf("Submit() = %v, %v; want delivered, nil", outcome, err)
	}
	if box.Stores() != 0 {
		t.Error("delivered record was stored")
	}
	if n := len(pub.GetPublished()); n != 1 {
		t.Errorf("publish calls = %d, want 1", n)
	}
}

func TestPipeline_StoresAfterExhaustedAttempts(t *testing.T) {
	pub := &MockPublisher{defaultErr: mqtt.ErrNotConnected}
	box := NewMockOutbox()
	metrics := NewMockMetrics()
	p := newTestPipeline(t, pub, box, func(o *PipelineOptions) { o.Metrics = metrics })

	outcome, err := p.Submit(context.Background(), sampleFields(), "solar", "roof1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if outcome != Unreachable {
		t.Errorf("Submit() outcome = %v, want unreachable", outcome)
	}
	if n := len(pub.GetPublished()); n != 5 {
		t.Errorf("publish calls = %d, want 5", n)
	}

	keys := box.Keys()
	if len(keys) != 1 || keys[0] != "solar_roof1_1700000000000" {
		t.Fatalf("outbox keys = %v, want [solar_roof1_1700000000000]", keys)
	}
	data, _ := box.Get(keys[0])
	rec, err := telemetry.Unmarshal(data)
	if err != nil {
		t.Fatalf("stored entry does not parse: %v", err)
	}
	if rec.DeviceName != "roof1" || rec.CapturedAt != 1700000000000 {
		t.Errorf("stored record = %+v", rec)
	}
	if v, _ := rec.Fields.Get("battery_voltage"); v != 12.5 {
		t.Errorf("stored battery_voltage = %v, want 12.5", v)
	}
	if metrics.stored != 1 {
		t.Errorf("stored metric = %d, want 1", metrics.stored)
	}
}

func TestPipeline_StoredThenReplayed(t *testing.T) {
	pub := &MockPublisher{defaultErr: mqtt.ErrNotConnected}
	box := NewMockOutbox()
	p := newTestPipeline(t, pub, box, nil)

	if _, err := p.Submit(context.Background(), sampleFields(), "solar", "roof1"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	pub.SetDefaultErr(nil)
	f, err := NewForwarder(ForwarderOptions{Outbox: box, Engine: p.engine})
	if err != nil {
		t.Fatalf("NewForwarder() error = %v", err)
	}
	res := f.ForwardAll(context.Background())

	if res.Delivered != 1 {
		t.Errorf("ForwardAll() = %+v, want 1 delivered", res)
	}
	if keys := box.Keys(); len(keys) != 0 {
		t.Errorf("outbox keys = %v, want empty", keys)
	}

	published := pub.GetPublished()
	last := published[len(published)-1]
	if last.Topic != "victron/solar/roof1" {
		t.Errorf("replay topic = %q", last.Topic)
	}
	if string(last.Payload) != string(published[0].Payload) {
		t.Errorf("replay payload %s differs from live payload %s", last.Payload, published[0].Payload)
	}
}

func TestPipeline_StoresWhenCancelled(t *testing.T) {
	pub := &MockPublisher{defaultErr: mqtt.ErrNotConnected}
	box := NewMockOutbox()
	p := newTestPipeline(t, pub, box, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Submit(ctx, sampleFields(), "solar", "roof1"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if box.Stores() != 1 {
		t.Error("cancelled submit did not store the record")
	}
}

func TestPipeline_StoreFailureLosesRecord(t *testing.T) {
	pub := &MockPublisher{defaultErr: mqtt.ErrNotConnected}
	box := NewMockOutbox()
	box.storeErr = errors.New("disk full")
	p := newTestPipeline(t, pub, box, nil)

	_, err := p.Submit(context.Background(), sampleFields(), "solar", "roof1")
	if err == nil {
		t.Fatal("Submit() expected error when the record cannot be stored")
	}
}

func TestPipeline_Mirrors(t *testing.T) {
	pub := &MockPublisher{defaultErr: mqtt.ErrNotConnected}
	box := NewMockOutbox()
	ok := &MockMirror{}
	failing := &MockMirror{err: errors.New("influx down")}
	p := newTestPipeline(t, pub, box, func(o *PipelineOptions) {
		o.Mirrors = []Mirror{failing, ok}
	})

	if _, err := p.Submit(context.Background(), sampleFields(), "solar", "roof1"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	for name, m := range map[string]*MockMirror{"failing": failing, "ok": ok} {
		recs := m.Records()
		if len(recs) != 1 || recs[0].Key() != "solar_roof1_1700000000000" {
			t.Errorf("%s mirror records = %+v", name, recs)
		}
	}
	if box.Stores() != 1 {
		t.Error("mirror failure prevented storing")
	}
}

func TestPipeline_WaitClosesSubmit(t *testing.T) {
	p := newTestPipeline(t, &MockPublisher{}, NewMockOutbox(), nil)
	p.Wait()

	if _, err := p.Submit(context.Background(), sampleFields(), "solar", "roof1"); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("Submit() after Wait error = %v, want ErrPipelineClosed", err)
	}
}

func TestPipeline_WaitBlocksOnInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	pub := &MockPublisher{onPublish: func() {
		close(started)
		<-release
	}}
	p := newTestPipeline(t, pub, NewMockOutbox(), nil)

	go p.Submit(context.Background(), sampleFields(), "solar", "roof1") //nolint:errcheck // result not needed
	<-started

	waited := make(chan struct{})
	go func() {
		p.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait() returned while a submit was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after the submit finished")
	}
}
