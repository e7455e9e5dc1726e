package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/internal/changestream"
	"github.com/branchwatch/branchwatch/internal/config"
	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/prober"
	"github.com/branchwatch/branchwatch/internal/store"
)

type fakePublisher struct {
	changes []changestream.StatusChange
}

func (f *fakePublisher) Publish(change changestream.StatusChange) {
	f.changes = append(f.changes, change)
}

type fakeProber struct {
	result prober.ICMPResult
	err    error
}

func (f *fakeProber) Probe(ctx context.Context, ip string) (prober.ICMPResult, error) {
	return f.result, f.err
}

type fakeTSWriter struct {
	samples []models.PingSample
}

func (f *fakeTSWriter) WritePingSample(ctx context.Context, s models.PingSample) error {
	f.samples = append(f.samples, s)
	return nil
}

// fakeStateGateway is a minimal in-memory store.Gateway stand-in; the
// ping worker only ever calls UpdateDeviceState, so every other method
// is a stub recording nothing.
type fakeStateGateway struct {
	updated []*models.Device
}

func (f *fakeStateGateway) Close() {}
func (f *fakeStateGateway) ListEnabledDevices(ctx context.Context) ([]*models.Device, error) {
	return nil, nil
}
func (f *fakeStateGateway) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStateGateway) UpdateDeviceState(ctx context.Context, d *models.Device) error {
	f.updated = append(f.updated, d)
	return nil
}
func (f *fakeStateGateway) UpdateDeviceSNMPInfo(ctx context.Context, d *models.Device) error {
	return nil
}
func (f *fakeStateGateway) UpsertInterfaces(ctx context.Context, deviceID uuid.UUID, ifaces []*models.Interface) error {
	return nil
}
func (f *fakeStateGateway) ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]*models.Interface, error) {
	return nil, nil
}
func (f *fakeStateGateway) UpdateInterfaceTopology(ctx context.Context, iface *models.Interface) error {
	return nil
}
func (f *fakeStateGateway) UpsertInterfaceSummary(ctx context.Context, s *models.InterfaceSummary) error {
	return nil
}
func (f *fakeStateGateway) UpsertInterfaceBaseline(ctx context.Context, b *models.InterfaceBaseline) error {
	return nil
}
func (f *fakeStateGateway) GetInterfaceBaseline(ctx context.Context, interfaceID uuid.UUID, hour, dow int) (*models.InterfaceBaseline, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStateGateway) ListAlertRules(ctx context.Context) ([]*models.AlertRule, error) {
	return nil, nil
}
func (f *fakeStateGateway) GetUnresolvedAlert(ctx context.Context, deviceID uuid.UUID, dedupGroup string) (*models.AlertHistory, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStateGateway) InsertAlertIfAbsent(ctx context.Context, a *models.AlertHistory) (bool, error) {
	return false, nil
}
func (f *fakeStateGateway) ResolveAlert(ctx context.Context, id uuid.UUID, resolvedAt time.Time) error {
	return nil
}
func (f *fakeStateGateway) ListUnresolvedAlerts(ctx context.Context) ([]*models.AlertHistory, error) {
	return nil, nil
}
func (f *fakeStateGateway) BulkLatestPing(ctx context.Context, ips []string) (map[string]*models.PingSample, error) {
	return nil, nil
}
func (f *fakeStateGateway) BulkActiveAlertCount(ctx context.Context, deviceIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	return nil, nil
}
func (f *fakeStateGateway) GetActiveMonitoringProfile(ctx context.Context) (*models.MonitoringProfile, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStateGateway) WithTx(ctx context.Context, fn func(tx store.Gateway) error) error {
	return fn(f)
}

func testThresholds() config.AlertThresholds {
	return config.AlertThresholds{
		FlapThresholdNormal: 3,
		FlapThresholdISP:    2,
		FlapWindow:          5 * time.Minute,
		FlapClearThreshold:  2,
		DeviceDownGraceSecs: 10,
	}
}

func TestProcessDeviceUpToDownSetsDownSince(t *testing.T) {
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.6"}
	p := &fakeProber{result: prober.ICMPResult{Reachable: false}}
	ts := &fakeTSWriter{}
	gw := &fakeStateGateway{}

	w := NewPingWorker(p, ts, gw, testThresholds(), nil)
	if err := w.processDevice(context.Background(), d); err != nil {
		t.Fatalf("processDevice: %v", err)
	}
	if d.DownSince == nil {
		t.Fatal("expected down_since to be set on UP->DOWN transition")
	}
	if len(ts.samples) != 1 || ts.samples[0].IsReachable {
		t.Errorf("expected one unreachable sample, got %+v", ts.samples)
	}
	if len(gw.updated) != 1 {
		t.Errorf("expected one UpdateDeviceState call, got %d", len(gw.updated))
	}
}

func TestProcessDeviceDownToDownPreservesDownSince(t *testing.T) {
	original := time.Now().Add(-time.Hour)
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.6", DownSince: &original}
	p := &fakeProber{result: prober.ICMPResult{Reachable: false}}
	w := NewPingWorker(p, &fakeTSWriter{}, &fakeStateGateway{}, testThresholds(), nil)

	if err := w.processDevice(context.Background(), d); err != nil {
		t.Fatalf("processDevice: %v", err)
	}
	if d.DownSince == nil || !d.DownSince.Equal(original) {
		t.Errorf("down_since must stay monotonic across consecutive DOWN samples, got %v", d.DownSince)
	}
}

func TestProcessDeviceDownToUpClearsDownSince(t *testing.T) {
	downSince := time.Now().Add(-5 * time.Minute)
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.6", DownSince: &downSince}
	p := &fakeProber{result: prober.ICMPResult{Reachable: true, AvgRTT: 20 * time.Millisecond}}
	w := NewPingWorker(p, &fakeTSWriter{}, &fakeStateGateway{}, testThresholds(), nil)

	if err := w.processDevice(context.Background(), d); err != nil {
		t.Fatalf("processDevice: %v", err)
	}
	if d.DownSince != nil {
		t.Error("expected down_since cleared on DOWN->UP transition")
	}
	if d.LastRTTMillis != 20 {
		t.Errorf("got RTT %v ms, want 20", d.LastRTTMillis)
	}
}

func TestApplyFlappingSetsFlagAfterThreeTransitions(t *testing.T) {
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.6"}
	w := NewPingWorker(&fakeProber{}, &fakeTSWriter{}, &fakeStateGateway{}, testThresholds(), nil)
	now := time.Now()

	for i := 0; i < 3; i++ {
		d.PushStatusChange(now.Add(time.Duration(i) * time.Second))
	}
	w.applyFlapping(d, now)
	if !d.IsFlapping {
		t.Error("expected is_flapping after 3 transitions within the window")
	}
}

func TestApplyFlappingClearsBelowThreshold(t *testing.T) {
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.6", IsFlapping: true}
	w := NewPingWorker(&fakeProber{}, &fakeTSWriter{}, &fakeStateGateway{}, testThresholds(), nil)
	now := time.Now()
	d.PushStatusChange(now.Add(-10 * time.Minute)) // outside the 5-minute window

	w.applyFlapping(d, now)
	if d.IsFlapping {
		t.Error("expected is_flapping cleared once transitions fall below clear threshold")
	}
}

func TestApplyFlappingUsesStricterISPThreshold(t *testing.T) {
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.5"} // ISP link
	w := NewPingWorker(&fakeProber{}, &fakeTSWriter{}, &fakeStateGateway{}, testThresholds(), nil)
	now := time.Now()
	d.PushStatusChange(now.Add(-1 * time.Second))
	d.PushStatusChange(now)

	w.applyFlapping(d, now)
	if !d.IsFlapping {
		t.Error("expected ISP link to flap at its lower 2-transition threshold")
	}
}

func TestProcessDevicePublishesOnTransition(t *testing.T) {
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.6"}
	p := &fakeProber{result: prober.ICMPResult{Reachable: false}}
	pub := &fakePublisher{}
	w := NewPingWorker(p, &fakeTSWriter{}, &fakeStateGateway{}, testThresholds(), pub)

	if err := w.processDevice(context.Background(), d); err != nil {
		t.Fatalf("processDevice: %v", err)
	}
	if len(pub.changes) != 1 {
		t.Fatalf("got %d published changes, want 1", len(pub.changes))
	}
	if pub.changes[0].OldStatus != "up" || pub.changes[0].NewStatus != "down" {
		t.Errorf("got %+v, want up->down", pub.changes[0])
	}
}

func TestProcessDeviceDoesNotPublishWithoutTransition(t *testing.T) {
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.6"}
	p := &fakeProber{result: prober.ICMPResult{Reachable: true, AvgRTT: 5 * time.Millisecond}}
	pub := &fakePublisher{}
	w := NewPingWorker(p, &fakeTSWriter{}, &fakeStateGateway{}, testThresholds(), pub)

	if err := w.processDevice(context.Background(), d); err != nil {
		t.Fatalf("processDevice: %v", err)
	}
	if len(pub.changes) != 0 {
		t.Errorf("got %d published changes, want 0 for a stable UP device", len(pub.changes))
	}
}
