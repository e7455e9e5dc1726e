package alert

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchwatch/branchwatch/internal/config"
	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/store"
)

// fakeGateway is an in-memory store.Gateway stand-in for evaluator
// tests, grounded on the teacher/pack's preference for a small fake
// over a generated mock for single-method-surface test doubles.
type fakeGateway struct {
	devices []*models.Device
	alerts  map[uuid.UUID]*models.AlertHistory
}

func newFakeGateway(devices ...*models.Device) *fakeGateway {
	return &fakeGateway{devices: devices, alerts: map[uuid.UUID]*models.AlertHistory{}}
}

func (f *fakeGateway) Close() {}

func (f *fakeGateway) ListEnabledDevices(ctx context.Context) ([]*models.Device, error) {
	return f.devices, nil
}

func (f *fakeGateway) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeGateway) UpdateDeviceState(ctx context.Context, d *models.Device) error    { return nil }
func (f *fakeGateway) UpdateDeviceSNMPInfo(ctx context.Context, d *models.Device) error { return nil }

func (f *fakeGateway) UpsertInterfaces(ctx context.Context, deviceID uuid.UUID, ifaces []*models.Interface) error {
	return nil
}
func (f *fakeGateway) ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]*models.Interface, error) {
	return nil, nil
}
func (f *fakeGateway) UpdateInterfaceTopology(ctx context.Context, iface *models.Interface) error {
	return nil
}
func (f *fakeGateway) UpsertInterfaceSummary(ctx context.Context, s *models.InterfaceSummary) error {
	return nil
}
func (f *fakeGateway) UpsertInterfaceBaseline(ctx context.Context, b *models.InterfaceBaseline) error {
	return nil
}
func (f *fakeGateway) GetInterfaceBaseline(ctx context.Context, interfaceID uuid.UUID, hour, dow int) (*models.InterfaceBaseline, error) {
	return nil, store.ErrNotFound
}

func (f *fakeGateway) ListAlertRules(ctx context.Context) ([]*models.AlertRule, error) { return nil, nil }

func (f *fakeGateway) GetUnresolvedAlert(ctx context.Context, deviceID uuid.UUID, dedupGroup string) (*models.AlertHistory, error) {
	for _, a := range f.alerts {
		if a.DeviceID == deviceID && a.DedupGroup == dedupGroup && a.IsUnresolved() {
			return a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeGateway) InsertAlertIfAbsent(ctx context.Context, a *models.AlertHistory) (bool, error) {
	if existing, err := f.GetUnresolvedAlert(ctx, a.DeviceID, a.DedupGroup); err == nil && existing != nil {
		return false, nil
	}
	f.alerts[a.ID] = a
	return true, nil
}

func (f *fakeGateway) ResolveAlert(ctx context.Context, id uuid.UUID, resolvedAt time.Time) error {
	if a, ok := f.alerts[id]; ok {
		a.ResolvedAt = &resolvedAt
	}
	return nil
}

func (f *fakeGateway) ListUnresolvedAlerts(ctx context.Context) ([]*models.AlertHistory, error) {
	var out []*models.AlertHistory
	for _, a := range f.alerts {
		if a.IsUnresolved() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeGateway) BulkLatestPing(ctx context.Context, ips []string) (map[string]*models.PingSample, error) {
	return nil, nil
}

func (f *fakeGateway) BulkActiveAlertCount(ctx context.Context, deviceIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	return nil, nil
}

func (f *fakeGateway) GetActiveMonitoringProfile(ctx context.Context) (*models.MonitoringProfile, error) {
	return nil, store.ErrNotFound
}

func (f *fakeGateway) WithTx(ctx context.Context, fn func(tx store.Gateway) error) error {
	return fn(f)
}

func testThresholds() config.AlertThresholds {
	return config.AlertThresholds{
		LatencyMsNormal:     200,
		LatencyMsISP:        100,
		LossPctNormal:       10,
		LossPctISP:          5,
		FlapThresholdNormal: 3,
		FlapThresholdISP:    2,
		FlapWindow:          5 * time.Minute,
		FlapClearThreshold:  2,
		DeviceDownGraceSecs: 10,
	}
}

func TestEvaluateAllRaisesDeviceDown(t *testing.T) {
	downSince := time.Now().Add(-1 * time.Minute)
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.1", Enabled: true, DownSince: &downSince}

	gw := newFakeGateway(d)
	ev := New(gw, testThresholds())

	stats, err := ev.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AlertsCreated)

	alert, err := gw.GetUnresolvedAlert(context.Background(), d.ID, GroupDeviceDown)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
}

func TestEvaluateAllDoesNotDuplicateAlert(t *testing.T) {
	downSince := time.Now().Add(-1 * time.Minute)
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.1", Enabled: true, DownSince: &downSince}
	gw := newFakeGateway(d)
	ev := New(gw, testThresholds())

	_, _ = ev.EvaluateAll(context.Background())
	stats, _ := ev.EvaluateAll(context.Background())
	assert.Equal(t, 0, stats.AlertsCreated, "second tick should not create a duplicate alert (P3)")
}

func TestEvaluateAllAutoResolvesOnRecovery(t *testing.T) {
	downSince := time.Now().Add(-1 * time.Minute)
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.1", Enabled: true, DownSince: &downSince}
	gw := newFakeGateway(d)
	ev := New(gw, testThresholds())

	_, err := ev.EvaluateAll(context.Background())
	require.NoError(t, err)

	d.DownSince = nil // device recovers
	stats, err := ev.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AlertsResolved)
}

func TestEvaluateAllSuppressesDeviceDownWhileFlapping(t *testing.T) {
	downSince := time.Now().Add(-1 * time.Minute)
	now := time.Now()
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.1", Enabled: true, DownSince: &downSince, IsFlapping: true}
	for i := 0; i < 3; i++ {
		d.PushStatusChange(now.Add(time.Duration(i) * time.Second))
	}

	gw := newFakeGateway(d)
	ev := New(gw, testThresholds())

	stats, err := ev.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AlertsCreated, "only the flapping alert should be created, per P5")

	_, err = gw.GetUnresolvedAlert(context.Background(), d.ID, GroupDeviceDown)
	assert.ErrorIs(t, err, store.ErrNotFound, "a flapping-and-down device must not carry a live Device Down alert")

	flapAlert, err := gw.GetUnresolvedAlert(context.Background(), d.ID, GroupFlapping)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, flapAlert.Severity)
}

func TestEvaluateAllResolvesDeviceDownWhenFlappingStarts(t *testing.T) {
	downSince := time.Now().Add(-1 * time.Minute)
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.1", Enabled: true, DownSince: &downSince}
	gw := newFakeGateway(d)
	ev := New(gw, testThresholds())

	_, err := ev.EvaluateAll(context.Background())
	require.NoError(t, err)
	_, err = gw.GetUnresolvedAlert(context.Background(), d.ID, GroupDeviceDown)
	require.NoError(t, err, "device down alert should exist before flapping starts")

	d.IsFlapping = true
	_, err = ev.EvaluateAll(context.Background())
	require.NoError(t, err)
	_, err = gw.GetUnresolvedAlert(context.Background(), d.ID, GroupDeviceDown)
	assert.ErrorIs(t, err, store.ErrNotFound, "device down alert must auto-resolve once flapping starts")
}

func TestEvaluateAllUsesISPThresholds(t *testing.T) {
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.5", Enabled: true, LastRTTMillis: 150}
	gw := newFakeGateway(d)
	ev := New(gw, testThresholds())

	stats, err := ev.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AlertsCreated, "150ms should breach the ISP 100ms threshold even though it's below the normal 200ms threshold")
}
