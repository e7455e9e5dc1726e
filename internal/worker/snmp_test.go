package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/gosnmp/gosnmp"

	"github.com/branchwatch/branchwatch/internal/models"
)

type fakeSNMPProber struct {
	hostname, sysDescr string
	pdus               []gosnmp.SnmpPDU
	err                error
}

func (f *fakeSNMPProber) GetSystemInfo(ctx context.Context, d *models.Device) (string, string, error) {
	return f.hostname, f.sysDescr, f.err
}

func (f *fakeSNMPProber) GetCounters(ctx context.Context, d *models.Device, oids []string) ([]gosnmp.SnmpPDU, error) {
	return f.pdus, f.err
}

type fakeBatchWriter struct {
	samples []models.Sample
}

func (f *fakeBatchWriter) WriteBatch(ctx context.Context, samples []models.Sample) error {
	f.samples = append(f.samples, samples...)
	return nil
}

func TestDetectVendorMatchesCiscoPrefix(t *testing.T) {
	if got := detectVendor("1.3.6.1.4.1.9.1.516"); got != "Cisco" {
		t.Errorf("got %q, want Cisco", got)
	}
}

func TestDetectVendorUnknownPrefixFallsBack(t *testing.T) {
	if got := detectVendor("1.3.6.1.4.1.99999.1"); got != "unknown" {
		t.Errorf("got %q, want unknown", got)
	}
}

func TestProcessDeviceParsesCountersAndSysObjectID(t *testing.T) {
	d := &models.Device{ID: uuid.New(), IP: "10.0.0.6"}
	gw := &fakeStateGateway{}
	gw2 := &interfaceListGateway{fakeStateGateway: gw, ifaces: []*models.Interface{{IfIndex: 1}}}

	prober := &fakeSNMPProber{
		hostname: "core-switch-1",
		sysDescr: "Cisco IOS",
		pdus: []gosnmp.SnmpPDU{
			{Name: "." + oidSysObjectID, Type: gosnmp.OctetString, Value: []byte("1.3.6.1.4.1.9.1.516")},
			{Name: "." + oidIfHCInOctets + ".1", Type: gosnmp.Counter64, Value: uint64(12345)},
			{Name: "." + oidIfOperStatusH + ".1", Type: gosnmp.Integer, Value: 1},
		},
	}
	ts := &fakeBatchWriter{}

	w := NewSNMPWorker(prober, ts, gw2)
	if err := w.processDevice(context.Background(), d); err != nil {
		t.Fatalf("processDevice: %v", err)
	}

	if d.Hostname != "core-switch-1" {
		t.Errorf("got hostname %q", d.Hostname)
	}
	if d.SysObjectID != "1.3.6.1.4.1.9.1.516" {
		t.Errorf("got sysObjectID %q", d.SysObjectID)
	}
	if len(ts.samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(ts.samples))
	}
	if len(gw.updated) != 0 {
		t.Errorf("snmp worker must not call UpdateDeviceState")
	}
}

// interfaceListGateway layers a fixed interface list on top of
// fakeStateGateway so the SNMP worker test can exercise the counter
// OID construction without a real store.
type interfaceListGateway struct {
	*fakeStateGateway
	ifaces []*models.Interface
}

func (g *interfaceListGateway) ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]*models.Interface, error) {
	return g.ifaces, nil
}

func (g *interfaceListGateway) UpdateDeviceSNMPInfo(ctx context.Context, d *models.Device) error {
	return nil
}
