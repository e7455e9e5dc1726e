package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/dispatcher"
	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/store"
)

// IF-MIB 64-bit counter and status OIDs (§4.H/§4.K), matching
// original_source's snmp/oids.py UNIVERSAL_OIDS table, narrowed to the
// ifXTable/ifTable columns the interface metrics pipeline needs.
const (
	oidSysObjectID    = "1.3.6.1.2.1.1.2.0"
	oidIfHCInOctets   = "1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCOutOctets  = "1.3.6.1.2.1.31.1.1.1.10"
	oidIfHCInUcast    = "1.3.6.1.2.1.31.1.1.1.7"
	oidIfHCOutUcast   = "1.3.6.1.2.1.31.1.1.1.11"
	oidIfInErrors     = "1.3.6.1.2.1.2.2.1.14"
	oidIfOutErrors    = "1.3.6.1.2.1.2.2.1.20"
	oidIfInDiscards   = "1.3.6.1.2.1.2.2.1.13"
	oidIfOutDiscards  = "1.3.6.1.2.1.2.2.1.19"
	oidIfOperStatusH  = "1.3.6.1.2.1.2.2.1.8"
)

// counterOIDNames pairs each table column with the metric name it is
// shipped to the TS store under.
var counterOIDNames = []struct {
	oid    string
	metric string
}{
	{oidIfHCInOctets, "if_in_octets"},
	{oidIfHCOutOctets, "if_out_octets"},
	{oidIfHCInUcast, "if_in_ucast_pkts"},
	{oidIfHCOutUcast, "if_out_ucast_pkts"},
	{oidIfInErrors, "if_in_errors"},
	{oidIfOutErrors, "if_out_errors"},
	{oidIfInDiscards, "if_in_discards"},
	{oidIfOutDiscards, "if_out_discards"},
	{oidIfOperStatusH, "if_oper_status"},
}

// vendorDetection maps a sysObjectID prefix to a vendor label, matching
// original_source's oids.py VENDOR_DETECTION table. The detected vendor
// is only reported: matched or not, every device is polled with the
// same universal counterOIDNames set, and no vendor-specific OIDs exist.
var vendorDetection = []struct {
	prefix string
	vendor string
}{
	{"1.3.6.1.4.1.9", "Cisco"},
	{"1.3.6.1.4.1.12356", "Fortinet"},
	{"1.3.6.1.4.1.2636", "Juniper"},
	{"1.3.6.1.4.1.14823", "Aruba"},
	{"1.3.6.1.4.1.11", "HP"},
	{"1.3.6.1.4.1.2011", "Huawei"},
	{"1.3.6.1.4.1.14988", "MikroTik"},
	{"1.3.6.1.4.1.41112", "Ubiquiti"},
	{"1.3.6.1.4.1.8072", "Linux/Net-SNMP"},
}

func detectVendor(sysObjectID string) string {
	for _, v := range vendorDetection {
		if strings.HasPrefix(sysObjectID, v.prefix) {
			return v.vendor
		}
	}
	return "unknown"
}

// SNMPProber is the subset of prober.SNMPProber the SNMP worker needs.
type SNMPProber interface {
	GetSystemInfo(ctx context.Context, d *models.Device) (hostname, sysDescr string, err error)
	GetCounters(ctx context.Context, d *models.Device, oids []string) ([]gosnmp.SnmpPDU, error)
}

// TSBatchWriter is the subset of tsdb.Client the SNMP worker needs.
type TSBatchWriter interface {
	WriteBatch(ctx context.Context, samples []models.Sample) error
}

// SNMPWorker executes an SNMP batch per device: universal MIB-II
// system info plus universal IF-MIB interface counters (the same OIDs
// for every vendor), shipped to the TS
// store as labeled samples (spec §4.H). Grounded on the teacher's
// snmppoller.go plus original_source's oids.py vendor-detection table.
type SNMPWorker struct {
	prober SNMPProber
	ts     TSBatchWriter
	gw     store.Gateway
	log    zerolog.Logger
}

// NewSNMPWorker builds an SNMPWorker.
func NewSNMPWorker(p SNMPProber, ts TSBatchWriter, gw store.Gateway) *SNMPWorker {
	return &SNMPWorker{prober: p, ts: ts, gw: gw, log: logger.Component("snmp-worker")}
}

// ProcessBatch polls every device in the batch, continuing past
// per-device and per-OID failures so one unreachable agent can't stall
// the batch (§4.H: "failures per OID are recorded but do not abort
// the batch").
func (w *SNMPWorker) ProcessBatch(ctx context.Context, batch dispatcher.Batch) {
	for _, d := range batch.Devices {
		if err := w.processDevice(ctx, d); err != nil {
			w.log.Error().Err(err).Str("device_id", d.ID.String()).Str("ip", d.IP).Msg("snmp poll failed")
		}
	}
}

func (w *SNMPWorker) processDevice(ctx context.Context, d *models.Device) error {
	hostname, sysDescr, err := w.prober.GetSystemInfo(ctx, d)
	if err != nil {
		return fmt.Errorf("worker: system info for %s: %w", d.IP, err)
	}
	if hostname != "" {
		d.Hostname = hostname
	}
	d.SysDescr = sysDescr

	ifaces, err := w.gw.ListInterfaces(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("worker: listing interfaces for %s: %w", d.IP, err)
	}

	oids := make([]string, 0, 1+len(ifaces)*len(counterOIDNames))
	oids = append(oids, oidSysObjectID)
	for _, iface := range ifaces {
		for _, c := range counterOIDNames {
			oids = append(oids, fmt.Sprintf("%s.%d", c.oid, iface.IfIndex))
		}
	}

	pdus, err := w.prober.GetCounters(ctx, d, oids)
	if err != nil {
		return fmt.Errorf("worker: getting counters for %s: %w", d.IP, err)
	}

	samples := make([]models.Sample, 0, len(pdus))
	for _, pdu := range pdus {
		name := strings.TrimPrefix(pdu.Name, ".")
		if name == oidSysObjectID {
			if s, ok := pdu.Value.(string); ok {
				d.SysObjectID = s
			} else if b, ok := pdu.Value.([]byte); ok {
				d.SysObjectID = string(b)
			}
			continue
		}

		metric, ifIndex, ok := matchCounterOID(name)
		if !ok {
			continue
		}
		value, ok := toFloat(pdu.Value)
		if !ok {
			continue
		}
		sample := models.NewSample(metric, map[string]string{
			"device_id": d.ID.String(),
			"if_index":  strconv.Itoa(ifIndex),
		}, value, d.LastPingAt)
		samples = append(samples, sample)
	}
	w.log.Debug().Str("ip", d.IP).Str("vendor", detectVendor(d.SysObjectID)).Int("samples", len(samples)).Msg("snmp poll complete")

	if err := w.gw.UpdateDeviceSNMPInfo(ctx, d); err != nil {
		return fmt.Errorf("worker: persisting snmp info for %s: %w", d.IP, err)
	}
	if err := w.ts.WriteBatch(ctx, samples); err != nil {
		w.log.Warn().Err(err).Str("ip", d.IP).Msg("writing counter samples failed, continuing")
	}
	return nil
}

// matchCounterOID checks whether name is one of counterOIDNames with a
// trailing ifIndex and returns its metric name and index.
func matchCounterOID(name string) (metric string, ifIndex int, ok bool) {
	for _, c := range counterOIDNames {
		prefix := c.oid + "."
		if strings.HasPrefix(name, prefix) {
			idx, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
			if err != nil {
				return "", 0, false
			}
			return c.metric, idx, true
		}
	}
	return "", 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
