// Package worker implements the per-kind task handlers that Pool
// (pool.go) executes one at a time off the dispatcher's priority
// lanes (spec §4.G/§4.H), driving the teacher's
// panic-recovery-per-goroutine idiom (internal/discovery/scanner.go),
// generalized from a self-ticking per-device loop (pinger.go) to a
// batch-driven pull model.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/changestream"
	"github.com/branchwatch/branchwatch/internal/config"
	"github.com/branchwatch/branchwatch/internal/dispatcher"
	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/prober"
	"github.com/branchwatch/branchwatch/internal/store"
)

// PingTSWriter is the subset of tsdb.Client the ping worker needs,
// narrowed so tests can supply a fake.
type PingTSWriter interface {
	WritePingSample(ctx context.Context, s models.PingSample) error
}

// ICMPProber is the subset of prober.ICMPProber the ping worker needs,
// narrowed so tests can supply a fake instead of sending real ICMP
// echoes.
type ICMPProber interface {
	Probe(ctx context.Context, ip string) (prober.ICMPResult, error)
}

// ChangePublisher is the subset of changestream.Stream the ping worker
// needs to announce a device's reachability transitions (§4.N).
type ChangePublisher interface {
	Publish(change changestream.StatusChange)
}

// PingWorker owns device UP/DOWN state transitions and flapping
// detection, satisfying invariants P1/P2/P5: it is the only component
// that mutates a device's DownSince/IsFlapping/StatusChangeTimes.
type PingWorker struct {
	prober     ICMPProber
	ts         PingTSWriter
	gw         store.Gateway
	thresholds config.AlertThresholds
	publisher  ChangePublisher // nil is fine: transitions are just not announced
	log        zerolog.Logger
}

// NewPingWorker builds a PingWorker bound to its probe, TS sink, and
// store gateway. pub may be nil when no realtime fan-out is wired up.
func NewPingWorker(p ICMPProber, ts PingTSWriter, gw store.Gateway, thresholds config.AlertThresholds, pub ChangePublisher) *PingWorker {
	return &PingWorker{prober: p, ts: ts, gw: gw, thresholds: thresholds, publisher: pub, log: logger.Component("ping-worker")}
}

// ProcessBatch probes every device in the batch and persists its new
// state, continuing past per-device errors so one bad device can't
// stall the batch.
func (w *PingWorker) ProcessBatch(ctx context.Context, batch dispatcher.Batch) {
	for _, d := range batch.Devices {
		if err := w.processDevice(ctx, d); err != nil {
			w.log.Error().Err(err).Str("device_id", d.ID.String()).Str("ip", d.IP).Msg("ping probe failed")
		}
	}
}

func (w *PingWorker) processDevice(ctx context.Context, d *models.Device) error {
	result, probeErr := w.prober.Probe(ctx, d.IP)
	reachable := probeErr == nil && result.Reachable
	now := time.Now()

	wasUp := d.IsUp()
	w.applyTransition(d, reachable, now)
	w.applyFlapping(d, now)
	if wasUp != reachable && w.publisher != nil {
		w.publisher.Publish(changestream.StatusChange{
			DeviceID:  d.ID,
			OldStatus: statusString(wasUp),
			NewStatus: statusString(reachable),
			Timestamp: now,
		})
	}

	d.LastPingAt = now
	d.LastRTTMillis = float64(result.AvgRTT.Microseconds()) / 1000.0
	d.LastPacketLoss = result.PacketLossPct
	if !reachable {
		d.LastRTTMillis = 0
	}

	if err := w.gw.UpdateDeviceState(ctx, d); err != nil {
		return err
	}

	sample := models.PingSample{
		DeviceID:      d.ID.String(),
		DeviceIP:      d.IP,
		Timestamp:     now,
		IsReachable:   reachable,
		AvgRTTMillis:  d.LastRTTMillis,
		PacketLossPct: d.LastPacketLoss,
	}
	return w.ts.WritePingSample(ctx, sample)
}

func statusString(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

// applyTransition implements the spec §3 state machine: UP->DOWN sets
// down_since, DOWN->UP clears it, and DOWN->DOWN leaves down_since
// untouched (invariant P2, the idempotency property that preserves
// outage duration across restarts).
func (w *PingWorker) applyTransition(d *models.Device, reachable bool, now time.Time) {
	prevUp := d.IsUp()
	if prevUp == reachable {
		return
	}
	d.PushStatusChange(now)
	if reachable {
		d.DownSince = nil
	} else {
		t := now
		d.DownSince = &t
	}
}

// applyFlapping implements flapping_detector.py's window/threshold
// rule: FlapThreshold+ transitions in FlapWindow sets is_flapping;
// falling below FlapClearThreshold clears it. ISP-class devices use a
// stricter threshold.
func (w *PingWorker) applyFlapping(d *models.Device, now time.Time) {
	threshold := w.thresholds.FlapThresholdNormal
	if d.IsISPLink() {
		threshold = w.thresholds.FlapThresholdISP
	}
	cutoff := now.Add(-w.thresholds.FlapWindow)
	transitions := d.TransitionsSince(cutoff)
	d.FlapCount = transitions

	switch {
	case transitions >= threshold && !d.IsFlapping:
		d.IsFlapping = true
		t := now
		d.FlappingSince = &t
	case transitions < w.thresholds.FlapClearThreshold && d.IsFlapping:
		d.IsFlapping = false
		d.FlappingSince = nil
	}
}
