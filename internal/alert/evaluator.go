// Package alert implements the alert evaluator (spec §4.L): per-tick
// device/interface condition checks, severity-ranked dedup against
// the relational store's unresolved-alert constraint (invariant P3),
// and same-tick auto-resolution (invariant P4). Grounded on
// alert_evaluator_fixed.py, with isp_fault_classifier.py's decision
// table folded in for interface-fault alerts.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/config"
	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/store"
)

// Dedup group names, one per condition kind, matching alert_evaluator_fixed.py's
// named alert rules ("ISP Link Down"/"Device Down", etc).
const (
	GroupDeviceDown    = "device_down"
	GroupFlapping      = "flapping"
	GroupLatency       = "latency"
	GroupPacketLoss    = "packet_loss"
	GroupInterfaceDown = "interface_down"
)

// Evaluator runs one evaluation pass over all enabled devices.
type Evaluator struct {
	gw         store.Gateway
	thresholds config.AlertThresholds
	log        zerolog.Logger

	stats Stats
}

// Stats tracks one evaluation cycle's outcome, mirroring
// evaluate_all_alerts' tracked counters in the original task.
type Stats struct {
	DevicesEvaluated int
	AlertsCreated    int
	AlertsResolved   int
	Errors           int
}

// New builds an Evaluator against the given store gateway.
func New(gw store.Gateway, thresholds config.AlertThresholds) *Evaluator {
	return &Evaluator{gw: gw, thresholds: thresholds, log: logger.Component("alert-evaluator")}
}

// EvaluateAll runs one tick of device alert evaluation in a single pass
// over the enabled devices; each device's conditions are raised and
// auto-resolved together (see evaluateDevice).
func (e *Evaluator) EvaluateAll(ctx context.Context) (Stats, error) {
	e.stats = Stats{}

	devices, err := e.gw.ListEnabledDevices(ctx)
	if err != nil {
		return e.stats, fmt.Errorf("alert: listing devices: %w", err)
	}

	for _, d := range devices {
		e.stats.DevicesEvaluated++
		if err := e.evaluateDevice(ctx, d); err != nil {
			e.stats.Errors++
			e.log.Error().Err(err).Str("device_id", d.ID.String()).Msg("evaluating device alerts failed")
		}
	}

	return e.stats, nil
}

// evaluateDevice evaluates down/flapping/latency/loss conditions for
// one device, then auto-resolves any that no longer hold — all
// within the same tick, satisfying invariant P4.
func (e *Evaluator) evaluateDevice(ctx context.Context, d *models.Device) error {
	isISP := d.IsISPLink()

	if err := e.evalDeviceDown(ctx, d, isISP); err != nil {
		return err
	}
	if err := e.evalFlapping(ctx, d, isISP); err != nil {
		return err
	}
	if err := e.evalLatency(ctx, d, isISP); err != nil {
		return err
	}
	if err := e.evalPacketLoss(ctx, d, isISP); err != nil {
		return err
	}
	return nil
}

// evalDeviceDown raises Device Down once the grace period elapses,
// but a flapping device is exempt per spec §4.G.4: while flapping,
// per-transition UP/DOWN alerts are suppressed in favor of a single
// Device Flapping alert, so a flapping device that happens to be
// DOWN on this tick must not also carry a live Device Down alert.
func (e *Evaluator) evalDeviceDown(ctx context.Context, d *models.Device, isISP bool) error {
	if d.IsFlapping {
		return e.autoResolve(ctx, d, GroupDeviceDown)
	}

	down := d.DownSince != nil &&
		time.Since(*d.DownSince) >= time.Duration(e.thresholds.DeviceDownGraceSecs)*time.Second

	if down {
		name := "Device Down"
		if isISP {
			name = "ISP Link Down"
		}
		return e.raiseOrKeep(ctx, d, GroupDeviceDown, name, models.SeverityCritical,
			fmt.Sprintf("%s has been down since %s", d.IP, d.DownSince.Format(time.RFC3339)))
	}
	return e.autoResolve(ctx, d, GroupDeviceDown)
}

func (e *Evaluator) evalFlapping(ctx context.Context, d *models.Device, isISP bool) error {
	threshold := e.thresholds.FlapThresholdNormal
	if isISP {
		threshold = e.thresholds.FlapThresholdISP
	}
	cutoff := time.Now().Add(-e.thresholds.FlapWindow)
	transitions := d.TransitionsSince(cutoff)

	if transitions >= threshold {
		return e.raiseOrKeep(ctx, d, GroupFlapping, "Link Flapping", models.SeverityHigh,
			fmt.Sprintf("%s transitioned state %d times in the last %s", d.IP, transitions, e.thresholds.FlapWindow))
	}
	if transitions < e.thresholds.FlapClearThreshold {
		return e.autoResolve(ctx, d, GroupFlapping)
	}
	return nil
}

// evalLatency is suppressed while the device is flapping for the
// same reason as evalDeviceDown: a flapping device's per-sample RTT
// is noise, not a latency condition worth its own alert.
func (e *Evaluator) evalLatency(ctx context.Context, d *models.Device, isISP bool) error {
	if d.IsFlapping {
		return e.autoResolve(ctx, d, GroupLatency)
	}

	threshold := e.thresholds.LatencyMsNormal
	name := "High Latency"
	if isISP {
		threshold = e.thresholds.LatencyMsISP
		name = "ISP Link High Latency"
	}

	if d.LastRTTMillis > threshold {
		return e.raiseOrKeep(ctx, d, GroupLatency, name, models.SeverityMedium,
			fmt.Sprintf("%s average RTT %.1fms exceeds threshold %.1fms", d.IP, d.LastRTTMillis, threshold))
	}
	return e.autoResolve(ctx, d, GroupLatency)
}

// evalPacketLoss is suppressed while flapping, same rationale as
// evalLatency.
func (e *Evaluator) evalPacketLoss(ctx context.Context, d *models.Device, isISP bool) error {
	if d.IsFlapping {
		return e.autoResolve(ctx, d, GroupPacketLoss)
	}

	threshold := e.thresholds.LossPctNormal
	name := "High Packet Loss"
	if isISP {
		threshold = e.thresholds.LossPctISP
		name = "ISP Link High Packet Loss"
	}

	if d.LastPacketLoss > threshold {
		return e.raiseOrKeep(ctx, d, GroupPacketLoss, name, models.SeverityMedium,
			fmt.Sprintf("%s packet loss %.1f%% exceeds threshold %.1f%%", d.IP, d.LastPacketLoss, threshold))
	}
	return e.autoResolve(ctx, d, GroupPacketLoss)
}

// EvaluateInterfaceFault runs the ISP fault classifier for a critical
// interface and raises a distinct interface_down alert independent of
// device ping state, per SPEC_FULL's Open Question resolution #3.
func (e *Evaluator) EvaluateInterfaceFault(ctx context.Context, d *models.Device, iface *models.Interface, counters InterfaceCounters) error {
	if !iface.IsMonitoredCritical() {
		return nil
	}

	analysis := ClassifyInterfaceFault(d.IsUp(), iface.OperUp, iface.AdminUp, counters, iface.ISPProvider)

	if !iface.OperUp {
		severity := models.SeverityHigh
		if analysis.Origin == FaultISPSide {
			severity = models.SeverityCritical
		}
		return e.raiseOrKeep(ctx, d, fmt.Sprintf("%s:%d", GroupInterfaceDown, iface.IfIndex),
			fmt.Sprintf("Interface %s Down", iface.IfName), severity, analysis.Reason)
	}
	return e.autoResolve(ctx, d, fmt.Sprintf("%s:%d", GroupInterfaceDown, iface.IfIndex))
}

// raiseOrKeep enforces invariant P3: it only inserts a new alert if no
// unresolved one for this (device, dedup group) exists, relying on
// the store's conditional insert for the race-free guarantee.
func (e *Evaluator) raiseOrKeep(ctx context.Context, d *models.Device, dedupGroup, name string, severity models.Severity, message string) error {
	existing, err := e.gw.GetUnresolvedAlert(ctx, d.ID, dedupGroup)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("alert: checking existing alert: %w", err)
	}
	if existing != nil {
		// Invariant P4: a higher-severity condition replaces a lower one
		// within the same tick rather than stacking a second row.
		if severity.Outranks(existing.Severity) {
			if err := e.gw.ResolveAlert(ctx, existing.ID, time.Now()); err != nil {
				return fmt.Errorf("alert: superseding lower-severity alert: %w", err)
			}
		} else {
			return nil
		}
	}

	a := &models.AlertHistory{
		ID:          uuid.New(),
		DeviceID:    d.ID,
		RuleName:    name,
		DedupGroup:  dedupGroup,
		Severity:    severity,
		Message:     message,
		TriggeredAt: time.Now(),
	}
	created, err := e.gw.InsertAlertIfAbsent(ctx, a)
	if err != nil {
		return fmt.Errorf("alert: inserting alert: %w", err)
	}
	if created {
		e.stats.AlertsCreated++
	}
	return nil
}

// autoResolve closes the unresolved alert for (device, dedupGroup) if
// one exists; "Device Recovered" is resolution-only per SPEC_FULL's
// Open Question resolution #2 — no separate row is created.
func (e *Evaluator) autoResolve(ctx context.Context, d *models.Device, dedupGroup string) error {
	existing, err := e.gw.GetUnresolvedAlert(ctx, d.ID, dedupGroup)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("alert: checking alert to resolve: %w", err)
	}
	if err := e.gw.ResolveAlert(ctx, existing.ID, time.Now()); err != nil {
		return fmt.Errorf("alert: resolving alert: %w", err)
	}
	e.stats.AlertsResolved++
	return nil
}

// CleanupStale resolves any unresolved alert whose owning device is no
// longer enabled, matching cleanup_stale_alerts' hourly consistency
// sweep.
func (e *Evaluator) CleanupStale(ctx context.Context) (int, error) {
	unresolved, err := e.gw.ListUnresolvedAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("alert: listing unresolved alerts: %w", err)
	}

	resolved := 0
	for _, a := range unresolved {
		if _, err := e.gw.GetDevice(ctx, a.DeviceID); err == store.ErrNotFound {
			if err := e.gw.ResolveAlert(ctx, a.ID, time.Now()); err != nil {
				e.log.Error().Err(err).Str("alert_id", a.ID.String()).Msg("failed to resolve stale alert")
				continue
			}
			resolved++
		}
	}
	return resolved, nil
}
