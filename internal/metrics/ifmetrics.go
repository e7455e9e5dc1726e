// Package metrics computes the per-interface 24h summary rollup (spec
// §4.K): raw 64-bit counters already land in the TS store via the SNMP
// worker; this package queries them back, derives rates and window
// aggregates, and caches the result in a per-interface summary row.
// Grounded on original_source's interface_metrics.py
// (calculate_interface_rates/update_interface_metrics_summary), whose
// rate()/increase() VictoriaMetrics queries are reimplemented here as
// plain Go arithmetic over tsdb.Client's raw range rows, since the
// project's TS store is InfluxDB rather than Prometheus-compatible.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/models"
)

const (
	metricInOctets    = "if_in_octets"
	metricOutOctets   = "if_out_octets"
	metricInErrors    = "if_in_errors"
	metricOutErrors   = "if_out_errors"
	metricInDiscards  = "if_in_discards"
	metricOutDiscards = "if_out_discards"
)

// RangeQuerier is the subset of tsdb.Client the collector needs.
type RangeQuerier interface {
	QueryRange(ctx context.Context, measurement string, tags map[string]string, start, stop time.Time) ([]map[string]interface{}, error)
}

// SummaryGateway is the subset of store.Gateway the collector needs.
type SummaryGateway interface {
	UpsertInterfaceSummary(ctx context.Context, s *models.InterfaceSummary) error
}

// Collector recomputes and caches interface summary rows on its own
// scheduler cadence (config.Cadences.InterfaceSummary).
type Collector struct {
	ts  RangeQuerier
	gw  SummaryGateway
	log zerolog.Logger
}

// New builds a Collector.
func New(ts RangeQuerier, gw SummaryGateway) *Collector {
	return &Collector{ts: ts, gw: gw, log: logger.Component("ifmetrics")}
}

// resolution picks the query step implied by the requested lookback,
// per spec §4.K: <=24h -> 5m, <=7d -> 15m, else 1h. The step is
// informational here (tsdb stores raw points, no server-side
// downsampling); it documents the aggregation granularity the caller
// should assume when interpreting the resulting rates.
func resolution(lookback time.Duration) time.Duration {
	switch {
	case lookback <= 24*time.Hour:
		return 5 * time.Minute
	case lookback <= 7*24*time.Hour:
		return 15 * time.Minute
	default:
		return time.Hour
	}
}

// CollectAll recomputes the summary row for every interface, continuing
// past per-interface failures so one bad series doesn't block the rest.
func (c *Collector) CollectAll(ctx context.Context, ifaces []*models.Interface, now time.Time, lookback time.Duration) {
	for _, iface := range ifaces {
		if err := c.CollectOne(ctx, iface, now, lookback); err != nil {
			c.log.Error().Err(err).Str("interface_id", iface.ID.String()).Int("if_index", iface.IfIndex).
				Msg("interface summary rollup failed")
		}
	}
}

// CollectOne queries the lookback window for iface's counters, derives
// rate/aggregate fields, and upserts the resulting InterfaceSummary row.
func (c *Collector) CollectOne(ctx context.Context, iface *models.Interface, now time.Time, lookback time.Duration) error {
	start := now.Add(-lookback)
	tags := map[string]string{
		"device_id": iface.DeviceID.String(),
		"if_index":  fmt.Sprintf("%d", iface.IfIndex),
	}
	c.log.Debug().Str("interface_id", iface.ID.String()).Dur("lookback", lookback).
		Dur("step", resolution(lookback)).Msg("recomputing interface summary")

	inOctets, err := c.series(ctx, metricInOctets, tags, start, now)
	if err != nil {
		return err
	}
	outOctets, err := c.series(ctx, metricOutOctets, tags, start, now)
	if err != nil {
		return err
	}
	inErrors, err := c.series(ctx, metricInErrors, tags, start, now)
	if err != nil {
		return err
	}
	outErrors, err := c.series(ctx, metricOutErrors, tags, start, now)
	if err != nil {
		return err
	}
	inDiscards, err := c.series(ctx, metricInDiscards, tags, start, now)
	if err != nil {
		return err
	}
	outDiscards, err := c.series(ctx, metricOutDiscards, tags, start, now)
	if err != nil {
		return err
	}

	inRates := rates(inOctets)
	outRates := rates(outOctets)

	summary := &models.InterfaceSummary{
		InterfaceID:  iface.ID,
		AvgInMbps:    bitsPerSecToMbps(avg(inRates)),
		MaxOutMbps:   bitsPerSecToMbps(max(outRates)),
		TotalGB:      bytesToGB(increase(inOctets) + increase(outOctets)),
		ErrorCount:   int64(increase(inErrors) + increase(outErrors)),
		DiscardCount: int64(increase(inDiscards) + increase(outDiscards)),
		UpdatedAt:    now,
	}

	if err := c.gw.UpsertInterfaceSummary(ctx, summary); err != nil {
		return fmt.Errorf("ifmetrics: upserting summary for interface %s: %w", iface.ID, err)
	}
	return nil
}

// point is one (timestamp, counter value) sample pulled from the TS
// store.
type point struct {
	t time.Time
	v float64
}

func (c *Collector) series(ctx context.Context, metric string, tags map[string]string, start, stop time.Time) ([]point, error) {
	rows, err := c.ts.QueryRange(ctx, metric, tags, start, stop)
	if err != nil {
		return nil, fmt.Errorf("ifmetrics: querying %s: %w", metric, err)
	}

	points := make([]point, 0, len(rows))
	for _, row := range rows {
		t, ok := row["_time"].(time.Time)
		if !ok {
			continue
		}
		v, ok := toFloat(row["_value"])
		if !ok {
			continue
		}
		points = append(points, point{t: t, v: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].t.Before(points[j].t) })
	return points, nil
}

// rates converts a counter series into a per-sample-interval rate
// series (units/sec). A counter reset (value drops below the prior
// sample) is treated as a zero-rate interval rather than a negative
// rate or a wraparound estimate.
func rates(points []point) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		dt := points[i].t.Sub(points[i-1].t).Seconds()
		if dt <= 0 {
			continue
		}
		dv := points[i].v - points[i-1].v
		if dv < 0 {
			dv = 0
		}
		out = append(out, dv/dt)
	}
	return out
}

// increase sums the non-negative deltas across a counter series,
// mirroring Flux/PromQL's increase() while tolerating counter resets
// by skipping the reset interval instead of producing a negative total.
func increase(points []point) float64 {
	if len(points) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(points); i++ {
		dv := points[i].v - points[i-1].v
		if dv > 0 {
			total += dv
		}
	}
	return total
}

func avg(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func max(vs []float64) float64 {
	var m float64
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

func bitsPerSecToMbps(bytesPerSec float64) float64 {
	return bytesPerSec * 8 / 1_000_000
}

func bytesToGB(b float64) float64 {
	return b / 1_000_000_000
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
