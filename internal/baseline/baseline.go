// Package baseline learns per-(interface, hour-of-day, day-of-week)
// traffic baselines and flags deviations via z-score (spec §4.M).
// Grounded on original_source's baseline_learning.py
// (learn_interface_baseline/detect_anomaly/_calculate_severity), whose
// VictoriaMetrics rate()/avg_over_time() queries are reimplemented here
// as Go-side statistics over tsdb.Client's raw range rows.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/store"
)

const (
	minSamples          = 7  // fewer than a week of hourly samples is not a baseline
	zScoreThreshold     = 3.0
	confidenceFullAt    = 28.0 // four weeks of samples reaches full confidence
	confidenceMinToUse  = 0.5
	defaultLookbackDays = 14
	metricInOctets      = "if_in_octets"
)

// RangeQuerier is the subset of tsdb.Client the learner needs.
type RangeQuerier interface {
	QueryRange(ctx context.Context, measurement string, tags map[string]string, start, stop time.Time) ([]map[string]interface{}, error)
}

// Gateway is the subset of store.Gateway the baseline package needs.
type Gateway interface {
	UpsertInterfaceBaseline(ctx context.Context, b *models.InterfaceBaseline) error
	GetInterfaceBaseline(ctx context.Context, interfaceID uuid.UUID, hour, dow int) (*models.InterfaceBaseline, error)
}

// Anomaly is the result of comparing a live value to its learned
// baseline.
type Anomaly struct {
	IsAnomaly    bool
	CurrentMbps  float64
	ExpectedMbps float64
	ZScore       float64
	Severity     string // low, medium, high, critical
	Message      string
}

// Learner learns hourly/day-of-week baselines and scores live samples
// against them.
type Learner struct {
	ts  RangeQuerier
	gw  Gateway
	log zerolog.Logger
}

// New builds a Learner.
func New(ts RangeQuerier, gw Gateway) *Learner {
	return &Learner{ts: ts, gw: gw, log: logger.Component("baseline")}
}

// LearnOne learns the (interfaceID, hourOfDay, dayOfWeek) baseline cell
// over the lookbackDays window ending at asOf. It returns (nil, nil)
// when there isn't enough history yet — that is a normal, not an error,
// state for a freshly discovered interface.
func (l *Learner) LearnOne(ctx context.Context, iface *models.Interface, hourOfDay, dayOfWeek, lookbackDays int, asOf time.Time) (*models.InterfaceBaseline, error) {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	start := asOf.AddDate(0, 0, -lookbackDays)

	rows, err := l.ts.QueryRange(ctx, metricInOctets, map[string]string{
		"device_id": iface.DeviceID.String(),
		"if_index":  fmt.Sprintf("%d", iface.IfIndex),
	}, start, asOf)
	if err != nil {
		return nil, fmt.Errorf("baseline: querying %s for interface %s: %w", metricInOctets, iface.ID, err)
	}

	points := toPoints(rows)
	sort.Slice(points, func(i, j int) bool { return points[i].t.Before(points[j].t) })

	samples := bucketedRatesMbps(points, hourOfDay, dayOfWeek)
	if len(samples) < minSamples {
		l.log.Debug().Str("interface_id", iface.ID.String()).Int("hour", hourOfDay).Int("dow", dayOfWeek).
			Int("samples", len(samples)).Msg("insufficient samples for baseline")
		return nil, nil
	}

	mean, stddev := meanStddev(samples)
	return &models.InterfaceBaseline{
		InterfaceID: iface.ID,
		HourOfDay:   hourOfDay,
		DayOfWeek:   dayOfWeek,
		MeanInMbps:  mean,
		StddevIn:    stddev,
		MinInMbps:   minOf(samples),
		MaxInMbps:   maxOf(samples),
		SampleCount: len(samples),
		Confidence:  math.Min(float64(len(samples))/confidenceFullAt, 1.0),
	}, nil
}

// UpdateAll relearns every hour/day-of-week cell for each critical
// interface, continuing past per-interface and per-cell failures.
func (l *Learner) UpdateAll(ctx context.Context, ifaces []*models.Interface, lookbackDays int, asOf time.Time) {
	var updated, skipped int
	for _, iface := range ifaces {
		if !iface.IsMonitoredCritical() {
			continue
		}
		for hour := 0; hour < 24; hour++ {
			for dow := 0; dow < 7; dow++ {
				b, err := l.LearnOne(ctx, iface, hour, dow, lookbackDays, asOf)
				if err != nil {
					l.log.Error().Err(err).Str("interface_id", iface.ID.String()).Msg("baseline learning failed")
					continue
				}
				if b == nil {
					skipped++
					continue
				}
				if err := l.gw.UpsertInterfaceBaseline(ctx, b); err != nil {
					l.log.Error().Err(err).Str("interface_id", iface.ID.String()).Msg("baseline upsert failed")
					continue
				}
				updated++
			}
		}
	}
	l.log.Info().Int("updated", updated).Int("skipped", skipped).Int("interfaces", len(ifaces)).
		Msg("baseline learning pass complete")
}

// DetectAnomaly compares currentMbps against the learned baseline for
// (interfaceID, hourOfDay, dayOfWeek). It returns (nil, nil) when no
// baseline exists yet or its confidence is too low to act on.
func (l *Learner) DetectAnomaly(ctx context.Context, interfaceID uuid.UUID, currentMbps float64, hourOfDay, dayOfWeek int) (*Anomaly, error) {
	b, err := l.gw.GetInterfaceBaseline(ctx, interfaceID, hourOfDay, dayOfWeek)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("baseline: loading baseline for interface %s: %w", interfaceID, err)
	}
	if b.Confidence < confidenceMinToUse {
		return nil, nil
	}

	var zScore float64
	switch {
	case b.StddevIn > 0:
		zScore = (currentMbps - b.MeanInMbps) / b.StddevIn
	case currentMbps == b.MeanInMbps:
		zScore = 0
	default:
		zScore = math.Inf(1)
		if currentMbps < b.MeanInMbps {
			zScore = math.Inf(-1)
		}
	}

	severity := severityFor(math.Abs(zScore))
	direction := "higher"
	if zScore < 0 {
		direction = "lower"
	}

	return &Anomaly{
		IsAnomaly:    math.Abs(zScore) > zScoreThreshold,
		CurrentMbps:  currentMbps,
		ExpectedMbps: b.MeanInMbps,
		ZScore:       zScore,
		Severity:     severity,
		Message: fmt.Sprintf("traffic %s than expected: %.2f Mbps (expected %.2f ± %.2f Mbps, z-score %.2f)",
			direction, currentMbps, b.MeanInMbps, b.StddevIn, zScore),
	}, nil
}

func severityFor(absZScore float64) string {
	switch {
	case absZScore >= 5.0:
		return "critical"
	case absZScore >= 4.0:
		return "high"
	case absZScore >= 3.0:
		return "medium"
	default:
		return "low"
	}
}

type point struct {
	t time.Time
	v float64
}

func toPoints(rows []map[string]interface{}) []point {
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
	return points
}

// bucketedRatesMbps converts a counter series into per-interval rates
// (Mbps), keeping only the rates whose later sample falls in the given
// hour-of-day/day-of-week bucket.
func bucketedRatesMbps(points []point, hourOfDay, dayOfWeek int) []float64 {
	var out []float64
	for i := 1; i < len(points); i++ {
		dt := points[i].t.Sub(points[i-1].t).Seconds()
		if dt <= 0 {
			continue
		}
		if int(points[i].t.Weekday()) != dayOfWeek || points[i].t.Hour() != hourOfDay {
			continue
		}
		dv := points[i].v - points[i-1].v
		if dv < 0 {
			continue // counter reset
		}
		bytesPerSec := dv / dt
		out = append(out, bytesPerSec*8/1_000_000)
	}
	return out
}

func meanStddev(vs []float64) (mean, stddev float64) {
	n := float64(len(vs))
	for _, v := range vs {
		mean += v
	}
	mean /= n
	if len(vs) < 2 {
		return mean, 0
	}
	var sumSq float64
	for _, v := range vs {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / (n - 1))
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
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
