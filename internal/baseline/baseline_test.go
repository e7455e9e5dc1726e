package baseline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/store"
)

type fakeRangeQuerier struct {
	rows []map[string]interface{}
	err  error
}

func (f *fakeRangeQuerier) QueryRange(ctx context.Context, measurement string, tags map[string]string, start, stop time.Time) ([]map[string]interface{}, error) {
	return f.rows, f.err
}

type fakeGateway struct {
	upserted  []*models.InterfaceBaseline
	baselines map[string]*models.InterfaceBaseline
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{baselines: make(map[string]*models.InterfaceBaseline)}
}

func key(id uuid.UUID, hour, dow int) string {
	return fmt.Sprintf("%s-%d-%d", id, hour, dow)
}

func (g *fakeGateway) UpsertInterfaceBaseline(ctx context.Context, b *models.InterfaceBaseline) error {
	g.upserted = append(g.upserted, b)
	g.baselines[key(b.InterfaceID, b.HourOfDay, b.DayOfWeek)] = b
	return nil
}

func (g *fakeGateway) GetInterfaceBaseline(ctx context.Context, interfaceID uuid.UUID, hour, dow int) (*models.InterfaceBaseline, error) {
	if b, ok := g.baselines[key(interfaceID, hour, dow)]; ok {
		return b, nil
	}
	return nil, store.ErrNotFound
}

// pointsOnWeekdayHour builds n weekly samples at the given weekday/hour
// going back one week at a time from asOf, each pair ~1 week apart so
// every sample lands in the same hour/day bucket.
func pointsOnWeekdayHour(asOf time.Time, weekday time.Weekday, hour int, n int, baseValue, step float64) []map[string]interface{} {
	// anchor on the first timestamp at or before asOf matching weekday/hour
	anchor := asOf
	for anchor.Weekday() != weekday || anchor.Hour() != hour {
		anchor = anchor.Add(-time.Hour)
	}

	rows := make([]map[string]interface{}, 0, n+1)
	v := baseValue
	for i := n; i >= 0; i-- {
		t := anchor.AddDate(0, 0, -7*i)
		rows = append(rows, map[string]interface{}{"_time": t, "_value": v})
		v += step
	}
	return rows
}

func TestLearnOneReturnsNilBelowMinSamples(t *testing.T) {
	asOf := time.Now()
	ts := &fakeRangeQuerier{rows: pointsOnWeekdayHour(asOf, time.Monday, 9, 2, 1000, 500)}
	gw := newFakeGateway()
	l := New(ts, gw)

	iface := &models.Interface{ID: uuid.New(), DeviceID: uuid.New(), IfIndex: 1}
	b, err := l.LearnOne(context.Background(), iface, 9, int(time.Monday), 14, asOf)
	if err != nil {
		t.Fatalf("LearnOne: %v", err)
	}
	if b != nil {
		t.Errorf("expected nil baseline with too few samples, got %+v", b)
	}
}

func TestLearnOneComputesStatsWithEnoughSamples(t *testing.T) {
	asOf := time.Now()
	ts := &fakeRangeQuerier{rows: pointsOnWeekdayHour(asOf, time.Monday, 9, 10, 100_000, 3_600_000)}
	gw := newFakeGateway()
	l := New(ts, gw)

	iface := &models.Interface{ID: uuid.New(), DeviceID: uuid.New(), IfIndex: 1}
	b, err := l.LearnOne(context.Background(), iface, 9, int(time.Monday), 14, asOf)
	if err != nil {
		t.Fatalf("LearnOne: %v", err)
	}
	if b == nil {
		t.Fatal("expected a baseline with 10 weekly samples")
	}
	if b.SampleCount != 10 {
		t.Errorf("got sample count %d, want 10", b.SampleCount)
	}
	if b.Confidence <= 0 || b.Confidence > 1 {
		t.Errorf("confidence out of range: %v", b.Confidence)
	}
	if b.MeanInMbps <= 0 {
		t.Errorf("expected positive mean, got %v", b.MeanInMbps)
	}
}

func TestDetectAnomalyNilWhenNoBaseline(t *testing.T) {
	l := New(&fakeRangeQuerier{}, newFakeGateway())
	a, err := l.DetectAnomaly(context.Background(), uuid.New(), 50, 9, 1)
	if err != nil {
		t.Fatalf("DetectAnomaly: %v", err)
	}
	if a != nil {
		t.Errorf("expected nil anomaly with no baseline, got %+v", a)
	}
}

func TestDetectAnomalyFlagsLargeDeviation(t *testing.T) {
	gw := newFakeGateway()
	id := uuid.New()
	gw.baselines[key(id, 9, 1)] = &models.InterfaceBaseline{
		InterfaceID: id, HourOfDay: 9, DayOfWeek: 1,
		MeanInMbps: 100, StddevIn: 10, SampleCount: 20, Confidence: 0.9,
	}
	l := New(&fakeRangeQuerier{}, gw)

	a, err := l.DetectAnomaly(context.Background(), id, 500, 9, 1)
	if err != nil {
		t.Fatalf("DetectAnomaly: %v", err)
	}
	if a == nil || !a.IsAnomaly {
		t.Fatalf("expected an anomaly for a 40-sigma deviation, got %+v", a)
	}
	if a.Severity != "critical" {
		t.Errorf("got severity %q, want critical", a.Severity)
	}
}

func TestDetectAnomalyIgnoresLowConfidenceBaseline(t *testing.T) {
	gw := newFakeGateway()
	id := uuid.New()
	gw.baselines[key(id, 9, 1)] = &models.InterfaceBaseline{
		InterfaceID: id, HourOfDay: 9, DayOfWeek: 1,
		MeanInMbps: 100, StddevIn: 10, SampleCount: 3, Confidence: 0.1,
	}
	l := New(&fakeRangeQuerier{}, gw)

	a, err := l.DetectAnomaly(context.Background(), id, 900, 9, 1)
	if err != nil {
		t.Fatalf("DetectAnomaly: %v", err)
	}
	if a != nil {
		t.Errorf("expected nil anomaly when baseline confidence is below threshold, got %+v", a)
	}
}
