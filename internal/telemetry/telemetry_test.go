package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistersAllCollectorsWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	if m.BatchesDropped == nil {
		t.Fatal("expected BatchesDropped to be constructed")
	}
}

func TestObserveQueueDepthsSetsGaugeByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveQueueDepths(map[string]int{"critical": 3, "low": 0})

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "branchwatch_dispatcher_queue_depth" {
			continue
		}
		found = true
		for _, metric := range mf.GetMetric() {
			if labelValue(metric, "priority") == "critical" && metric.GetGauge().GetValue() != 3 {
				t.Errorf("got critical depth %v, want 3", metric.GetGauge().GetValue())
			}
		}
	}
	if !found {
		t.Fatal("expected branchwatch_dispatcher_queue_depth metric family")
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}
