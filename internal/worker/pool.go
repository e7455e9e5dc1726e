package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/alert"
	"github.com/branchwatch/branchwatch/internal/dispatcher"
	"github.com/branchwatch/branchwatch/internal/logger"
)

// AlertRunner is the subset of alert.Evaluator the pool needs to run
// the alert and maintenance lanes, narrowed so tests can supply a
// fake.
type AlertRunner interface {
	EvaluateAll(ctx context.Context) (alert.Stats, error)
	CleanupStale(ctx context.Context) (int, error)
}

// AlertMetricsRecorder records alert evaluation outcomes, narrowed
// from telemetry.Metrics so this package doesn't need to import
// telemetry.
type AlertMetricsRecorder interface {
	RecordRaised(group string, n int)
	RecordResolved(group string, n int)
}

// Pool is the single worker pool spec §5 calls for: a fixed number of
// goroutines, each pulling exactly one task at a time (prefetch = 1)
// off the dispatcher's strictly-prioritized lanes, so a task kind
// never starves behind a longer-running lower-priority one. Grounded
// on the teacher's fixed-pool-plus-WaitGroup shutdown shape
// (internal/discovery/scanner.go).
type Pool struct {
	disp    *dispatcher.Dispatcher
	ping    *PingWorker
	snmp    *SNMPWorker
	alert   AlertRunner
	metrics AlertMetricsRecorder // nil is fine: outcomes just go unrecorded
	log     zerolog.Logger
}

// NewPool builds a Pool bound to the dispatcher and the three task
// handlers it dispatches to by kind.
func NewPool(disp *dispatcher.Dispatcher, ping *PingWorker, snmp *SNMPWorker, alert AlertRunner) *Pool {
	return &Pool{disp: disp, ping: ping, snmp: snmp, alert: alert, log: logger.Component("worker-pool")}
}

// SetMetrics wires a telemetry recorder for alert raise/resolve
// counts. Optional: skip it and outcomes are only logged.
func (p *Pool) SetMetrics(m AlertMetricsRecorder) {
	p.metrics = m
}

// Run launches numWorkers goroutines draining the dispatcher until ctx
// is cancelled.
func (p *Pool) Run(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go p.drain(ctx, &wg)
	}
	wg.Wait()
}

func (p *Pool) drain(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("worker pool panic recovered")
		}
	}()

	for {
		task, ok := p.disp.Dequeue(ctx)
		if !ok {
			return
		}
		p.execute(ctx, task)
	}
}

// execute fully processes one task before the goroutine dequeues
// again, which is what gives the dispatcher's strict priority order
// its teeth: a worker never has a second, lower-priority task queued
// up behind the one it's running.
func (p *Pool) execute(ctx context.Context, task dispatcher.Task) {
	switch task.Kind {
	case dispatcher.TaskAlerts:
		stats, err := p.alert.EvaluateAll(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("alert evaluation failed")
			return
		}
		p.log.Debug().Int("devices", stats.DevicesEvaluated).Int("raised", stats.AlertsCreated).
			Int("resolved", stats.AlertsResolved).Msg("alert evaluation complete")
		if p.metrics != nil {
			p.metrics.RecordRaised("all", stats.AlertsCreated)
			p.metrics.RecordResolved("all", stats.AlertsResolved)
		}

	case dispatcher.TaskPing:
		p.ping.ProcessBatch(ctx, dispatcher.Batch{Devices: task.Devices})

	case dispatcher.TaskSNMP:
		p.snmp.ProcessBatch(ctx, dispatcher.Batch{Devices: task.Devices})

	case dispatcher.TaskMaintenance:
		n, err := p.alert.CleanupStale(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("stale alert cleanup failed")
			return
		}
		if n > 0 {
			p.log.Info().Int("cleaned", n).Msg("stale alert cleanup complete")
		}

	default:
		p.log.Warn().Str("kind", task.Kind.String()).Msg("unknown task kind, dropping")
	}
}
