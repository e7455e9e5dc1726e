// Package dispatcher batches enabled devices into right-sized work
// units and publishes them, alongside alert-evaluation and
// maintenance triggers, onto four strictly-prioritized queues (spec
// §2 data flow: "alerts > ping > snmp > maintenance"). A single
// worker pool drains them one task at a time (prefetch = 1, spec §5)
// so a running low-priority task never starves a higher-priority
// queue behind it. Batch sizing is grounded on original_source's
// tasks_batch_scalable.py/tasks_batch.py auto-scaling formula; the
// channel/worker-pool shape follows the teacher's
// internal/discovery/scanner.go.
package dispatcher

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/config"
	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/models"
)

// TaskKind orders which lane a task is drained from first. Lower
// values drain first; the zero value is the highest priority so a
// strict top-to-bottom scan in Dequeue implements the ordering.
type TaskKind int

const (
	TaskAlerts      TaskKind = iota // evaluate + resolve alerts, never delayed
	TaskPing                        // ICMP reachability batch
	TaskSNMP                        // interface counter batch
	TaskMaintenance                 // cleanup/housekeeping sweep
	taskKindCount
)

func (k TaskKind) String() string {
	switch k {
	case TaskAlerts:
		return "alerts"
	case TaskPing:
		return "ping"
	case TaskSNMP:
		return "snmp"
	case TaskMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Task is one unit of work on a lane. Devices is populated for
// TaskPing/TaskSNMP batches and empty for the single-shot
// TaskAlerts/TaskMaintenance triggers.
type Task struct {
	Kind    TaskKind
	Devices []*models.Device
}

// Batch is the device-batch view of a Task, the shape PingWorker and
// SNMPWorker process.
type Batch struct {
	Devices []*models.Device
}

// DropCounter records a dropped task, narrowed from
// telemetry.Metrics.BatchesDropped (a prometheus.Counter) so this
// package doesn't need to import telemetry.
type DropCounter interface {
	Inc()
}

// Dispatcher owns the four priority channels the worker pool drains
// from.
type Dispatcher struct {
	cfg    config.BatchConfig
	queues [taskKindCount]chan Task
	drops  DropCounter // nil is fine: drops just go unrecorded
	log    zerolog.Logger
}

// New builds a Dispatcher with one buffered channel per priority lane,
// each sized to cfg.QueueCapacity.
func New(cfg config.BatchConfig) *Dispatcher {
	d := &Dispatcher{cfg: cfg, log: logger.Component("dispatcher")}
	for i := range d.queues {
		d.queues[i] = make(chan Task, cfg.QueueCapacity)
	}
	return d
}

// SetDropCounter wires a telemetry counter that tracks tasks dropped
// because a lane was full. Optional: skip it and drops just log.
func (d *Dispatcher) SetDropCounter(c DropCounter) {
	d.drops = c
}

// OptimalBatchSize implements calculate_optimal_batch_size: aim for a
// fixed number of batches (cfg.TargetBatches) regardless of device
// count, rounding up to the next multiple of cfg.RoundTo and clamping to
// [cfg.MinSize, cfg.MaxSize].
func (d *Dispatcher) OptimalBatchSize(deviceCount int) int {
	if deviceCount == 0 {
		return d.cfg.MinSize
	}
	size := int(math.Ceil(float64(deviceCount) / float64(d.cfg.TargetBatches)))
	size = int(math.Ceil(float64(size)/float64(d.cfg.RoundTo))) * d.cfg.RoundTo
	if size < d.cfg.MinSize {
		size = d.cfg.MinSize
	}
	if size > d.cfg.MaxSize {
		size = d.cfg.MaxSize
	}
	return size
}

// EnqueuePing splits devices into optimally-sized batches and queues
// them on the ping lane. Every enabled device appears in exactly one
// batch per call.
func (d *Dispatcher) EnqueuePing(devices []*models.Device) {
	d.enqueueBatches(TaskPing, devices)
}

// EnqueueSNMP splits devices into optimally-sized batches and queues
// them on the snmp lane.
func (d *Dispatcher) EnqueueSNMP(devices []*models.Device) {
	d.enqueueBatches(TaskSNMP, devices)
}

// EnqueueAlerts queues a single alert-evaluation trigger on the
// highest-priority lane.
func (d *Dispatcher) EnqueueAlerts() {
	d.push(Task{Kind: TaskAlerts})
}

// EnqueueMaintenance queues a single housekeeping trigger on the
// lowest-priority lane.
func (d *Dispatcher) EnqueueMaintenance() {
	d.push(Task{Kind: TaskMaintenance})
}

func (d *Dispatcher) enqueueBatches(kind TaskKind, devices []*models.Device) {
	if len(devices) == 0 {
		return
	}
	batchSize := d.OptimalBatchSize(len(devices))
	queued := 0
	for i := 0; i < len(devices); i += batchSize {
		end := i + batchSize
		if end > len(devices) {
			end = len(devices)
		}
		if d.push(Task{Kind: kind, Devices: devices[i:end]}) {
			queued++
		}
	}
	d.log.Debug().Str("kind", kind.String()).Int("devices", len(devices)).Int("batches", queued).
		Msg("enqueued device batches")
}

// push is the single non-blocking enqueue point. Per spec §5, queues
// are bounded and never block the scheduler: a task that finds its
// lane full is dropped (not the whole cycle) and recorded via the
// drop counter, rather than waiting for room.
func (d *Dispatcher) push(t Task) bool {
	select {
	case d.queues[t.Kind] <- t:
		return true
	default:
		if d.drops != nil {
			d.drops.Inc()
		}
		d.log.Warn().Str("kind", t.Kind.String()).Int("devices", len(t.Devices)).
			Msg("lane full, dropping newest task")
		return false
	}
}

// Dequeue drains the highest-priority non-empty lane, falling back to
// lower-priority lanes only when higher ones are empty, and blocking
// across all lanes when every one is empty. Callers are expected to
// fully process the returned task before dequeuing again (prefetch =
// 1), so a long-running low-priority task never blocks a
// higher-priority one behind it in this dispatcher.
func (d *Dispatcher) Dequeue(ctx context.Context) (Task, bool) {
	for {
		for k := TaskKind(0); k < taskKindCount; k++ {
			select {
			case t := <-d.queues[k]:
				return t, true
			default:
			}
		}

		select {
		case t := <-d.queues[TaskAlerts]:
			return t, true
		case t := <-d.queues[TaskPing]:
			return t, true
		case t := <-d.queues[TaskSNMP]:
			return t, true
		case t := <-d.queues[TaskMaintenance]:
			return t, true
		case <-ctx.Done():
			return Task{}, false
		}
	}
}

// QueueDepths reports the current backlog per lane, used by the
// telemetry package's queue-depth gauge.
func (d *Dispatcher) QueueDepths() map[string]int {
	depths := make(map[string]int, taskKindCount)
	for k := TaskKind(0); k < taskKindCount; k++ {
		depths[k.String()] = len(d.queues[k])
	}
	return depths
}
