// Command branchwatch is the monitoring engine's entry point: it wires
// the relational store, TS store, probers, dispatcher, shared worker pool,
// alert evaluator, baseline learner, interface metrics collector,
// change-stream fan-out, cache, and scheduler together, then serves
// health and metrics over HTTP until a shutdown signal arrives.
// Grounded on the teacher's cmd/netscan/main.go orchestration: flag
// parsing, signal handling, and a startPinger-style goroutine for the
// one worker pool, generalized from two discovery tickers to the
// scheduler's registered-cadence model.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/branchwatch/branchwatch/internal/alert"
	"github.com/branchwatch/branchwatch/internal/baseline"
	"github.com/branchwatch/branchwatch/internal/cache"
	"github.com/branchwatch/branchwatch/internal/changestream"
	"github.com/branchwatch/branchwatch/internal/config"
	"github.com/branchwatch/branchwatch/internal/cryptutil"
	"github.com/branchwatch/branchwatch/internal/dispatcher"
	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/metrics"
	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/prober"
	"github.com/branchwatch/branchwatch/internal/scheduler"
	"github.com/branchwatch/branchwatch/internal/store"
	"github.com/branchwatch/branchwatch/internal/telemetry"
	"github.com/branchwatch/branchwatch/internal/tsdb"
	"github.com/branchwatch/branchwatch/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger.Setup(*debug)
	log.Info().Str("config", *configPath).Msg("branchwatch starting up")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if warning, err := config.ValidateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	} else if warning != "" {
		log.Warn().Str("warning", warning).Msg("configuration warning")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	box, err := cryptutil.NewBox(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential box")
	}

	gw, err := store.New(ctx, cfg.Store.URL, cfg.Store.MaxConns, cfg.Store.ConnectTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to relational store")
	}
	defer gw.Close()

	ts := tsdb.New(cfg.TSDB.URL, cfg.TSDB.Token, cfg.TSDB.Org, cfg.TSDB.Bucket, cfg.TSDB.HTTPTimeout, cfg.TSDB.MaxRetries)
	defer ts.Close()

	icmpProber := prober.NewICMPProber(cfg.Probe.ICMPCount, cfg.Probe.ICMPInterval, cfg.Probe.ICMPTimeout, cfg.Probe.ICMPConcurrency)
	snmpProber := prober.NewSNMPProber(cfg.Probe.SNMPTimeout, cfg.Probe.SNMPRetries, cfg.Probe.SNMPConcurrency, box)

	changeStream := changestream.New(256)
	disp := dispatcher.New(cfg.Batch)

	pingWorker := worker.NewPingWorker(icmpProber, ts, gw, cfg.AlertThresholds, changeStream)
	snmpWorker := worker.NewSNMPWorker(snmpProber, ts, gw)
	evaluator := alert.New(gw, cfg.AlertThresholds)
	pool := worker.NewPool(disp, pingWorker, snmpWorker, evaluator)

	ifMetrics := metrics.New(ts, gw)
	learner := baseline.New(ts, gw)

	appCache := cache.New(map[string]time.Duration{
		"alert_list":         cfg.CacheTTLs.AlertList,
		"device_history":     cfg.CacheTTLs.DeviceHistory,
		"monitoring_profile": cfg.CacheTTLs.MonitoringProfile,
		"alert_rules":        cfg.CacheTTLs.AlertRules,
		"device_list":        cfg.CacheTTLs.DeviceList,
	})

	reg := prometheus.NewRegistry()
	tel := telemetry.New(reg)
	disp.SetDropCounter(tel.BatchesDropped)
	pool.SetMetrics(tel)

	var workerPoolWG sync.WaitGroup
	workerPoolWG.Add(1)
	go func() {
		defer workerPoolWG.Done()
		pool.Run(ctx, cfg.Worker.PingWorkers+cfg.Worker.SNMPWorkers)
	}()

	sched := scheduler.New()

	// Alerts, ping, and snmp all tick on their own cadences but share
	// one dispatcher and one worker pool (spec §2/§5): the dispatcher's
	// strict per-kind priority, not a separate pool per kind, is what
	// keeps alert evaluation from ever queuing up behind monitoring work.
	sched.Register("ping-dispatch", cfg.Cadences.Ping, func(ctx context.Context) error {
		devices, err := gw.ListEnabledDevices(ctx)
		if err != nil {
			return err
		}
		disp.EnqueuePing(devices)
		return nil
	})

	sched.Register("snmp-dispatch", cfg.Cadences.SNMPCounters, func(ctx context.Context) error {
		devices, err := gw.ListEnabledDevices(ctx)
		if err != nil {
			return err
		}
		disp.EnqueueSNMP(devices)
		return nil
	})

	sched.Register("alerts", cfg.Cadences.Alerts, func(ctx context.Context) error {
		disp.EnqueueAlerts()
		appCache.InvalidateNamespace("alert_list")
		return nil
	})

	sched.Register("interface-status", cfg.Cadences.InterfaceStatus, func(ctx context.Context) error {
		devices, err := gw.ListEnabledDevices(ctx)
		if err != nil {
			return err
		}
		for _, d := range devices {
			ifaces, err := snmpProber.DiscoverInterfaces(ctx, d)
			if err != nil {
				log.Error().Err(err).Str("device_id", d.ID.String()).Msg("interface discovery failed")
				continue
			}
			if err := gw.UpsertInterfaces(ctx, d.ID, ifaces); err != nil {
				log.Error().Err(err).Str("device_id", d.ID.String()).Msg("interface upsert failed")
			}
		}
		return nil
	})

	sched.Register("interface-summary", cfg.Cadences.InterfaceSummary, func(ctx context.Context) error {
		ifaces, err := allInterfaces(ctx, gw)
		if err != nil {
			return err
		}
		ifMetrics.CollectAll(ctx, ifaces, time.Now(), 24*time.Hour)
		return nil
	})

	sched.Register("baseline-learning", cfg.Cadences.BaselineLearning, func(ctx context.Context) error {
		ifaces, err := allInterfaces(ctx, gw)
		if err != nil {
			return err
		}
		learner.UpdateAll(ctx, ifaces, 14, time.Now())
		return nil
	})

	sched.Register("anomaly-check", cfg.Cadences.AnomalyCheck, func(ctx context.Context) error {
		ifaces, err := allInterfaces(ctx, gw)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, iface := range ifaces {
			if !iface.IsMonitoredCritical() {
				continue
			}
			rows, err := ts.QueryInstant(ctx, "if_in_octets", map[string]string{
				"device_id": iface.DeviceID.String(),
				"if_index":  itoa(iface.IfIndex),
			})
			if err != nil || rows == nil {
				continue
			}
			value, ok := rows["_value"].(float64)
			if !ok {
				continue
			}
			anomaly, err := learner.DetectAnomaly(ctx, iface.ID, value, now.Hour(), int(now.Weekday()))
			if err != nil || anomaly == nil {
				continue
			}
			tel.AnomaliesDetected.WithLabelValues(anomaly.Severity).Inc()
			if anomaly.IsAnomaly {
				log.Warn().Str("interface_id", iface.ID.String()).Str("severity", anomaly.Severity).
					Msg(anomaly.Message)
			}
		}
		return nil
	})

	var reportedDrops int64
	sched.Register("housekeeping", cfg.Cadences.Housekeeping, func(ctx context.Context) error {
		tel.ObserveQueueDepths(disp.QueueDepths())
		dropped := changeStream.Dropped()
		tel.ChangeStreamDrops.Add(float64(dropped - reportedDrops))
		reportedDrops = dropped
		disp.EnqueueMaintenance()
		return nil
	})

	go func() {
		sched.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ALIVE"))
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := ts.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY: " + err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addrFor(cfg.HealthCheckPort), Handler: mux}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("health server panic recovered")
			}
		}()
		log.Info().Str("address", srv.Addr).Msg("health and metrics endpoint started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutdown signal received, stopping")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	workerPoolWG.Wait()
	log.Info().Msg("branchwatch stopped")
}

func addrFor(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// allInterfaces flattens every enabled device's interface list, used
// by the cadences that operate across the whole fleet rather than a
// single freshly-polled batch.
func allInterfaces(ctx context.Context, gw store.Gateway) ([]*models.Interface, error) {
	devices, err := gw.ListEnabledDevices(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.Interface
	for _, d := range devices {
		ifaces, err := gw.ListInterfaces(ctx, d.ID)
		if err != nil {
			log.Error().Err(err).Str("device_id", d.ID.String()).Msg("listing interfaces failed")
			continue
		}
		out = append(out, ifaces...)
	}
	return out, nil
}
