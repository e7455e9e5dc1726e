// Package config loads and validates the monitoring engine's YAML
// configuration, following the raw-struct-with-string-durations
// pattern used throughout this codebase so YAML authors can write
// "10s" instead of nanosecond integers.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig holds the required relational store connection.
type StoreConfig struct {
	URL            string
	MaxConns       int
	ConnectTimeout time.Duration
}

// TSDBConfig holds the time-series store connection (InfluxDB v2 style).
type TSDBConfig struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	MaxRetries    int
	PoolSize      int
}

// SNMPDefaults holds the fallback SNMP connection parameters applied
// when a device doesn't override them.
type SNMPDefaults struct {
	Community string
	Port      int
	Timeout   time.Duration
	Retries   int
}

// Cadences holds every scheduler tick interval from spec §4.E.
type Cadences struct {
	Ping             time.Duration
	Alerts           time.Duration
	InterfaceStatus  time.Duration
	SNMPCounters     time.Duration
	InterfaceSummary time.Duration
	BaselineLearning time.Duration
	AnomalyCheck     time.Duration
	Housekeeping     time.Duration
}

// ProbeConfig holds per-probe timeouts, retries, and concurrency.
type ProbeConfig struct {
	ICMPCount         int
	ICMPInterval      time.Duration
	ICMPTimeout       time.Duration
	ICMPConcurrency   int
	SNMPTimeout       time.Duration
	SNMPRetries       int
	SNMPConcurrency   int
	RelationalTimeout time.Duration
}

// BatchConfig controls the auto-scaling batch dispatcher (§4.F).
type BatchConfig struct {
	TargetBatches int // aim for ~N batches per cycle
	MinSize       int
	MaxSize       int
	RoundTo       int
	QueueCapacity int
}

// AlertThresholds holds the latency/loss/flap thresholds and their
// ISP-class overrides (§4.L).
type AlertThresholds struct {
	LatencyMsNormal     float64
	LatencyMsISP        float64
	LossPctNormal       float64
	LossPctISP          float64
	FlapThresholdNormal int
	FlapThresholdISP    int
	FlapWindow          time.Duration
	FlapClearThreshold  int
	DeviceDownGraceSecs int
	AnomalyZScore       float64
}

// WorkerConfig sizes the worker pools consuming the priority queues.
type WorkerConfig struct {
	PingWorkers int
	SNMPWorkers int
}

// CacheTTLs holds the short-TTL namespaced cache durations (§4.O).
type CacheTTLs struct {
	AlertList         time.Duration
	DeviceHistory     time.Duration
	MonitoringProfile time.Duration
	AlertRules        time.Duration
	DeviceList        time.Duration
}

// Config is the fully parsed, validated application configuration.
type Config struct {
	Store           StoreConfig
	TSDB            TSDBConfig
	SNMP            SNMPDefaults
	Cadences        Cadences
	Probe           ProbeConfig
	Batch           BatchConfig
	AlertThresholds AlertThresholds
	Worker          WorkerConfig
	CacheTTLs       CacheTTLs

	EncryptionKey string

	HealthCheckPort int
	MetricsPort     int

	RetentionPingDays      int
	RetentionResolvedDays  int
	RetentionDiscoveryDays int
}

// rawConfig mirrors Config but with string durations, matching the
// teacher's LoadConfig decoding pattern.
type rawConfig struct {
	Store struct {
		URL            string `yaml:"url"`
		MaxConns       int    `yaml:"max_conns"`
		ConnectTimeout string `yaml:"connect_timeout"`
	} `yaml:"store"`

	TSDB struct {
		URL           string `yaml:"url"`
		Token         string `yaml:"token"`
		Org           string `yaml:"org"`
		Bucket        string `yaml:"bucket"`
		BatchSize     int    `yaml:"batch_size"`
		FlushInterval string `yaml:"flush_interval"`
		HTTPTimeout   string `yaml:"http_timeout"`
		MaxRetries    int    `yaml:"max_retries"`
		PoolSize      int    `yaml:"pool_size"`
	} `yaml:"tsdb"`

	SNMP struct {
		Community string `yaml:"community"`
		Port      int    `yaml:"port"`
		Timeout   string `yaml:"timeout"`
		Retries   int    `yaml:"retries"`
	} `yaml:"snmp"`

	Cadences struct {
		Ping             string `yaml:"ping"`
		Alerts           string `yaml:"alerts"`
		InterfaceStatus  string `yaml:"interface_status"`
		SNMPCounters     string `yaml:"snmp_counters"`
		InterfaceSummary string `yaml:"interface_summary"`
		BaselineLearning string `yaml:"baseline_learning"`
		AnomalyCheck     string `yaml:"anomaly_check"`
		Housekeeping     string `yaml:"housekeeping"`
	} `yaml:"cadences"`

	Probe struct {
		ICMPCount         int    `yaml:"icmp_count"`
		ICMPInterval      string `yaml:"icmp_interval"`
		ICMPTimeout       string `yaml:"icmp_timeout"`
		ICMPConcurrency   int    `yaml:"icmp_concurrency"`
		SNMPTimeout       string `yaml:"snmp_timeout"`
		SNMPRetries       int    `yaml:"snmp_retries"`
		SNMPConcurrency   int    `yaml:"snmp_concurrency"`
		RelationalTimeout string `yaml:"relational_timeout"`
	} `yaml:"probe"`

	Batch struct {
		TargetBatches int `yaml:"target_batches"`
		MinSize       int `yaml:"min_size"`
		MaxSize       int `yaml:"max_size"`
		RoundTo       int `yaml:"round_to"`
		QueueCapacity int `yaml:"queue_capacity"`
	} `yaml:"batch"`

	AlertThresholds struct {
		LatencyMsNormal     float64 `yaml:"latency_ms_normal"`
		LatencyMsISP        float64 `yaml:"latency_ms_isp"`
		LossPctNormal       float64 `yaml:"loss_pct_normal"`
		LossPctISP          float64 `yaml:"loss_pct_isp"`
		FlapThresholdNormal int     `yaml:"flap_threshold_normal"`
		FlapThresholdISP    int     `yaml:"flap_threshold_isp"`
		FlapWindow          string  `yaml:"flap_window"`
		FlapClearThreshold  int     `yaml:"flap_clear_threshold"`
		DeviceDownGraceSecs int     `yaml:"device_down_grace_secs"`
		AnomalyZScore       float64 `yaml:"anomaly_zscore"`
	} `yaml:"alert_thresholds"`

	Worker struct {
		PingWorkers int `yaml:"ping_workers"`
		SNMPWorkers int `yaml:"snmp_workers"`
	} `yaml:"worker"`

	CacheTTLs struct {
		AlertList         string `yaml:"alert_list"`
		DeviceHistory     string `yaml:"device_history"`
		MonitoringProfile string `yaml:"monitoring_profile"`
		AlertRules        string `yaml:"alert_rules"`
		DeviceList        string `yaml:"device_list"`
	} `yaml:"cache_ttls"`

	EncryptionKey string `yaml:"encryption_key"`

	HealthCheckPort int `yaml:"health_check_port"`
	MetricsPort     int `yaml:"metrics_port"`

	RetentionPingDays      int `yaml:"retention_ping_days"`
	RetentionResolvedDays  int `yaml:"retention_resolved_days"`
	RetentionDiscoveryDays int `yaml:"retention_discovery_days"`
}

// LoadConfig parses the YAML configuration file at path, applies
// defaults for every optional field, and expands environment
// variables in sensitive fields.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw rawConfig
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil {
		return nil, err
	}

	applyDefaults(&raw)

	cfg := &Config{
		Store: StoreConfig{
			URL:      os.ExpandEnv(raw.Store.URL),
			MaxConns: raw.Store.MaxConns,
		},
		TSDB: TSDBConfig{
			URL:        os.ExpandEnv(raw.TSDB.URL),
			Token:      os.ExpandEnv(raw.TSDB.Token),
			Org:        os.ExpandEnv(raw.TSDB.Org),
			Bucket:     os.ExpandEnv(raw.TSDB.Bucket),
			BatchSize:  raw.TSDB.BatchSize,
			MaxRetries: raw.TSDB.MaxRetries,
			PoolSize:   raw.TSDB.PoolSize,
		},
		SNMP: SNMPDefaults{
			Community: os.ExpandEnv(raw.SNMP.Community),
			Port:      raw.SNMP.Port,
			Retries:   raw.SNMP.Retries,
		},
		Batch: BatchConfig{
			TargetBatches: raw.Batch.TargetBatches,
			MinSize:       raw.Batch.MinSize,
			MaxSize:       raw.Batch.MaxSize,
			RoundTo:       raw.Batch.RoundTo,
			QueueCapacity: raw.Batch.QueueCapacity,
		},
		AlertThresholds: AlertThresholds{
			LatencyMsNormal:     raw.AlertThresholds.LatencyMsNormal,
			LatencyMsISP:        raw.AlertThresholds.LatencyMsISP,
			LossPctNormal:       raw.AlertThresholds.LossPctNormal,
			LossPctISP:          raw.AlertThresholds.LossPctISP,
			FlapThresholdNormal: raw.AlertThresholds.FlapThresholdNormal,
			FlapThresholdISP:    raw.AlertThresholds.FlapThresholdISP,
			FlapClearThreshold:  raw.AlertThresholds.FlapClearThreshold,
			DeviceDownGraceSecs: raw.AlertThresholds.DeviceDownGraceSecs,
			AnomalyZScore:       raw.AlertThresholds.AnomalyZScore,
		},
		Worker: WorkerConfig{
			PingWorkers: raw.Worker.PingWorkers,
			SNMPWorkers: raw.Worker.SNMPWorkers,
		},
		EncryptionKey:          os.ExpandEnv(raw.EncryptionKey),
		HealthCheckPort:        raw.HealthCheckPort,
		MetricsPort:            raw.MetricsPort,
		RetentionPingDays:      raw.RetentionPingDays,
		RetentionResolvedDays:  raw.RetentionResolvedDays,
		RetentionDiscoveryDays: raw.RetentionDiscoveryDays,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"store.connect_timeout", raw.Store.ConnectTimeout, &cfg.Store.ConnectTimeout},
		{"tsdb.flush_interval", raw.TSDB.FlushInterval, &cfg.TSDB.FlushInterval},
		{"tsdb.http_timeout", raw.TSDB.HTTPTimeout, &cfg.TSDB.HTTPTimeout},
		{"snmp.timeout", raw.SNMP.Timeout, &cfg.SNMP.Timeout},
		{"cadences.ping", raw.Cadences.Ping, &cfg.Cadences.Ping},
		{"cadences.alerts", raw.Cadences.Alerts, &cfg.Cadences.Alerts},
		{"cadences.interface_status", raw.Cadences.InterfaceStatus, &cfg.Cadences.InterfaceStatus},
		{"cadences.snmp_counters", raw.Cadences.SNMPCounters, &cfg.Cadences.SNMPCounters},
		{"cadences.interface_summary", raw.Cadences.InterfaceSummary, &cfg.Cadences.InterfaceSummary},
		{"cadences.baseline_learning", raw.Cadences.BaselineLearning, &cfg.Cadences.BaselineLearning},
		{"cadences.anomaly_check", raw.Cadences.AnomalyCheck, &cfg.Cadences.AnomalyCheck},
		{"cadences.housekeeping", raw.Cadences.Housekeeping, &cfg.Cadences.Housekeeping},
		{"probe.icmp_interval", raw.Probe.ICMPInterval, &cfg.Probe.ICMPInterval},
		{"probe.icmp_timeout", raw.Probe.ICMPTimeout, &cfg.Probe.ICMPTimeout},
		{"probe.snmp_timeout", raw.Probe.SNMPTimeout, &cfg.Probe.SNMPTimeout},
		{"probe.relational_timeout", raw.Probe.RelationalTimeout, &cfg.Probe.RelationalTimeout},
		{"alert_thresholds.flap_window", raw.AlertThresholds.FlapWindow, &cfg.AlertThresholds.FlapWindow},
		{"cache_ttls.alert_list", raw.CacheTTLs.AlertList, &cfg.CacheTTLs.AlertList},
		{"cache_ttls.device_history", raw.CacheTTLs.DeviceHistory, &cfg.CacheTTLs.DeviceHistory},
		{"cache_ttls.monitoring_profile", raw.CacheTTLs.MonitoringProfile, &cfg.CacheTTLs.MonitoringProfile},
		{"cache_ttls.alert_rules", raw.CacheTTLs.AlertRules, &cfg.CacheTTLs.AlertRules},
		{"cache_ttls.device_list", raw.CacheTTLs.DeviceList, &cfg.CacheTTLs.DeviceList},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	cfg.Probe.ICMPCount = raw.Probe.ICMPCount
	cfg.Probe.ICMPConcurrency = raw.Probe.ICMPConcurrency
	cfg.Probe.SNMPRetries = raw.Probe.SNMPRetries
	cfg.Probe.SNMPConcurrency = raw.Probe.SNMPConcurrency

	return cfg, nil
}

// applyDefaults fills in every unset field with the spec's documented
// default cadence/threshold/limit, mirroring the teacher's "set
// default if zero" style.
func applyDefaults(raw *rawConfig) {
	if raw.Cadences.Ping == "" {
		raw.Cadences.Ping = "10s"
	}
	if raw.Cadences.Alerts == "" {
		raw.Cadences.Alerts = "10s"
	}
	if raw.Cadences.InterfaceStatus == "" {
		raw.Cadences.InterfaceStatus = "60s"
	}
	if raw.Cadences.SNMPCounters == "" {
		raw.Cadences.SNMPCounters = "60s"
	}
	if raw.Cadences.InterfaceSummary == "" {
		raw.Cadences.InterfaceSummary = "15m"
	}
	if raw.Cadences.BaselineLearning == "" {
		raw.Cadences.BaselineLearning = "168h" // weekly
	}
	if raw.Cadences.AnomalyCheck == "" {
		raw.Cadences.AnomalyCheck = "5m"
	}
	if raw.Cadences.Housekeeping == "" {
		raw.Cadences.Housekeeping = "24h"
	}

	if raw.Probe.ICMPCount == 0 {
		raw.Probe.ICMPCount = 2
	}
	if raw.Probe.ICMPInterval == "" {
		raw.Probe.ICMPInterval = "200ms"
	}
	if raw.Probe.ICMPTimeout == "" {
		raw.Probe.ICMPTimeout = "1s"
	}
	if raw.Probe.ICMPConcurrency == 0 {
		raw.Probe.ICMPConcurrency = 50
	}
	if raw.Probe.SNMPTimeout == "" {
		raw.Probe.SNMPTimeout = "4s"
	}
	if raw.Probe.SNMPRetries == 0 {
		raw.Probe.SNMPRetries = 1
	}
	if raw.Probe.SNMPConcurrency == 0 {
		raw.Probe.SNMPConcurrency = 100
	}
	if raw.Probe.RelationalTimeout == "" {
		raw.Probe.RelationalTimeout = "30s"
	}

	if raw.Batch.TargetBatches == 0 {
		raw.Batch.TargetBatches = 10
	}
	if raw.Batch.MinSize == 0 {
		raw.Batch.MinSize = 50
	}
	if raw.Batch.MaxSize == 0 {
		raw.Batch.MaxSize = 500
	}
	if raw.Batch.RoundTo == 0 {
		raw.Batch.RoundTo = 50
	}
	if raw.Batch.QueueCapacity == 0 {
		raw.Batch.QueueCapacity = 64
	}

	if raw.AlertThresholds.LatencyMsNormal == 0 {
		raw.AlertThresholds.LatencyMsNormal = 200
	}
	if raw.AlertThresholds.LatencyMsISP == 0 {
		raw.AlertThresholds.LatencyMsISP = 100
	}
	if raw.AlertThresholds.LossPctNormal == 0 {
		raw.AlertThresholds.LossPctNormal = 10
	}
	if raw.AlertThresholds.LossPctISP == 0 {
		raw.AlertThresholds.LossPctISP = 5
	}
	if raw.AlertThresholds.FlapThresholdNormal == 0 {
		raw.AlertThresholds.FlapThresholdNormal = 3
	}
	if raw.AlertThresholds.FlapThresholdISP == 0 {
		raw.AlertThresholds.FlapThresholdISP = 2
	}
	if raw.AlertThresholds.FlapWindow == "" {
		raw.AlertThresholds.FlapWindow = "5m"
	}
	if raw.AlertThresholds.FlapClearThreshold == 0 {
		raw.AlertThresholds.FlapClearThreshold = 2
	}
	if raw.AlertThresholds.DeviceDownGraceSecs == 0 {
		raw.AlertThresholds.DeviceDownGraceSecs = 10
	}
	if raw.AlertThresholds.AnomalyZScore == 0 {
		raw.AlertThresholds.AnomalyZScore = 3
	}

	if raw.Worker.PingWorkers == 0 {
		raw.Worker.PingWorkers = 8
	}
	if raw.Worker.SNMPWorkers == 0 {
		raw.Worker.SNMPWorkers = 8
	}

	if raw.TSDB.BatchSize == 0 {
		raw.TSDB.BatchSize = 5000
	}
	if raw.TSDB.FlushInterval == "" {
		raw.TSDB.FlushInterval = "5s"
	}
	if raw.TSDB.HTTPTimeout == "" {
		raw.TSDB.HTTPTimeout = "10s"
	}
	if raw.TSDB.MaxRetries == 0 {
		raw.TSDB.MaxRetries = 3
	}
	if raw.TSDB.PoolSize == 0 {
		raw.TSDB.PoolSize = 10
	}

	if raw.CacheTTLs.AlertList == "" {
		raw.CacheTTLs.AlertList = "30s"
	}
	if raw.CacheTTLs.DeviceHistory == "" {
		raw.CacheTTLs.DeviceHistory = "30s"
	}
	if raw.CacheTTLs.MonitoringProfile == "" {
		raw.CacheTTLs.MonitoringProfile = "5m"
	}
	if raw.CacheTTLs.AlertRules == "" {
		raw.CacheTTLs.AlertRules = "60s"
	}
	if raw.CacheTTLs.DeviceList == "" {
		raw.CacheTTLs.DeviceList = "30s"
	}

	if raw.Store.ConnectTimeout == "" {
		raw.Store.ConnectTimeout = "10s"
	}
	if raw.Store.MaxConns == 0 {
		raw.Store.MaxConns = 20
	}

	if raw.SNMP.Port == 0 {
		raw.SNMP.Port = 161
	}

	if raw.HealthCheckPort == 0 {
		raw.HealthCheckPort = 8080
	}
	if raw.MetricsPort == 0 {
		raw.MetricsPort = 9090
	}

	if raw.RetentionPingDays == 0 {
		raw.RetentionPingDays = 30
	}
	if raw.RetentionResolvedDays == 0 {
		raw.RetentionResolvedDays = 7
	}
	if raw.RetentionDiscoveryDays == 0 {
		raw.RetentionDiscoveryDays = 30
	}
}

// ValidateConfig performs sanity and security checks, returning a
// non-fatal warning string and/or a fatal error. Only the relational
// store URL and the encryption key are hard-required (§6).
func ValidateConfig(cfg *Config) (string, error) {
	if cfg.Store.URL == "" {
		return "", fmt.Errorf("store.url is required")
	}
	if err := validateURL(cfg.Store.URL); err != nil {
		return "", fmt.Errorf("store.url validation failed: %w", err)
	}
	if cfg.EncryptionKey == "" {
		return "", fmt.Errorf("encryption_key is required to decrypt SNMP credentials")
	}
	if len(cfg.EncryptionKey) < 32 {
		return "", fmt.Errorf("encryption_key must be at least 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	if cfg.TSDB.URL != "" {
		if err := validateURL(cfg.TSDB.URL); err != nil {
			return "", fmt.Errorf("tsdb.url validation failed: %w", err)
		}
	}

	if cfg.SNMP.Port < 1 || cfg.SNMP.Port > 65535 {
		return "", fmt.Errorf("snmp port must be between 1 and 65535, got %d", cfg.SNMP.Port)
	}
	if cfg.Probe.SNMPRetries < 0 || cfg.Probe.SNMPRetries > 10 {
		return "", fmt.Errorf("snmp retries must be between 0 and 10, got %d", cfg.Probe.SNMPRetries)
	}

	if cfg.Batch.MinSize < 1 || cfg.Batch.MaxSize < cfg.Batch.MinSize {
		return "", fmt.Errorf("batch.min_size/max_size must satisfy 1 <= min <= max, got min=%d max=%d",
			cfg.Batch.MinSize, cfg.Batch.MaxSize)
	}
	if cfg.Batch.MaxSize > 5000 {
		return "", fmt.Errorf("batch.max_size too large (max 5000), got %d", cfg.Batch.MaxSize)
	}

	if cfg.Cadences.Ping < time.Second {
		return "", fmt.Errorf("cadences.ping must be at least 1 second, got %v", cfg.Cadences.Ping)
	}
	if cfg.Cadences.Alerts < time.Second {
		return "", fmt.Errorf("cadences.alerts must be at least 1 second, got %v", cfg.Cadences.Alerts)
	}

	var warning string
	if cfg.SNMP.Community != "" {
		w, err := validateSNMPCommunity(cfg.SNMP.Community)
		if err != nil {
			return "", err
		}
		warning = w
	}

	return warning, nil
}

func validateURL(urlStr string) error {
	if len(urlStr) > 2048 {
		return fmt.Errorf("URL too long (max 2048 characters)")
	}
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") &&
		!strings.HasPrefix(urlStr, "postgres://") && !strings.HasPrefix(urlStr, "postgresql://") {
		return fmt.Errorf("URL must use http(s) or postgres(ql) scheme")
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a valid host")
	}
	return nil
}

// validateSNMPCommunity mirrors the teacher's sanitization: printable,
// bounded-length community strings, with a warning for known-weak
// defaults.
func validateSNMPCommunity(community string) (string, error) {
	if len(community) > 32 {
		return "", fmt.Errorf("snmp community string too long (max 32 characters), got %d", len(community))
	}
	for _, char := range community {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '-' || char == '_' || char == '.') {
			return "", fmt.Errorf("snmp community string contains invalid character: %c", char)
		}
	}
	weak := []string{"private", "admin", "password", "123456", "community"}
	for _, w := range weak {
		if community == w {
			return "", fmt.Errorf("snmp community string %q is a common default value and should be changed for security", community)
		}
	}
	if community == "public" {
		return "WARNING: using default SNMP community 'public' - consider changing for security", nil
	}
	return "", nil
}
