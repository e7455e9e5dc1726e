// Package tsdb is the time-series client (spec §4.A): batched writes
// of ping/interface-counter samples to InfluxDB, with retry/backoff
// and range/instant query helpers for interface metrics rollups.
// Grounded on the teacher's internal/influx/writer.go, generalized
// from two fixed point types to a generic Sample batch writer.
package tsdb

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/models"
)

// Client handles batched, rate-limited InfluxDB v2 writes and reads.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	org      string
	bucket   string

	maxRetries int

	rateMu      sync.Mutex
	lastWrite   time.Time
	minInterval time.Duration

	log zerolog.Logger
}

// New builds a tsdb Client. httpTimeout bounds each HTTP round trip;
// maxRetries bounds WriteBatch's retry/backoff loop.
func New(url, token, org, bucket string, httpTimeout time.Duration, maxRetries int) *Client {
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(httpTimeout.Seconds()))
	client := influxdb2.NewClientWithOptions(url, token, opts)
	return &Client{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(org, bucket),
		queryAPI:    client.QueryAPI(org),
		org:         org,
		bucket:      bucket,
		maxRetries:  maxRetries,
		lastWrite:   time.Now(),
		minInterval: 10 * time.Millisecond,
		log:         logger.Component("tsdb"),
	}
}

// WriteBatch writes a slice of samples as one InfluxDB line-protocol
// batch, retrying with exponential backoff (200ms, then doubling)
// after any write error: errors are not classified, so a rejected
// request is retried the same way as a transient failure. It never
// partially writes: either the whole batch lands or the error is
// returned.
func (c *Client) WriteBatch(ctx context.Context, samples []models.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(samples))
	for _, s := range samples {
		p := influxdb2.NewPoint(s.Metric, s.Labels, map[string]interface{}{"value": s.Value},
			time.UnixMilli(s.TSMs))
		points = append(points, p)
	}

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		c.rateLimit()
		if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Int("batch_size", len(samples)).
				Msg("tsdb write failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		return nil
	}
	return fmt.Errorf("tsdb: write failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// WritePingSample is a convenience wrapper matching the teacher's
// WritePingResult shape, used by the ping worker's hot path.
func (c *Client) WritePingSample(ctx context.Context, s models.PingSample) error {
	if err := validateIPAddress(s.DeviceIP); err != nil {
		return fmt.Errorf("tsdb: invalid device IP: %w", err)
	}
	sample := models.NewSample("ping", map[string]string{
		"device_id": s.DeviceID,
		"ip":        s.DeviceIP,
	}, boolToFloat(s.IsReachable), s.Timestamp)
	sample.Labels["rtt_ms"] = fmt.Sprintf("%.3f", s.AvgRTTMillis)
	return c.WriteBatch(ctx, []models.Sample{sample})
}

// QueryRange runs a Flux query over [start, stop), optionally narrowed
// by exact tag match, and returns raw result rows as maps. Used by
// §4.K's interface summary rollups to pull one counter's series for a
// single (device_id, if_index) pair.
func (c *Client) QueryRange(ctx context.Context, measurement string, tags map[string]string, start, stop time.Time) ([]map[string]interface{}, error) {
	var filters strings.Builder
	for k, v := range tags {
		fmt.Fprintf(&filters, ` and r.%s == "%s"`, k, sanitizeInfluxString(v, k))
	}
	flux := fmt.Sprintf(`from(bucket: "%s")
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == "%s"%s)`,
		c.bucket, start.Format(time.RFC3339), stop.Format(time.RFC3339), sanitizeInfluxString(measurement, "measurement"), filters.String())

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("tsdb: query range failed: %w", err)
	}
	defer result.Close()

	var rows []map[string]interface{}
	for result.Next() {
		rows = append(rows, result.Record().Values())
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("tsdb: query range iteration failed: %w", result.Err())
	}
	return rows, nil
}

// QueryInstant returns the most recent point from the last hour for a
// measurement/tag filter, used by the anomaly-check cadence in
// cmd/branchwatch for a last-known value.
func (c *Client) QueryInstant(ctx context.Context, measurement string, tags map[string]string) (map[string]interface{}, error) {
	var filters strings.Builder
	for k, v := range tags {
		fmt.Fprintf(&filters, ` and r.%s == "%s"`, k, sanitizeInfluxString(v, k))
	}
	flux := fmt.Sprintf(`from(bucket: "%s")
  |> range(start: -1h)
  |> filter(fn: (r) => r._measurement == "%s"%s)
  |> last()`, c.bucket, sanitizeInfluxString(measurement, "measurement"), filters.String())

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("tsdb: query instant failed: %w", err)
	}
	defer result.Close()

	if result.Next() {
		return result.Record().Values(), nil
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("tsdb: query instant iteration failed: %w", result.Err())
	}
	return nil, nil
}

// HealthCheck verifies connectivity to the TS store, used by the
// health HTTP server's readiness probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("tsdb: health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("tsdb: reported unhealthy status %q", health.Status)
	}
	return nil
}

// Close releases the underlying HTTP client.
func (c *Client) Close() {
	c.client.Close()
}

func (c *Client) rateLimit() {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	elapsed := time.Since(c.lastWrite)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastWrite = time.Now()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func validateIPAddress(ipStr string) error {
	if ipStr == "" {
		return fmt.Errorf("IP address cannot be empty")
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return fmt.Errorf("invalid IP address format: %s", ipStr)
	}
	if ip.IsLoopback() {
		return fmt.Errorf("loopback addresses not allowed: %s", ipStr)
	}
	if ip.IsMulticast() {
		return fmt.Errorf("multicast addresses not allowed: %s", ipStr)
	}
	if ip.IsLinkLocalUnicast() {
		return fmt.Errorf("link-local addresses not allowed: %s", ipStr)
	}
	if ip.IsUnspecified() {
		return fmt.Errorf("unspecified addresses not allowed: %s", ipStr)
	}
	return nil
}

func sanitizeInfluxString(s, fieldName string) string {
	if s == "" {
		return ""
	}
	if len(s) > 500 {
		s = s[:500]
	}
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 {
			return -1
		}
		return r
	}, s)
	_ = fieldName
	return strings.TrimSpace(s)
}
