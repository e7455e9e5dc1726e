// Package prober implements the ICMP and SNMP probe primitives (spec
// §4.C/§4.D): single-shot, context-bound calls the worker pools drive
// on their own schedule, rather than the teacher's self-ticking
// goroutine-per-device loop.
package prober

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/time/rate"
)

// ICMPResult is one probe outcome.
type ICMPResult struct {
	Reachable     bool
	AvgRTT        time.Duration
	PacketLossPct float64
}

// ICMPProber runs rate-limited ICMP echo probes, grounded on the
// teacher's pinger.go loop body minus its self-scheduling ticker.
type ICMPProber struct {
	count    int
	interval time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
}

// NewICMPProber builds a prober that lets at most concurrency probes
// start per second (with a burst of concurrency), matching the
// teacher's per-resource rate-limiting idiom (golang.org/x/time/rate).
// The number of probes in flight at once is not bounded.
func NewICMPProber(count int, interval, timeout time.Duration, concurrency int) *ICMPProber {
	return &ICMPProber{
		count:    count,
		interval: interval,
		timeout:  timeout,
		limiter:  rate.NewLimiter(rate.Limit(concurrency), concurrency),
	}
}

// Probe sends Count ICMP echoes to ip and reports reachability, mean
// RTT, and packet loss.
func (p *ICMPProber) Probe(ctx context.Context, ip string) (ICMPResult, error) {
	if err := validateIPAddress(ip); err != nil {
		return ICMPResult{}, fmt.Errorf("prober: invalid IP %s: %w", ip, err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return ICMPResult{}, fmt.Errorf("prober: rate limit wait: %w", err)
	}

	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return ICMPResult{}, fmt.Errorf("prober: creating pinger for %s: %w", ip, err)
	}
	pinger.Count = p.count
	pinger.Interval = p.interval
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(true)

	if err := pinger.RunWithContext(ctx); err != nil {
		return ICMPResult{}, fmt.Errorf("prober: running pinger for %s: %w", ip, err)
	}

	stats := pinger.Statistics()
	return ICMPResult{
		Reachable:     stats.PacketsRecv > 0,
		AvgRTT:        stats.AvgRtt,
		PacketLossPct: stats.PacketLoss,
	}, nil
}

// validateIPAddress rejects loopback/multicast/link-local/unspecified
// targets, matching the teacher's pinger.go/scanner.go checks.
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
