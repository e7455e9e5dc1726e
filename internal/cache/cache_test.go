package cache

import (
	"testing"
	"time"
)

func testTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"alert_list":  30 * time.Second,
		"device_list": 30 * time.Second,
	}
}

func TestSetThenGetReturnsValue(t *testing.T) {
	c := New(testTTLs())
	c.Set("alert_list", "all", []string{"a1", "a2"})

	got, ok := c.Get("alert_list", "all")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if v, _ := got.([]string); len(v) != 2 {
		t.Errorf("got %v, want 2-element slice", got)
	}
}

func TestGetMissOnUnknownKey(t *testing.T) {
	c := New(testTTLs())
	if _, ok := c.Get("alert_list", "missing"); ok {
		t.Error("expected a miss for an unset key")
	}
}

func TestSetOnUnknownNamespaceIsNoop(t *testing.T) {
	c := New(testTTLs())
	c.Set("not_configured", "x", 1)
	if _, ok := c.Get("not_configured", "x"); ok {
		t.Error("expected Set on an unconfigured namespace to be a no-op")
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(map[string]time.Duration{"fast": 10 * time.Millisecond})
	c.Set("fast", "k", "v")

	if _, ok := c.Get("fast", "k"); !ok {
		t.Fatal("expected an immediate hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("fast", "k"); ok {
		t.Error("expected a miss after TTL elapsed")
	}
}

func TestInvalidateNamespaceClearsAllKeys(t *testing.T) {
	c := New(testTTLs())
	c.Set("device_list", "region:east", "x")
	c.Set("device_list", "region:west", "y")

	c.InvalidateNamespace("device_list")

	if _, ok := c.Get("device_list", "region:east"); ok {
		t.Error("expected region:east to be invalidated")
	}
	if _, ok := c.Get("device_list", "region:west"); ok {
		t.Error("expected region:west to be invalidated")
	}
}

func TestInvalidateKeyOnlyClearsThatKey(t *testing.T) {
	c := New(testTTLs())
	c.Set("alert_list", "a", 1)
	c.Set("alert_list", "b", 2)

	c.InvalidateKey("alert_list", "a")

	if _, ok := c.Get("alert_list", "a"); ok {
		t.Error("expected key a to be invalidated")
	}
	if _, ok := c.Get("alert_list", "b"); !ok {
		t.Error("expected key b to survive")
	}
}
