package main

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("QUOTESYNC_TEST_DURATION", "150ms")
	got := durationEnv("QUOTESYNC_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("QUOTESYNC_TEST_DURATION_BAD", "soon")
	got := durationEnv("QUOTESYNC_TEST_DURATION_BAD", 2*time.Second)
	if got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestDurationEnvUsesFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("QUOTESYNC_TEST_DURATION_UNSET")
	if got := durationEnv("QUOTESYNC_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
}

func TestStorageProfileDefaults(t *testing.T) {
	t.Setenv("QUOTESYNC_DATA_DIR", "")

	t.Setenv("QUOTESYNC_BACKEND_PROFILE", "memory")
	dsn, err := storageProfileDefaultsFromEnv()
	if err != nil {
		t.Fatalf("memory profile failed: %v", err)
	}
	if dsn != "memory://" {
		t.Fatalf("expected memory:// dsn, got %q", dsn)
	}

	t.Setenv("QUOTESYNC_BACKEND_PROFILE", "durable-local")
	dsn, err = storageProfileDefaultsFromEnv()
	if err != nil {
		t.Fatalf("durable-local profile failed: %v", err)
	}
	if !strings.HasPrefix(dsn, "file://") || !strings.HasSuffix(dsn, "state.json") {
		t.Fatalf("unexpected durable-local dsn: %q", dsn)
	}

	t.Setenv("QUOTESYNC_BACKEND_PROFILE", "production")
	t.Setenv("QUOTESYNC_POSTGRES_DSN", "")
	if _, err := storageProfileDefaultsFromEnv(); err == nil {
		t.Fatalf("expected error when production profile lacks a dsn")
	}

	t.Setenv("QUOTESYNC_BACKEND_PROFILE", "carrier-pigeon")
	if _, err := storageProfileDefaultsFromEnv(); err == nil {
		t.Fatalf("expected error for unsupported profile")
	}
}
