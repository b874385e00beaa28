package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDurationAcceptsUnitsAndStrings(t *testing.T) {
	t.Setenv("PULL_EVERY", "15")
	if got := GetDuration("PULL_EVERY", time.Minute, 0); got != 15*time.Minute {
		t.Fatalf("expected 15m, got %s", got)
	}
	t.Setenv("PULL_EVERY", "90s")
	if got := GetDuration("PULL_EVERY", time.Minute, 0); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	t.Setenv("PULL_EVERY", "soon")
	if got := GetDuration("PULL_EVERY", time.Minute, time.Hour); got != time.Hour {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestLoadPolicyFileDefaults(t *testing.T) {
	policy, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if policy != DefaultPolicy() {
		t.Fatalf("expected defaults, got %+v", policy)
	}
}

func TestLoadPolicyFileOverridesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "identity:\n  deliverable_title_fallback: false\nload:\n  hours_per_task: 40\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	policy, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile() failed: %v", err)
	}
	if policy.Identity.DeliverableTitleFallback {
		t.Fatalf("expected title fallback disabled")
	}
	if policy.Identity.UnannouncedMarker != "Unannounced" {
		t.Fatalf("expected default marker kept, got %q", policy.Identity.UnannouncedMarker)
	}
	if policy.Load.HoursPerTask != 40 || policy.Load.FocusFactor != 0.6 {
		t.Fatalf("expected partial override, got %+v", policy.Load)
	}
}

func TestLoadPolicyFileRejectsBadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("load:\n  hours_per_day: 0\n"), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, err := LoadPolicyFile(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
