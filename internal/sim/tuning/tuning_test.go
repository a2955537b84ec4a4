package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RequestTimeoutSec != 30 || got.SlotsPerSide != 4 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := []byte("request_timeout_sec: 10\nslots_per_side: 6\nrate_limits:\n  trade_request_max: 2\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RequestTimeoutSec != 10 || got.SlotsPerSide != 6 {
		t.Fatalf("overlay not applied: %+v", got)
	}
	if got.RateLimits.TradeRequestMax != 2 || got.RateLimits.TradeRequestWindowTicks != 50 {
		t.Fatalf("nested overlay: %+v", got.RateLimits)
	}
	if got.TickRateHz != 5 || len(got.StarterItems) != 3 {
		t.Fatalf("untouched keys changed: tick=%d starter=%v", got.TickRateHz, got.StarterItems)
	}
}

func TestLoad_StarterItemsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("starter_items:\n  GOLD: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.StarterItems) != 1 || got.StarterItems["GOLD"] != 3 {
		t.Fatalf("starter_items = %v, want only GOLD:3", got.StarterItems)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("slots_per_side: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	got, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
