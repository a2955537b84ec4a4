package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	// Trade requests live this long before the sweeper expires them.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	SweepEverySec     int `yaml:"sweep_every_sec"`

	SlotsPerSide   int `yaml:"slots_per_side"`
	InventorySlots int `yaml:"inventory_slots"`
	MaxStack       int `yaml:"max_stack"`

	StartingBalance int64          `yaml:"starting_balance"`
	StarterItems    map[string]int `yaml:"starter_items"`
	Spawn           [3]int         `yaml:"spawn"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	TradeRequestWindowTicks int `yaml:"trade_request_window_ticks"`
	TradeRequestMax         int `yaml:"trade_request_max"`

	// Per-connection ACT budget enforced by the transport.
	ActPerSec float64 `yaml:"act_per_sec"`
	ActBurst  int     `yaml:"act_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         5,
		SnapshotEveryTicks: 3000,
		RequestTimeoutSec:  30,
		SweepEverySec:      1,
		SlotsPerSide:       4,
		InventorySlots:     16,
		MaxStack:           64,
		StartingBalance:    100,
		StarterItems: map[string]int{
			"WOOD":  20,
			"STONE": 20,
			"IRON":  5,
		},
		RateLimits: RateLimits{
			TradeRequestWindowTicks: 50,
			TradeRequestMax:         5,
			ActPerSec:               20,
			ActBurst:                40,
		},
	}
}

// Load overlays the YAML file at path onto Defaults. A missing file yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return t, err
	}
	// Maps would merge into the defaults; a listed starter_items replaces them.
	var keys map[string]any
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if _, ok := keys["starter_items"]; ok {
		t.StarterItems = nil
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0 || t.TickRateHz > 100:
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	case t.RequestTimeoutSec <= 0:
		return fmt.Errorf("request_timeout_sec must be positive: %d", t.RequestTimeoutSec)
	case t.SweepEverySec <= 0:
		return fmt.Errorf("sweep_every_sec must be positive: %d", t.SweepEverySec)
	case t.SlotsPerSide <= 0 || t.SlotsPerSide > 27:
		return fmt.Errorf("slots_per_side out of range: %d", t.SlotsPerSide)
	case t.InventorySlots <= 0:
		return fmt.Errorf("inventory_slots must be positive: %d", t.InventorySlots)
	case t.MaxStack <= 0:
		return fmt.Errorf("max_stack must be positive: %d", t.MaxStack)
	case t.StartingBalance < 0:
		return fmt.Errorf("starting_balance must not be negative: %d", t.StartingBalance)
	case t.SnapshotEveryTicks < 0:
		return fmt.Errorf("snapshot_every_ticks must not be negative: %d", t.SnapshotEveryTicks)
	}
	for item, n := range t.StarterItems {
		if item == "" || n < 0 {
			return fmt.Errorf("bad starter item %q=%d", item, n)
		}
	}
	return nil
}
