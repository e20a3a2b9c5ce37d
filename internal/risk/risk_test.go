package risk

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCircuitBreakerTripsOnDailyLoss(t *testing.T) {
	cfg := CircuitBreakerConfig{DailyLossLimit: 0.03, MaxDrawdown: 0.15, Location: time.UTC}
	cb := NewCircuitBreaker(cfg, zap.NewNop())

	day1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if active, _ := cb.Update(100000, day1); active {
		t.Fatal("breaker active on first observation")
	}
	active, reason := cb.Update(96000, day1.Add(time.Hour))
	if !active {
		t.Fatal("4% daily loss should trip the breaker")
	}
	if !strings.HasPrefix(reason, "Daily loss limit") {
		t.Fatalf("reason = %q", reason)
	}

	// Sticky for the rest of the day, even if equity recovers.
	if active, _ = cb.Update(99000, day1.Add(2*time.Hour)); !active {
		t.Fatal("breaker should stay active within the day")
	}

	// Date roll clears it.
	day2 := day1.AddDate(0, 0, 1)
	if active, _ = cb.Update(100000, day2); active {
		t.Fatal("breaker should clear on date rollover")
	}
}

func TestCircuitBreakerTripsOnDrawdown(t *testing.T) {
	cfg := CircuitBreakerConfig{DailyLossLimit: 0.50, MaxDrawdown: 0.10, Location: time.UTC}
	cb := NewCircuitBreaker(cfg, zap.NewNop())

	day := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cb.Update(100000, day)
	cb.Update(120000, day.Add(time.Hour))
	active, reason := cb.Update(107000, day.Add(2*time.Hour))
	if !active {
		t.Fatal("10.8% drawdown from peak should trip the breaker")
	}
	if !strings.HasPrefix(reason, "Max drawdown") {
		t.Fatalf("reason = %q", reason)
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cfg := CircuitBreakerConfig{DailyLossLimit: 0.03, MaxDrawdown: 0.15, Location: time.UTC}
	cb := NewCircuitBreaker(cfg, zap.NewNop())

	day := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cb.Update(100000, day)
	cb.Update(90000, day.Add(time.Hour))
	if active, _ := cb.State(); !active {
		t.Fatal("breaker should be active")
	}
	cb.Reset()
	if active, _ := cb.State(); active {
		t.Fatal("Reset should clear the breaker")
	}
}

func TestPositionSizer(t *testing.T) {
	cases := []struct {
		name     string
		cfg      SizerConfig
		strength float64
		account  float64
		bp       float64
		maxPct   float64
		want     float64
	}{
		{"full strength", DefaultSizerConfig(), 1.0, 100000, 100000, 0.10, 10000},
		{"scaled", DefaultSizerConfig(), 0.5, 100000, 100000, 0.10, 5000},
		{"clamped above", DefaultSizerConfig(), 1.5, 100000, 100000, 0.10, 10000},
		{"buying power floor", DefaultSizerConfig(), 1.0, 100000, 4000, 0.10, 4000},
		{"no scaling", SizerConfig{ScaleByStrength: false}, 0.2, 100000, 100000, 0.10, 10000},
		{"zero buying power", DefaultSizerConfig(), 1.0, 100000, 0, 0.10, 0},
		{"negative clamps to min", DefaultSizerConfig(), -1, 100000, 100000, 0.10, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sizer := NewPositionSizer(tc.cfg)
			got := sizer.Calculate(tc.strength, tc.account, tc.bp, tc.maxPct)
			if got != tc.want {
				t.Fatalf("Calculate = %v, want %v", got, tc.want)
			}
			if got < 0 {
				t.Fatal("trade value must never be negative")
			}
		})
	}
}

func TestSectorLoaderInlineJSON(t *testing.T) {
	loader := NewSectorLoader(zap.NewNop())
	m := loader.Load("", `{"aapl": "Tech", "XOM": "Energy"}`)
	if m.Sector("AAPL") != "Tech" {
		t.Fatalf("AAPL sector = %q", m.Sector("AAPL"))
	}
	if m.Sector("xom") != "Energy" {
		t.Fatalf("xom sector = %q", m.Sector("xom"))
	}
	if m.Sector("MSFT") != "" {
		t.Fatalf("unmapped symbol should be empty, got %q", m.Sector("MSFT"))
	}
}

func TestSectorLoaderFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sector_map.json")
	if err := os.WriteFile(path, []byte(`{"SPY": "Index"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewSectorLoader(zap.NewNop())
	if got := loader.Load(path, "").Sector("SPY"); got != "Index" {
		t.Fatalf("SPY sector = %q", got)
	}

	// Cache hit: deleting the file must not affect the cached map.
	os.Remove(path)
	if got := loader.Load(path, "").Sector("SPY"); got != "Index" {
		t.Fatalf("cached SPY sector = %q", got)
	}
}

func TestSectorLoaderMissingFileDisablesCheck(t *testing.T) {
	loader := NewSectorLoader(zap.NewNop())
	m := loader.Load(filepath.Join(t.TempDir(), "nope.json"), "")
	if len(m) != 0 {
		t.Fatalf("missing file should yield an empty map, got %v", m)
	}
}

func TestSectorLoaderMalformed(t *testing.T) {
	loader := NewSectorLoader(zap.NewNop())
	if m := loader.Load("", "{broken"); len(m) != 0 {
		t.Fatalf("malformed inline JSON should yield an empty map, got %v", m)
	}
}
