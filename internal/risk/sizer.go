package risk

// SizerConfig controls how a buy signal's strength scales its trade value.
type SizerConfig struct {
	ScaleByStrength bool
	MinStrength     float64
	MaxStrength     float64
}

// DefaultSizerConfig scales linearly by strength clamped to [0, 1].
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{ScaleByStrength: true, MinStrength: 0, MaxStrength: 1}
}

// PositionSizer turns a signal strength and account state into a trade
// value. Pure computation, no state.
type PositionSizer struct {
	cfg SizerConfig
}

// NewPositionSizer creates a sizer with the given scaling bounds.
func NewPositionSizer(cfg SizerConfig) *PositionSizer {
	if cfg.MaxStrength < cfg.MinStrength {
		cfg.MaxStrength = cfg.MinStrength
	}
	return &PositionSizer{cfg: cfg}
}

// Calculate returns the dollar value to deploy: the smaller of the
// per-position cap and available buying power, scaled by the clamped signal
// strength when scaling is enabled. Never negative.
func (ps *PositionSizer) Calculate(strength, accountValue, buyingPower, maxPositionPct float64) float64 {
	limit := accountValue * maxPositionPct
	if buyingPower < limit {
		limit = buyingPower
	}
	if limit <= 0 {
		return 0
	}
	if !ps.cfg.ScaleByStrength {
		return limit
	}
	if strength < ps.cfg.MinStrength {
		strength = ps.cfg.MinStrength
	}
	if strength > ps.cfg.MaxStrength {
		strength = ps.cfg.MaxStrength
	}
	value := limit * strength
	if value < 0 {
		return 0
	}
	return value
}
