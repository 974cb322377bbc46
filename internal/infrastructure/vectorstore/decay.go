package vectorstore

import (
	"math"
	"time"

	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
)

// DecayInput holds the inputs the decay formula needs for one memory,
// pulled out of memcore.Memory so the calculator stays pure and testable
// independent of the store.
type DecayInput struct {
	Importance      float64
	CreatedAt       time.Time
	AccessCount     int
	ConnectionCount int
	LastAccessed    time.Time
	MemoryType      memcore.MemoryType
}

// DecayCalculator computes adaptive importance decay. It holds no state
// beyond its tunable constants and is a pure function of its inputs, so it
// is safe for concurrent use.
type DecayCalculator struct {
	cfg config.DecayConfig
	now func() time.Time
}

// NewDecayCalculator creates a DecayCalculator from the configured decay
// constants.
func NewDecayCalculator(cfg config.DecayConfig) *DecayCalculator {
	return &DecayCalculator{cfg: cfg, now: time.Now}
}

func (d *DecayCalculator) halfLifeHours(t memcore.MemoryType) float64 {
	switch t {
	case memcore.MemoryFact:
		return d.cfg.HalfLifeFactHours
	case memcore.MemoryPreference:
		return d.cfg.HalfLifePreferenceHours
	case memcore.MemoryInsight:
		return d.cfg.HalfLifeInsightHours
	case memcore.MemoryEvent:
		return d.cfg.HalfLifeEventHours
	default:
		return d.cfg.HalfLifeInsightHours
	}
}

// Calculate returns the decayed importance for one input, in
// [min_retention, importance].
func (d *DecayCalculator) Calculate(in DecayInput) float64 {
	now := d.now()

	ageHours := now.Sub(in.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	halfLife := d.halfLifeHours(in.MemoryType)
	if halfLife <= 0 {
		halfLife = 1
	}
	// Exponential base decay: decayFactor grows with age, halving the
	// effective importance every half-life.
	decayFactor := math.Pow(2, ageHours/halfLife)

	recencyBoost := 1.0
	if !in.LastAccessed.IsZero() {
		sinceAccess := now.Sub(in.LastAccessed).Hours()
		switch {
		case sinceAccess < 24:
			recencyBoost = d.cfg.RecencyBoostDayFactor
		case sinceAccess < 168:
			recencyBoost = d.cfg.RecencyBoostWeekFactor
		}
	}

	accessBoost := math.Min(1+math.Log10(1+float64(in.AccessCount))*d.cfg.AccessBoostK, 1.5)
	connectionBoost := math.Min(1+d.cfg.ConnectionBoostK*float64(in.ConnectionCount), 1.25)

	boosted := in.Importance * recencyBoost * accessBoost * connectionBoost / decayFactor

	return clamp(boosted, d.cfg.MinRetention, in.Importance)
}

// CalculateBatch runs Calculate over every input, for consolidation
// throughput.
func (d *DecayCalculator) CalculateBatch(inputs []DecayInput) []float64 {
	out := make([]float64, len(inputs))
	for i, in := range inputs {
		out[i] = d.Calculate(in)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
