// Package tooth encodes crankshaft and camshaft trigger-wheel tooth patterns.
//
// A pattern is the binary edge sequence a position sensor sees over one full
// shaft revolution: 1 where a tooth passes the sensor, 0 where a tooth is
// absent. Crank wheels conventionally carry a "missing tooth" gap as an
// absolute position reference (a 60-2 wheel is 60 tooth positions with the
// last 2 removed); cam wheels are often irregular by design so their pattern
// can be given explicitly.
//
// Encoding is a pure transform over a validated configuration. Configs are
// checked at construction, patterns are derived values recomputed on demand,
// and nothing here holds shared state, so callers may encode concurrently
// without coordination.
package tooth

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned (wrapped) for every configuration that cannot
// describe a real trigger wheel.
var ErrInvalidConfig = errors.New("tooth: invalid sensor configuration")

// Bit is a single tooth position: 1 tooth present, 0 gap. It is an int so
// patterns serialize as plain JSON arrays rather than base64 byte strings.
type Bit int

// Pattern is one shaft revolution of tooth positions. Treat it as immutable;
// the encoder always returns a fresh slice.
type Pattern []Bit

// Equal reports whether two patterns are identical by value.
func (p Pattern) Equal(q Pattern) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// CrankConfig describes a crankshaft trigger wheel by tooth spacing and the
// size of its reference gap. Construct via NewCrankConfig.
type CrankConfig struct {
	DegreesPerTooth int
	MissingTeeth    int
}

// NewCrankConfig validates a crankshaft sensor configuration.
// DegreesPerTooth must evenly divide 360 and MissingTeeth must lie in
// [0, teeth-per-revolution).
func NewCrankConfig(degreesPerTooth, missingTeeth int) (CrankConfig, error) {
	if degreesPerTooth <= 0 || 360%degreesPerTooth != 0 {
		return CrankConfig{}, fmt.Errorf("%w: degrees per tooth %d does not evenly divide 360",
			ErrInvalidConfig, degreesPerTooth)
	}
	teeth := 360 / degreesPerTooth
	if missingTeeth < 0 || missingTeeth >= teeth {
		return CrankConfig{}, fmt.Errorf("%w: missing teeth %d outside [0, %d)",
			ErrInvalidConfig, missingTeeth, teeth)
	}
	return CrankConfig{DegreesPerTooth: degreesPerTooth, MissingTeeth: missingTeeth}, nil
}

// TeethPerRev returns the pattern length for this wheel.
func (c CrankConfig) TeethPerRev() int { return 360 / c.DegreesPerTooth }

// CamConfig describes a camshaft sensor either by an explicit tooth pattern
// or by regular tooth spacing. Exactly one of the two forms is set; construct
// via CamPattern or CamDegrees.
type CamConfig struct {
	pattern         Pattern
	degreesPerTooth int
}

// CamPattern builds a camshaft configuration from an explicit tooth pattern.
// Every element must be 0 or 1. The pattern is copied.
func CamPattern(bits []Bit) (CamConfig, error) {
	if len(bits) == 0 {
		return CamConfig{}, fmt.Errorf("%w: explicit cam pattern is empty", ErrInvalidConfig)
	}
	for i, b := range bits {
		if b != 0 && b != 1 {
			return CamConfig{}, fmt.Errorf("%w: cam pattern element %d is %d, want 0 or 1",
				ErrInvalidConfig, i, b)
		}
	}
	p := make(Pattern, len(bits))
	copy(p, bits)
	return CamConfig{pattern: p}, nil
}

// CamDegrees builds a camshaft configuration with regular tooth spacing.
// Regular cam wheels have no missing-tooth support.
func CamDegrees(degreesPerTooth int) (CamConfig, error) {
	if degreesPerTooth <= 0 || 360%degreesPerTooth != 0 {
		return CamConfig{}, fmt.Errorf("%w: degrees per tooth %d does not evenly divide 360",
			ErrInvalidConfig, degreesPerTooth)
	}
	return CamConfig{degreesPerTooth: degreesPerTooth}, nil
}

// Explicit reports whether the config carries an explicit tooth pattern, and
// returns a copy of it when so.
func (c CamConfig) Explicit() (Pattern, bool) {
	if c.pattern == nil {
		return nil, false
	}
	return EncodeCam(c), true
}

// DegreesPerTooth returns the tooth spacing for a regular cam config, or 0
// for an explicit one.
func (c CamConfig) DegreesPerTooth() int { return c.degreesPerTooth }

// EncodeCrank produces the tooth pattern for one crankshaft revolution:
// 360/DegreesPerTooth ones with the trailing MissingTeeth positions cleared.
// The reference gap always sits at the end of the revolution.
func EncodeCrank(cfg CrankConfig) Pattern {
	teeth := cfg.TeethPerRev()
	p := make(Pattern, teeth)
	for i := 0; i < teeth-cfg.MissingTeeth; i++ {
		p[i] = 1
	}
	return p
}

// EncodeCam produces the tooth pattern for one camshaft revolution: a copy of
// the explicit pattern when one was given, otherwise all ones at the
// configured spacing.
func EncodeCam(cfg CamConfig) Pattern {
	if cfg.pattern != nil {
		p := make(Pattern, len(cfg.pattern))
		copy(p, cfg.pattern)
		return p
	}
	teeth := 360 / cfg.degreesPerTooth
	p := make(Pattern, teeth)
	for i := range p {
		p[i] = 1
	}
	return p
}
