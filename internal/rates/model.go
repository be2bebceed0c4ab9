/*

This file contains the kinked interest-rate model used by the lending pools
the strategy borrows from. The curve is piecewise linear with two kinks: a
rising segment, a flat stable-rate plateau, and a jump segment above the
second kink.

*/

package rates

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidParams   = errors.New("interest rate parameters are invalid")
	ErrParamsOverMax   = errors.New("interest rate parameter exceeds its maximum bound")
	ErrInvalidMaxParams = errors.New("maximum interest rate parameters are invalid")
)

// Params holds one configuration of the kinked curve. All fields are
// non-negative 18-decimal fractions with Kink1 <= Kink2 <= 1.
type Params struct {
	BaseRate       sdkmath.LegacyDec `json:"base_rate"`
	Multiplier     sdkmath.LegacyDec `json:"multiplier"`
	JumpMultiplier sdkmath.LegacyDec `json:"jump_multiplier"`
	Kink1          sdkmath.LegacyDec `json:"kink1"`
	Kink2          sdkmath.LegacyDec `json:"kink2"`
}

// MaxParams bounds every Params field from above. A configured value must be
// dominated field-wise or the write is rejected.
type MaxParams struct {
	MaxBaseRate       sdkmath.LegacyDec `json:"max_base_rate"`
	MaxMultiplier     sdkmath.LegacyDec `json:"max_multiplier"`
	MaxJumpMultiplier sdkmath.LegacyDec `json:"max_jump_multiplier"`
}

// Validate checks internal consistency of a parameter set.
func (p Params) Validate() error {
	one := sdkmath.LegacyOneDec()

	fields := map[string]sdkmath.LegacyDec{
		"base_rate":       p.BaseRate,
		"multiplier":      p.Multiplier,
		"jump_multiplier": p.JumpMultiplier,
		"kink1":           p.Kink1,
		"kink2":           p.Kink2,
	}
	for name, v := range fields {
		if v.IsNil() {
			return fmt.Errorf("%w: %s is nil", ErrInvalidParams, name)
		}
		if v.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidParams, name)
		}
	}

	if p.Kink1.GT(p.Kink2) {
		return fmt.Errorf("%w: kink1 (%s) exceeds kink2 (%s)", ErrInvalidParams, p.Kink1, p.Kink2)
	}
	if p.Kink2.GT(one) {
		return fmt.Errorf("%w: kink2 (%s) exceeds 1.0", ErrInvalidParams, p.Kink2)
	}

	return nil
}

// Validate checks that every maximum bound is set and non-negative.
func (m MaxParams) Validate() error {
	fields := map[string]sdkmath.LegacyDec{
		"max_base_rate":       m.MaxBaseRate,
		"max_multiplier":      m.MaxMultiplier,
		"max_jump_multiplier": m.MaxJumpMultiplier,
	}
	for name, v := range fields {
		if v.IsNil() {
			return fmt.Errorf("%w: %s is nil", ErrInvalidMaxParams, name)
		}
		if v.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidMaxParams, name)
		}
	}
	return nil
}

// dominates reports whether every configured field is within its bound.
func (m MaxParams) dominates(p Params) error {
	if p.BaseRate.GT(m.MaxBaseRate) {
		return fmt.Errorf("%w: base_rate %s > %s", ErrParamsOverMax, p.BaseRate, m.MaxBaseRate)
	}
	if p.Multiplier.GT(m.MaxMultiplier) {
		return fmt.Errorf("%w: multiplier %s > %s", ErrParamsOverMax, p.Multiplier, m.MaxMultiplier)
	}
	if p.JumpMultiplier.GT(m.MaxJumpMultiplier) {
		return fmt.Errorf("%w: jump_multiplier %s > %s", ErrParamsOverMax, p.JumpMultiplier, m.MaxJumpMultiplier)
	}
	return nil
}

// Model evaluates the kinked borrow-rate curve for one lending pool.
type Model struct {
	params Params
	max    MaxParams
}

// NewModel validates params against max bounds and returns a ready model.
func NewModel(params Params, max MaxParams) (*Model, error) {
	if err := max.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := max.dominates(params); err != nil {
		return nil, err
	}

	modelLogger := logger.GetForComponent("rate_model")
	modelLogger.Debug().
		Str("base_rate", params.BaseRate.String()).
		Str("multiplier", params.Multiplier.String()).
		Str("jump_multiplier", params.JumpMultiplier.String()).
		Str("kink1", params.Kink1.String()).
		Str("kink2", params.Kink2.String()).
		Msg("Interest rate model created")

	return &Model{params: params, max: max}, nil
}

// Params returns the current curve configuration.
func (m *Model) Params() Params {
	return m.params
}

// SetParams replaces the curve configuration. The write fails atomically if
// any field is inconsistent or exceeds its maximum bound.
func (m *Model) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := m.max.dominates(params); err != nil {
		return err
	}
	m.params = params
	return nil
}

// BorrowRate evaluates the curve at the given utilization. Utilization is
// clamped to [0, 1] before evaluation. The result is monotone non-decreasing
// in utilization and continuous at both kinks.
func (m *Model) BorrowRate(utilization sdkmath.LegacyDec) sdkmath.LegacyDec {
	one := sdkmath.LegacyOneDec()

	u := utilization
	if u.IsNil() || u.IsNegative() {
		u = sdkmath.LegacyZeroDec()
	}
	if u.GT(one) {
		u = one
	}

	p := m.params

	// Rising segment: base + u/kink1 * multiplier.
	if u.LT(p.Kink1) {
		return p.BaseRate.Add(u.Quo(p.Kink1).Mul(p.Multiplier))
	}

	plateau := p.BaseRate.Add(p.Multiplier)

	// Stable-rate plateau between the kinks.
	if u.LT(p.Kink2) {
		return plateau
	}

	// Jump segment: plateau + (u-kink2)/(1-kink2) * jumpMultiplier.
	// When kink2 == 1 the segment degenerates to a point and the plateau rate
	// applies everywhere.
	span := one.Sub(p.Kink2)
	if span.IsZero() {
		return plateau
	}
	return plateau.Add(u.Sub(p.Kink2).Quo(span).Mul(p.JumpMultiplier))
}
