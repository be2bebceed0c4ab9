/*

This file contains the price oracle: per-token feed configuration with
staleness and deviation guards, plus an optional sequencer-uptime guard for
venues where the feed-relay path itself can go down. All reads are
side-effect-free.

*/

package oracle

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/logger"
	"github.com/parallax-fi/dnvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrFeedUnavailable    = errors.New("no price feed configured for token")
	ErrStaleFeed          = errors.New("price feed is stale")
	ErrDeviationExceeded  = errors.New("price deviation between primary and fallback exceeds maximum")
	ErrSequencerDown      = errors.New("sequencer is down")
	ErrGracePeriodNotOver = errors.New("sequencer grace period is not over")
	ErrInvalidReading     = errors.New("price reading is invalid")
	ErrInvalidFeedConfig  = errors.New("price feed configuration is invalid")
)

// Reading is one observation from a price feed.
type Reading struct {
	Price     sdkmath.LegacyDec
	UpdatedAt time.Time
}

// PriceFeed supplies USD price readings for one token.
type PriceFeed interface {
	// Latest returns the most recent primary reading.
	Latest() (Reading, error)
}

// UptimeFeed reports whether the sequencer relaying feed updates is up and
// since when it has been in that state.
type UptimeFeed interface {
	Status() (up bool, since time.Time, err error)
}

// feedConfig is complete only when all three pieces are set; a token is
// priceable only then.
type feedConfig struct {
	feed         PriceFeed
	fallback     PriceFeed // optional secondary source for deviation checks
	maxDeviation sdkmath.LegacyDec
	maxDelay     time.Duration
	deviationSet bool
	delaySet     bool
}

// Oracle maps tokens to validated USD prices.
type Oracle struct {
	feeds       map[string]*feedConfig // keyed by token address
	uptime      UptimeFeed             // optional sequencer guard
	gracePeriod time.Duration
	now         func() time.Time
}

// New creates an oracle with no feeds configured.
func New() *Oracle {
	return &Oracle{
		feeds: make(map[string]*feedConfig),
		now:   time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (o *Oracle) WithClock(now func() time.Time) *Oracle {
	o.now = now
	return o
}

// WithUptimeFeed enables the sequencer-uptime guard. Every price read fails
// with ErrSequencerDown while the sequencer is down and with
// ErrGracePeriodNotOver until gracePeriod has elapsed after it resumes.
func (o *Oracle) WithUptimeFeed(feed UptimeFeed, gracePeriod time.Duration) *Oracle {
	o.uptime = feed
	o.gracePeriod = gracePeriod
	return o
}

// AddTokenPriceFeed registers the primary feed for a token.
func (o *Oracle) AddTokenPriceFeed(token types.Token, feed PriceFeed) error {
	if feed == nil {
		return fmt.Errorf("%w: feed is nil for %s", ErrInvalidFeedConfig, token.Symbol)
	}
	o.config(token).feed = feed
	return nil
}

// AddTokenFallbackFeed registers an optional secondary feed used for
// manipulation detection via the deviation guard.
func (o *Oracle) AddTokenFallbackFeed(token types.Token, feed PriceFeed) error {
	if feed == nil {
		return fmt.Errorf("%w: fallback feed is nil for %s", ErrInvalidFeedConfig, token.Symbol)
	}
	o.config(token).fallback = feed
	return nil
}

// AddTokenMaxDeviation sets the maximum tolerated fraction between primary and
// fallback readings.
func (o *Oracle) AddTokenMaxDeviation(token types.Token, maxDeviation sdkmath.LegacyDec) error {
	if maxDeviation.IsNil() || maxDeviation.IsNegative() {
		return fmt.Errorf("%w: max deviation for %s must be a non-negative fraction", ErrInvalidFeedConfig, token.Symbol)
	}
	cfg := o.config(token)
	cfg.maxDeviation = maxDeviation
	cfg.deviationSet = true
	return nil
}

// AddTokenMaxDelay sets the maximum tolerated feed age.
func (o *Oracle) AddTokenMaxDelay(token types.Token, maxDelay time.Duration) error {
	if maxDelay <= 0 {
		return fmt.Errorf("%w: max delay for %s must be positive", ErrInvalidFeedConfig, token.Symbol)
	}
	cfg := o.config(token)
	cfg.maxDelay = maxDelay
	cfg.delaySet = true
	return nil
}

func (o *Oracle) config(token types.Token) *feedConfig {
	cfg, ok := o.feeds[token.Address]
	if !ok {
		cfg = &feedConfig{}
		o.feeds[token.Address] = cfg
	}
	return cfg
}

// PriceOf returns the validated USD price of one whole token, 18-decimal.
func (o *Oracle) PriceOf(token types.Token) (sdkmath.LegacyDec, error) {
	if err := o.checkSequencer(); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	cfg, ok := o.feeds[token.Address]
	if !ok || cfg.feed == nil || !cfg.deviationSet || !cfg.delaySet {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s", ErrFeedUnavailable, token.Symbol)
	}

	primary, err := cfg.feed.Latest()
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("primary feed read for %s failed: %w", token.Symbol, err)
	}
	if err := validateReading(primary, token.Symbol); err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	age := o.now().Sub(primary.UpdatedAt)
	if age > cfg.maxDelay {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s last updated %s ago (max %s)",
			ErrStaleFeed, token.Symbol, age, cfg.maxDelay)
	}

	if cfg.fallback != nil {
		secondary, err := cfg.fallback.Latest()
		if err != nil {
			return sdkmath.LegacyZeroDec(), fmt.Errorf("fallback feed read for %s failed: %w", token.Symbol, err)
		}
		if err := validateReading(secondary, token.Symbol); err != nil {
			return sdkmath.LegacyZeroDec(), err
		}

		deviation := primary.Price.Sub(secondary.Price).Abs().Quo(primary.Price)
		if deviation.GT(cfg.maxDeviation) {
			oracleLogger := logger.GetForComponent("price_oracle")
			oracleLogger.Warn().
				Str("token", token.Symbol).
				Str("primary", primary.Price.String()).
				Str("fallback", secondary.Price.String()).
				Str("deviation", deviation.String()).
				Msg("Price deviation guard tripped")
			return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %s deviates by %s (max %s)",
				ErrDeviationExceeded, token.Symbol, deviation, cfg.maxDeviation)
		}
	}

	return primary.Price, nil
}

func (o *Oracle) checkSequencer() error {
	if o.uptime == nil {
		return nil
	}
	up, since, err := o.uptime.Status()
	if err != nil {
		return fmt.Errorf("sequencer uptime read failed: %w", err)
	}
	if !up {
		return ErrSequencerDown
	}
	if o.now().Sub(since) < o.gracePeriod {
		return ErrGracePeriodNotOver
	}
	return nil
}

func validateReading(r Reading, symbol string) error {
	if r.Price.IsNil() || !r.Price.IsPositive() {
		return fmt.Errorf("%w: %s price must be positive", ErrInvalidReading, symbol)
	}
	if r.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: %s reading has no timestamp", ErrInvalidReading, symbol)
	}
	return nil
}

// StaticFeed is a settable in-memory feed. Used by the venue simulator and
// tests.
type StaticFeed struct {
	reading Reading
	err     error
}

// NewStaticFeed returns a feed preloaded with one reading.
func NewStaticFeed(price sdkmath.LegacyDec, updatedAt time.Time) *StaticFeed {
	return &StaticFeed{reading: Reading{Price: price, UpdatedAt: updatedAt}}
}

// Set replaces the reading.
func (f *StaticFeed) Set(price sdkmath.LegacyDec, updatedAt time.Time) {
	f.reading = Reading{Price: price, UpdatedAt: updatedAt}
	f.err = nil
}

// Fail makes every subsequent read return err.
func (f *StaticFeed) Fail(err error) {
	f.err = err
}

// Latest implements PriceFeed.
func (f *StaticFeed) Latest() (Reading, error) {
	if f.err != nil {
		return Reading{}, f.err
	}
	return f.reading, nil
}
