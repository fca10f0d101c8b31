// Package pricer quotes spot, strike selection and Black-Scholes
// premiums for the vault. All math runs on the 64.64 fixed-point
// package so quotes are deterministic.
//
// The spot feed and the implied-volatility surface are injected: the
// vault never reads the wall clock or a network oracle directly.
package pricer

import (
	"errors"

	"github.com/uhyunpark/optionvault/pkg/fixed"
	"github.com/uhyunpark/optionvault/pkg/util"
)

var (
	ErrBadDelta    = errors.New("pricer: delta must be in (0, 1)")
	ErrBadMaturity = errors.New("pricer: expiry is not in the future")
)

// Feed supplies the current spot price of the underlying in base units.
type Feed interface {
	LatestAnswer64x64() fixed.Q
}

// StaticFeed is a settable Feed for tests and simulations.
type StaticFeed struct {
	Spot fixed.Q
}

func (f *StaticFeed) LatestAnswer64x64() fixed.Q { return f.Spot }

const secondsPerYear = 365 * 86400

// Pricer derives strikes and premiums from a spot feed and a flat
// annualized implied volatility.
type Pricer struct {
	feed  Feed
	vol   fixed.Q
	clock util.Clock
}

func New(feed Feed, annualVol fixed.Q, clock util.Clock) *Pricer {
	return &Pricer{feed: feed, vol: annualVol, clock: clock}
}

// LatestAnswer64x64 returns the current spot.
func (p *Pricer) LatestAnswer64x64() fixed.Q { return p.feed.LatestAnswer64x64() }

// GetTimeToMaturity64x64 returns the annualized time to expiry.
func (p *Pricer) GetTimeToMaturity64x64(expiry int64) fixed.Q {
	now := p.clock.Now().Unix()
	if expiry <= now {
		return fixed.Zero
	}
	return fixed.FromInt(expiry - now).Div(fixed.FromInt(secondsPerYear))
}

// GetDeltaStrikePrice64x64 returns the strike at which an option has
// the given Black-Scholes delta under the prevailing volatility.
//
// From delta = N(d1): K = S * exp(sigma^2 tau / 2 -+ sigma sqrt(tau) N^-1(delta)),
// minus for calls, plus for puts (put delta taken as a magnitude).
func (p *Pricer) GetDeltaStrikePrice64x64(isCall bool, expiry int64, delta fixed.Q) (fixed.Q, error) {
	if delta.Sign() <= 0 || delta.Cmp(fixed.One) >= 0 {
		return fixed.Zero, ErrBadDelta
	}
	tau := p.GetTimeToMaturity64x64(expiry)
	if tau.IsZero() {
		return fixed.Zero, ErrBadMaturity
	}
	spot := p.feed.LatestAnswer64x64()
	sigmaRootTau := p.vol.Mul(tau.Sqrt())
	drift := p.vol.Mul(p.vol).Mul(tau).Div(fixed.FromInt(2))
	z := delta.InvCDF()
	var exponent fixed.Q
	if isCall {
		exponent = drift.Sub(sigmaRootTau.Mul(z))
	} else {
		exponent = drift.Add(sigmaRootTau.Mul(z))
	}
	return spot.Mul(exponent.Exp()), nil
}

// SnapToGrid64x64 snaps a strike to the two-significant-digit grid,
// rounding away from the money: up for calls, down for puts.
func (p *Pricer) SnapToGrid64x64(isCall bool, x fixed.Q) (fixed.Q, error) {
	if isCall {
		return x.CeilTwoSig()
	}
	return x.FloorTwoSig()
}

// GetBlackScholesPrice64x64 prices a European option at zero rate:
// call = S N(d1) - K N(d2), put = K N(-d2) - S N(-d1).
func (p *Pricer) GetBlackScholesPrice64x64(spot, strike, tau fixed.Q, isCall bool) fixed.Q {
	if tau.Sign() <= 0 || spot.Sign() <= 0 || strike.Sign() <= 0 {
		return fixed.Zero
	}
	sigmaRootTau := p.vol.Mul(tau.Sqrt())
	d1 := spot.Div(strike).Ln().Add(p.vol.Mul(p.vol).Mul(tau).Div(fixed.FromInt(2))).Div(sigmaRootTau)
	d2 := d1.Sub(sigmaRootTau)
	if isCall {
		return spot.Mul(d1.CDF()).Sub(strike.Mul(d2.CDF()))
	}
	return strike.Mul(d2.Neg().CDF()).Sub(spot.Mul(d1.Neg().CDF()))
}
