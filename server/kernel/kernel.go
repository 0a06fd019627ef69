// Package kernel implements the Glicko-2 rating update as a pure,
// stateless function, following the shape of the teacher's
// server/glicko2.go (UpdateBatch/Age) but with the true Illinois-method
// volatility solver spec.md §4.1 step 4 calls for.
package kernel

import (
	"errors"
	"fmt"
	"math"

	"tourneyrating/server/domain"
	"tourneyrating/server/telemetry/metrics"
)

const scale = 173.7178

// maxIterations caps the Illinois-method root finder (spec.md §4.1 step 4).
const maxIterations = 100

// Update computes the next RatingTuple for one player given their prior
// state and the opponent samples gathered for a single period.
//
// Update never fails for a valid prior and valid samples: a score outside
// {0, 0.5, 1} or a non-finite prior yields (domain.RatingTuple{},
// domain.ErrInvalidInput) so the caller can skip the player for this
// period without corrupting the store (spec.md §7). Non-convergence of
// the volatility solver is not an input error: Update falls back to the
// prior volatility and returns the updated tuple alongside
// domain.ErrNoConvergence so the caller can log it (spec.md §4.1 step 4,
// §7 NoConvergence).
func Update(prior domain.RatingTuple, samples []domain.OpponentSample, params domain.Params) (domain.RatingTuple, error) {
	if err := validate(prior, samples); err != nil {
		return domain.RatingTuple{}, err
	}

	mu, phi := toMuPhi(prior.Rating, prior.RD)

	if len(samples) == 0 {
		return age(mu, phi, prior.Volatility, params), nil
	}

	v, delta := variance(mu, samples)

	newVol, convErr := solveVolatility(prior.Volatility, phi, v, delta, params)
	if convErr != nil {
		newVol = prior.Volatility
		if errors.Is(convErr, domain.ErrNoConvergence) {
			metrics.KernelNonConvergence.Inc()
		}
	}

	phiStar := math.Sqrt(phi*phi + newVol*newVol)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)

	sum := 0.0
	for _, s := range samples {
		muj, phij := toMuPhi(s.OpponentRating, s.OpponentRD)
		gj := g(phij)
		ej := e(mu, muj, phij)
		sum += gj * (s.Score - ej)
	}
	muPrime := mu + phiPrime*phiPrime*sum

	r, rd := fromMuPhi(muPrime, phiPrime)
	result := params.Clamp(domain.RatingTuple{Rating: r, RD: rd, Volatility: newVol})
	return result, convErr
}

func validate(prior domain.RatingTuple, samples []domain.OpponentSample) error {
	if !finite(prior.Rating) || !finite(prior.RD) || !finite(prior.Volatility) {
		return fmt.Errorf("prior state %+v: %w", prior, domain.ErrInvalidInput)
	}
	for _, s := range samples {
		if s.Score != 0 && s.Score != 0.5 && s.Score != 1 {
			return fmt.Errorf("score %v for opponent %d: %w", s.Score, s.OpponentID, domain.ErrInvalidInput)
		}
		if !finite(s.OpponentRating) || !finite(s.OpponentRD) {
			return fmt.Errorf("opponent %d state not finite: %w", s.OpponentID, domain.ErrInvalidInput)
		}
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// age applies the "no games this period" step: RD inflates due to
// volatility, rating and volatility are unchanged (spec.md §4.1 edge
// case; teacher's Glicko2.Age).
func age(mu, phi, sigma float64, params domain.Params) domain.RatingTuple {
	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	r, rd := fromMuPhi(mu, phiStar)
	return params.Clamp(domain.RatingTuple{Rating: r, RD: rd, Volatility: sigma})
}

func toMuPhi(r, rd float64) (mu, phi float64) { return (r - 1500.0) / scale, rd / scale }
func fromMuPhi(mu, phi float64) (r, rd float64) {
	return mu*scale + 1500.0, phi * scale
}

func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi))
}

func e(mu, muj, phij float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phij)*(mu-muj)))
}

// variance computes v (the estimated variance of the player's rating
// based only on game outcomes) and delta (the estimated improvement in
// rating), per spec.md §4.1 steps 2-3.
func variance(mu float64, samples []domain.OpponentSample) (v, delta float64) {
	var sumG2E, sumGSE float64
	for _, s := range samples {
		muj, phij := toMuPhi(s.OpponentRating, s.OpponentRD)
		gj := g(phij)
		ej := e(mu, muj, phij)
		sumG2E += gj * gj * ej * (1.0 - ej)
		sumGSE += gj * (s.Score - ej)
	}
	v = 1.0 / sumG2E
	delta = v * sumGSE
	return v, delta
}

// solveVolatility finds sigma' via the Illinois method (a regula-falsi
// variant with guaranteed bracket-side alternation), grounded on the
// root finder in the pack's jlouis-glocko2 reference (see DESIGN.md)
// rather than the teacher's plain secant loop, because spec.md §4.1
// step 4 specifically names "the Illinois-method iterative solver."
func solveVolatility(sigma, phi, v, delta float64, params domain.Params) (float64, error) {
	tau := params.Tau
	eps := params.Epsilon
	if eps <= 0 {
		eps = 1e-6
	}

	a := math.Log(sigma * sigma)
	phi2 := phi * phi

	f := func(x float64) float64 {
		ex := math.Exp(x)
		d2 := delta * delta
		denom := phi2 + v + ex
		return (ex*(d2-phi2-v-ex))/(2*denom*denom) - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta*delta > phi2+v {
		B = math.Log(delta*delta - phi2 - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 && k < 1e6 {
			k++
		}
		B = a - k*tau
	}

	fA := f(A)
	fB := f(B)

	for i := 0; i < maxIterations && math.Abs(B-A) > eps; i++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			return 0, fmt.Errorf("volatility solve diverged: %w", domain.ErrNoConvergence)
		}
		if fC*fB < 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC

		if math.Abs(B-A) <= eps {
			return math.Exp(B / 2.0), nil
		}
	}

	if math.Abs(B-A) <= eps {
		return math.Exp(B / 2.0), nil
	}
	return 0, fmt.Errorf("exceeded %d iterations: %w", maxIterations, domain.ErrNoConvergence)
}
