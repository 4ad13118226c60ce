package risk

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Surrogate evaluates a smoothed version of the measure at w. Kinks such as max(x, 0),
// |x| and running maxima are replaced by softplus, sqrt(x²+τ²)-τ and log-sum-exp with
// smoothing width tau (in return units), so gradient methods can minimize it. The
// surrogate converges to Risk as tau goes to zero. Measures the mean-risk programs do not
// accept are returned exact.
func (e *Evaluator) Surrogate(w []float64, tau float64) float64 {
	s := e.spec
	if s.Measure == Variance {
		x := mat.NewVecDense(e.n, w)
		return mat.Inner(x, e.cov, x)
	}
	r := e.Portfolio(w)
	if tau <= 0 || !s.Measure.Optimizable() {
		v, err := e.seriesRisk(r)
		if err != nil {
			return math.NaN()
		}
		return v
	}

	switch s.Measure {
	case MeanAbsoluteDeviation:
		m := stat.Mean(r, nil)
		sum := 0.0
		for _, v := range r {
			sum += smoothAbs(v-m, tau)
		}
		return sum / float64(len(r))
	case SemiDeviation:
		m := stat.Mean(r, nil)
		return smoothRootMean(r, func(v float64) float64 { return softplus(m-v, tau) }, len(r)-1, tau)
	case FirstLowerPartialMoment:
		sum := 0.0
		for _, v := range r {
			sum += softplus(s.Threshold-v, tau)
		}
		return sum / float64(len(r))
	case SecondLowerPartialMoment:
		return smoothRootMean(r, func(v float64) float64 { return softplus(s.Threshold-v, tau) }, len(r)-1, tau)
	case ConditionalValueAtRisk:
		return smoothCVaR(negate(r), s.Alpha, tau)
	case WorstRealization:
		return smoothMax(negate(r), tau)
	case Range:
		return smoothMax(negate(r), tau) + smoothMax(r, tau)
	case CVaRRange:
		return smoothCVaR(negate(r), s.Alpha, tau) + smoothCVaR(r, s.Beta, tau)
	case MaxDrawdown, AverageDrawdown, ConditionalDrawdownAtRisk, EntropicDrawdownAtRisk, UlcerIndex,
		MaxDrawdownRel, AverageDrawdownRel, ConditionalDrawdownAtRiskRel, EntropicDrawdownAtRiskRel, UlcerIndexRel:
		var dd []float64
		if s.Measure.Compounded() {
			dd = smoothCompoundedDrawdowns(r, tau)
		} else {
			dd = smoothDrawdowns(r, tau)
		}
		switch s.Measure {
		case MaxDrawdown, MaxDrawdownRel:
			return smoothMax(dd, tau)
		case AverageDrawdown, AverageDrawdownRel:
			return averageOf(dd)
		case ConditionalDrawdownAtRisk, ConditionalDrawdownAtRiskRel:
			return smoothCVaR(dd, s.Alpha, tau)
		case EntropicDrawdownAtRisk, EntropicDrawdownAtRiskRel:
			v, err := entropicValueAtRisk(dd, s.Alpha)
			if err != nil {
				return math.NaN()
			}
			return v
		default:
			return smoothRootMean(dd, func(v float64) float64 { return v }, len(dd), tau)
		}
	}

	// GMD, TG, TGRG and EVaR are evaluated exactly.
	v, err := e.seriesRisk(r)
	if err != nil {
		return math.NaN()
	}
	return v
}

// softplus is a smooth upper approximation of max(x, 0).
func softplus(x, tau float64) float64 {
	z := x / tau
	if z > 30 {
		return x
	}
	return tau * math.Log1p(math.Exp(z))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

func smoothAbs(x, tau float64) float64 {
	return math.Sqrt(x*x+tau*tau) - tau
}

// smoothMax is the log-sum-exp upper approximation of max(x).
func smoothMax(x []float64, tau float64) float64 {
	return tau * logSumExp(x, 1/tau)
}

func smoothPair(a, b, tau float64) float64 {
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	return hi + tau*math.Log1p(math.Exp((lo-hi)/tau))
}

// smoothRootMean returns sqrt(Σ f(x)²/den + τ²) - τ.
func smoothRootMean(x []float64, f func(float64) float64, den int, tau float64) float64 {
	sum := 0.0
	for _, v := range x {
		d := f(v)
		sum += d * d
	}
	return math.Sqrt(sum/float64(den)+tau*tau) - tau
}

// smoothCVaR minimizes ζ + Σ softplus(L-ζ)/(αT) over ζ. The first-order condition is
// monotone in ζ, so the minimizer is found by bisection.
func smoothCVaR(losses []float64, alpha, tau float64) float64 {
	at := alpha * float64(len(losses))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range losses {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	lo -= 40 * tau
	hi += 40 * tau
	derivative := func(zeta float64) float64 {
		sum := 0.0
		for _, v := range losses {
			sum += sigmoid((v - zeta) / tau)
		}
		return 1 - sum/at
	}
	for i := 0; i < 100 && hi-lo > 1e-12; i++ {
		mid := (lo + hi) / 2
		if derivative(mid) < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	zeta := (lo + hi) / 2
	sum := 0.0
	for _, v := range losses {
		sum += softplus(v-zeta, tau)
	}
	return zeta + sum/at
}

// smoothDrawdowns follows the uncompounded drawdown path with a log-sum-exp running peak.
func smoothDrawdowns(r []float64, tau float64) []float64 {
	dd := make([]float64, len(r))
	level, peak := 0.0, 0.0
	for t, v := range r {
		level += v
		peak = smoothPair(peak, level, tau)
		dd[t] = peak - level
	}
	return dd
}

// smoothCompoundedDrawdowns follows the compounded path with the running peak smoothed in
// log wealth. Period growth is floored at 1e-12 so the log path stays finite.
func smoothCompoundedDrawdowns(r []float64, tau float64) []float64 {
	dd := make([]float64, len(r))
	logNav, logPeak := 0.0, 0.0
	for t, v := range r {
		logNav += math.Log(math.Max(1+v, 1e-12))
		logPeak = smoothPair(logPeak, logNav, tau)
		dd[t] = -math.Expm1(logNav - logPeak)
	}
	return dd
}
