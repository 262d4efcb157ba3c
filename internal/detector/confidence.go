package detector

// ConfidenceParams lets tests override the normalisation denominators used
// to turn raw spread/funding magnitudes into the [0,100] weighted-sum score
// of spec §4.3 step 6. Zero values fall back to the defaults below.
type ConfidenceParams struct {
	SpreadNormBps   float64 // spread_bps that saturates the spread term; default 40
	FundingNormFrac float64 // funding delta (fraction) that saturates the funding term; default 0.0003
}

func (p ConfidenceParams) withDefaults() ConfidenceParams {
	if p.SpreadNormBps == 0 {
		p.SpreadNormBps = 40
	}
	if p.FundingNormFrac == 0 {
		p.FundingNormFrac = 0.0003
	}
	return p
}

// Confidence computes the weighted-sum confidence score in [0,100]:
// spread magnitude (weight 0.5), funding differential magnitude (0.3), and
// a fixed base (0.2), per spec §4.3 step 6.
func Confidence(spreadBps float64, fundingDelta float64, p ConfidenceParams) float64 {
	p = p.withDefaults()

	spreadScore := clamp01(spreadBps / p.SpreadNormBps)
	if fundingDelta < 0 {
		fundingDelta = -fundingDelta
	}
	fundingScore := clamp01(fundingDelta / p.FundingNormFrac)

	return 100 * (0.5*spreadScore + 0.3*fundingScore + 0.2*1.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SlippageBps computes simulated slippage per spec §4.3 step 7:
// min(5, 2 + 3·position_size/depth) bps.
func SlippageBps(positionSize, depth float64) float64 {
	if depth <= 0 {
		return 5
	}
	v := 2 + 3*positionSize/depth
	if v > 5 {
		return 5
	}
	return v
}
