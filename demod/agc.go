package demod

import "math"

// agcState names the four-state AGC machine (spec.md §4.6 "AGC state").
type agcState int

const (
	agcStrong agcState = iota
	agcNoiseLimited
	agcHang
	agcRecover
)

// agc is the hang-and-recover automatic gain control (spec.md §4.5
// Pass C). Gain is interpolated geometrically across each block so the
// applied gain never steps discontinuously sample-to-sample.
type agc struct {
	threshold    float64
	recoveryRate float64 // voltage-per-sample
	hangBlocks   int      // hang_time, in blocks (spec.md §3: "hang-time-in-blocks")
	hangcount    int

	gain  float64
	state agcState
}

func newAGC(threshold, recoveryRate, hangTimeSec, blockTimeSec, initialGain float64) *agc {
	hangBlocks := int(hangTimeSec/blockTimeSec + 0.5)
	if hangBlocks < 0 {
		hangBlocks = 0
	}
	return &agc{
		threshold:    threshold,
		recoveryRate: recoveryRate,
		hangBlocks:   hangBlocks,
		gain:         initialGain,
	}
}

// planBlock computes the target gain at the end of this block and the
// per-sample geometric ratio needed to reach it, given this block's
// noise bandwidth, n0, and signal amplitude (spec.md §4.5 Pass C).
//
//	bw:    |max_IF - min_IF|
//	n0:    noise spectral density estimate for the block
//	ampl:  sqrt(bb_power), the block's signal amplitude estimate
//	headroom: target maximum output amplitude
//	lo:    samples in the block
func (a *agc) planBlock(bw, n0, ampl, headroom float64, lo int) (gainChangePerSample float64) {
	bn := math.Sqrt(bw * n0)

	switch {
	case ampl*a.gain > headroom:
		a.state = agcStrong
		gNew := headroom / ampl
		a.hangcount = a.hangBlocks
		gainChangePerSample = perSampleRatio(gNew, a.gain, lo)
	case bn*a.gain > a.threshold*headroom:
		a.state = agcNoiseLimited
		gNew := a.threshold * headroom / bn
		gainChangePerSample = perSampleRatio(gNew, a.gain, lo)
	case a.hangcount > 0:
		a.state = agcHang
		a.hangcount--
		gainChangePerSample = 1
	default:
		a.state = agcRecover
		gainChangePerSample = a.recoveryRate
	}
	return gainChangePerSample
}

// applySample multiplies the current gain by ratio, returning the gain
// to use for the sample just produced (pre-multiply), then advances.
func (a *agc) applySample(ratio float64) float64 {
	g := a.gain
	a.gain *= ratio
	return g
}

// perSampleRatio returns (target/current)^(1/n), the per-sample
// geometric step that reaches target after n samples.
func perSampleRatio(target, current float64, n int) float64 {
	if current <= 0 || n <= 0 {
		return 1
	}
	return math.Pow(target/current, 1.0/float64(n))
}
