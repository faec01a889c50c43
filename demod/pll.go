// Package demod implements the linear demodulator inner loop
// (spec.md §4.5): carrier-recovery PLL, post-detection frequency shift,
// hang-and-recover AGC, and output conversion.
package demod

import "math"

// pll is a second-order Costas-like carrier-recovery loop (spec.md §4.5
// Pass A, glossary "PLL"). It tracks a phasor exp(j*phase) and steers
// its own frequency estimate from the phase error fed in each sample.
type pll struct {
	fo float64 // leg output sample rate, Hz

	alpha, beta float64 // loop filter gains, derived from loopBW/damping

	phase float64 // current VCO phase, radians
	freq  float64 // current VCO frequency estimate, radians/sample
}

// newPLL derives the proportional/integral loop filter gains from the
// loop bandwidth (Hz) and damping factor, using the standard
// second-order digital PLL design (the same closed-form used by
// Costas-loop and symbol-timing recovery loops generally): a natural
// frequency derived from the normalized bandwidth, then alpha/beta from
// the damping factor.
func newPLL(fo, loopBW, damping float64) *pll {
	if damping <= 0 {
		damping = 0.707
	}
	bnTs := loopBW / fo
	theta := bnTs / (damping + 1.0/(4.0*damping))
	denom := 1.0 + 2.0*damping*theta + theta*theta
	return &pll{
		fo:    fo,
		alpha: 4 * damping * theta / denom,
		beta:  4 * theta * theta / denom,
	}
}

// reset clears the oscillator integrator, called on the leading edge of
// enabling the PLL (spec.md §4.5 Pass A: "On the leading edge of
// enabling... clear the oscillator integrator").
func (p *pll) reset() {
	p.phase = 0
	p.freq = 0
}

// phasor returns the current VCO phasor exp(j*phase).
func (p *pll) phasor() complex128 {
	return complex(math.Cos(p.phase), math.Sin(p.phase))
}

// advance feeds one phase-error sample into the loop filter and steps
// the VCO by one sample.
func (p *pll) advance(phaseError float64) {
	p.freq += p.beta * phaseError
	p.phase += p.freq + p.alpha*phaseError
	p.phase = wrapPhase(p.phase)
}

// freqHz returns the current frequency estimate in Hz (spec.md §4.5:
// "Expose foffset = pll_freq()").
func (p *pll) freqHz() float64 {
	return p.freq * p.fo / (2 * math.Pi)
}

func wrapPhase(phase float64) float64 {
	for phase > math.Pi {
		phase -= 2 * math.Pi
	}
	for phase < -math.Pi {
		phase += 2 * math.Pi
	}
	return phase
}

// lockDetector implements the hysteretic lock state machine (spec.md
// §4.5 "Lock detector with hysteresis", §4.6 "PLL lock state").
type lockDetector struct {
	lockLimit int // lock_time * Fo, samples
	lockCount int
	locked    bool
}

func newLockDetector(lockTimeSec, fo float64) *lockDetector {
	return &lockDetector{lockLimit: int(lockTimeSec * fo)}
}

// update applies one block's worth of lock-count movement, per the SNR
// compared against the squelch thresholds.
func (ld *lockDetector) update(snr, squelchOpen, squelchClose float64, lo int) {
	switch {
	case snr < squelchClose:
		ld.lockCount -= lo
		if ld.lockCount <= -ld.lockLimit {
			ld.lockCount = -ld.lockLimit
			ld.locked = false
		}
	case snr > squelchOpen:
		ld.lockCount += lo
		if ld.lockCount >= ld.lockLimit {
			ld.lockCount = ld.lockLimit
			ld.locked = true
		}
	}
}
