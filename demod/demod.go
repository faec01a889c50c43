package demod

import (
	"math"

	"github.com/jhunley/ka9q-radio/channel"
	"github.com/jhunley/ka9q-radio/engine"
)

// Block is the demodulator's output for one forward block: Lo samples
// converted to PCM (mono float32 or interleaved stereo float32 pairs),
// with the mute decision and the block index carried for the emitter
// (spec.md §4.5 Pass D/E, §2 "Channel emitter shim").
type Block struct {
	Index   uint64
	Samples []float32 // len = Lo (mono) or 2*Lo (stereo, interleaved)
	Muted   bool
}

// Demodulator runs the per-channel inner loop (spec.md §4.5): PLL,
// post-detection shift, AGC, output conversion, and the mute decision.
// It owns all of its own state exclusively; it shares nothing with any
// other channel (spec.md §3 "Ownership").
type Demodulator struct {
	ch *channel.Channel

	pll  *pll
	lock *lockDetector
	agc  *agc

	shiftPhase float64 // post-detection oscillator phase, preserved across blocks
	rotations  int
	cphase     float64
	wasOn      bool
}

// New builds a demodulator bound to ch. The PLL loop filter and lock
// detector are derived from ch.PLL; the AGC from ch.AGC, seeded with
// ch.Output.Gain.
func New(ch *channel.Channel, blockTimeSec float64) *Demodulator {
	return &Demodulator{
		ch:   ch,
		pll:  newPLL(ch.Output.Fo, ch.PLL.LoopBW, ch.PLL.Damping),
		lock: newLockDetector(ch.PLL.LockTimeSec, ch.Output.Fo),
		agc:  newAGC(ch.AGC.Threshold, ch.AGC.RecoveryRate, ch.AGC.HangTimeSec, blockTimeSec, ch.Output.Gain),
	}
}

// Process runs one forward block of baseband samples through the
// demodulator passes in order (spec.md §4.5) and publishes the
// resulting channel status.
func (d *Demodulator) Process(in engine.LegBlock) Block {
	samples := in.Samples
	lo := len(samples)
	fo := d.ch.Output.Fo

	snr, bbPower := d.passA(samples)
	d.passB(samples, fo)
	gainChangePS := d.passC(bbPower, in.N0, lo)
	out, outputPower := d.passD(samples, gainChangePS)
	muted := d.passE(outputPower)

	d.ch.Status.Publish(snr, d.pll.freqHz(), in.N0, bbPower, d.agc.gain, d.lock.locked, d.rotations, muted)

	return Block{Index: in.Index, Samples: out, Muted: muted}
}

// passA runs the carrier-recovery PLL (if enabled) and returns the
// block's SNR and baseband power estimate (spec.md §4.5 Pass A).
func (d *Demodulator) passA(samples []complex64) (snr, bbPower float64) {
	for _, s := range samples {
		bbPower += real(s)*real(s) + imag(s)*imag(s)
	}
	if len(samples) > 0 {
		bbPower /= float64(len(samples))
	}

	if !d.ch.Flags.PLL {
		d.wasOn = false
		return 0, bbPower
	}

	if !d.wasOn {
		d.pll.reset()
		d.rotations = 0
		d.cphase = 0
	}
	d.wasOn = true

	var sigPower, noisePower float64
	for i, s := range samples {
		rotated := complex128(s) * cmplxConj(d.pll.phasor())

		var phase float64
		if d.ch.Flags.Square {
			sq := rotated * rotated
			phase = math.Atan2(imag(sq), real(sq))
		} else {
			phase = math.Atan2(imag(rotated), real(rotated))
		}
		d.pll.advance(phase)

		sigPower += real(rotated) * real(rotated)
		noisePower += imag(rotated) * imag(rotated)

		delta := phase - d.cphase
		switch {
		case delta > math.Pi:
			d.rotations--
		case delta < -math.Pi:
			d.rotations++
		}
		d.cphase = phase
		_ = i
	}

	if len(samples) > 0 {
		sigPower /= float64(len(samples))
		noisePower /= float64(len(samples))
	}

	if noisePower == 0 {
		snr = math.NaN()
	} else {
		snr = sigPower/noisePower - 1
		if snr < 0 {
			snr = 0
		}
	}

	lo := len(samples)
	d.lock.update(snr, d.ch.PLL.SquelchOpen, d.ch.PLL.SquelchClose, lo)

	return snr, bbPower
}

// passB applies the post-detection frequency shift in place, with
// oscillator phase preserved across blocks (spec.md §4.5 Pass B).
func (d *Demodulator) passB(samples []complex64, fo float64) {
	if d.ch.Tuning.Shift == 0 {
		return
	}
	step := 2 * math.Pi * d.ch.Tuning.Shift / fo
	for i, s := range samples {
		osc := complex(math.Cos(d.shiftPhase), math.Sin(d.shiftPhase))
		samples[i] = complex64(complex128(s) * osc)
		d.shiftPhase += step
		d.shiftPhase = wrapPhase(d.shiftPhase)
	}
}

// passC runs the AGC (if enabled) and returns the per-sample gain
// change ratio for this block (spec.md §4.5 Pass C).
func (d *Demodulator) passC(bbPower, n0 float64, lo int) float64 {
	if !d.ch.Flags.AGC {
		return 1
	}
	bw := math.Abs(d.ch.Filter.MaxIF - d.ch.Filter.MinIF)
	ampl := math.Sqrt(bbPower)
	return d.agc.planBlock(bw, n0, ampl, d.ch.Output.Headroom, lo)
}

// passD converts each complex baseband sample to PCM according to the
// channel count and env flag, applying the AGC's per-sample geometric
// gain ramp (spec.md §4.5 Pass D).
func (d *Demodulator) passD(samples []complex64, gainChangePS float64) ([]float32, float64) {
	stereo := d.ch.Output.Channels == 2
	env := d.ch.Flags.Env

	var out []float32
	if stereo {
		out = make([]float32, 2*len(samples))
	} else {
		out = make([]float32, len(samples))
	}

	var outputPower float64
	for i, s := range samples {
		g := float32(d.agc.applySample(gainChangePS))
		re := real(s) * g
		im := imag(s) * g

		switch {
		case !stereo && !env:
			out[i] = re
			outputPower += float64(re * re)
		case !stereo && env:
			v := float32(math.Hypot(float64(re), float64(im)))
			out[i] = v
			outputPower += float64(v * v)
		case stereo && !env:
			out[2*i] = re
			out[2*i+1] = im
			outputPower += float64(re*re + im*im)
		default: // stereo && env
			mag := float32(math.Hypot(float64(re), float64(im)))
			out[2*i] = re
			out[2*i+1] = 2 * mag
			outputPower += float64(re*re + 4*mag*mag)
		}
	}
	if len(samples) > 0 {
		outputPower /= float64(len(samples))
	}
	if !stereo {
		outputPower *= 2 // peak-to-RMS accounting for mono, per spec.md §4.5 Pass D
	}
	return out, outputPower
}

// passE decides whether this block should be muted (spec.md §4.5
// Pass E).
func (d *Demodulator) passE(outputPower float64) bool {
	if outputPower == 0 {
		return true
	}
	if d.ch.Flags.PLL && !d.lock.locked {
		return true
	}
	if d.ch.Tuning.Freq == 0 {
		return true
	}
	return false
}

func cmplxConj(c complex128) complex128 {
	return complex(real(c), -imag(c))
}
