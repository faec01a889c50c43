package engine

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/window"

	"github.com/jhunley/ka9q-radio/internal/rerror"
)

// designMask builds the No-point frequency-domain filter mask for an
// output leg: a complex (possibly asymmetric) bandpass impulse response
// of length Mo, Kaiser-windowed, zero-padded to No and forward
// transformed (spec.md §4.3).
//
// The prototype design — a lowpass sinc shifted to the band center via
// a complex exponential rather than a real cosine — is what makes an
// asymmetric passband (e.g. USB's [200, 3000] Hz, no negative image)
// possible; it is adapted from the windowed-sinc lowpass design in the
// teacher's pkg/resampler/resampler.go, generalized from a real lowpass
// to a complex bandpass and re-windowed with
// github.com/cwbudde/algo-dsp's Kaiser window (dsp/window/window.go)
// instead of resampler.go's hand-rolled Blackman window.
//
// minIF/maxIF are in Hz, relative to the channel's tuning frequency.
// fo is the leg's output sample rate. beta is the Kaiser window
// parameter. mo is the impulse-response length, no the transform size
// (no >= mo, enforced by the caller).
func designMask(minIF, maxIF, fo, beta float64, mo, no int) ([]complex64, bool, error) {
	if minIF > maxIF {
		minIF, maxIF = maxIF, minIF
	}
	clampedMin, clampedMax, clamped := clampPassband(minIF, maxIF, fo)

	half := (clampedMax - clampedMin) / 2
	center := (clampedMin + clampedMax) / 2
	fc := half / fo // normalized half-bandwidth, cycles/sample

	win, err := window.Kaiser(mo, beta)
	if err != nil {
		return nil, clamped, fmt.Errorf("%w: kaiser window: %v", rerror.ErrConfig, err)
	}

	padded := make([]complex64, no)
	mid := float64(mo-1) / 2
	for n := 0; n < mo; n++ {
		m := float64(n) - mid
		lp := 2 * fc * sincNorm(2*fc*m)
		phase := 2 * math.Pi * center / fo * m
		re := lp * math.Cos(phase) * win[n]
		im := lp * math.Sin(phase) * win[n]
		padded[n] = complex(float32(re), float32(im))
	}

	plan, err := algofft.NewPlan32(no)
	if err != nil {
		return nil, clamped, fmt.Errorf("mask design: FFT plan: %w", err)
	}
	mask := make([]complex64, no)
	if err := plan.Forward(mask, padded); err != nil {
		return nil, clamped, fmt.Errorf("mask design: FFT forward: %w", err)
	}
	return mask, clamped, nil
}

func sincNorm(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1.0
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// clampPassband clamps [minIF, maxIF] into [-fo/2, fo/2], reporting
// whether clamping occurred (spec.md §4.3 PassbandOutOfRange).
func clampPassband(minIF, maxIF, fo float64) (float64, float64, bool) {
	limit := fo / 2
	clamped := false
	if minIF < -limit {
		minIF = -limit
		clamped = true
	}
	if maxIF > limit {
		maxIF = limit
		clamped = true
	}
	if minIF > maxIF {
		minIF, maxIF = maxIF, minIF
		clamped = true
	}
	return minIF, maxIF, clamped
}
