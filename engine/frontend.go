package engine

import (
	"fmt"

	"github.com/jhunley/ka9q-radio/internal/rerror"
)

// FrontEnd holds the configuration fixed at startup for the shared
// sample stream, and the quantities derived from it (spec.md §3).
//
// Once constructed, Fs, L, M, N, Ntf never change — only per-channel
// output legs are created and destroyed against a fixed FrontEnd.
type FrontEnd struct {
	Fs       float64 // sample rate, Hz
	Complex  bool    // true: complex I/Q input, false: real input
	BlockMs  float64 // block time T, ms
	Overlap  int     // overlap factor, >= 2

	L int // samples per block
	M int // impulse-response length the overlap-save scheme supports
	N int // ideal transform size, L+M-1

	// Ntf is the transform size actually used for the shared forward
	// FFT. algo-fft plans are constructed at power-of-two sizes
	// throughout the corpus; Ntf = nextPowerOf2(N) and the
	// Ntf-N extra bins are zero-guard padding carried in the history
	// buffer, never counted among the L new samples consumed per
	// block. See SPEC_FULL.md §5 item 1.
	Ntf int
}

// NewFrontEnd derives L, M, N, and Ntf from the sample rate, block
// time, and overlap factor, per spec.md §3.
func NewFrontEnd(fs float64, complexInput bool, blockMs float64, overlap int) (*FrontEnd, error) {
	if fs <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %g", rerror.ErrConfig, fs)
	}
	if blockMs <= 0 {
		return nil, fmt.Errorf("%w: block time must be positive, got %g", rerror.ErrConfig, blockMs)
	}
	if overlap < 2 {
		return nil, fmt.Errorf("%w: overlap must be >= 2, got %d", rerror.ErrConfig, overlap)
	}

	l := int(fs*blockMs/1000.0 + 0.5)
	if l < 1 {
		return nil, fmt.Errorf("%w: block time too small for sample rate, L=0", rerror.ErrConfig)
	}
	m := l/(overlap-1) + 1
	n := l + m - 1

	fe := &FrontEnd{
		Fs:      fs,
		Complex: complexInput,
		BlockMs: blockMs,
		Overlap: overlap,
		L:       l,
		M:       m,
		N:       n,
		Ntf:     nextPowerOf2(n),
	}
	return fe, nil
}

// BinCount returns the number of frequency bins a ForwardBlock carries:
// Ntf/2+1 for real input, Ntf for complex input (spec.md §3).
func (fe *FrontEnd) BinCount() int {
	if fe.Complex {
		return fe.Ntf
	}
	return fe.Ntf/2 + 1
}

// BinFreq converts an absolute frequency (Hz) to the nearest bin index
// in the shared forward transform's Ntf-point grid, wrapping modulo Ntf
// (negative frequencies wrap to the upper half, standard FFT layout).
func (fe *FrontEnd) BinFreq(f float64) int {
	k := int(f/fe.Fs*float64(fe.Ntf) + 0.5)
	k %= fe.Ntf
	if k < 0 {
		k += fe.Ntf
	}
	return k
}
