// Package channel holds the per-receiver data model (spec.md §3): the
// mutable parameter groups a running channel carries, and the
// ChannelPrototype/factory pair used to spawn channels dynamically from
// a template section at runtime (spec.md §9 "Dynamic demod template").
package channel

import "sync"

// Tuning holds the channel's frequency parameters. All fields are
// mutable and take effect at the next block (spec.md §3).
type Tuning struct {
	Freq          float64 // f0, Hz, absolute
	Shift         float64 // f_shift, post-detection shift, Hz
	DopplerRate   float64
	DopplerOffset float64
}

// Filter holds the pre-detection filter shape. Invariant: MinIF <= MaxIF
// after normalization.
type Filter struct {
	MinIF      float64
	MaxIF      float64
	KaiserBeta float64
	ISB        bool
}

// Normalize swaps MinIF/MaxIF if out of order, restoring the invariant.
func (f *Filter) Normalize() {
	if f.MinIF > f.MaxIF {
		f.MinIF, f.MaxIF = f.MaxIF, f.MinIF
	}
}

// Output holds the channel's output shape and identity.
type Output struct {
	Channels int     // 1 (mono) or 2 (stereo)
	Fo       float64 // output sample rate, Hz; Fs/Fo must be integer
	Headroom float64 // linear, <= 1
	Gain     float64 // linear, >= 0
	SSRC     uint32
}

// AGC holds the automatic-gain-control parameters (spec.md §4.5 Pass C).
type AGC struct {
	Threshold    float64
	RecoveryRate float64 // voltage-per-sample
	HangTimeSec  float64
	Hangcount    int // runtime countdown, blocks remaining in HANG state
}

// PLL holds the carrier-recovery loop parameters (spec.md §4.5 Pass A).
type PLL struct {
	LoopBW       float64
	Damping      float64
	LockTimeSec  float64
	SquelchOpen  float64
	SquelchClose float64
}

// Flags selects which demodulator passes run (spec.md §3 "flags").
type Flags struct {
	PLL    bool
	Square bool
	Env    bool
	AGC    bool
}

// Status is the snapshot a demodulator publishes once per block and the
// status reporter reads, guarded by its own lock (spec.md §5:
// "demodulators briefly acquire this lock at the end of each block to
// publish updated snr, foffset, gain, pll_lock, rotations").
type Status struct {
	mu sync.Mutex

	WasOn     bool
	LockCount int
	PLLLock   bool
	Rotations int
	CPhase    float64

	SNR     float64
	FOffset float64
	N0      float64
	BBPower float64
	Gain    float64
	Muted   bool
}

// Snapshot returns a copy of the status under lock.
func (s *Status) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}

// Publish atomically updates the fields a demodulator refreshes once
// per block.
func (s *Status) Publish(snr, foffset, n0, bbPower, gain float64, pllLock bool, rotations int, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SNR = snr
	s.FOffset = foffset
	s.N0 = n0
	s.BBPower = bbPower
	s.Gain = gain
	s.PLLLock = pllLock
	s.Rotations = rotations
	s.Muted = muted
}

// Channel is the full per-receiver parameter set (spec.md §3). It is
// built once at creation and then mutated only through parameter
// updates applied at block boundaries; the demodulator and output leg
// each hold their own derived state and do not share it with any other
// channel (spec.md §3 "Ownership").
type Channel struct {
	Name string
	Mode string

	Tuning Tuning
	Filter Filter
	Output Output
	AGC    AGC
	PLL    PLL
	Flags  Flags

	Status *Status
}

// New builds a channel with the given name and parameter groups.
func New(name, mode string, tuning Tuning, filter Filter, output Output, agc AGC, pll PLL, flags Flags) *Channel {
	filter.Normalize()
	return &Channel{
		Name:   name,
		Mode:   mode,
		Tuning: tuning,
		Filter: filter,
		Output: output,
		AGC:    agc,
		PLL:    pll,
		Flags:  flags,
		Status: &Status{},
	}
}

// Prototype is an immutable configuration record for a template channel
// section (spec.md §9: "Represent as a first-class ChannelPrototype
// (immutable configuration record) plus a factory"). It never runs a
// demodulator itself; Instantiate clones it into a live Channel bound
// to a concrete frequency and SSRC.
type Prototype struct {
	Mode   string
	Filter Filter
	Output Output
	AGC    AGC
	PLL    PLL
	Flags  Flags
}

// Instantiate creates a live Channel from the prototype, bound to name,
// freq, and ssrc (spec.md §9, §6 "dynamically created at runtime").
func (p Prototype) Instantiate(name string, freq float64, ssrc uint32) *Channel {
	output := p.Output
	output.SSRC = ssrc
	return New(name, p.Mode, Tuning{Freq: freq}, p.Filter, output, p.AGC, p.PLL, p.Flags)
}
