package demod

import (
	"math"
	"testing"

	"github.com/jhunley/ka9q-radio/channel"
	"github.com/jhunley/ka9q-radio/engine"
)

func newTestChannel() *channel.Channel {
	return channel.New(
		"test", "usb",
		channel.Tuning{Freq: 5000},
		channel.Filter{MinIF: -1500, MaxIF: 1500, KaiserBeta: 6.0},
		channel.Output{Channels: 1, Fo: 12000, Headroom: 0.9, Gain: 1.0},
		channel.AGC{Threshold: 0.01, RecoveryRate: 0.1, HangTimeSec: 0.1},
		channel.PLL{LoopBW: 50, Damping: 0.707, LockTimeSec: 0.05, SquelchOpen: 2, SquelchClose: 1},
		channel.Flags{PLL: true, AGC: true},
	)
}

func toneBlock(n int, freq, fs, phase0 float64) []complex64 {
	out := make([]complex64, n)
	phase := phase0
	step := 2 * math.Pi * freq / fs
	for i := range out {
		out[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
		phase += step
	}
	return out
}

func TestProcessMutesUntilPLLLocks(t *testing.T) {
	ch := newTestChannel()
	d := New(ch, 0.01)

	fo := ch.Output.Fo
	samples := toneBlock(int(fo*0.01), 50, fo, 0)

	blk := d.Process(engine.LegBlock{Index: 0, Samples: samples, N0: 1e-9})
	if !blk.Muted {
		t.Fatalf("expected the very first block to be muted before the PLL locks")
	}
}

func TestProcessEventuallyUnmutesOnStrongCarrier(t *testing.T) {
	ch := newTestChannel()
	d := New(ch, 0.01)

	fo := ch.Output.Fo
	n := int(fo * 0.01)

	var lastMuted bool
	var phase float64
	for b := 0; b < 200; b++ {
		samples := toneBlock(n, 50, fo, phase)
		phase += 2 * math.Pi * 50 / fo * float64(n)
		blk := d.Process(engine.LegBlock{Index: uint64(b), Samples: samples, N0: 1e-9})
		lastMuted = blk.Muted
		if !lastMuted {
			break
		}
	}
	if lastMuted {
		t.Errorf("expected the channel to unmute once the PLL locks onto a strong steady carrier")
	}
	if !ch.Status.Snapshot().PLLLock {
		t.Errorf("expected published status to report PLL lock")
	}
}

func TestProcessSkipsPLLWhenDisabled(t *testing.T) {
	ch := newTestChannel()
	ch.Flags.PLL = false
	ch.Tuning.Freq = 5000
	d := New(ch, 0.01)

	samples := toneBlock(120, 1000, 12000, 0)
	blk := d.Process(engine.LegBlock{Index: 0, Samples: samples, N0: 1e-9})

	if blk.Muted {
		t.Errorf("with PLL disabled, mute should only depend on output power and tuned frequency")
	}
	snap := ch.Status.Snapshot()
	if snap.SNR != 0 {
		t.Errorf("SNR should be zero when the PLL pass does not run, got %v", snap.SNR)
	}
}

func TestProcessMutesWhenUntuned(t *testing.T) {
	ch := newTestChannel()
	ch.Flags.PLL = false
	ch.Tuning.Freq = 0
	d := New(ch, 0.01)

	samples := toneBlock(120, 1000, 12000, 0)
	blk := d.Process(engine.LegBlock{Index: 0, Samples: samples, N0: 1e-9})

	if !blk.Muted {
		t.Errorf("a channel tuned to 0 Hz should be muted regardless of signal power")
	}
}

func TestPassBAppliesShiftAndPreservesPhaseAcrossBlocks(t *testing.T) {
	ch := newTestChannel()
	ch.Tuning.Shift = 1000
	d := New(ch, 0.01)

	before := toneBlock(48, 0, 12000, 0)
	samples := append([]complex64(nil), before...)
	d.passB(samples, 12000)

	// Sample 0 meets the shift oscillator at phase 0 and passes through
	// unchanged; every later sample is rotated.
	for i := 1; i < len(samples); i++ {
		if samples[i] == before[i] {
			t.Fatalf("sample %d unchanged after a nonzero shift", i)
		}
	}
	if d.shiftPhase == 0 {
		t.Errorf("expected shiftPhase to have advanced")
	}
}

func TestPassBNoopWithoutShift(t *testing.T) {
	ch := newTestChannel()
	d := New(ch, 0.01)

	before := toneBlock(32, 0, 12000, 0)
	samples := append([]complex64(nil), before...)
	d.passB(samples, 12000)

	for i := range samples {
		if samples[i] != before[i] {
			t.Errorf("sample %d changed despite zero shift", i)
		}
	}
}

func TestPassDMonoEnvelopeNonNegative(t *testing.T) {
	ch := newTestChannel()
	ch.Output.Channels = 1
	ch.Flags.Env = true
	d := New(ch, 0.01)

	samples := []complex64{complex(1, 1), complex(-1, -1), complex(0.5, -0.5)}
	out, power := d.passD(samples, 1)

	if len(out) != len(samples) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(samples))
	}
	for i, v := range out {
		if v < 0 {
			t.Errorf("envelope sample %d = %v, want >= 0", i, v)
		}
	}
	if power <= 0 {
		t.Errorf("expected positive output power, got %v", power)
	}
}

func TestPassDStereoIQInterleaves(t *testing.T) {
	ch := newTestChannel()
	ch.Output.Channels = 2
	d := New(ch, 0.01)

	samples := []complex64{complex(1, 2), complex(3, 4)}
	out, _ := d.passD(samples, 1)

	if len(out) != 2*len(samples) {
		t.Fatalf("len(out) = %d, want %d", len(out), 2*len(samples))
	}
	if out[0] != 1 || out[1] != 2 || out[2] != 3 || out[3] != 4 {
		t.Errorf("expected interleaved I/Q pairs, got %v", out)
	}
}
