package demod

import (
	"math"
	"testing"
)

func TestNewAGCDerivesHangBlocks(t *testing.T) {
	a := newAGC(0.01, 0.1, 0.5, 0.01, 1.0)
	if a.hangBlocks != 50 {
		t.Errorf("hangBlocks = %d, want 50", a.hangBlocks)
	}
	if a.gain != 1.0 {
		t.Errorf("initial gain = %v, want 1.0", a.gain)
	}
}

func TestPlanBlockStrongSignalReducesGain(t *testing.T) {
	a := newAGC(0.01, 0.1, 0.5, 0.01, 1.0)
	// ampl*gain (2.0) far exceeds headroom (0.9): strong-signal branch.
	ratio := a.planBlock(3000, 1e-6, 2.0, 0.9, 100)
	if a.state != agcStrong {
		t.Fatalf("state = %v, want agcStrong", a.state)
	}
	if ratio >= 1 {
		t.Errorf("expected a gain-reducing ratio < 1, got %v", ratio)
	}
}

func TestPlanBlockRecoversAfterHangExpires(t *testing.T) {
	a := newAGC(0.01, 0.1, 0.1, 0.01, 0.01) // hangBlocks = 10
	// Trigger strong-signal once to arm the hang counter
	// (ampl*gain = 200*0.01 = 2.0 exceeds the 0.9 headroom).
	a.planBlock(3000, 1e-9, 200.0, 0.9, 10)
	if a.hangcount != a.hangBlocks {
		t.Fatalf("hangcount = %d, want %d after arming", a.hangcount, a.hangBlocks)
	}

	// Now a quiet block: noise-limited and strong-signal branches both
	// false, so the hang counter should tick down to zero.
	for i := 0; i < a.hangBlocks; i++ {
		a.gain = 0.01
		ratio := a.planBlock(0, 0, 0, 0.9, 10)
		if a.state != agcHang {
			t.Fatalf("iteration %d: state = %v, want agcHang", i, a.state)
		}
		if ratio != 1 {
			t.Errorf("iteration %d: hang ratio = %v, want 1", i, ratio)
		}
	}

	a.gain = 0.01
	ratio := a.planBlock(0, 0, 0, 0.9, 10)
	if a.state != agcRecover {
		t.Fatalf("state = %v, want agcRecover once hang expires", a.state)
	}
	if ratio != a.recoveryRate {
		t.Errorf("recover ratio = %v, want recoveryRate %v", ratio, a.recoveryRate)
	}
}

func TestApplySamplePreMultiplies(t *testing.T) {
	a := &agc{gain: 2.0}
	g := a.applySample(0.5)
	if g != 2.0 {
		t.Errorf("applySample should return the pre-multiply gain: got %v, want 2.0", g)
	}
	if a.gain != 1.0 {
		t.Errorf("gain after applySample = %v, want 1.0", a.gain)
	}
}

func TestPerSampleRatioReachesTargetGeometrically(t *testing.T) {
	target, current, n := 4.0, 1.0, 10
	ratio := perSampleRatio(target, current, n)
	got := current * math.Pow(ratio, float64(n))
	if math.Abs(got-target) > 1e-9 {
		t.Errorf("after %d steps got %v, want %v", n, got, target)
	}
}

func TestPerSampleRatioGuardsDegenerateInputs(t *testing.T) {
	if r := perSampleRatio(4, 0, 10); r != 1 {
		t.Errorf("perSampleRatio with current=0 = %v, want 1", r)
	}
	if r := perSampleRatio(4, 1, 0); r != 1 {
		t.Errorf("perSampleRatio with n=0 = %v, want 1", r)
	}
}
