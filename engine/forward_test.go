package engine

import (
	"context"
	"testing"
)

type fakeLeg struct {
	delivered int
	isStopped bool
}

func (f *fakeLeg) deliver(block *ForwardBlock) {
	f.delivered++
	block.Ack()
}

func (f *fakeLeg) stopped() bool { return f.isStopped }

func smallFrontEnd(t *testing.T) *FrontEnd {
	t.Helper()
	fe, err := NewFrontEnd(8000, true, 10.0, 4)
	if err != nil {
		t.Fatalf("NewFrontEnd: %v", err)
	}
	return fe
}

func TestProcessBlockRejectsWrongSampleCount(t *testing.T) {
	fe := smallFrontEnd(t)
	stage, err := NewForwardStage(fe, nil)
	if err != nil {
		t.Fatalf("NewForwardStage: %v", err)
	}

	_, err = stage.ProcessBlock(context.Background(), make([]complex64, fe.L+1), 0)
	if err == nil {
		t.Fatalf("expected an error for a mismatched sample count")
	}
}

func TestProcessBlockIncrementsIndexAndSizesBins(t *testing.T) {
	fe := smallFrontEnd(t)
	stage, err := NewForwardStage(fe, nil)
	if err != nil {
		t.Fatalf("NewForwardStage: %v", err)
	}

	ctx := context.Background()
	b1, err := stage.ProcessBlock(ctx, make([]complex64, fe.L), 0)
	if err != nil {
		t.Fatalf("ProcessBlock 1: %v", err)
	}
	b2, err := stage.ProcessBlock(ctx, make([]complex64, fe.L), 0)
	if err != nil {
		t.Fatalf("ProcessBlock 2: %v", err)
	}

	if b1.Index != 1 || b2.Index != 2 {
		t.Errorf("block indices = %d, %d, want 1, 2", b1.Index, b2.Index)
	}
	if len(b1.Bins) != fe.BinCount() {
		t.Errorf("len(Bins) = %d, want %d", len(b1.Bins), fe.BinCount())
	}
}

func TestAttachTakesEffectOnNextProcessBlock(t *testing.T) {
	fe := smallFrontEnd(t)
	stage, err := NewForwardStage(fe, nil)
	if err != nil {
		t.Fatalf("NewForwardStage: %v", err)
	}
	fl := &fakeLeg{}

	ctx := context.Background()
	if _, err := stage.ProcessBlock(ctx, make([]complex64, fe.L), 0); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if fl.delivered != 0 {
		t.Fatalf("leg delivered before being attached")
	}

	stage.Attach(fl)
	if stage.LegCount() != 0 {
		t.Errorf("LegCount() = %d before the next block runs, want 0 (attach is deferred)", stage.LegCount())
	}

	if _, err := stage.ProcessBlock(ctx, make([]complex64, fe.L), 0); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if fl.delivered != 1 {
		t.Errorf("delivered = %d, want 1 once attached and a block has run", fl.delivered)
	}
	if stage.LegCount() != 1 {
		t.Errorf("LegCount() = %d, want 1", stage.LegCount())
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	fe := smallFrontEnd(t)
	stage, err := NewForwardStage(fe, nil)
	if err != nil {
		t.Fatalf("NewForwardStage: %v", err)
	}
	fl := &fakeLeg{}
	ctx := context.Background()

	stage.Attach(fl)
	if _, err := stage.ProcessBlock(ctx, make([]complex64, fe.L), 0); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	stage.Detach(fl)
	if _, err := stage.ProcessBlock(ctx, make([]complex64, fe.L), 0); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if fl.delivered != 1 {
		t.Errorf("delivered = %d after detach, want 1 (no further delivery)", fl.delivered)
	}
}

func TestReapsStoppedLegsOnNextBlock(t *testing.T) {
	fe := smallFrontEnd(t)
	stage, err := NewForwardStage(fe, nil)
	if err != nil {
		t.Fatalf("NewForwardStage: %v", err)
	}
	fl := &fakeLeg{}
	ctx := context.Background()

	stage.Attach(fl)
	if _, err := stage.ProcessBlock(ctx, make([]complex64, fe.L), 0); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if stage.LegCount() != 1 {
		t.Fatalf("LegCount() = %d, want 1", stage.LegCount())
	}

	fl.isStopped = true
	if _, err := stage.ProcessBlock(ctx, make([]complex64, fe.L), 0); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if stage.LegCount() != 0 {
		t.Errorf("LegCount() = %d after the leg stopped, want 0", stage.LegCount())
	}
}

func TestRealInputFrontEndUsesFloat32Samples(t *testing.T) {
	fe, err := NewFrontEnd(8000, false, 10.0, 4)
	if err != nil {
		t.Fatalf("NewFrontEnd: %v", err)
	}
	stage, err := NewForwardStage(fe, nil)
	if err != nil {
		t.Fatalf("NewForwardStage: %v", err)
	}

	block, err := stage.ProcessBlock(context.Background(), make([]float32, fe.L), 0)
	if err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if len(block.Bins) != fe.Ntf/2+1 {
		t.Errorf("len(Bins) = %d, want %d", len(block.Bins), fe.Ntf/2+1)
	}
}
