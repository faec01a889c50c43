package main

import (
	"context"
	"math"
	"testing"

	"github.com/jhunley/ka9q-radio/channel"
	"github.com/jhunley/ka9q-radio/demod"
	"github.com/jhunley/ka9q-radio/emit"
	"github.com/jhunley/ka9q-radio/engine"
)

// fakeSender captures every packet Emit hands it, standing in for a
// real UDP socket.
type fakeSender struct {
	packets [][]byte
}

func (f *fakeSender) Send(pkt []byte) error {
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	f.packets = append(f.packets, cp)
	return nil
}

// TestEndToEndSingleToneChannel drives a synthetic complex tone
// through the full chain -- forward transform, one output leg, the
// demodulator (PLL off), and the RTP emitter -- and checks that at
// least one RTP packet comes out.
func TestEndToEndSingleToneChannel(t *testing.T) {
	fs := 48000.0
	fe, err := engine.NewFrontEnd(fs, true, 10.0, 4)
	if err != nil {
		t.Fatalf("NewFrontEnd: %v", err)
	}

	stage, err := engine.NewForwardStage(fe, nil)
	if err != nil {
		t.Fatalf("NewForwardStage: %v", err)
	}

	toneFreq := 5000.0
	legCfg := engine.LegConfig{
		Freq: toneFreq, MinIF: -1500, MaxIF: 1500, Beta: 6.0, Fo: 12000,
	}
	out := make(chan engine.LegBlock, 32)
	leg, err := engine.NewOutputLeg(fe, "tone", legCfg, out, nil)
	if err != nil {
		t.Fatalf("NewOutputLeg: %v", err)
	}
	stage.Attach(leg)

	ch := channel.New(
		"tone", "usb",
		channel.Tuning{Freq: toneFreq},
		channel.Filter{MinIF: -1500, MaxIF: 1500, KaiserBeta: 6.0},
		channel.Output{Channels: 1, Fo: 12000, Headroom: 0.9, Gain: 1.0, SSRC: emit.SSRCFromFrequency(toneFreq)},
		channel.AGC{Threshold: 0.01, RecoveryRate: 0.1, HangTimeSec: 0.5},
		channel.PLL{},
		channel.Flags{AGC: true},
	)
	dem := demod.New(ch, 0.01)

	sender := &fakeSender{}
	emitter := emit.NewEmitter(ch.Output.SSRC, 96, uint32(ch.Output.Fo), 1, sender)

	ctx := context.Background()
	var phase float64
	step := 2 * math.Pi * toneFreq / fs
	blocks := 20
	for b := 0; b < blocks; b++ {
		samples := make([]complex64, fe.L)
		for i := range samples {
			samples[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
			phase += step
		}

		if _, err := stage.ProcessBlock(ctx, samples, 0.001); err != nil {
			t.Fatalf("ProcessBlock %d: %v", b, err)
		}

		select {
		case lb := <-out:
			blk := dem.Process(lb)
			if err := emitter.Emit(blk); err != nil {
				t.Fatalf("Emit: %v", err)
			}
		default:
		}
	}

	if len(sender.packets) == 0 {
		t.Fatal("expected at least one emitted RTP packet")
	}
}
