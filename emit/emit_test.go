package emit

import (
	"testing"

	"github.com/pion/rtp"

	"github.com/jhunley/ka9q-radio/demod"
)

type capturingSender struct {
	packets [][]byte
	failNext bool
}

func (c *capturingSender) Send(pkt []byte) error {
	if c.failNext {
		c.failNext = false
		return errSendFailed
	}
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	c.packets = append(c.packets, cp)
	return nil
}

var errSendFailed = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "send failed" }

func TestSSRCFromFrequencyUsesDecimalDigits(t *testing.T) {
	got := SSRCFromFrequency(14250000)
	if got != 14250000 {
		t.Errorf("SSRCFromFrequency(14250000) = %d, want 14250000", got)
	}
}

func TestSSRCFromFrequencyRounds(t *testing.T) {
	got := SSRCFromFrequency(7074000.4)
	if got != 7074000 {
		t.Errorf("SSRCFromFrequency(7074000.4) = %d, want 7074000", got)
	}
}

func TestEmitSequencesAndTimestampsMonoPackets(t *testing.T) {
	s := &capturingSender{}
	e := NewEmitter(12345, 96, 12000, 1, s)

	for i := 0; i < 3; i++ {
		blk := demod.Block{Samples: []float32{0.1, 0.2, 0.3, 0.4}}
		if err := e.Emit(blk); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}

	if len(s.packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(s.packets))
	}

	var prevSeq uint16
	var prevTS uint32
	for i, raw := range s.packets {
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(raw); err != nil {
			t.Fatalf("packet %d: unmarshal: %v", i, err)
		}
		if pkt.SSRC != 12345 {
			t.Errorf("packet %d: SSRC = %d, want 12345", i, pkt.SSRC)
		}
		if i > 0 {
			if pkt.SequenceNumber != prevSeq+1 {
				t.Errorf("packet %d: sequence = %d, want %d", i, pkt.SequenceNumber, prevSeq+1)
			}
			if pkt.Timestamp != prevTS+4 {
				t.Errorf("packet %d: timestamp = %d, want %d", i, pkt.Timestamp, prevTS+4)
			}
		}
		prevSeq = pkt.SequenceNumber
		prevTS = pkt.Timestamp
	}
}

func TestEmitStereoTimestampAdvancesByFrameCount(t *testing.T) {
	s := &capturingSender{}
	e := NewEmitter(1, 96, 12000, 2, s)

	blk := demod.Block{Samples: []float32{0.1, 0.2, 0.3, 0.4}} // 4 samples, 2 channels -> 2 frames
	if err := e.Emit(blk); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := e.Emit(blk); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(s.packets[1]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pkt.Timestamp != 2 {
		t.Errorf("stereo timestamp = %d, want 2 (frames, not samples)", pkt.Timestamp)
	}
}

func TestEmitMarksMutedBlocks(t *testing.T) {
	s := &capturingSender{}
	e := NewEmitter(1, 96, 12000, 1, s)

	if err := e.Emit(demod.Block{Samples: []float32{0.5}, Muted: true}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(s.packets[0]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !pkt.Marker {
		t.Errorf("expected the RTP marker bit set for a muted block")
	}
}

func TestEmitClampsOutOfRangeSamples(t *testing.T) {
	s := &capturingSender{}
	e := NewEmitter(1, 96, 12000, 1, s)

	if err := e.Emit(demod.Block{Samples: []float32{2.0, -2.0}}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(s.packets[0]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// 2.0 clamps to 1.0 -> int16(32767); little-endian low byte 0xFF.
	if pkt.Payload[0] != 0xFF || pkt.Payload[1] != 0x7F {
		t.Errorf("clamped positive sample payload = %x %x, want ff 7f", pkt.Payload[0], pkt.Payload[1])
	}
}

func TestEmitPropagatesSendError(t *testing.T) {
	s := &capturingSender{failNext: true}
	e := NewEmitter(1, 96, 12000, 1, s)

	err := e.Emit(demod.Block{Samples: []float32{0.1}})
	if err == nil {
		t.Fatalf("expected Emit to propagate the sender's error")
	}
}
