package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jhunley/ka9q-radio/engine"
)

// extended80 encodes a power-of-two sample rate as an 80-bit IEEE
// extended float, the inverse of extendedToFloat64 for the restricted
// case this test needs.
func extended80(rate float64) [10]byte {
	exp := 0
	for v := rate; v > 1; v /= 2 {
		exp++
	}
	var out [10]byte
	binary.BigEndian.PutUint16(out[0:2], uint16(16383+exp))
	binary.BigEndian.PutUint64(out[2:10], 1<<63)
	return out
}

// buildAIFF assembles a minimal FORM/COMM/SSND AIFF file with the given
// channel count, bit depth, sample rate, and big-endian PCM frames.
func buildAIFF(t *testing.T, numChannels, bitsPerSample int, rate float64, frames [][]int32) []byte {
	t.Helper()

	var comm bytes.Buffer
	_ = binary.Write(&comm, binary.BigEndian, uint16(numChannels))
	_ = binary.Write(&comm, binary.BigEndian, uint32(len(frames)))
	_ = binary.Write(&comm, binary.BigEndian, uint16(bitsPerSample))
	ext := extended80(rate)
	comm.Write(ext[:])

	var ssnd bytes.Buffer
	_ = binary.Write(&ssnd, binary.BigEndian, uint32(0)) // offset
	_ = binary.Write(&ssnd, binary.BigEndian, uint32(0)) // blockSize
	for _, frame := range frames {
		for _, s := range frame {
			switch bitsPerSample {
			case 8:
				ssnd.WriteByte(byte(int8(s)))
			case 16:
				_ = binary.Write(&ssnd, binary.BigEndian, int16(s))
			case 24:
				ssnd.WriteByte(byte(s >> 16))
				ssnd.WriteByte(byte(s >> 8))
				ssnd.WriteByte(byte(s))
			case 32:
				_ = binary.Write(&ssnd, binary.BigEndian, int32(s))
			}
		}
	}

	var body bytes.Buffer
	body.WriteString("AIFF")

	body.WriteString("COMM")
	_ = binary.Write(&body, binary.BigEndian, uint32(comm.Len()))
	body.Write(comm.Bytes())

	body.WriteString("SSND")
	_ = binary.Write(&body, binary.BigEndian, uint32(ssnd.Len()))
	body.Write(ssnd.Bytes())

	var out bytes.Buffer
	out.WriteString("FORM")
	_ = binary.Write(&out, binary.BigEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestParseMonoSixteenBit(t *testing.T) {
	raw := buildAIFF(t, 1, 16, 8192, [][]int32{{1000}, {-1000}, {32767}, {-32768}})

	f, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.NumChannels != 1 {
		t.Errorf("NumChannels = %d, want 1", f.NumChannels)
	}
	if f.NumSamples != 4 {
		t.Errorf("NumSamples = %d, want 4", f.NumSamples)
	}
	if f.SampleRate != 8192 {
		t.Errorf("SampleRate = %v, want 8192", f.SampleRate)
	}
	if len(f.Data) != 1 || len(f.Data[0]) != 4 {
		t.Fatalf("Data shape = %v", f.Data)
	}
	if f.Data[0][2] <= 0.9 {
		t.Errorf("Data[0][2] = %v, want close to full scale positive", f.Data[0][2])
	}
}

func TestParseStereoIQChannels(t *testing.T) {
	raw := buildAIFF(t, 2, 16, 8192, [][]int32{{100, -200}, {300, -400}})

	f, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.NumChannels != 2 {
		t.Fatalf("NumChannels = %d, want 2", f.NumChannels)
	}
	if f.Data[0][0] <= 0 || f.Data[1][0] >= 0 {
		t.Errorf("I/Q channel split looks wrong: I=%v Q=%v", f.Data[0][0], f.Data[1][0])
	}
}

func TestParseRejectsNonAIFF(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("not an aiff file at all.......")))
	if !errors.Is(err, ErrNotAIFF) {
		t.Errorf("got %v, want ErrNotAIFF", err)
	}
}

func TestParseRejectsUnsupportedChannelCount(t *testing.T) {
	raw := buildAIFF(t, 3, 16, 8192, [][]int32{{1, 2, 3}})
	_, err := Parse(bytes.NewReader(raw))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestReplayEmitsRequestedFrameCountAndLoops(t *testing.T) {
	file := &File{
		NumChannels: 2,
		SampleRate:  8192,
		NumSamples:  4,
		Data: [][]float32{
			{0.1, 0.2, 0.3, 0.4},
			{-0.1, -0.2, -0.3, -0.4},
		},
	}
	r := NewReplay(file, engine.FormatS16, 3, true)

	first, err := r.ReadSamples(time.Time{})
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if len(first) != 3*2*2 { // 3 frames, 2 channels, 2 bytes/sample
		t.Fatalf("len(first) = %d, want %d", len(first), 3*2*2)
	}

	second, err := r.ReadSamples(time.Time{})
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if len(second) != 1*2*2 {
		t.Fatalf("len(second) = %d, want %d (remaining frame before wraparound)", len(second), 1*2*2)
	}

	// Looping: pos has reached NumSamples, the next read should restart
	// from the beginning rather than returning EOF.
	third, err := r.ReadSamples(time.Time{})
	if err != nil {
		t.Fatalf("ReadSamples after loop: %v", err)
	}
	if len(third) == 0 {
		t.Errorf("expected a non-empty read after looping")
	}
}

func TestReplayReturnsEOFWithoutLoop(t *testing.T) {
	file := &File{NumChannels: 1, NumSamples: 2, Data: [][]float32{{0.1, 0.2}}}
	r := NewReplay(file, engine.FormatS16, 2, false)

	if _, err := r.ReadSamples(time.Time{}); err != nil {
		t.Fatalf("first ReadSamples: %v", err)
	}
	if _, err := r.ReadSamples(time.Time{}); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF once exhausted without loop, got %v", err)
	}
}
