package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/jhunley/ka9q-radio/internal/rerror"
)

// SampleFormat names the front end's native wire format (spec.md §4.1
// "native format (packed 8/16-bit, real or complex)").
type SampleFormat int

const (
	FormatS16 SampleFormat = iota // 16-bit signed, little-endian
	FormatS8                      // 8-bit signed
	FormatF32                     // 32-bit float, little-endian
)

// bytesPerSample returns the wire size of one real (or one I or one Q)
// sample in this format.
func (f SampleFormat) bytesPerSample() int {
	switch f {
	case FormatS8:
		return 1
	case FormatF32:
		return 4
	default:
		return 2
	}
}

// Source is the minimal datagram-stream abstraction the ingester reads
// from: a live multicast socket or an offline capture replay
// (internal/capture). The ingester interprets nothing beyond sample
// count (spec.md §6 "the ingester does not interpret transport framing
// beyond sample count").
type Source interface {
	// ReadSamples blocks until at least one datagram of sample data is
	// available and returns the raw payload bytes. It returns an error if
	// no datagram arrives before deadline; Ingester.Run reports any read
	// error wrapped in rerror.ErrFrontEndStalled.
	ReadSamples(deadline time.Time) ([]byte, error)
}

// Ingester reads raw samples from a Source, converts them to the front
// end's native numeric form, and drives the forward stage one block at
// a time (spec.md §4.1, §2 "Block clock & sample ingester").
type Ingester struct {
	fe      *FrontEnd
	stage   *ForwardStage
	src     Source
	format  SampleFormat
	timeout time.Duration
	logger  *slog.Logger

	// carry holds bytes read but not yet consumed into a full block,
	// since datagrams need not align to block boundaries.
	carry []byte
}

// NewIngester builds an ingester. timeout is the stall threshold; per
// spec.md §4.1 the default is 2*T (two block times).
func NewIngester(fe *FrontEnd, stage *ForwardStage, src Source, format SampleFormat, timeout time.Duration, logger *slog.Logger) *Ingester {
	if timeout <= 0 {
		timeout = time.Duration(2*fe.BlockMs) * time.Millisecond
	}
	return &Ingester{fe: fe, stage: stage, src: src, format: format, timeout: timeout, logger: logger}
}

// bytesPerBlock returns the number of datagram bytes one block (L
// samples) spans in the wire format.
func (in *Ingester) bytesPerBlock() int {
	n := in.format.bytesPerSample() * in.fe.L
	if in.fe.Complex {
		n *= 2
	}
	return n
}

// Run reads and ingests blocks until ctx is cancelled or a fatal error
// occurs. A stall is reported upward (per spec.md §4.1) rather than
// causing a crash; the caller decides whether to retry.
func (in *Ingester) Run(ctx context.Context) error {
	need := in.bytesPerBlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for len(in.carry) < need {
			chunk, err := in.src.ReadSamples(time.Now().Add(in.timeout))
			if err != nil {
				return fmt.Errorf("%w: %v", rerror.ErrFrontEndStalled, err)
			}
			in.carry = append(in.carry, chunk...)
		}

		block := in.carry[:need]
		in.carry = in.carry[need:]

		n0, err := in.ingestBlock(ctx, block)
		if err != nil {
			return err
		}
		_ = n0
	}
}

// ingestBlock converts one block's worth of raw bytes to the front
// end's native numeric samples, estimates the noise spectral density,
// and advances the forward stage.
func (in *Ingester) ingestBlock(ctx context.Context, raw []byte) (float64, error) {
	var n0 float64
	if in.fe.Complex {
		samples := make([]complex64, in.fe.L)
		n0 = decodeComplex(raw, in.format, samples)
		if _, err := in.stage.ProcessBlock(ctx, samples, n0); err != nil {
			return 0, err
		}
	} else {
		samples := make([]float32, in.fe.L)
		n0 = decodeReal(raw, in.format, samples)
		if _, err := in.stage.ProcessBlock(ctx, samples, n0); err != nil {
			return 0, err
		}
	}
	return n0, nil
}

// decodeReal converts raw into float32 samples in [-1, 1] and returns
// the block's mean-square amplitude as a crude n0 (noise spectral
// density) estimate.
func decodeReal(raw []byte, format SampleFormat, out []float32) float64 {
	var sumSq float64
	for i := range out {
		v := decodeOne(raw, i, format)
		out[i] = v
		sumSq += float64(v) * float64(v)
	}
	return sumSq / float64(len(out))
}

// decodeComplex converts interleaved I/Q raw bytes into complex64
// samples and returns the block's mean-square amplitude.
func decodeComplex(raw []byte, format SampleFormat, out []complex64) float64 {
	var sumSq float64
	bps := format.bytesPerSample()
	for i := range out {
		re := decodeOne(raw, 2*i, format)
		im := decodeOne(raw, 2*i+1, format)
		out[i] = complex(re, im)
		sumSq += float64(re)*float64(re) + float64(im)*float64(im)
	}
	_ = bps
	return sumSq / float64(len(out))
}

func decodeOne(raw []byte, idx int, format SampleFormat) float32 {
	switch format {
	case FormatS8:
		b := int8(raw[idx])
		return float32(b) / 128.0
	case FormatF32:
		off := idx * 4
		bits := uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
		return math.Float32frombits(bits)
	default: // FormatS16
		off := idx * 2
		v := int16(uint16(raw[off]) | uint16(raw[off+1])<<8)
		return float32(v) / 32768.0
	}
}

// multicastSource reads datagrams from a joined IPv4 multicast group.
// Grounded on the teacher-adjacent corpus's multicast setup
// (madpsy-ka9q_ubersdr's radiod.go: ipv4.NewPacketConn + JoinGroup on
// the chosen interface), simplified to ingest-only (no TTL/loop socket
// options, which only matter for senders).
type multicastSource struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	buf  []byte
}

// NewMulticastSource joins group on iface (nil selects the system
// default) and returns a Source the ingester can read from.
func NewMulticastSource(group *net.UDPAddr, iface *net.Interface) (Source, error) {
	conn, err := net.ListenUDP("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", rerror.ErrConfig, group, err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: join group %s: %v", rerror.ErrConfig, group, err)
	}
	return &multicastSource{conn: conn, pc: pc, buf: make([]byte, 65536)}, nil
}

func (m *multicastSource) ReadSamples(deadline time.Time) ([]byte, error) {
	if err := m.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	n, _, err := m.conn.ReadFromUDP(m.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.buf[:n])
	return out, nil
}

func (m *multicastSource) Close() error {
	return m.conn.Close()
}
