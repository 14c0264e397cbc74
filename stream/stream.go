// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream decodes raw command buffers (rings and indirect
// buffers) for the PM4, SDMA, HSA/AQL and UMSCH wire formats into
// owned packet trees, tracking register writes to discover shader
// programs and recursing through the VM engine for chained IBs.
package stream // import "github.com/gpudbg/gpudbg/stream"

import (
	"fmt"
	"strings"

	"github.com/gpudbg/gpudbg/libgfx"
)

// Format selects the wire format of a buffer.
type Format uint8

const (
	FormatPM4 Format = iota
	FormatSDMA
	FormatHSA
	FormatUMSCH
)

func (f Format) String() string {
	switch f {
	case FormatPM4:
		return "pm4"
	case FormatSDMA:
		return "sdma"
	case FormatHSA:
		return "hsa"
	case FormatUMSCH:
		return "umsch"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// GuessFormat maps a kernel ring name (as listed in debugfs) to the
// format its packets use.
func GuessFormat(ringName string) (Format, bool) {
	name := strings.TrimPrefix(ringName, "amdgpu_ring_")
	switch {
	case strings.HasPrefix(name, "gfx"),
		strings.HasPrefix(name, "comp"),
		strings.HasPrefix(name, "kiq"),
		strings.HasPrefix(name, "mes"):
		return FormatPM4, true
	case strings.HasPrefix(name, "sdma"),
		strings.HasPrefix(name, "page"):
		return FormatSDMA, true
	case strings.HasPrefix(name, "umsch"):
		return FormatUMSCH, true
	}
	return 0, false
}

// Device is the capability set the decoders pull on: VM reads for IB
// and shader fetches, register naming for the write tracker, and the
// generation for shader end-token selection.
type Device interface {
	ReadVM(hub libgfx.Hub, vmid libgfx.VMID, addr uint64, p []byte) error
	RegName(offset uint32) string
	Generation() libgfx.Generation
}

// defaultIBSizeGuard caps followed indirect buffers. Anything larger
// is treated as stream corruption and skipped.
const defaultIBSizeGuard = 8 << 20

// Options configures a decode request. The zero value follows IBs and
// shaders through the GFX hub with the default size guard.
type Options struct {
	Hub libgfx.Hub
	// NoFollowIB leaves indirect buffer references undecoded. Chained
	// IBs are still followed: they hold the tail of the stream.
	NoFollowIB bool
	// NoFollowShader skips shader size scans; discovered shaders get
	// size 4.
	NoFollowShader bool
	// IBSizeGuard overrides the 8 MiB corruption guard when >0.
	IBSizeGuard uint32
}

func (o Options) sizeGuard() uint32 {
	if o.IBSizeGuard > 0 {
		return o.IBSizeGuard
	}
	return defaultIBSizeGuard
}

// Decoder decodes buffers against one device. Calls against the same
// Decoder must be serialized by the caller.
type Decoder struct {
	Dev  Device
	Opts Options
}

// NewDecoder returns a decoder over dev with the given options.
func NewDecoder(dev Device, opts Options) *Decoder {
	return &Decoder{Dev: dev, Opts: opts}
}

// Stream is a decoded buffer: a doubly linked list of packet nodes
// owned by the stream. The whole tree, nested IBs and shader copies
// included, is released as one unit; there is no partial free.
type Stream struct {
	Format Format
	VMID   libgfx.VMID
	Addr   uint64
	Head   *Node
	// Truncated is set when the buffer ended inside a packet; the
	// partial tail packet is dropped, not an error.
	Truncated bool
}

// DecodeBuffer decodes words as format fmt. vmid/addr locate the
// buffer for presentation and IB bookkeeping; words are copied, the
// stream never aliases the caller's slice.
func (d *Decoder) DecodeBuffer(format Format, vmid libgfx.VMID, addr uint64,
	words []uint32) (*Stream, error) {
	s := &Stream{Format: format, VMID: vmid, Addr: addr}
	tracker := NewTracker()
	switch format {
	case FormatPM4:
		s.Head, s.Truncated = d.decodePM4(vmid, addr, words, tracker)
	case FormatSDMA:
		s.Head, s.Truncated = d.decodeSDMA(vmid, addr, words)
	case FormatHSA:
		s.Head, s.Truncated = d.decodeHSA(vmid, addr, words, tracker)
	case FormatUMSCH:
		s.Head, s.Truncated = d.decodeUMSCH(vmid, addr, words)
	default:
		return nil, fmt.Errorf("no decoder for format %s", format)
	}
	return s, nil
}

// DecodeVMBuffer fetches sizeBytes at vmid@addr through the VM engine
// and decodes it.
func (d *Decoder) DecodeVMBuffer(format Format, vmid libgfx.VMID, addr uint64,
	sizeBytes uint32) (*Stream, error) {
	words, err := d.readWords(d.Opts.Hub, vmid, addr, sizeBytes)
	if err != nil {
		return nil, err
	}
	return d.DecodeBuffer(format, vmid, addr, words)
}

// DecodeRing linearizes the live window of a ring and decodes it.
// rptr/wptr are dword indices; -1 selects the ring edge: (-1,-1)
// decodes the whole ring, (r,-1) from r around to r, (-1,w) from the
// start to w.
func (d *Decoder) DecodeRing(format Format, ring []uint32, rptr, wptr int) (*Stream, error) {
	return d.DecodeBuffer(format, 0, 0, RingWindow(ring, rptr, wptr))
}

// RingWindow copies the [rptr, wptr) window of a ring into a linear
// buffer, wrapping as needed.
func RingWindow(ring []uint32, rptr, wptr int) []uint32 {
	n := len(ring)
	if n == 0 {
		return nil
	}
	switch {
	case rptr < 0 && wptr < 0:
		out := make([]uint32, n)
		copy(out, ring)
		return out
	case rptr < 0:
		out := make([]uint32, min(wptr, n))
		copy(out, ring[:len(out)])
		return out
	case wptr < 0:
		rptr %= n
		out := make([]uint32, 0, n)
		out = append(out, ring[rptr:]...)
		return append(out, ring[:rptr]...)
	default:
		rptr %= n
		wptr %= n
		if wptr >= rptr {
			out := make([]uint32, wptr-rptr)
			copy(out, ring[rptr:wptr])
			return out
		}
		out := make([]uint32, 0, n-rptr+wptr)
		out = append(out, ring[rptr:]...)
		return append(out, ring[:wptr]...)
	}
}

// readWords fetches a VM span and returns it as little-endian dwords,
// for IB following.
func (d *Decoder) readWords(hub libgfx.Hub, vmid libgfx.VMID, addr uint64,
	sizeBytes uint32) ([]uint32, error) {
	sizeBytes &^= 3
	buf := make([]byte, sizeBytes)
	if err := d.Dev.ReadVM(hub, vmid, addr, buf); err != nil {
		return nil, fmt.Errorf("fetching %d bytes of IB at %d@0x%x: %w",
			sizeBytes, vmid, addr, err)
	}
	words := make([]uint32, sizeBytes/4)
	for i := range words {
		words[i] = uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 |
			uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
	}
	return words, nil
}

// FindShader walks the stream and its nested IBs for a shader whose
// span contains vmid@addr. The returned copy is independently owned
// and stays valid after the stream is dropped.
func (s *Stream) FindShader(vmid libgfx.VMID, addr uint64) *ShaderProgram {
	return findShaderIn(s.Head, vmid, addr)
}

func findShaderIn(head *Node, vmid libgfx.VMID, addr uint64) *ShaderProgram {
	for n := head; n != nil; n = n.Next {
		for _, sh := range n.Shaders {
			size := max(sh.Size, 4)
			if sh.VMID == vmid && addr >= sh.Addr && addr < sh.Addr+uint64(size) {
				return sh.Clone()
			}
		}
		if n.Child != nil {
			if sh := findShaderIn(n.Child, vmid, addr); sh != nil {
				return sh
			}
		}
	}
	return nil
}
