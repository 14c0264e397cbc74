// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture reads and writes device snapshots: the register
// database, captured register values, sparse VRAM and system memory
// spans, and ring contents. Snapshots decode and translate offline
// exactly like the live device they were taken from.
//
// The file is one zstd stream over a simple section format:
//
//	magic: [8]char
//	for each section:
//	  name_len: u8, name: [name_len]char
//	  size: u64 LE, data: [size]byte
package capture // import "github.com/gpudbg/gpudbg/capture"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/gpudbg/gpudbg/hwaccess"
)

const magic = "GPUDBG01"

// Span is one captured run of physical memory.
type Span struct {
	Addr uint64
	Data []byte
}

// Ring is a captured command ring with its live pointers. Rptr or
// Wptr below zero mean the pointer was not captured.
type Ring struct {
	Rptr  int32
	Wptr  int32
	Words []uint32
}

// Capture is a decoded snapshot.
type Capture struct {
	// Table is the register database in the asic.LoadTable text
	// format.
	Table []byte
	// Regs holds captured register values by dword offset.
	Regs map[uint32]uint32

	VRAM   []Span
	SysRAM []Span
	Rings  map[string]Ring
}

func New() *Capture {
	return &Capture{
		Regs:  make(map[uint32]uint32),
		Rings: make(map[string]Ring),
	}
}

// RegAccess returns scripted registers preloaded with the captured
// values.
func (c *Capture) RegAccess() *hwaccess.ScriptedRegs {
	regs := hwaccess.NewScriptedRegs()
	for off, v := range c.Regs {
		regs.Values[off] = v
	}
	return regs
}

// memory materializes spans into sparse memory.
func memory(spans []Span) (*hwaccess.SparseMemory, error) {
	m := hwaccess.NewSparseMemory()
	for _, s := range spans {
		if err := m.Write(s.Addr, s.Data); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// VRAMAccess materializes the captured VRAM spans.
func (c *Capture) VRAMAccess() (*hwaccess.SparseMemory, error) {
	return memory(c.VRAM)
}

// SysRAMAccess materializes the captured system memory spans.
func (c *Capture) SysRAMAccess() (*hwaccess.SparseMemory, error) {
	return memory(c.SysRAM)
}

// Save writes the snapshot as one zstd stream.
func (c *Capture) Save(w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating encoder: %w", err)
	}
	if _, err := enc.Write([]byte(magic)); err != nil {
		return err
	}

	writeSection := func(name string, data []byte) error {
		if len(name) > 255 {
			return fmt.Errorf("section name %q too long", name)
		}
		hdr := []byte{byte(len(name))}
		hdr = append(hdr, name...)
		hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(data)))
		if _, err := enc.Write(hdr); err != nil {
			return err
		}
		_, err := enc.Write(data)
		return err
	}

	if len(c.Table) > 0 {
		if err := writeSection("table", c.Table); err != nil {
			return err
		}
	}
	if len(c.Regs) > 0 {
		offsets := make([]uint32, 0, len(c.Regs))
		for off := range c.Regs {
			offsets = append(offsets, off)
		}
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
		var buf bytes.Buffer
		for _, off := range offsets {
			binary.Write(&buf, binary.LittleEndian, off)
			binary.Write(&buf, binary.LittleEndian, c.Regs[off])
		}
		if err := writeSection("regs", buf.Bytes()); err != nil {
			return err
		}
	}
	for _, s := range c.VRAM {
		if err := writeSection("vram", encodeSpan(s)); err != nil {
			return err
		}
	}
	for _, s := range c.SysRAM {
		if err := writeSection("sysram", encodeSpan(s)); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(c.Rings))
	for name := range c.Rings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeSection("ring."+name, encodeRing(c.Rings[name])); err != nil {
			return err
		}
	}
	return enc.Close()
}

// Load reads a snapshot stream.
func Load(r io.Reader) (*Capture, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	defer dec.Close()

	var m [8]byte
	if _, err := io.ReadFull(dec, m[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(m[:]) != magic {
		return nil, errors.New("not a capture file (bad magic)")
	}

	c := New()
	for {
		var nameLen [1]byte
		if _, err := io.ReadFull(dec, nameLen[:]); err != nil {
			if err == io.EOF {
				return c, nil
			}
			return nil, fmt.Errorf("reading section header: %w", err)
		}
		name := make([]byte, nameLen[0])
		if _, err := io.ReadFull(dec, name); err != nil {
			return nil, fmt.Errorf("reading section name: %w", err)
		}
		var size [8]byte
		if _, err := io.ReadFull(dec, size[:]); err != nil {
			return nil, fmt.Errorf("reading section size: %w", err)
		}
		data := make([]byte, binary.LittleEndian.Uint64(size[:]))
		if _, err := io.ReadFull(dec, data); err != nil {
			return nil, fmt.Errorf("reading section %q: %w", name, err)
		}
		if err := c.addSection(string(name), data); err != nil {
			return nil, err
		}
	}
}

func (c *Capture) addSection(name string, data []byte) error {
	switch {
	case name == "table":
		c.Table = data
	case name == "regs":
		if len(data)%8 != 0 {
			return errors.New("regs section length not a multiple of 8")
		}
		for i := 0; i < len(data); i += 8 {
			off := binary.LittleEndian.Uint32(data[i:])
			c.Regs[off] = binary.LittleEndian.Uint32(data[i+4:])
		}
	case name == "vram":
		s, err := decodeSpan(data)
		if err != nil {
			return err
		}
		c.VRAM = append(c.VRAM, s)
	case name == "sysram":
		s, err := decodeSpan(data)
		if err != nil {
			return err
		}
		c.SysRAM = append(c.SysRAM, s)
	case strings.HasPrefix(name, "ring."):
		ring, err := decodeRing(data)
		if err != nil {
			return err
		}
		c.Rings[strings.TrimPrefix(name, "ring.")] = ring
	default:
		// skip unknown sections so newer captures stay loadable
	}
	return nil
}

func encodeSpan(s Span) []byte {
	out := binary.LittleEndian.AppendUint64(nil, s.Addr)
	return append(out, s.Data...)
}

func decodeSpan(data []byte) (Span, error) {
	if len(data) < 8 {
		return Span{}, errors.New("span section too short")
	}
	return Span{
		Addr: binary.LittleEndian.Uint64(data),
		Data: data[8:],
	}, nil
}

func encodeRing(r Ring) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(r.Rptr))
	out = binary.LittleEndian.AppendUint32(out, uint32(r.Wptr))
	for _, w := range r.Words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func decodeRing(data []byte) (Ring, error) {
	if len(data) < 8 || len(data)%4 != 0 {
		return Ring{}, errors.New("malformed ring section")
	}
	r := Ring{
		Rptr:  int32(binary.LittleEndian.Uint32(data)),
		Wptr:  int32(binary.LittleEndian.Uint32(data[4:])),
		Words: make([]uint32, 0, (len(data)-8)/4),
	}
	for i := 8; i < len(data); i += 4 {
		r.Words = append(r.Words, binary.LittleEndian.Uint32(data[i:]))
	}
	return r, nil
}
