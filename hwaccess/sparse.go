// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package hwaccess

import "fmt"

const sparsePageSize = 4096

// SparseMemory is a map-backed MemAccess covering a sparse 64-bit
// space. It backs captured-state replay and the test fixtures; reads
// of untouched pages return zeroes.
type SparseMemory struct {
	pages map[uint64][]byte
}

func NewSparseMemory() *SparseMemory {
	return &SparseMemory{pages: make(map[uint64][]byte)}
}

func (s *SparseMemory) Read(addr uint64, p []byte) error {
	for len(p) > 0 {
		base := addr &^ (sparsePageSize - 1)
		off := addr - base
		n := min(len(p), int(sparsePageSize-off))
		if pg, ok := s.pages[base]; ok {
			copy(p[:n], pg[off:])
		} else {
			clear(p[:n])
		}
		p = p[n:]
		addr += uint64(n)
	}
	return nil
}

func (s *SparseMemory) Write(addr uint64, p []byte) error {
	for len(p) > 0 {
		base := addr &^ (sparsePageSize - 1)
		off := addr - base
		n := min(len(p), int(sparsePageSize-off))
		pg, ok := s.pages[base]
		if !ok {
			pg = make([]byte, sparsePageSize)
			s.pages[base] = pg
		}
		copy(pg[off:], p[:n])
		p = p[n:]
		addr += uint64(n)
	}
	return nil
}

// ScriptedRegs is a map-backed RegAccess for captured register state.
// Reads of unknown offsets fail unless Default is set.
type ScriptedRegs struct {
	Values map[uint32]uint32

	// Default, when non-nil, supplies the value of offsets missing
	// from Values instead of failing the read.
	Default func(offset uint32) uint32
}

func NewScriptedRegs() *ScriptedRegs {
	return &ScriptedRegs{Values: make(map[uint32]uint32)}
}

func (r *ScriptedRegs) Read32(offset uint32) (uint32, error) {
	if v, ok := r.Values[offset]; ok {
		return v, nil
	}
	if r.Default != nil {
		return r.Default(offset), nil
	}
	return 0, fmt.Errorf("no captured value for register offset 0x%x", offset)
}

func (r *ScriptedRegs) Write32(offset uint32, value uint32) error {
	r.Values[offset] = value
	return nil
}
