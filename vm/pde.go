// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

// Package vm implements the virtual memory translation engine: page
// table entry decoding and the generation-specific page walkers that
// turn a GPU virtual address into a physical VRAM or system memory
// location.
package vm // import "github.com/gpudbg/gpudbg/vm"

import "github.com/gpudbg/gpudbg/libgfx"

// pdeBaseMask extracts the 64-byte aligned page base address of a
// directory entry.
const pdeBaseMask = 0xFFFFFFFFFFC0

// PDEFields is the decoded view of a 64-bit page directory entry.
// Address fields are only meaningful while Valid is set.
type PDEFields struct {
	// PTEBase is the 64-byte aligned physical address of the next
	// level PDB/PTB.
	PTEBase uint64
	// FragSize is the log2 number of 4 KiB pages each PTE of the
	// pointed-to PTB covers.
	FragSize uint8

	Valid    bool
	System   bool
	Coherent bool
	// PTE set means this directory entry terminates the walk and is
	// reinterpreted as a PTE (a large uniform page). On GFX12 the bit
	// moved to 63 but kept this meaning for PDEs.
	PTE bool
	// Further is the PTE-side continuation flag, visible here because
	// PTE-Further entries are re-decoded as PDEs.
	Further bool

	// GFX11+ extras.
	MType      uint8
	TFSAddr    bool
	LLCNoAlloc bool

	// GFX12 extras.
	PARsvd    uint8
	MallReuse uint8
}

// DecodePDE decodes a raw page directory entry for the given
// generation. Pure and total: unknown generations decode to the zero
// record.
func DecodePDE(raw uint64, gen libgfx.Generation) PDEFields {
	var f PDEFields
	switch gen {
	case libgfx.GenV9, libgfx.GenV10, libgfx.GenV10_3:
		f.FragSize = uint8((raw >> 59) & 0x1F)
		f.PTEBase = raw & pdeBaseMask
		f.Valid = raw&1 != 0
		f.System = raw&(1<<1) != 0
		f.Coherent = raw&(1<<2) != 0
		f.PTE = raw&(1<<54) != 0
		f.Further = raw&(1<<56) != 0
		if gen == libgfx.GenV10_3 {
			f.LLCNoAlloc = raw&(1<<58) != 0
		}
	case libgfx.GenV11:
		f.FragSize = uint8((raw >> 59) & 0x1F)
		f.PTEBase = raw & pdeBaseMask
		f.Valid = raw&1 != 0
		f.System = raw&(1<<1) != 0
		f.Coherent = raw&(1<<2) != 0
		f.MType = uint8((raw >> 48) & 7)
		f.PTE = raw&(1<<54) != 0
		f.Further = raw&(1<<56) != 0
		f.TFSAddr = raw&(1<<57) != 0
		f.LLCNoAlloc = raw&(1<<58) != 0
	case libgfx.GenV12:
		f.FragSize = uint8((raw >> 58) & 0x1F)
		f.PTEBase = raw & pdeBaseMask
		f.Valid = raw&1 != 0
		f.System = raw&(1<<1) != 0
		f.Coherent = raw&(1<<2) != 0
		f.PARsvd = uint8((raw >> 48) & 0xF)
		f.MallReuse = uint8((raw >> 54) & 3)
		f.TFSAddr = raw&(1<<56) != 0
		f.PTE = raw&(1<<63) != 0
	}
	return f
}
