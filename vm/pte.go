// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import "github.com/gpudbg/gpudbg/libgfx"

// Page base alignment differs by entry role: entries acting as
// directory pointers are 64-byte aligned, true leaves are 4 KiB
// aligned.
const pteLeafBaseMask = 0xFFFFFFFFF000

// PTEFields is the decoded view of a 64-bit page table entry.
type PTEFields struct {
	// PageBase is the physical base address: 4 KiB aligned for a true
	// leaf, 64-byte aligned when the entry acts as a directory
	// pointer (PTE-Further).
	PageBase uint64
	// Fragment is the log2 page-span multiplier of this leaf.
	Fragment uint8

	Valid    bool
	System   bool
	Coherent bool
	TMZ      bool
	Execute  bool
	Read     bool
	Write    bool
	// PRT marks a partially resident texture page: unmapped but not
	// an error to reference.
	PRT bool
	// PDE and Further are the GFX<=11 continuation flags.
	PDE     bool
	Further bool
	// PTE is the GFX12 role bit: 1 means leaf, 0 means this entry is
	// really a PDE. Inverted sense versus the older Further flag.
	PTE bool

	MType      uint8
	GCR        bool
	LLCNoAlloc bool
	Software   uint8
	DCC        bool
	PARsvd     uint8
}

// ActsAsPDE reports whether a decoded, valid PTE must be reinterpreted
// as a pointer to one more table level. The GFX12 role bit has the
// opposite polarity of the older Further flag.
func (f PTEFields) ActsAsPDE(gen libgfx.Generation) bool {
	if !f.Valid {
		return false
	}
	if gen == libgfx.GenV12 {
		return !f.PTE
	}
	return f.Further
}

// DecodePTE decodes a raw page table entry for the given generation.
// Pure and total: unknown generations decode to the zero record.
func DecodePTE(raw uint64, gen libgfx.Generation) PTEFields {
	var f PTEFields
	isPDE := false
	switch gen {
	case libgfx.GenV9:
		f.Valid = raw&1 != 0
		f.System = raw&(1<<1) != 0
		f.Coherent = raw&(1<<2) != 0
		f.TMZ = raw&(1<<3) != 0
		f.Execute = raw&(1<<4) != 0
		f.Read = raw&(1<<5) != 0
		f.Write = raw&(1<<6) != 0
		f.Fragment = uint8((raw >> 7) & 0x1F)
		f.PRT = raw&(1<<51) != 0
		f.PDE = raw&(1<<54) != 0
		f.Further = raw&(1<<56) != 0
		f.MType = uint8((raw >> 57) & 3)
		isPDE = f.Further
	case libgfx.GenV10, libgfx.GenV10_3:
		f.Valid = raw&1 != 0
		f.System = raw&(1<<1) != 0
		f.Coherent = raw&(1<<2) != 0
		f.TMZ = raw&(1<<3) != 0
		f.Execute = raw&(1<<4) != 0
		f.Read = raw&(1<<5) != 0
		f.Write = raw&(1<<6) != 0
		f.Fragment = uint8((raw >> 7) & 0x1F)
		f.MType = uint8((raw >> 48) & 3)
		f.PRT = raw&(1<<51) != 0
		f.PDE = raw&(1<<54) != 0
		f.Further = raw&(1<<56) != 0
		f.GCR = raw&(1<<57) != 0
		if gen == libgfx.GenV10_3 {
			f.LLCNoAlloc = raw&(1<<58) != 0
		}
		isPDE = f.Further
	case libgfx.GenV11:
		f.Valid = raw&1 != 0
		f.System = raw&(1<<1) != 0
		f.Coherent = raw&(1<<2) != 0
		f.TMZ = raw&(1<<3) != 0
		f.Execute = raw&(1<<4) != 0
		f.Read = raw&(1<<5) != 0
		f.Write = raw&(1<<6) != 0
		f.Fragment = uint8((raw >> 7) & 0x1F)
		f.MType = uint8((raw >> 48) & 3)
		f.PRT = raw&(1<<51) != 0
		f.Software = uint8((raw >> 52) & 3)
		f.PDE = raw&(1<<54) != 0
		f.Further = raw&(1<<56) != 0
		f.GCR = raw&(1<<57) != 0
		f.LLCNoAlloc = raw&(1<<58) != 0
		isPDE = f.Further
	case libgfx.GenV12:
		f.Valid = raw&1 != 0
		f.System = raw&(1<<1) != 0
		f.Coherent = raw&(1<<2) != 0
		f.TMZ = raw&(1<<3) != 0
		f.Execute = raw&(1<<4) != 0
		f.Read = raw&(1<<5) != 0
		f.Write = raw&(1<<6) != 0
		f.Fragment = uint8((raw >> 7) & 0x1F)
		f.PARsvd = uint8((raw >> 48) & 0xF)
		f.Software = uint8((raw >> 52) & 3)
		f.MType = uint8((raw >> 54) & 3)
		f.PRT = raw&(1<<56) != 0
		f.GCR = raw&(1<<57) != 0
		f.DCC = raw&(1<<58) != 0
		f.PTE = raw&(1<<63) != 0
		isPDE = !f.PTE
	default:
		return f
	}
	if isPDE {
		f.PageBase = raw & pdeBaseMask
	} else {
		f.PageBase = raw & pteLeafBaseMask
	}
	return f
}
