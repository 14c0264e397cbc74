// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gpudbg/gpudbg/asic"
	"github.com/gpudbg/gpudbg/hwaccess"
	"github.com/gpudbg/gpudbg/libgfx"
)

// fixture is a synthetic single-GPU engine: scripted registers, sparse
// VRAM and system memory, and a register database covering what the
// walkers touch.
type fixture struct {
	regs *hwaccess.ScriptedRegs
	vram *hwaccess.SparseMemory
	sys  *hwaccess.SparseMemory
	eng  *Engine

	offsets map[string]uint32
}

type regSpec struct {
	name string
	bits []asic.Bitfield
}

func newFixture(t *testing.T, gfxMajor, gfxMinor uint32, specs []regSpec) *fixture {
	t.Helper()
	f := &fixture{
		regs:    hwaccess.NewScriptedRegs(),
		vram:    hwaccess.NewSparseMemory(),
		sys:     hwaccess.NewSparseMemory(),
		offsets: make(map[string]uint32),
	}
	block := &asic.IPBlock{
		Name:    "gfx",
		Version: libgfx.GfxVersion{Major: gfxMajor, Minor: gfxMinor},
	}
	for i, spec := range specs {
		off := uint32(i)
		block.Regs = append(block.Regs, asic.Register{
			Name: spec.name, Offset: off, Bits: spec.bits,
		})
		f.offsets[spec.name] = off
		f.regs.Values[off] = 0
	}
	a, err := asic.New("testgpu", f.regs, block)
	require.NoError(t, err)
	f.eng = &Engine{
		Asic:   a,
		VRAM:   f.vram,
		SysRAM: f.sys,
		Bus:    hwaccess.IdentityBus{},
	}
	return f
}

func (f *fixture) set(t *testing.T, name string, v uint32) {
	t.Helper()
	off, ok := f.offsets[name]
	require.True(t, ok, "fixture has no register %s", name)
	f.regs.Values[off] = v
}

// entry writes one little-endian 8-byte table entry into VRAM.
func (f *fixture) entry(t *testing.T, addr, value uint64) {
	t.Helper()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	require.NoError(t, f.vram.Write(addr, buf[:]))
}

// gfx9Specs covers the registers translateAI touches on a pre-GFX10
// part for the GFX hub and VMIDs 0 and 2.
func gfx9Specs() []regSpec {
	cntlBits := []asic.Bitfield{
		{Name: "PAGE_TABLE_DEPTH", Start: 1, Stop: 3},
		{Name: "PAGE_TABLE_BLOCK_SIZE", Start: 4, Stop: 8},
	}
	specs := []regSpec{
		{name: "mmMC_VM_SYSTEM_APERTURE_LOW_ADDR"},
		{name: "mmMC_VM_SYSTEM_APERTURE_HIGH_ADDR"},
		{name: "mmMC_VM_MX_L1_TLB_CNTL", bits: []asic.Bitfield{
			{Name: "SYSTEM_ACCESS_MODE", Start: 3, Stop: 4},
		}},
		{name: "mmMC_VM_FB_LOCATION_BASE"},
		{name: "mmMC_VM_FB_LOCATION_TOP"},
		{name: "mmMC_VM_FB_OFFSET"},
		{name: "mmMC_VM_AGP_BASE"},
		{name: "mmMC_VM_AGP_BOT"},
		{name: "mmMC_VM_AGP_TOP"},
	}
	for _, vmid := range []int{0, 2} {
		for _, suffix := range []string{
			"PAGE_TABLE_START_ADDR_LO32", "PAGE_TABLE_START_ADDR_HI32",
			"PAGE_TABLE_END_ADDR_LO32", "PAGE_TABLE_END_ADDR_HI32",
			"PAGE_TABLE_BASE_ADDR_LO32", "PAGE_TABLE_BASE_ADDR_HI32",
		} {
			specs = append(specs, regSpec{
				name: regName("mmVM_CONTEXT%d_%s", vmid, suffix),
			})
		}
		specs = append(specs, regSpec{
			name: regName("mmVM_CONTEXT%d_CNTL", vmid),
			bits: cntlBits,
		})
	}
	return specs
}

// newGfx9Fixture builds a GFX9 engine with a two-level page table for
// VMID 2 spanning VAs [0, 2^39):
//
//	root PDB at 0x100000, level-1 PDB at 0x200000, PTB at 0x300000
//	VA 0x12345000 -> VRAM 0x400000
//	VA 0x12346000 -> system 0x9000
//	VA 0x12347000 -> invalid
//	VA 0x40000000 -> 2 MiB PDE-as-PTE page at VRAM 0x800000
//	VA 0x12745000 -> VRAM 0x700000 via a PTE-Further hop
func newGfx9Fixture(t *testing.T) *fixture {
	f := newFixture(t, 9, 0, gfx9Specs())

	f.set(t, "mmMC_VM_FB_LOCATION_BASE", 0)
	f.set(t, "mmMC_VM_FB_LOCATION_TOP", 0xFF) // 4 GiB of VRAM

	// VMID 2: [0, 2^39), depth 2, block size 0, root PDB at 0x100000.
	f.set(t, "mmVM_CONTEXT2_PAGE_TABLE_END_ADDR_LO32", 0x7FFFFFF)
	f.set(t, "mmVM_CONTEXT2_CNTL", 2<<1)
	f.set(t, "mmVM_CONTEXT2_PAGE_TABLE_BASE_ADDR_LO32", 0x100000|1)

	// root PDB entry 0 -> level-1 PDB
	f.entry(t, 0x100000, 0x200000|1)
	// level-1 entry 145 -> PTB
	f.entry(t, 0x200000+145*8, 0x300000|1)
	// PTB entry 0x145: VRAM leaf
	f.entry(t, 0x300000+0x145*8, 0x400000|1<<6|1<<5|1)
	// PTB entry 0x146: system leaf
	f.entry(t, 0x300000+0x146*8, 0x9000|1<<1|1)
	// PTB entry 0x147 stays zero: invalid

	// root PDB entry 1 -> second level-1 PDB whose entry 0 is a
	// PDE-as-PTE 2 MiB page
	f.entry(t, 0x100000+8, 0x210000|1)
	f.entry(t, 0x210000, 0x800000|1<<54|1)

	// level-1 entry 147 -> fragment-size-4 PTB at 0x500000 whose
	// entry 20 continues into a further-PTB at 0x600000
	f.entry(t, 0x200000+147*8, 0x500000|4<<59|1)
	f.entry(t, 0x500000+20*8, 0x600000|1<<56|1)
	f.entry(t, 0x600000+5*8, 0x700000|1<<6|1<<5|1)

	return f
}
