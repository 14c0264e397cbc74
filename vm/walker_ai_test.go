// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpudbg/gpudbg/libgfx"
)

func TestTranslateAIRead(t *testing.T) {
	f := newGfx9Fixture(t)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, f.vram.Write(0x400000, want))

	got := make([]byte, 8)
	require.NoError(t, f.eng.Read(libgfx.HubGfx, 2, 0x12345000, got, Options{}))
	assert.Equal(t, want, got)
}

func TestTranslateAIWrite(t *testing.T) {
	f := newGfx9Fixture(t)
	require.NoError(t, f.eng.Write(libgfx.HubGfx, 2, 0x12345010,
		[]byte{0xAA, 0xBB, 0xCC, 0xDD}, Options{}))

	got := make([]byte, 4)
	require.NoError(t, f.vram.Read(0x400010, got))
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, got)
}

func TestTranslateAIPageSplit(t *testing.T) {
	f := newGfx9Fixture(t)
	require.NoError(t, f.vram.Write(0x400FF8, []byte{1, 1, 1, 1, 1, 1, 1, 1}))
	require.NoError(t, f.sys.Write(0x9000, []byte{2, 2, 2, 2, 2, 2, 2, 2}))

	// 16 bytes straddling a VRAM page and a system page.
	got := make([]byte, 16)
	require.NoError(t, f.eng.Read(libgfx.HubGfx, 2, 0x12345FF8, got, Options{}))
	assert.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2}, got)
}

func TestTranslateAIInvalidMappingIsAtomic(t *testing.T) {
	f := newGfx9Fixture(t)
	require.NoError(t, f.vram.Write(0x400FF8, []byte{1, 1, 1, 1, 1, 1, 1, 1}))

	// The span covers a valid page followed by an invalid one. The
	// whole request must fail without touching the buffer.
	got := make([]byte, 0x1008+8)
	for i := range got {
		got[i] = 0x5A
	}
	err := f.eng.Read(libgfx.HubGfx, 2, 0x12346FF8, got, Options{})
	var invalid *InvalidMappingError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, libgfx.VMID(2), invalid.VMID)
	for _, b := range got {
		assert.Equal(t, byte(0x5A), b)
	}
}

func TestTranslateAIPDEAsPTE(t *testing.T) {
	f := newGfx9Fixture(t)
	want := []byte{9, 8, 7, 6}
	require.NoError(t, f.vram.Write(0x800000+0x145000, want))

	// VA 0x40145000 lands in the 2 MiB PDE-as-PTE page based at
	// VRAM 0x800000.
	got := make([]byte, 4)
	require.NoError(t, f.eng.Read(libgfx.HubGfx, 2, 0x40145000, got, Options{}))
	assert.Equal(t, want, got)

	trace, err := f.eng.Walk(libgfx.HubGfx, 2, 0x40145000, Options{})
	require.NoError(t, err)
	assert.True(t, trace.PTE.Fields.Valid)
	assert.Equal(t, uint64(0x1FFFFF), trace.PTE.PageMask)
	assert.Equal(t, uint64(0x800000+0x145000), trace.Phys)
}

func TestTranslateAIPTEFurther(t *testing.T) {
	f := newGfx9Fixture(t)
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF, 1, 2, 3, 4}
	require.NoError(t, f.vram.Write(0x700000, want))

	// VA 0x12745000 resolves through the continuation entry in the
	// fragment-size-4 PTB.
	got := make([]byte, 8)
	require.NoError(t, f.eng.Read(libgfx.HubGfx, 2, 0x12745000, got, Options{}))
	assert.Equal(t, want, got)

	trace, err := f.eng.Walk(libgfx.HubGfx, 2, 0x12745000, Options{})
	require.NoError(t, err)

	// root pseudo-PDE, two directory levels, and the continuation
	// entry counted as one extra directory hop
	require.Len(t, trace.PDEs, 4)
	further := trace.PDEs[3]
	assert.Equal(t, uint64(0x500000+20*8), further.Addr)
	assert.Equal(t, uint64(20), further.Index)
	assert.True(t, further.Fields.Further)

	assert.Equal(t, uint64(0x600000+5*8), trace.PTE.Addr)
	assert.Equal(t, uint64(5), trace.PTE.Index)
	assert.Equal(t, uint64(0xFFF), trace.PTE.PageMask)
	assert.Equal(t, uint64(0x700000), trace.Phys)
}

func TestTranslateAIPTEFurtherTwice(t *testing.T) {
	f := newGfx9Fixture(t)
	// a continuation entry inside a further-PTB never nests
	f.entry(t, 0x600000+5*8, 0x680000|1<<56|1)

	err := f.eng.Read(libgfx.HubGfx, 2, 0x12745000, make([]byte, 4), Options{})
	var invalid *InvalidMappingError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, -1, invalid.Level)
}

// gfx11Specs is gfx9Specs under the GFX10+ GC register prefix.
func gfx11Specs() []regSpec {
	specs := gfx9Specs()
	for i := range specs {
		specs[i].name = strings.Replace(specs[i].name, "mm", "mmGC", 1)
	}
	return specs
}

func TestTranslateAITFSBase(t *testing.T) {
	f := newFixture(t, 11, 0, gfx11Specs())
	f.set(t, "mmGCMC_VM_FB_LOCATION_TOP", 0xFF)
	f.set(t, "mmGCVM_CONTEXT2_PAGE_TABLE_END_ADDR_LO32", 0x7FFFFFF)
	f.set(t, "mmGCVM_CONTEXT2_CNTL", 2<<1)
	f.set(t, "mmGCVM_CONTEXT2_PAGE_TABLE_BASE_ADDR_LO32", 0x100000|1)

	f.entry(t, 0x100000, 0x200000|1)
	// PDE0 carries the translate-further-base flag, so the
	// continuation entry's base is relative to PDE0's
	f.entry(t, 0x200000+147*8, 0x500000|1<<57|4<<59|1)
	f.entry(t, 0x500000+20*8, 0x1000|1<<56|1)
	f.entry(t, 0x501000+5*8, 0x700000|1)

	want := []byte{5, 6, 7, 8}
	require.NoError(t, f.vram.Write(0x700000, want))
	got := make([]byte, 4)
	require.NoError(t, f.eng.Read(libgfx.HubGfx, 2, 0x12745000, got, Options{}))
	assert.Equal(t, want, got)

	trace, err := f.eng.Walk(libgfx.HubGfx, 2, 0x12745000, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x501000+5*8), trace.PTE.Addr)
	assert.Equal(t, uint64(0x700000), trace.Phys)
}

func TestTranslateAIOutOfRange(t *testing.T) {
	f := newGfx9Fixture(t)
	err := f.eng.Read(libgfx.HubGfx, 2, uint64(1)<<40, make([]byte, 4), Options{})
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, libgfx.VMID(2), oor.VMID)
}

func TestWalkTrace(t *testing.T) {
	f := newGfx9Fixture(t)
	trace, err := f.eng.Walk(libgfx.HubGfx, 2, 0x12345000, Options{})
	require.NoError(t, err)

	assert.Equal(t, uint64(0x12345000), trace.VA)
	assert.Equal(t, libgfx.VMID(2), trace.VMID)
	assert.Equal(t, 2, trace.Depth)

	// root pseudo-PDE plus the two fetched directory levels
	require.Len(t, trace.PDEs, 3)
	assert.Equal(t, uint64(0), trace.PDEs[0].Addr)
	assert.Equal(t, uint64(0x100000), trace.PDEs[0].Fields.PTEBase)
	assert.Equal(t, uint64(0x100000), trace.PDEs[1].Addr)
	assert.Equal(t, uint64(0x200000+145*8), trace.PDEs[2].Addr)
	assert.Equal(t, uint64(145), trace.PDEs[2].Index)

	assert.Equal(t, uint64(0x300000+0x145*8), trace.PTE.Addr)
	assert.Equal(t, uint64(0x145), trace.PTE.Index)
	assert.Equal(t, uint64(0x400000), trace.PTE.Fields.PageBase)
	assert.True(t, trace.PTE.Fields.Valid)
	assert.False(t, trace.System)
	assert.Equal(t, uint64(0x400000), trace.Phys)
}

func TestTranslateAISystemAccessModes(t *testing.T) {
	t.Run("physical", func(t *testing.T) {
		f := newGfx9Fixture(t)
		// SAM 0: VMID 0 addresses bypass translation entirely.
		want := []byte{4, 3, 2, 1}
		require.NoError(t, f.vram.Write(0x5000, want))

		got := make([]byte, 4)
		require.NoError(t, f.eng.Read(libgfx.HubGfx, 0, 0x5000, got, Options{}))
		assert.Equal(t, want, got)
	})

	t.Run("inside aperture unmapped", func(t *testing.T) {
		f := newGfx9Fixture(t)
		// SAM 3: addresses inside the system aperture skip the page
		// tables and address VRAM relative to fb_bottom.
		f.set(t, "mmMC_VM_MX_L1_TLB_CNTL", samInsideUnmapped<<3)
		f.set(t, "mmMC_VM_SYSTEM_APERTURE_LOW_ADDR", 0x1)  // 0x40000
		f.set(t, "mmMC_VM_SYSTEM_APERTURE_HIGH_ADDR", 0x3) // 0x100000

		want := []byte{7, 7, 7, 7}
		require.NoError(t, f.vram.Write(0x50000, want))

		got := make([]byte, 4)
		require.NoError(t, f.eng.Read(libgfx.HubGfx, 0, 0x50000, got, Options{}))
		assert.Equal(t, want, got)
	})
}

func TestTranslateAIMisaligned(t *testing.T) {
	f := newGfx9Fixture(t)
	err := f.eng.Read(libgfx.HubGfx, 2, 0x12345002, make([]byte, 4), Options{})
	assert.ErrorIs(t, err, ErrMisaligned)
	err = f.eng.Read(libgfx.HubGfx, 2, 0x12345000, make([]byte, 3), Options{})
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestTranslateAIZeroLength(t *testing.T) {
	f := newGfx9Fixture(t)
	assert.NoError(t, f.eng.Read(libgfx.HubGfx, 2, 0x12345000, nil, Options{}))
}
