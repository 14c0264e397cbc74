// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package asic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpudbg/gpudbg/hwaccess"
	"github.com/gpudbg/gpudbg/libgfx"
)

func testAsic(t *testing.T) (*Asic, *hwaccess.ScriptedRegs) {
	t.Helper()
	regs := hwaccess.NewScriptedRegs()
	a, err := New("navi", regs,
		&IPBlock{
			Name:    "gfx",
			Version: libgfx.GfxVersion{Major: 10, Minor: 3},
			Regs: []Register{
				{Name: "mmGRBM_STATUS", Offset: 0x1000, Bits: []Bitfield{
					{Name: "GUI_ACTIVE", Start: 31, Stop: 31},
					{Name: "CP_BUSY", Start: 29, Stop: 29},
				}},
				{Name: "mmCP_RB0_RPTR", Offset: 0x1043},
			},
		},
		&IPBlock{
			Name:    "mmhub",
			Version: libgfx.GfxVersion{Major: 2, Minor: 0},
			Regs: []Register{
				{Name: "mmMMVM_CONTEXT0_CNTL", Offset: 0x2000, Bits: []Bitfield{
					{Name: "PAGE_TABLE_DEPTH", Start: 1, Stop: 3},
				}},
			},
		},
	)
	require.NoError(t, err)
	return a, regs
}

func TestGeneration(t *testing.T) {
	a, _ := testAsic(t)
	assert.Equal(t, libgfx.GfxVersion{Major: 10, Minor: 3}, a.GfxVersion())
	assert.Equal(t, libgfx.GenV10_3, a.Generation())
}

func TestFindReg(t *testing.T) {
	a, _ := testAsic(t)

	r, err := a.FindReg("mmGRBM_STATUS")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), r.Offset)

	// lookups cross block boundaries
	r, err = a.FindReg("mmMMVM_CONTEXT0_CNTL")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2000), r.Offset)

	_, err = a.FindReg("mmNO_SUCH_REG")
	assert.Error(t, err)

	// cached lookups return the same entry
	r2, err := a.FindReg("mmGRBM_STATUS")
	require.NoError(t, err)
	assert.Same(t, r, r2)

	assert.True(t, a.HasReg("mmCP_RB0_RPTR"))
	assert.False(t, a.HasReg("mmCP_RB9_RPTR"))
}

func TestRegName(t *testing.T) {
	a, _ := testAsic(t)
	assert.Equal(t, "mmCP_RB0_RPTR", a.RegName(0x1043))
	// unknown offsets still render something usable
	assert.Contains(t, a.RegName(0xDEAD), "0xdead")
}

func TestReadWriteField(t *testing.T) {
	a, regs := testAsic(t)
	regs.Values[0x1000] = 1<<31 | 1<<29

	v, err := a.Read32("mmGRBM_STATUS")
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<31|1<<29), v)

	f, err := a.ReadField("mmGRBM_STATUS", "GUI_ACTIVE")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), f)

	f, err = a.SliceField("mmGRBM_STATUS", "CP_BUSY", 1<<29)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), f)

	_, err = a.ReadField("mmGRBM_STATUS", "NOT_A_FIELD")
	assert.Error(t, err)

	require.NoError(t, a.Write32("mmCP_RB0_RPTR", 0x42))
	assert.Equal(t, uint32(0x42), regs.Values[0x1043])
}

func TestRegisterCompose(t *testing.T) {
	r := &Register{Name: "mmTEST", Bits: []Bitfield{
		{Name: "MODE", Start: 3, Stop: 4},
	}}
	v, err := r.Compose("MODE", 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(3<<3), v)

	// out of range values are masked to the field width
	v, err = r.Compose("MODE", 0xFF)
	require.NoError(t, err)
	assert.Equal(t, uint32(3<<3), v)
}

func TestLoadTable(t *testing.T) {
	table := `
# register capture
asic navi
block gfx 10 3
mmGRBM_STATUS 0x1000 GUI_ACTIVE:31:31 CP_BUSY:29:29
mmCP_RB0_RPTR 0x1043
block mmhub 2 0 1
mmMMVM_CONTEXT0_CNTL 0x2000 PAGE_TABLE_DEPTH:1:3
`
	name, blocks, err := LoadTable(strings.NewReader(table))
	require.NoError(t, err)
	assert.Equal(t, "navi", name)
	require.Len(t, blocks, 2)

	assert.Equal(t, "gfx", blocks[0].Name)
	assert.Equal(t, libgfx.GfxVersion{Major: 10, Minor: 3}, blocks[0].Version)
	require.Len(t, blocks[0].Regs, 2)
	assert.Equal(t, "mmGRBM_STATUS", blocks[0].Regs[0].Name)
	assert.Equal(t, uint32(0x1000), blocks[0].Regs[0].Offset)
	require.Len(t, blocks[0].Regs[0].Bits, 2)
	assert.Equal(t, Bitfield{Name: "GUI_ACTIVE", Start: 31, Stop: 31},
		blocks[0].Regs[0].Bits[0])

	assert.Equal(t, 1, blocks[1].Instance)

	a, err := New(name, hwaccess.NewScriptedRegs(), blocks...)
	require.NoError(t, err)
	assert.Equal(t, libgfx.GenV10_3, a.Generation())
}

func TestLoadTableErrors(t *testing.T) {
	cases := []string{
		"mmREG 0x1000",          // register before any block
		"block gfx",             // missing version
		"block gfx 10 x",        // bad minor
		"asic",                  // missing name
		"block gfx 10 0\nmmREG", // missing offset
		"block gfx 10 0\nmmREG 0x10 BAD_FIELD",
	}
	for _, c := range cases {
		_, _, err := LoadTable(strings.NewReader(c))
		assert.Error(t, err, "table %q", c)
	}
}
