// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpudbg/gpudbg/libgfx"
)

// recordUI captures presentation callbacks for assertions.
type recordUI struct {
	NopUI
	ibs       []uint64
	opcodes   []string
	fields    map[string]string
	shaders   []*ShaderProgram
	unhandled int
	done      int
}

func newRecordUI() *recordUI {
	return &recordUI{fields: make(map[string]string)}
}

func (u *recordUI) StartIB(addr uint64, _ libgfx.VMID, _ uint64, _ libgfx.VMID,
	_ uint32, _ Format) {
	u.ibs = append(u.ibs, addr)
}

func (u *recordUI) StartOpcode(_ uint64, _ libgfx.VMID, _, _, _ uint32,
	name string, _ uint32, _ []uint32) {
	u.opcodes = append(u.opcodes, name)
}

func (u *recordUI) AddField(_ uint64, _ libgfx.VMID, name, value string) {
	u.fields[name] = value
}

func (u *recordUI) AddShader(sh *ShaderProgram) { u.shaders = append(u.shaders, sh) }
func (u *recordUI) Unhandled(uint64, libgfx.VMID, uint32) { u.unhandled++ }
func (u *recordUI) Done()                                 { u.done++ }

func TestDecodeOpcodes(t *testing.T) {
	dev := newFakeDevice()
	dev.regs[pm4ShRegBase+0x20C] = "mmCOMPUTE_PGM_LO"
	dev.poke(t, 0x40000, []uint32{
		pm4Type3(pm4SetShReg, 2), 0x20C, 0x02000010,
		pm4Type3(pm4DispatchDirect, 3), 4, 2, 1,
	})
	d := NewDecoder(dev, Options{NoFollowShader: true})

	s, err := d.DecodeBuffer(FormatPM4, 0, 0x1000, []uint32{
		pm4Type3(pm4NOP, 1), 0,
		pm4Type3(pm4IndirectBuffer, 3), 0x40000, 0, 7 | 2<<24,
	})
	require.NoError(t, err)

	ui := newRecordUI()
	s.DecodeOpcodes(ui, 0)

	assert.Equal(t, 1, ui.done)
	// top level buffer plus the followed IB
	assert.Equal(t, []uint64{0x1000, 0x40000}, ui.ibs)
	assert.Equal(t, []string{"NOP", "INDIRECT_BUFFER", "SET_SH_REG", "DISPATCH_DIRECT"},
		ui.opcodes)
	assert.Equal(t, "4", ui.fields["DIM_X"])
	assert.Equal(t, "0x40000", ui.fields["IB_BASE"])
	require.Len(t, ui.shaders, 1)
	assert.Equal(t, uint64(0x200001000), ui.shaders[0].Addr)
	assert.Zero(t, ui.unhandled)
}

func TestDecodeOpcodesLimit(t *testing.T) {
	d := NewDecoder(newFakeDevice(), Options{})
	s, err := d.DecodeBuffer(FormatPM4, 0, 0, []uint32{
		pm4Type3(pm4NOP, 1), 0,
		pm4Type3(pm4NOP, 1), 0,
		pm4Type3(pm4NOP, 1), 0,
	})
	require.NoError(t, err)

	ui := newRecordUI()
	s.DecodeOpcodes(ui, 2)
	assert.Len(t, ui.opcodes, 2)
	assert.Equal(t, 1, ui.done)
}

func TestDecodeOpcodesUnhandled(t *testing.T) {
	d := NewDecoder(newFakeDevice(), Options{})
	s, err := d.DecodeBuffer(FormatPM4, 0, 0, []uint32{
		pm4Type3(0x01, 2), 1, 2, // no such opcode
	})
	require.NoError(t, err)

	ui := newRecordUI()
	s.DecodeOpcodes(ui, 0)
	assert.Equal(t, 1, ui.unhandled)
	assert.Equal(t, 1, ui.done)
	assert.Equal(t, "0x00000001", ui.fields["W0"])
}
