// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// aqlDispatch builds a KERNEL_DISPATCH packet.
func aqlDispatch(kernelObject, kernargAddr uint64) []uint32 {
	pkt := make([]uint32, hsaPacketDwords)
	pkt[0] = hsaKernelDispatch | 1<<8 | 3<<16 // 3D setup, barrier
	pkt[1] = 64 | 1<<16                       // workgroup 64x1
	pkt[2] = 1
	pkt[3] = 1024 // grid x
	pkt[4] = 1
	pkt[5] = 1
	pkt[8] = uint32(kernelObject)
	pkt[9] = uint32(kernelObject >> 32)
	pkt[10] = uint32(kernargAddr)
	pkt[11] = uint32(kernargAddr >> 32)
	return pkt
}

// pokeKernelDescriptor stages a 64-byte kernel descriptor.
func pokeKernelDescriptor(t *testing.T, dev *fakeDevice, addr uint64,
	entryOffset uint64, kernargSize, rsrc1, rsrc2, rsrc3 uint32) {
	desc := make([]uint32, 16)
	desc[2] = kernargSize
	desc[4] = uint32(entryOffset)
	desc[5] = uint32(entryOffset >> 32)
	desc[11] = rsrc3
	desc[12] = rsrc1
	desc[13] = rsrc2
	dev.poke(t, addr, desc)
}

func TestDecodeHSADispatch(t *testing.T) {
	dev := newFakeDevice()
	const kernelObject = 0x70000
	const kernargAddr = 0x90000
	pokeKernelDescriptor(t, dev, kernelObject, 0x100, 16, 0xAC0081, 0x98, 0x11)
	dev.poke(t, kernargAddr, []uint32{1, 2, 3, 4})
	d := NewDecoder(dev, Options{NoFollowShader: true})

	s, err := d.DecodeBuffer(FormatHSA, 2, 0x3000, aqlDispatch(kernelObject, kernargAddr))
	require.NoError(t, err)

	n := s.Head
	require.NotNil(t, n)
	assert.Equal(t, uint32(hsaKernelDispatch), n.Opcode)
	require.Len(t, n.Shaders, 1)

	sh := n.Shaders[0]
	assert.Equal(t, uint64(kernelObject+0x100), sh.Addr)
	assert.Equal(t, ShaderCompute, sh.Type)
	assert.EqualValues(t, 2, sh.VMID)

	// descriptor rsrc words surface as tracked register state
	regs := map[string]uint32{}
	for _, w := range sh.Regs {
		regs[w.Name] = w.Value
	}
	assert.Equal(t, uint32(0xAC0081), regs["COMPUTE_PGM_RSRC1"])
	assert.Equal(t, uint32(0x98), regs["COMPUTE_PGM_RSRC2"])
	assert.Equal(t, uint32(0x11), regs["COMPUTE_PGM_RSRC3"])

	// the kernarg segment is captured alongside
	assert.Equal(t, []uint32{1, 2, 3, 4}, n.Data)
	assert.Equal(t, uint64(kernargAddr), n.DataAddr)
}

func TestDecodeHSABarrier(t *testing.T) {
	d := NewDecoder(newFakeDevice(), Options{})
	pkt := make([]uint32, hsaPacketDwords)
	pkt[0] = hsaBarrierAnd

	s, err := d.DecodeBuffer(FormatHSA, 0, 0, pkt)
	require.NoError(t, err)
	assert.Equal(t, uint32(hsaBarrierAnd), s.Head.Opcode)
	assert.Empty(t, s.Head.Shaders)
}

func TestDecodeHSATruncated(t *testing.T) {
	d := NewDecoder(newFakeDevice(), Options{})
	pkt := make([]uint32, hsaPacketDwords)
	pkt[0] = hsaBarrierOr

	s, err := d.DecodeBuffer(FormatHSA, 0, 0, append(pkt, 1, 2, 3))
	require.NoError(t, err)
	assert.True(t, s.Truncated)
	assert.Equal(t, uint32(hsaBarrierOr), s.Head.Opcode)
	assert.Nil(t, s.Head.Next)
}
