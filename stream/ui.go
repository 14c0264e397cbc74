// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import "github.com/gpudbg/gpudbg/libgfx"

// UI receives presentation callbacks from DecodeOpcodes. Implementors
// render packets however they like; the decoder guarantees Done is
// called exactly once per DecodeOpcodes call, after all other
// callbacks.
type UI interface {
	// StartIB opens a buffer: its own location, where it was
	// referenced from (zero for top-level buffers), its size in
	// dwords and its format.
	StartIB(addr uint64, vmid libgfx.VMID, fromAddr uint64, fromVMID libgfx.VMID,
		sizeDwords uint32, format Format)
	// StartOpcode opens a packet; words is the payload, valid only
	// for the duration of the call.
	StartOpcode(addr uint64, vmid libgfx.VMID, opcode, subop, nwords uint32,
		name string, header uint32, words []uint32)
	// AddField emits one decoded field of the current packet.
	AddField(addr uint64, vmid libgfx.VMID, name, value string)
	// AddShader reports a shader referenced by the current packet.
	AddShader(sh *ShaderProgram)
	// AddVCN reports a UVD/VCN decoder IB referenced by the current
	// packet.
	AddVCN(addr uint64, vmid libgfx.VMID, words []uint32)
	// AddData reports an auxiliary data block, such as a kernarg
	// segment.
	AddData(addr uint64, vmid libgfx.VMID, words []uint32)
	// Unhandled flags a packet the decoder has no field layout for.
	Unhandled(addr uint64, vmid libgfx.VMID, header uint32)
	// Done closes the decode.
	Done()
}

// NopUI discards every callback. Embed it to implement only part of
// the UI surface.
type NopUI struct{}

func (NopUI) StartIB(uint64, libgfx.VMID, uint64, libgfx.VMID, uint32, Format) {}
func (NopUI) StartOpcode(uint64, libgfx.VMID, uint32, uint32, uint32, string, uint32, []uint32) {
}
func (NopUI) AddField(uint64, libgfx.VMID, string, string) {}
func (NopUI) AddShader(*ShaderProgram)                     {}
func (NopUI) AddVCN(uint64, libgfx.VMID, []uint32)         {}
func (NopUI) AddData(uint64, libgfx.VMID, []uint32)        {}
func (NopUI) Unhandled(uint64, libgfx.VMID, uint32)        {}
func (NopUI) Done()                                        {}

// DecodeOpcodes presents a decoded stream through ui. It walks the
// packet tree in stream order, descending into followed IBs, and
// calls ui.Done exactly once. maxPackets limits presentation when
// positive; 0 presents everything.
func (s *Stream) DecodeOpcodes(ui UI, maxPackets int) {
	left := maxPackets
	if maxPackets <= 0 {
		left = -1
	}
	presentIB(ui, s.Format, s.Addr, s.VMID, 0, 0, s.Head, &left)
	ui.Done()
}

func presentIB(ui UI, format Format, addr uint64, vmid libgfx.VMID,
	fromAddr uint64, fromVMID libgfx.VMID, head *Node, left *int) {
	var size uint32
	for n := head; n != nil; n = n.Next {
		size += 1 + n.NWords
	}
	ui.StartIB(addr, vmid, fromAddr, fromVMID, size, format)
	for n := head; n != nil; n = n.Next {
		if *left == 0 {
			return
		}
		if *left > 0 {
			*left--
		}
		presentNode(ui, format, n)
		if n.Child != nil {
			presentIB(ui, format, n.ChildAddr, n.ChildVMID, n.Addr, n.VMID,
				n.Child, left)
		}
	}
}

func presentNode(ui UI, format Format, n *Node) {
	var name string
	var fields []field
	handled := true
	switch format {
	case FormatPM4:
		name, fields, handled = pm4Fields(n)
	case FormatSDMA:
		name, fields, handled = sdmaFields(n)
	case FormatHSA:
		name, fields, handled = hsaFields(n)
	case FormatUMSCH:
		name, fields = umschFields(n)
	}
	ui.StartOpcode(n.Addr, n.VMID, n.Opcode, n.SubOp, n.NWords, name, n.Header, n.Words)
	if !handled {
		ui.Unhandled(n.Addr, n.VMID, n.Header)
	}
	for _, f := range fields {
		ui.AddField(n.Addr, n.VMID, f.name, f.value)
	}
	for _, sh := range n.Shaders {
		ui.AddShader(sh)
	}
	if n.VCNData != nil {
		ui.AddVCN(n.VCNAddr, n.VCNVMID, n.VCNData)
	}
	if n.Data != nil {
		ui.AddData(n.DataAddr, n.DataVMID, n.Data)
	}
}

type field struct {
	name, value string
}
