// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import "github.com/gpudbg/gpudbg/libgfx"

// Node is one decoded packet. Words holds an owned copy of the
// packet payload (the header excluded); nothing in a node aliases the
// source buffer.
type Node struct {
	// Offset is the dword index of the packet header within its
	// buffer; Addr is the VM address of the header.
	Offset uint64
	Addr   uint64
	VMID   libgfx.VMID

	Header  uint32
	PktType uint8
	Opcode  uint32
	SubOp   uint32
	NWords  uint32
	Words   []uint32

	// Shaders discovered while decoding this packet (dispatch and
	// draw opcodes resolve them from tracked register writes).
	Shaders []*ShaderProgram

	// Child is the decoded sub-stream of a followed indirect buffer.
	Child     *Node
	ChildAddr uint64
	ChildVMID libgfx.VMID

	// VCNData is a fetched UVD/VCN decoder IB referenced by register
	// writes in this packet.
	VCNData []uint32
	VCNAddr uint64
	VCNVMID libgfx.VMID

	// Data is an auxiliary block fetched for this packet, such as a
	// kernarg segment.
	Data     []uint32
	DataAddr uint64
	DataVMID libgfx.VMID

	Prev, Next *Node
}

// nodeList builds a linked list preserving insertion order.
type nodeList struct {
	head, tail *Node
}

func (l *nodeList) append(n *Node) *Node {
	if l.tail == nil {
		l.head = n
	} else {
		l.tail.Next = n
		n.Prev = l.tail
	}
	l.tail = n
	return n
}

// ShaderType classifies a discovered shader program.
type ShaderType uint8

const (
	ShaderCompute ShaderType = iota
	ShaderPixel
	ShaderVertex
	ShaderES
	ShaderGS
	ShaderHS
	ShaderLS
	ShaderOpaque
)

func (t ShaderType) String() string {
	switch t {
	case ShaderCompute:
		return "compute"
	case ShaderPixel:
		return "pixel"
	case ShaderVertex:
		return "vertex"
	case ShaderES:
		return "es"
	case ShaderGS:
		return "gs"
	case ShaderHS:
		return "hs"
	case ShaderLS:
		return "ls"
	}
	return "opaque"
}

// ShaderProgram is a shader discovered in a stream: its VM location,
// byte size (4 when size scanning is disabled), and the register
// state in effect at the dispatch that referenced it.
type ShaderProgram struct {
	VMID libgfx.VMID
	Addr uint64
	Size uint32
	Type ShaderType
	Regs []RegWrite
}

// Clone deep-copies the program so it outlives its stream.
func (sh *ShaderProgram) Clone() *ShaderProgram {
	out := *sh
	out.Regs = make([]RegWrite, len(sh.Regs))
	copy(out.Regs, sh.Regs)
	return &out
}
