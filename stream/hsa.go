// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/gpudbg/gpudbg/libgfx"
)

// AQL packets are a fixed 64 bytes.
const hsaPacketDwords = 16

// AQL packet types (header bits 7:0).
const (
	hsaVendorSpecific = 0
	hsaInvalid        = 1
	hsaKernelDispatch = 2
	hsaBarrierAnd     = 3
	hsaAgentDispatch  = 4
	hsaBarrierOr      = 5
)

var hsaTypeNames = map[uint32]string{
	hsaVendorSpecific: "VENDOR_SPECIFIC",
	hsaInvalid:        "INVALID",
	hsaKernelDispatch: "KERNEL_DISPATCH",
	hsaBarrierAnd:     "BARRIER_AND",
	hsaAgentDispatch:  "AGENT_DISPATCH",
	hsaBarrierOr:      "BARRIER_OR",
}

// decodeHSA parses a queue of fixed-size AQL packets. The tracker
// carries the COMPUTE_PGM_* state recovered from kernel descriptors
// so kernel dispatches attach register context like PM4 dispatches
// do.
func (d *Decoder) decodeHSA(vmid libgfx.VMID, addr uint64, words []uint32,
	tracker *Tracker) (*Node, bool) {
	var list nodeList
	truncated := false
	for i := 0; i < len(words); i += hsaPacketDwords {
		if i+hsaPacketDwords > len(words) {
			truncated = true
			break
		}
		pkt := words[i : i+hsaPacketDwords]
		header := pkt[0]
		n := &Node{
			Offset:  uint64(i),
			Addr:    addr + uint64(i)*4,
			VMID:    vmid,
			Header:  header,
			Opcode:  header & 0xFF,
			NWords:  hsaPacketDwords - 1,
			Words:   append([]uint32(nil), pkt[1:]...),
		}
		list.append(n)
		if n.Opcode == hsaKernelDispatch {
			d.processAQLDispatch(n, pkt, tracker)
		}
	}
	return list.head, truncated
}

// processAQLDispatch resolves the kernel descriptor of a
// KERNEL_DISPATCH packet into a compute shader and fetches the
// kernarg segment.
func (d *Decoder) processAQLDispatch(n *Node, pkt []uint32, tracker *Tracker) {
	kernelObject := uint64(pkt[8]) | uint64(pkt[9])<<32
	kernargAddr := uint64(pkt[10]) | uint64(pkt[11])<<32
	if kernelObject == 0 {
		return
	}
	desc := make([]byte, 64)
	if err := d.Dev.ReadVM(d.Opts.Hub, n.VMID, kernelObject, desc); err != nil {
		log.WithError(err).WithField("addr", fmt.Sprintf("0x%x", kernelObject)).
			Warn("could not fetch kernel descriptor")
		return
	}
	u32 := func(i int) uint32 {
		return uint32(desc[i*4]) | uint32(desc[i*4+1])<<8 |
			uint32(desc[i*4+2])<<16 | uint32(desc[i*4+3])<<24
	}
	entryOffset := uint64(u32(4)) | uint64(u32(5))<<32
	kernargSize := u32(2)
	tracker.Set("COMPUTE_PGM_RSRC3", u32(11), n.VMID, n.Addr)
	tracker.Set("COMPUTE_PGM_RSRC1", u32(12), n.VMID, n.Addr)
	tracker.Set("COMPUTE_PGM_RSRC2", u32(13), n.VMID, n.Addr)
	entry := kernelObject + entryOffset
	n.Shaders = append(n.Shaders, &ShaderProgram{
		VMID: n.VMID,
		Addr: entry,
		Size: d.shaderSize(n.VMID, entry),
		Type: ShaderCompute,
		Regs: tracker.Frozen(),
	})
	if kernargAddr != 0 && kernargSize > 0 && kernargSize <= d.Opts.sizeGuard() {
		if data, err := d.readWords(d.Opts.Hub, n.VMID, kernargAddr, (kernargSize+3)&^3); err == nil {
			n.Data = data
			n.DataAddr = kernargAddr
			n.DataVMID = n.VMID
		}
	}
}

// hsaFields renders an AQL packet for presentation.
func hsaFields(n *Node) (string, []field, bool) {
	name, known := hsaTypeNames[n.Opcode]
	if !known {
		return fmt.Sprintf("AQL<0x%02x>", n.Opcode), rawFields(n.Words), false
	}
	fields := []field{
		{"BARRIER", fmt.Sprintf("%d", (n.Header >> 8) & 1)},
		{"ACQUIRE_SCOPE", fmt.Sprintf("%d", (n.Header >> 9) & 3)},
		{"RELEASE_SCOPE", fmt.Sprintf("%d", (n.Header >> 11) & 3)},
	}
	if n.Opcode == hsaKernelDispatch && len(n.Words) >= 11 {
		fields = append(fields,
			field{"SETUP", fmt.Sprintf("%d", n.Header >> 16)},
			field{"WORKGROUP_SIZE_X", fmt.Sprintf("%d", n.Words[0] & 0xFFFF)},
			field{"WORKGROUP_SIZE_Y", fmt.Sprintf("%d", n.Words[0] >> 16)},
			field{"WORKGROUP_SIZE_Z", fmt.Sprintf("%d", n.Words[1] & 0xFFFF)},
			field{"GRID_SIZE_X", fmt.Sprintf("%d", n.Words[2])},
			field{"GRID_SIZE_Y", fmt.Sprintf("%d", n.Words[3])},
			field{"GRID_SIZE_Z", fmt.Sprintf("%d", n.Words[4])},
			field{"PRIVATE_SEGMENT_SIZE", fmt.Sprintf("%d", n.Words[5])},
			field{"GROUP_SEGMENT_SIZE", fmt.Sprintf("%d", n.Words[6])},
			field{"KERNEL_OBJECT", fmt.Sprintf("0x%x",
				uint64(n.Words[7])|uint64(n.Words[8])<<32)},
			field{"KERNARG_ADDRESS", fmt.Sprintf("0x%x",
				uint64(n.Words[9])|uint64(n.Words[10])<<32)},
		)
		if len(n.Words) >= 15 {
			fields = append(fields, field{"COMPLETION_SIGNAL",
				fmt.Sprintf("0x%x", uint64(n.Words[13])|uint64(n.Words[14])<<32)})
		}
		return name, fields, true
	}
	return name, append(fields, rawFields(n.Words)...), true
}
