// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"

	"github.com/gpudbg/gpudbg/libgfx"
)

// UMSCH API opcodes carried by type1 headers.
const (
	umschSetHWResources = iota
	umschSetScheduling
	umschSetSchedulingEntry
	umschResetScheduling
	umschUpdateScheduling
	umschQueryScheduler
	umschResumeGang
	umschSuspendGang
	umschResumeAllGangs
	umschSuspendAllGangs
	umschInvalidateTLB
	umschChangeVMIDToPASID
	umschUpdateRootPageTable
	umschOpcodeCount
)

var umschOpcodeNames = map[uint32]string{
	umschSetHWResources:      "SET_HW_RESOURCES",
	umschSetScheduling:       "SET_SCHEDULING",
	umschSetSchedulingEntry:  "SET_SCHEDULING_ENTRY",
	umschResetScheduling:     "RESET_SCHEDULING",
	umschUpdateScheduling:    "UPDATE_SCHEDULING",
	umschQueryScheduler:      "QUERY_SCHEDULER",
	umschResumeGang:          "RESUME_GANG",
	umschSuspendGang:         "SUSPEND_GANG",
	umschResumeAllGangs:      "RESUME_ALL_GANGS",
	umschSuspendAllGangs:     "SUSPEND_ALL_GANGS",
	umschInvalidateTLB:       "INVALIDATE_TLB",
	umschChangeVMIDToPASID:   "CHANGE_VMID_TO_PASID",
	umschUpdateRootPageTable: "UPDATE_ROOT_PAGE_TABLE",
}

// umschPktLen returns the total packet length in dwords. Type1 API
// packets are padded to a fixed 64 dwords; everything else is a
// 4-dword frame.
func umschPktLen(header uint32) int {
	pktType := header & 0xF
	opcode := (header >> 4) & 0xFF
	if pktType == 1 && opcode < umschOpcodeCount {
		return 64
	}
	return 4
}

// decodeUMSCH parses a user-mode scheduler ring. UMSCH packets carry
// no IBs or shaders, so decoding is a flat scan.
func (d *Decoder) decodeUMSCH(vmid libgfx.VMID, addr uint64, words []uint32) (*Node, bool) {
	var list nodeList
	truncated := false
	for i := 0; i < len(words); {
		header := words[i]
		total := umschPktLen(header)
		if i+total > len(words) {
			truncated = true
			break
		}
		list.append(&Node{
			Offset:  uint64(i),
			Addr:    addr + uint64(i)*4,
			VMID:    vmid,
			Header:  header,
			PktType: uint8(header & 0xF),
			Opcode:  (header >> 4) & 0xFF,
			NWords:  uint32(total - 1),
			Words:   append([]uint32(nil), words[i+1:i+total]...),
		})
		i += total
	}
	return list.head, truncated
}

// umschFields renders a UMSCH packet for presentation.
func umschFields(n *Node) (string, []field) {
	name, known := umschOpcodeNames[n.Opcode]
	if !known || n.PktType != 1 {
		name = fmt.Sprintf("UMSCH<%d:0x%02x>", n.PktType, n.Opcode)
	}
	fields := []field{
		{"TYPE", fmt.Sprintf("%d", n.PktType)},
		{"NWORDS", fmt.Sprintf("%d", (n.Header >> 12) & 0xFF)},
	}
	return name, append(fields, rawFields(n.Words)...)
}
