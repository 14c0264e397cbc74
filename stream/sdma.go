// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/gpudbg/gpudbg/libgfx"
)

// SDMA opcodes (header bits 7:0).
const (
	sdmaNOP            = 0x00
	sdmaCopy           = 0x01
	sdmaWrite          = 0x02
	sdmaIndirect       = 0x04
	sdmaFence          = 0x05
	sdmaTrap           = 0x06
	sdmaSem            = 0x07
	sdmaPollRegmem     = 0x08
	sdmaCondExe        = 0x09
	sdmaAtomic         = 0x0A
	sdmaConstFill      = 0x0B
	sdmaGenPTEPDE      = 0x0C
	sdmaTimestamp      = 0x0D
	sdmaSRBMWrite      = 0x0E
	sdmaPreExe         = 0x0F
	sdmaGPUVMInv       = 0x10
	sdmaGCRReq         = 0x11
	sdmaDummyTrap      = 0x20
)

// Copy sub-opcodes (header bits 15:8).
const (
	sdmaCopyLinear          = 0x00
	sdmaCopyTiled           = 0x01
	sdmaCopyLinearSubWindow = 0x04
	sdmaCopyT2T             = 0x06
)

var sdmaOpcodeNames = map[uint32]string{
	sdmaNOP:        "NOP",
	sdmaCopy:       "COPY",
	sdmaWrite:      "WRITE",
	sdmaIndirect:   "INDIRECT_BUFFER",
	sdmaFence:      "FENCE",
	sdmaTrap:       "TRAP",
	sdmaSem:        "SEM",
	sdmaPollRegmem: "POLL_REGMEM",
	sdmaCondExe:    "COND_EXE",
	sdmaAtomic:     "ATOMIC",
	sdmaConstFill:  "CONST_FILL",
	sdmaGenPTEPDE:  "GEN_PTEPDE",
	sdmaTimestamp:  "TIMESTAMP",
	sdmaSRBMWrite:  "SRBM_WRITE",
	sdmaPreExe:     "PRE_EXE",
	sdmaGPUVMInv:   "GPUVM_INV",
	sdmaGCRReq:     "GCR_REQ",
	sdmaDummyTrap:  "DUMMY_TRAP",
}

// sdmaPktLen returns the total packet length in dwords, header
// included. Variable-length packets need payload words from the
// buffer; short reads are handled by the caller's truncation check.
func sdmaPktLen(header uint32, payload []uint32) (int, bool) {
	op := header & 0xFF
	sub := (header >> 8) & 0xFF
	switch op {
	case sdmaNOP:
		return 1 + int((header>>16)&0x3FFF), true
	case sdmaCopy:
		switch sub {
		case sdmaCopyLinear:
			return 7, true
		case sdmaCopyTiled:
			return 12, true
		case sdmaCopyLinearSubWindow:
			return 13, true
		case sdmaCopyT2T:
			return 15, true
		}
		return 7, true
	case sdmaWrite:
		// header, dst_lo, dst_hi, count, then count+1 data dwords.
		if len(payload) < 3 {
			return 5, true
		}
		return 4 + int(payload[2]&0xFFFFF) + 1, true
	case sdmaIndirect:
		return 6, true
	case sdmaFence:
		return 4, true
	case sdmaTrap, sdmaPreExe, sdmaDummyTrap:
		return 2, true
	case sdmaSem, sdmaTimestamp, sdmaSRBMWrite:
		return 3, true
	case sdmaPollRegmem:
		return 6, true
	case sdmaCondExe:
		return 5, true
	case sdmaAtomic:
		return 8, true
	case sdmaConstFill:
		return 5, true
	case sdmaGenPTEPDE:
		return 10, true
	case sdmaGPUVMInv:
		return 4, true
	case sdmaGCRReq:
		return 5, true
	}
	return 1, false
}

// decodeSDMA parses an SDMA buffer, following INDIRECT_BUFFER packets
// through the VM engine.
func (d *Decoder) decodeSDMA(vmid libgfx.VMID, addr uint64, words []uint32) (*Node, bool) {
	var list nodeList
	truncated := false
	for i := 0; i < len(words); {
		header := words[i]
		total, known := sdmaPktLen(header, words[i+1:])
		if i+total > len(words) {
			truncated = true
			break
		}
		n := &Node{
			Offset: uint64(i),
			Addr:   addr + uint64(i)*4,
			VMID:   vmid,
			Header: header,
			Opcode: header & 0xFF,
			SubOp:  (header >> 8) & 0xFF,
			NWords: uint32(total - 1),
			Words:  append([]uint32(nil), words[i+1:i+total]...),
		}
		if !known {
			// Resync is impossible without a length; keep the rest of
			// the buffer as this node's payload and stop.
			n.NWords = uint32(len(words) - i - 1)
			n.Words = append([]uint32(nil), words[i+1:]...)
			list.append(n)
			break
		}
		list.append(n)
		if n.Opcode == sdmaIndirect {
			d.followSDMAIB(n)
		}
		i += total
	}
	return list.head, truncated
}

// followSDMAIB recurses into an SDMA INDIRECT_BUFFER packet: base
// lo/hi, size in dwords, target vmid in the header. Unreadable IBs
// are logged and skipped so the rest of the stream still decodes.
func (d *Decoder) followSDMAIB(n *Node) {
	if len(n.Words) < 3 || d.Opts.NoFollowIB {
		return
	}
	ibAddr := uint64(n.Words[0]&^0x1F) | uint64(n.Words[1])<<32
	sizeDwords := n.Words[2] & 0xFFFFF
	ibVMID := libgfx.VMID((n.Header >> 16) & 0xF)
	if ibVMID == 0 {
		ibVMID = n.VMID
	}
	sizeBytes := sizeDwords * 4
	if sizeBytes > d.Opts.sizeGuard() {
		log.WithFields(log.Fields{"addr": fmt.Sprintf("0x%x", ibAddr),
			"size": sizeBytes}).Warn("skipping oversized SDMA IB")
		return
	}
	words, err := d.readWords(d.Opts.Hub, ibVMID, ibAddr, sizeBytes)
	if err != nil {
		log.WithError(err).WithField("addr", fmt.Sprintf("0x%x", ibAddr)).
			Warn("could not read SDMA IB")
		return
	}
	n.Child, _ = d.decodeSDMA(ibVMID, ibAddr, words)
	n.ChildAddr = ibAddr
	n.ChildVMID = ibVMID
}

// sdmaFields renders an SDMA packet for presentation.
func sdmaFields(n *Node) (string, []field, bool) {
	name, known := sdmaOpcodeNames[n.Opcode]
	if !known {
		return fmt.Sprintf("SDMA<0x%02x>", n.Opcode), rawFields(n.Words), false
	}
	switch n.Opcode {
	case sdmaCopy:
		if n.SubOp == sdmaCopyLinear && len(n.Words) >= 6 {
			return name, []field{
				{"COUNT", fmt.Sprintf("%d", n.Words[0]&0x3FFFFF)},
				{"SRC_ADDR", fmt.Sprintf("0x%x", uint64(n.Words[2])|uint64(n.Words[3])<<32)},
				{"DST_ADDR", fmt.Sprintf("0x%x", uint64(n.Words[4])|uint64(n.Words[5])<<32)},
			}, true
		}
	case sdmaWrite:
		if len(n.Words) >= 3 {
			return name, []field{
				{"DST_ADDR", fmt.Sprintf("0x%x", uint64(n.Words[0])|uint64(n.Words[1])<<32)},
				{"COUNT", fmt.Sprintf("%d", n.Words[2]&0xFFFFF)},
			}, true
		}
	case sdmaIndirect:
		if len(n.Words) >= 5 {
			return name, []field{
				{"IB_BASE", fmt.Sprintf("0x%x", uint64(n.Words[0]&^0x1F)|uint64(n.Words[1])<<32)},
				{"IB_SIZE", fmt.Sprintf("%d", n.Words[2]&0xFFFFF)},
				{"VMID", fmt.Sprintf("%d", (n.Header>>16)&0xF)},
				{"CSA_ADDR", fmt.Sprintf("0x%x", uint64(n.Words[3])|uint64(n.Words[4])<<32)},
			}, true
		}
	case sdmaFence:
		if len(n.Words) >= 3 {
			return name, []field{
				{"ADDR", fmt.Sprintf("0x%x", uint64(n.Words[0])|uint64(n.Words[1])<<32)},
				{"DATA", fmt.Sprintf("0x%08x", n.Words[2])},
			}, true
		}
	}
	return name, rawFields(n.Words), true
}
