// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/gpudbg/gpudbg/libgfx"
)

// PM4 packet type3 opcodes the decoder recognizes.
const (
	pm4NOP                       = 0x10
	pm4DispatchDirect            = 0x15
	pm4DispatchIndirect          = 0x16
	pm4IndexBufferSize           = 0x13
	pm4DrawIndex2                = 0x27
	pm4DrawIndexAuto             = 0x2D
	pm4DrawIndexOffset2          = 0x35
	pm4DrawIndexIndirect         = 0x38
	pm4IndirectBufferConst       = 0x33
	pm4WriteData                 = 0x37
	pm4IndirectBuffer            = 0x3F
	pm4DrawIndirect              = 0x24
	pm4DrawIndexIndirectMulti    = 0x2C
	pm4NumInstances              = 0x2F
	pm4DispatchDrawPreambleGfx   = 0x4C
	pm4DispatchDrawGfx           = 0x4D
	pm4SetContextReg             = 0x69
	pm4SetShReg                  = 0x76
	pm4SetUConfigReg             = 0x79
	pm4SetShRegIndex             = 0x9B
	pm4DrawIndirect2             = 0x25
	pm4DispatchDirectInterleaved = 0xA7
	pm4DispatchMeshDirect        = 0xAA
	pm4DispatchTaskMeshDirect    = 0xAD
	pm4SetContextRegPairs        = 0xB8
	pm4SetShRegPairs             = 0xBA
	pm4SetContextRegPairsPacked  = 0xBD
	pm4SetShRegPairsPacked       = 0xBB
	pm4SetShRegPairsPackedN      = 0xBC
	pm4SetUConfigRegPairs        = 0xBE
	pm4EventWrite                = 0x46
	pm4ReleaseMem                = 0x49
	pm4AcquireMem                = 0x58
	pm4WaitRegMem                = 0x3C
	pm4ContextControl            = 0x28
	pm4ClearState                = 0x12
)

// Register space bases for the SET_* packet families, in dword
// offsets.
const (
	pm4ContextRegBase = 0xA000
	pm4ShRegBase      = 0x2C00
	pm4UConfigRegBase = 0xC000
)

var pm4OpcodeNames = map[uint32]string{
	pm4NOP:                       "NOP",
	pm4ClearState:                "CLEAR_STATE",
	pm4IndexBufferSize:           "INDEX_BUFFER_SIZE",
	pm4DispatchDirect:            "DISPATCH_DIRECT",
	pm4DispatchIndirect:          "DISPATCH_INDIRECT",
	pm4DrawIndirect:              "DRAW_INDIRECT",
	pm4DrawIndirect2:             "DRAW_INDIRECT_2",
	pm4DrawIndex2:                "DRAW_INDEX_2",
	pm4ContextControl:            "CONTEXT_CONTROL",
	pm4DrawIndexIndirectMulti:    "DRAW_INDEX_INDIRECT_MULTI",
	pm4DrawIndexAuto:             "DRAW_INDEX_AUTO",
	pm4NumInstances:              "NUM_INSTANCES",
	pm4IndirectBufferConst:       "INDIRECT_BUFFER_CONST",
	pm4DrawIndexOffset2:          "DRAW_INDEX_OFFSET_2",
	pm4WriteData:                 "WRITE_DATA",
	pm4DrawIndexIndirect:         "DRAW_INDEX_INDIRECT",
	pm4WaitRegMem:                "WAIT_REG_MEM",
	pm4IndirectBuffer:            "INDIRECT_BUFFER",
	pm4EventWrite:                "EVENT_WRITE",
	pm4ReleaseMem:                "RELEASE_MEM",
	pm4DispatchDrawPreambleGfx:   "DISPATCH_DRAW_PREAMBLE",
	pm4DispatchDrawGfx:           "DISPATCH_DRAW",
	pm4AcquireMem:                "ACQUIRE_MEM",
	pm4SetContextReg:             "SET_CONTEXT_REG",
	pm4SetShReg:                  "SET_SH_REG",
	pm4SetUConfigReg:             "SET_UCONFIG_REG",
	pm4SetShRegIndex:             "SET_SH_REG_INDEX",
	pm4DispatchDirectInterleaved: "DISPATCH_DIRECT_INTERLEAVED",
	pm4DispatchMeshDirect:        "DISPATCH_MESH_DIRECT",
	pm4DispatchTaskMeshDirect:    "DISPATCH_TASK_MESH_DIRECT",
	pm4SetContextRegPairs:        "SET_CONTEXT_REG_PAIRS",
	pm4SetShRegPairs:             "SET_SH_REG_PAIRS",
	pm4SetUConfigRegPairs:        "SET_UCONFIG_REG_PAIRS",
	pm4SetContextRegPairsPacked:  "SET_CONTEXT_REG_PAIRS_PACKED",
	pm4SetShRegPairsPacked:       "SET_SH_REG_PAIRS_PACKED",
	pm4SetShRegPairsPackedN:      "SET_SH_REG_PAIRS_PACKED_N",
}

// pm4ComputeOps dispatch compute work; pm4DrawOps launch the gfx
// pipeline. Both trigger shader discovery from tracked state.
var pm4ComputeOps = map[uint32]bool{
	pm4DispatchDirect:            true,
	pm4DispatchIndirect:          true,
	pm4DispatchDirectInterleaved: true,
	pm4DispatchMeshDirect:        true,
	pm4DispatchTaskMeshDirect:    true,
}

var pm4DrawOps = map[uint32]bool{
	pm4DispatchDrawPreambleGfx: true,
	pm4DispatchDrawGfx:         true,
	pm4DrawIndirect2:           true,
	pm4DrawIndex2:              true,
	pm4DrawIndexAuto:           true,
	pm4DrawIndexIndirect:       true,
}

// shaderRegPair names the hi/lo program-address register suffixes for
// one hardware shader stage.
type shaderRegPair struct {
	hi, lo string
	typ    ShaderType
}

var computeShaderRegs = []shaderRegPair{
	{"COMPUTE_PGM_HI", "COMPUTE_PGM_LO", ShaderCompute},
}

var gfxShaderRegs = []shaderRegPair{
	{"SPI_SHADER_PGM_HI_PS", "SPI_SHADER_PGM_LO_PS", ShaderPixel},
	{"SPI_SHADER_PGM_HI_VS", "SPI_SHADER_PGM_LO_VS", ShaderVertex},
	{"SPI_SHADER_PGM_HI_ES", "SPI_SHADER_PGM_LO_ES", ShaderES},
	{"SPI_SHADER_PGM_HI_GS", "SPI_SHADER_PGM_LO_GS", ShaderGS},
	{"SPI_SHADER_PGM_HI_HS", "SPI_SHADER_PGM_LO_HS", ShaderHS},
	{"SPI_SHADER_PGM_HI_LS", "SPI_SHADER_PGM_LO_LS", ShaderLS},
}

// uvdIB accumulates the type0 register writes that stage a UVD/VCN
// decoder IB.
type uvdIB struct {
	lo, hi, size, vmid uint32
	seen               uint8
}

const (
	uvdSeenLo = 1 << iota
	uvdSeenHi
	uvdSeenSize
	uvdSeenVMID
)

// decodePM4 parses a PM4 buffer into a node list. The tracker is
// shared with followed IBs so SET_* state crosses buffer boundaries
// just as it does on hardware.
func (d *Decoder) decodePM4(vmid libgfx.VMID, addr uint64, words []uint32,
	tracker *Tracker) (*Node, bool) {
	var list nodeList
	var uvd uvdIB
	truncated := false
	for i := 0; i < len(words); {
		header := words[i]
		pktType := uint8(header >> 30)
		nwords := ((header >> 16) + 1) & 0x3FFF
		opcode := uint32(0xFFFFFFFF)
		switch pktType {
		case 2:
			// Type2 fillers carry one word less than the generic
			// count encodes; the canonical 0x80000000 header decodes
			// to no payload.
			if nwords > 0 {
				nwords--
			}
		case 3:
			opcode = (header >> 8) & 0xFF
		}
		if i+1+int(nwords) > len(words) {
			// Buffer ends inside the packet: drop the partial tail.
			truncated = true
			break
		}
		n := &Node{
			Offset:  uint64(i),
			Addr:    addr + uint64(i)*4,
			VMID:    vmid,
			Header:  header,
			PktType: pktType,
			Opcode:  opcode,
			NWords:  nwords,
			Words:   append([]uint32(nil), words[i+1:i+1+int(nwords)]...),
		}
		list.append(n)
		chained := false
		switch pktType {
		case 0:
			d.trackPM4Type0(n, tracker, &uvd)
		case 3:
			chained = d.trackPM4Type3(n, tracker)
		}
		if chained {
			// The chained IB carries the rest of the stream; nothing
			// after this packet in the current buffer executes.
			break
		}
		i += 1 + int(nwords)
	}
	return list.head, truncated
}

// trackPM4Type0 records the register burst of a type0 packet and
// watches for UVD/VCN IB staging writes.
func (d *Decoder) trackPM4Type0(n *Node, tracker *Tracker, uvd *uvdIB) {
	base := n.Header & 0xFFFF
	for i, v := range n.Words {
		name := d.Dev.RegName(base + uint32(i))
		tracker.Set(name, v, n.VMID, n.Addr)
		switch {
		case strings.HasSuffix(name, "UVD_LMI_RBC_IB_64BIT_BAR_LOW"):
			uvd.lo, uvd.seen = v, uvd.seen|uvdSeenLo
		case strings.HasSuffix(name, "UVD_LMI_RBC_IB_64BIT_BAR_HIGH"):
			uvd.hi, uvd.seen = v, uvd.seen|uvdSeenHi
		case strings.HasSuffix(name, "UVD_RBC_IB_SIZE"):
			uvd.size, uvd.seen = v, uvd.seen|uvdSeenSize
		case strings.HasSuffix(name, "UVD_RBC_IB_VMID"):
			uvd.vmid, uvd.seen = v, uvd.seen|uvdSeenVMID
		}
	}
	const want = uvdSeenLo | uvdSeenHi | uvdSeenSize
	if uvd.seen&want == want {
		d.fetchVCNIB(n, uvd)
		*uvd = uvdIB{}
	}
}

// fetchVCNIB reads a staged UVD/VCN decoder IB through the MM hub and
// attaches it to the packet that completed the staging writes, both as
// raw dwords and decoded as a child PM4 stream.
func (d *Decoder) fetchVCNIB(n *Node, uvd *uvdIB) {
	ibAddr := uint64(uvd.lo) | uint64(uvd.hi)<<32
	ibVMID := libgfx.VMID(uvd.vmid & 0xF)
	sizeBytes := uvd.size * 4
	if d.Opts.NoFollowIB || sizeBytes == 0 {
		return
	}
	if sizeBytes > d.Opts.sizeGuard() {
		log.WithFields(log.Fields{"addr": fmt.Sprintf("0x%x", ibAddr),
			"size": sizeBytes}).Warn("skipping oversized VCN IB")
		return
	}
	words, err := d.readWords(libgfx.HubMM, ibVMID, ibAddr, sizeBytes)
	if err != nil {
		log.WithError(err).WithField("addr", fmt.Sprintf("0x%x", ibAddr)).
			Warn("could not fetch VCN IB")
		return
	}
	n.VCNData = words
	n.VCNAddr = ibAddr
	n.VCNVMID = ibVMID
	// The VCN engine has its own register space, so the child stream
	// gets a fresh tracker.
	n.Child, _ = d.decodePM4(ibVMID, ibAddr, words, NewTracker())
	n.ChildAddr = ibAddr
	n.ChildVMID = ibVMID
}

// trackPM4Type3 applies the side effects of a type3 packet: register
// tracking for the SET_* families, shader discovery on dispatch and
// draw opcodes, and IB recursion. The return value reports that a
// chained IB was followed and the current buffer ends here.
func (d *Decoder) trackPM4Type3(n *Node, tracker *Tracker) bool {
	switch n.Opcode {
	case pm4SetContextReg:
		trackRegBurst(n, tracker, pm4ContextRegBase, d.Dev)
	case pm4SetShReg, pm4SetShRegIndex:
		trackRegBurst(n, tracker, pm4ShRegBase, d.Dev)
	case pm4SetUConfigReg:
		trackRegBurst(n, tracker, pm4UConfigRegBase, d.Dev)
	case pm4SetContextRegPairs:
		trackRegPairs(n, tracker, pm4ContextRegBase, d.Dev)
	case pm4SetShRegPairs:
		trackRegPairs(n, tracker, pm4ShRegBase, d.Dev)
	case pm4SetUConfigRegPairs:
		trackRegPairs(n, tracker, pm4UConfigRegBase, d.Dev)
	case pm4SetContextRegPairsPacked:
		trackRegPairsPacked(n, tracker, pm4ContextRegBase, d.Dev)
	case pm4SetShRegPairsPacked, pm4SetShRegPairsPackedN:
		trackRegPairsPacked(n, tracker, pm4ShRegBase, d.Dev)
	case pm4IndirectBuffer, pm4IndirectBufferConst:
		return d.followPM4IB(n, tracker)
	default:
		switch {
		case pm4ComputeOps[n.Opcode]:
			d.processShaders(n, tracker, computeShaderRegs)
		case pm4DrawOps[n.Opcode]:
			d.processShaders(n, tracker, gfxShaderRegs)
		}
	}
	return false
}

// trackRegBurst handles SET_*_REG: word 0 is the offset from the
// family base, the rest are consecutive values.
func trackRegBurst(n *Node, tracker *Tracker, base uint32, dev Device) {
	if len(n.Words) < 1 {
		return
	}
	off := base + (n.Words[0] & 0xFFFF)
	for i, v := range n.Words[1:] {
		tracker.Set(dev.RegName(off+uint32(i)), v, n.VMID, n.Addr)
	}
}

// trackRegPairs handles SET_*_REG_PAIRS: (offset, value) doublets.
func trackRegPairs(n *Node, tracker *Tracker, base uint32, dev Device) {
	for i := 0; i+1 < len(n.Words); i += 2 {
		off := base + (n.Words[i] & 0xFFFF)
		tracker.Set(dev.RegName(off), n.Words[i+1], n.VMID, n.Addr)
	}
}

// trackRegPairsPacked handles SET_*_REG_PAIRS_PACKED: a leading reg
// count, then triplets of one dword packing two 16-bit offsets and
// the two values.
func trackRegPairsPacked(n *Node, tracker *Tracker, base uint32, dev Device) {
	if len(n.Words) < 1 {
		return
	}
	count := int(n.Words[0])
	i := 1
	for done := 0; done < count && i+1 < len(n.Words); done += 2 {
		offs := n.Words[i]
		tracker.Set(dev.RegName(base+(offs&0xFFFF)), n.Words[i+1], n.VMID, n.Addr)
		if done+1 < count && i+2 < len(n.Words) {
			tracker.Set(dev.RegName(base+(offs>>16)), n.Words[i+2], n.VMID, n.Addr)
		}
		i += 3
	}
}

// followPM4IB recurses into an INDIRECT_BUFFER packet, sharing the
// register tracker with the parent stream. An unreadable IB is logged
// and skipped so one bad reference does not hide the rest of the
// stream. A followed chain IB replaces the tail of the current
// buffer; it is chased even when ordinary IB following is off, and
// the return value tells the caller to stop this buffer.
func (d *Decoder) followPM4IB(n *Node, tracker *Tracker) bool {
	if len(n.Words) < 3 {
		return false
	}
	chain := n.Words[2]&(1<<20) != 0
	if d.Opts.NoFollowIB && !chain {
		return false
	}
	ibAddr := uint64(n.Words[0]&^3) | uint64(n.Words[1]&0xFFFF)<<32
	sizeDwords := n.Words[2] & 0xFFFFF
	ibVMID := libgfx.VMID((n.Words[2] >> 24) & 0xF)
	if ibVMID == 0 {
		ibVMID = n.VMID
	}
	sizeBytes := sizeDwords * 4
	if sizeBytes > d.Opts.sizeGuard() {
		log.WithFields(log.Fields{"addr": fmt.Sprintf("0x%x", ibAddr),
			"size": sizeBytes}).Warn("skipping oversized IB")
		return false
	}
	words, err := d.readWords(d.Opts.Hub, ibVMID, ibAddr, sizeBytes)
	if err != nil {
		log.WithError(err).WithField("addr", fmt.Sprintf("0x%x", ibAddr)).
			Warn("could not read IB")
		return false
	}
	n.Child, _ = d.decodePM4(ibVMID, ibAddr, words, tracker)
	n.ChildAddr = ibAddr
	n.ChildVMID = ibVMID
	return chain
}

// processShaders resolves the program-address register pairs for the
// launched stages and attaches the discovered shaders to the packet.
func (d *Decoder) processShaders(n *Node, tracker *Tracker, pairs []shaderRegPair) {
	for _, pair := range pairs {
		hi, hiOK := tracker.Lookup(pair.hi)
		lo, loOK := tracker.Lookup(pair.lo)
		if !hiOK && !loOK {
			continue
		}
		if hi.Value == 0 && lo.Value == 0 {
			continue
		}
		shAddr := uint64(hi.Value)<<40 | uint64(lo.Value)<<8
		shVMID := n.VMID
		if loOK && lo.VMID != 0 {
			shVMID = lo.VMID
		}
		n.Shaders = append(n.Shaders, &ShaderProgram{
			VMID: shVMID,
			Addr: shAddr,
			Size: d.shaderSize(shVMID, shAddr),
			Type: pair.typ,
			Regs: tracker.Frozen(),
		})
	}
}

// shaderSizeScanCap bounds the end-of-program scan.
const shaderSizeScanCap = 256 << 10

// shaderSize scans forward from addr for the end-of-program token and
// returns the program size in bytes, including the token. Disabled
// scans and scan failures report 4 bytes.
func (d *Decoder) shaderSize(vmid libgfx.VMID, addr uint64) uint32 {
	if d.Opts.NoFollowShader {
		return 4
	}
	token := uint32(0xBF810000)
	if d.Dev.Generation() >= libgfx.GenV11 {
		token = 0xBFB00000
	}
	const chunk = 4096
	buf := make([]byte, chunk)
	for off := uint32(0); off < shaderSizeScanCap; off += chunk {
		if err := d.Dev.ReadVM(d.Opts.Hub, vmid, addr+uint64(off), buf); err != nil {
			log.WithError(err).WithField("addr", fmt.Sprintf("0x%x", addr)).
				Debug("shader size scan aborted")
			return 4
		}
		for i := 0; i+3 < chunk; i += 4 {
			w := uint32(buf[i]) | uint32(buf[i+1])<<8 |
				uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
			if w&0xFFFF0000 == token {
				return off + uint32(i) + 4
			}
		}
	}
	return 4
}

// pm4Fields renders a PM4 packet for presentation.
func pm4Fields(n *Node) (string, []field, bool) {
	switch n.PktType {
	case 0:
		return "TYPE0_WRITE", rawFields(n.Words), true
	case 2:
		return "TYPE2", nil, true
	}
	name, known := pm4OpcodeNames[n.Opcode]
	if !known {
		return fmt.Sprintf("PKT3<0x%02x>", n.Opcode), rawFields(n.Words), false
	}
	switch n.Opcode {
	case pm4DispatchDirect:
		if len(n.Words) >= 3 {
			return name, []field{
				{"DIM_X", fmt.Sprintf("%d", n.Words[0])},
				{"DIM_Y", fmt.Sprintf("%d", n.Words[1])},
				{"DIM_Z", fmt.Sprintf("%d", n.Words[2])},
			}, true
		}
	case pm4IndirectBuffer, pm4IndirectBufferConst:
		if len(n.Words) >= 3 {
			return name, []field{
				{"IB_BASE", fmt.Sprintf("0x%x",
					uint64(n.Words[0]&^3)|uint64(n.Words[1]&0xFFFF)<<32)},
				{"IB_SIZE", fmt.Sprintf("%d", n.Words[2]&0xFFFFF)},
				{"VMID", fmt.Sprintf("%d", (n.Words[2]>>24)&0xF)},
				{"CHAIN", fmt.Sprintf("%d", (n.Words[2]>>20)&1)},
			}, true
		}
	case pm4DrawIndexAuto:
		if len(n.Words) >= 1 {
			return name, []field{
				{"INDEX_COUNT", fmt.Sprintf("%d", n.Words[0])},
			}, true
		}
	}
	return name, rawFields(n.Words), true
}

func rawFields(words []uint32) []field {
	out := make([]field, len(words))
	for i, w := range words {
		out[i] = field{fmt.Sprintf("W%d", i), fmt.Sprintf("0x%08x", w)}
	}
	return out
}
