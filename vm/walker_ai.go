// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/gpudbg/gpudbg/libgfx"
)

// Page table architecture constants, stable across GFX9-12.
const (
	pageSizeBits = 12  // 4 KiB base pages
	pdbEntryBits = 9   // 512 entries per directory block
	pdbEntryMask = 511 //
	entrySize    = 8   // PDEs and PTEs are both 8 bytes
	blockBits2MB = 21  // a PTB covers at least 2 MiB

	apertureShift = 18 // system aperture registers hold bits 47:18
	fbShift       = 24 // FB/AGP location registers hold bits 47:24
)

// System Access Mode values of MC_VM_MX_L1_TLB_CNTL, VMID 0 only.
const (
	samPhysical       = 0
	samAlwaysVM       = 1
	samInsideMapped   = 2
	samInsideUnmapped = 3
)

func regName(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

// aiState carries the per-call context of one GFX9+ page walk.
type aiState struct {
	e   *Engine
	gen libgfx.Generation
	opt Options

	startAddr uint64 // lowest VA spanned by this VM context
	endAddr   uint64 // highest VA, inclusive
	baseAddr  uint64 // root PDE value, from registers not memory
	blockSize uint64 // log2 of 2 MiB blocks each PTB covers
	depth     int
	pde0BFS   uint64 // fragment size of the PDE that owns the PTB

	fbOffset uint64
	saLow    uint64
	saHigh   uint64
	fbTop    uint64
	fbBottom uint64
	agpBase  uint64
	agpBot   uint64
	agpTop   uint64
	zfb      bool
}

// hubPrefixes resolves the register name prefixes of a hub. Vega-era
// server parts have dedicated VC instances of the MM hub; GFX10+
// splits the register file into GC and MM copies.
func (e *Engine) hubPrefixes(hub libgfx.Hub) (regprefix, vm0prefix string, err error) {
	nv := e.Asic.GfxVersion().Major >= 10
	switch hub {
	case libgfx.HubGfx:
		if nv {
			return "GC", "GC", nil
		}
		return "", "", nil
	case libgfx.HubMM:
		if nv {
			return "MM", "MM", nil
		}
		return "", "", nil
	case libgfx.HubMMVC0:
		if !nv {
			return "VML2VC0_", "VMSHAREDVC0_", nil
		}
		return "", "", nil
	case libgfx.HubMMVC1:
		if !nv {
			return "VML2VC1_", "VMSHAREDVC1_", nil
		}
		return "", "", nil
	}
	return "", "", fmt.Errorf("hub %s cannot be translated", hub)
}

// translateAI resolves a span of virtual addresses to physical
// extents for GFX9 through GFX12 parts.
func (e *Engine) translateAI(hub libgfx.Hub, vmid libgfx.VMID, address uint64,
	size uint32, opt Options) ([]extent, error) {
	regprefix, vm0prefix, err := e.hubPrefixes(hub)
	if err != nil {
		return nil, err
	}

	s := &aiState{e: e, gen: e.Asic.Generation(), opt: opt}

	reg32 := func(name string) (uint32, error) {
		v, err := e.Asic.Read32(name)
		if err != nil {
			return 0, fmt.Errorf("vm context register: %w", err)
		}
		return v, nil
	}

	// SAM only applies to VMID 0
	var tlbCntl uint32
	if vmid == 0 {
		hi, err := reg32(regName("mm%sMC_VM_SYSTEM_APERTURE_HIGH_ADDR", vm0prefix))
		if err != nil {
			return nil, err
		}
		lo, err := reg32(regName("mm%sMC_VM_SYSTEM_APERTURE_LOW_ADDR", vm0prefix))
		if err != nil {
			return nil, err
		}
		s.saLow = uint64(lo) << apertureShift
		s.saHigh = (uint64(hi) + 1) << apertureShift
		tlbCntl, err = reg32(regName("mm%sMC_VM_MX_L1_TLB_CNTL", vm0prefix))
		if err != nil {
			return nil, err
		}
	}

	fbBase, err := reg32(regName("mm%sMC_VM_FB_LOCATION_BASE", vm0prefix))
	if err != nil {
		return nil, err
	}
	fbTop, err := reg32(regName("mm%sMC_VM_FB_LOCATION_TOP", vm0prefix))
	if err != nil {
		return nil, err
	}
	s.fbBottom = uint64(fbBase) << fbShift
	s.fbTop = (uint64(fbTop) + 1) << fbShift

	// fb_top below fb_bottom flags zero frame buffer mode: VRAM is a
	// carve out reached through the AGP aperture.
	s.zfb = s.fbTop < s.fbBottom
	if s.zfb {
		base, err := reg32(regName("mm%sMC_VM_AGP_BASE", regprefix))
		if err != nil {
			return nil, err
		}
		bot, err := reg32(regName("mm%sMC_VM_AGP_BOT", regprefix))
		if err != nil {
			return nil, err
		}
		top, err := reg32(regName("mm%sMC_VM_AGP_TOP", regprefix))
		if err != nil {
			return nil, err
		}
		s.agpBase = uint64(base) << fbShift
		s.agpBot = uint64(bot) << fbShift
		s.agpTop = (uint64(top)+1)<<fbShift | 0xFFFFFF
	}

	startLo, err := reg32(regName("mm%sVM_CONTEXT%d_PAGE_TABLE_START_ADDR_LO32", regprefix, vmid))
	if err != nil {
		return nil, err
	}
	startHi, err := reg32(regName("mm%sVM_CONTEXT%d_PAGE_TABLE_START_ADDR_HI32", regprefix, vmid))
	if err != nil {
		return nil, err
	}
	endLo, err := reg32(regName("mm%sVM_CONTEXT%d_PAGE_TABLE_END_ADDR_LO32", regprefix, vmid))
	if err != nil {
		return nil, err
	}
	endHi, err := reg32(regName("mm%sVM_CONTEXT%d_PAGE_TABLE_END_ADDR_HI32", regprefix, vmid))
	if err != nil {
		return nil, err
	}
	cntlName := regName("mm%sVM_CONTEXT%d_CNTL", regprefix, vmid)
	cntl, err := reg32(cntlName)
	if err != nil {
		return nil, err
	}
	depth, err := e.Asic.SliceField(cntlName, "PAGE_TABLE_DEPTH", cntl)
	if err != nil {
		return nil, err
	}
	blockSize, err := e.Asic.SliceField(cntlName, "PAGE_TABLE_BLOCK_SIZE", cntl)
	if err != nil {
		return nil, err
	}
	baseLo, err := reg32(regName("mm%sVM_CONTEXT%d_PAGE_TABLE_BASE_ADDR_LO32", regprefix, vmid))
	if err != nil {
		return nil, err
	}
	baseHi, err := reg32(regName("mm%sVM_CONTEXT%d_PAGE_TABLE_BASE_ADDR_HI32", regprefix, vmid))
	if err != nil {
		return nil, err
	}

	s.depth = int(depth)
	s.blockSize = uint64(blockSize)
	s.startAddr = uint64(startLo)<<12 | uint64(startHi)<<44
	s.endAddr = uint64(endLo)<<12 | uint64(endHi)<<44
	s.baseAddr = uint64(baseLo) | uint64(baseHi)<<32

	// Some firmwares read back all F's while the gfx block is powered
	// off. Garbage addresses would follow, so call it out distinctly.
	if s.baseAddr == ^uint64(0) {
		log.Warn("PAGE_TABLE_BASE_ADDR reads as all F's, the ASIC is likely powered off (gfxoff)")
	}

	fbOff, err := reg32(regName("mm%sMC_VM_FB_OFFSET", regprefix))
	if err != nil {
		return nil, err
	}
	s.fbOffset = uint64(fbOff) << fbShift

	if opt.Verbose {
		log.Debugf("vm walk %d@0x%x hub=%s: start=0x%x end=0x%x base=0x%016x depth=%d block_size=%d fb=[0x%x,0x%x) fb_offset=0x%x zfb=%t",
			vmid, address, hub, s.startAddr, s.endAddr, s.baseAddr,
			s.depth, s.blockSize, s.fbBottom, s.fbTop, s.fbOffset, s.zfb)
	}

	// A flat depth==0 tree means the root PTB spans the whole space.
	if s.depth == 0 {
		s.blockSize = log2VMSize(s.startAddr, s.endAddr) - blockBits2MB
	}

	// The BASE_ADDR registers form the root PDE; it is not fetched
	// from a PDB.
	rootFields := DecodePDE(s.baseAddr, s.gen)
	if !rootFields.System {
		s.baseAddr -= s.fbOffset
	}

	if vmid == 0 {
		sam, err := e.Asic.SliceField(regName("mm%sMC_VM_MX_L1_TLB_CNTL", vm0prefix),
			"SYSTEM_ACCESS_MODE", tlbCntl)
		if err != nil {
			return nil, err
		}
		switch sam {
		case samPhysical:
			return []extent{{space: spaceVRAM, addr: address, n: size}}, nil
		case samAlwaysVM:
		case samInsideMapped:
			if !(address >= s.saLow && address < s.saHigh) {
				return s.linearAperture(address, size), nil
			}
		case samInsideUnmapped:
			if address >= s.saLow && address < s.saHigh {
				if opt.Verbose {
					log.Debugf("address inside system aperture [0x%x,0x%x)", s.saLow, s.saHigh)
				}
				return s.linearAperture(address, size), nil
			}
		default:
			log.Warnf("unhandled SYSTEM_ACCESS_MODE %d", sam)
		}
	}

	// Addresses past this point must be virtual and inside the root
	// page table span.
	if address < s.startAddr || address > s.endAddr+0xFFF {
		return nil, &OutOfRangeError{VMID: vmid, VA: address,
			Start: s.startAddr, End: s.endAddr}
	}
	address -= s.startAddr

	trace := opt.Trace
	if trace != nil {
		trace.VA = address + s.startAddr
		trace.VMID = vmid
		trace.Hub = hub
		trace.Depth = s.depth
		trace.BlockSize = s.blockSize
	}

	var exts []extent
	for size > 0 {
		ext, chunk, err := s.walkPage(vmid, address, size, trace)
		if err != nil {
			return nil, err
		}
		exts = append(exts, ext)
		size -= chunk
		address += uint64(chunk)
		trace = nil // capture the first page only
	}
	return exts, nil
}

// linearAperture routes an untranslated VMID0 address: inside the
// frame buffer it is VRAM relative to fb_bottom, otherwise it passes
// through as a physical address.
func (s *aiState) linearAperture(address uint64, size uint32) []extent {
	if address >= s.fbBottom && address < s.fbTop {
		address -= s.fbBottom
	}
	return []extent{{space: spaceVRAM, addr: address, n: size}}
}

// walkPage translates one page worth of the request, mirroring the
// hardware walker: descend the configured directory levels, handle
// PDE-as-PTE early exits, fetch the leaf, and follow at most one
// PTE-Further hop.
func (s *aiState) walkPage(vmid libgfx.VMID, address uint64, size uint32,
	trace *Pagewalk) (extent, uint32, error) {
	totalVMBits := log2VMSize(s.startAddr, s.endAddr)
	// Only the top level directory may be narrower than 9 bits:
	// total bits less 9 per middle level less the PTB coverage.
	topPdbBits := totalVMBits -
		uint64(pdbEntryBits*(max(s.depth, 1)-1)) -
		(s.blockSize + blockBits2MB)

	var (
		vaTally   uint64
		vaMask    = ((uint64(1) << topPdbBits) - 1) << (totalVMBits - topPdbBits)
		pdeEntry  = s.baseAddr
		pdeFields = DecodePDE(pdeEntry, s.gen)
		pdeAddr   uint64
		pdeIdx    uint64
		pdeCnt    int

		pteEntry     uint64
		pteIdx       uint64
		pteAddr      uint64
		ptbMask      = uint64(1)<<pdbEntryBits - 1
		ptePageMask  = uint64(1)<<pageSizeBits - 1
		pteBlockFS   uint64
		further      bool
		pdeWasPTE    bool
		currentDepth = s.depth
	)

	prepare := func(depth int) {
		s.pde0BFS = uint64(pdeFields.FragSize)
		startBit := s.pde0BFS + pageSizeBits
		endBit := s.blockSize + blockBits2MB
		if depth != 0 {
			startBit = min(uint64(pdbEntryBits*(depth-1))+s.blockSize+blockBits2MB, totalVMBits)
			endBit = min(uint64(pdbEntryBits*depth)+s.blockSize+blockBits2MB, totalVMBits)
		}
		ptbMask = uint64(1)<<(endBit-startBit) - 1
		ptePageMask = uint64(1)<<startBit - 1
	}

	recordPDE := func() {
		vaTally |= address & vaMask
		if s.opt.Verbose {
			log.Debugf("PDE%d@{0x%x/0x%x}=0x%016x VA=0x%012x PBA=0x%012x V=%t S=%t P=%t FS=%d",
				s.depth-pdeCnt, pdeAddr, pdeIdx, pdeEntry,
				vaTally+s.startAddr, pdeFields.PTEBase, pdeFields.Valid,
				pdeFields.System, pdeFields.PTE, pdeFields.FragSize)
		}
		if trace != nil {
			trace.addPDE(PDEStep{
				Addr:   pdeAddr,
				Index:  pdeIdx,
				VAMask: vaTally + s.startAddr,
				Entry:  pdeEntry,
				Fields: pdeFields,
			})
		}
		pdeCnt++
	}

	// the root pseudo-PDE comes straight from registers
	recordPDE()

	// descend the configured directory levels; skipped entirely for
	// flat tables
	for currentDepth != 0 {
		shift := (totalVMBits - topPdbBits) -
			uint64((s.depth-currentDepth)*pdbEntryBits)
		pdeIdx = address >> shift
		if currentDepth != s.depth {
			pdeIdx &= pdbEntryMask
			vaMask = uint64(pdbEntryMask) << shift
		}

		pdeAddr = pdeFields.PTEBase + pdeIdx*entrySize
		// reuse previous level's system flag to locate the table
		var err error
		pdeEntry, err = s.fetchEntry(pdeAddr, pdeFields.System, "PDE")
		if err != nil {
			return extent{}, 0, err
		}
		pdeFields = DecodePDE(pdeEntry, s.gen)

		if pdeFields.PTE {
			// PDE-as-PTE: this entry terminates the walk as a large
			// uniform page
			pteEntry = pdeEntry
			pteIdx = pdeIdx
			pteAddr = pdeAddr
			pdeWasPTE = true
			prepare(currentDepth)
			goto leaf
		}

		recordPDE()

		if !pdeFields.System {
			pdeFields.PTEBase -= s.fbOffset
		}
		if !pdeFields.Valid {
			return extent{}, 0, &InvalidMappingError{VMID: vmid,
				VA: address + s.startAddr, Level: currentDepth, Entry: pdeEntry}
		}
		currentDepth--
	}

	if !pdeWasPTE {
		prepare(0)
		pteIdx = (address >> (pageSizeBits + s.pde0BFS)) & ptbMask
		pteAddr = pdeFields.PTEBase + pteIdx*entrySize
		var err error
		pteEntry, err = s.fetchEntry(pteAddr, pdeFields.System, "PTE")
		if err != nil {
			return extent{}, 0, err
		}
	}

leaf:
	for {
		pteFields := DecodePTE(pteEntry, s.gen)

		// when Further is set the mask was computed on the previous
		// pass
		if !further {
			bitsToUse := s.blockSize + blockBits2MB
			lowerBitsToIgnore := uint64(pageSizeBits)
			if pdeFields.PTE {
				// PDE{N}-as-PTE covers one whole PDE{N} span
				bitsToUse = min(uint64(pdbEntryBits*currentDepth)+s.blockSize+blockBits2MB, totalVMBits)
				lowerBitsToIgnore = min(uint64(pdbEntryBits*(currentDepth-1))+s.blockSize+blockBits2MB, totalVMBits)
			} else {
				lowerBitsToIgnore += s.pde0BFS
			}
			vaMask = (uint64(1)<<bitsToUse - 1) &^ (uint64(1)<<lowerBitsToIgnore - 1)
		}

		pteIsPDE := pteFields.ActsAsPDE(s.gen)
		vaTally |= address & vaMask

		if pteIsPDE {
			if further {
				// hardware nests PTE-Further exactly once
				return extent{}, 0, &InvalidMappingError{VMID: vmid,
					VA: address + s.startAddr, Level: -1, Entry: pteEntry}
			}
			if s.opt.Verbose {
				log.Debugf("PTE-FURTHER@{0x%x/0x%x}=0x%016x VA=0x%012x",
					pteAddr, pteIdx, pteEntry, vaTally+s.startAddr)
			}
			if trace != nil {
				trace.addPDE(PDEStep{
					Addr:   pteAddr,
					Index:  pteIdx,
					VAMask: vaTally + s.startAddr,
					Entry:  pteEntry,
					Fields: DecodePDE(pteEntry, s.gen),
				})
			}

			if (s.gen == libgfx.GenV11 || s.gen == libgfx.GenV12) &&
				pdeFields.TFSAddr && currentDepth == 0 && !pdeWasPTE {
				// with PDE0.TFS set the next PTB lives at
				// PDE0.PBA + further-PTE.PBA
				tmp := pdeFields.PTEBase
				pdeFields = DecodePDE(pteEntry, s.gen)
				pdeFields.PTEBase += tmp
			} else {
				pdeFields = DecodePDE(pteEntry, s.gen)
				if !pdeFields.System {
					pdeFields.PTEBase -= s.fbOffset
				}
			}

			// the further-PTB is sized by its own fragment size
			pteBlockFS = uint64(pdeFields.FragSize)
			lastLevelPTBBits := uint64(pageSizeBits) + pteBlockFS
			pteIdx = address >> lastLevelPTBBits
			numEntryBits := s.pde0BFS - pteBlockFS
			pteIdx &= uint64(1)<<numEntryBits - 1

			upperMask := uint64(1)<<(pageSizeBits+s.pde0BFS) - 1
			ptePageMask = uint64(1)<<lastLevelPTBBits - 1
			vaMask &= upperMask &^ ptePageMask

			pdeCnt++
			further = true

			pteAddr = pdeFields.PTEBase + pteIdx*entrySize
			var err error
			pteEntry, err = s.fetchEntry(pteAddr, pdeFields.System, "PTE")
			if err != nil {
				return extent{}, 0, err
			}
			continue
		}

		if s.opt.Verbose {
			log.Debugf("PTE@{0x%x/0x%x}=0x%016x VA=0x%012x PBA=0x%012x V=%t S=%t PRT=%t FS=%d",
				pteAddr, pteIdx, pteEntry, vaTally+s.startAddr,
				pteFields.PageBase, pteFields.Valid, pteFields.System,
				pteFields.PRT, pteFields.Fragment)
		}

		if !pteFields.System {
			pteFields.PageBase -= s.fbOffset
		}
		if !pteFields.PRT && !pteFields.Valid {
			return extent{}, 0, &InvalidMappingError{VMID: vmid,
				VA: address + s.startAddr, Level: 0, Entry: pteEntry}
		}

		// the offset mask depends on which entry terminated the walk
		var offsetMask uint64
		switch {
		case pdeWasPTE && currentDepth != 0:
			offsetMask = uint64(1)<<(uint64((currentDepth-1)*pdbEntryBits)+blockBits2MB+s.blockSize) - 1
		case !further:
			offsetMask = uint64(1)<<(uint64(currentDepth*pdbEntryBits)+pageSizeBits+s.pde0BFS) - 1
		default:
			offsetMask = uint64(1)<<(pageSizeBits+pteBlockFS) - 1
		}

		pageStart := s.e.Bus.BusToCPU(pteFields.PageBase)
		startAddr := pageStart + (address & offsetMask)

		pageEnd := pageStart + ptePageMask + 1
		chunk := size
		if startAddr+uint64(size) > pageEnd {
			chunk = uint32(pageEnd - startAddr)
		}

		if trace != nil {
			trace.PTE = PTEStep{
				Addr:      pteAddr,
				Index:     pteIdx,
				VAMask:    vaTally + s.startAddr,
				Entry:     pteEntry,
				Fields:    pteFields,
				Offset:    address & offsetMask,
				PageMask:  offsetMask,
				StartAddr: startAddr,
			}
			trace.System = pteFields.System
			if pteFields.System {
				trace.Phys = startAddr
			} else {
				trace.Phys = startAddr + s.fbOffset
			}
		}

		if s.opt.Verbose {
			space := "vram"
			if pteFields.System {
				space = "sys"
			}
			log.Debugf("-> %s:0x%x (%d bytes of a %d byte page)",
				space, startAddr, chunk, offsetMask+1)
		}

		if !pteFields.Valid {
			// PRT page: unmapped but legal to reference, skipped not
			// accessed
			if s.opt.Verbose {
				log.Debug("page is set as PRT, skipping ahead")
			}
			return extent{space: spaceSkip, n: chunk}, chunk, nil
		}
		return s.routed(startAddr, pteFields.System, chunk), chunk, nil
	}
}

// routed applies the ZFB remap: a VRAM address inside the AGP
// aperture really lives in system memory.
func (s *aiState) routed(addr uint64, sys bool, n uint32) extent {
	if !sys {
		if s.zfb && addr >= s.agpBot && addr < s.agpTop {
			return extent{space: spaceSys, addr: addr - s.agpBot + s.agpBase, n: n}
		}
		return extent{space: spaceVRAM, addr: addr, n: n}
	}
	return extent{space: spaceSys, addr: addr, n: n}
}

// fetchEntry reads one 8-byte table entry from VRAM or system memory,
// honoring the ZFB remap.
func (s *aiState) fetchEntry(addr uint64, sys bool, what string) (uint64, error) {
	var buf [8]byte
	x := s.routed(addr, sys, entrySize)
	var err error
	if x.space == spaceSys {
		if s.e.SysRAM == nil {
			err = fmt.Errorf("no system memory backend configured")
		} else {
			err = s.e.SysRAM.Read(x.addr, buf[:])
		}
	} else {
		err = s.e.accessLinear(x.addr, buf[:], false)
	}
	if err != nil {
		return 0, &BackendError{What: what, Addr: x.addr, Sys: x.space == spaceSys, Err: err}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// log2VMSize returns the ceiling log2 of the VM span in bytes. The end
// address is inclusive of its last page.
func log2VMSize(startAddr, endAddr uint64) uint64 {
	size := endAddr - startAddr
	if size > ^uint64(0)-0x1000 {
		return 64
	}
	size += 0x1000
	if size <= 1 {
		return 0
	}
	size--
	bits := uint64(0)
	for size > 0 {
		size >>= 1
		bits++
	}
	return bits
}
