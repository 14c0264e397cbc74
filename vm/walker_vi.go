// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"github.com/gpudbg/gpudbg/libgfx"
)

// Legacy (GFX8 and older) page tables: 40-bit entries, a single
// optional directory level, all tables resident in VRAM.
type viPDEFields struct {
	FragSize uint64
	PTEBase  uint64
	Valid    bool
}

type viPTEFields struct {
	PageBase uint64
	Fragment uint64
	System   bool
	Valid    bool
}

func decodeLegacyPDE(entry uint64) viPDEFields {
	return viPDEFields{
		FragSize: (entry >> 59) & 0x1F,
		PTEBase:  entry & 0xFFFFFFF000,
		Valid:    entry&1 != 0,
	}
}

func decodeLegacyPTE(entry uint64) viPTEFields {
	return viPTEFields{
		PageBase: entry & 0xFFFFFFF000,
		Fragment: (entry >> 7) & 0x1F,
		System:   entry&(1<<1) != 0,
		Valid:    entry&1 != 0,
	}
}

// translateVI is the page walker for pre-GFX9 parts. The layout
// mirrors the kernel's VI PTE/PDE bit positions.
func (e *Engine) translateVI(vmid libgfx.VMID, address uint64, size uint32,
	opt Options) ([]extent, error) {
	// contexts 1..15 share the CONTEXT1 start/cntl registers
	ctx := 0
	if vmid != 0 {
		ctx = 1
	}

	startReg, err := e.Asic.Read32(regName("mmVM_CONTEXT%d_PAGE_TABLE_START_ADDR", ctx))
	if err != nil {
		return nil, err
	}
	startAddr := uint64(startReg) << 12

	cntlName := regName("mmVM_CONTEXT%d_CNTL", ctx)
	cntl, err := e.Asic.Read32(cntlName)
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

	baseReg, err := e.Asic.Read32(regName("mmVM_CONTEXT%d_PAGE_TABLE_BASE_ADDR", int(vmid)))
	if err != nil {
		return nil, err
	}
	baseAddr := uint64(baseReg) << 12

	fbLoc, err := e.Asic.Read32("mmMC_VM_FB_LOCATION")
	if err != nil {
		return nil, err
	}
	fbBase := (uint64(fbLoc) & 0xFFFF) << 24

	fbOff, err := e.Asic.Read32("mmMC_VM_FB_OFFSET")
	if err != nil {
		return nil, err
	}
	fbOffset := (uint64(fbOff) & 0xFFFF) << 22

	if opt.Verbose {
		log.Debugf("legacy walk %d@0x%x: start=0x%x base=0x%x depth=%d block_size=%d fb_base=0x%x fb_offset=0x%x",
			vmid, address, startAddr, baseAddr, depth, blockSize, fbBase, fbOffset)
	}

	address -= startAddr

	trace := opt.Trace
	if trace != nil {
		trace.VA = address + startAddr
		trace.VMID = vmid
		trace.Hub = libgfx.HubGfx
		trace.Depth = int(depth)
		trace.BlockSize = uint64(blockSize)
	}

	var exts []extent
	for size > 0 {
		var (
			startPhys uint64
			pte       viPTEFields
		)

		if depth == 1 {
			pdeMask := uint64(1)<<(40-12-9-blockSize) - 1
			pteMask := uint64(1)<<(9+blockSize) - 1
			pdeIdx := (address >> (12 + 9 + blockSize)) & pdeMask
			pteIdx := (address >> 12) & pteMask

			pdeAddr := baseAddr + pdeIdx*8 - fbBase
			pdeEntry, err := e.fetchEntryVI(pdeAddr, "PDE")
			if err != nil {
				return nil, err
			}
			pde := decodeLegacyPDE(pdeEntry)
			if opt.Verbose {
				log.Debugf("PDE{0x%x/0x%x}=0x%016x PBA=0x%010x V=%t",
					pdeAddr, pdeIdx, pdeEntry, pde.PTEBase, pde.Valid)
			}
			if trace != nil {
				trace.addPDE(PDEStep{
					Addr:   pdeAddr,
					Index:  pdeIdx,
					VAMask: address & (pdeMask << (12 + 9 + blockSize)),
					Entry:  pdeEntry,
					Fields: PDEFields{
						PTEBase:  pde.PTEBase,
						FragSize: uint8(pde.FragSize),
						Valid:    pde.Valid,
					},
				})
			}
			if !pde.Valid {
				return nil, &InvalidMappingError{VMID: vmid, VA: address + startAddr,
					Level: 1, Entry: pdeEntry}
			}

			pteAddr := pde.PTEBase + pteIdx*8 - fbBase
			pteEntry, err := e.fetchEntryVI(pteAddr, "PTE")
			if err != nil {
				return nil, err
			}
			pte = decodeLegacyPTE(pteEntry)
			if opt.Verbose {
				log.Debugf("\\-> PTE{0x%x/0x%x}=0x%016x PBA=0x%010x V=%t S=%t",
					pteAddr, pteIdx, pteEntry, pte.PageBase, pte.Valid, pte.System)
			}
			if trace != nil {
				fillLegacyPTEStep(trace, pteAddr, pteIdx, pteEntry, pte, address)
			}
			if !pte.Valid {
				return nil, &InvalidMappingError{VMID: vmid, VA: address + startAddr,
					Level: 0, Entry: pteEntry}
			}

			startPhys = e.Bus.BusToCPU(pte.PageBase) + (address & 0xFFF)
			if !pte.System {
				startPhys -= fbOffset
			}
		} else {
			// flat table, the base points straight at the PTB
			pteIdx := address >> 12
			pteAddr := baseAddr + pteIdx*8 - fbBase
			pteEntry, err := e.fetchEntryVI(pteAddr, "PTE")
			if err != nil {
				return nil, err
			}
			pte = decodeLegacyPTE(pteEntry)
			if opt.Verbose {
				log.Debugf("PTE{0x%x/0x%x}=0x%016x PBA=0x%010x V=%t S=%t",
					pteAddr, pteIdx, pteEntry, pte.PageBase, pte.Valid, pte.System)
			}
			if trace != nil {
				fillLegacyPTEStep(trace, pteAddr, pteIdx, pteEntry, pte, address)
			}
			if !pte.Valid {
				return nil, &InvalidMappingError{VMID: vmid, VA: address + startAddr,
					Level: 0, Entry: pteEntry}
			}
			startPhys = e.Bus.BusToCPU(pte.PageBase) + (address & 0xFFF)
		}

		chunk := size
		if ((startPhys&0xFFF)+uint64(size))&^uint64(0xFFF) != 0 {
			chunk = uint32(0x1000 - (startPhys & 0xFFF))
		}

		sp := spaceVRAM
		if pte.System {
			sp = spaceSys
		}
		if trace != nil {
			trace.System = pte.System
			trace.Phys = startPhys
			trace = nil // first page only
		}
		exts = append(exts, extent{space: sp, addr: startPhys, n: chunk})
		size -= chunk
		address += uint64(chunk)
	}
	return exts, nil
}

func (e *Engine) fetchEntryVI(addr uint64, what string) (uint64, error) {
	var buf [8]byte
	if err := e.accessLinear(addr, buf[:], false); err != nil {
		return 0, &BackendError{What: what, Addr: addr, Err: err}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func fillLegacyPTEStep(trace *Pagewalk, addr, idx, entry uint64, pte viPTEFields, address uint64) {
	trace.PTE = PTEStep{
		Addr:   addr,
		Index:  idx,
		VAMask: address &^ uint64(0xFFF),
		Entry:  entry,
		Fields: PTEFields{
			PageBase: pte.PageBase,
			Fragment: uint8(pte.Fragment),
			System:   pte.System,
			Valid:    pte.Valid,
		},
		Offset:   address & 0xFFF,
		PageMask: 0xFFF,
	}
}
