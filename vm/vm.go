// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/gpudbg/gpudbg/asic"
	"github.com/gpudbg/gpudbg/hwaccess"
	"github.com/gpudbg/gpudbg/libgfx"
)

// VM hubs use 48-bit virtual addresses on GFX9+.
const vaMask48 = 0xFFFFFFFFFFFF

// Options configures a single translation call. Passed by value so a
// call can never leave residue in shared state.
type Options struct {
	// Verbose narrates the page walk at debug log level.
	Verbose bool
	// Trace, when non-nil, captures the page walk of the first page
	// of the request.
	Trace *Pagewalk
	// Partition selects the VM register block instance on
	// multi-partition parts.
	Partition int
}

// Engine performs virtual to physical translation for one GPU node.
// Calls against the same Engine must be serialized by the caller;
// distinct Engines are independent.
type Engine struct {
	Asic   *asic.Asic
	VRAM   hwaccess.MemAccess
	SysRAM hwaccess.MemAccess
	// Process, when set, serves HubProcess requests (the debugger's
	// own address space or a bound user-queue client).
	Process hwaccess.MemAccess
	Bus     hwaccess.BusMapper

	// VRAMSize is the node's VRAM size in bytes, used to size XGMI
	// segments when the LFB registers are unavailable.
	VRAMSize uint64
	// Hive lists all engines of an XGMI hive in node order. Leave nil
	// on single-GPU systems.
	Hive []*Engine
}

// memory spaces an extent can resolve to.
type space uint8

const (
	spaceVRAM space = iota
	spaceSys
	// spaceSkip marks PRT pages: reads produce zeroes, writes are
	// dropped.
	spaceSkip
)

// extent is one physically contiguous piece of a translated request.
// The whole request is translated to extents before any data moves so
// an invalid mapping fails the request without partial transfer.
type extent struct {
	space space
	addr  uint64
	n     uint32
}

// Read translates and reads size bytes at va.
func (e *Engine) Read(hub libgfx.Hub, vmid libgfx.VMID, va uint64, p []byte, opt Options) error {
	return e.Access(hub, vmid, va, p, false, opt)
}

// Write translates and writes the bytes in p at va.
func (e *Engine) Write(hub libgfx.Hub, vmid libgfx.VMID, va uint64, p []byte, opt Options) error {
	return e.Access(hub, vmid, va, p, true, opt)
}

// Access translates {hub, vmid, va} and transfers len(p) bytes.
// Address and size must be 4-byte aligned. Multi-page requests are
// fully translated before any byte moves; an invalid mapping anywhere
// in the span fails the whole request.
func (e *Engine) Access(hub libgfx.Hub, vmid libgfx.VMID, va uint64,
	p []byte, write bool, opt Options) error {
	if len(p) == 0 {
		return nil
	}
	if va&3 != 0 || len(p)&3 != 0 {
		return fmt.Errorf("%d@0x%x len %d: %w", vmid, va, len(p), ErrMisaligned)
	}

	switch hub {
	case libgfx.HubProcess:
		if e.Process == nil {
			return fmt.Errorf("no process memory backend configured")
		}
		if write {
			return e.Process.Write(va, p)
		}
		return e.Process.Read(va, p)
	case libgfx.HubLinear:
		return e.accessLinear(va, p, write)
	}

	exts, err := e.translate(hub, vmid, va, uint32(len(p)), opt)
	if err != nil {
		return err
	}
	return e.transfer(exts, p, write)
}

// translate resolves a virtual span into physical extents without
// moving any data.
func (e *Engine) translate(hub libgfx.Hub, vmid libgfx.VMID, va uint64,
	size uint32, opt Options) ([]extent, error) {
	gen := e.Asic.Generation()
	switch gen {
	case libgfx.GenUnknown:
		return nil, fmt.Errorf("%s: %w", e.Asic.GfxVersion(), ErrUnsupportedGeneration)
	case libgfx.GenLegacy:
		return e.translateVI(vmid, va, size, opt)
	default:
		return e.translateAI(hub, vmid, va&vaMask48, size, opt)
	}
}

// Walk performs a decode-only translation of one page and returns its
// diagnostic trace.
func (e *Engine) Walk(hub libgfx.Hub, vmid libgfx.VMID, va uint64, opt Options) (*Pagewalk, error) {
	trace := &Pagewalk{}
	opt.Trace = trace
	if _, err := e.translate(hub, vmid, va, 4, opt); err != nil {
		return nil, err
	}
	return trace, nil
}

func (e *Engine) transfer(exts []extent, p []byte, write bool) error {
	off := uint32(0)
	for _, x := range exts {
		buf := p[off : off+x.n]
		switch x.space {
		case spaceSkip:
			if !write {
				clear(buf)
			}
		case spaceSys:
			if err := e.accessSys(x.addr, buf, write); err != nil {
				return err
			}
		case spaceVRAM:
			if err := e.accessLinear(x.addr, buf, write); err != nil {
				return err
			}
		}
		off += x.n
	}
	return nil
}

func (e *Engine) accessSys(addr uint64, p []byte, write bool) error {
	if e.SysRAM == nil {
		return &BackendError{What: "user page", Addr: addr, Sys: true,
			Err: fmt.Errorf("no system memory backend configured")}
	}
	var err error
	if write {
		err = e.SysRAM.Write(addr, p)
	} else {
		err = e.SysRAM.Read(addr, p)
	}
	if err != nil {
		return &BackendError{What: "user page", Addr: addr, Sys: true, Err: err}
	}
	return nil
}

// accessLinear reads or writes physical VRAM, routing through the
// XGMI hive when one is configured: node address spaces are logically
// concatenated and the owning node's backend serves the access.
func (e *Engine) accessLinear(addr uint64, p []byte, write bool) error {
	node := e
	if len(e.Hive) > 0 {
		node = nil
		for _, n := range e.Hive {
			seg := n.xgmiSegmentSize()
			if addr < seg {
				node = n
				break
			}
			addr -= seg
		}
		if node == nil {
			return &BackendError{What: "user page", Addr: addr,
				Err: fmt.Errorf("address beyond the end of the XGMI hive")}
		}
	}
	if node.VRAM == nil {
		return &BackendError{What: "user page", Addr: addr,
			Err: fmt.Errorf("no VRAM backend configured")}
	}
	var err error
	if write {
		err = node.VRAM.Write(addr, p)
	} else {
		err = node.VRAM.Read(addr, p)
	}
	if err != nil {
		return &BackendError{What: "user page", Addr: addr, Err: err}
	}
	return nil
}

// xgmiSegmentSize returns the size of this node's slice of the hive
// address space: the LFB size registers where present, otherwise the
// VRAM size rounded up to a GiB.
func (e *Engine) xgmiSegmentSize() uint64 {
	for _, name := range []string{
		"mmMC_VM_XGMI_LFB_SIZE",
		"mmMC_VM_XGMI_LFB_SIZE_ALDE",
		"mmGCMC_VM_XGMI_LFB_SIZE",
	} {
		if !e.Asic.HasReg(name) {
			continue
		}
		v, err := e.Asic.ReadField(name, "PF_LFB_SIZE")
		if err != nil {
			log.Warnf("reading %s: %v", name, err)
			continue
		}
		return uint64(v) << 24
	}
	const gib = uint64(1) << 30
	return (e.VRAMSize + gib - 1) &^ (gib - 1)
}
