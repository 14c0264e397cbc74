// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import "github.com/gpudbg/gpudbg/libgfx"

// maxWalkLevels bounds the directory levels a single walk may visit:
// up to 4 configured levels, the root pseudo-PDE, and the single
// PTE-Further hop. Hardware never exceeds this.
const maxWalkLevels = 8

// PDEStep records one directory entry visited during a page walk.
type PDEStep struct {
	// Addr is the physical location the entry was fetched from; zero
	// for the root entry, which lives in registers.
	Addr uint64
	// Index is the selector into the PDB that picked this entry.
	Index uint64
	// VAMask accumulates the VA bits consumed up to this level.
	VAMask uint64
	Entry  uint64
	Fields PDEFields
}

// PTEStep records the leaf entry that terminated a page walk.
type PTEStep struct {
	Addr   uint64
	Index  uint64
	VAMask uint64
	Entry  uint64
	Fields PTEFields
	// Offset is VA & offset_mask, the byte offset into the page.
	Offset uint64
	// PageMask is the offset mask of the terminal leaf.
	PageMask uint64
	// StartAddr is the physical address the access begins at.
	StartAddr uint64
}

// Pagewalk captures the diagnostic trace of a translation: every
// PDE/PTE visited for the first page of a request, with raw values
// and decoded fields. Pass one to Access via Options.Trace.
type Pagewalk struct {
	VA   uint64
	VMID libgfx.VMID
	Hub  libgfx.Hub

	Depth     int
	BlockSize uint64

	PDEs []PDEStep
	PTE  PTEStep

	// System is set when the final page resolved to system memory.
	System bool
	// Phys is the physical (memory controller) address of the first
	// byte accessed.
	Phys uint64
}

func (w *Pagewalk) addPDE(s PDEStep) {
	if len(w.PDEs) < maxWalkLevels {
		w.PDEs = append(w.PDEs, s)
	}
}
