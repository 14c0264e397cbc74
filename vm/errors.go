// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"errors"
	"fmt"

	"github.com/gpudbg/gpudbg/libgfx"
)

// ErrUnsupportedGeneration is returned when no walker exists for the
// detected gfx version.
var ErrUnsupportedGeneration = errors.New("no page table walker for this gfx generation")

// ErrMisaligned is returned for accesses that do not meet the 4-byte
// alignment the hardware interfaces require.
var ErrMisaligned = errors.New("address and size must be 4-byte aligned")

// OutOfRangeError reports a virtual address outside the span of the
// root page table.
type OutOfRangeError struct {
	VMID  libgfx.VMID
	VA    uint64
	Start uint64
	End   uint64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("address %d@0x%x outside root page table span [0x%x, 0x%x]",
		e.VMID, e.VA, e.Start, e.End)
}

// InvalidMappingError reports a page walk that hit a non-valid,
// non-PRT entry. The whole request fails, no partial transfer is
// performed.
type InvalidMappingError struct {
	VMID  libgfx.VMID
	VA    uint64
	Level int
	Entry uint64
}

func (e *InvalidMappingError) Error() string {
	return fmt.Sprintf("no valid mapping for %d@0x%x (level %d entry 0x%016x)",
		e.VMID, e.VA, e.Level, e.Entry)
}

// BackendError wraps a failed read or write of a physical access
// backend, naming what was being fetched.
type BackendError struct {
	What string // "PDE", "PTE", "user page"
	Addr uint64
	Sys  bool
	Err  error
}

func (e *BackendError) Error() string {
	space := "vram"
	if e.Sys {
		space = "sysram"
	}
	return fmt.Sprintf("cannot access %s at %s address 0x%x: %v", e.What, space, e.Addr, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
