// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwaccess defines the capability interfaces through which the
// translation and decoding layers touch hardware, and the concrete
// backends for the usual Linux interfaces (debugfs files, iomem,
// process memory). The core packages never open device files
// themselves, they are handed these capabilities.
package hwaccess // import "github.com/gpudbg/gpudbg/hwaccess"

// RegAccess reads and writes 32-bit MMIO registers. Offsets are dword
// register indices, not byte offsets.
type RegAccess interface {
	Read32(offset uint32) (uint32, error)
	Write32(offset uint32, value uint32) error
}

// MemAccess reads or writes a byte span of a physical memory space
// (VRAM or system RAM). Implementations must transfer the whole span
// or return an error.
type MemAccess interface {
	Read(addr uint64, p []byte) error
	Write(addr uint64, p []byte) error
}

// BusMapper converts a GPU bus (DMA) address into a CPU physical
// address. On systems without an IOMMU this is the identity.
type BusMapper interface {
	BusToCPU(addr uint64) uint64
}

// IdentityBus is the BusMapper for direct-mapped systems.
type IdentityBus struct{}

func (IdentityBus) BusToCPU(addr uint64) uint64 { return addr }

// BusMapperFunc adapts a plain function to the BusMapper interface.
type BusMapperFunc func(uint64) uint64

func (f BusMapperFunc) BusToCPU(addr uint64) uint64 { return f(addr) }
