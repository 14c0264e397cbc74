// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package hwaccess

import (
	"encoding/binary"
	"fmt"
)

// Fallback MM_INDEX/MM_DATA/MM_INDEX_HI dword offsets, stable since
// SI. Used when the register database carries no entry for them.
const (
	DefaultMMIndexOffset   = 0
	DefaultMMDataOffset    = 1
	DefaultMMIndexHiOffset = 6
)

// MMIOMemory reaches VRAM through the indirect MM_INDEX/MM_DATA
// register pair. Slower than the linear file but works without the
// debugfs VRAM file, e.g. over remote register transports. Accesses
// must be 4-byte aligned and sized.
type MMIOMemory struct {
	Regs RegAccess

	// Dword offsets of the indexing registers. On GFX10+ these are
	// the BIF_BX_PF_MM_* instances.
	Index   uint32
	IndexHi uint32
	Data    uint32
}

// NewMMIOMemory wires an MMIO-indexed VRAM backend with the fallback
// register offsets.
func NewMMIOMemory(regs RegAccess) *MMIOMemory {
	return &MMIOMemory{
		Regs:    regs,
		Index:   DefaultMMIndexOffset,
		IndexHi: DefaultMMIndexHiOffset,
		Data:    DefaultMMDataOffset,
	}
}

func (m *MMIOMemory) seek(addr uint64) error {
	if err := m.Regs.Write32(m.Index, uint32(addr)|0x80000000); err != nil {
		return fmt.Errorf("write MM_INDEX: %w", err)
	}
	if err := m.Regs.Write32(m.IndexHi, uint32(addr>>31)); err != nil {
		return fmt.Errorf("write MM_INDEX_HI: %w", err)
	}
	return nil
}

func (m *MMIOMemory) Read(addr uint64, p []byte) error {
	if addr&3 != 0 || len(p)&3 != 0 {
		return fmt.Errorf("mmio read at 0x%x len %d: must be 4-byte aligned", addr, len(p))
	}
	for len(p) > 0 {
		if err := m.seek(addr); err != nil {
			return err
		}
		v, err := m.Regs.Read32(m.Data)
		if err != nil {
			return fmt.Errorf("read MM_DATA at 0x%x: %w", addr, err)
		}
		binary.LittleEndian.PutUint32(p, v)
		p = p[4:]
		addr += 4
	}
	return nil
}

func (m *MMIOMemory) Write(addr uint64, p []byte) error {
	if addr&3 != 0 || len(p)&3 != 0 {
		return fmt.Errorf("mmio write at 0x%x len %d: must be 4-byte aligned", addr, len(p))
	}
	for len(p) > 0 {
		if err := m.seek(addr); err != nil {
			return err
		}
		if err := m.Regs.Write32(m.Data, binary.LittleEndian.Uint32(p)); err != nil {
			return fmt.Errorf("write MM_DATA at 0x%x: %w", addr, err)
		}
		p = p[4:]
		addr += 4
	}
	return nil
}
