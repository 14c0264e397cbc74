// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package hwaccess

import (
	"fmt"
	"io"
)

// LinearMemory accesses a memory space through seekable file
// semantics, as exposed by the amdgpu debugfs amdgpu_vram and
// amdgpu_iomem files. Writer may be nil for read-only captures.
type LinearMemory struct {
	Reader io.ReaderAt
	Writer io.WriterAt
}

func (m *LinearMemory) Read(addr uint64, p []byte) error {
	n, err := m.Reader.ReadAt(p, int64(addr))
	if err != nil && !(n == len(p) && err == io.EOF) {
		return fmt.Errorf("linear read of %d bytes at 0x%x: %w", len(p), addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("linear read of %d bytes at 0x%x: short read (%d)", len(p), addr, n)
	}
	return nil
}

func (m *LinearMemory) Write(addr uint64, p []byte) error {
	if m.Writer == nil {
		return fmt.Errorf("linear write at 0x%x: backend is read-only", addr)
	}
	n, err := m.Writer.WriteAt(p, int64(addr))
	if err != nil {
		return fmt.Errorf("linear write of %d bytes at 0x%x: %w", len(p), addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("linear write of %d bytes at 0x%x: short write (%d)", len(p), addr, n)
	}
	return nil
}
