// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package hwaccess

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FileRegs implements RegAccess over a seekable MMIO register file
// (the debugfs amdgpu_regs2 style interface), where byte offset is
// four times the dword register offset.
type FileRegs struct {
	Reader io.ReaderAt
	Writer io.WriterAt
}

func (r *FileRegs) Read32(offset uint32) (uint32, error) {
	var buf [4]byte
	n, err := r.Reader.ReadAt(buf[:], int64(offset)*4)
	if err != nil && !(n == 4 && err == io.EOF) {
		return 0, fmt.Errorf("read register 0x%x: %w", offset, err)
	}
	if n != 4 {
		return 0, fmt.Errorf("read register 0x%x: short read", offset)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *FileRegs) Write32(offset uint32, value uint32) error {
	if r.Writer == nil {
		return fmt.Errorf("write register 0x%x: backend is read-only", offset)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if _, err := r.Writer.WriteAt(buf[:], int64(offset)*4); err != nil {
		return fmt.Errorf("write register 0x%x: %w", offset, err)
	}
	return nil
}
