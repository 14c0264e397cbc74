// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package hwaccess

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ProcessMemory accesses the virtual memory of another process, used
// to reach user-queue client mappings. Reads go through
// process_vm_readv, writes through /proc/<pid>/mem since the readv
// family cannot write to protected pages.
type ProcessMemory struct {
	pid int
	mem *os.File
}

// NewProcessMemory returns a backend for the given process. The
// /proc/<pid>/mem file is opened lazily on first write.
func NewProcessMemory(pid int) *ProcessMemory {
	return &ProcessMemory{pid: pid}
}

func (pm *ProcessMemory) Read(addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	localIov := []unix.Iovec{{Base: &p[0], Len: uint64(len(p))}}
	remoteIov := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(p)}}
	n, err := unix.ProcessVMReadv(pm.pid, localIov, remoteIov, 0)
	if err != nil {
		return fmt.Errorf("failed to read PID %v at 0x%x: %w", pm.pid, addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("failed to read PID %v at 0x%x: got only %d of %d",
			pm.pid, addr, n, len(p))
	}
	return nil
}

func (pm *ProcessMemory) Write(addr uint64, p []byte) error {
	if pm.mem == nil {
		f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pm.pid), os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("open mem of PID %v: %w", pm.pid, err)
		}
		pm.mem = f
	}
	n, err := pm.mem.WriteAt(p, int64(addr))
	if err != nil {
		return fmt.Errorf("failed to write PID %v at 0x%x: %w", pm.pid, addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("failed to write PID %v at 0x%x: wrote only %d of %d",
			pm.pid, addr, n, len(p))
	}
	return nil
}

// Close releases the /proc mem handle if one was opened.
func (pm *ProcessMemory) Close() error {
	if pm.mem != nil {
		err := pm.mem.Close()
		pm.mem = nil
		return err
	}
	return nil
}
