// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/gpudbg/gpudbg/libgfx"
	"github.com/gpudbg/gpudbg/stream"
)

// textUI renders a decoded stream as plain text, one line per packet
// with indented field lines.
type textUI struct {
	w       io.Writer
	packets int
	ibs     int
}

func newTextUI() *textUI {
	return &textUI{w: os.Stdout}
}

func (u *textUI) StartIB(addr uint64, vmid libgfx.VMID, fromAddr uint64,
	fromVMID libgfx.VMID, sizeDwords uint32, format stream.Format) {
	u.ibs++
	fmt.Fprintf(u.w, "== %s buffer %d@0x%x, %d dwords", format, vmid, addr, sizeDwords)
	if fromAddr != 0 {
		fmt.Fprintf(u.w, ", referenced from %d@0x%x", fromVMID, fromAddr)
	}
	fmt.Fprintln(u.w)
}

func (u *textUI) StartOpcode(addr uint64, vmid libgfx.VMID, opcode, subop, nwords uint32,
	name string, header uint32, words []uint32) {
	u.packets++
	fmt.Fprintf(u.w, "0x%012x: [0x%08x] %s", addr, header, name)
	if nwords > 0 {
		fmt.Fprintf(u.w, " (%d dwords)", nwords)
	}
	fmt.Fprintln(u.w)
}

func (u *textUI) AddField(addr uint64, vmid libgfx.VMID, name, value string) {
	fmt.Fprintf(u.w, "    %-24s %s\n", name, value)
}

func (u *textUI) AddShader(sh *stream.ShaderProgram) {
	fmt.Fprintf(u.w, "    %s shader at %d@0x%x, %d bytes\n",
		sh.Type, sh.VMID, sh.Addr, sh.Size)
	for _, r := range sh.Regs {
		fmt.Fprintf(u.w, "      %-22s 0x%08x\n", r.Name, r.Value)
	}
}

func (u *textUI) AddVCN(addr uint64, vmid libgfx.VMID, words []uint32) {
	fmt.Fprintf(u.w, "    vcn ib at %d@0x%x, %d dwords\n", vmid, addr, len(words))
}

func (u *textUI) AddData(addr uint64, vmid libgfx.VMID, words []uint32) {
	fmt.Fprintf(u.w, "    data at %d@0x%x, %d dwords\n", vmid, addr, len(words))
	for i := 0; i < len(words); i += 4 {
		end := i + 4
		if end > len(words) {
			end = len(words)
		}
		fmt.Fprintf(u.w, "      +0x%03x:", i*4)
		for _, w := range words[i:end] {
			fmt.Fprintf(u.w, " 0x%08x", w)
		}
		fmt.Fprintln(u.w)
	}
}

func (u *textUI) Unhandled(addr uint64, vmid libgfx.VMID, header uint32) {
	fmt.Fprintf(u.w, "    (no decoder for packet header 0x%08x)\n", header)
}

func (u *textUI) Done() {
	fmt.Fprintf(u.w, "-- %d packets in %d buffers\n", u.packets, u.ibs)
}
