// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/gpudbg/gpudbg/asic"
	"github.com/gpudbg/gpudbg/capture"
	"github.com/gpudbg/gpudbg/hwaccess"
	"github.com/gpudbg/gpudbg/libgfx"
	"github.com/gpudbg/gpudbg/vm"
)

// session is a loaded snapshot bound to the offline device stack.
type session struct {
	cap *capture.Capture
	dev *asic.Asic
	eng *vm.Engine
}

func openSession(path string, verbose bool) (*session, error) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	if path == "" {
		return nil, errors.New("missing required -capture flag")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := capture.Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if len(c.Table) == 0 {
		return nil, fmt.Errorf("%s carries no register table", path)
	}
	name, blocks, err := asic.LoadTable(bytes.NewReader(c.Table))
	if err != nil {
		return nil, fmt.Errorf("register table of %s: %w", path, err)
	}
	dev, err := asic.New(name, c.RegAccess(), blocks...)
	if err != nil {
		return nil, err
	}
	vram, err := c.VRAMAccess()
	if err != nil {
		return nil, err
	}
	sys, err := c.SysRAMAccess()
	if err != nil {
		return nil, err
	}
	return &session{
		cap: c,
		dev: dev,
		eng: &vm.Engine{
			Asic:   dev,
			VRAM:   vram,
			SysRAM: sys,
			Bus:    hwaccess.IdentityBus{},
		},
	}, nil
}

// ringDevice adapts the session to the stream decoder's device
// capabilities.
type ringDevice struct {
	s *session
}

func (d ringDevice) ReadVM(hub libgfx.Hub, vmid libgfx.VMID, addr uint64, p []byte) error {
	return d.s.eng.Read(hub, vmid, addr, p, vm.Options{})
}

func (d ringDevice) RegName(offset uint32) string {
	return d.s.dev.RegName(offset)
}

func (d ringDevice) Generation() libgfx.Generation {
	return d.s.dev.Generation()
}

func parseHub(name string) (libgfx.Hub, error) {
	switch name {
	case "gfx":
		return libgfx.HubGfx, nil
	case "mm", "mmhub":
		return libgfx.HubMM, nil
	case "mmhub_vc0":
		return libgfx.HubMMVC0, nil
	case "mmhub_vc1":
		return libgfx.HubMMVC1, nil
	case "linear", "vram":
		return libgfx.HubLinear, nil
	case "process":
		return libgfx.HubProcess, nil
	}
	return 0, fmt.Errorf("unknown hub %q", name)
}

// parseAddr accepts decimal, 0x hex and octal per Go literal rules.
func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return v, nil
}

// hexdump writes data as 16 bytes per line with an ASCII gutter.
func hexdump(w io.Writer, base uint64, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]
		fmt.Fprintf(w, "0x%012x:", base+uint64(off))
		for i := 0; i < 16; i++ {
			if i%4 == 0 {
				fmt.Fprint(w, " ")
			}
			if i < len(line) {
				fmt.Fprintf(w, "%02x", line[i])
			} else {
				fmt.Fprint(w, "  ")
			}
		}
		fmt.Fprint(w, "  ")
		for _, b := range line {
			if b < 0x20 || b > 0x7E {
				b = '.'
			}
			fmt.Fprintf(w, "%c", b)
		}
		fmt.Fprintln(w)
	}
}
