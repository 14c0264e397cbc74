// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/gpudbg/gpudbg/capture"
)

type infoCmd struct {
	capturePath string
}

func newInfoCmd() *ffcli.Command {
	args := &infoCmd{}

	set := flag.NewFlagSet("info", flag.ExitOnError)
	set.StringVar(&args.capturePath, "capture", "", "snapshot file to inspect")

	return &ffcli.Command{
		Name:       "info",
		Exec:       args.exec,
		ShortUsage: "gpudbg info -capture <file>",
		ShortHelp:  "Summarize a device snapshot.",
		FlagSet:    set,
	}
}

func (cmd *infoCmd) exec(context.Context, []string) error {
	s, err := openSession(cmd.capturePath, false)
	if err != nil {
		return err
	}

	fmt.Printf("asic: %s (gfx %s, %s)\n",
		s.dev.Name, s.dev.GfxVersion(), s.dev.Generation())
	for _, ip := range s.dev.Blocks {
		fmt.Printf("  block %-12s %-8s instance %d, %d registers\n",
			ip.Name, ip.Version, ip.Instance, len(ip.Regs))
	}
	fmt.Printf("captured registers: %d\n", len(s.cap.Regs))

	total := func(spans []capture.Span) (n uint64) {
		for _, sp := range spans {
			n += uint64(len(sp.Data))
		}
		return n
	}
	fmt.Printf("vram: %d spans, %d bytes\n", len(s.cap.VRAM), total(s.cap.VRAM))
	fmt.Printf("sysram: %d spans, %d bytes\n", len(s.cap.SysRAM), total(s.cap.SysRAM))

	names := make([]string, 0, len(s.cap.Rings))
	for name := range s.cap.Rings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := s.cap.Rings[name]
		fmt.Printf("ring %-20s %6d dwords, rptr %d, wptr %d\n",
			name, len(r.Words), r.Rptr, r.Wptr)
	}
	return nil
}
