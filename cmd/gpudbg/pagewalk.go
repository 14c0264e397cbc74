// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/gpudbg/gpudbg/libgfx"
	"github.com/gpudbg/gpudbg/vm"
)

type pagewalkCmd struct {
	capturePath string
	hub         string
	vmid        uint
	verbose     bool
}

func newPagewalkCmd() *ffcli.Command {
	args := &pagewalkCmd{}

	set := flag.NewFlagSet("pagewalk", flag.ExitOnError)
	set.StringVar(&args.capturePath, "capture", "", "snapshot file to operate on")
	set.StringVar(&args.hub, "hub", "gfx", "translation hub (gfx, mmhub, linear, process)")
	set.UintVar(&args.vmid, "vmid", 0, "VMID to translate through")
	set.BoolVar(&args.verbose, "v", false, "narrate the page walk")

	return &ffcli.Command{
		Name:       "pagewalk",
		Exec:       args.exec,
		ShortUsage: "gpudbg pagewalk -capture <file> [flags] <address>",
		ShortHelp:  "Walk the page tables for one virtual address.",
		FlagSet:    set,
	}
}

func (cmd *pagewalkCmd) exec(_ context.Context, args []string) error {
	if len(args) != 1 {
		return flag.ErrHelp
	}
	va, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	hub, err := parseHub(cmd.hub)
	if err != nil {
		return err
	}
	s, err := openSession(cmd.capturePath, cmd.verbose)
	if err != nil {
		return err
	}

	w, err := s.eng.Walk(hub, libgfx.VMID(cmd.vmid), va,
		vm.Options{Verbose: cmd.verbose})
	if err != nil {
		return err
	}
	printWalk(w)
	return nil
}

func printWalk(w *vm.Pagewalk) {
	fmt.Printf("walk %d@0x%x via %s, depth %d, block size 2^%d\n",
		w.VMID, w.VA, w.Hub, w.Depth, 12+w.BlockSize)

	for i, s := range w.PDEs {
		where := "registers"
		if s.Addr != 0 || i > 0 {
			where = fmt.Sprintf("0x%012x", s.Addr)
		}
		f := s.Fields
		fmt.Printf("  pde[%d] idx 0x%x @ %s = 0x%016x  base 0x%x frag %d",
			i, s.Index, where, s.Entry, f.PTEBase, f.FragSize)
		if f.System {
			fmt.Print(" system")
		}
		if f.PTE {
			fmt.Print(" as-pte")
		}
		if f.Further {
			fmt.Print(" further")
		}
		if !f.Valid {
			fmt.Print(" INVALID")
		}
		fmt.Println()
	}

	p := w.PTE
	f := p.Fields
	fmt.Printf("  pte    idx 0x%x @ 0x%012x = 0x%016x  base 0x%x frag %d",
		p.Index, p.Addr, p.Entry, f.PageBase, f.Fragment)
	if f.System {
		fmt.Print(" system")
	}
	if f.PRT {
		fmt.Print(" prt")
	}
	if f.TMZ {
		fmt.Print(" tmz")
	}
	perm := ""
	if f.Read {
		perm += "r"
	}
	if f.Write {
		perm += "w"
	}
	if f.Execute {
		perm += "x"
	}
	if perm != "" {
		fmt.Printf(" %s", perm)
	}
	if !f.Valid {
		fmt.Print(" INVALID")
	}
	fmt.Println()

	space := "vram"
	if w.System {
		space = "sysram"
	}
	fmt.Printf("  page mask 0x%x offset 0x%x\n", p.PageMask, p.Offset)
	fmt.Printf("  phys 0x%012x (%s)\n", w.Phys, space)
}
