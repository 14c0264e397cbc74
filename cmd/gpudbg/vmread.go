// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/gpudbg/gpudbg/libgfx"
	"github.com/gpudbg/gpudbg/vm"
)

type vmreadCmd struct {
	capturePath string
	hub         string
	vmid        uint
	size        uint
	verbose     bool
}

func newVMReadCmd() *ffcli.Command {
	args := &vmreadCmd{}

	set := flag.NewFlagSet("vmread", flag.ExitOnError)
	set.StringVar(&args.capturePath, "capture", "", "snapshot file to operate on")
	set.StringVar(&args.hub, "hub", "gfx", "translation hub (gfx, mmhub, linear, process)")
	set.UintVar(&args.vmid, "vmid", 0, "VMID to translate through")
	set.UintVar(&args.size, "size", 256, "bytes to read")
	set.BoolVar(&args.verbose, "v", false, "narrate the page walks")

	return &ffcli.Command{
		Name:       "vmread",
		Exec:       args.exec,
		ShortUsage: "gpudbg vmread -capture <file> [flags] <address>",
		ShortHelp:  "Read GPU virtual memory and hexdump it.",
		FlagSet:    set,
	}
}

func (cmd *vmreadCmd) exec(_ context.Context, args []string) error {
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

	// Reads go through the translator in whole dwords.
	buf := make([]byte, (cmd.size+3)&^3)
	if err := s.eng.Read(hub, libgfx.VMID(cmd.vmid), va, buf,
		vm.Options{Verbose: cmd.verbose}); err != nil {
		return err
	}
	hexdump(os.Stdout, va, buf[:cmd.size])
	return nil
}
