// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type regCmd struct {
	capturePath string
	noFields    bool
}

func newRegCmd() *ffcli.Command {
	args := &regCmd{}

	set := flag.NewFlagSet("reg", flag.ExitOnError)
	set.StringVar(&args.capturePath, "capture", "", "snapshot file to operate on")
	set.BoolVar(&args.noFields, "no-fields", false, "print raw values only")

	return &ffcli.Command{
		Name:       "reg",
		Exec:       args.exec,
		ShortUsage: "gpudbg reg -capture <file> <register> [register...]",
		ShortHelp:  "Read registers by name and decode their bitfields.",
		FlagSet:    set,
	}
}

func (cmd *regCmd) exec(_ context.Context, args []string) error {
	if len(args) == 0 {
		return flag.ErrHelp
	}
	s, err := openSession(cmd.capturePath, false)
	if err != nil {
		return err
	}

	for _, name := range args {
		r, err := s.dev.FindReg(name)
		if err != nil {
			return err
		}
		v, err := s.dev.Read32(name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		fmt.Printf("%s (0x%x) = 0x%08x\n", r.Name, r.Offset, v)
		if cmd.noFields {
			continue
		}
		for _, f := range r.Bits {
			fv, err := r.Slice(v, f.Name)
			if err != nil {
				return err
			}
			fmt.Printf("  %-32s [%2d:%2d] = 0x%x\n", f.Name, f.Stop, f.Start, fv)
		}
	}
	return nil
}
