// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/gpudbg/gpudbg/libgfx"
	"github.com/gpudbg/gpudbg/stream"
)

type ringCmd struct {
	capturePath string
	format      string
	hub         string
	vmid        uint
	addr        string
	size        uint
	all         bool
	max         int
	noFollow    bool
	noShaders   bool
	verbose     bool
}

func newRingCmd() *ffcli.Command {
	args := &ringCmd{}

	set := flag.NewFlagSet("ring", flag.ExitOnError)
	set.StringVar(&args.capturePath, "capture", "", "snapshot file to operate on")
	set.StringVar(&args.format, "format", "", "packet format (pm4, sdma, hsa, umsch); guessed from the ring name when empty")
	set.StringVar(&args.hub, "hub", "gfx", "hub for IB and shader fetches")
	set.UintVar(&args.vmid, "vmid", 0, "VMID for -addr decodes")
	set.StringVar(&args.addr, "addr", "", "decode an indirect buffer at this virtual address instead of a captured ring")
	set.UintVar(&args.size, "size", 0, "IB size in bytes for -addr decodes")
	set.BoolVar(&args.all, "all", false, "decode the whole ring instead of the rptr..wptr window")
	set.IntVar(&args.max, "max", 0, "stop after this many packets (0 = no limit)")
	set.BoolVar(&args.noFollow, "no-follow", false, "do not chase indirect buffers")
	set.BoolVar(&args.noShaders, "no-shaders", false, "do not scan shader sizes")
	set.BoolVar(&args.verbose, "v", false, "verbose decode logging")

	return &ffcli.Command{
		Name:       "ring",
		Exec:       args.exec,
		ShortUsage: "gpudbg ring -capture <file> [flags] [ring-name]",
		ShortHelp:  "Decode a captured command ring or an indirect buffer.",
		FlagSet:    set,
	}
}

func (cmd *ringCmd) exec(_ context.Context, args []string) error {
	s, err := openSession(cmd.capturePath, cmd.verbose)
	if err != nil {
		return err
	}
	hub, err := parseHub(cmd.hub)
	if err != nil {
		return err
	}

	dec := stream.NewDecoder(ringDevice{s}, stream.Options{
		Hub:            hub,
		NoFollowIB:     cmd.noFollow,
		NoFollowShader: cmd.noShaders,
	})

	var st *stream.Stream
	switch {
	case cmd.addr != "":
		st, err = cmd.decodeIB(dec)
	case len(args) == 1:
		st, err = cmd.decodeRing(dec, s, args[0])
	default:
		return flag.ErrHelp
	}
	if err != nil {
		return err
	}

	st.DecodeOpcodes(newTextUI(), cmd.max)
	if st.Truncated {
		fmt.Println("(stream truncated inside a packet)")
	}
	return nil
}

func (cmd *ringCmd) parseFormat(fallback string) (stream.Format, error) {
	name := cmd.format
	if name == "" {
		name = fallback
	}
	if f, ok := stream.GuessFormat(name); ok {
		return f, nil
	}
	switch name {
	case "pm4":
		return stream.FormatPM4, nil
	case "sdma":
		return stream.FormatSDMA, nil
	case "hsa", "aql":
		return stream.FormatHSA, nil
	case "umsch":
		return stream.FormatUMSCH, nil
	}
	return 0, fmt.Errorf("cannot determine packet format from %q, pass -format", name)
}

func (cmd *ringCmd) decodeIB(dec *stream.Decoder) (*stream.Stream, error) {
	if cmd.size == 0 {
		return nil, fmt.Errorf("-addr requires -size")
	}
	addr, err := parseAddr(cmd.addr)
	if err != nil {
		return nil, err
	}
	format, err := cmd.parseFormat("pm4")
	if err != nil {
		return nil, err
	}
	return dec.DecodeVMBuffer(format, libgfx.VMID(cmd.vmid), addr, uint32(cmd.size))
}

func (cmd *ringCmd) decodeRing(dec *stream.Decoder, s *session, name string) (*stream.Stream, error) {
	ring, ok := s.cap.Rings[name]
	if !ok {
		return nil, fmt.Errorf("no ring %q in capture", name)
	}
	format, err := cmd.parseFormat(name)
	if err != nil {
		return nil, err
	}
	rptr, wptr := int(ring.Rptr), int(ring.Wptr)
	if cmd.all {
		rptr, wptr = -1, -1
	}
	return dec.DecodeRing(format, ring.Words, rptr, wptr)
}
