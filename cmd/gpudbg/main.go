// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

// gpudbg inspects AMD GPU state offline: it loads a device snapshot
// and translates virtual addresses, walks page tables, decodes
// command rings, and reads registers against the captured state.
package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	root := ffcli.Command{
		Name:       "gpudbg",
		ShortUsage: "gpudbg <subcommand> [flags]",
		ShortHelp:  "Inspect AMD GPU state from a device snapshot.",
		Subcommands: []*ffcli.Command{
			newInfoCmd(),
			newRegCmd(),
			newVMReadCmd(),
			newPagewalkCmd(),
			newRingCmd(),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil &&
		!errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Failed: %v", err)
	}
}
