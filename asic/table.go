// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package asic

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gpudbg/gpudbg/libgfx"
)

// LoadTable parses a register database in the flat text format
// produced by the capture tooling:
//
//	asic <name>
//	block <ipname> <major> <minor> [instance]
//	<REGNAME> <offset> [<FIELD>:<startbit>:<stopbit> ...]
//
// Registers belong to the most recent block line. Offsets and bit
// positions accept any base strconv understands; '#' starts a
// comment.
func LoadTable(r io.Reader) (name string, blocks []*IPBlock, err error) {
	sc := bufio.NewScanner(r)
	var cur *IPBlock
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "asic":
			if len(fields) != 2 {
				return "", nil, fmt.Errorf("line %d: asic wants one argument", lineNo)
			}
			name = fields[1]
		case "block":
			if len(fields) < 4 {
				return "", nil, fmt.Errorf("line %d: block wants name, major, minor", lineNo)
			}
			maj, err := strconv.ParseUint(fields[2], 0, 32)
			if err != nil {
				return "", nil, fmt.Errorf("line %d: bad major: %w", lineNo, err)
			}
			minor, err := strconv.ParseUint(fields[3], 0, 32)
			if err != nil {
				return "", nil, fmt.Errorf("line %d: bad minor: %w", lineNo, err)
			}
			inst := 0
			if len(fields) > 4 {
				inst, err = strconv.Atoi(fields[4])
				if err != nil {
					return "", nil, fmt.Errorf("line %d: bad instance: %w", lineNo, err)
				}
			}
			cur = &IPBlock{
				Name:     fields[1],
				Version:  libgfx.GfxVersion{Major: uint32(maj), Minor: uint32(minor)},
				Instance: inst,
			}
			blocks = append(blocks, cur)
		default:
			if cur == nil {
				return "", nil, fmt.Errorf("line %d: register %q before any block line", lineNo, fields[0])
			}
			if len(fields) < 2 {
				return "", nil, fmt.Errorf("line %d: register %q missing offset", lineNo, fields[0])
			}
			offset, err := strconv.ParseUint(fields[1], 0, 32)
			if err != nil {
				return "", nil, fmt.Errorf("line %d: bad offset for %q: %w", lineNo, fields[0], err)
			}
			reg := Register{Name: fields[0], Offset: uint32(offset)}
			for _, f := range fields[2:] {
				parts := strings.Split(f, ":")
				if len(parts) != 3 {
					return "", nil, fmt.Errorf("line %d: bad bitfield %q", lineNo, f)
				}
				start, err := strconv.ParseUint(parts[1], 0, 8)
				if err != nil {
					return "", nil, fmt.Errorf("line %d: bad bitfield %q: %w", lineNo, f, err)
				}
				stop, err := strconv.ParseUint(parts[2], 0, 8)
				if err != nil {
					return "", nil, fmt.Errorf("line %d: bad bitfield %q: %w", lineNo, f, err)
				}
				if stop < start || stop > 31 {
					return "", nil, fmt.Errorf("line %d: bitfield %q out of range", lineNo, f)
				}
				reg.Bits = append(reg.Bits, Bitfield{
					Name:  parts[0],
					Start: uint8(start),
					Stop:  uint8(stop),
				})
			}
			cur.Regs = append(cur.Regs, reg)
		}
	}
	if err := sc.Err(); err != nil {
		return "", nil, err
	}
	return name, blocks, nil
}
