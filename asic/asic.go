// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

// Package asic models the GPU under inspection: its IP blocks, their
// register databases and the MMIO access path. Register lookups by
// name are the hot path of every page walk, so resolved names are held
// in an LRU.
package asic // import "github.com/gpudbg/gpudbg/asic"

import (
	"fmt"

	"github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"

	"github.com/gpudbg/gpudbg/hwaccess"
	"github.com/gpudbg/gpudbg/libgfx"
)

// regCacheSize bounds the register name LRU. The VM walkers touch a
// couple dozen names per call, command decode a few hundred.
const regCacheSize = 4096

func hashString(s string) uint32 {
	return uint32(xxh3.HashString(s))
}

// Bitfield describes one named field of a register, bits
// [Stop:Start] inclusive.
type Bitfield struct {
	Name  string
	Start uint8
	Stop  uint8
}

// Register is one entry of an IP block's register database. Offset is
// the dword MMIO offset.
type Register struct {
	Name   string
	Offset uint32
	Bits   []Bitfield
}

// Field looks up a named bitfield.
func (r *Register) Field(name string) (Bitfield, bool) {
	for _, b := range r.Bits {
		if b.Name == name {
			return b, true
		}
	}
	return Bitfield{}, false
}

// Slice extracts the named bitfield from a register value.
func (r *Register) Slice(value uint32, field string) (uint32, error) {
	b, ok := r.Field(field)
	if !ok {
		return 0, fmt.Errorf("register %s has no field %s", r.Name, field)
	}
	return (value >> b.Start) & ((1 << (b.Stop - b.Start + 1)) - 1), nil
}

// Compose shifts a field value into place for the named bitfield.
func (r *Register) Compose(field string, value uint32) (uint32, error) {
	b, ok := r.Field(field)
	if !ok {
		return 0, fmt.Errorf("register %s has no field %s", r.Name, field)
	}
	return (value & ((1 << (b.Stop - b.Start + 1)) - 1)) << b.Start, nil
}

// IPBlock is a discoverable IP instance with its register database.
type IPBlock struct {
	Name     string
	Version  libgfx.GfxVersion
	Instance int
	Regs     []Register

	byName   map[string]*Register
	byOffset map[uint32]*Register
}

func (ip *IPBlock) index() {
	ip.byName = make(map[string]*Register, len(ip.Regs))
	ip.byOffset = make(map[uint32]*Register, len(ip.Regs))
	for i := range ip.Regs {
		r := &ip.Regs[i]
		ip.byName[r.Name] = r
		if _, dup := ip.byOffset[r.Offset]; !dup {
			ip.byOffset[r.Offset] = r
		}
	}
}

// Asic is one GPU: a set of IP blocks plus the register access path.
// Calls against the same Asic must be serialized by the caller.
type Asic struct {
	Name   string
	Blocks []*IPBlock
	Regs   hwaccess.RegAccess

	// IsAPU marks parts with carve-out VRAM, which changes aperture
	// handling during translation.
	IsAPU bool

	regCache *freelru.LRU[string, *Register]
}

// New builds an Asic from its IP blocks. The block list order is the
// lookup order for ambiguous register names.
func New(name string, regs hwaccess.RegAccess, blocks ...*IPBlock) (*Asic, error) {
	cache, err := freelru.New[string, *Register](regCacheSize, hashString)
	if err != nil {
		return nil, err
	}
	for _, ip := range blocks {
		ip.index()
	}
	return &Asic{
		Name:     name,
		Blocks:   blocks,
		Regs:     regs,
		regCache: cache,
	}, nil
}

// Block returns the first IP block with the given name, or nil.
func (a *Asic) Block(name string) *IPBlock {
	for _, ip := range a.Blocks {
		if ip.Name == name {
			return ip
		}
	}
	return nil
}

// GfxVersion returns the discovered version of the gfx block.
func (a *Asic) GfxVersion() libgfx.GfxVersion {
	if ip := a.Block("gfx"); ip != nil {
		return ip.Version
	}
	return libgfx.GfxVersion{}
}

// Generation returns the page-table layout generation of the gfx
// block.
func (a *Asic) Generation() libgfx.Generation {
	return libgfx.GenerationOf(a.GfxVersion())
}

// FindReg resolves a register by name across all IP blocks.
func (a *Asic) FindReg(name string) (*Register, error) {
	if r, ok := a.regCache.Get(name); ok {
		return r, nil
	}
	for _, ip := range a.Blocks {
		if r, ok := ip.byName[name]; ok {
			a.regCache.Add(name, r)
			return r, nil
		}
	}
	return nil, fmt.Errorf("register %q not found in any IP block", name)
}

// HasReg reports whether the register database knows the name.
func (a *Asic) HasReg(name string) bool {
	_, err := a.FindReg(name)
	return err == nil
}

// RegName maps a dword offset back to a register name, best effort.
// Unknown offsets render as a hex literal so stream decode can keep
// tracking the write.
func (a *Asic) RegName(offset uint32) string {
	for _, ip := range a.Blocks {
		if r, ok := ip.byOffset[offset]; ok {
			return r.Name
		}
	}
	return fmt.Sprintf("reg<0x%x>", offset)
}

// Read32 reads a register by name.
func (a *Asic) Read32(name string) (uint32, error) {
	r, err := a.FindReg(name)
	if err != nil {
		return 0, err
	}
	v, err := a.Regs.Read32(r.Offset)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

// Write32 writes a register by name.
func (a *Asic) Write32(name string, value uint32) error {
	r, err := a.FindReg(name)
	if err != nil {
		return err
	}
	if err := a.Regs.Write32(r.Offset, value); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// ReadField reads a register and extracts the named bitfield.
func (a *Asic) ReadField(name, field string) (uint32, error) {
	r, err := a.FindReg(name)
	if err != nil {
		return 0, err
	}
	v, err := a.Regs.Read32(r.Offset)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return r.Slice(v, field)
}

// SliceField extracts a bitfield of an already-read register value.
func (a *Asic) SliceField(name, field string, value uint32) (uint32, error) {
	r, err := a.FindReg(name)
	if err != nil {
		return 0, err
	}
	return r.Slice(value, field)
}
