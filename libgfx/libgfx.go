// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

// Package libgfx holds the small value types shared by the hardware
// access, translation and stream decoding packages.
package libgfx // import "github.com/gpudbg/gpudbg/libgfx"

import "fmt"

// VMID identifies a virtual memory context (0-15). VMID 0 carries the
// System Access Mode special cases.
type VMID uint8

// Hub selects the translation domain an address belongs to.
type Hub uint8

const (
	// HubGfx is the graphics engine hub, addresses are virtual.
	HubGfx Hub = iota
	// HubMM is the multimedia engine hub, addresses are virtual.
	HubMM
	// HubMMVC0 and HubMMVC1 are the per-VC multimedia hubs found on
	// Vega-era server parts.
	HubMMVC0
	HubMMVC1
	// HubLinear addresses are physical VRAM offsets, no translation.
	HubLinear
	// HubProcess addresses refer to the debugger's own memory.
	HubProcess
)

func (h Hub) String() string {
	switch h {
	case HubGfx:
		return "gfx"
	case HubMM:
		return "mmhub"
	case HubMMVC0:
		return "mmhub_vc0"
	case HubMMVC1:
		return "mmhub_vc1"
	case HubLinear:
		return "linear"
	case HubProcess:
		return "process"
	}
	return fmt.Sprintf("hub(%d)", uint8(h))
}

// GfxVersion is the discovered version of the gfx IP block.
type GfxVersion struct {
	Major uint32
	Minor uint32
}

func (v GfxVersion) String() string {
	return fmt.Sprintf("gfx%d.%d", v.Major, v.Minor)
}

// Generation collapses GfxVersion into the closed set of page-table
// entry layouts the decoders understand.
type Generation uint8

const (
	// GenUnknown is returned for versions with no decoder tables.
	GenUnknown Generation = iota
	// GenLegacy covers GFX8 and older (40-bit entries, depth 0 or 1).
	GenLegacy
	GenV9
	GenV10
	// GenV10_3 is GFX10.3+ which grows the LLC no-alloc bit.
	GenV10_3
	GenV11
	GenV12
)

func (g Generation) String() string {
	switch g {
	case GenLegacy:
		return "legacy"
	case GenV9:
		return "gfx9"
	case GenV10:
		return "gfx10"
	case GenV10_3:
		return "gfx10.3"
	case GenV11:
		return "gfx11"
	case GenV12:
		return "gfx12"
	}
	return "unknown"
}

// GenerationOf maps a gfx IP version onto its entry-layout generation.
func GenerationOf(v GfxVersion) Generation {
	switch v.Major {
	case 6, 7, 8:
		return GenLegacy
	case 9:
		return GenV9
	case 10:
		if v.Minor >= 3 {
			return GenV10_3
		}
		return GenV10
	case 11:
		return GenV11
	case 12:
		return GenV12
	}
	return GenUnknown
}
