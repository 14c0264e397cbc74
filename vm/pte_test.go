// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gpudbg/gpudbg/libgfx"
)

func TestDecodePTE(t *testing.T) {
	tests := []struct {
		name string
		raw  uint64
		gen  libgfx.Generation
		want PTEFields
	}{
		{
			name: "v9 plain leaf",
			raw:  0x400000 | 1<<6 | 1<<5 | 1,
			gen:  libgfx.GenV9,
			want: PTEFields{PageBase: 0x400000, Valid: true, Read: true, Write: true},
		},
		{
			name: "v9 system tmz fragment",
			raw:  0x400000 | uint64(4)<<7 | 1<<3 | 1<<1 | 1,
			gen:  libgfx.GenV9,
			want: PTEFields{PageBase: 0x400000, Fragment: 4, TMZ: true,
				System: true, Valid: true},
		},
		{
			name: "v9 prt",
			raw:  1 << 51,
			gen:  libgfx.GenV9,
			want: PTEFields{PRT: true},
		},
		{
			// A further entry points at another table, so it keeps
			// the finer 64-byte alignment.
			name: "v9 further keeps pde alignment",
			raw:  0x4000C0 | 1<<56 | 1,
			gen:  libgfx.GenV9,
			want: PTEFields{PageBase: 0x4000C0, Fragment: 1, Further: true, Valid: true},
		},
		{
			name: "v9 mtype",
			raw:  uint64(3)<<57 | 1,
			gen:  libgfx.GenV9,
			want: PTEFields{MType: 3, Valid: true},
		},
		{
			name: "v10 gcr and mtype",
			raw:  0x400000 | 1<<57 | uint64(2)<<48 | 1,
			gen:  libgfx.GenV10,
			want: PTEFields{PageBase: 0x400000, GCR: true, MType: 2, Valid: true},
		},
		{
			name: "v10.3 llc noalloc",
			raw:  0x400000 | 1<<58 | 1,
			gen:  libgfx.GenV10_3,
			want: PTEFields{PageBase: 0x400000, LLCNoAlloc: true, Valid: true},
		},
		{
			name: "v11 software bits",
			raw:  0x400000 | uint64(3)<<52 | 1,
			gen:  libgfx.GenV11,
			want: PTEFields{PageBase: 0x400000, Software: 3, Valid: true},
		},
		{
			// On GFX12 the role bit is inverted: PTE set means leaf.
			name: "v12 leaf",
			raw:  0x400000 | 1<<63 | 1,
			gen:  libgfx.GenV12,
			want: PTEFields{PageBase: 0x400000, PTE: true, Valid: true},
		},
		{
			name: "v12 directory role keeps pde alignment",
			raw:  0x4000C0 | 1,
			gen:  libgfx.GenV12,
			want: PTEFields{PageBase: 0x4000C0, Fragment: 1, Valid: true},
		},
		{
			name: "v12 dcc prt mtype",
			raw:  0x400000 | 1<<63 | 1<<58 | 1<<56 | uint64(2)<<54 | 1,
			gen:  libgfx.GenV12,
			want: PTEFields{PageBase: 0x400000, PTE: true, DCC: true, PRT: true,
				MType: 2, Valid: true},
		},
		{
			name: "unknown generation decodes to zero",
			raw:  ^uint64(0),
			gen:  libgfx.GenUnknown,
			want: PTEFields{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodePTE(tt.raw, tt.gen))
		})
	}
}

func TestActsAsPDE(t *testing.T) {
	// Pre-GFX12 Further means descend.
	f := DecodePTE(0x400000|1<<56|1, libgfx.GenV9)
	assert.True(t, f.ActsAsPDE(libgfx.GenV9))
	f = DecodePTE(0x400000|1, libgfx.GenV9)
	assert.False(t, f.ActsAsPDE(libgfx.GenV9))

	// GFX12 inverted the sense: a cleared role bit means descend.
	f = DecodePTE(0x400000|1, libgfx.GenV12)
	assert.True(t, f.ActsAsPDE(libgfx.GenV12))
	f = DecodePTE(0x400000|1<<63|1, libgfx.GenV12)
	assert.False(t, f.ActsAsPDE(libgfx.GenV12))

	// Invalid entries never descend.
	f = DecodePTE(0x400000, libgfx.GenV12)
	assert.False(t, f.ActsAsPDE(libgfx.GenV12))
}
