// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUMSCHPktLen(t *testing.T) {
	// type1 API packets are padded to a fixed 64-dword frame
	assert.Equal(t, 64, umschPktLen(1|umschSetHWResources<<4))
	assert.Equal(t, 64, umschPktLen(1|umschUpdateRootPageTable<<4))
	// unknown opcodes and non-API types fall back to the short frame
	assert.Equal(t, 4, umschPktLen(1|0x80<<4))
	assert.Equal(t, 4, umschPktLen(0))
}

func TestDecodeUMSCH(t *testing.T) {
	words := make([]uint32, 68)
	words[0] = 1 | umschSuspendGang<<4 | 63<<12
	words[1] = 0x42 // gang context
	words[64] = 0   // short frame

	d := NewDecoder(newFakeDevice(), Options{})
	s, err := d.DecodeBuffer(FormatUMSCH, 0, 0x100, words)
	require.NoError(t, err)
	assert.False(t, s.Truncated)

	n := s.Head
	assert.Equal(t, uint32(umschSuspendGang), n.Opcode)
	assert.Equal(t, uint8(1), n.PktType)
	assert.Equal(t, uint32(63), n.NWords)
	assert.Len(t, n.Words, 63)
	assert.Equal(t, uint32(0x42), n.Words[0])

	n = n.Next
	require.NotNil(t, n)
	assert.Equal(t, uint64(64), n.Offset)
	assert.Len(t, n.Words, 3)
	assert.Nil(t, n.Next)
}

func TestDecodeUMSCHTruncated(t *testing.T) {
	words := make([]uint32, 10)
	words[0] = 1 | umschSetScheduling<<4

	d := NewDecoder(newFakeDevice(), Options{})
	s, err := d.DecodeBuffer(FormatUMSCH, 0, 0, words)
	require.NoError(t, err)
	assert.True(t, s.Truncated)
	assert.Nil(t, s.Head)
}
