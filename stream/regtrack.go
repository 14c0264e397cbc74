// Copyright The GPUdbg Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"sort"
	"strings"

	"github.com/gpudbg/gpudbg/libgfx"
)

// RegWrite records one programmed register: its resolved name, the
// value written, and where in the stream the write happened.
type RegWrite struct {
	Name   string
	Value  uint32
	VMID   libgfx.VMID
	IBAddr uint64
}

// Tracker accumulates register writes observed while decoding a
// stream. A later write to the same register name replaces the
// earlier value, so the tracker always holds the state in effect at
// the current packet.
type Tracker struct {
	writes []RegWrite
	index  map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{index: make(map[string]int)}
}

// Set records a write, replacing any previous value for name.
func (t *Tracker) Set(name string, value uint32, vmid libgfx.VMID, ibAddr uint64) {
	if i, ok := t.index[name]; ok {
		t.writes[i] = RegWrite{Name: name, Value: value, VMID: vmid, IBAddr: ibAddr}
		return
	}
	t.index[name] = len(t.writes)
	t.writes = append(t.writes, RegWrite{Name: name, Value: value, VMID: vmid, IBAddr: ibAddr})
}

// Lookup returns the current value of the first tracked register
// whose name ends in suffix. Stream decoders match on suffixes since
// register names carry per-ASIC block prefixes.
func (t *Tracker) Lookup(suffix string) (RegWrite, bool) {
	for _, w := range t.writes {
		if strings.HasSuffix(w.Name, suffix) {
			return w, true
		}
	}
	return RegWrite{}, false
}

// Frozen returns a sorted-by-name snapshot of the tracked state,
// suitable for attaching to a shader program.
func (t *Tracker) Frozen() []RegWrite {
	out := make([]RegWrite, len(t.writes))
	copy(out, t.writes)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
