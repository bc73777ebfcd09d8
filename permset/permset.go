// Package permset implements PermSet (component C7): a sorted
// parallel-array permission store keyed by RUID, with an 8-bit
// capability flag per entry.
package permset

import (
	"sort"

	"github.com/vdstore/vd/ruid"
)

// Capability flag bits, most-significant first.
const (
	Visible uint8 = 1 << 7
	Read    uint8 = 1 << 6
	Write   uint8 = 1 << 5
	Modify  uint8 = 1 << 4
	Edit    uint8 = 1 << 3
	Delete  uint8 = 1 << 2
	Copy    uint8 = 1 << 1
	Move    uint8 = 1 << 0
)

var orderedCapabilities = []uint8{Visible, Read, Write, Modify, Edit, Delete, Copy, Move}

// GenerateFlag ORs together the given capability bits into one flag
// byte.
func GenerateFlag(caps ...uint8) uint8 {
	var f uint8
	for _, c := range caps {
		f |= c
	}
	return f
}

// FromFlag enumerates the capability bits set in f, most-significant
// first.
func FromFlag(f uint8) []uint8 {
	var out []uint8
	for _, c := range orderedCapabilities {
		if f&c != 0 {
			out = append(out, c)
		}
	}
	return out
}

// Entry is one (RUID, flags) pair returned by Iter.
type Entry struct {
	RUID  ruid.RUID
	Flags uint8
}

// PermSet is a sorted parallel-array permission store. The zero value
// is an empty, usable set.
type PermSet struct {
	ruids []ruid.RUID
	flags []uint8
}

func less(a, b ruid.RUID) bool {
	ab, bb := a.Bytes(), b.Bytes()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return false
}

func (p *PermSet) search(r ruid.RUID) (int, bool) {
	i := sort.Search(len(p.ruids), func(i int) bool { return !less(p.ruids[i], r) })
	if i < len(p.ruids) && p.ruids[i] == r {
		return i, true
	}
	return i, false
}

// Get returns the flags for r and whether r is present.
func (p *PermSet) Get(r ruid.RUID) (uint8, bool) {
	i, ok := p.search(r)
	if !ok {
		return 0, false
	}
	return p.flags[i], true
}

// Add inserts (r, flags) at sorted position, overwriting flags if r is
// already present.
func (p *PermSet) Add(r ruid.RUID, flags uint8) {
	i, ok := p.search(r)
	if ok {
		p.flags[i] = flags
		return
	}
	p.ruids = append(p.ruids, ruid.RUID{})
	copy(p.ruids[i+1:], p.ruids[i:])
	p.ruids[i] = r

	p.flags = append(p.flags, 0)
	copy(p.flags[i+1:], p.flags[i:])
	p.flags[i] = flags
}

// Remove deletes r if present, returning its prior flags.
func (p *PermSet) Remove(r ruid.RUID) (uint8, bool) {
	i, ok := p.search(r)
	if !ok {
		return 0, false
	}
	flags := p.flags[i]
	p.ruids = append(p.ruids[:i], p.ruids[i+1:]...)
	p.flags = append(p.flags[:i], p.flags[i+1:]...)
	return flags, true
}

// Contains reports whether r is present.
func (p *PermSet) Contains(r ruid.RUID) bool {
	_, ok := p.search(r)
	return ok
}

// Len reports the number of entries.
func (p *PermSet) Len() int { return len(p.ruids) }

// Iter returns every (ruid, flags) pair in sorted order.
func (p *PermSet) Iter() []Entry {
	out := make([]Entry, len(p.ruids))
	for i := range p.ruids {
		out[i] = Entry{RUID: p.ruids[i], Flags: p.flags[i]}
	}
	return out
}
