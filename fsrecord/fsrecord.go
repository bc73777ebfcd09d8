// Package fsrecord implements FSRecord (component C6): the
// filesystem-index record's in-memory shape, its on-disk codec, and
// minimal tree operations over a record's links.
package fsrecord

import (
	"encoding/binary"

	times "gopkg.in/djherbis/times.v1"

	"github.com/vdstore/vd/permset"
	"github.com/vdstore/vd/ruid"
	"github.com/vdstore/vd/vderr"
)

// Type enumerates the tagged record type flag.
type Type uint8

const (
	TypeFile Type = iota
	TypeDirectory
)

const (
	headerFixedLen = 1 + 7 + 16 + 16 + 8*4 + 8 + 2 // up to name_len
	maxNameLen     = 256
	linkEntryLen   = 16 + 16
	permEntryLen   = 16 + 1
)

// Link is one name-hash/target-RUID pair. Links are not owning
// references; resolution happens at lookup time via a separate arena,
// not an in-memory pointer.
type Link struct {
	Hash [16]byte
	RUID ruid.RUID
}

// Record is the in-memory shape of one filesystem-index entry.
type Record struct {
	Type        Type
	ParentRUID  ruid.RUID
	SelfRUID    ruid.RUID
	AccessTime  int64
	CreateTime  int64
	ModifyTime  int64
	ChangeTime  int64
	Name        string
	DataPointer uint64
	Links       []Link
	Perms       permset.PermSet
}

// EncodedLen returns the exact number of bytes Encode writes for r,
// before any block-alignment padding.
func (r *Record) EncodedLen() int {
	n := headerFixedLen + len(r.Name)
	n += 4 + len(r.Links)*linkEntryLen
	n += 4 + r.Perms.Len()*permEntryLen
	return n
}

// Encode writes r's on-disk form into buf, which must be at least
// r.EncodedLen() bytes. The caller is responsible for rounding the
// destination block up to a multiple of the container's block size
// and zero-padding the remainder.
func (r *Record) Encode(buf []byte) error {
	if len(r.Name) > maxNameLen {
		return vderr.New(vderr.Other, "fsrecord: name exceeds 256 bytes")
	}

	i := 0
	buf[i] = byte(r.Type)
	i++
	for j := 0; j < 7; j++ {
		buf[i+j] = 0
	}
	i += 7

	parentBytes := r.ParentRUID.Bytes()
	copy(buf[i:i+16], parentBytes[:])
	i += 16
	selfBytes := r.SelfRUID.Bytes()
	copy(buf[i:i+16], selfBytes[:])
	i += 16

	for _, ts := range []int64{r.AccessTime, r.CreateTime, r.ModifyTime, r.ChangeTime} {
		binary.LittleEndian.PutUint64(buf[i:i+8], uint64(ts))
		i += 8
	}

	binary.LittleEndian.PutUint64(buf[i:i+8], r.DataPointer)
	i += 8

	binary.LittleEndian.PutUint16(buf[i:i+2], uint16(len(r.Name)))
	i += 2
	copy(buf[i:i+len(r.Name)], r.Name)
	i += len(r.Name)

	binary.LittleEndian.PutUint32(buf[i:i+4], uint32(len(r.Links)))
	i += 4
	for _, l := range r.Links {
		copy(buf[i:i+16], l.Hash[:])
		i += 16
		lb := l.RUID.Bytes()
		copy(buf[i:i+16], lb[:])
		i += 16
	}

	entries := r.Perms.Iter()
	binary.LittleEndian.PutUint32(buf[i:i+4], uint32(len(entries)))
	i += 4
	for _, e := range entries {
		eb := e.RUID.Bytes()
		copy(buf[i:i+16], eb[:])
		i += 16
		buf[i] = e.Flags
		i++
	}

	return nil
}

// Decode parses a Record from buf, which must hold at least one fully
// encoded record (trailing zero padding is tolerated and ignored).
func Decode(buf []byte) (*Record, error) {
	if len(buf) < headerFixedLen {
		return nil, vderr.New(vderr.InvalidFormat, "fsrecord: buffer shorter than fixed header")
	}

	r := &Record{}
	i := 0
	r.Type = Type(buf[i])
	i++
	i += 7 // padding

	var parentBuf, selfBuf [16]byte
	copy(parentBuf[:], buf[i:i+16])
	r.ParentRUID = ruid.FromBytes(parentBuf)
	i += 16
	copy(selfBuf[:], buf[i:i+16])
	r.SelfRUID = ruid.FromBytes(selfBuf)
	i += 16

	ts := make([]int64, 4)
	for k := range ts {
		ts[k] = int64(binary.LittleEndian.Uint64(buf[i : i+8]))
		i += 8
	}
	r.AccessTime, r.CreateTime, r.ModifyTime, r.ChangeTime = ts[0], ts[1], ts[2], ts[3]

	r.DataPointer = binary.LittleEndian.Uint64(buf[i : i+8])
	i += 8

	nameLen := int(binary.LittleEndian.Uint16(buf[i : i+2]))
	i += 2
	if i+nameLen > len(buf) {
		return nil, vderr.New(vderr.InvalidFormat, "fsrecord: name exceeds buffer")
	}
	r.Name = string(buf[i : i+nameLen])
	i += nameLen

	if i+4 > len(buf) {
		return nil, vderr.New(vderr.InvalidFormat, "fsrecord: truncated link count")
	}
	linkCount := int(binary.LittleEndian.Uint32(buf[i : i+4]))
	i += 4
	r.Links = make([]Link, 0, linkCount)
	for k := 0; k < linkCount; k++ {
		if i+linkEntryLen > len(buf) {
			return nil, vderr.New(vderr.InvalidFormat, "fsrecord: truncated link entry")
		}
		var hash [16]byte
		copy(hash[:], buf[i:i+16])
		i += 16
		var target [16]byte
		copy(target[:], buf[i:i+16])
		i += 16
		r.Links = append(r.Links, Link{Hash: hash, RUID: ruid.FromBytes(target)})
	}

	if i+4 > len(buf) {
		return nil, vderr.New(vderr.InvalidFormat, "fsrecord: truncated perm count")
	}
	permCount := int(binary.LittleEndian.Uint32(buf[i : i+4]))
	i += 4
	for k := 0; k < permCount; k++ {
		if i+permEntryLen > len(buf) {
			return nil, vderr.New(vderr.InvalidFormat, "fsrecord: truncated perm entry")
		}
		var id [16]byte
		copy(id[:], buf[i:i+16])
		i += 16
		flag := buf[i]
		i++
		r.Perms.Add(ruid.FromBytes(id), flag)
	}

	return r, nil
}

// AddChild links childRUID into r under the given name hash: an
// existing link with the same hash gets childRUID as its new target,
// otherwise a new link is appended. This mirrors the source's "links
// are name-hash/RUID pairs, not owning references" design.
func (r *Record) AddChild(nameHash [16]byte, childRUID ruid.RUID) {
	for i := range r.Links {
		if r.Links[i].Hash == nameHash {
			r.Links[i].RUID = childRUID
			return
		}
	}
	r.Links = append(r.Links, Link{Hash: nameHash, RUID: childRUID})
}

// RemoveChild removes the link keyed by nameHash, reporting whether
// one was present.
func (r *Record) RemoveChild(nameHash [16]byte) bool {
	for i := range r.Links {
		if r.Links[i].Hash == nameHash {
			r.Links = append(r.Links[:i], r.Links[i+1:]...)
			return true
		}
	}
	return false
}

// Children returns every link currently attached to r.
func (r *Record) Children() []Link {
	return r.Links
}

// FromHostFile builds a Record's timestamp fields from an existing
// host file at path, using the most complete timestamp set the host
// filesystem exposes.
func FromHostFile(path string, typ Type, name string, parent, self ruid.RUID) (*Record, error) {
	t, err := times.Stat(path)
	if err != nil {
		return nil, vderr.Wrap(vderr.Other, "fsrecord: stat failed", err)
	}

	r := &Record{
		Type:       typ,
		ParentRUID: parent,
		SelfRUID:   self,
		Name:       name,
		AccessTime: t.AccessTime().Unix(),
		ModifyTime: t.ModTime().Unix(),
		ChangeTime: t.ModTime().Unix(),
	}
	if t.HasChangeTime() {
		r.ChangeTime = t.ChangeTime().Unix()
	}
	if t.HasBirthTime() {
		r.CreateTime = t.BirthTime().Unix()
	} else {
		r.CreateTime = r.ModifyTime
	}
	return r, nil
}
