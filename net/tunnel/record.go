// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package tunnel

import (
	"sync/atomic"
)

// Record is the packet-attachable form of a Key. It is built once, by
// the owning tunnel object, and is immutable from then on: attaching it
// to a packet only takes another reference, never copies or mutates.
// That immutability is what makes concurrent attachment from many
// packet-processing goroutines safe without locking.
//
// A Record starts with one reference, owned by its creator. Every
// packet that attaches it holds another. The record stays valid until
// the last reference is released, so in-flight packets outlive the
// destruction of the object that built the record.
type Record struct {
	key      Key
	opts     [maxOptsLen]byte
	optsLen  int
	optsFlag Flags
	refs     atomic.Int32
}

// NewRecord builds a Record from k. The key is copied; the options
// payload, if any, is serialized into the record's backing buffer with
// the length and kind flag of the decoded variant.
func NewRecord(k *Key) *Record {
	r := &Record{key: *k}
	r.refs.Store(1)
	if k.Options != nil {
		r.setOptions(k.Options)
	}
	return r
}

// setOptions stores o's payload into the record. The length and flag
// tag always come from the variant itself, so they cannot disagree
// with the payload.
func (r *Record) setOptions(o Options) {
	r.optsLen = o.Len()
	r.optsFlag = o.Flag()
	o.put(r.opts[:r.optsLen])
	r.key.Flags |= o.Flag()
}

// Key returns the record's tunnel key.
// This is a read-only view; callers must not mutate it.
func (r *Record) Key() *Key { return &r.key }

// TX reports whether the metadata was built for outbound encapsulation.
func (r *Record) TX() bool { return r.key.Mode&ModeTX != 0 }

// OptsPayload returns the serialized options payload, empty when the
// key carries no options.
// This is a read-only view; callers must not mutate it.
func (r *Record) OptsPayload() []byte { return r.opts[:r.optsLen] }

// OptsFlag returns the option kind flag of the stored payload, zero
// when the key carries no options.
func (r *Record) OptsFlag() Flags { return r.optsFlag }

// Retain takes an additional reference and returns r for chaining.
func (r *Record) Retain() *Record {
	if r.refs.Add(1) <= 1 {
		panic("tunnel: Retain of released Record")
	}
	return r
}

// Release drops one reference. The record must not be used again by
// the caller after Release returns.
func (r *Record) Release() {
	if r.refs.Add(-1) < 0 {
		panic("tunnel: Release of released Record")
	}
}
