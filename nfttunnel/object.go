// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package nfttunnel

import (
	"github.com/gonft/gonft/engine"
	"github.com/gonft/gonft/net/packet"
	"github.com/gonft/gonft/net/tunnel"
)

// Object is the stateful tunnel object. It holds exactly one
// reference-counted tunnel metadata record, built once at
// configuration time, and attaches that record to every packet it
// evaluates. The record is immutable after construction; packets only
// ever share references to it.
type Object struct {
	rec *tunnel.Record
}

// NewObject decodes a tunnel key configuration and builds the cached
// record. Decoding forces TX mode and the default control flags. On
// any error nothing is published; there is no partially built object.
func NewObject(conf []byte) (*Object, error) {
	k, err := tunnel.ParseKey(conf)
	if err != nil {
		return nil, err
	}
	return &Object{rec: tunnel.NewRecord(k)}, nil
}

func newEngineObject(conf []byte) (engine.Object, error) {
	return NewObject(conf)
}

// Record returns the object's cached record.
// This is a read-only view; the object keeps its own reference.
func (o *Object) Record() *tunnel.Record {
	return o.rec
}

// Eval attaches the object's record to q, unconditionally replacing
// (and releasing) whatever tunnel metadata the packet held before.
func (o *Object) Eval(q *packet.Parsed) {
	q.AttachTunnel(o.rec)
}

// Dump re-serializes the object's tunnel key configuration. reset is
// accepted for interface symmetry; the object carries no resettable
// counters, so it has no effect on the output.
func (o *Object) Dump(reset bool) ([]byte, error) {
	return o.rec.Key().Marshal()
}

// Destroy releases the object's own reference to its record. Packets
// still holding references keep the record alive until they complete.
func (o *Object) Destroy() {
	o.rec.Release()
}
