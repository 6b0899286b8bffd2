// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package packet

import "github.com/gonft/gonft/net/tunnel"

// TunnelInfo returns the tunnel metadata currently attached to the
// packet, or nil when none is attached. The returned record is shared;
// callers must not retain it past the packet's lifetime without taking
// their own reference.
func (q *Parsed) TunnelInfo() *tunnel.Record {
	return q.tun
}

// AttachTunnel replaces the packet's attached tunnel metadata with r,
// releasing the reference held on any previous attachment and taking a
// new reference on r. Attachment never copies or mutates the record.
func (q *Parsed) AttachTunnel(r *tunnel.Record) {
	old := q.tun
	q.tun = r.Retain()
	if old != nil {
		old.Release()
	}
}

// ReleaseTunnel drops the packet's tunnel metadata reference, if any.
// It must be called when processing of the packet completes.
func (q *Parsed) ReleaseTunnel() {
	if q.tun != nil {
		q.tun.Release()
		q.tun = nil
	}
}
