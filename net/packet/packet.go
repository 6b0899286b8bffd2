// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package packet provides a minimal decoding of a packet suitable for
// use in the rule engine, plus the tunnel metadata attachment point
// that the tunnel extension reads and writes.
package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/gonft/gonft/net/tunnel"
)

const (
	ip4HeaderLength = 20
	ip6HeaderLength = 40
	tcpHeaderLength = 20
	udpHeaderLength = 8
)

var (
	get16 = binary.BigEndian.Uint16
)

// IPProto is an IP subprotocol as defined by the IANA protocol
// numbers list, plus a pseudo value for decode outcomes.
type IPProto uint8

const (
	Unknown IPProto = 0
	ICMP4   IPProto = 1
	TCP     IPProto = 6
	UDP     IPProto = 17
	ICMP6   IPProto = 58

	// Fragment is a pseudo value for a non-initial IPv4 fragment,
	// whose transport header is unavailable.
	Fragment IPProto = 0xff
)

func (p IPProto) String() string {
	switch p {
	case ICMP4:
		return "ICMPv4"
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	case ICMP6:
		return "ICMPv6"
	case Fragment:
		return "Frag"
	default:
		return "Unknown"
	}
}

// Parsed is a minimal decoding of a packet.
//
// It extracts only the subprotocol, addresses and ports needed by the
// rule engine, without allocating. Tunnel metadata attached to the
// packet rides alongside the decoded fields; see TunnelInfo.
type Parsed struct {
	// b is the byte buffer that this decodes.
	b []byte
	// subofs is the offset of the IP subprotocol.
	subofs int

	IPVersion uint8   // 4, 6, or 0
	IPProto   IPProto // IP subprotocol; the NextHeader field for IPv6
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16 // TCP/UDP source port
	DstPort   uint16 // TCP/UDP destination port

	// tun is the attached tunnel metadata, nil when none is
	// attached. It holds one reference on the record.
	tun *tunnel.Record
}

func (q *Parsed) String() string {
	if q.IPVersion != 4 && q.IPVersion != 6 {
		return "Unknown{???}"
	}
	return fmt.Sprintf("%s{%s:%d > %s:%d}",
		q.IPProto, q.SrcIP, q.SrcPort, q.DstIP, q.DstPort)
}

// Decode extracts data from the packet in b into q.
// It performs extremely simple decoding for basic IPv4 and IPv6
// packet types, and shouldn't need any memory allocation.
func (q *Parsed) Decode(b []byte) {
	q.b = b
	q.SrcPort = 0
	q.DstPort = 0

	if len(b) < 1 {
		q.IPVersion = 0
		q.IPProto = Unknown
		return
	}
	switch b[0] >> 4 {
	case 4:
		q.decode4(b)
	case 6:
		q.decode6(b)
	default:
		q.IPVersion = 0
		q.IPProto = Unknown
	}
}

func (q *Parsed) decode4(b []byte) {
	q.IPVersion = 4
	if len(b) < ip4HeaderLength {
		q.IPProto = Unknown
		return
	}
	q.IPProto = IPProto(b[9])
	q.SrcIP = netip.AddrFrom4([4]byte(b[12:16]))
	q.DstIP = netip.AddrFrom4([4]byte(b[16:20]))
	q.subofs = int((b[0] & 0x0F) << 2)
	if q.subofs < ip4HeaderLength || q.subofs > len(b) {
		// Bogus IHL: shorter than the fixed header, or claiming
		// options the buffer does not contain.
		q.IPProto = Unknown
		return
	}

	fragFlags := get16(b[6:8])
	if fragOfs := fragFlags & 0x1FFF; fragOfs != 0 {
		// Non-initial fragment; no transport header to read.
		q.IPProto = Fragment
		return
	}
	q.decodeSub(b[q.subofs:])
}

func (q *Parsed) decode6(b []byte) {
	q.IPVersion = 6
	if len(b) < ip6HeaderLength {
		q.IPProto = Unknown
		return
	}
	q.IPProto = IPProto(b[6])
	q.SrcIP = netip.AddrFrom16([16]byte(b[8:24]))
	q.DstIP = netip.AddrFrom16([16]byte(b[24:40]))
	q.subofs = ip6HeaderLength
	q.decodeSub(b[q.subofs:])
}

func (q *Parsed) decodeSub(sub []byte) {
	switch q.IPProto {
	case TCP:
		if len(sub) < tcpHeaderLength {
			q.IPProto = Unknown
			return
		}
		q.SrcPort = get16(sub[0:2])
		q.DstPort = get16(sub[2:4])
	case UDP:
		if len(sub) < udpHeaderLength {
			q.IPProto = Unknown
			return
		}
		q.SrcPort = get16(sub[0:2])
		q.DstPort = get16(sub[2:4])
	case ICMP4, ICMP6:
		// no ports
	default:
		q.IPProto = Unknown
	}
}

// Buffer returns the entire packet buffer.
// This is a read-only view; that is, q retains the ownership of the buffer.
func (q *Parsed) Buffer() []byte {
	return q.b
}
