// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package tunnel contains the canonical in-memory representation of a
// tunnel identity (Key), its netlink attribute codec, and the
// reference-counted Record form that gets attached to packets.
package tunnel

import (
	"net/netip"

	"github.com/google/nftables/binaryutil"
)

// ID is a 64-bit tunnel identifier. On the wire the identifier is a
// 32-bit key; it is widened into the low 32 bits of the ID and narrowed
// back with Wire32. The mapping must stay exact in both directions so
// that dumped configurations reload to the same identifier.
type ID uint64

// Wire32 returns the 32-bit wire form of the identifier.
func (id ID) Wire32() uint32 { return uint32(id) }

// IDFromWire32 widens a 32-bit wire key into an ID.
func IDFromWire32(v uint32) ID { return ID(v) }

// Mode describes how tunnel metadata relates to the packet carrying it.
type Mode uint8

const (
	// ModeTX marks metadata built for outbound encapsulation. Metadata
	// observed on decapsulated ingress traffic does not carry it.
	ModeTX Mode = 1 << iota
	// ModeIPv6 marks metadata whose underlay addressing is IPv6.
	ModeIPv6
)

// Flags is the internal tunnel control flag bitset. The values are the
// ip_tunnel flag bits so that records interoperate with encapsulation
// output paths that speak that vocabulary.
type Flags uint16

const (
	FlagChecksum     Flags = 0x0001 // compute outer transport checksum
	FlagKey          Flags = 0x0004 // identifier is meaningful
	FlagSequence     Flags = 0x0008 // carry sequence numbers
	FlagDontFragment Flags = 0x0100 // set DF on the underlay header
	FlagVXLANOpt     Flags = 0x1000 // options payload is VXLAN metadata
	FlagNoCache      Flags = 0x2000 // bypass route caching
	FlagERSPANOpt    Flags = 0x4000 // options payload is ERSPAN metadata
)

// ConfigFlags is the external boolean-flag vocabulary used in
// configuration trees. It translates to and from the internal Flags
// bitset: ZeroCsumTX clears FlagChecksum (which defaults on), the other
// two are additive.
type ConfigFlags uint32

const (
	ConfigFlagZeroCsumTX ConfigFlags = 1 << iota
	ConfigFlagDontFragment
	ConfigFlagSeqNumber

	configFlagMask = ConfigFlagZeroCsumTX | ConfigFlagDontFragment | ConfigFlagSeqNumber
)

// Underlay is the outer-header addressing carrying the encapsulated
// packet. Exactly one address family is in use, indicated by V6; the
// UnderlayV4/UnderlayV6 constructors keep the tag and the addresses
// agreeing. Dst is mandatory; a zero Src means unspecified.
type Underlay struct {
	V6        bool
	Src, Dst  netip.Addr
	FlowLabel uint32 // IPv6 only
}

// UnderlayV4 returns an IPv4 underlay. An invalid src is replaced with
// the unspecified address.
func UnderlayV4(src, dst netip.Addr) Underlay {
	if !src.IsValid() {
		src = netip.IPv4Unspecified()
	}
	return Underlay{Src: src, Dst: dst}
}

// UnderlayV6 returns an IPv6 underlay. An invalid src is replaced with
// the unspecified address.
func UnderlayV6(src, dst netip.Addr, flowLabel uint32) Underlay {
	if !src.IsValid() {
		src = netip.IPv6Unspecified()
	}
	return Underlay{V6: true, Src: src, Dst: dst, FlowLabel: flowLabel}
}

// Options is the encapsulation-specific options variant carried by a
// Key. A nil Options means no options. Implementations are sealed: the
// variant itself is the discriminant, so the option kind flag and the
// payload can never disagree.
type Options interface {
	// Flag returns the internal flag bit identifying the option kind.
	Flag() Flags
	// Len returns the option payload length in bytes.
	Len() int

	// put serializes the payload into b, which must be Len() bytes.
	put(b []byte)
}

const (
	vxlanOptsLen  = 4
	erspanOptsLen = 8

	// maxOptsLen is the payload size of the largest options variant; a
	// Record's backing buffer is sized to it.
	maxOptsLen = erspanOptsLen
)

// VXLANOptions carries the VXLAN group policy identifier.
type VXLANOptions struct {
	GBP uint32
}

func (VXLANOptions) Flag() Flags { return FlagVXLANOpt }
func (VXLANOptions) Len() int    { return vxlanOptsLen }

func (o VXLANOptions) put(b []byte) {
	copy(b, binaryutil.BigEndian.PutUint32(o.GBP))
}

// ERSPAN metadata versions.
const (
	ERSPANVersion1 = 1
	ERSPANVersion2 = 2
)

const (
	erspanHWIDMask = 0x7f // 7 significant bits
	erspanDirMask  = 0x01 // 1 significant bit
)

// ERSPANOptions carries ERSPAN mirror metadata. Version selects which
// of the remaining fields are meaningful: Index for version 1, HWID and
// Dir for version 2.
type ERSPANOptions struct {
	Version uint8
	Index   uint32 // version 1
	HWID    uint8  // version 2, low 7 bits
	Dir     uint8  // version 2, 0 ingress / 1 egress
}

func (ERSPANOptions) Flag() Flags { return FlagERSPANOpt }
func (ERSPANOptions) Len() int    { return erspanOptsLen }

func (o ERSPANOptions) put(b []byte) {
	b[0] = o.Version
	switch o.Version {
	case ERSPANVersion1:
		copy(b[4:], binaryutil.BigEndian.PutUint32(o.Index))
	case ERSPANVersion2:
		b[4] = o.HWID & erspanHWIDMask
		b[5] = o.Dir & erspanDirMask
	}
}

// Key is the canonical tunnel identity held by a tunnel object or
// attached (via a Record) to a packet.
type Key struct {
	ID       ID
	Underlay Underlay
	SrcPort  uint16
	DstPort  uint16
	TOS      uint8
	TTL      uint8
	Flags    Flags
	Mode     Mode
	Options  Options
}

// IsV6 reports whether the key's underlay addressing is IPv6.
func (k *Key) IsV6() bool { return k.Mode&ModeIPv6 != 0 }

// configFlags translates the internal flag bitset back to the external
// vocabulary used by configuration trees.
func (k *Key) configFlags() ConfigFlags {
	var cf ConfigFlags
	if k.Flags&FlagDontFragment != 0 {
		cf |= ConfigFlagDontFragment
	}
	if k.Flags&FlagChecksum == 0 {
		cf |= ConfigFlagZeroCsumTX
	}
	if k.Flags&FlagSequence != 0 {
		cf |= ConfigFlagSeqNumber
	}
	return cf
}
