// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package tunnel

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/mdlayher/netlink"
)

// Attribute types of the tunnel key configuration tree, following the
// nf_tables netlink ABI numbering. Scalar values are big-endian on the
// wire except single bytes.
const (
	attrKeyIP    = 1
	attrKeyIP6   = 2
	attrKeyID    = 3
	attrKeyFlags = 4
	attrKeyTOS   = 5
	attrKeyTTL   = 6
	attrKeySport = 7
	attrKeyDport = 8
	attrKeyOpts  = 9

	attrIPSrc = 1
	attrIPDst = 2

	attrIP6Src       = 1
	attrIP6Dst       = 2
	attrIP6FlowLabel = 3

	attrOptsVXLAN  = 1
	attrOptsERSPAN = 2

	attrVXLANGBP = 1

	attrERSPANVersion = 1
	attrERSPANV1Index = 2
	attrERSPANV2HWID  = 3
	attrERSPANV2Dir   = 4
)

// defaultTTL is applied when a configuration omits the TTL attribute.
// Unset-means-max is deliberate underlay policy, not an omission.
const defaultTTL = 255

// ParseKey decodes a tunnel key configuration tree into a Key.
//
// The returned key is always TX-mode with FlagKey, FlagChecksum and
// FlagNoCache set, then adjusted by the flags attribute if present.
// TTL defaults to 255 and TOS to 0 when omitted. The decode is a pure
// transform; it either returns a fully populated key or an error.
func ParseKey(b []byte) (*Key, error) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = binary.BigEndian

	k := &Key{
		TTL:   defaultTTL,
		Flags: FlagKey | FlagChecksum | FlagNoCache,
		Mode:  ModeTX,
	}
	var haveID, haveV4, haveV6 bool
	for ad.Next() {
		switch ad.Type() {
		case attrKeyID:
			k.ID = IDFromWire32(ad.Uint32())
			haveID = true
		case attrKeyIP:
			haveV4 = true
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				u, err := parseUnderlay4(nad)
				if err != nil {
					return err
				}
				k.Underlay = u
				return nil
			})
		case attrKeyIP6:
			haveV6 = true
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				u, err := parseUnderlay6(nad)
				if err != nil {
					return err
				}
				k.Underlay = u
				k.Mode |= ModeIPv6
				return nil
			})
		case attrKeySport:
			k.SrcPort = ad.Uint16()
		case attrKeyDport:
			k.DstPort = ad.Uint16()
		case attrKeyFlags:
			cf := ConfigFlags(ad.Uint32())
			if cf&^configFlagMask != 0 {
				return nil, fmt.Errorf("flags %#x: %w", uint32(cf), ErrUnsupported)
			}
			if cf&ConfigFlagZeroCsumTX != 0 {
				k.Flags &^= FlagChecksum
			}
			if cf&ConfigFlagDontFragment != 0 {
				k.Flags |= FlagDontFragment
			}
			if cf&ConfigFlagSeqNumber != 0 {
				k.Flags |= FlagSequence
			}
		case attrKeyTOS:
			k.TOS = ad.Uint8()
		case attrKeyTTL:
			k.TTL = ad.Uint8()
		case attrKeyOpts:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				o, err := parseOptions(nad)
				if err != nil {
					return err
				}
				k.Options = o
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}

	if !haveID {
		return nil, fmt.Errorf("tunnel id: %w", ErrMissingAttr)
	}
	switch {
	case haveV4 && haveV6:
		return nil, fmt.Errorf("both IPv4 and IPv6 underlay: %w", ErrUnsupported)
	case !haveV4 && !haveV6:
		return nil, fmt.Errorf("underlay: %w", ErrMissingAttr)
	}
	return k, nil
}

func parseUnderlay4(ad *netlink.AttributeDecoder) (Underlay, error) {
	ad.ByteOrder = binary.BigEndian
	var src, dst netip.Addr
	for ad.Next() {
		switch ad.Type() {
		case attrIPSrc:
			a, err := parseAddr4(ad.Bytes())
			if err != nil {
				return Underlay{}, err
			}
			src = a
		case attrIPDst:
			a, err := parseAddr4(ad.Bytes())
			if err != nil {
				return Underlay{}, err
			}
			dst = a
		}
	}
	if err := ad.Err(); err != nil {
		return Underlay{}, err
	}
	if !dst.IsValid() {
		return Underlay{}, fmt.Errorf("IPv4 underlay dst: %w", ErrMissingAttr)
	}
	return UnderlayV4(src, dst), nil
}

func parseUnderlay6(ad *netlink.AttributeDecoder) (Underlay, error) {
	ad.ByteOrder = binary.BigEndian
	var (
		src, dst  netip.Addr
		flowLabel uint32
	)
	for ad.Next() {
		switch ad.Type() {
		case attrIP6Src:
			a, err := parseAddr6(ad.Bytes())
			if err != nil {
				return Underlay{}, err
			}
			src = a
		case attrIP6Dst:
			a, err := parseAddr6(ad.Bytes())
			if err != nil {
				return Underlay{}, err
			}
			dst = a
		case attrIP6FlowLabel:
			flowLabel = ad.Uint32()
		}
	}
	if err := ad.Err(); err != nil {
		return Underlay{}, err
	}
	if !dst.IsValid() {
		return Underlay{}, fmt.Errorf("IPv6 underlay dst: %w", ErrMissingAttr)
	}
	return UnderlayV6(src, dst, flowLabel), nil
}

func parseAddr4(b []byte) (netip.Addr, error) {
	if len(b) != 4 {
		return netip.Addr{}, fmt.Errorf("IPv4 address of %d bytes: %w", len(b), ErrUnsupported)
	}
	return netip.AddrFrom4([4]byte(b)), nil
}

func parseAddr6(b []byte) (netip.Addr, error) {
	if len(b) != 16 {
		return netip.Addr{}, fmt.Errorf("IPv6 address of %d bytes: %w", len(b), ErrUnsupported)
	}
	return netip.AddrFrom16([16]byte(b)), nil
}

// parseOptions decodes the options sub-tree, which must carry exactly
// one of a VXLAN or an ERSPAN nested description.
func parseOptions(ad *netlink.AttributeDecoder) (Options, error) {
	ad.ByteOrder = binary.BigEndian
	var (
		opts     Options
		haveKind bool
	)
	for ad.Next() {
		switch ad.Type() {
		case attrOptsVXLAN:
			if haveKind {
				return nil, fmt.Errorf("multiple option kinds: %w", ErrUnsupported)
			}
			haveKind = true
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				o, err := parseVXLANOptions(nad)
				if err != nil {
					return err
				}
				opts = o
				return nil
			})
		case attrOptsERSPAN:
			if haveKind {
				return nil, fmt.Errorf("multiple option kinds: %w", ErrUnsupported)
			}
			haveKind = true
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				o, err := parseERSPANOptions(nad)
				if err != nil {
					return err
				}
				opts = o
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	if !haveKind {
		return nil, fmt.Errorf("option kind: %w", ErrUnsupported)
	}
	return opts, nil
}

func parseVXLANOptions(ad *netlink.AttributeDecoder) (Options, error) {
	ad.ByteOrder = binary.BigEndian
	var (
		gbp     uint32
		haveGBP bool
	)
	for ad.Next() {
		if ad.Type() == attrVXLANGBP {
			gbp = ad.Uint32()
			haveGBP = true
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	if !haveGBP {
		return nil, fmt.Errorf("VXLAN group policy: %w", ErrMissingAttr)
	}
	return VXLANOptions{GBP: gbp}, nil
}

func parseERSPANOptions(ad *netlink.AttributeDecoder) (Options, error) {
	ad.ByteOrder = binary.BigEndian
	var (
		version           uint32
		index             uint32
		hwid, dir         uint8
		haveVersion       bool
		haveIndex         bool
		haveHWID, haveDir bool
	)
	for ad.Next() {
		switch ad.Type() {
		case attrERSPANVersion:
			version = ad.Uint32()
			haveVersion = true
		case attrERSPANV1Index:
			index = ad.Uint32()
			haveIndex = true
		case attrERSPANV2HWID:
			hwid = ad.Uint8()
			haveHWID = true
		case attrERSPANV2Dir:
			dir = ad.Uint8()
			haveDir = true
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	if !haveVersion {
		return nil, fmt.Errorf("ERSPAN version: %w", ErrMissingAttr)
	}
	switch version {
	case ERSPANVersion1:
		if !haveIndex {
			return nil, fmt.Errorf("ERSPAN v1 index: %w", ErrMissingAttr)
		}
		return ERSPANOptions{Version: ERSPANVersion1, Index: index}, nil
	case ERSPANVersion2:
		if !haveHWID || !haveDir {
			return nil, fmt.Errorf("ERSPAN v2 hwid/dir: %w", ErrMissingAttr)
		}
		return ERSPANOptions{
			Version: ERSPANVersion2,
			HWID:    hwid & erspanHWIDMask,
			Dir:     dir & erspanDirMask,
		}, nil
	default:
		return nil, fmt.Errorf("ERSPAN version %d: %w", version, ErrUnsupported)
	}
}

// Marshal encodes the key back into a configuration tree. It is the
// structural inverse of ParseKey: decoding the result yields a key
// equal to k. Fields that ParseKey defaulted (TTL, the checksum flag)
// come back as explicit values, so the round trip is value-equal, not
// attribute-presence-equal. The flags attribute is omitted when no
// external flag bit is set.
func (k *Key) Marshal() ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = binary.BigEndian

	ae.Uint32(attrKeyID, k.ID.Wire32())
	if k.IsV6() {
		ae.Nested(attrKeyIP6, func(nae *netlink.AttributeEncoder) error {
			nae.ByteOrder = binary.BigEndian
			src := k.Underlay.Src.As16()
			dst := k.Underlay.Dst.As16()
			nae.Bytes(attrIP6Src, src[:])
			nae.Bytes(attrIP6Dst, dst[:])
			nae.Uint32(attrIP6FlowLabel, k.Underlay.FlowLabel)
			return nil
		})
	} else {
		ae.Nested(attrKeyIP, func(nae *netlink.AttributeEncoder) error {
			nae.ByteOrder = binary.BigEndian
			src := k.Underlay.Src.As4()
			dst := k.Underlay.Dst.As4()
			nae.Bytes(attrIPSrc, src[:])
			nae.Bytes(attrIPDst, dst[:])
			return nil
		})
	}
	ae.Uint16(attrKeySport, k.SrcPort)
	ae.Uint16(attrKeyDport, k.DstPort)
	if cf := k.configFlags(); cf != 0 {
		ae.Uint32(attrKeyFlags, uint32(cf))
	}
	ae.Uint8(attrKeyTOS, k.TOS)
	ae.Uint8(attrKeyTTL, k.TTL)
	if k.Options != nil {
		ae.Nested(attrKeyOpts, marshalOptions(k.Options))
	}

	b, err := ae.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding tunnel key: %w", err)
	}
	return b, nil
}

func marshalOptions(o Options) func(*netlink.AttributeEncoder) error {
	return func(ae *netlink.AttributeEncoder) error {
		ae.ByteOrder = binary.BigEndian
		switch o := o.(type) {
		case VXLANOptions:
			ae.Nested(attrOptsVXLAN, func(nae *netlink.AttributeEncoder) error {
				nae.ByteOrder = binary.BigEndian
				nae.Uint32(attrVXLANGBP, o.GBP)
				return nil
			})
		case ERSPANOptions:
			ae.Nested(attrOptsERSPAN, func(nae *netlink.AttributeEncoder) error {
				nae.ByteOrder = binary.BigEndian
				nae.Uint32(attrERSPANVersion, uint32(o.Version))
				switch o.Version {
				case ERSPANVersion1:
					nae.Uint32(attrERSPANV1Index, o.Index)
				case ERSPANVersion2:
					nae.Uint8(attrERSPANV2HWID, o.HWID)
					nae.Uint8(attrERSPANV2Dir, o.Dir)
				}
				return nil
			})
		default:
			return fmt.Errorf("options %T: %w", o, ErrUnsupported)
		}
		return nil
	}
}
