// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package packet

import (
	"net/netip"
	"testing"

	"github.com/gonft/gonft/net/tunnel"
)

// udp4 builds a minimal IPv4 UDP packet.
func udp4(src, dst [4]byte, sport, dport uint16) []byte {
	b := make([]byte, ip4HeaderLength+udpHeaderLength)
	b[0] = 0x45 // version 4, header length 20
	b[9] = byte(UDP)
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
	b[20] = byte(sport >> 8)
	b[21] = byte(sport)
	b[22] = byte(dport >> 8)
	b[23] = byte(dport)
	return b
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		b         []byte
		wantProto IPProto
		wantSrc   string
		wantPort  uint16
	}{
		{
			"udp4",
			udp4([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1234, 4789),
			UDP, "10.0.0.1", 1234,
		},
		{
			"short",
			[]byte{0x45, 0, 0},
			Unknown, "", 0,
		},
		{
			"empty",
			nil,
			Unknown, "", 0,
		},
		{
			"bogus version",
			make([]byte, 40),
			Unknown, "", 0,
		},
		{
			// IHL 15 claims 60 header bytes in a 20-byte buffer.
			"ihl past buffer",
			func() []byte {
				b := udp4([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1, 2)
				b = b[:ip4HeaderLength]
				b[0] = 0x4F
				return b
			}(),
			Unknown, "", 0,
		},
		{
			// IHL 4 is below the fixed header size.
			"ihl too small",
			func() []byte {
				b := udp4([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1, 2)
				b[0] = 0x44
				return b
			}(),
			Unknown, "", 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Parsed
			q.Decode(tt.b)
			if q.IPProto != tt.wantProto {
				t.Fatalf("IPProto = %v, want %v", q.IPProto, tt.wantProto)
			}
			if tt.wantSrc != "" && q.SrcIP != netip.MustParseAddr(tt.wantSrc) {
				t.Fatalf("SrcIP = %v, want %v", q.SrcIP, tt.wantSrc)
			}
			if q.SrcPort != tt.wantPort {
				t.Fatalf("SrcPort = %d, want %d", q.SrcPort, tt.wantPort)
			}
		})
	}
}

func TestDecodeFragment(t *testing.T) {
	b := udp4([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1, 2)
	b[6] = 0x00
	b[7] = 0x10 // fragment offset 16
	var q Parsed
	q.Decode(b)
	if q.IPProto != Fragment {
		t.Fatalf("IPProto = %v, want Fragment", q.IPProto)
	}
}

func TestDecode6(t *testing.T) {
	b := make([]byte, ip6HeaderLength+tcpHeaderLength)
	b[0] = 0x60
	b[6] = byte(TCP)
	b[8+15] = 1  // src ::1
	b[24+15] = 2 // dst ::2
	b[40] = 0x01
	b[41] = 0xbb // sport 443
	var q Parsed
	q.Decode(b)
	if q.IPProto != TCP || q.IPVersion != 6 {
		t.Fatalf("got %v v%d, want TCP v6", q.IPProto, q.IPVersion)
	}
	if q.SrcIP != netip.MustParseAddr("::1") || q.DstIP != netip.MustParseAddr("::2") {
		t.Fatalf("addrs = %v > %v", q.SrcIP, q.DstIP)
	}
	if q.SrcPort != 443 {
		t.Fatalf("SrcPort = %d, want 443", q.SrcPort)
	}
}

func testRecord(t *testing.T, id tunnel.ID) *tunnel.Record {
	t.Helper()
	return tunnel.NewRecord(&tunnel.Key{
		ID:       id,
		Underlay: tunnel.UnderlayV4(netip.Addr{}, netip.MustParseAddr("10.0.0.1")),
		TTL:      255,
		Flags:    tunnel.FlagKey | tunnel.FlagChecksum | tunnel.FlagNoCache,
		Mode:     tunnel.ModeTX,
	})
}

func TestTunnelAttachReplace(t *testing.T) {
	r1 := testRecord(t, 1)
	r2 := testRecord(t, 2)

	var q Parsed
	if q.TunnelInfo() != nil {
		t.Fatal("fresh packet has tunnel metadata")
	}
	q.AttachTunnel(r1)
	if got := q.TunnelInfo(); got != r1 {
		t.Fatalf("TunnelInfo = %p, want %p", got, r1)
	}
	// Replacing must release the reference on r1.
	q.AttachTunnel(r2)
	if got := q.TunnelInfo(); got != r2 {
		t.Fatalf("TunnelInfo = %p, want %p", got, r2)
	}

	// r1 is back to its creator's single reference.
	r1.Release()
	mustPanic(t, "retain of freed r1", func() { r1.Retain() })

	q.ReleaseTunnel()
	if q.TunnelInfo() != nil {
		t.Fatal("metadata still attached after ReleaseTunnel")
	}
	q.ReleaseTunnel() // no-op on a bare packet
	r2.Release()
	mustPanic(t, "retain of freed r2", func() { r2.Retain() })
}

func mustPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: did not panic", name)
		}
	}()
	f()
}
