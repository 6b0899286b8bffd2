// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package tunnel

import (
	"bytes"
	"net/netip"
	"sync"
	"testing"
)

func testKey(o Options) *Key {
	return &Key{
		ID:       1,
		Underlay: UnderlayV4(netip.Addr{}, netip.MustParseAddr("10.0.0.1")),
		TTL:      255,
		Flags:    FlagKey | FlagChecksum | FlagNoCache,
		Mode:     ModeTX,
		Options:  o,
	}
}

func TestRecordOptionsPayload(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantFlag Flags
		want     []byte
	}{
		{"none", nil, 0, []byte{}},
		{"vxlan", VXLANOptions{GBP: 0x0102_0304}, FlagVXLANOpt, []byte{1, 2, 3, 4}},
		{"erspan v1", ERSPANOptions{Version: ERSPANVersion1, Index: 0x0a0b0c0d},
			FlagERSPANOpt, []byte{1, 0, 0, 0, 0x0a, 0x0b, 0x0c, 0x0d}},
		{"erspan v2", ERSPANOptions{Version: ERSPANVersion2, HWID: 0x3f, Dir: 1},
			FlagERSPANOpt, []byte{2, 0, 0, 0, 0x3f, 1, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord(testKey(tt.opts))
			if got := r.OptsFlag(); got != tt.wantFlag {
				t.Fatalf("OptsFlag = %#x, want %#x", got, tt.wantFlag)
			}
			if !bytes.Equal(r.OptsPayload(), tt.want) {
				t.Fatalf("OptsPayload = %v, want %v", r.OptsPayload(), tt.want)
			}
			if tt.opts != nil && r.Key().Flags&tt.wantFlag == 0 {
				t.Fatal("option kind flag not set on record key")
			}
		})
	}
}

func TestRecordRefCounting(t *testing.T) {
	r := NewRecord(testKey(nil))
	if got := r.refs.Load(); got != 1 {
		t.Fatalf("initial refs = %d, want 1", got)
	}
	r.Retain()
	r.Retain()
	if got := r.refs.Load(); got != 3 {
		t.Fatalf("refs = %d, want 3", got)
	}
	r.Release()
	r.Release()
	r.Release()
	if got := r.refs.Load(); got != 0 {
		t.Fatalf("refs = %d, want 0", got)
	}
}

func TestRecordRetainAfterFreePanics(t *testing.T) {
	r := NewRecord(testKey(nil))
	r.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("Retain on released record did not panic")
		}
	}()
	r.Retain()
}

func TestRecordConcurrentRetainRelease(t *testing.T) {
	const (
		goroutines = 8
		rounds     = 1000
	)
	r := NewRecord(testKey(nil))
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				r.Retain()
				if !r.TX() {
					t.Error("record not TX mode")
					return
				}
				r.Release()
			}
		}()
	}
	wg.Wait()
	if got := r.refs.Load(); got != 1 {
		t.Fatalf("refs = %d, want 1", got)
	}
	r.Release()
}

func TestRecordKeyIsCopied(t *testing.T) {
	k := testKey(nil)
	r := NewRecord(k)
	k.ID = 99
	if r.Key().ID != 1 {
		t.Fatalf("record key id = %d, want 1 (caller mutation leaked in)", r.Key().ID)
	}
}
