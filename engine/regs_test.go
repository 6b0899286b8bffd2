// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestRegsStore(t *testing.T) {
	var r Regs
	r.Store32(3, 0xdeadbeef)
	if got := r.Load32(3); got != 0xdeadbeef {
		t.Fatalf("Load32 = %#x, want 0xdeadbeef", got)
	}
	// A one-byte store must zero the rest of the register word.
	r.Store8(3, 1)
	if got := r.Load32(3); got != 1 {
		t.Fatalf("Load32 after Store8 = %#x, want 1", got)
	}
}

func TestParseRegister(t *testing.T) {
	tests := []struct {
		wire    uint32
		want    int
		wantErr bool
	}{
		{unix.NFT_REG32_00, 0, false},
		{unix.NFT_REG32_15, 15, false},
		{unix.NFT_REG32_00 + 7, 7, false},
		{unix.NFT_REG_VERDICT, 0, true},
		{unix.NFT_REG_1, 0, true}, // legacy 128-bit register numbering
		{unix.NFT_REG32_15 + 1, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRegister(tt.wire)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseRegister(%d) err = %v, wantErr %v", tt.wire, err, tt.wantErr)
		}
		if err != nil {
			continue
		}
		if got != tt.want {
			t.Fatalf("ParseRegister(%d) = %d, want %d", tt.wire, got, tt.want)
		}
		if back := DumpRegister(got); back != tt.wire {
			t.Fatalf("DumpRegister(%d) = %d, want %d", got, back, tt.wire)
		}
	}
}

func TestValidateRegisterStore(t *testing.T) {
	tests := []struct {
		reg, width int
		wantErr    bool
	}{
		{0, 1, false},
		{15, 4, false},
		{-1, 4, true},
		{16, 4, true},
		{0, 0, true},
		{0, 5, true},
	}
	for _, tt := range tests {
		err := ValidateRegisterStore(tt.reg, tt.width)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateRegisterStore(%d, %d) = %v, wantErr %v",
				tt.reg, tt.width, err, tt.wantErr)
		}
	}
}

func TestVerdictString(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{VerdictContinue, "Continue"},
		{VerdictBreak, "Break"},
		{VerdictDrop, "Drop"},
		{VerdictAccept, "Accept"},
		{Verdict(42), "???"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Fatalf("%d.String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}
