// Copyright (c) Gonft Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NumRegs is the number of 32-bit data registers in the evaluator.
const NumRegs = 16

// Verdict is the outcome of evaluating a rule or a pipeline.
type Verdict int

const (
	// VerdictContinue means keep evaluating the current rule.
	VerdictContinue Verdict = iota
	// VerdictBreak abandons the current rule without a match. It is a
	// normal control-flow outcome, not an error, and must never be
	// reported as a failure.
	VerdictBreak
	VerdictDrop
	VerdictAccept
)

func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "Continue"
	case VerdictBreak:
		return "Break"
	case VerdictDrop:
		return "Drop"
	case VerdictAccept:
		return "Accept"
	default:
		return "???"
	}
}

// Regs is the evaluator register file handed to each expression during
// rule evaluation, plus the verdict slot expressions signal through.
type Regs struct {
	Verdict Verdict
	data    [NumRegs]uint32
}

// Store8 writes a one-byte value into register reg, zeroing the rest
// of the register word.
func (r *Regs) Store8(reg int, v uint8) {
	r.data[reg] = uint32(v)
}

// Store32 writes a 32-bit value into register reg.
func (r *Regs) Store32(reg int, v uint32) {
	r.data[reg] = v
}

// Load32 returns the value of register reg.
func (r *Regs) Load32(reg int) uint32 {
	return r.data[reg]
}

// Break signals the evaluator to abandon the current rule.
func (r *Regs) Break() {
	r.Verdict = VerdictBreak
}

// ParseRegister translates a register number from the configuration
// wire numbering (NFT_REG32_00 based) to a data register index. The
// legacy 128-bit register numbers are not supported.
func ParseRegister(v uint32) (int, error) {
	if v < unix.NFT_REG32_00 || v > unix.NFT_REG32_15 {
		return 0, fmt.Errorf("register %d out of range", v)
	}
	return int(v - unix.NFT_REG32_00), nil
}

// DumpRegister translates a data register index back to the
// configuration wire numbering.
func DumpRegister(reg int) uint32 {
	return uint32(reg) + unix.NFT_REG32_00
}

// ValidateRegisterStore checks that a value of the given byte width
// can be stored into register reg.
func ValidateRegisterStore(reg, width int) error {
	if reg < 0 || reg >= NumRegs {
		return fmt.Errorf("register %d out of range", reg)
	}
	if width <= 0 || width > 4 {
		return fmt.Errorf("store of %d bytes does not fit a register", width)
	}
	return nil
}
