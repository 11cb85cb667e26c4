// Package asm implements the textual assembler/disassembler for c0vm
// program images: the human-readable .constants/.start/.functions
// listing format that complements the binary container vm.DecodeBinary
// and vm.EncodeBinary read and write.
package asm

import (
	"fmt"
	"math"
	"strings"

	"c0vm/vm"
)

// Disassemble renders p as the three-section listing format. The
// output is always escaped (never raw control bytes) regardless of how
// the program was originally assembled.
func Disassemble(p *vm.Program) string {
	var b strings.Builder

	b.WriteString(".constants:\n")
	for i, c := range p.Constants {
		fmt.Fprintf(&b, "%d %s\n", i, formatConstant(c))
	}

	b.WriteString(".start:\n")
	for i, ins := range p.Start {
		fmt.Fprintf(&b, "%d %s\n", i, formatInstruction(ins))
	}

	b.WriteString(".functions:\n")
	names := make([]string, len(p.Functions))
	for i, fn := range p.Functions {
		name := fn.Name(p.Constants)
		names[i] = name
		fmt.Fprintf(&b, "%d %d %d %d # %s\n", i, fn.NameIndex, fn.ParamSize, fn.Level, name)
	}

	for i, fn := range p.Functions {
		fmt.Fprintf(&b, ".F%d: # %s\n", i, names[i])
		for j, ins := range fn.Code {
			fmt.Fprintf(&b, "%d %s\n", j, formatInstruction(ins))
		}
	}

	return b.String()
}

func formatConstant(c vm.Constant) string {
	switch c.Kind {
	case vm.ConstString:
		return fmt.Sprintf("S \"%s\"", escapeString(c.Str))
	case vm.ConstInt:
		return fmt.Sprintf("I 0x%X # %d", uint32(c.Int), c.Int)
	default:
		bits := math.Float64bits(c.Double)
		return fmt.Sprintf("D 0x%016X # %s", bits, formatScientific(c.Double))
	}
}

func formatScientific(v float64) string {
	// std::scientific's default precision is 6 significant digits after
	// the decimal point, matching %e's default in Go's fmt.
	return fmt.Sprintf("%e", v)
}

// escapeString renders \, ', ", #, \n, \r, \t, and any other non-printable
// byte as a \xHH hex escape. Everything else passes through verbatim.
func escapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' || ch == '\'' || ch == '"' || ch == '#' || ch == '\n' || ch == '\r' || ch == '\t':
			fmt.Fprintf(&b, "\\x%02X", ch)
		case ch < 0x20 || ch == 0x7f:
			fmt.Fprintf(&b, "\\x%02X", ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func formatInstruction(ins vm.Instruction) string {
	sizes := vm.ParamSizes(ins.Op)
	switch len(sizes) {
	case 0:
		return ins.Op.String()
	case 1:
		return fmt.Sprintf("%s %d", ins.Op, ins.X)
	default:
		return fmt.Sprintf("%s %d,%d", ins.Op, ins.X, ins.Y)
	}
}
