package vm

import "fmt"

// formatInstruction renders a single instruction the way the
// disassembler and stack-trace printer both need: mnemonic plus however
// many operands its opcode declares.
func formatInstruction(ins Instruction) string {
	sizes := ParamSizes(ins.Op)
	switch len(sizes) {
	case 0:
		return ins.Op.String()
	case 1:
		return fmt.Sprintf("%s %d", ins.Op, ins.X)
	default:
		return fmt.Sprintf("%s %d,%d", ins.Op, ins.X, ins.Y)
	}
}

// Instruction is one decoded opcode plus its (up to two) operands. X and
// Y are always stored widened to uint32; the opcode's ParamSizes decide
// how many of them, and at what original width, are meaningful.
type Instruction struct {
	Op Opcode
	X  uint32
	Y  uint32
}

// Function is one entry of a program's function table.
type Function struct {
	NameIndex uint16
	ParamSize uint16
	Level     uint16
	Code      []Instruction
}

// Name resolves the function's display name from the constant pool. The
// caller is expected to have already validated NameIndex against consts.
func (f *Function) Name(consts []Constant) string {
	if int(f.NameIndex) >= len(consts) {
		return "?"
	}
	return consts[f.NameIndex].Str
}

// Program is a fully decoded, validated VM image: the constant pool, the
// top-level start block, and the function table.
type Program struct {
	Constants []Constant
	Start     []Instruction
	Functions []Function

	// MainIndex is resolved at validation time: the function table index
	// whose name constant is "main".
	MainIndex int
}

// Validate checks the structural invariants shared by every program
// source (binary-decoded or text-assembled): constant indices must
// resolve, every function's NameIndex must point at a STRING constant,
// and exactly one function must be named "main".
func (p *Program) Validate() error {
	for i, fn := range p.Functions {
		if int(fn.NameIndex) >= len(p.Constants) {
			return invalidFile("function %d: nameIndex %d out of range", i, fn.NameIndex)
		}
		if p.Constants[fn.NameIndex].Kind != ConstString {
			return invalidFile("function %d: nameIndex %d is not a string constant", i, fn.NameIndex)
		}
	}

	mainIdx := -1
	for i, fn := range p.Functions {
		if p.Constants[fn.NameIndex].Str == "main" {
			if mainIdx != -1 {
				return invalidFile("multiple functions named main")
			}
			mainIdx = i
		}
	}
	if mainIdx == -1 {
		return invalidFile("no function named main")
	}
	p.MainIndex = mainIdx

	if err := validateOperandIndices(p, p.Start); err != nil {
		return err
	}
	for i := range p.Functions {
		if err := validateOperandIndices(p, p.Functions[i].Code); err != nil {
			return invalidFile("function %d: %s", i, err)
		}
	}
	return nil
}

// validateOperandIndices checks the instruction-local invariants that
// don't need runtime state: loadc's constant index is in range, call's
// function index is in range, and jump/branch targets land inside the
// same code block.
func validateOperandIndices(p *Program, code []Instruction) error {
	for i, ins := range code {
		switch ins.Op {
		case Loadc:
			if int(ins.X) >= len(p.Constants) {
				return invalidFile("instruction %d: loadc constant index %d out of range", i, ins.X)
			}
		case Call:
			if int(ins.X) >= len(p.Functions) {
				return invalidFile("instruction %d: call function index %d out of range", i, ins.X)
			}
		case Jmp, Je, Jne, Jl, Jge, Jg, Jle:
			target := int(uint16(ins.X))
			if target >= len(code) {
				return invalidFile("instruction %d: jump target %d out of range", i, target)
			}
		}
	}
	return nil
}
