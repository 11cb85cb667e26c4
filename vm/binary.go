package vm

import (
	"encoding/binary"
	"math"
)

const (
	binaryMagic   uint32 = 0x43303A29
	binaryVersion uint32 = 0x00000001
)

// reader walks a byte buffer big-endian, producing the exact InvalidFile
// messages the original binary loader does on truncation.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, invalidFile("incomplete binary file")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, invalidFile("incomplete binary file")
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, invalidFile("incomplete binary file")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) f64() (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, invalidFile("invalid binary file: incomplete double constant")
	}
	bits := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

func (r *reader) bytes(n int) (string, error) {
	if r.pos+n > len(r.buf) {
		return "", invalidFile("invalid binary file: incomplete string constant")
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *reader) instruction() (Instruction, error) {
	var ins Instruction
	opByte, err := r.byte()
	if err != nil {
		return ins, err
	}
	ins.Op = Opcode(opByte)
	if !ins.Op.Valid() {
		return ins, invalidFile("invalid binary file: invalid opcode")
	}
	sizes := ParamSizes(ins.Op)
	if len(sizes) > 0 {
		x, err := r.operand(sizes[0])
		if err != nil {
			return ins, err
		}
		ins.X = x
	}
	if len(sizes) > 1 {
		y, err := r.operand(sizes[1])
		if err != nil {
			return ins, err
		}
		ins.Y = y
	}
	return ins, nil
}

func (r *reader) operand(width int) (uint32, error) {
	switch width {
	case 1:
		b, err := r.byte()
		return uint32(b), err
	case 2:
		v, err := r.u16()
		return uint32(v), err
	default:
		return r.u32()
	}
}

func (r *reader) instructions() ([]Instruction, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]Instruction, count)
	for i := range out {
		ins, err := r.instruction()
		if err != nil {
			return nil, err
		}
		out[i] = ins
	}
	return out, nil
}

// DecodeBinary parses a binary program image per the container layout:
// magic(4) version(4) constants... start... functions... with every
// multi-byte field big-endian and no trailing bytes permitted.
func DecodeBinary(data []byte) (*Program, error) {
	r := &reader{buf: data}

	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != binaryMagic {
		return nil, invalidFile("invalid binary file: invalid magic")
	}

	version, err := r.u32()
	if err != nil {
		return nil, err
	}
	if version != binaryVersion {
		return nil, invalidFile("invalid binary file: unsupported version %d", version)
	}

	constCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	consts := make([]Constant, constCount)
	for i := range consts {
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch ConstantKind(tag) {
		case ConstString:
			length, err := r.u16()
			if err != nil {
				return nil, err
			}
			s, err := r.bytes(int(length))
			if err != nil {
				return nil, err
			}
			consts[i] = StringConstant(s)
		case ConstInt:
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			consts[i] = IntConstant(int32(v))
		case ConstDouble:
			v, err := r.f64()
			if err != nil {
				return nil, err
			}
			consts[i] = DoubleConstant(v)
		default:
			return nil, invalidFile("invalid binary file: invalid constant type")
		}
	}

	start, err := r.instructions()
	if err != nil {
		return nil, err
	}

	fnCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	fns := make([]Function, fnCount)
	mainFound := false
	for i := range fns {
		nameIndex, err := r.u16()
		if err != nil {
			return nil, err
		}
		if int(nameIndex) >= len(consts) || consts[nameIndex].Kind != ConstString {
			return nil, invalidFile("invalid binary file: function name not found")
		}
		if consts[nameIndex].Str == "main" {
			mainFound = true
		}
		paramSize, err := r.u16()
		if err != nil {
			return nil, err
		}
		level, err := r.u16()
		if err != nil {
			return nil, err
		}
		code, err := r.instructions()
		if err != nil {
			return nil, err
		}
		fns[i] = Function{NameIndex: nameIndex, ParamSize: paramSize, Level: level, Code: code}
	}
	if !mainFound {
		return nil, invalidFile("invalid binary file: main() not found")
	}

	if r.pos != len(data) {
		return nil, invalidFile("invalid binary file: unused content")
	}

	prog := &Program{Constants: consts, Start: start, Functions: fns}
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	return prog, nil
}

// writer accumulates big-endian bytes for EncodeBinary.
type writer struct {
	buf []byte
}

func (w *writer) byte(b byte)     { w.buf = append(w.buf, b) }
func (w *writer) u16(v uint16)    { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32)    { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) f64(v float64)   { w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v)) }
func (w *writer) raw(s string)    { w.buf = append(w.buf, s...) }

func (w *writer) operand(width int, v uint32) {
	switch width {
	case 1:
		w.byte(byte(v))
	case 2:
		w.u16(uint16(v))
	default:
		w.u32(v)
	}
}

func (w *writer) instruction(ins Instruction) {
	w.byte(byte(ins.Op))
	sizes := ParamSizes(ins.Op)
	if len(sizes) > 0 {
		w.operand(sizes[0], ins.X)
	}
	if len(sizes) > 1 {
		w.operand(sizes[1], ins.Y)
	}
}

func (w *writer) instructions(code []Instruction) {
	w.u16(uint16(len(code)))
	for _, ins := range code {
		w.instruction(ins)
	}
}

// EncodeBinary renders a Program as the big-endian binary container
// DecodeBinary reads back.
func EncodeBinary(p *Program) []byte {
	w := &writer{}
	w.u32(binaryMagic)
	w.u32(binaryVersion)

	w.u16(uint16(len(p.Constants)))
	for _, c := range p.Constants {
		switch c.Kind {
		case ConstString:
			w.byte(byte(ConstString))
			w.u16(uint16(len(c.Str)))
			w.raw(c.Str)
		case ConstInt:
			w.byte(byte(ConstInt))
			w.u32(uint32(c.Int))
		case ConstDouble:
			w.byte(byte(ConstDouble))
			w.f64(c.Double)
		}
	}

	w.instructions(p.Start)

	w.u16(uint16(len(p.Functions)))
	for _, fn := range p.Functions {
		w.u16(fn.NameIndex)
		w.u16(fn.ParamSize)
		w.u16(fn.Level)
		w.instructions(fn.Code)
	}

	return w.buf
}
