package vm

import (
	"fmt"
	"math"
)

// execute runs a single instruction. It is the only place opcode
// semantics live; Run's loop just calls this once per step.
func (m *Machine) execute(ins Instruction) error {
	switch ins.Op {
	case Nop:
		return nil

	case Bipush:
		return m.mem.pushSlot(int32(int8(ins.X)))
	case Ipush:
		return m.mem.pushSlot(int32(ins.X))

	case Pop:
		return m.mem.decSP(1)
	case Pop2:
		return m.mem.decSP(2)
	case Popn:
		return m.mem.decSP(ins.X)

	case Dup:
		return m.mem.dup()
	case Dup2:
		return m.mem.dup2()

	case Loadc:
		return m.loadc(ins.X)
	case Loada:
		return m.loada(uint16(ins.X), ins.Y)

	case NewOp:
		return m.newOp()
	case Snew:
		return m.mem.incSP(ins.X)

	case Iload:
		return m.tload()
	case Dload:
		return m.tloadDouble()
	case Aload:
		return m.tload()
	case Iaload:
		return m.taload(1)
	case Daload:
		return m.taloadDouble()
	case Aaload:
		return m.taload(1)

	case Istore:
		return m.tstore()
	case Dstore:
		return m.tstoreDouble()
	case Astore:
		return m.tstore()
	case Iastore:
		return m.tastore(1)
	case Dastore:
		return m.tastoreDouble()
	case Aastore:
		return m.tastore(1)

	case Iadd:
		return m.iarith(func(a, b int32) int32 { return a + b })
	case Dadd:
		return m.darith(func(a, b float64) float64 { return a + b })
	case Isub:
		return m.iarith(func(a, b int32) int32 { return a - b })
	case Dsub:
		return m.darith(func(a, b float64) float64 { return a - b })
	case Imul:
		return m.iarith(func(a, b int32) int32 { return a * b })
	case Dmul:
		return m.darith(func(a, b float64) float64 { return a * b })
	case Idiv:
		return m.idiv()
	case Ddiv:
		return m.darith(func(a, b float64) float64 { return a / b })
	case Ineg:
		return m.ineg()
	case Dneg:
		return m.dneg()

	case Icmp:
		return m.icmp()
	case Dcmp:
		return m.dcmp()

	case I2d:
		return m.i2d()
	case D2i:
		return m.d2i()
	case I2c:
		return m.i2c()

	case Jmp:
		return m.jump(ins.X)
	case Je:
		return m.jumpIf(func(c int32) bool { return c == 0 }, ins.X)
	case Jne:
		return m.jumpIf(func(c int32) bool { return c != 0 }, ins.X)
	case Jl:
		return m.jumpIf(func(c int32) bool { return c < 0 }, ins.X)
	case Jge:
		return m.jumpIf(func(c int32) bool { return c >= 0 }, ins.X)
	case Jg:
		return m.jumpIf(func(c int32) bool { return c > 0 }, ins.X)
	case Jle:
		return m.jumpIf(func(c int32) bool { return c <= 0 }, ins.X)

	case Call:
		return m.call(uint16(ins.X))
	case Ret:
		return m.ret()
	case Iret:
		return m.tret()
	case Dret:
		return m.tretDouble()
	case Aret:
		return m.tret()

	case Iprint:
		v, err := m.mem.popSlot()
		if err != nil {
			return err
		}
		m.stdout.WriteString(formatInt(v))
		return nil
	case Dprint:
		v, err := m.mem.popDouble()
		if err != nil {
			return err
		}
		m.stdout.WriteString(formatDouble(v))
		return nil
	case Cprint:
		v, err := m.mem.popSlot()
		if err != nil {
			return err
		}
		m.stdout.WriteByte(byte(v))
		return nil
	case Sprint:
		return m.sprint()
	case Printl:
		m.stdout.WriteByte('\n')
		return nil

	case Iscan:
		return m.iscan()
	case Dscan:
		return m.dscan()
	case Cscan:
		return m.cscan()
	}

	return InvalidInstruction{}
}

func (m *Machine) loadc(index uint32) error {
	c := m.prog.Constants[index]
	switch c.Kind {
	case ConstString:
		return m.mem.pushAddr(m.stringPool[uint16(index)])
	case ConstInt:
		return m.mem.pushSlot(c.Int)
	default:
		return m.mem.pushDouble(c.Double)
	}
}

func (m *Machine) loada(levelDiff uint16, offset uint32) error {
	link := len(m.contexts) - 1
	for i := uint16(0); i < levelDiff; i++ {
		link = m.contexts[link].staticLink
	}
	bp := m.contexts[link].bp
	return m.mem.pushAddr(bp + offset)
}

func (m *Machine) newOp() error {
	count, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	addr, err := m.mem.alloc(uint32(count))
	if err != nil {
		return err
	}
	return m.mem.pushAddr(addr)
}

func (m *Machine) tload() error {
	addr, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	v, err := m.mem.readSlot(addr)
	if err != nil {
		return err
	}
	return m.mem.pushSlot(v)
}

func (m *Machine) tloadDouble() error {
	addr, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	v, err := m.mem.readDouble(addr)
	if err != nil {
		return err
	}
	return m.mem.pushDouble(v)
}

func (m *Machine) taload(slots uint32) error {
	index, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	base, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	v, err := m.mem.readSlot(base + slots*index)
	if err != nil {
		return err
	}
	return m.mem.pushSlot(v)
}

func (m *Machine) taloadDouble() error {
	index, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	base, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	v, err := m.mem.readDouble(base + 2*index)
	if err != nil {
		return err
	}
	return m.mem.pushDouble(v)
}

func (m *Machine) tstore() error {
	value, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	addr, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	return m.mem.writeSlot(addr, value)
}

func (m *Machine) tstoreDouble() error {
	value, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	addr, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	return m.mem.writeDouble(addr, value)
}

func (m *Machine) tastore(slots uint32) error {
	value, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	index, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	base, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	return m.mem.writeSlot(base+slots*index, value)
}

func (m *Machine) tastoreDouble() error {
	value, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	index, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	base, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	return m.mem.writeDouble(base+2*index, value)
}

func (m *Machine) iarith(op func(a, b int32) int32) error {
	rhs, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	lhs, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	return m.mem.pushSlot(op(lhs, rhs))
}

func (m *Machine) darith(op func(a, b float64) float64) error {
	rhs, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	lhs, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	return m.mem.pushDouble(op(lhs, rhs))
}

func (m *Machine) idiv() error {
	rhs, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	lhs, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	if rhs == 0 {
		return DivideByZero{}
	}
	return m.mem.pushSlot(lhs / rhs)
}

func (m *Machine) ineg() error {
	v, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	return m.mem.pushSlot(-v)
}

func (m *Machine) dneg() error {
	v, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	return m.mem.pushDouble(-v)
}

func (m *Machine) icmp() error {
	rhs, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	lhs, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	return m.mem.pushSlot(compare(lhs, rhs))
}

func (m *Machine) dcmp() error {
	rhs, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	lhs, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	if math.IsNaN(lhs) || math.IsNaN(rhs) {
		return m.mem.pushSlot(0)
	}
	if math.IsInf(lhs, 0) && math.IsInf(rhs, 0) && lhs*rhs > 0 {
		return m.mem.pushSlot(0)
	}
	switch {
	case lhs > rhs:
		return m.mem.pushSlot(1)
	case lhs < rhs:
		return m.mem.pushSlot(-1)
	default:
		return m.mem.pushSlot(0)
	}
}

func compare[T int32 | float64](lhs, rhs T) int32 {
	switch {
	case lhs > rhs:
		return 1
	case lhs < rhs:
		return -1
	default:
		return 0
	}
}

func (m *Machine) i2d() error {
	v, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	return m.mem.pushDouble(float64(v))
}

func (m *Machine) d2i() error {
	v, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	return m.mem.pushSlot(int32(v))
}

func (m *Machine) i2c() error {
	v, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	return m.mem.pushSlot(v & 0xff)
}

func (m *Machine) jump(offset uint32) error {
	target := uint16(offset)
	if uint32(target) >= uint32(len(m.curCode)) {
		return InvalidControlTransfer{}
	}
	m.ip = uint32(target) - 1
	return nil
}

func (m *Machine) jumpIf(cond func(int32) bool, offset uint32) error {
	v, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	if cond(v) {
		return m.jump(offset)
	}
	return nil
}

func (m *Machine) call(index uint16) error {
	if int(index) >= len(m.prog.Functions) {
		return InvalidControlTransfer{}
	}
	fn := &m.prog.Functions[index]

	link, err := resolveStaticLink(m.contexts, fn.Level)
	if err != nil {
		return err
	}

	if err := m.mem.ensureStackUsed(uint32(fn.ParamSize)); err != nil {
		return err
	}
	newBP := m.mem.sp - uint32(fn.ParamSize)

	frame := context{
		prevIP:        m.ip,
		prevSP:        newBP,
		prevBP:        m.mem.bp,
		bp:            newBP,
		staticLink:    link,
		functionIndex: int(index),
		functionName:  fn.Name(m.prog.Constants),
		functionLevel: fn.Level,
	}
	m.mem.bp = newBP
	m.contexts = append(m.contexts, frame)
	m.curCode = fn.Code
	m.ip = ^uint32(0) // -1, the loop's ip++ brings it to 0
	return nil
}

func (m *Machine) ret() error {
	if len(m.contexts) <= 1 {
		return InvalidControlTransfer{}
	}
	top := m.contexts[len(m.contexts)-1]
	m.mem.sp = top.prevSP
	m.mem.bp = top.prevBP
	m.ip = top.prevIP
	m.contexts = m.contexts[:len(m.contexts)-1]

	if len(m.contexts) != 1 {
		caller := m.contexts[len(m.contexts)-1]
		m.curCode = m.prog.Functions[caller.functionIndex].Code
	} else {
		m.curCode = m.startCode
	}
	return nil
}

func (m *Machine) tret() error {
	v, err := m.mem.popSlot()
	if err != nil {
		return err
	}
	if err := m.ret(); err != nil {
		return err
	}
	return m.mem.pushSlot(v)
}

func (m *Machine) tretDouble() error {
	v, err := m.mem.popDouble()
	if err != nil {
		return err
	}
	if err := m.ret(); err != nil {
		return err
	}
	return m.mem.pushDouble(v)
}

func (m *Machine) sprint() error {
	addr, err := m.mem.popAddr()
	if err != nil {
		return err
	}
	for {
		v, err := m.mem.readSlot(addr)
		if err != nil {
			return err
		}
		ch := byte(v) & 0xff
		if ch == 0 {
			return nil
		}
		m.stdout.WriteByte(ch)
		addr++
	}
}

func (m *Machine) iscan() error {
	var v int32
	if _, err := fmt.Fscan(m.stdin, &v); err != nil {
		return IOError{}
	}
	return m.mem.pushSlot(v)
}

func (m *Machine) dscan() error {
	var v float64
	if _, err := fmt.Fscan(m.stdin, &v); err != nil {
		return IOError{}
	}
	return m.mem.pushDouble(v)
}

func (m *Machine) cscan() error {
	ch, err := readNonSpaceByte(m.stdin)
	if err != nil {
		return IOError{}
	}
	return m.mem.pushSlot(int32(ch))
}
