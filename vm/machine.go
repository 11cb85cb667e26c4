package vm

import (
	"bufio"
	"fmt"
	"io"
	"runtime/debug"
)

// Machine is one interpreter instance: an immutable Program plus the
// mutable state (memory region, call contexts, string literal pool)
// that Run advances one instruction at a time.
type Machine struct {
	prog *Program
	mem  *memory

	contexts  []context
	curCode   []Instruction
	startCode []Instruction
	ip        uint32

	stringPool map[uint16]uint32

	stdin  *bufio.Reader
	stdout *bufio.Writer

	maxSteps uint64
	steps    uint64
}

// Option configures a Machine at construction time.
type Option func(*Machine)

// WithStdio sets the channels iscan/dscan/cscan and
// iprint/dprint/cprint/sprint/printl use. New requires it; there is no
// default. Tests use this to drive the VM against in-memory buffers.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(m *Machine) {
		m.stdin = bufio.NewReader(in)
		m.stdout = bufio.NewWriter(out)
	}
}

// WithMaxSteps bounds the number of instructions Run will execute before
// giving up with InvalidControlTransfer, guarding test fixtures (and any
// embedder) against runaway recursion. 0 (the default) means unbounded,
// matching the original machine's behavior.
func WithMaxSteps(n uint64) Option {
	return func(m *Machine) { m.maxSteps = n }
}

// New builds a Machine ready to run prog. prog must already have passed
// Validate (Decode/Assemble both call it). New appends the start-of-day
// "snew main.paramSize; call mainIndex" sequence to the start block,
// exactly as the loader does before the first instruction ever runs.
func New(prog *Program, opts ...Option) *Machine {
	m := &Machine{
		prog: prog,
		mem:  newMemory(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.stdin == nil || m.stdout == nil {
		panic("vm.New: WithStdio is required")
	}

	start := make([]Instruction, len(prog.Start), len(prog.Start)+2)
	copy(start, prog.Start)
	mainFn := prog.Functions[prog.MainIndex]
	start = append(start,
		Instruction{Op: Snew, X: uint32(mainFn.ParamSize)},
		Instruction{Op: Call, X: uint32(prog.MainIndex)},
	)
	m.curCode = start
	m.startCode = start
	m.contexts = []context{rootContext()}

	return m
}

// Run executes the amended start block to completion (or until a
// runtime fault or the optional step budget is hit). A fault is caught
// exactly once, at this level: the stack trace is written to errOut and
// Run returns normally (it is the caller's job — the CLI — to decide
// what process exit status that implies; the machine itself never
// aborts on a runtime fault, per contract).
func (m *Machine) Run(errOut io.Writer) error {
	defer debug.SetGCPercent(debug.SetGCPercent(-1))

	err := m.buildStringLiteralPool()
	if err == nil {
		err = m.loop()
	}
	m.stdout.Flush()
	if err != nil {
		fmt.Fprintf(errOut, "runtime error: %s occurred at:\n", err)
		m.printStackTrace(errOut)
	}
	return err
}

func (m *Machine) loop() error {
	for m.ip < uint32(len(m.curCode)) {
		if m.maxSteps != 0 {
			m.steps++
			if m.steps > m.maxSteps {
				return InvalidControlTransfer{}
			}
		}
		if err := m.execute(m.curCode[m.ip]); err != nil {
			return err
		}
		m.ip++
	}
	if len(m.contexts) != 1 {
		return InvalidControlTransfer{}
	}
	return nil
}

func (m *Machine) buildStringLiteralPool() error {
	m.stringPool = make(map[uint16]uint32)
	for i, c := range m.prog.Constants {
		if c.Kind != ConstString {
			continue
		}
		addr, err := m.mem.alloc(uint32(len(c.Str) + 1))
		if err != nil {
			// The pool is built before any instruction runs and every
			// program's constant pool is bounded to 2^16-1 entries of
			// bounded string length, so this only triggers on a
			// pathologically huge constants section — report it the
			// same way any other heap exhaustion is reported.
			return err
		}
		for j := 0; j < len(c.Str); j++ {
			m.mem.heap[addr-minHeapAddr+uint32(j)] = int32(c.Str[j])
		}
		m.mem.heap[addr-minHeapAddr+uint32(len(c.Str))] = 0
		m.stringPool[uint16(i)] = addr
	}
	return nil
}

func (m *Machine) currentFunctionName() string {
	return m.contexts[len(m.contexts)-1].functionName
}

// printStackTrace renders the fault location plus each enclosing call
// frame, walking prevIP back to the root __START__ frame.
func (m *Machine) printStackTrace(out io.Writer) {
	if len(m.contexts) == 0 {
		return
	}
	top := m.contexts[len(m.contexts)-1]
	if m.ip < uint32(len(m.curCode)) {
		fmt.Fprintf(out, "          function %s at instruction %d: %s\n", top.functionName, m.ip, formatInstruction(m.curCode[m.ip]))
	} else {
		fmt.Fprintf(out, "          control reaches the end of function %s without return\n", top.functionName)
	}

	pc := top.prevIP
	for i := len(m.contexts) - 2; i >= 0; i-- {
		frame := m.contexts[i]
		if frame.functionIndex == -1 {
			fmt.Fprintf(out, "called by .start at instruction %d: %s\n", pc, formatInstruction(m.startCode[pc]))
			return
		}
		fn := m.prog.Functions[frame.functionIndex]
		fmt.Fprintf(out, "called by function %s at instruction %d: %s\n", frame.functionName, pc, formatInstruction(fn.Code[pc]))
		pc = frame.prevIP
	}
}
