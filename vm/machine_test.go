package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runProgram(t *testing.T, p *Program, stdin string, opts ...Option) (stdout, stderr string, err error) {
	t.Helper()
	require.NoError(t, p.Validate())

	var outBuf, errBuf bytes.Buffer
	allOpts := append([]Option{WithStdio(strings.NewReader(stdin), &outBuf)}, opts...)
	m := New(p, allOpts...)
	runErr := m.Run(&errBuf)
	return outBuf.String(), errBuf.String(), runErr
}

// factorialProgram computes 5! recursively:
//
//	function main (level 1, 0 params): pushes 5, calls fact, prints result.
//	function fact (level 2, 1 param n): if n <= 1 return 1, else n*fact(n-1).
func factorialProgram(t *testing.T) *Program {
	t.Helper()
	// fact body, param n at BP+0:
	//   0: loada 0,0      ; push addr of n
	//   1: iload          ; push n
	//   2: bipush 1
	//   3: icmp           ; push sign(n-1)
	//   4: jg 7           ; if n>1 goto recurse
	//   5: bipush 1
	//   6: iret
	//   7: loada 0,0
	//   8: iload
	//   9: loada 0,0
	//  10: iload
	//  11: bipush 1
	//  12: isub
	//  13: call fact
	//  14: imul
	//  15: iret
	fact := Function{
		NameIndex: 1,
		ParamSize: 1,
		Level:     2,
		Code: []Instruction{
			{Op: Loada, X: 0, Y: 0},
			{Op: Iload},
			{Op: Bipush, X: 1},
			{Op: Icmp},
			{Op: Jg, X: 7},
			{Op: Bipush, X: 1},
			{Op: Iret},
			{Op: Loada, X: 0, Y: 0},
			{Op: Iload},
			{Op: Loada, X: 0, Y: 0},
			{Op: Iload},
			{Op: Bipush, X: 1},
			{Op: Isub},
			{Op: Call, X: 1},
			{Op: Imul},
			{Op: Iret},
		},
	}
	main := Function{
		NameIndex: 0,
		ParamSize: 0,
		Level:     1,
		Code: []Instruction{
			{Op: Bipush, X: 5},
			{Op: Call, X: 1},
			{Op: Iprint},
			{Op: Printl},
			{Op: Ret},
		},
	}
	return &Program{
		Constants: []Constant{StringConstant("main"), StringConstant("fact")},
		Functions: []Function{main, fact},
	}
}

func TestFactorialRecursion(t *testing.T) {
	p := factorialProgram(t)
	stdout, stderr, err := runProgram(t, p, "")
	require.NoError(t, err)
	require.Empty(t, stderr)
	require.Equal(t, "120\n", stdout)
}

func TestDivideByZero(t *testing.T) {
	p := &Program{
		Constants: []Constant{StringConstant("main")},
		Functions: []Function{{
			NameIndex: 0,
			Code: []Instruction{
				{Op: Bipush, X: 1},
				{Op: Bipush, X: 0},
				{Op: Idiv},
				{Op: Ret},
			},
		}},
	}
	_, stderr, err := runProgram(t, p, "")
	require.Error(t, err)
	require.Equal(t, DivideByZero{}, err)
	require.Contains(t, stderr, "divide integer by zero")
}

func TestStackOverflowOnUnboundedPush(t *testing.T) {
	p := &Program{
		Constants: []Constant{StringConstant("main")},
		Functions: []Function{{
			NameIndex: 0,
			Code: []Instruction{
				{Op: Bipush, X: 1},
				{Op: Jmp, X: 0},
			},
		}},
	}
	_, _, err := runProgram(t, p, "")
	require.Error(t, err)
	require.Equal(t, StackOverflow{}, err)
}

func TestInvalidControlTransferOnMissingReturn(t *testing.T) {
	p := &Program{
		Constants: []Constant{StringConstant("main")},
		Functions: []Function{{
			NameIndex: 0,
			Code: []Instruction{
				{Op: Nop},
			},
		}},
	}
	_, stderr, err := runProgram(t, p, "")
	require.Error(t, err)
	require.Equal(t, InvalidControlTransfer{}, err)
	require.Contains(t, stderr, "control reaches the end of function main without return")
}

func TestHeapAllocationAndStringRoundTrip(t *testing.T) {
	p := &Program{
		Constants: []Constant{StringConstant("main"), StringConstant("abc")},
		Functions: []Function{{
			NameIndex: 0,
			Code: []Instruction{
				{Op: Loadc, X: 1},
				{Op: Sprint},
				{Op: Ret},
			},
		}},
	}
	stdout, _, err := runProgram(t, p, "")
	require.NoError(t, err)
	require.Equal(t, "abc", stdout)
}

func TestStaticLinkNestedProcedure(t *testing.T) {
	// main (level 1): snew 1 local; store 10 into it; call inner.
	// inner (level 2, nested in main): loads main's local via loada 1,0
	// and prints it.
	main := Function{
		NameIndex: 0,
		ParamSize: 0,
		Level:     1,
		Code: []Instruction{
			{Op: Snew, X: 1},
			{Op: Loada, X: 0, Y: 0},
			{Op: Bipush, X: 10},
			{Op: Istore},
			{Op: Call, X: 1},
			{Op: Ret},
		},
	}
	inner := Function{
		NameIndex: 1,
		ParamSize: 0,
		Level:     2,
		Code: []Instruction{
			{Op: Loada, X: 1, Y: 0},
			{Op: Iload},
			{Op: Iprint},
			{Op: Ret},
		},
	}
	p := &Program{
		Constants: []Constant{StringConstant("main"), StringConstant("inner")},
		Functions: []Function{main, inner},
	}
	stdout, stderr, err := runProgram(t, p, "")
	require.NoError(t, err)
	require.Empty(t, stderr)
	require.Equal(t, "10", stdout)
}

func TestDoubleArithmeticAndPrint(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			StringConstant("main"),
			DoubleConstant(1.5),
			DoubleConstant(2.5),
		},
		Functions: []Function{{
			NameIndex: 0,
			Code: []Instruction{
				{Op: Loadc, X: 1},
				{Op: Loadc, X: 2},
				{Op: Dadd},
				{Op: Dprint},
				{Op: Ret},
			},
		}},
	}
	stdout, _, err := runProgram(t, p, "")
	require.NoError(t, err)
	require.Equal(t, "4.000000", stdout)
}

func TestIscanReadsStdin(t *testing.T) {
	p := &Program{
		Constants: []Constant{StringConstant("main")},
		Functions: []Function{{
			NameIndex: 0,
			Code: []Instruction{
				{Op: Iscan},
				{Op: Bipush, X: 1},
				{Op: Iadd},
				{Op: Iprint},
				{Op: Ret},
			},
		}},
	}
	stdout, _, err := runProgram(t, p, "41\n")
	require.NoError(t, err)
	require.Equal(t, "42", stdout)
}
