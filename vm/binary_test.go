package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	p := &Program{
		Constants: []Constant{
			StringConstant("main"),
			IntConstant(42),
			DoubleConstant(3.5),
			StringConstant("hi"),
		},
		Start: nil,
		Functions: []Function{
			{
				NameIndex: 0,
				ParamSize: 0,
				Level:     1,
				Code: []Instruction{
					{Op: Ipush, X: 1},
					{Op: Loadc, X: 1},
					{Op: Iadd},
					{Op: Ret},
				},
			},
		},
	}
	require.NoError(t, p.Validate())

	encoded := EncodeBinary(p)
	decoded, err := DecodeBinary(encoded)
	require.NoError(t, err)

	require.Equal(t, p.Constants, decoded.Constants)
	require.Equal(t, p.Functions, decoded.Functions)
	require.Equal(t, 0, decoded.MainIndex)
}

func TestDecodeBinaryRejectsBadMagic(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0}
	_, err := DecodeBinary(data)
	require.Error(t, err)
	var invalid *InvalidFile
	require.ErrorAs(t, err, &invalid)
}

func TestDecodeBinaryRejectsBadVersion(t *testing.T) {
	w := &writer{}
	w.u32(binaryMagic)
	w.u32(2)
	w.u16(0) // constants
	w.u16(0) // start
	w.u16(0) // functions
	_, err := DecodeBinary(w.buf)
	require.Error(t, err)
}

func TestDecodeBinaryRejectsTruncation(t *testing.T) {
	w := &writer{}
	w.u32(binaryMagic)
	w.u32(binaryVersion)
	w.u16(1)
	w.byte(byte(ConstInt))
	// missing the 4-byte int payload
	_, err := DecodeBinary(w.buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "incomplete binary file")
}

func TestDecodeBinaryRejectsTrailingBytes(t *testing.T) {
	p := &Program{
		Constants: []Constant{StringConstant("main")},
		Functions: []Function{{NameIndex: 0, Code: []Instruction{{Op: Ret}}}},
	}
	require.NoError(t, p.Validate())
	encoded := append(EncodeBinary(p), 0xff)
	_, err := DecodeBinary(encoded)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unused content")
}

func TestDecodeBinaryRejectsMissingMain(t *testing.T) {
	w := &writer{}
	w.u32(binaryMagic)
	w.u32(binaryVersion)
	w.u16(1)
	w.byte(byte(ConstString))
	w.u16(uint16(len("notmain")))
	w.raw("notmain")
	w.instructions(nil)
	w.u16(1)
	w.u16(0) // nameIndex
	w.u16(0) // paramSize
	w.u16(0) // level
	w.instructions(nil)
	_, err := DecodeBinary(w.buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "main")
}
