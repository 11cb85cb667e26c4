package vm

import (
	"bufio"
	"fmt"
	"strconv"
)

// formatInt matches Tprint<int_t>'s plain decimal rendering.
func formatInt(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}

// formatDouble matches Tprint<double_t>'s std::fixed<<setprecision(6).
func formatDouble(v float64) string {
	return fmt.Sprintf("%.6f", v)
}

// readNonSpaceByte skips leading whitespace (space, tab, newline,
// carriage return, vertical tab, form feed) the way std::cin >> char_t does, then returns the
// next byte.
func readNonSpaceByte(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		default:
			return b, nil
		}
	}
}
