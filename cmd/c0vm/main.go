// Command c0vm disassembles, assembles, or runs a c0vm program image.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"c0vm/asm"
	"c0vm/vm"
)

const binName = "c0vm"

var usage = fmt.Sprintf(`usage: %s -d|-a|-r <input> [<output>]
       %[1]s -h

  -d   disassemble a binary program image to its text listing
  -a   assemble a text listing to a binary program image
  -r   run a binary program image

<output> defaults to stdout ("-") for -d and -a; an <output> equal
to <input> is written to <input>.out instead. -r ignores <output>:
the program reads stdin and writes stdout.
`, binName)

// cmd holds the CLI's own parsed flags. It intentionally mirrors the
// original's three-mutually-exclusive-flags contract rather than a
// subcommand dispatch table, since there is exactly one verb per
// invocation.
type cmd struct {
	Help bool `flag:"h,help"`
	D    bool `flag:"d"`
	A    bool `flag:"a"`
	R    bool `flag:"r"`

	args []string
}

func (c *cmd) SetArgs(args []string)        { c.args = args }
func (c *cmd) SetFlags(flags map[string]bool) {}

func (c *cmd) Validate() error {
	if c.Help {
		return nil
	}
	count := 0
	for _, v := range []bool{c.D, c.A, c.R} {
		if v {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("exactly one of -d, -a, -r is required")
	}
	if len(c.args) == 0 {
		return fmt.Errorf("input file required")
	}
	if len(c.args) > 2 {
		return fmt.Errorf("too many arguments")
	}
	return nil
}

func main() {
	os.Exit(int(run(os.Args, mainer.CurrentStdio())))
}

func run(args []string, stdio mainer.Stdio) mainer.ExitCode {
	c := &cmd{}
	p := mainer.Parser{EnvVars: false}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, usage)
		return mainer.ExitCode(2)
	}

	if c.Help {
		fmt.Fprint(stdio.Stdout, usage)
		return mainer.Success
	}

	_ = mainer.CancelOnSignal(context.Background(), os.Interrupt)

	input := c.args[0]
	output := "-"
	if len(c.args) == 2 {
		output = c.args[1]
	}

	var err error
	switch {
	case c.D:
		err = disassemble(stdio, input, output)
	case c.A:
		err = assemble(stdio, input, output)
	case c.R:
		err = runProgram(stdio, input, output)
	}
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.ExitCode(2)
	}
	return mainer.Success
}

func openOutput(stdio mainer.Stdio, input, output string) (*os.File, bool, error) {
	if output == "-" || output == "" {
		return nil, false, nil
	}
	if output == input {
		output += ".out"
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func disassemble(stdio mainer.Stdio, input, output string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	prog, err := vm.DecodeBinary(data)
	if err != nil {
		return err
	}
	text := asm.Disassemble(prog)

	f, owned, err := openOutput(stdio, input, output)
	if err != nil {
		return err
	}
	if owned {
		defer f.Close()
		_, err = f.WriteString(text)
		return err
	}
	_, err = fmt.Fprint(stdio.Stdout, text)
	return err
}

func assemble(stdio mainer.Stdio, input, output string) error {
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	prog, err := asm.Assemble(f)
	if err != nil {
		return err
	}

	data := vm.EncodeBinary(prog)
	out, owned, err := openOutput(stdio, input, output)
	if err != nil {
		return err
	}
	if !owned {
		_, err = stdio.Stdout.Write(data)
		return err
	}
	defer out.Close()
	_, err = out.Write(data)
	return err
}

func runProgram(stdio mainer.Stdio, input, _ string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	prog, err := vm.DecodeBinary(data)
	if err != nil {
		return err
	}

	m := vm.New(prog, vm.WithStdio(stdio.Stdin, stdio.Stdout))
	// Run itself never signals a process-exit status: per contract, a
	// runtime fault is reported to stderr and swallowed, matching the
	// original's behavior of catching runtime exceptions once at the
	// top of its own run loop.
	_ = m.Run(stdio.Stderr)
	return nil
}
