package runtime

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/tanema/luavm/src/bytecode"
)

const debugHelp = `commands:
  s, step         execute the next instruction (default)
  c, continue     run until the program halts or fails
  r, registers    show the registers of the running function
  b, backtrace    show the active call frames
  l, list         disassemble the running function
  h, help         show this message
  q, quit         stop debugging`

// Debug starts an interactive step debugger reading commands with readline.
// Output is written to out. It returns once the program halts, fails or the
// user quits.
func (vm *VM) Debug(out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "(luavm) ",
		Stdout: out,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	vm.printNext(out)
	for !vm.Halted() {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		quit, err := vm.debugCommand(strings.TrimSpace(line), out)
		if err != nil || quit {
			return err
		}
	}
	return nil
}

func (vm *VM) debugCommand(cmd string, out io.Writer) (bool, error) {
	switch cmd {
	case "", "s", "step":
		if err := vm.Step(); err != nil {
			return true, err
		}
		vm.printNext(out)
	case "c", "continue":
		if _, err := vm.Run(); err != nil {
			return true, err
		}
		vm.printNext(out)
	case "r", "registers":
		f := vm.frame()
		if f == nil {
			return false, nil
		}
		for i, val := range vm.Registers() {
			name := f.closure.val.LocalName(i, f.pc)
			if name != "" {
				name = " (" + name + ")"
			}
			fmt.Fprintf(out, "  R%d%v = %v\n", i, name, Repr(val))
		}
		for i, upval := range f.closure.upvalues {
			fmt.Fprintf(out, "  U%d (%v) = %v\n", i, f.closure.val.UpvalueName(i), Repr(upval.Get()))
		}
	case "b", "bt", "backtrace":
		fmt.Fprintln(out, strings.Join(vm.formatCallstack(), "\n"))
	case "l", "list":
		if f := vm.frame(); f != nil {
			fmt.Fprint(out, f.closure.val.String())
		}
	case "h", "help":
		fmt.Fprintln(out, debugHelp)
	case "q", "quit":
		return true, nil
	default:
		fmt.Fprintf(out, "unknown command %q, try help\n", cmd)
	}
	return false, nil
}

func (vm *VM) printNext(out io.Writer) {
	if vm.Halted() {
		fmt.Fprintf(out, "halted after %v steps\n", vm.steps)
		if len(vm.results) > 0 {
			parts := make([]string, len(vm.results))
			for i, val := range vm.results {
				parts[i] = Repr(val)
			}
			fmt.Fprintf(out, "results: %v\n", strings.Join(parts, ", "))
		}
		return
	}
	if info, ok := vm.Next(); ok {
		fmt.Fprintln(out, info)
	}
}

func (info StepInfo) String() string {
	return fmt.Sprintf("%v:%v [%d] %v", info.Source, info.Line, info.PC+1, strings.TrimSpace(bytecode.Format(info.Instruction)))
}
