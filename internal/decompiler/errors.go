// Package decompiler drives the full pcode-to-pseudo-C pipeline over an
// smx.File: disassembly, CFG construction, function discovery, IL lifting,
// type inference, code fixing, structuring, and code writing.
package decompiler

import "fmt"

// DecodeError reports pcode the pipeline could not decode at all: an
// unknown opcode, a truncated operand, or a switch table pointing outside
// the code section. It is fatal for the function it occurs in.
type DecodeError struct {
	Function string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode error: %v", e.Function, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InvalidCfg reports a control-flow graph the pipeline could not make
// sense of: an edge targeting a non-leader address, a missing PROC at the
// function's entry, or dominance computation failing to converge. Fatal
// for the function it occurs in.
type InvalidCfg struct {
	Function string
	Reason   string
}

func (e *InvalidCfg) Error() string {
	return fmt.Sprintf("%s: invalid control flow graph: %s", e.Function, e.Reason)
}

// UnrecoverableType reports a variable the typer could not assign RTTI
// metadata to. Non-fatal: the variable falls back to a plain int and
// decompilation continues.
type UnrecoverableType struct {
	Function string
	Detail   string
}

func (e *UnrecoverableType) Error() string {
	return fmt.Sprintf("%s: could not recover type: %s", e.Function, e.Detail)
}

// UnsupportedPattern reports a code-fixer invariant that a function's IL
// violated, so that fixer pass left the IL unchanged rather than risk
// corrupting it. Non-fatal.
type UnsupportedPattern struct {
	Function string
	Pass     string
	Detail   string
}

func (e *UnsupportedPattern) Error() string {
	return fmt.Sprintf("%s: pass %q skipped unsupported pattern: %s", e.Function, e.Pass, e.Detail)
}

// FunctionErrors collects every warning accumulated while decompiling one
// function. Decompiling never aborts on a warning — they're gathered here
// so the driver can report them once the function's output is ready,
// alongside the code rather than interleaved with it.
type FunctionErrors struct {
	Function string
	Warnings []error
}

func (e *FunctionErrors) Add(err error) {
	if err != nil {
		e.Warnings = append(e.Warnings, err)
	}
}

func (e *FunctionErrors) HasWarnings() bool { return len(e.Warnings) > 0 }

func (e *FunctionErrors) Error() string {
	return fmt.Sprintf("%s: %d warning(s)", e.Function, len(e.Warnings))
}
