package decompiler

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/SlidyBat/SmxDecompiler/internal/cfg"
	"github.com/SlidyBat/SmxDecompiler/internal/codefixer"
	"github.com/SlidyBat/SmxDecompiler/internal/codewriter"
	"github.com/SlidyBat/SmxDecompiler/internal/disasm"
	"github.com/SlidyBat/SmxDecompiler/internal/ildisasm"
	"github.com/SlidyBat/SmxDecompiler/internal/lifter"
	"github.com/SlidyBat/SmxDecompiler/internal/structurizer"
	"github.com/SlidyBat/SmxDecompiler/internal/typer"
	"github.com/SlidyBat/SmxDecompiler/pkg/pcode"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

// Options configures one decompile run, mirroring the original's
// DecompilerOptions plus a Workers knob (not exposed as a CLI flag).
type Options struct {
	// Function restricts decompilation to the single named function.
	// Empty means every function in the file.
	Function string

	PrintGlobals  bool
	PrintAssembly bool
	PrintIL       bool

	StringMode codewriter.StringMode

	// Workers bounds how many functions are decompiled concurrently.
	// Defaults to runtime.NumCPU() when <= 0.
	Workers int
}

// Driver runs the full pipeline (CFG build, function discovery, IL
// lifting, typing, code fixing, structuring, code writing) over an
// smx.File's functions.
type Driver struct {
	file *smx.File
	opts Options

	lifter *lifter.Lifter
	typer  *typer.Typer
	fixer  *codefixer.CodeFixer
}

// New creates a Driver over file using opts.
func New(file *smx.File, opts Options) *Driver {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Driver{
		file:   file,
		opts:   opts,
		lifter: lifter.New(file),
		typer:  typer.New(file),
		fixer:  codefixer.New(file),
	}
}

// Run decompiles every matching function and writes the results to w in
// file order. Per-function fatal errors are logged and skip that function
// rather than aborting the whole run.
func (d *Driver) Run(w io.Writer) error {
	if d.opts.PrintGlobals {
		d.writeGlobals(w)
	}

	glog.V(1).Infof("discovering call targets across %d known functions", len(d.file.Functions))
	discoverCalls(d.file)

	var targets []*smx.Function
	for i := range d.file.Functions {
		fn := &d.file.Functions[i]
		if d.opts.Function != "" && fn.Name != d.opts.Function {
			continue
		}
		targets = append(targets, fn)
	}
	if d.opts.Function != "" && len(targets) == 0 {
		return errors.Errorf("no function named %q in this file", d.opts.Function)
	}

	results := make([]string, len(targets))
	sem := make(chan struct{}, d.opts.Workers)
	var wg sync.WaitGroup
	for i, fn := range targets {
		wg.Add(1)
		go func(i int, fn *smx.Function) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			text, warnings, err := d.decompileOne(fn)
			if err != nil {
				glog.Errorf("%v", err)
				return
			}
			for _, warn := range warnings.Warnings {
				glog.Warningf("%v", warn)
			}
			results[i] = text
		}(i, fn)
	}
	wg.Wait()

	for _, text := range results {
		if text == "" {
			continue
		}
		fmt.Fprintln(w, text)
	}
	return nil
}

func (d *Driver) writeGlobals(w io.Writer) {
	writer := codewriter.New(d.file, nil)
	for i := range d.file.Globals {
		g := &d.file.Globals[i]
		fmt.Fprintf(w, "%s;\n", writer.BuildVarDecl(g.Name, &g.Type))
	}
}

// discoverCalls implements spec §4.7: scan every known function's pcode
// for CALL targets with no RTTI entry of their own, and register them as
// discovered functions so they get decompiled too. Always single-threaded
// and always run to completion before any concurrent lifting begins, since
// it mutates the shared function table. The loop re-reads len(Functions)
// every iteration, so a discovered function's own calls are transitively
// discovered as well.
func discoverCalls(file *smx.File) {
	for i := 0; i < len(file.Functions); i++ {
		fn := &file.Functions[i]
		g, err := cfg.NewBuilder(file).Build(fn.PcodeStart)
		if err != nil {
			// Decoding this function's pcode failed outright; the main
			// pipeline will hit (and log) the same error later. Discovery
			// just has nothing to scan.
			continue
		}
		for b := 0; b < g.NumBlocks(); b++ {
			instrs, err := disasm.Block(file, g.Block(b))
			if err != nil {
				continue
			}
			for _, in := range instrs {
				if in.Op != pcode.OpCall {
					continue
				}
				target := in.Params[0]
				file.AddDiscoveredFunction(target, fmt.Sprintf("sub_%x", uint32(target)))
			}
		}
	}
}

func (d *Driver) disassemble(fn *smx.Function) (string, error) {
	pg, err := cfg.NewBuilder(d.file).Build(fn.PcodeStart)
	if err != nil {
		return "", &DecodeError{Function: fn.Name, Err: err}
	}
	var out strings.Builder
	for i := 0; i < pg.NumBlocks(); i++ {
		instrs, err := disasm.Block(d.file, pg.Block(i))
		if err != nil {
			return "", &DecodeError{Function: fn.Name, Err: err}
		}
		out.WriteString(disasm.Text(instrs))
	}
	return out.String(), nil
}

// decompileOne runs fn through the full pipeline: optional assembly dump,
// IL lift, optional IL dump, the three-iteration typer/code-fixer fixed
// point, structuring, and code writing.
func (d *Driver) decompileOne(fn *smx.Function) (string, *FunctionErrors, error) {
	warnings := &FunctionErrors{Function: fn.Name}
	var out strings.Builder

	if d.opts.PrintAssembly {
		asmText, err := d.disassemble(fn)
		if err != nil {
			return "", warnings, errors.Wrapf(err, "disassembling function %s", fn.Name)
		}
		out.WriteString(asmText)
	}

	lifted, err := d.lifter.Lift(fn)
	if err != nil {
		return "", warnings, errors.Wrapf(&DecodeError{Function: fn.Name, Err: err}, "lifting function %s", fn.Name)
	}
	glog.V(1).Infof("%s: lifted %d IL blocks", fn.Name, lifted.Graph.NumBlocks())

	if d.opts.PrintIL {
		ild := ildisasm.New(lifted.Func)
		for _, bb := range lifted.Graph.Blocks() {
			out.WriteString(ild.Block(bb))
		}
	}

	// One unconditional population pass before the fixed-point loop,
	// matching the original's call sequence in decompiler.cpp.
	d.typer.Populate(lifted.Func, lifted.Graph)
	for i := 0; i < 3; i++ {
		d.typer.Populate(lifted.Func, lifted.Graph)
		d.fixer.ApplyFixes(lifted.Func, lifted.Graph)
		d.typer.Propagate(lifted.Func, lifted.Graph)
	}
	glog.V(1).Infof("%s: ran fixed-point typer/code-fixer loop", fn.Name)

	stmt := structurizer.New(lifted.Func, lifted.Graph).Structurize()

	writer := codewriter.New(d.file, fn)
	writer.SetStringMode(d.opts.StringMode)
	out.WriteString(writer.Build(lifted.Func, stmt))

	return out.String(), warnings, nil
}
