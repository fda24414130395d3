// Command smxdecompiler renders a compiled SourcePawn plugin (.smx) back
// into readable pseudo-C, wrapping internal/decompiler behind a CLI.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/SlidyBat/SmxDecompiler/internal/codewriter"
	"github.com/SlidyBat/SmxDecompiler/internal/decompiler"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

func main() {
	// glog registers its flags on the standard flag.CommandLine set; parse
	// it once up front so -verbose can drive glog's own -v flag below.
	flag.Parse()
	defer glog.Flush()

	app := &cli.App{
		Name:      "smxdecompiler",
		Usage:     "decompile a SourcePawn .smx plugin into pseudo-C",
		ArgsUsage: "<file.smx>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "function",
				Aliases: []string{"f"},
				Usage:   "only decompile the named function",
			},
			&cli.BoolFlag{
				Name:    "no-globals",
				Aliases: []string{"g"},
				Usage:   "don't print global variable declarations",
			},
			&cli.BoolFlag{
				Name:    "assembly",
				Aliases: []string{"a"},
				Usage:   "print disassembled pcode for each function",
			},
			&cli.BoolFlag{
				Name:    "il",
				Aliases: []string{"i"},
				Usage:   "print the lifted IL for each function",
			},
			&cli.StringFlag{
				Name:  "strings",
				Value: "none",
				Usage: "string-literal detection mode: none|aggressive|comment",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log pass-level progress",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Bool("verbose") {
		flag.Set("v", "1")
		flag.Set("logtostderr", "true")
	}

	if c.NArg() != 1 {
		return cli.Exit("usage: smxdecompiler [flags] <file.smx>", 1)
	}
	path := c.Args().First()

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(errors.Wrapf(err, "opening %s", path), 1)
	}
	defer f.Close()

	file, err := smx.Parse(f)
	if err != nil {
		return cli.Exit(errors.Wrapf(err, "parsing %s", path), 1)
	}

	stringMode, err := parseStringMode(c.String("strings"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	opts := decompiler.Options{
		Function:      c.String("function"),
		PrintGlobals:  !c.Bool("no-globals"),
		PrintAssembly: c.Bool("assembly"),
		PrintIL:       c.Bool("il"),
		StringMode:    stringMode,
	}

	driver := decompiler.New(file, opts)
	if err := driver.Run(os.Stdout); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func parseStringMode(s string) (codewriter.StringMode, error) {
	switch s {
	case "", "none":
		return codewriter.StringNone, nil
	case "aggressive":
		return codewriter.StringAggressive, nil
	case "comment":
		return codewriter.StringComment, nil
	default:
		return codewriter.StringNone, errors.Errorf("invalid --strings mode %q: want none|aggressive|comment", s)
	}
}
