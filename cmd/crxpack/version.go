package main

import (
	"fmt"
	"io"
	"time"

	"xdao.co/crx/release"
)

// now is replaced in tests.
var now = time.Now

func cmdVersion(args []string, out io.Writer, errOut io.Writer) int {
	var opts options
	fs := newFlagSet("version", errOut, &opts)
	var kind string
	var file string
	fs.StringVar(&kind, "type", string(release.Dev), "release kind: nightly, beta, stable or dev")
	fs.StringVar(&file, "file", release.DefaultFile, "version file")
	if code, ok := parseFlags(fs, args, errOut); !ok {
		return code
	}
	if fs.NArg() != 1 || (fs.Arg(0) != "read" && fs.Arg(0) != "bump") {
		fmt.Fprintln(errOut, "usage: crxpack version read|bump [--type nightly|beta|stable|dev] [--file VERSION]")
		return 2
	}

	current, err := release.ReadFile(file)
	if err != nil {
		return fail(errOut, "version", err)
	}
	if fs.Arg(0) == "read" {
		fmt.Fprintln(out, current)
		return 0
	}

	k, err := release.ParseKind(kind)
	if err != nil {
		fmt.Fprintf(errOut, "version: %v\n", err)
		return 2
	}
	next := release.Bump(k, current, now())
	if err := release.WriteFile(file, next); err != nil {
		return fail(errOut, "version", err)
	}
	opts.logger(errOut).Info("updated version file", "path", file, "from", current, "to", next)
	fmt.Fprintln(out, next)
	return 0
}
