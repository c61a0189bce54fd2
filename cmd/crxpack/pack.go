package main

import (
	"encoding/json"
	"fmt"
	"io"

	"xdao.co/crx/config"
	"xdao.co/crx/crx"
)

func cmdPack(args []string, out io.Writer, errOut io.Writer) int {
	var opts options
	fs := newFlagSet("pack", errOut, &opts)
	var keyPath string
	var format int
	fs.StringVarP(&keyPath, "key", "k", "", "private key file (default extension.pem)")
	fs.IntVar(&format, "format", 0, "container version, 2 or 3 (default 3)")
	if code, ok := parseFlags(fs, args, errOut); !ok {
		return code
	}

	switch fs.NArg() {
	case 2:
	case 3:
		if keyPath != "" && keyPath != fs.Arg(2) {
			fmt.Fprintln(errOut, "pack: key given both as argument and --key")
			return 2
		}
		keyPath = fs.Arg(2)
	default:
		fmt.Fprintln(errOut, "usage: crxpack pack <source_dir> <output.crx> [key.pem] [--key <path>] [--format 2|3]")
		return 2
	}

	cfg, err := opts.config(config.Config{Key: keyPath, Format: format})
	if err != nil {
		fmt.Fprintf(errOut, "pack: %v\n", err)
		return 2
	}

	p := crx.Packer{
		KeyPath: cfg.Key,
		Version: uint32(cfg.Format),
		Logger:  opts.logger(errOut),
	}
	res, err := p.Pack(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return fail(errOut, "pack", err)
	}
	fmt.Fprintf(out, "Wrote %s (CRX%d, %d bytes, archive %d bytes)\n", res.Path, res.Version, res.Size, res.ArchiveSize)
	fmt.Fprintf(out, "Extension ID: %s\n", res.ExtensionID)
	return 0
}

func cmdInspect(args []string, out io.Writer, errOut io.Writer) int {
	var opts options
	fs := newFlagSet("inspect", errOut, &opts)
	var asJSON bool
	fs.BoolVar(&asJSON, "json", false, "print the parsed structure as JSON")
	if code, ok := parseFlags(fs, args, errOut); !ok {
		return code
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: crxpack inspect <file.crx>... [--json]")
		return 2
	}

	// A bad file is reported and the rest are still inspected.
	log := opts.logger(errOut)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	code := 0
	for i, path := range fs.Args() {
		log.Debug("inspecting container", "path", path)
		c, err := crx.ParseFile(path)
		if err != nil {
			code = fail(errOut, "inspect "+path, err)
			continue
		}
		if asJSON {
			if err := enc.Encode(inspected{File: path, Summary: crx.Summarize(c)}); err != nil {
				return fail(errOut, "inspect", err)
			}
			continue
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "File: %s\n", path)
		if err := crx.Describe(out, c); err != nil {
			return fail(errOut, "inspect", err)
		}
	}
	return code
}

// inspected is one --json document; inspect emits one per file in argument
// order.
type inspected struct {
	File string `json:"file"`
	crx.Summary
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	var opts options
	fs := newFlagSet("verify", errOut, &opts)
	if code, ok := parseFlags(fs, args, errOut); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: crxpack verify <file.crx>")
		return 2
	}
	c, err := crx.ParseFile(fs.Arg(0))
	if err != nil {
		return fail(errOut, "verify", err)
	}
	if err := crx.Verify(c); err != nil {
		return fail(errOut, "verify", err)
	}
	opts.logger(errOut).Debug("container verified", "path", fs.Arg(0), "size", c.Size)
	fmt.Fprintf(out, "OK CRX%d %s\n", c.Version, c.ExtensionID())
	return 0
}

func cmdID(args []string, out io.Writer, errOut io.Writer) int {
	var opts options
	fs := newFlagSet("id", errOut, &opts)
	if code, ok := parseFlags(fs, args, errOut); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: crxpack id <file.crx>")
		return 2
	}
	c, err := crx.ParseFile(fs.Arg(0))
	if err != nil {
		return fail(errOut, "id", err)
	}
	id := c.ExtensionID()
	if id == "" {
		fmt.Fprintln(errOut, "id: container carries no public key")
		return 1
	}
	fmt.Fprintln(out, id)
	return 0
}
