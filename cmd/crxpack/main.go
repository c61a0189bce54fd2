// Command crxpack packs extension directories into signed CRX containers
// and inspects existing ones.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"xdao.co/crx/config"
	"xdao.co/crx/crx"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "pack":
		return cmdPack(args[1:], out, errOut)
	case "inspect":
		return cmdInspect(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "id":
		return cmdID(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "publish":
		return cmdPublish(args[1:], out, errOut)
	case "fetch":
		return cmdFetch(args[1:], out, errOut)
	case "version":
		return cmdVersion(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "crxpack: build and inspect signed CRX extension containers")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  crxpack pack <source_dir> <output.crx> [key.pem] [--key <path>] [--format 2|3]")
	fmt.Fprintln(w, "  crxpack inspect <file.crx>... [--json]")
	fmt.Fprintln(w, "  crxpack verify <file.crx>")
	fmt.Fprintln(w, "  crxpack id <file.crx>")
	fmt.Fprintln(w, "  crxpack key [--key <path>] [--pub]")
	fmt.Fprintln(w, "  crxpack publish <file.crx> [--store-dir <dir>] [--grpc-target <host:port>]")
	fmt.Fprintln(w, "  crxpack fetch <cid> <output.crx> [--store-dir <dir>] [--grpc-target <host:port>]")
	fmt.Fprintln(w, "  crxpack version read|bump [--type nightly|beta|stable|dev] [--file VERSION]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags:")
	fmt.Fprintln(w, "  --config <file>   JSONC config (key, format, store); flags override it")
	fmt.Fprintln(w, "  -v, --verbose     debug logging on stderr")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - the key file (default extension.pem) is created on first use and reused afterwards")
	fmt.Fprintln(w, "  - do not run two packs against the same key file at once")
	fmt.Fprintln(w, "  - publish prints the CIDv1 of the container; fetch re-verifies before writing")
}

// options are the flags every subcommand accepts.
type options struct {
	configPath string
	verbose    bool
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "JSONC config file")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log debug records to stderr")
}

func (o *options) logger(errOut io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
}

// config loads the config file and applies override on top of it.
func (o *options) config(override config.Config) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newFlagSet(name string, errOut io.Writer, opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	opts.addFlags(fs)
	return fs
}

// parseFlags parses args and reports the exit code to use when parsing did
// not succeed. -h prints usage and exits 0.
func parseFlags(fs *pflag.FlagSet, args []string, errOut io.Writer) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		fmt.Fprintf(errOut, "%s: %v\n", fs.Name(), err)
		return 2, false
	}
	return 0, true
}

// fail prints err with its rule ID, if any, and returns exit code 1.
func fail(errOut io.Writer, what string, err error) int {
	if id := crx.RuleID(err); id != "" {
		fmt.Fprintf(errOut, "%s: [%s] %v\n", what, id, err)
		return 1
	}
	fmt.Fprintf(errOut, "%s: %v\n", what, err)
	return 1
}
