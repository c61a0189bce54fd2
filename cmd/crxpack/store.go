package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"xdao.co/crx/cidutil"
	"xdao.co/crx/config"
	"xdao.co/crx/crx"
	"xdao.co/crx/storage"
	"xdao.co/crx/storage/grpccas"
	"xdao.co/crx/storage/localfs"
)

type storeFlags struct {
	dir     string
	target  string
	timeout string
}

func (s *storeFlags) override() config.Config {
	return config.Config{Store: config.Store{Dir: s.dir, GRPCTarget: s.target, Timeout: s.timeout}}
}

// openStore builds the store named by cfg. With both a directory and a
// remote target, writes go to both and reads try the directory first.
func openStore(cfg config.Store, log *slog.Logger) (storage.CAS, func() error, error) {
	var backends []storage.NamedCAS
	closeFn := func() error { return nil }

	if cfg.Dir != "" {
		local, err := localfs.New(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, storage.NamedCAS{Name: "localfs", CAS: local})
	}
	if cfg.GRPCTarget != "" {
		timeout, err := cfg.TimeoutDuration()
		if err != nil {
			return nil, nil, err
		}
		client, err := grpccas.Dial(cfg.GRPCTarget, grpccas.DialOptions{Timeout: timeout})
		if err != nil {
			return nil, nil, err
		}
		closeFn = client.Close
		backends = append(backends, storage.NamedCAS{Name: "grpc", CAS: client})
	}

	switch len(backends) {
	case 0:
		return nil, nil, errors.New("no store configured (use --store-dir or --grpc-target)")
	case 1:
		log.Debug("opened store", "backend", backends[0].Name)
		return backends[0].CAS, closeFn, nil
	default:
		log.Debug("opened replicating store", "backends", len(backends))
		return storage.Replicating{Backends: backends}, closeFn, nil
	}
}

func addStoreFlags(fs *pflag.FlagSet, s *storeFlags) {
	fs.StringVar(&s.dir, "store-dir", "", "local container store directory")
	fs.StringVar(&s.target, "grpc-target", "", "remote container store address (host:port)")
	fs.StringVar(&s.timeout, "timeout", "", "per-call timeout for the remote store, e.g. 10s")
}

func cmdPublish(args []string, out io.Writer, errOut io.Writer) int {
	var opts options
	var sf storeFlags
	fs := newFlagSet("publish", errOut, &opts)
	addStoreFlags(fs, &sf)
	if code, ok := parseFlags(fs, args, errOut); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: crxpack publish <file.crx> [--store-dir <dir>] [--grpc-target <host:port>]")
		return 2
	}
	cfg, err := opts.config(sf.override())
	if err != nil {
		fmt.Fprintf(errOut, "publish: %v\n", err)
		return 2
	}
	log := opts.logger(errOut)

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fail(errOut, "publish", err)
	}
	c, err := crx.Parse(data)
	if err != nil {
		return fail(errOut, "publish", err)
	}
	if err := crx.Verify(c); err != nil {
		return fail(errOut, "publish", err)
	}

	store, closeFn, err := openStore(cfg.Store, log)
	if err != nil {
		return fail(errOut, "publish", err)
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	id, err := store.Put(ctx, data)
	if err != nil {
		return fail(errOut, "publish", err)
	}
	log.Info("published container", "cid", id.String(), "id", c.ExtensionID(), "bytes", len(data))
	fmt.Fprintln(out, id.String())
	return 0
}

func cmdFetch(args []string, out io.Writer, errOut io.Writer) int {
	var opts options
	var sf storeFlags
	fs := newFlagSet("fetch", errOut, &opts)
	addStoreFlags(fs, &sf)
	if code, ok := parseFlags(fs, args, errOut); !ok {
		return code
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(errOut, "usage: crxpack fetch <cid> <output.crx> [--store-dir <dir>] [--grpc-target <host:port>]")
		return 2
	}
	id, err := cidutil.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "fetch: %v\n", err)
		return 2
	}
	cfg, err := opts.config(sf.override())
	if err != nil {
		fmt.Fprintf(errOut, "fetch: %v\n", err)
		return 2
	}
	log := opts.logger(errOut)

	store, closeFn, err := openStore(cfg.Store, log)
	if err != nil {
		return fail(errOut, "fetch", err)
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	data, err := store.Get(ctx, id)
	if err != nil {
		return fail(errOut, "fetch", err)
	}
	c, err := crx.Parse(data)
	if err != nil {
		return fail(errOut, "fetch", err)
	}
	if err := crx.Verify(c); err != nil {
		return fail(errOut, "fetch", err)
	}
	if err := crx.WriteFileAtomic(fs.Arg(1), data); err != nil {
		return fail(errOut, "fetch", err)
	}
	fmt.Fprintf(out, "Wrote %s (CRX%d, %s)\n", fs.Arg(1), c.Version, c.ExtensionID())
	return 0
}
