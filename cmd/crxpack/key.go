package main

import (
	"fmt"
	"io"

	"xdao.co/crx/config"
	"xdao.co/crx/keys"
)

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	var opts options
	fs := newFlagSet("key", errOut, &opts)
	var keyPath string
	var showPub bool
	fs.StringVarP(&keyPath, "key", "k", "", "private key file (default extension.pem)")
	fs.BoolVar(&showPub, "pub", false, "also print the public key as PEM")
	if code, ok := parseFlags(fs, args, errOut); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: crxpack key [--key <path>] [--pub]")
		return 2
	}
	cfg, err := opts.config(config.Config{Key: keyPath})
	if err != nil {
		fmt.Fprintf(errOut, "key: %v\n", err)
		return 2
	}

	key, created, err := keys.LoadOrGenerate(cfg.Key)
	if err != nil {
		return fail(errOut, "key", err)
	}
	if created {
		opts.logger(errOut).Info("generated new signing key", "path", cfg.Key, "bits", keys.Bits)
	}
	der, err := keys.PublicKeyDER(key)
	if err != nil {
		return fail(errOut, "key", err)
	}
	fmt.Fprintf(out, "Key: %s\n", cfg.Key)
	fmt.Fprintf(out, "Extension ID: %s\n", keys.ExtensionID(der))
	if showPub {
		pemBytes, err := keys.PublicKeyPEM(key)
		if err != nil {
			return fail(errOut, "key", err)
		}
		_, _ = out.Write(pemBytes)
	}
	return 0
}
