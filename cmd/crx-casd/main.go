// Command crx-casd serves a local container store over gRPC. Only bytes
// that parse and verify as CRX containers are accepted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"xdao.co/crx/crx"
	"xdao.co/crx/storage/grpccas"
	"xdao.co/crx/storage/localfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	fs := pflag.NewFlagSet("crx-casd", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7420", "listen address")
	dir := fs.String("dir", "", "container store directory")
	maxMsg := fs.Int("max-msg-bytes", grpccas.DefaultMaxMsgBytes, "largest container accepted")
	verbose := fs.BoolP("verbose", "v", false, "log every request")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(errOut, "crx-casd: %v\n", err)
		return 2
	}
	if *dir == "" {
		fmt.Fprintln(errOut, "usage: crx-casd --dir <store> [--listen host:port]")
		return 2
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	srv, err := newServer(*dir, *maxMsg, logger)
	if err != nil {
		logger.Error("opening store", "dir", *dir, "error", err)
		return 1
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Error("listening", "address", *listen, "error", err)
		return 1
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.GracefulStop()
	}()

	logger.Info("crx-casd listening", "address", lis.Addr().String(), "dir", *dir)
	if err := srv.Serve(lis); err != nil {
		logger.Error("serve", "error", err)
		return 1
	}
	return 0
}

// newServer builds a gRPC server backed by a localfs store at dir.
func newServer(dir string, maxMsg int, logger *slog.Logger) (*grpc.Server, error) {
	cas, err := localfs.New(dir)
	if err != nil {
		return nil, err
	}
	s := grpc.NewServer(grpc.MaxRecvMsgSize(maxMsg), grpc.MaxSendMsgSize(maxMsg))
	grpccas.RegisterCASServer(s, &grpccas.Server{
		CAS:    cas,
		Accept: acceptContainer,
		Logger: logger,
	})
	return s, nil
}

func acceptContainer(data []byte) error {
	c, err := crx.Parse(data)
	if err != nil {
		return err
	}
	return crx.Verify(c)
}
