package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"virtius.io/virtius/config"
	"virtius.io/virtius/logging"
	"virtius.io/virtius/storage"
	"virtius.io/virtius/storage/casregistry"
	"virtius.io/virtius/storage/grpccas"

	_ "virtius.io/virtius/storage/localfs"
)

func main() {
	fs := flag.NewFlagSet("virtius-casd", flag.ExitOnError)
	configPath := fs.String("config", "virtius.yaml", "Config file (storage, casd and logger sections)")
	listen := fs.String("listen", "", "Listen address (overrides casd.listen)")
	backend := fs.String("backend", "", "Serve a single CAS backend configured by flags instead of the config's storage section")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	casregistry.RegisterFlags(fs, casregistry.UsageDaemon)

	_ = fs.Parse(os.Args[1:])
	if *listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(os.Stdout, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.CASD.Listen = *listen
	}

	logger, closeLog, err := logging.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closeLog()

	var cas storage.CAS
	var closeFn func() error
	if *backend != "" {
		cas, closeFn, err = casregistry.Open(*backend, casregistry.UsageDaemon)
	} else {
		cas, closeFn, err = cfg.Storage.Open(casregistry.UsageDaemon, "")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", cfg.CASD.Listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpccas.RateLimit(grpccas.NewLimiter(cfg.CASD.RequestsPerSec, cfg.CASD.Burst))),
	)
	grpccas.RegisterCASServer(s, &grpccas.Server{CAS: cas, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		s.GracefulStop()
	}()

	logger.Info("virtius-casd listening",
		"addr", lis.Addr().String(),
		"requests_per_sec", cfg.CASD.RequestsPerSec,
		"burst", cfg.CASD.Burst,
	)
	if err := s.Serve(lis); err != nil {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}
}
