// guppy: data-parallel vector kernel
//
// Stores programs and float32 arrays, launches programs over arrays on the
// local kernel, and serves both over JSON-RPC and gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fortiblox/guppy/pkg/arraystore"
	"github.com/fortiblox/guppy/pkg/dashboard"
	"github.com/fortiblox/guppy/pkg/grpcapi"
	"github.com/fortiblox/guppy/pkg/programstore"
	"github.com/fortiblox/guppy/pkg/rpc"
	"github.com/fortiblox/guppy/pkg/vm"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	configPath  = flag.String("config", "", "Kernel configuration file (.toml or .yaml)")
	dataDir     = flag.String("data-dir", "./guppy-data", "Data directory for the program and array stores")
	rpcAddr     = flag.String("rpc-addr", ":8940", "JSON-RPC server listen address")
	grpcAddr    = flag.String("grpc-addr", ":8941", "gRPC server listen address (empty disables)")
	dashPort    = flag.Int("dashboard-port", 0, "Web dashboard port on 127.0.0.1 (0 disables)")
	logRequests = flag.Bool("log-requests", false, "Log every JSON-RPC request")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: guppy [flags] <command> [args]

Commands:
  version                         print version
  verify FILE                     verify a program file
  dis FILE                        disassemble a program file
  program put [-name N] FILE      store a program
  program get REF [FILE]          write a stored program to FILE or stdout
  program list                    list stored programs
  array put NAME FILE             store an array (text numbers, or raw .f32)
  array get NAME                  print an array
  array list                      list stored arrays
  run [-groups N] [-persist] PROGRAM ARRAY...
                                  launch PROGRAM (file or stored ref) over stored arrays
  serve                           start the JSON-RPC, gRPC and dashboard servers

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("guppy %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	// Setup logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("guppy %s (%s) %s\n", Version, GitCommit, rpc.GuppyCore)
	case "verify":
		err = cmdVerify(args[1:])
	case "dis":
		err = cmdDisassemble(args[1:])
	case "program":
		err = cmdProgram(args[1:])
	case "array":
		err = cmdArray(args[1:])
	case "run":
		err = cmdRun(args[1:])
	case "serve":
		err = cmdServe()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

// kernelConfig returns the -config file or the defaults.
func kernelConfig() (vm.Config, error) {
	if *configPath == "" {
		return vm.DefaultConfig(), nil
	}
	return vm.LoadConfig(*configPath)
}

func newKernel() (*vm.Kernel, error) {
	cfg, err := kernelConfig()
	if err != nil {
		return nil, err
	}
	return vm.NewKernel(cfg)
}

func openPrograms() (*programstore.Store, error) {
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return programstore.Open(programstore.DefaultConfig(filepath.Join(*dataDir, "programs.db")))
}

func openArrays() (*arraystore.BadgerDB, error) {
	path := filepath.Join(*dataDir, "arrays")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return arraystore.NewBadgerDB(arraystore.DefaultBadgerDBConfig(path))
}

func cmdServe() error {
	log.Printf("Starting guppy %s", Version)

	kernel, err := newKernel()
	if err != nil {
		return err
	}
	kernel.Logger = log.Default()
	cfg := kernel.Config()
	log.Printf("Kernel: width=%d lanes=%d shared-scalars=%v prefetch=%v verify=%v",
		cfg.VectorWidth, cfg.LanesPerGroup, cfg.SharedScalars, cfg.PrefetchBytecode, cfg.Verify)

	programs, err := openPrograms()
	if err != nil {
		return fmt.Errorf("failed to open program store: %w", err)
	}
	defer programs.Close()

	arrays, err := openArrays()
	if err != nil {
		return fmt.Errorf("failed to open array store: %w", err)
	}
	defer arrays.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Addr = *rpcAddr
	rpcConfig.LogRequests = *logRequests
	rpcServer := rpc.New(rpcConfig, kernel, programs, arrays)

	var dash *dashboard.Dashboard
	if *dashPort != 0 {
		dashConfig := dashboard.DefaultConfig()
		dashConfig.Port = *dashPort
		if dash, err = dashboard.New(dashConfig, kernel, programs, arrays); err != nil {
			return fmt.Errorf("failed to create dashboard: %w", err)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return rpcServer.Start(egCtx)
	})
	if *grpcAddr != "" {
		grpcConfig := grpcapi.DefaultConfig()
		grpcConfig.Addr = *grpcAddr
		grpcServer := grpcapi.NewServer(grpcConfig, kernel)
		grpcServer.Logger = log.Default()
		eg.Go(func() error {
			return grpcServer.Start(egCtx)
		})
	}

	if dash != nil {
		log.Printf("Dashboard on http://%s", dash.Address())
		eg.Go(func() error {
			return dash.Start(egCtx)
		})
	}

	// Print status periodically
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-egCtx.Done():
				return
			case <-ticker.C:
				t := kernel.Totals()
				log.Printf("Status: launches=%d faults=%d groups=%d elements=%d busy=%s",
					t.Launches, t.Faults, t.Groups, t.Elements, t.Busy)
			}
		}
	}()

	err = eg.Wait()
	log.Println("guppy stopped")
	return err
}
