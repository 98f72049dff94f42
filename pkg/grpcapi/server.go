package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/guppy/pkg/vm"
	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

// Config holds gRPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// MaxMessageSize bounds request and response sizes in bytes.
	MaxMessageSize int

	// LaunchTimeout bounds a single launch. Zero means no limit beyond the
	// call deadline.
	LaunchTimeout time.Duration

	// KeepaliveTime is the server ping interval on idle connections.
	KeepaliveTime time.Duration
}

// DefaultConfig returns a default gRPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8941",
		MaxMessageSize: 64 << 20,
		LaunchTimeout:  30 * time.Second,
		KeepaliveTime:  2 * time.Minute,
	}
}

// ServerOptions returns the grpc options the kernel service requires.
func ServerOptions(config Config) []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(Codec{}),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: config.KeepaliveTime}),
	}
	if config.MaxMessageSize > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(config.MaxMessageSize),
			grpc.MaxSendMsgSize(config.MaxMessageSize),
		)
	}
	return opts
}

// Server implements KernelServer on a vm.Kernel.
type Server struct {
	config Config
	kernel *vm.Kernel
	grpc   *grpc.Server

	// Logger receives one line per launch. Nil disables logging.
	Logger *log.Logger
}

// NewServer creates a kernel service and its grpc.Server.
func NewServer(config Config, kernel *vm.Kernel) *Server {
	s := &Server{
		config: config,
		kernel: kernel,
		grpc:   grpc.NewServer(ServerOptions(config)...),
	}
	RegisterKernelServer(s.grpc, s)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	go func() {
		<-ctx.Done()
		s.grpc.GracefulStop()
	}()

	log.Printf("[GRPC] Server starting on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop stops the server immediately.
func (s *Server) Stop() {
	s.grpc.Stop()
}

// Launch runs the request program over the request arrays.
func (s *Server) Launch(ctx context.Context, req *LaunchRequest) (*LaunchResponse, error) {
	cfg := s.kernel.Config()

	groups := req.Groups
	if groups < 0 {
		return nil, status.Error(codes.InvalidArgument, "groups must not be negative")
	}
	if groups == 0 {
		if len(req.Arrays) == 0 {
			return nil, status.Error(codes.InvalidArgument, "groups is required when no arrays are sent")
		}
		var err error
		if groups, err = vm.DefaultGroups(len(req.Arrays[0]), cfg.VectorWidth); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "pass groups explicitly: %v", err)
		}
	}
	if _, err := bytecode.Verify(req.Program, cfg.Limits(len(req.Arrays))); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "program rejected: %v", err)
	}

	if s.config.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.LaunchTimeout)
		defer cancel()
	}

	launchID := uuid.New().String()
	stats, err := s.kernel.Launch(ctx, req.Program, req.Arrays, groups)
	if err != nil {
		return nil, launchStatus(launchID, err)
	}
	if s.Logger != nil {
		s.Logger.Printf("[GRPC] launch %s: groups=%d elapsed=%s", launchID, groups, stats.Duration)
	}

	return &LaunchResponse{
		LaunchID: launchID,
		Groups:   groups,
		Arrays:   req.Arrays,
		Stats:    *stats,
	}, nil
}

// Verify runs the bytecode verifier with the kernel limits.
func (s *Server) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	cfg := s.kernel.Config()
	sum, err := bytecode.Verify(req.Program, cfg.Limits(req.NumArrays))
	if err != nil {
		return &VerifyResponse{Valid: false, Error: err.Error()}, nil
	}
	return &VerifyResponse{
		Valid:           true,
		Instructions:    sum.Instructions,
		SubInstructions: sum.SubInstructions,
		Maps:            sum.Maps,
	}, nil
}

// Disassemble lists the request program.
func (s *Server) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	text, err := bytecode.Disassemble(req.Program)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed program: %v", err)
	}
	return &DisassembleResponse{Text: text}, nil
}

func launchStatus(launchID string, err error) error {
	switch {
	case errors.Is(err, vm.ErrKernelFault):
		return status.Errorf(codes.Aborted, "launch %s: %v", launchID, err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "launch %s: %v", launchID, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "launch %s: %v", launchID, err)
	case errors.Is(err, vm.ErrInvalidLaunch):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Errorf(codes.Internal, "launch %s: %v", launchID, err)
	}
}
