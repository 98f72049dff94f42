// Package grpcapi exposes the kernel over gRPC.
//
// There is no .proto file. The service descriptor is written by hand and the
// messages are plain structs carried by a CBOR codec, so both sides must use
// Codec (ServerOptions and the Client do this).
package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/fortiblox/guppy/pkg/vm"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "guppy.v1.Kernel"

// Full method names.
const (
	LaunchMethod      = "/" + ServiceName + "/Launch"
	VerifyMethod      = "/" + ServiceName + "/Verify"
	DisassembleMethod = "/" + ServiceName + "/Disassemble"
)

// LaunchRequest runs an inline program over inline arrays.
type LaunchRequest struct {
	Program []byte      `cbor:"1,keyasint"`
	Arrays  [][]float32 `cbor:"2,keyasint"`

	// Groups is the number of execution contexts. Zero derives it from the
	// first array.
	Groups int `cbor:"3,keyasint,omitempty"`
}

// LaunchResponse carries the arrays after the launch.
type LaunchResponse struct {
	LaunchID string         `cbor:"1,keyasint"`
	Groups   int            `cbor:"2,keyasint"`
	Arrays   [][]float32    `cbor:"3,keyasint"`
	Stats    vm.LaunchStats `cbor:"4,keyasint"`
}

// VerifyRequest checks a program against the server's kernel configuration
// for a launch over NumArrays arrays. NumArrays zero skips the array check.
type VerifyRequest struct {
	Program   []byte `cbor:"1,keyasint"`
	NumArrays int    `cbor:"2,keyasint,omitempty"`
}

// VerifyResponse reports the verifier result. A rejected program is Valid
// false with Error set, not an RPC error.
type VerifyResponse struct {
	Valid           bool   `cbor:"1,keyasint"`
	Error           string `cbor:"2,keyasint,omitempty"`
	Instructions    int    `cbor:"3,keyasint"`
	SubInstructions int    `cbor:"4,keyasint"`
	Maps            int    `cbor:"5,keyasint"`
}

// DisassembleRequest asks for a program listing.
type DisassembleRequest struct {
	Program []byte `cbor:"1,keyasint"`
}

// DisassembleResponse holds the listing.
type DisassembleResponse struct {
	Text string `cbor:"1,keyasint"`
}

// KernelServer is the server API of the kernel service.
type KernelServer interface {
	Launch(context.Context, *LaunchRequest) (*LaunchResponse, error)
	Verify(context.Context, *VerifyRequest) (*VerifyResponse, error)
	Disassemble(context.Context, *DisassembleRequest) (*DisassembleResponse, error)
}

// RegisterKernelServer registers srv on s.
func RegisterKernelServer(s grpc.ServiceRegistrar, srv KernelServer) {
	s.RegisterService(&KernelServiceDesc, srv)
}

// KernelServiceDesc describes the kernel service.
var KernelServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KernelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Launch", Handler: launchHandler},
		{MethodName: "Verify", Handler: verifyHandler},
		{MethodName: "Disassemble", Handler: disassembleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "guppy/v1/kernel",
}

func launchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LaunchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KernelServer).Launch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LaunchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KernelServer).Launch(ctx, req.(*LaunchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func verifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(VerifyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KernelServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KernelServer).Verify(ctx, req.(*VerifyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func disassembleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DisassembleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KernelServer).Disassemble(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DisassembleMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KernelServer).Disassemble(ctx, req.(*DisassembleRequest))
	}
	return interceptor(ctx, in, info, handler)
}
