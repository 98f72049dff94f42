package grpcapi

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/fortiblox/guppy/pkg/vm"
	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	kcfg := vm.DefaultConfig()
	kcfg.VectorWidth = 8
	kcfg.LanesPerGroup = 4
	kernel, err := vm.NewKernel(kcfg)
	if err != nil {
		t.Fatalf("NewKernel() failed: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(DefaultConfig(), kernel)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	//nolint:staticcheck
	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

// squareProgram computes a0[i] = a0[i] * a0[i] through a Map.
func squareProgram() []byte {
	sub := bytecode.NewBuilder().Mul(0, 0, 1).MustProgram()
	return bytecode.NewBuilder().
		LoadVector(0, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		Map(0, 1, 0, 1, sub).
		StoreVector(1, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		MustProgram()
}

func TestLaunch(t *testing.T) {
	client := newTestClient(t)

	input := make([]float32, 16)
	for i := range input {
		input[i] = float32(i)
	}
	resp, err := client.Launch(context.Background(), &LaunchRequest{
		Program: squareProgram(),
		Arrays:  [][]float32{input},
	})
	if err != nil {
		t.Fatalf("Launch() failed: %v", err)
	}

	if resp.LaunchID == "" {
		t.Error("Expected a launch id")
	}
	if resp.Groups != 2 || resp.Stats.Groups != 2 {
		t.Errorf("groups = %d/%d, want 2", resp.Groups, resp.Stats.Groups)
	}
	if resp.Stats.MapCalls != 16 {
		t.Errorf("MapCalls = %d, want 16", resp.Stats.MapCalls)
	}
	if len(resp.Arrays) != 1 || len(resp.Arrays[0]) != 16 {
		t.Fatalf("arrays = %v", resp.Arrays)
	}
	for i, v := range resp.Arrays[0] {
		if want := float32(i * i); v != want {
			t.Errorf("a0[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestLaunchEmptyProgram(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.Launch(context.Background(), &LaunchRequest{Groups: 2})
	if err != nil {
		t.Fatalf("Launch() failed: %v", err)
	}
	if resp.Groups != 2 || resp.Stats.Groups != 2 || resp.Stats.Instructions != 0 {
		t.Errorf("Launch() = %+v, want 2 groups and no instructions", resp)
	}
}

func TestLaunchErrors(t *testing.T) {
	client := newTestClient(t)

	tests := []struct {
		name string
		req  *LaunchRequest
	}{
		{"ragged array", &LaunchRequest{Program: squareProgram(), Arrays: [][]float32{make([]float32, 10)}}},
		{"no groups", &LaunchRequest{Program: squareProgram()}},
		{"negative groups", &LaunchRequest{Program: squareProgram(), Groups: -2}},
		{"missing array", &LaunchRequest{Program: squareProgram(), Groups: 1}},
		{"bad register", &LaunchRequest{Program: bytecode.NewBuilder().IAdd(0, 42).MustProgram(), Groups: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Launch(context.Background(), tt.req)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("Launch() code = %v, want InvalidArgument (%v)", status.Code(err), err)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.Verify(context.Background(), &VerifyRequest{Program: squareProgram(), NumArrays: 1})
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if !resp.Valid || resp.Instructions != 3 || resp.SubInstructions != 1 || resp.Maps != 1 {
		t.Errorf("Verify() = %+v", resp)
	}

	bad := bytecode.NewBuilder().Raw([]byte{0xff, 0x00, 0x04, 0x00}).MustProgram()
	resp, err = client.Verify(context.Background(), &VerifyRequest{Program: bad})
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if resp.Valid || resp.Error == "" {
		t.Errorf("Verify(bad) = %+v, want invalid", resp)
	}
}

func TestDisassemble(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.Disassemble(context.Background(), &DisassembleRequest{Program: squareProgram()})
	if err != nil {
		t.Fatalf("Disassemble() failed: %v", err)
	}
	for _, want := range []string{"LoadVector", "Map", "Mul", "StoreVector"} {
		if !strings.Contains(resp.Text, want) {
			t.Errorf("listing missing %s:\n%s", want, resp.Text)
		}
	}

	_, err = client.Disassemble(context.Background(), &DisassembleRequest{Program: []byte{1}})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Disassemble(truncated) code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestCodecDeterministic(t *testing.T) {
	req := &LaunchRequest{Program: []byte{1, 2, 3}, Arrays: [][]float32{{0.5, -1}, {}}, Groups: 3}

	var c Codec
	a, err := c.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	b, _ := c.Marshal(req)
	if !bytes.Equal(a, b) {
		t.Error("Marshal() is not deterministic")
	}

	var got LaunchRequest
	if err := c.Unmarshal(a, &got); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if got.Groups != 3 || !bytes.Equal(got.Program, req.Program) || got.Arrays[0][1] != -1 {
		t.Errorf("Unmarshal() = %+v", got)
	}
	if c.Name() != CodecName {
		t.Errorf("Name() = %s", c.Name())
	}
}
