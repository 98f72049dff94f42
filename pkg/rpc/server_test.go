package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/guppy/pkg/arraystore"
	"github.com/fortiblox/guppy/pkg/programstore"
	"github.com/fortiblox/guppy/pkg/vm"
	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	kcfg := vm.DefaultConfig()
	kcfg.VectorWidth = 8
	kcfg.LanesPerGroup = 2
	kernel, err := vm.NewKernel(kcfg)
	if err != nil {
		t.Fatalf("NewKernel() failed: %v", err)
	}

	pcfg := programstore.DefaultConfig(filepath.Join(t.TempDir(), "programs.db"))
	pcfg.NoSync = true
	programs, err := programstore.Open(pcfg)
	if err != nil {
		t.Fatalf("programstore.Open() failed: %v", err)
	}
	t.Cleanup(func() { programs.Close() })

	acfg := arraystore.DefaultBadgerDBConfig("")
	acfg.InMemory = true
	arrays, err := arraystore.NewBadgerDB(acfg)
	if err != nil {
		t.Fatalf("NewBadgerDB() failed: %v", err)
	}
	t.Cleanup(func() { arrays.Close() })

	config := DefaultConfig()
	config.Addr = "127.0.0.1:0"
	return New(config, kernel, programs, arrays)
}

// makeRPCRequest is a helper to make RPC requests.
func makeRPCRequest(t *testing.T, server *Server, method string, params ...interface{}) *Response {
	t.Helper()

	var paramsRaw json.RawMessage
	if len(params) > 0 {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			t.Fatalf("Failed to marshal params: %v", err)
		}
	}

	body, err := json.Marshal(Request{JSONRPC: JSONRPCVersion, ID: 1, Method: method, Params: paramsRaw})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	return &resp
}

// decodeResult re-decodes a generic result into v.
func decodeResult(t *testing.T, resp *Response, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("Failed to decode result %s: %v", raw, err)
	}
}

func encode64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func doubleProgram() []byte {
	return bytecode.NewBuilder().
		LoadVector(0, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		IAdd(0, 0).
		StoreVector(0, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		MustProgram()
}

func TestGetHealth(t *testing.T) {
	server := newTestServer(t)

	var result string
	decodeResult(t, makeRPCRequest(t, server, "getHealth"), &result)
	if result != "ok" {
		t.Errorf("Expected 'ok', got: %s", result)
	}

	server.SetHealthy(false)
	resp := makeRPCRequest(t, server, "getHealth")
	if resp.Error == nil || resp.Error.Code != NodeUnhealthy {
		t.Errorf("Expected NodeUnhealthy, got: %v", resp.Error)
	}
}

func TestGetVersionAndConfig(t *testing.T) {
	server := newTestServer(t)

	var version map[string]interface{}
	decodeResult(t, makeRPCRequest(t, server, "getVersion"), &version)
	if version["guppy-core"] != GuppyCore {
		t.Errorf("Expected guppy-core %s, got: %v", GuppyCore, version["guppy-core"])
	}

	var cfg vm.Config
	decodeResult(t, makeRPCRequest(t, server, "getConfig"), &cfg)
	if cfg.VectorWidth != 8 || cfg.LanesPerGroup != 2 {
		t.Errorf("getConfig = %+v", cfg)
	}
}

func TestProgramMethods(t *testing.T) {
	server := newTestServer(t)
	code := doubleProgram()

	var put PutProgramResult
	decodeResult(t, makeRPCRequest(t, server, "putProgram", encode64(code), PutProgramConfig{Name: "double"}), &put)
	if put.Size != len(code) || put.Instructions != 3 {
		t.Errorf("putProgram = %+v", put)
	}

	for _, enc := range []Encoding{EncodingBase64, EncodingBase58, EncodingBase64Zstd} {
		var info ProgramInfo
		decodeResult(t, makeRPCRequest(t, server, "getProgram", "double", EncodingConfig{Encoding: enc}), &info)
		if info.ID != put.ID {
			t.Errorf("%s: id = %s, want %s", enc, info.ID, put.ID)
		}
		got, err := DecodeBytes(info.Code[0], Encoding(info.Code[1]))
		if err != nil {
			t.Fatalf("%s: DecodeBytes() failed: %v", enc, err)
		}
		if !bytes.Equal(got, code) {
			t.Errorf("%s: code mismatch", enc)
		}
	}

	var list []programstore.Info
	decodeResult(t, makeRPCRequest(t, server, "listPrograms"), &list)
	if len(list) != 1 || list[0].Name != "double" {
		t.Errorf("listPrograms = %+v", list)
	}

	var verified VerifyResult
	decodeResult(t, makeRPCRequest(t, server, "verifyProgram", put.ID.String()), &verified)
	if !verified.Valid || verified.Opcodes["IAdd"] != 1 {
		t.Errorf("verifyProgram = %+v", verified)
	}

	var text string
	decodeResult(t, makeRPCRequest(t, server, "disassemble", "double"), &text)
	if !strings.Contains(text, "IAdd") || strings.Count(text, "\n") != 3 {
		t.Errorf("disassemble = %q", text)
	}

	resp := makeRPCRequest(t, server, "getProgram", "missing")
	if resp.Error == nil || resp.Error.Code != ProgramNotFound {
		t.Errorf("Expected ProgramNotFound, got: %v", resp.Error)
	}
}

func TestPutProgramRejected(t *testing.T) {
	server := newTestServer(t)

	bad := bytecode.NewBuilder().Add(0, 1, 99).MustProgram()
	resp := makeRPCRequest(t, server, "putProgram", encode64(bad))
	if resp.Error == nil || resp.Error.Code != ProgramRejected {
		t.Fatalf("Expected ProgramRejected, got: %v", resp.Error)
	}

	var verified VerifyResult
	decodeResult(t, makeRPCRequest(t, server, "verifyProgram", encode64(bad), EncodingConfig{Encoding: EncodingBase64}), &verified)
	if verified.Valid || verified.Error == "" {
		t.Errorf("verifyProgram = %+v, want invalid", verified)
	}
}

func TestArrayMethods(t *testing.T) {
	server := newTestServer(t)
	data := []float32{1.5, -2, 3, 4}

	var info ArrayInfo
	decodeResult(t, makeRPCRequest(t, server, "putArray", "x", data), &info)
	if info.Len != 4 {
		t.Errorf("putArray = %+v", info)
	}

	raw := encode64(arraystore.EncodeFloats([]float32{7, 8}))
	decodeResult(t, makeRPCRequest(t, server, "putArray", "y", raw, EncodingConfig{Encoding: EncodingBase64}), &info)
	if info.Len != 2 {
		t.Errorf("putArray(base64) = %+v", info)
	}

	var got struct {
		Name string    `json:"name"`
		Len  int       `json:"len"`
		Data []float32 `json:"data"`
	}
	decodeResult(t, makeRPCRequest(t, server, "getArray", "x"), &got)
	if len(got.Data) != 4 || got.Data[0] != 1.5 || got.Data[1] != -2 {
		t.Errorf("getArray = %+v", got)
	}

	var encoded struct {
		Data []string `json:"data"`
	}
	decodeResult(t, makeRPCRequest(t, server, "getArray", "y", EncodingConfig{Encoding: EncodingBase64Zstd}), &encoded)
	floats, err := DecodeFloats(mustJSON(t, encoded.Data[0]), Encoding(encoded.Data[1]))
	if err != nil || len(floats) != 2 || floats[1] != 8 {
		t.Errorf("getArray(base64+zstd) = %v, %v", floats, err)
	}

	var list []ArrayInfo
	decodeResult(t, makeRPCRequest(t, server, "listArrays"), &list)
	if len(list) != 2 || list[0].Name != "x" || list[1].Name != "y" {
		t.Errorf("listArrays = %+v", list)
	}

	var existed bool
	decodeResult(t, makeRPCRequest(t, server, "deleteArray", "x"), &existed)
	if !existed {
		t.Error("deleteArray(x) = false")
	}
	decodeResult(t, makeRPCRequest(t, server, "deleteArray", "x"), &existed)
	if existed {
		t.Error("deleteArray(x) twice = true")
	}

	resp := makeRPCRequest(t, server, "getArray", "x")
	if resp.Error == nil || resp.Error.Code != ArrayNotFound {
		t.Errorf("Expected ArrayNotFound, got: %v", resp.Error)
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestLaunch(t *testing.T) {
	server := newTestServer(t)

	var put PutProgramResult
	decodeResult(t, makeRPCRequest(t, server, "putProgram", encode64(doubleProgram()), PutProgramConfig{Name: "double"}), &put)

	input := make([]float32, 24)
	for i := range input {
		input[i] = float32(i)
	}
	decodeResult(t, makeRPCRequest(t, server, "putArray", "x", input), &ArrayInfo{})

	var res struct {
		LaunchID string         `json:"launchId"`
		Groups   int            `json:"groups"`
		Stats    vm.LaunchStats `json:"stats"`
		Arrays   []struct {
			Data []float32 `json:"data"`
		} `json:"arrays"`
	}
	decodeResult(t, makeRPCRequest(t, server, "launch", "double", LaunchConfig{
		Arrays:  []string{"x"},
		Persist: true,
		Return:  true,
	}), &res)

	if res.LaunchID == "" {
		t.Error("Expected a launch id")
	}
	if res.Groups != 3 || res.Stats.Groups != 3 {
		t.Errorf("groups = %d/%d, want 3", res.Groups, res.Stats.Groups)
	}
	if len(res.Arrays) != 1 || len(res.Arrays[0].Data) != 24 {
		t.Fatalf("arrays = %+v", res.Arrays)
	}
	for i, v := range res.Arrays[0].Data {
		if v != 2*float32(i) {
			t.Errorf("x[%d] = %v, want %v", i, v, 2*float32(i))
		}
	}

	// Persisted: a second launch doubles again.
	decodeResult(t, makeRPCRequest(t, server, "launch", put.ID.String(), LaunchConfig{Arrays: []string{"x"}, Persist: true}), &res)
	var got struct {
		Data []float32 `json:"data"`
	}
	decodeResult(t, makeRPCRequest(t, server, "getArray", "x"), &got)
	if got.Data[5] != 20 {
		t.Errorf("x[5] = %v, want 20", got.Data[5])
	}

	var stats Stats
	decodeResult(t, makeRPCRequest(t, server, "getStats"), &stats)
	if stats.Kernel.Launches != 2 || stats.ProgramCount != 1 || stats.ArrayCount != 1 {
		t.Errorf("getStats = %+v", stats)
	}
}

func TestLaunchSharedSlot(t *testing.T) {
	server := newTestServer(t)

	// a1 = 2*a0, then a0 = 2*a0 + a1. Through one slice this yields 4x.
	prog := bytecode.NewBuilder().
		LoadVector(0, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		IAdd(0, 0).
		StoreVector(0, 1, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		LoadVector(1, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		IAdd(1, 0).
		StoreVector(0, 0, bytecode.RegGroupEltStart, bytecode.RegVectorWidth).
		MustProgram()
	makeRPCRequest(t, server, "putProgram", encode64(prog), PutProgramConfig{Name: "alias"})

	input := make([]float32, 8)
	for i := range input {
		input[i] = float32(i)
	}
	decodeResult(t, makeRPCRequest(t, server, "putArray", "x", input), &ArrayInfo{})

	var res struct {
		Digests map[string]string `json:"digests"`
		Arrays  []struct {
			Data []float32 `json:"data"`
		} `json:"arrays"`
	}
	decodeResult(t, makeRPCRequest(t, server, "launch", "alias", LaunchConfig{
		Arrays:  []string{"x", "x"},
		Persist: true,
		Return:  true,
	}), &res)

	if len(res.Digests) != 1 {
		t.Errorf("digests = %v, want one entry", res.Digests)
	}
	if len(res.Arrays) != 2 {
		t.Fatalf("arrays = %+v", res.Arrays)
	}
	var got struct {
		Data []float32 `json:"data"`
	}
	decodeResult(t, makeRPCRequest(t, server, "getArray", "x"), &got)
	for i := range input {
		want := 4 * float32(i)
		if got.Data[i] != want || res.Arrays[0].Data[i] != want || res.Arrays[1].Data[i] != want {
			t.Errorf("x[%d] = %v (slots %v, %v), want %v",
				i, got.Data[i], res.Arrays[0].Data[i], res.Arrays[1].Data[i], want)
		}
	}
}

func TestLaunchErrors(t *testing.T) {
	server := newTestServer(t)
	makeRPCRequest(t, server, "putProgram", encode64(doubleProgram()), PutProgramConfig{Name: "double"})
	decodeResult(t, makeRPCRequest(t, server, "putArray", "ragged", make([]float32, 10)), &ArrayInfo{})

	tests := []struct {
		name   string
		params []interface{}
		code   int
	}{
		{"missing program", []interface{}{"nope", LaunchConfig{Groups: 1}}, ProgramNotFound},
		{"missing array", []interface{}{"double", LaunchConfig{Arrays: []string{"x"}}}, ArrayNotFound},
		{"no groups", []interface{}{"double", LaunchConfig{}}, InvalidParams},
		{"negative groups", []interface{}{"double", LaunchConfig{Groups: -1}}, InvalidParams},
		{"array slot out of range", []interface{}{"double", LaunchConfig{Groups: 1}}, ProgramRejected},
		{"ragged first array", []interface{}{"double", LaunchConfig{Arrays: []string{"ragged"}}}, InvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := makeRPCRequest(t, server, "launch", tt.params...)
			if resp.Error == nil {
				t.Fatal("Expected error")
			}
			if resp.Error.Code != tt.code {
				t.Errorf("Expected error code %d, got: %d (%s)", tt.code, resp.Error.Code, resp.Error.Message)
			}
		})
	}
}

func TestMethodNotFound(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "nonExistentMethod")
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("Expected MethodNotFound, got: %v", resp.Error)
	}
}

func TestInvalidParams(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "putArray", "x")
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("Expected InvalidParams, got: %v", resp.Error)
	}
}

func TestBatchRequest(t *testing.T) {
	server := newTestServer(t)

	requests := []Request{
		{JSONRPC: JSONRPCVersion, ID: 1, Method: "getHealth"},
		{JSONRPC: JSONRPCVersion, ID: 2, Method: "getVersion"},
		{JSONRPC: "1.0", ID: 3, Method: "getHealth"},
	}

	body, _ := json.Marshal(requests)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var responses []Response
	if err := json.Unmarshal(rr.Body.Bytes(), &responses); err != nil {
		t.Fatalf("Failed to unmarshal batch response: %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("Expected 3 responses, got: %d", len(responses))
	}
	if responses[0].Error != nil || responses[1].Error != nil {
		t.Errorf("Unexpected error in batch response: %v %v", responses[0].Error, responses[1].Error)
	}
	if responses[2].Error == nil || responses[2].Error.Code != InvalidRequest {
		t.Errorf("Expected InvalidRequest for wrong version, got: %v", responses[2].Error)
	}
}

func TestParseError(t *testing.T) {
	server := newTestServer(t)

	httpReq := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("Expected ParseError, got: %v", resp.Error)
	}

	rr = httptest.NewRecorder()
	server.handleRPC(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestCORSHeaders(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://example.com")

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status %d for OPTIONS, got: %d", http.StatusNoContent, rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Error("Expected CORS Allow-Origin header")
	}
}

func TestOverHTTP(t *testing.T) {
	server := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	body := `{"jsonrpc":"2.0","id":7,"method":"getHealth"}`
	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Result != "ok" || out.ID != float64(7) {
		t.Errorf("response = %+v", out)
	}
}

func TestServerLifecycle(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	<-ctx.Done()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Server did not stop in time")
	}
}

func TestEncoding(t *testing.T) {
	data := []float32{1, -0.5, 1e6}
	for _, enc := range []Encoding{EncodingBase58, EncodingBase64, EncodingBase64Zstd} {
		wire, err := EncodeFloats(data, enc)
		if err != nil {
			t.Fatalf("%s: EncodeFloats() failed: %v", enc, err)
		}
		pair := wire.([]string)
		if pair[1] != string(enc) {
			t.Errorf("%s: encoding tag = %s", enc, pair[1])
		}
		got, err := DecodeFloats(mustJSON(t, pair[0]), enc)
		if err != nil {
			t.Fatalf("%s: DecodeFloats() failed: %v", enc, err)
		}
		if len(got) != 3 || got[2] != 1e6 {
			t.Errorf("%s: round trip = %v", enc, got)
		}
	}

	if ParseEncoding("bogus") != EncodingBase64 {
		t.Error("ParseEncoding(bogus) should fall back to base64")
	}
	if _, err := DecodeBytes("x", Encoding("hex")); err == nil {
		t.Error("DecodeBytes(hex) succeeded")
	}
}
