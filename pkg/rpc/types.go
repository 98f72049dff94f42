package rpc

import (
	"encoding/json"
	"time"

	"github.com/fortiblox/guppy/internal/types"
	"github.com/fortiblox/guppy/pkg/vm"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding selects how bytes and float arrays travel on the wire.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"

	// EncodingJSON sends float arrays as plain JSON numbers. It is not valid
	// for program bytes.
	EncodingJSON Encoding = "json"
)

// EncodingConfig is the optional trailing config object of most methods.
type EncodingConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// PutProgramConfig configures putProgram.
type PutProgramConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
	Name     string   `json:"name,omitempty"`
}

// PutProgramResult is returned by putProgram.
type PutProgramResult struct {
	ID           types.ProgramID `json:"id"`
	Size         int             `json:"size"`
	Instructions int             `json:"instructions"`
}

// ProgramInfo is returned by getProgram.
type ProgramInfo struct {
	ID      types.ProgramID `json:"id"`
	Name    string          `json:"name,omitempty"`
	Code    []string        `json:"code"`
	Created time.Time       `json:"created"`
}

// VerifyResult is returned by verifyProgram. A program that fails
// verification is a successful call with Valid false.
type VerifyResult struct {
	Valid           bool           `json:"valid"`
	Error           string         `json:"error,omitempty"`
	Instructions    int            `json:"instructions"`
	SubInstructions int            `json:"subInstructions"`
	Maps            int            `json:"maps"`
	Opcodes         map[string]int `json:"opcodes,omitempty"`
}

// ArrayInfo is returned by putArray and listArrays.
type ArrayInfo struct {
	Name   string       `json:"name"`
	Len    int          `json:"len"`
	Digest types.Digest `json:"digest"`
}

// ArrayData is returned by getArray. Data is [payload, encoding] for the
// text encodings and a JSON number array for EncodingJSON.
type ArrayData struct {
	Name string      `json:"name"`
	Len  int         `json:"len"`
	Data interface{} `json:"data"`
}

// LaunchConfig configures launch.
type LaunchConfig struct {
	// Arrays names the stored arrays bound to array slots 0..n-1.
	Arrays []string `json:"arrays"`

	// Groups is the number of execution contexts. Zero derives it from the
	// length of the first array and the vector width.
	Groups int `json:"groups,omitempty"`

	// Persist writes the arrays back to the store after the launch.
	Persist bool `json:"persist,omitempty"`

	// Return includes the resulting arrays in the response.
	Return bool `json:"return,omitempty"`

	// Encoding applies to returned arrays.
	Encoding Encoding `json:"encoding,omitempty"`
}

// LaunchResult is returned by launch.
type LaunchResult struct {
	LaunchID  string                  `json:"launchId"`
	ProgramID types.ProgramID         `json:"programId"`
	Groups    int                     `json:"groups"`
	Stats     vm.LaunchStats          `json:"stats"`
	Digests   map[string]types.Digest `json:"digests,omitempty"`
	Arrays    []ArrayData             `json:"arrays,omitempty"`
}

// Stats is returned by getStats.
type Stats struct {
	Kernel        vm.Totals `json:"kernel"`
	ProgramCount  uint64    `json:"programCount"`
	ProgramBytes  uint64    `json:"programBytes"`
	ArrayCount    uint64    `json:"arrayCount"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
}
