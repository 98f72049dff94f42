package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fortiblox/guppy/internal/types"
	"github.com/fortiblox/guppy/pkg/arraystore"
	"github.com/fortiblox/guppy/pkg/programstore"
	"github.com/fortiblox/guppy/pkg/vm"
	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

// Version information.
const (
	GuppyCore = "guppy-0.1.0"
)

// parseArgs parses positional params, requiring at least n entries.
func parseArgs(params json.RawMessage, n int, what string) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < n {
		return nil, InvalidParamsErrorf("missing %s parameter", what)
	}
	return args, nil
}

// parseString unmarshals a string argument.
func parseString(raw json.RawMessage, what string) (string, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", InvalidParamsErrorf("invalid %s", what)
	}
	return s, nil
}

// parseConfig decodes the optional config object at args[i].
func parseConfig(args []json.RawMessage, i int, cfg interface{}) *RPCError {
	if len(args) <= i {
		return nil
	}
	if err := json.Unmarshal(args[i], cfg); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

// Node Methods

func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return map[string]interface{}{
		"guppy-core": GuppyCore,
		"opcodes":    int(bytecode.OpAddInt),
	}, nil
}

func (s *Server) getConfig(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return s.kernel.Config(), nil
}

func (s *Server) getStats(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	stats := Stats{
		Kernel:        s.kernel.Totals(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	ps, err := s.programs.Stats()
	if err != nil {
		return nil, InternalServerErrorf("failed to get program stats: %v", err)
	}
	stats.ProgramCount = ps.ProgramCount
	stats.ProgramBytes = ps.TotalBytes

	n, err := s.arrays.ArraysCount()
	if err != nil {
		return nil, InternalServerErrorf("failed to count arrays: %v", err)
	}
	stats.ArrayCount = n
	return stats, nil
}

// Program Methods

// putProgram stores a program: [code, {encoding, name}?].
func (s *Server) putProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "code")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg PutProgramConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	code, rpcErr := s.decodeProgram(args[0], cfg.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sum, err := bytecode.Verify(code, s.limits(0))
	if err != nil {
		return nil, ProgramRejectedError(err)
	}
	id, err := s.programs.Put(cfg.Name, code)
	if err != nil {
		return nil, InternalServerErrorf("failed to store program: %v", err)
	}
	return PutProgramResult{ID: id, Size: len(code), Instructions: sum.Instructions}, nil
}

// getProgram returns a stored program: [ref, {encoding}?].
func (s *Server) getProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program")
	if rpcErr != nil {
		return nil, rpcErr
	}
	ref, rpcErr := parseString(args[0], "program")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg EncodingConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Encoding == EncodingJSON {
		return nil, InvalidParamsError("json encoding is only valid for arrays")
	}

	rec, rpcErr := s.resolveProgram(ref)
	if rpcErr != nil {
		return nil, rpcErr
	}
	code, err := EncodeBytes(rec.Code, cfg.Encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode program: %v", err)
	}
	return ProgramInfo{ID: rec.ID, Name: rec.Name, Code: code, Created: rec.Created}, nil
}

func (s *Server) listPrograms(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	infos, err := s.programs.List()
	if err != nil {
		return nil, InternalServerErrorf("failed to list programs: %v", err)
	}
	if infos == nil {
		infos = []programstore.Info{}
	}
	return infos, nil
}

// verifyProgram checks a program against the kernel configuration:
// [source, {encoding}?]. With an encoding the source is inline code,
// otherwise it names a stored program.
func (s *Server) verifyProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	code, rpcErr := s.programSource(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sum, err := bytecode.Verify(code, s.limits(0))
	if err != nil {
		return VerifyResult{Valid: false, Error: err.Error()}, nil
	}
	res := VerifyResult{
		Valid:           true,
		Instructions:    sum.Instructions,
		SubInstructions: sum.SubInstructions,
		Maps:            sum.Maps,
		Opcodes:         make(map[string]int, len(sum.Opcodes)),
	}
	for tag, n := range sum.Opcodes {
		res.Opcodes[tag.String()] = n
	}
	return res, nil
}

// disassemble renders a program as text: [source, {encoding}?].
func (s *Server) disassemble(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	code, rpcErr := s.programSource(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	text, err := bytecode.Disassemble(code)
	if err != nil {
		return nil, ProgramRejectedError(err)
	}
	return text, nil
}

// Array Methods

// putArray stores an array: [name, data, {encoding}?].
func (s *Server) putArray(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 2, "name and data")
	if rpcErr != nil {
		return nil, rpcErr
	}
	name, rpcErr := parseString(args[0], "array name")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg EncodingConfig
	if rpcErr := parseConfig(args, 2, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}

	data, err := DecodeFloats(args[1], cfg.Encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid array data: %v", err)
	}
	digest, err := s.arrays.SetArray(name, data)
	if err != nil {
		return nil, InternalServerErrorf("failed to store array: %v", err)
	}
	return ArrayInfo{Name: name, Len: len(data), Digest: digest}, nil
}

// getArray returns an array: [name, {encoding}?].
func (s *Server) getArray(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "array name")
	if rpcErr != nil {
		return nil, rpcErr
	}
	name, rpcErr := parseString(args[0], "array name")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg EncodingConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}

	data, rpcErr := s.loadArray(name)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return encodeArray(name, data, cfg.Encoding)
}

// deleteArray removes an array and reports whether it existed: [name].
func (s *Server) deleteArray(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "array name")
	if rpcErr != nil {
		return nil, rpcErr
	}
	name, rpcErr := parseString(args[0], "array name")
	if rpcErr != nil {
		return nil, rpcErr
	}

	existed, err := s.arrays.HasArray(name)
	if err != nil {
		return nil, InternalServerErrorf("failed to look up array: %v", err)
	}
	if err := s.arrays.DeleteArray(name); err != nil {
		return nil, InternalServerErrorf("failed to delete array: %v", err)
	}
	return existed, nil
}

func (s *Server) listArrays(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	out := []ArrayInfo{}
	err := s.arrays.IterateArrays(func(info arraystore.Info) error {
		out = append(out, ArrayInfo{Name: info.Name, Len: info.Len, Digest: info.Digest})
		return nil
	})
	if err != nil {
		return nil, InternalServerErrorf("failed to list arrays: %v", err)
	}
	return out, nil
}

// Kernel Methods

// launch runs a stored program over stored arrays:
// [program, {arrays, groups, persist, return, encoding}].
func (s *Server) launch(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program")
	if rpcErr != nil {
		return nil, rpcErr
	}
	ref, rpcErr := parseString(args[0], "program")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg LaunchConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Groups < 0 {
		return nil, InvalidParamsError("groups must not be negative")
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}

	rec, rpcErr := s.resolveProgram(ref)
	if rpcErr != nil {
		return nil, rpcErr
	}

	// A name bound to several slots shares one slice.
	arrays := make([][]float32, len(cfg.Arrays))
	loaded := make(map[string][]float32, len(cfg.Arrays))
	for i, name := range cfg.Arrays {
		data, ok := loaded[name]
		if !ok {
			data, rpcErr = s.loadArray(name)
			if rpcErr != nil {
				return nil, rpcErr
			}
			loaded[name] = data
		}
		arrays[i] = data
	}

	groups := cfg.Groups
	if groups == 0 {
		if len(arrays) == 0 {
			return nil, InvalidParamsError("groups is required when no arrays are bound")
		}
		var err error
		if groups, err = vm.DefaultGroups(len(arrays[0]), s.kernel.Config().VectorWidth); err != nil {
			return nil, InvalidParamsErrorf("pass groups explicitly: %v", err)
		}
	}

	if s.config.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.LaunchTimeout)
		defer cancel()
	}

	launchID := uuid.New().String()
	stats, err := s.kernel.Launch(ctx, rec.Code, arrays, groups)
	if err != nil {
		return nil, launchError(launchID, err)
	}
	if s.config.LogRequests {
		log.Printf("[RPC] launch %s: program=%s groups=%d elapsed=%s", launchID, rec.ID, groups, stats.Duration)
	}

	res := LaunchResult{
		LaunchID:  launchID,
		ProgramID: rec.ID,
		Groups:    groups,
		Stats:     *stats,
	}
	if cfg.Persist {
		res.Digests = make(map[string]types.Digest, len(arrays))
		for i, name := range cfg.Arrays {
			if _, done := res.Digests[name]; done {
				continue
			}
			digest, err := s.arrays.SetArray(name, arrays[i])
			if err != nil {
				return nil, InternalServerErrorf("failed to persist array %s: %v", name, err)
			}
			res.Digests[name] = digest
		}
	}
	if cfg.Return {
		for i, name := range cfg.Arrays {
			data, rpcErr := encodeArray(name, arrays[i], cfg.Encoding)
			if rpcErr != nil {
				return nil, rpcErr
			}
			res.Arrays = append(res.Arrays, data)
		}
	}
	return res, nil
}

// Helpers

func (s *Server) limits(numArrays int) bytecode.Limits {
	cfg := s.kernel.Config()
	return cfg.Limits(numArrays)
}

func (s *Server) decodeProgram(raw json.RawMessage, encoding Encoding) ([]byte, *RPCError) {
	if encoding == EncodingJSON {
		return nil, InvalidParamsError("json encoding is only valid for arrays")
	}
	str, rpcErr := parseString(raw, "code")
	if rpcErr != nil {
		return nil, rpcErr
	}
	code, err := DecodeBytes(str, encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid code: %v", err)
	}
	return code, nil
}

// programSource returns inline code when the config names an encoding and
// the stored program otherwise.
func (s *Server) programSource(params json.RawMessage) ([]byte, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg EncodingConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Encoding != "" {
		return s.decodeProgram(args[0], cfg.Encoding)
	}
	ref, rpcErr := parseString(args[0], "program")
	if rpcErr != nil {
		return nil, rpcErr
	}
	rec, rpcErr := s.resolveProgram(ref)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return rec.Code, nil
}

func (s *Server) resolveProgram(ref string) (*programstore.Record, *RPCError) {
	rec, err := s.programs.Resolve(ref)
	if errors.Is(err, programstore.ErrNotFound) {
		return nil, ProgramNotFoundError(ref)
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load program: %v", err)
	}
	return rec, nil
}

func (s *Server) loadArray(name string) ([]float32, *RPCError) {
	data, err := s.arrays.GetArray(name)
	if errors.Is(err, arraystore.ErrNotFound) {
		return nil, ArrayNotFoundError(name)
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load array %s: %v", name, err)
	}
	return data, nil
}

func encodeArray(name string, data []float32, encoding Encoding) (ArrayData, *RPCError) {
	enc, err := EncodeFloats(data, encoding)
	if err != nil {
		return ArrayData{}, InternalServerErrorf("failed to encode array %s: %v", name, err)
	}
	return ArrayData{Name: name, Len: len(data), Data: enc}, nil
}

func launchError(launchID string, err error) *RPCError {
	data := map[string]string{"launchId": launchID}
	switch {
	case errors.Is(err, vm.ErrKernelFault):
		return NewRPCErrorWithData(KernelFault, err.Error(), data)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewRPCErrorWithData(LaunchCanceled, err.Error(), data)
	case errors.Is(err, vm.ErrInvalidLaunch):
		return InvalidParamsError(err.Error())
	default:
		return NewRPCErrorWithData(ProgramRejected, err.Error(), data)
	}
}
