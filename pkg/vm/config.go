package vm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

// Default configuration values.
const (
	DefaultVectorWidth      = 1024
	DefaultVectorPadding    = 1
	DefaultLanesPerGroup    = 256
	DefaultNumVecRegisters  = 8
	DefaultNumScalarRegs    = 64
	DefaultMaxProgramLength = 4096
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid kernel configuration")

// Config holds the fixed parameters of the kernel. A Config is read-only once
// a Kernel has been created from it.
type Config struct {
	// VectorWidth is the number of logical elements in a vector register.
	VectorWidth int `json:"vectorWidth" toml:"vector_width" yaml:"vector_width"`

	// VectorPadding is the number of unused elements after each vector
	// register.
	VectorPadding int `json:"vectorPadding" toml:"vector_padding" yaml:"vector_padding"`

	// LanesPerGroup is the number of cooperating lanes in one execution
	// context. VectorWidth must be a multiple of it.
	LanesPerGroup int `json:"lanesPerGroup" toml:"lanes_per_group" yaml:"lanes_per_group"`

	// Register file sizes.
	NumVecRegisters    int `json:"vectorRegisters" toml:"vector_registers" yaml:"vector_registers"`
	NumIntRegisters    int `json:"intRegisters" toml:"int_registers" yaml:"int_registers"`
	NumLongRegisters   int `json:"longRegisters" toml:"long_registers" yaml:"long_registers"`
	NumFloatRegisters  int `json:"floatRegisters" toml:"float_registers" yaml:"float_registers"`
	NumDoubleRegisters int `json:"doubleRegisters" toml:"double_registers" yaml:"double_registers"`

	// MaxProgramLength is the size of the staging buffer.
	MaxProgramLength int `json:"maxProgramLength" toml:"max_program_length" yaml:"max_program_length"`

	// CheckLoadBounds clamps the load element count to VectorWidth.
	CheckLoadBounds bool `json:"checkLoadBounds" toml:"check_load_bounds" yaml:"check_load_bounds"`

	// CheckStoreBounds clamps the store element count to VectorWidth.
	CheckStoreBounds bool `json:"checkStoreBounds" toml:"check_store_bounds" yaml:"check_store_bounds"`

	// PrefetchBytecode stages the program into a group-local buffer before
	// execution.
	PrefetchBytecode bool `json:"prefetchBytecode" toml:"prefetch_bytecode" yaml:"prefetch_bytecode"`

	// SharedScalars selects one scalar register file per group instead of
	// one per lane.
	SharedScalars bool `json:"sharedScalars" toml:"shared_scalars" yaml:"shared_scalars"`

	// MaxConcurrentGroups bounds how many execution contexts of one launch
	// run at the same time. 0 means GOMAXPROCS.
	MaxConcurrentGroups int `json:"maxConcurrentGroups" toml:"max_concurrent_groups" yaml:"max_concurrent_groups"`

	// Verify runs bytecode.Verify on every launch. The kernel itself trusts
	// its program.
	Verify bool `json:"verify" toml:"verify" yaml:"verify"`
}

// DefaultConfig returns the default kernel configuration.
func DefaultConfig() Config {
	return Config{
		VectorWidth:        DefaultVectorWidth,
		VectorPadding:      DefaultVectorPadding,
		LanesPerGroup:      DefaultLanesPerGroup,
		NumVecRegisters:    DefaultNumVecRegisters,
		NumIntRegisters:    DefaultNumScalarRegs,
		NumLongRegisters:   DefaultNumScalarRegs,
		NumFloatRegisters:  DefaultNumScalarRegs,
		NumDoubleRegisters: DefaultNumScalarRegs,
		MaxProgramLength:   DefaultMaxProgramLength,
		CheckLoadBounds:    true,
		CheckStoreBounds:   true,
		PrefetchBytecode:   true,
		SharedScalars:      false,
		Verify:             true,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.VectorWidth <= 0 {
		return fmt.Errorf("%w: vector width must be positive", ErrInvalidConfig)
	}
	if c.VectorPadding < 0 {
		return fmt.Errorf("%w: vector padding must not be negative", ErrInvalidConfig)
	}
	if c.LanesPerGroup <= 0 {
		return fmt.Errorf("%w: lanes per group must be positive", ErrInvalidConfig)
	}
	if c.VectorWidth%c.LanesPerGroup != 0 {
		return fmt.Errorf("%w: vector width %d is not a multiple of %d lanes", ErrInvalidConfig, c.VectorWidth, c.LanesPerGroup)
	}
	if c.NumVecRegisters <= 0 {
		return fmt.Errorf("%w: need at least one vector register", ErrInvalidConfig)
	}
	if c.NumIntRegisters < bytecode.NumReservedIntRegs {
		return fmt.Errorf("%w: need at least %d int registers", ErrInvalidConfig, bytecode.NumReservedIntRegs)
	}
	if c.NumLongRegisters <= 0 || c.NumFloatRegisters <= 0 || c.NumDoubleRegisters <= 0 {
		return fmt.Errorf("%w: scalar register banks must not be empty", ErrInvalidConfig)
	}
	if c.MaxProgramLength <= 0 {
		return fmt.Errorf("%w: max program length must be positive", ErrInvalidConfig)
	}
	if c.MaxConcurrentGroups < 0 {
		return fmt.Errorf("%w: max concurrent groups must not be negative", ErrInvalidConfig)
	}
	return nil
}

// WithDefaults returns a copy with default values applied for any zero
// sizes. Boolean toggles are left as they are.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.VectorWidth == 0 {
		c.VectorWidth = d.VectorWidth
	}
	if c.LanesPerGroup == 0 {
		c.LanesPerGroup = d.LanesPerGroup
	}
	if c.NumVecRegisters == 0 {
		c.NumVecRegisters = d.NumVecRegisters
	}
	if c.NumIntRegisters == 0 {
		c.NumIntRegisters = d.NumIntRegisters
	}
	if c.NumLongRegisters == 0 {
		c.NumLongRegisters = d.NumLongRegisters
	}
	if c.NumFloatRegisters == 0 {
		c.NumFloatRegisters = d.NumFloatRegisters
	}
	if c.NumDoubleRegisters == 0 {
		c.NumDoubleRegisters = d.NumDoubleRegisters
	}
	if c.MaxProgramLength == 0 {
		c.MaxProgramLength = d.MaxProgramLength
	}
	return c
}

// OpsPerLane returns the number of vector elements each lane owns.
func (c *Config) OpsPerLane() int {
	return c.VectorWidth / c.LanesPerGroup
}

// Limits returns the verification limits implied by the configuration for a
// launch over numArrays arrays.
func (c *Config) Limits(numArrays int) bytecode.Limits {
	l := bytecode.Limits{
		NumVecRegisters:   c.NumVecRegisters,
		NumIntRegisters:   c.NumIntRegisters,
		NumFloatRegisters: c.NumFloatRegisters,
		NumArrays:         numArrays,
	}
	if c.PrefetchBytecode {
		l.MaxProgramLength = c.MaxProgramLength
	}
	return l
}

func (c *Config) concurrency() int {
	if c.MaxConcurrentGroups > 0 {
		return c.MaxConcurrentGroups
	}
	return runtime.GOMAXPROCS(0)
}

// LoadConfig reads a TOML or YAML file over DefaultConfig. The format is
// chosen by extension.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse error in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
