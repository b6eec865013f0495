package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultConfigFile is the file looked up in the working directory when no
// config path is given.
const DefaultConfigFile = "luavm.toml"

// Config is the runtime configuration for the luavm command. It is read from
// a toml file and then overridden by command line flags.
type Config struct {
	// Compiler is the executable used to turn lua source into a binary chunk.
	Compiler string `toml:"compiler"`
	// CompilerArgs are extra arguments passed to the compiler before the output flag.
	CompilerArgs []string `toml:"compiler_args"`
	// Trace logs every executed instruction.
	Trace bool `toml:"trace"`
	// MaxSteps stops execution after this many instructions. Zero means unlimited.
	MaxSteps int64 `toml:"max_steps"`
	// Quiet discards output from print.
	Quiet bool `toml:"quiet"`
	// Debug enables debug logging.
	Debug bool `toml:"debug"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{Compiler: "luac"}
}

// LoadConfig reads the config at path. A missing file is not an error when
// the path is the default path, in which case defaults are returned.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return DefaultConfig(), nil
	} else if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes toml config data and fills in any defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := new(Config)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Compiler == "" {
		cfg.Compiler = DefaultConfig().Compiler
	}
	if cfg.MaxSteps < 0 {
		return nil, fmt.Errorf("parse config: max_steps must not be negative, got %d", cfg.MaxSteps)
	}
	return cfg, nil
}
