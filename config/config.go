package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config carries the node-level settings for the escrow daemon. Ledger-side
// parameters (limits, whitelist, fees) seed contract state at first start and
// are mutable afterwards only through the admin RPC surface.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	Environment string `toml:"Environment"`

	// AdminAddress initializes the contract on first start. Hex, 0x-prefixed.
	AdminAddress string `toml:"AdminAddress"`

	LogFile string `toml:"LogFile,omitempty"`

	// Transport-level limit applied per client IP at the RPC boundary. The
	// on-ledger anti-abuse limiter is configured separately below.
	RPCRequestsPerMinute float64 `toml:"RPCRequestsPerMinute"`
	RPCBurst             int     `toml:"RPCBurst"`

	AntiAbuse AntiAbuseConfig `toml:"AntiAbuse"`
}

// AntiAbuseConfig seeds the on-ledger sliding-window limiter at first start.
type AntiAbuseConfig struct {
	WindowLengthSeconds     uint64   `toml:"WindowLengthSeconds"`
	MaxOpsPerWindow         uint32   `toml:"MaxOpsPerWindow"`
	CooldownDurationSeconds uint64   `toml:"CooldownDurationSeconds"`
	Whitelist               []string `toml:"Whitelist,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:           "127.0.0.1:8651",
		DataDir:              "./grainlify-data",
		NetworkName:          "grainlify-local",
		Environment:          "dev",
		RPCRequestsPerMinute: 600,
		RPCBurst:             30,
		AntiAbuse: AntiAbuseConfig{
			WindowLengthSeconds:     60,
			MaxOpsPerWindow:         30,
			CooldownDurationSeconds: 120,
		},
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown field %s", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.RPCAddress == "" {
		return fmt.Errorf("config: RPCAddress is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if c.RPCRequestsPerMinute < 0 || c.RPCBurst < 0 {
		return fmt.Errorf("config: RPC rate limit values must be non-negative")
	}
	return nil
}
