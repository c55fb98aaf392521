// Package config loads node configuration from an INI file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"chord-network/pkg/utils"
)

// Config mirrors the recognized keys of the [dht] section.
type Config struct {
	// ListenAddress is the host:port for ring-facing TCP. Required.
	ListenAddress string `mapstructure:"listen_address"`
	// APIAddress is the host:port for the local client API. Required.
	APIAddress string `mapstructure:"api_address"`
	// StatusAddress enables the HTTP status endpoint when set.
	StatusAddress string `mapstructure:"status_address"`
	// WorkerThreads sizes the peer-handler pool.
	WorkerThreads int `mapstructure:"worker_threads"`
	// TimeoutMS is the per-socket timeout in milliseconds.
	TimeoutMS int `mapstructure:"timeout"`
	// Fingers is the finger table size F.
	Fingers int `mapstructure:"fingers"`
	// StabilizationIntervalS is the stabilizer period in seconds.
	StabilizationIntervalS int `mapstructure:"stabilization_interval"`
	// Replication is how many replication indices a client get searches.
	// Puts take their copy count from the DHT PUT request instead.
	Replication int `mapstructure:"replication"`
}

// fileConfig is the full configuration file: one [dht] section.
type fileConfig struct {
	DHT Config `mapstructure:"dht"`
}

// Defaults for the optional keys.
const (
	DefaultWorkerThreads         = 4
	DefaultTimeoutMS             = 300000
	DefaultFingers               = 128
	DefaultStabilizationInterval = 60
	DefaultReplication           = 4

	// MaxFingers is the identifier width; a finger beyond it would wrap.
	MaxFingers = 256
)

// Load reads the INI file at path and applies environment overrides
// (prefix CHORD_, e.g. CHORD_DHT_LISTEN_ADDRESS). A .env file in the
// working directory is honored before the environment is consulted.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	v.SetEnvPrefix("CHORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key so environment overrides apply even when the
	// file omits the key.
	v.SetDefault("dht.listen_address", "")
	v.SetDefault("dht.api_address", "")
	v.SetDefault("dht.status_address", "")
	v.SetDefault("dht.worker_threads", DefaultWorkerThreads)
	v.SetDefault("dht.timeout", DefaultTimeoutMS)
	v.SetDefault("dht.fingers", DefaultFingers)
	v.SetDefault("dht.stabilization_interval", DefaultStabilizationInterval)
	v.SetDefault("dht.replication", DefaultReplication)

	if err := v.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	cfg := fc.DHT
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: listen_address is required")
	}
	if c.APIAddress == "" {
		return fmt.Errorf("config: api_address is required")
	}
	if c.WorkerThreads <= 0 {
		return fmt.Errorf("config: worker_threads must be positive, got %d", c.WorkerThreads)
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %d", c.TimeoutMS)
	}
	if c.Fingers < 1 || c.Fingers > MaxFingers {
		return fmt.Errorf("config: fingers must be in [1, %d], got %d", MaxFingers, c.Fingers)
	}
	if c.StabilizationIntervalS <= 0 {
		return fmt.Errorf("config: stabilization_interval must be positive, got %d", c.StabilizationIntervalS)
	}
	if c.Replication < 1 || c.Replication > 255 {
		return fmt.Errorf("config: replication must be in [1, 255], got %d", c.Replication)
	}
	return nil
}
