package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	MediaWorkers     int `mapstructure:"media_workers"`
	RoutersPerWorker int `mapstructure:"routers_per_worker"`
	MaxPeersPerRoom  int `mapstructure:"max_peers_per_room"`

	TransportIdleTimeout time.Duration `mapstructure:"transport_idle_timeout"`
	SessionIdleTimeout   time.Duration `mapstructure:"session_idle_timeout"`
	ReapInterval         time.Duration `mapstructure:"reap_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("media_workers", 4)
	v.SetDefault("routers_per_worker", 16)
	v.SetDefault("max_peers_per_room", 16)
	v.SetDefault("transport_idle_timeout", "45s")
	v.SetDefault("session_idle_timeout", "2m")
	v.SetDefault("reap_interval", "15s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
