package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STARLAN_QUEUE_ADDR.
const EnvPrefix = "STARLAN"

// ListenerConfig configures one TCP channel. A zero ReadTimeout keeps reads
// blocking without a deadline.
type ListenerConfig struct {
	Addr        string        `mapstructure:"addr"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// DiscoveryConfig configures the UDP discovery responder.
type DiscoveryConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Addr       string `mapstructure:"addr"`
	RatePerSec int    `mapstructure:"ratePerSec"`
	Burst      int    `mapstructure:"burst"`
	MAC        string `mapstructure:"mac"`
}

// PrinterConfig configures the emulated device and its capture output.
type PrinterConfig struct {
	OutputDir   string        `mapstructure:"outputDir"`
	SettleDelay time.Duration `mapstructure:"settleDelay"`
	LineWidth   int           `mapstructure:"lineWidth"`
}

// MirrorConfig selects a USB printer that receives a copy of every job.
type MirrorConfig struct {
	Enable bool   `mapstructure:"enable"`
	VID    uint16 `mapstructure:"vid"`
	PID    uint16 `mapstructure:"pid"`
}

// HTTPConfig configures the admin HTTP server.
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig configures rolling log files.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig configures level, encoding and file output.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig configures the Prometheus endpoint on the admin server.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Queue     ListenerConfig  `mapstructure:"queue"`
	State     ListenerConfig  `mapstructure:"state"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Printer   PrinterConfig   `mapstructure:"printer"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// Load reads configuration from a YAML/TOML/JSON file and the environment.
// An empty path falls back to $STARLAN_CONFIG and then to
// ./configs/starlan.yaml; a missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("starlan")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.addr", ":9100")
	v.SetDefault("queue.readTimeout", "0s")
	v.SetDefault("state.addr", ":9101")
	v.SetDefault("state.readTimeout", "0s")

	v.SetDefault("discovery.enable", true)
	v.SetDefault("discovery.addr", ":22222")
	v.SetDefault("discovery.ratePerSec", 20)
	v.SetDefault("discovery.burst", 40)
	v.SetDefault("discovery.mac", "")

	v.SetDefault("printer.outputDir", ".")
	v.SetDefault("printer.settleDelay", "1s")
	v.SetDefault("printer.lineWidth", 72)

	v.SetDefault("mirror.enable", false)
	v.SetDefault("mirror.vid", 0)
	v.SetDefault("mirror.pid", 0)

	v.SetDefault("http.enable", true)
	v.SetDefault("http.addr", ":9180")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
