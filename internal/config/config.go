package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type WorkerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	BatchSize       int           `mapstructure:"batch_size"`
	ContactDelayMin time.Duration `mapstructure:"contact_delay_min"`
	ContactDelayMax time.Duration `mapstructure:"contact_delay_max"`
	ItemDelayMin    time.Duration `mapstructure:"item_delay_min"`
	ItemDelayMax    time.Duration `mapstructure:"item_delay_max"`
	DedupWindow     time.Duration `mapstructure:"dedup_window"`
	DedupMaxEntries int           `mapstructure:"dedup_max_entries"`
}

type GatewayConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	DryRun           bool          `mapstructure:"dry_run"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("broadcastd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/broadcastd")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BROADCASTD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/broadcastd.db")

	viper.SetDefault("worker.poll_interval", 15*time.Second)
	viper.SetDefault("worker.concurrency", 3)
	viper.SetDefault("worker.batch_size", 40)
	viper.SetDefault("worker.contact_delay_min", 15*time.Second)
	viper.SetDefault("worker.contact_delay_max", 45*time.Second)
	viper.SetDefault("worker.item_delay_min", 2*time.Second)
	viper.SetDefault("worker.item_delay_max", 6*time.Second)
	viper.SetDefault("worker.dedup_window", 2*time.Minute)
	viper.SetDefault("worker.dedup_max_entries", 5000)

	viper.SetDefault("gateway.timeout", 30*time.Second)
	viper.SetDefault("gateway.dry_run", false)
	viper.SetDefault("gateway.breaker_threshold", 3)
	viper.SetDefault("gateway.breaker_cooldown", 10*time.Minute)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
