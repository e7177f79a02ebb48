package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
}

type ServerConfig struct {
	BaseURL string `mapstructure:"baseURL"` // game server, e.g. http://localhost:8000
	WSURL   string `mapstructure:"wsURL"`   // optional; derived from baseURL when empty
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RealtimeConfig struct {
	Reconnect      bool          `mapstructure:"reconnect"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`
	MaxElapsed     time.Duration `mapstructure:"maxElapsed"` // 0 retries forever
	PingEvery      time.Duration `mapstructure:"pingEvery"`
	PongWait       time.Duration `mapstructure:"pongWait"`
}

type CacheConfig struct {
	Driver string        `mapstructure:"driver"` // memory, redis
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type JournalConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, mysql, none
	DSN    string `mapstructure:"dsn"`
}

type BridgeConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.baseURL", "http://localhost:8000")
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("realtime.reconnect", true)
	v.SetDefault("realtime.initialBackoff", 500*time.Millisecond)
	v.SetDefault("realtime.maxBackoff", 30*time.Second)
	v.SetDefault("realtime.maxElapsed", time.Duration(0))
	v.SetDefault("realtime.pingEvery", 25*time.Second)
	v.SetDefault("realtime.pongWait", 60*time.Second)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "woodland:")
	v.SetDefault("journal.driver", "sqlite")
	v.SetDefault("journal.dsn", "journal.db")
	v.SetDefault("bridge.port", "8090")
	v.SetDefault("bridge.mode", "debug")
}

// LoadConfig reads the yaml file at path. A missing path yields the defaults,
// and WOODLAND_* environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("woodland")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		panic(err)
	}
	return cfg
}
