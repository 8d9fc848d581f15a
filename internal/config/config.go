package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Auth       AuthConfig      `mapstructure:"auth"`
	CallLog    CallLogConfig   `mapstructure:"call_log"`
	Sweep      SweepConfig     `mapstructure:"sweep"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	ICEServers []ICEServer     `mapstructure:"ice_servers"`
}

type AuthConfig struct {
	// Required rejects unauthenticated signaling connections.
	Required  bool   `mapstructure:"required"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

type CallLogConfig struct {
	// Driver is one of memory, postgres, sqlite, redis.
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisDB      int           `mapstructure:"redis_db"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Queue        int           `mapstructure:"queue"`
}

type SweepConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	Retention   time.Duration `mapstructure:"retention"`
}

type RateLimitConfig struct {
	Calls  int           `mapstructure:"calls"`
	Window time.Duration `mapstructure:"window"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

const envPrefix = "RELAY"

// Loader keeps the viper instance around so the file can be watched.
type Loader struct {
	v    *viper.Viper
	file string
}

func NewLoader() *Loader {
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

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Loader{v: v, file: fileName}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("auth.required", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("call_log.driver", "memory")
	v.SetDefault("call_log.dsn", "")
	v.SetDefault("call_log.redis_addr", "")
	v.SetDefault("call_log.redis_db", 0)
	v.SetDefault("call_log.write_timeout", "5s")
	v.SetDefault("call_log.queue", 1024)

	v.SetDefault("sweep.interval", "30s")
	v.SetDefault("sweep.ring_timeout", "0s")
	v.SetDefault("sweep.retention", "5m")

	v.SetDefault("rate_limit.calls", 10)
	v.SetDefault("rate_limit.window", "1m")
}

func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", l.file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", l.file).Msg("loaded config")
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("call_log", cfg.CallLog.Driver).Msg("config ready")
	return cfg, nil
}

// Watch reloads the file on change and hands fn the new config if it is
// valid. Invalid edits are logged and ignored.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload rejected")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Load() (*Config, error) {
	return NewLoader().Load()
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be a valid port, got %d", c.Port))
	}
	switch c.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("mode must be one of debug, release, test, got %q", c.Mode))
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth.required is set"))
	}
	switch c.CallLog.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.CallLog.DSN == "" {
			errs = append(errs, fmt.Errorf("call_log.dsn is required for driver %q", c.CallLog.Driver))
		}
	case "redis":
		if c.CallLog.RedisAddr == "" {
			errs = append(errs, errors.New("call_log.redis_addr is required for driver redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("call_log.driver must be one of memory, postgres, sqlite, redis, got %q", c.CallLog.Driver))
	}
	if c.Sweep.RingTimeout < 0 || c.Sweep.Retention < 0 {
		errs = append(errs, errors.New("sweep durations must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
