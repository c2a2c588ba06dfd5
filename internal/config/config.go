package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Auth      AuthConfig      `mapstructure:"auth"`
	Room      RoomConfig      `mapstructure:"room"`
	Chat      ChatConfig      `mapstructure:"chat"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Media     MediaConfig     `mapstructure:"media"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type RoomConfig struct {
	TeardownGrace time.Duration `mapstructure:"teardown_grace"`
	// BackpressureStrikes is how many dropped frames a member may cause
	// before being kicked.
	BackpressureStrikes int `mapstructure:"backpressure_strikes"`
}

type ChatConfig struct {
	TypingTTL time.Duration `mapstructure:"typing_ttl"`
}

type RateLimitConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type MediaConfig struct {
	// Workers of 0 means one per CPU.
	Workers              int           `mapstructure:"workers"`
	WorkerSelection      string        `mapstructure:"worker_selection"`
	InitialBitrate       int           `mapstructure:"initial_bitrate"`
	MinBitrate           int           `mapstructure:"min_bitrate"`
	MaxBitrate           int           `mapstructure:"max_bitrate"`
	TransportIdleTimeout time.Duration `mapstructure:"transport_idle_timeout"`
	ICEServers           []string      `mapstructure:"ice_servers"`
	UDPPortMin           uint16        `mapstructure:"udp_port_min"`
	UDPPortMax           uint16        `mapstructure:"udp_port_max"`
}

// RedisConfig is optional; an empty Addr disables the lifecycle feed.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "huddle-dev-cookie-secret")
	v.SetDefault("log_level", "info")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "huddle")
	v.SetDefault("room.teardown_grace", "10s")
	v.SetDefault("room.backpressure_strikes", 1)
	v.SetDefault("chat.typing_ttl", "3s")
	v.SetDefault("ratelimit.limit", 60)
	v.SetDefault("ratelimit.interval", "1s")

	v.SetDefault("media.workers", 0)
	v.SetDefault("media.worker_selection", "round_robin")
	v.SetDefault("media.initial_bitrate", 1_000_000)
	v.SetDefault("media.min_bitrate", 600_000)
	v.SetDefault("media.max_bitrate", 1_500_000)
	v.SetDefault("media.transport_idle_timeout", "30s")
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.udp_port_min", 0)
	v.SetDefault("media.udp_port_max", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "huddle:rooms:events")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// Any key can be overridden from the environment with the HUDDLE_
// prefix, dots becoming underscores (HUDDLE_AUTH_SECRET).
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

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Media.MinBitrate <= 0 || c.Media.MinBitrate > c.Media.MaxBitrate {
		return fmt.Errorf("media bitrate floor %d must be positive and not above ceiling %d", c.Media.MinBitrate, c.Media.MaxBitrate)
	}
	if c.Media.UDPPortMin > c.Media.UDPPortMax {
		return fmt.Errorf("media udp port range %d-%d is inverted", c.Media.UDPPortMin, c.Media.UDPPortMax)
	}
	if c.Room.BackpressureStrikes <= 0 {
		return fmt.Errorf("room.backpressure_strikes must be positive, got %d", c.Room.BackpressureStrikes)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("ratelimit.limit must be positive, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Interval <= 0 {
		return fmt.Errorf("ratelimit.interval must be positive, got %s", c.RateLimit.Interval)
	}
	return nil
}
