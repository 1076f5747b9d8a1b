package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	StaticPath     string        `mapstructure:"static_path"`
	Secret         string        `mapstructure:"secret"`
	AdminToken     string        `mapstructure:"admin_token"`
	LogLevel       string        `mapstructure:"log_level"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`

	Negotiation Negotiation `mapstructure:"negotiation"`
	Speaking    Speaking    `mapstructure:"speaking"`
	RTC         RTC         `mapstructure:"rtc"`
	Redis       Redis       `mapstructure:"redis"`
}

type Negotiation struct {
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

// Speaking bounds how often one user may report speaking changes.
type Speaking struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type RTC struct {
	ICEServers []string `mapstructure:"ice_servers"`
	UDPPortMin uint16   `mapstructure:"udp_port_min"`
	UDPPortMax uint16   `mapstructure:"udp_port_max"`
	NATIPs     []string `mapstructure:"nat_ips"`
}

// Redis is optional; an empty Addr disables the presence mirror.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, then VOICE_* environment
// variables, then command line flags, each overriding the previous.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("voicechan", pflag.ContinueOnError)
	configEnv := fs.String("config-env", "", "config environment (overrides CONFIG_ENV)")
	configFile := fs.String("config", "", "explicit config file path")
	fs.Int("port", 8080, "http listen port")
	fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := *configEnv
	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	fileName := *configFile
	if fileName == "" {
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "voicechan-dev-secret")
	v.SetDefault("admin_token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("negotiation.answer_timeout", "5s")
	v.SetDefault("negotiation.max_retries", 1)
	v.SetDefault("speaking.rate", 10.0)
	v.SetDefault("speaking.burst", 20)
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.udp_port_min", 0)
	v.SetDefault("rtc.udp_port_max", 0)
	v.SetDefault("rtc.nat_ips", []string{})
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "voice")

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlag("port", fs.Lookup("port")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("log_level", fs.Lookup("log-level")); err != nil {
		return nil, err
	}

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
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Negotiation.MaxRetries < 0 {
		return errors.New("negotiation.max_retries must not be negative")
	}
	if c.Speaking.Rate <= 0 || c.Speaking.Burst <= 0 {
		return errors.New("speaking.rate and speaking.burst must be positive")
	}
	if c.RTC.UDPPortMin > c.RTC.UDPPortMax {
		return errors.New("rtc.udp_port_min exceeds rtc.udp_port_max")
	}
	return nil
}
