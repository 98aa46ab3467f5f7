package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                     string   `mapstructure:"port"`
	DatabaseURL              string   `mapstructure:"database_url"`
	AllowedOrigins           []string `mapstructure:"allowed_origins"`
	TopicSeconds             int      `mapstructure:"topic_seconds"`
	QuestionSeconds          int      `mapstructure:"question_seconds"`
	PresenceTimeoutSeconds   int      `mapstructure:"presence_timeout_seconds"`
	PresenceSweepSeconds     int      `mapstructure:"presence_sweep_seconds"`
	TopicOptions             int      `mapstructure:"topic_options"`
	MaxPlayers               int      `mapstructure:"max_players"`
	RateLimitPerSecond       float64  `mapstructure:"rate_limit_per_second"`
	RateLimitBurst           int      `mapstructure:"rate_limit_burst"`
	DBMaxOpenConns           int      `mapstructure:"db_max_open_conns"`
	DBMaxIdleConns           int      `mapstructure:"db_max_idle_conns"`
	DBConnMaxLifetimeSeconds int      `mapstructure:"db_conn_max_lifetime_seconds"`
	DBAutoMigrate            bool     `mapstructure:"db_auto_migrate"`
	Debug                    bool     `mapstructure:"debug"`
}

func Default() Config {
	return Config{
		Port:                     "8080",
		AllowedOrigins:           []string{"http://localhost:5173"},
		TopicSeconds:             10,
		QuestionSeconds:          300,
		PresenceTimeoutSeconds:   30,
		PresenceSweepSeconds:     10,
		TopicOptions:             3,
		MaxPlayers:               12,
		RateLimitPerSecond:       10,
		RateLimitBurst:           20,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
	}
}

// Load layers defaults, an optional config.yaml in the working directory and the environment.
// Call LoadDotEnv first so .env values are visible as environment variables.
func Load() (Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, configDir string) (Config, error) {
	defaults := Default()
	v.SetDefault("port", defaults.Port)
	v.SetDefault("database_url", "")
	v.SetDefault("allowed_origins", defaults.AllowedOrigins)
	v.SetDefault("topic_seconds", defaults.TopicSeconds)
	v.SetDefault("question_seconds", defaults.QuestionSeconds)
	v.SetDefault("presence_timeout_seconds", defaults.PresenceTimeoutSeconds)
	v.SetDefault("presence_sweep_seconds", defaults.PresenceSweepSeconds)
	v.SetDefault("topic_options", defaults.TopicOptions)
	v.SetDefault("max_players", defaults.MaxPlayers)
	v.SetDefault("rate_limit_per_second", defaults.RateLimitPerSecond)
	v.SetDefault("rate_limit_burst", defaults.RateLimitBurst)
	v.SetDefault("db_max_open_conns", defaults.DBMaxOpenConns)
	v.SetDefault("db_max_idle_conns", defaults.DBMaxIdleConns)
	v.SetDefault("db_conn_max_lifetime_seconds", defaults.DBConnMaxLifetimeSeconds)
	v.SetDefault("db_auto_migrate", false)
	v.SetDefault("debug", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize(defaults)
	return cfg, nil
}

func (c *Config) normalize(defaults Config) {
	if c.TopicSeconds <= 0 {
		c.TopicSeconds = defaults.TopicSeconds
	}
	if c.QuestionSeconds <= 0 {
		c.QuestionSeconds = defaults.QuestionSeconds
	}
	if c.PresenceTimeoutSeconds <= 0 {
		c.PresenceTimeoutSeconds = defaults.PresenceTimeoutSeconds
	}
	if c.PresenceSweepSeconds <= 0 {
		c.PresenceSweepSeconds = defaults.PresenceSweepSeconds
	}
	if c.TopicOptions <= 0 {
		c.TopicOptions = defaults.TopicOptions
	}
	if c.MaxPlayers < 3 {
		c.MaxPlayers = defaults.MaxPlayers
	}
	if c.DBMaxOpenConns <= 0 {
		c.DBMaxOpenConns = defaults.DBMaxOpenConns
	}
	if c.DBMaxIdleConns <= 0 {
		c.DBMaxIdleConns = defaults.DBMaxIdleConns
	}
	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.AllowedOrigins = origins
}

func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

func (c Config) TopicDuration() time.Duration {
	return time.Duration(c.TopicSeconds) * time.Second
}

func (c Config) QuestionDuration() time.Duration {
	return time.Duration(c.QuestionSeconds) * time.Second
}

func (c Config) PresenceTimeout() time.Duration {
	return time.Duration(c.PresenceTimeoutSeconds) * time.Second
}

func (c Config) PresenceSweepInterval() time.Duration {
	return time.Duration(c.PresenceSweepSeconds) * time.Second
}

func (c Config) DBConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeSeconds) * time.Second
}
