package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds application level configuration loaded from environment variables
// and, optionally, a TOML file named by CONFIG_FILE.
type Config struct {
	ServerPort       string
	DBDriver         string
	DatabaseDSN      string
	RedisAddr        string
	RedisDB          int
	RedisPass        string
	JWTSecret        string
	SwaggerHost      string
	LogLevel         string
	LogPretty        bool
	SuccessionPolicy string
	TxMaxRetries     int
	RateLimitRPS     float64
	RateLimitBurst   int
}

// fileConfig is the TOML key mapping. Only keys present in the file override env values.
type fileConfig struct {
	ServerPort       string  `toml:"server_port"`
	DBDriver         string  `toml:"db_driver"`
	DatabaseDSN      string  `toml:"database_dsn"`
	RedisAddr        string  `toml:"redis_addr"`
	RedisDB          int     `toml:"redis_db"`
	RedisPass        string  `toml:"redis_password"`
	JWTSecret        string  `toml:"jwt_secret"`
	SwaggerHost      string  `toml:"swagger_host"`
	LogLevel         string  `toml:"log_level"`
	LogPretty        bool    `toml:"log_pretty"`
	SuccessionPolicy string  `toml:"succession_policy"`
	TxMaxRetries     int     `toml:"tx_max_retries"`
	RateLimitRPS     float64 `toml:"rate_limit_rps"`
	RateLimitBurst   int     `toml:"rate_limit_burst"`
}

// Load builds Config from environment with sensible defaults, then applies CONFIG_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		DBDriver:         getEnv("DB_DRIVER", "mysql"),
		DatabaseDSN:      getEnv("DATABASE_DSN", "user:password@tcp(localhost:3306)/shelfshare?charset=utf8mb4&parseTime=True&loc=Local"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisPass:        os.Getenv("REDIS_PASSWORD"),
		JWTSecret:        getEnv("JWT_SECRET", "change-me"),
		SwaggerHost:      os.Getenv("SWAGGER_HOST"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnvBool("LOG_PRETTY", false),
		SuccessionPolicy: getEnv("SUCCESSION_POLICY", "random"),
		TxMaxRetries:     getEnvInt("TX_MAX_RETRIES", 5),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 10),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	if meta.IsDefined("server_port") {
		c.ServerPort = strings.TrimSpace(raw.ServerPort)
	}
	if meta.IsDefined("db_driver") {
		c.DBDriver = strings.TrimSpace(raw.DBDriver)
	}
	if meta.IsDefined("database_dsn") {
		c.DatabaseDSN = strings.TrimSpace(raw.DatabaseDSN)
	}
	if meta.IsDefined("redis_addr") {
		c.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}
	if meta.IsDefined("redis_db") {
		c.RedisDB = raw.RedisDB
	}
	if meta.IsDefined("redis_password") {
		c.RedisPass = raw.RedisPass
	}
	if meta.IsDefined("jwt_secret") {
		c.JWTSecret = raw.JWTSecret
	}
	if meta.IsDefined("swagger_host") {
		c.SwaggerHost = strings.TrimSpace(raw.SwaggerHost)
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_pretty") {
		c.LogPretty = raw.LogPretty
	}
	if meta.IsDefined("succession_policy") {
		c.SuccessionPolicy = strings.TrimSpace(raw.SuccessionPolicy)
	}
	if meta.IsDefined("tx_max_retries") {
		c.TxMaxRetries = raw.TxMaxRetries
	}
	if meta.IsDefined("rate_limit_rps") {
		c.RateLimitRPS = raw.RateLimitRPS
	}
	if meta.IsDefined("rate_limit_burst") {
		c.RateLimitBurst = raw.RateLimitBurst
	}
	return nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported db_driver %q", c.DBDriver)
	}
	switch c.SuccessionPolicy {
	case "random", "earliest":
	default:
		return fmt.Errorf("unsupported succession_policy %q", c.SuccessionPolicy)
	}
	if c.TxMaxRetries < 0 {
		return fmt.Errorf("tx_max_retries must not be negative")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}
