// Package config loads rbacd's runtime configuration from the environment
// using viper, following the same env-var-first approach the rest of the
// pack reaches for over hand-rolled flag parsing.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is rbacd's fully-resolved runtime configuration.
type Config struct {
	DatabaseURL     string
	DatabaseDialect string // "postgres" or "sqlite"
	DatabaseSchema  string

	ServerHost string
	ServerPort int

	JWTSecret        string
	EncryptionKey    string
	EnableEncryption bool

	MaxOpenConns int
	MaxIdleConns int
}

// Load reads configuration from the process environment, applying the
// defaults below for anything left unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_url", "postgres://localhost:5432/rbacd?sslmode=disable")
	v.SetDefault("database_dialect", "postgres")
	v.SetDefault("database_schema", "")
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("encryption_key", "")
	v.SetDefault("enable_encryption", false)
	v.SetDefault("max_open_conns", 25)
	v.SetDefault("max_idle_conns", 5)

	cfg := &Config{
		DatabaseURL:      v.GetString("database_url"),
		DatabaseDialect:  strings.ToLower(v.GetString("database_dialect")),
		DatabaseSchema:   v.GetString("database_schema"),
		ServerHost:       v.GetString("server_host"),
		ServerPort:       v.GetInt("server_port"),
		JWTSecret:        v.GetString("jwt_secret"),
		EncryptionKey:    v.GetString("encryption_key"),
		EnableEncryption: v.GetBool("enable_encryption"),
		MaxOpenConns:     v.GetInt("max_open_conns"),
		MaxIdleConns:     v.GetInt("max_idle_conns"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseDialect != "postgres" && c.DatabaseDialect != "sqlite" {
		return fmt.Errorf("config: database_dialect must be \"postgres\" or \"sqlite\", got %q", c.DatabaseDialect)
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("config: server_port must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.EnableEncryption && c.EncryptionKey == "" {
		return fmt.Errorf("config: enable_encryption is true but encryption_key is empty")
	}
	return nil
}

// SQLDriverName returns the database/sql driver name registered for this
// dialect.
func (c *Config) SQLDriverName() string {
	if c.DatabaseDialect == "sqlite" {
		return "sqlite3"
	}
	return "postgres"
}
