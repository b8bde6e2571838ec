// Package config loads process configuration from an optional YAML file
// plus environment variable overrides, adapted from
// VuteTech-bor/server/internal/config/config.go's getEnv/getEnvBool
// pattern and fileConfig/Config split.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the process's runtime configuration.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Security SecurityConfig
	Logging  LoggingConfig
	// Integrations carries opaque mail/firebase settings the core never
	// examines itself — out of scope per spec.md §1, passed through so a
	// future external collaborator can read them.
	Integrations map[string]string
}

// ServerConfig holds the listen address for the sync socket endpoint.
type ServerConfig struct {
	Addr string // WORKSPACESYNC_ADDR, default ":8787"
}

// StorageConfig holds the durable-store location.
type StorageConfig struct {
	// DatabaseURL is either "in-memory" (the default) or a filesystem
	// directory bbolt should open its database file under.
	DatabaseURL string // DATABASE_URL
}

// SecurityConfig holds the refresh-token signing key.
type SecurityConfig struct {
	SignKey string // SIGN_KEY, default: randomly generated at boot
}

// LoggingConfig holds logging verbosity/format.
type LoggingConfig struct {
	Level      string // LOG_LEVEL
	JSONOutput bool   // LOG_JSON
}

type fileConfig struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Storage struct {
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"storage"`
	Security struct {
		SignKey string `yaml:"sign_key"`
	} `yaml:"security"`
	Logging struct {
		Level      string `yaml:"level"`
		JSONOutput bool   `yaml:"json_output"`
	} `yaml:"logging"`
	Integrations map[string]string `yaml:"integrations"`
}

// Load reads configuration from an optional YAML file at path (a missing
// file is silently ignored, matching the teacher's tolerant Load), then
// applies environment variable overrides, which always win.
func Load(path string) (*Config, error) {
	fc := defaultFileConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	signKey := getEnv("SIGN_KEY", fc.Security.SignKey)
	if signKey == "" {
		generated, err := randomSignKey()
		if err != nil {
			return nil, fmt.Errorf("config: generate sign key: %w", err)
		}
		signKey = generated
	}

	return &Config{
		Server: ServerConfig{
			Addr: getEnv("WORKSPACESYNC_ADDR", fc.Server.Addr),
		},
		Storage: StorageConfig{
			DatabaseURL: getEnv("DATABASE_URL", fc.Storage.DatabaseURL),
		},
		Security: SecurityConfig{
			SignKey: signKey,
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", fc.Logging.Level),
			JSONOutput: getEnvBool("LOG_JSON", fc.Logging.JSONOutput),
		},
		Integrations: fc.Integrations,
	}, nil
}

func defaultFileConfig() fileConfig {
	var fc fileConfig
	fc.Server.Addr = ":8787"
	fc.Storage.DatabaseURL = "in-memory"
	fc.Logging.Level = "info"
	return fc
}

func randomSignKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
