// Package server provides configuration helpers that define runtime defaults,
// validation, and security parameters for the relay service.
package server

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds the server configuration settings including security controls.
type Config struct {
	Env             string
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	MaxRoomIDLength int
	SendBufferSize  int
	ChatEcho        bool
	TokenSecret     string
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Env:  "dev",
		Port: ":9000",
		AllowedOrigins: []string{
			"http://localhost:9000",
		},
		MaxMessageSize:  4096,
		MaxRoomIDLength: 128,
		SendBufferSize:  256,
		ChatEcho:        false,
		TokenSecret:     "dev-secret-change",
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":9000"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.MaxRoomIDLength <= 0 {
		cfg.MaxRoomIDLength = 128
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = "dev-secret-change"
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := Config{
		Env:             cfg.Env,
		Port:            cfg.Port,
		AllowedOrigins:  append([]string(nil), cfg.AllowedOrigins...),
		MaxMessageSize:  cfg.MaxMessageSize,
		MaxRoomIDLength: cfg.MaxRoomIDLength,
		SendBufferSize:  cfg.SendBufferSize,
		ChatEcho:        cfg.ChatEcho,
		TokenSecret:     cfg.TokenSecret,
	}
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}

	if maxRoom := os.Getenv("MAX_ROOM_ID_LENGTH"); maxRoom != "" {
		cfg.MaxRoomIDLength = parseIntValue(maxRoom, cfg.MaxRoomIDLength)
	}

	if buffer := os.Getenv("SEND_BUFFER_SIZE"); buffer != "" {
		cfg.SendBufferSize = parseIntValue(buffer, cfg.SendBufferSize)
	}

	if echo := os.Getenv("CHAT_ECHO"); echo != "" {
		cfg.ChatEcho = parseBoolValue(echo, cfg.ChatEcho)
	}

	if secret := os.Getenv("ACCESS_TOKEN_SECRET"); secret != "" {
		cfg.TokenSecret = secret
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBoolValue(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}
