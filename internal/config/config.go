package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docport/chat-relay/internal/relay"
)

// Config aggregates the service configuration.
type Config struct {
	Server ServerConfig
	Mongo  MongoConfig
	Auth   AuthConfig
	CORS   CORSConfig
	Relay  relay.Options
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relayOpts, err := loadRelayOptions()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Mongo: MongoConfig{
			URI:      strings.TrimSpace(os.Getenv("MONGODB_URI")),
			Database: getEnvOrDefault("MONGODB_DATABASE", "clinic"),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(os.Getenv("JWT_SECRET")),
		},
		CORS: CORSConfig{
			Origin: strings.TrimSpace(os.Getenv("CORS_ORIGIN")),
		},
		Relay: relayOpts,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
	Env  string
}

// Development reports whether the server runs with the dev logger.
func (c ServerConfig) Development() bool {
	return c.Env == "development"
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}

	env := getEnvOrDefault("APP_ENV", "production")

	if strings.Contains(port, ":") {
		// Accept ":5000" or "127.0.0.1:5000" as-is.
		return ServerConfig{Addr: port, Env: env}, nil
	}
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}
	return ServerConfig{Addr: ":" + port, Env: env}, nil
}

// MongoConfig describes the document store. An empty URI selects the
// in-memory stores.
type MongoConfig struct {
	URI      string
	Database string
}

type AuthConfig struct {
	JWTSecret string
}

type CORSConfig struct {
	Origin string
}

func loadRelayOptions() (relay.Options, error) {
	opts := relay.DefaultOptions()

	var err error
	if opts.PingInterval, err = parseDurationEnv("RELAY_PING_INTERVAL", opts.PingInterval); err != nil {
		return relay.Options{}, err
	}
	if opts.PongWait, err = parseDurationEnv("RELAY_PONG_WAIT", opts.PongWait); err != nil {
		return relay.Options{}, err
	}
	if opts.WriteWait, err = parseDurationEnv("RELAY_WRITE_WAIT", opts.WriteWait); err != nil {
		return relay.Options{}, err
	}

	maxBytes, err := parseIntEnv("RELAY_MAX_MESSAGE_BYTES", int(opts.MaxMessageBytes))
	if err != nil {
		return relay.Options{}, err
	}
	opts.MaxMessageBytes = int64(maxBytes)

	if opts.SendBuffer, err = parseIntEnv("RELAY_SEND_BUFFER", opts.SendBuffer); err != nil {
		return relay.Options{}, err
	}

	return opts, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
