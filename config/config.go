package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Lobby          LobbyConfig
	Stats          StatsConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type LobbyConfig struct {
	StoreBackend    string        // memory | redis
	BroadcastMode   string        // local | redis
	RoomTTL         time.Duration // 0 keeps rooms until removed externally
	CodeMaxAttempts int
	HostSuccession  string // earliest | none
	StaleRoomAfter  time.Duration
}

type StatsConfig struct {
	DSN         string // empty logs increments instead of persisting them
	Timeout     time.Duration
	Workers     int
	QueueSize   int
	MaxAttempts int
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	BroadcastLocal = "local"
	BroadcastRedis = "redis"

	SuccessionEarliest = "earliest"
	SuccessionNone     = "none"
)

// Load reads configuration from the environment, optionally layered over the
// file named by LOBBY_CONFIG.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("lobby_config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Parse allowed origins (comma-separated)
	var origins []string
	for _, o := range strings.Split(v.GetString("allowed_origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	cfg := &Config{
		Port:           v.GetString("port"),
		Environment:    v.GetString("environment"),
		AllowedOrigins: origins,
		JWTSecret:      v.GetString("jwt_secret"),
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Lobby: LobbyConfig{
			StoreBackend:    strings.ToLower(v.GetString("store_backend")),
			BroadcastMode:   strings.ToLower(v.GetString("broadcast_mode")),
			RoomTTL:         v.GetDuration("room_ttl"),
			CodeMaxAttempts: v.GetInt("code_max_attempts"),
			HostSuccession:  strings.ToLower(v.GetString("host_succession")),
			StaleRoomAfter:  v.GetDuration("stale_room_after"),
		},
		Stats: StatsConfig{
			DSN:         v.GetString("stats.dsn"),
			Timeout:     v.GetDuration("stats.timeout"),
			Workers:     v.GetInt("stats.workers"),
			QueueSize:   v.GetInt("stats.queue_size"),
			MaxAttempts: v.GetInt("stats.max_attempts"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", "change-me-in-production")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store_backend", BackendMemory)
	v.SetDefault("broadcast_mode", BroadcastLocal)
	v.SetDefault("room_ttl", "0s")
	v.SetDefault("code_max_attempts", 20)
	v.SetDefault("host_succession", SuccessionEarliest)
	v.SetDefault("stale_room_after", "24h")
	v.SetDefault("stats.dsn", "")
	v.SetDefault("stats.timeout", "3s")
	v.SetDefault("stats.workers", 4)
	v.SetDefault("stats.queue_size", 256)
	v.SetDefault("stats.max_attempts", 5)
}

func (c *Config) validate() error {
	switch c.Lobby.StoreBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Lobby.StoreBackend)
	}
	switch c.Lobby.BroadcastMode {
	case BroadcastLocal, BroadcastRedis:
	default:
		return fmt.Errorf("unknown BROADCAST_MODE %q", c.Lobby.BroadcastMode)
	}
	switch c.Lobby.HostSuccession {
	case SuccessionEarliest, SuccessionNone:
	default:
		return fmt.Errorf("unknown HOST_SUCCESSION %q", c.Lobby.HostSuccession)
	}
	if c.Lobby.CodeMaxAttempts <= 0 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be positive")
	}
	if c.Stats.Workers <= 0 || c.Stats.QueueSize <= 0 {
		return fmt.Errorf("STATS_WORKERS and STATS_QUEUE_SIZE must be positive")
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Lobby.StoreBackend == BackendRedis || c.Lobby.BroadcastMode == BroadcastRedis
}
