// Package config provides configuration management for the bot.
// It loads environment variables and makes them available throughout the application.
package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	BotToken string
	OwnerID  string

	// MongoDB
	MongoDBURL string
	DBName     string

	// MQTT
	MQTTHost     string
	MQTTPort     string
	MQTTUser     string
	MQTTPassword string

	// Web Server
	Port string

	// Environment
	Environment string
	Debug       bool

	// Webhooks
	ErrorWebhook      string
	LogsWebhook       string
	LogsWebServerHook string

	// Clash of Clans API
	ClashAPIURL   string
	ClashAPIToken string
	RateLimit     float64
	RateBurst     int

	// Polling core
	Loops LoopConfig
}

// LoopConfig holds the tuning knobs of the polling core
type LoopConfig struct {
	Tick                     time.Duration
	ReconcileInterval        time.Duration
	MaxConcurrentPolls       int
	MaxConcurrentHandlers    int
	WorkerPoolSize           int
	ErrorBackoff             time.Duration
	InvalidCooldown          time.Duration
	RestartDelay             time.Duration
	AlertCooldown            time.Duration
	RaidSettleDelay          time.Duration
	WarOngoingInterval       time.Duration
	GuildRefreshInterval     time.Duration
	MaintenanceProbeInterval time.Duration
	MaintenanceProbeTag      string
	CacheSize                int
}

var (
	Version   = "Dev-Local"
	BuildTime = "Hoy"
)

// cfg holds the global configuration instance
var (
	cfg     *Config
	cfgOnce sync.Once
)

// resetForTesting resets the configuration for testing purposes.
// This function should only be called from test code.
func resetForTesting() {
	cfg = nil
	cfgOnce = sync.Once{}
}

// loadConfig performs the actual configuration loading
func loadConfig() {
	// Load .env file if it exists (ignoring error if it doesn't)
	_ = godotenv.Load()

	cfg = &Config{
		// Discord
		BotToken: getEnv("botToken", ""),
		OwnerID:  getEnv("ownerId", ""),

		// MongoDB
		MongoDBURL: getEnv("mongodbUrl", "mongodb://localhost:27017"),
		DBName:     getEnv("dbName", "ClashBot"),

		// MQTT
		MQTTHost:     getEnv("MQTT_Host", "localhost"),
		MQTTPort:     getEnv("MQTT_Port", "1883"),
		MQTTUser:     getEnv("MQTT_User", ""),
		MQTTPassword: getEnv("MQTT_Password", ""),

		// Web Server
		Port: getEnv("PORT", "3000"),

		// Environment
		Environment: getEnv("enviroment", "dev"),
		Debug:       getBool("LOG_DEBUG", false),

		// Webhooks
		ErrorWebhook:      getEnv("errorWebhook", ""),
		LogsWebhook:       getEnv("logsWebhook", ""),
		LogsWebServerHook: getEnv("logsWebServerWebhook", ""),

		// Clash of Clans API
		ClashAPIURL:   getEnv("COC_API_URL", "https://api.clashofclans.com/v1"),
		ClashAPIToken: getEnv("COC_API_TOKEN", ""),
		RateLimit:     getFloat("COC_RATE_LIMIT", 30),
		RateBurst:     getInt("COC_RATE_BURST", 10),

		Loops: LoopConfig{
			Tick:                     getDuration("LOOP_TICK", time.Second),
			ReconcileInterval:        getDuration("RECONCILE_INTERVAL", 30*time.Second),
			MaxConcurrentPolls:       getInt("MAX_CONCURRENT_POLLS", 50),
			MaxConcurrentHandlers:    getInt("MAX_CONCURRENT_HANDLERS", 100),
			WorkerPoolSize:           getInt("WORKER_POOL_SIZE", 4),
			ErrorBackoff:             getDuration("ERROR_BACKOFF", 10*time.Second),
			InvalidCooldown:          getDuration("INVALID_COOLDOWN", time.Hour),
			RestartDelay:             getDuration("LOOP_RESTART_DELAY", 300*time.Second),
			AlertCooldown:            getDuration("ALERT_COOLDOWN", 60*time.Second),
			RaidSettleDelay:          getDuration("RAID_SETTLE_DELAY", 120*time.Second),
			WarOngoingInterval:       getDuration("WAR_ONGOING_INTERVAL", 30*time.Minute),
			GuildRefreshInterval:     getDuration("GUILD_REFRESH_INTERVAL", 6*time.Hour),
			MaintenanceProbeInterval: getDuration("MAINTENANCE_PROBE_INTERVAL", 30*time.Second),
			MaintenanceProbeTag:      getEnv("MAINTENANCE_PROBE_TAG", "#2PP"),
			CacheSize:                getInt("ENTITY_CACHE_SIZE", 50000),
		},
	}
}

// Load initializes the configuration from environment variables
func Load() (*Config, error) {
	cfgOnce.Do(loadConfig)
	return cfg, nil
}

// Get returns the current configuration
func Get() *Config {
	// Use sync.Once to ensure thread-safe initialization if Load wasn't called
	cfgOnce.Do(loadConfig)
	return cfg
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt parses an integer variable, falling back to the default on bad input
func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

// getDuration parses values like "10s" or "5m"
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// IsProd returns true if the environment is production
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
