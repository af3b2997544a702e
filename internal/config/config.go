package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the API server
type Config struct {
	Port                      string
	Origin                    string
	Environment               string
	JWTSecret                 string
	JWTRefreshSecret          string
	JWTExpirationMinutes      int
	JWTRefreshExpirationHours int
	Database                  DatabaseConfig
	Sweeper                   SweeperConfig
	SignalQueueSize           int
	Call                      CallConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
}

// SweeperConfig controls the job that completes abandoned calls.
type SweeperConfig struct {
	Schedule   string
	StaleAfter time.Duration
}

// CallConfig is shared by everything that runs a call session.
type CallConfig struct {
	RecoveryDelay time.Duration
	StoreTimeout  time.Duration
	// Heartbeat is how often a connected call refreshes its appointment.
	// It must stay well below the stale-call cutoff.
	Heartbeat  time.Duration
	ICEServers []string
}

// AgentConfig holds the configuration of the native call agent.
type AgentConfig struct {
	ServerURL string
	Email     string
	Password  string
	Call      CallConfig
}

// LoadConfig loads the server configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	jwtExpMinutes, err := getEnvInt("JWT_EXPIRATION_MINUTES", 15)
	if err != nil {
		return nil, err
	}

	jwtRefreshExpHours, err := getEnvInt("JWT_REFRESH_EXPIRATION_HOURS", 168) // 7 days
	if err != nil {
		return nil, err
	}

	staleMinutes, err := getEnvInt("STALE_CALL_AFTER_MINUTES", 240)
	if err != nil {
		return nil, err
	}

	queueSize, err := getEnvInt("SIGNAL_QUEUE_SIZE", 64)
	if err != nil {
		return nil, err
	}

	callConfig, err := loadCallConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:                      getEnv("PORT", "3001"),
		Origin:                    getEnv("ORIGIN", "http://localhost:4200"),
		Environment:               getEnv("NODE_ENV", "development"),
		JWTSecret:                 getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTRefreshSecret:          getEnv("JWT_REFRESH_SECRET", "default_refresh_secret"),
		JWTExpirationMinutes:      jwtExpMinutes,
		JWTRefreshExpirationHours: jwtRefreshExpHours,
		Database:                  dbConfig,
		Sweeper: SweeperConfig{
			Schedule:   getEnv("STALE_CALL_SWEEP", "@every 15m"),
			StaleAfter: time.Duration(staleMinutes) * time.Minute,
		},
		SignalQueueSize: queueSize,
		Call:            callConfig,
	}, nil
}

// LoadAgentConfig loads the call agent configuration from environment
// variables.
func LoadAgentConfig() (*AgentConfig, error) {
	callConfig, err := loadCallConfig()
	if err != nil {
		return nil, err
	}

	cfg := &AgentConfig{
		ServerURL: getEnv("SERVER_URL", "http://localhost:3001"),
		Email:     getEnv("AGENT_EMAIL", ""),
		Password:  getEnv("AGENT_PASSWORD", ""),
		Call:      callConfig,
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("AGENT_EMAIL and AGENT_PASSWORD are required")
	}
	return cfg, nil
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	db := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "mysql"),
		Host:     getEnv("DB_HOST", "localhost"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "telehealth"),
	}

	switch db.Driver {
	case "mysql":
		db.Port = getEnv("DB_PORT", "3306")
		db.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			db.Username, db.Password, db.Host, db.Port, db.Name)
	case "postgres":
		db.Port = getEnv("DB_PORT", "5432")
		db.DSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			db.Host, db.Port, db.Username, db.Password, db.Name)
	default:
		return db, fmt.Errorf("invalid DB_DRIVER %q: want mysql or postgres", db.Driver)
	}
	return db, nil
}

func loadCallConfig() (CallConfig, error) {
	delayMs, err := getEnvInt("CALL_RECOVERY_DELAY_MS", 1000)
	if err != nil {
		return CallConfig{}, err
	}
	storeTimeout, err := getEnvInt("CALL_STORE_TIMEOUT_SECONDS", 10)
	if err != nil {
		return CallConfig{}, err
	}
	heartbeat, err := getEnvInt("CALL_HEARTBEAT_SECONDS", 60)
	if err != nil {
		return CallConfig{}, err
	}

	var ice []string
	for _, s := range strings.Split(getEnv("ICE_SERVERS", "stun:stun.l.google.com:19302"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			ice = append(ice, s)
		}
	}

	return CallConfig{
		RecoveryDelay: time.Duration(delayMs) * time.Millisecond,
		StoreTimeout:  time.Duration(storeTimeout) * time.Second,
		Heartbeat:     time.Duration(heartbeat) * time.Second,
		ICEServers:    ice,
	}, nil
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
