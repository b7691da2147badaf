package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config configuración principal de la aplicación
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Dialog     DialogConfig
	FlowSource FlowSourceConfig
	S3         S3Config
	Scheduler  SchedulerConfig
}

// ServerConfig configuración del servidor HTTP
type ServerConfig struct {
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     string
}

// DatabaseConfig configuración de PostgreSQL
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configuración de Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// StateBackend selects where conversation state lives.
type StateBackend string

const (
	StateBackendPostgres StateBackend = "postgres"
	StateBackendRedis    StateBackend = "redis"
)

// DialogConfig configuración del motor de diálogo
type DialogConfig struct {
	DefaultFlow         string
	NDUFallbackFlow     string
	NDUEnabled          bool
	NDUBots             []string
	ErrorFlow           string
	TimeoutFlow         string
	ReusableNamespaces  []string
	SessionTimeout      time.Duration
	PromptHistoryWindow int
	RecentEventsLimit   int
	StateBackend        StateBackend
	StateKeyPrefix      string
	LockTTL             time.Duration
}

// FlowSourceKind selects where flow definitions are loaded from.
type FlowSourceKind string

const (
	FlowSourceFile     FlowSourceKind = "file"
	FlowSourcePostgres FlowSourceKind = "postgres"
	FlowSourceS3       FlowSourceKind = "s3"
)

// FlowSourceConfig configuración del origen de flujos
type FlowSourceConfig struct {
	Kind FlowSourceKind
	Root string
}

// S3Config configuración de S3 para flujos
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// SchedulerConfig configuración del barrido de inactividad
type SchedulerConfig struct {
	Enabled   bool
	Spec      string
	BatchSize int
}

// Load carga la configuración desde variables de entorno
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
			CorsOrigins:     getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", getEnv("POSTGRES_HOST", "localhost")),
			Port:            getEnv("DB_PORT", getEnv("POSTGRES_PORT", "5432")),
			User:            getEnv("DB_USER", getEnv("POSTGRES_USER", "postgres")),
			Password:        getEnv("DB_PASSWORD", getEnv("POSTGRES_PASSWORD", "postgres")),
			DBName:          getEnv("DB_NAME", getEnv("POSTGRES_DB", "convo")),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Dialog: DialogConfig{
			DefaultFlow:         getEnv("DIALOG_DEFAULT_FLOW", "main.flow.json"),
			NDUFallbackFlow:     getEnv("DIALOG_NDU_FALLBACK_FLOW", "misunderstood.flow.json"),
			NDUEnabled:          getBoolEnv("DIALOG_NDU_ENABLED", false),
			NDUBots:             getListEnv("DIALOG_NDU_BOTS", nil),
			ErrorFlow:           getEnv("DIALOG_ERROR_FLOW", "error.flow.json"),
			TimeoutFlow:         getEnv("DIALOG_TIMEOUT_FLOW", "timeout.flow.json"),
			ReusableNamespaces:  getListEnv("DIALOG_REUSABLE_NAMESPACES", []string{"skills/"}),
			SessionTimeout:      getDurationEnv("DIALOG_SESSION_TIMEOUT", 30*time.Minute),
			PromptHistoryWindow: getIntEnv("DIALOG_PROMPT_HISTORY_WINDOW", 3),
			RecentEventsLimit:   getIntEnv("DIALOG_RECENT_EVENTS_LIMIT", 10),
			StateBackend:        StateBackend(getEnv("DIALOG_STATE_BACKEND", string(StateBackendPostgres))),
			StateKeyPrefix:      getEnv("DIALOG_STATE_KEY_PREFIX", "convo"),
			LockTTL:             getDurationEnv("DIALOG_LOCK_TTL", 30*time.Second),
		},
		FlowSource: FlowSourceConfig{
			Kind: FlowSourceKind(getEnv("FLOW_SOURCE", string(FlowSourceFile))),
			Root: getEnv("FLOW_ROOT", "./flows"),
		},
		S3: S3Config{
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          getEnv("S3_BUCKET", ""),
			Prefix:          getEnv("S3_PREFIX", "flows"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getBoolEnv("S3_USE_PATH_STYLE", false),
		},
		Scheduler: SchedulerConfig{
			Enabled:   getBoolEnv("TIMEOUT_SWEEP_ENABLED", true),
			Spec:      getEnv("TIMEOUT_SWEEP_SPEC", "* * * * *"),
			BatchSize: getIntEnv("TIMEOUT_SWEEP_BATCH", 100),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate valida la configuración
func (c *Config) Validate() error {
	if c.Dialog.StateBackend == StateBackendPostgres || c.FlowSource.Kind == FlowSourcePostgres {
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	}

	switch c.Dialog.StateBackend {
	case StateBackendPostgres, StateBackendRedis:
	default:
		return fmt.Errorf("DIALOG_STATE_BACKEND must be postgres or redis, got %q", c.Dialog.StateBackend)
	}

	switch c.FlowSource.Kind {
	case FlowSourceFile:
		if c.FlowSource.Root == "" {
			return fmt.Errorf("FLOW_ROOT is required for file flow source")
		}
	case FlowSourcePostgres:
	case FlowSourceS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for s3 flow source")
		}
	default:
		return fmt.Errorf("FLOW_SOURCE must be file, postgres or s3, got %q", c.FlowSource.Kind)
	}

	if c.Dialog.DefaultFlow == "" {
		return fmt.Errorf("DIALOG_DEFAULT_FLOW is required")
	}
	if c.Dialog.SessionTimeout <= 0 {
		return fmt.Errorf("DIALOG_SESSION_TIMEOUT must be positive")
	}

	return nil
}

// GetDSN retorna el DSN de PostgreSQL
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetAddr retorna la dirección de Redis
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
