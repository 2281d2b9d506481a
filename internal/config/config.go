package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Storage  StorageConfig
	JWT      JWTConfig
	S3       S3Config
	Upload   UploadConfig
	Log      LogConfig
	CORS     CORSConfig
	Audit    AuditConfig
	Migrate  MigrateConfig
	Workflow WorkflowConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// StorageConfig selects the backing store for documents and the audit ledger.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// JWTConfig holds the settings used to verify tokens minted by the identity layer.
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// S3Config holds object storage settings. An empty bucket disables presigning
// and pointer verification.
type S3Config struct {
	Region        string        `mapstructure:"region"`
	Bucket        string        `mapstructure:"bucket"`
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// UploadConfig holds limits applied to new versions.
type UploadConfig struct {
	MaxFileSize  int64 `mapstructure:"max_file_size"`
	VerifyObject bool  `mapstructure:"verify_object"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuditConfig holds audit recorder and ledger settings.
type AuditConfig struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Async        bool          `mapstructure:"async"`
	QueueSize    int           `mapstructure:"queue_size"`
	Workers      int           `mapstructure:"workers"`
	MaxOverflow  int           `mapstructure:"max_overflow"`
	SelfHeal     bool          `mapstructure:"self_heal"`
}

// MigrateConfig controls schema migration on server start.
type MigrateConfig struct {
	Auto bool `mapstructure:"auto"`
}

// WorkflowConfig holds optional overrides of the workflow permission table,
// formatted as "ACTION=role|role;ACTION=role".
type WorkflowConfig struct {
	Permissions string `mapstructure:"permissions"`
}

// Load reads configuration from environment variables with the CTDMS_ prefix.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CTDMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.environment", "development")

	// DB defaults
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "ctdms")
	v.SetDefault("db.password", "ctdms_secret")
	v.SetDefault("db.name", "ctdms")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 25)
	v.SetDefault("db.max_idle", 10)

	v.SetDefault("storage.driver", StorageDriverPostgres)

	// JWT defaults
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.presign_expiry", "15m")

	// Upload defaults
	v.SetDefault("upload.max_file_size", "100MB")
	v.SetDefault("upload.verify_object", false)

	// Log defaults
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")

	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Audit defaults
	v.SetDefault("audit.write_timeout", "5s")
	v.SetDefault("audit.async", true)
	v.SetDefault("audit.queue_size", 1024)
	v.SetDefault("audit.workers", 4)
	v.SetDefault("audit.max_overflow", 256)
	v.SetDefault("audit.self_heal", true)

	v.SetDefault("migrate.auto", false)
	v.SetDefault("workflow.permissions", "")

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":          "CTDMS_SERVER_PORT",
		"server.read_timeout":  "CTDMS_SERVER_READ_TIMEOUT",
		"server.write_timeout": "CTDMS_SERVER_WRITE_TIMEOUT",
		"server.environment":   "CTDMS_SERVER_ENVIRONMENT",
		"db.host":              "CTDMS_DB_HOST",
		"db.port":              "CTDMS_DB_PORT",
		"db.user":              "CTDMS_DB_USER",
		"db.password":          "CTDMS_DB_PASSWORD",
		"db.name":              "CTDMS_DB_NAME",
		"db.sslmode":           "CTDMS_DB_SSLMODE",
		"db.max_open":          "CTDMS_DB_MAX_OPEN",
		"db.max_idle":          "CTDMS_DB_MAX_IDLE",
		"storage.driver":       "CTDMS_STORAGE_DRIVER",
		"jwt.secret":           "CTDMS_JWT_SECRET",
		"jwt.issuer":           "CTDMS_JWT_ISSUER",
		"jwt.audience":         "CTDMS_JWT_AUDIENCE",
		"s3.region":            "CTDMS_S3_REGION",
		"s3.bucket":            "CTDMS_S3_BUCKET",
		"s3.endpoint":          "CTDMS_S3_ENDPOINT",
		"s3.access_key":        "CTDMS_S3_ACCESS_KEY",
		"s3.secret_key":        "CTDMS_S3_SECRET_KEY",
		"s3.presign_expiry":    "CTDMS_S3_PRESIGN_EXPIRY",
		"upload.max_file_size": "CTDMS_UPLOAD_MAX_FILE_SIZE",
		"upload.verify_object": "CTDMS_UPLOAD_VERIFY_OBJECT",
		"log.level":            "CTDMS_LOG_LEVEL",
		"log.format":           "CTDMS_LOG_FORMAT",
		"cors.allowed_origins": "CTDMS_CORS_ALLOWED_ORIGINS",
		"audit.write_timeout":  "CTDMS_AUDIT_WRITE_TIMEOUT",
		"audit.async":          "CTDMS_AUDIT_ASYNC",
		"audit.queue_size":     "CTDMS_AUDIT_QUEUE_SIZE",
		"audit.workers":        "CTDMS_AUDIT_WORKERS",
		"audit.max_overflow":   "CTDMS_AUDIT_MAX_OVERFLOW",
		"audit.self_heal":      "CTDMS_AUDIT_SELF_HEAL",
		"migrate.auto":         "CTDMS_MIGRATE_AUTO",
		"workflow.permissions": "CTDMS_WORKFLOW_PERMISSIONS",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// Container platforms set a PORT env var. Use it if CTDMS_SERVER_PORT is not explicitly set.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("CTDMS_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
		MaxOpen:  v.GetInt("db.max_open"),
		MaxIdle:  v.GetInt("db.max_idle"),
	}

	driver := strings.ToLower(v.GetString("storage.driver"))
	if driver != StorageDriverPostgres && driver != StorageDriverMemory {
		return nil, fmt.Errorf("config: unknown storage.driver %q", driver)
	}
	cfg.Storage = StorageConfig{Driver: driver}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("jwt.secret"),
		Issuer:   v.GetString("jwt.issuer"),
		Audience: v.GetString("jwt.audience"),
	}
	cfg.S3 = S3Config{
		Region:        v.GetString("s3.region"),
		Bucket:        v.GetString("s3.bucket"),
		Endpoint:      v.GetString("s3.endpoint"),
		AccessKey:     v.GetString("s3.access_key"),
		SecretKey:     v.GetString("s3.secret_key"),
		PresignExpiry: v.GetDuration("s3.presign_expiry"),
	}

	maxSize, err := units.FromHumanSize(v.GetString("upload.max_file_size"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid upload.max_file_size: %w", err)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("config: upload.max_file_size must be positive")
	}
	cfg.Upload = UploadConfig{
		MaxFileSize:  maxSize,
		VerifyObject: v.GetBool("upload.verify_object"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}

	// Parse CORS allowed origins from comma-separated string
	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{
		AllowedOrigins: corsOrigins,
	}

	cfg.Audit = AuditConfig{
		WriteTimeout: v.GetDuration("audit.write_timeout"),
		Async:        v.GetBool("audit.async"),
		QueueSize:    v.GetInt("audit.queue_size"),
		Workers:      v.GetInt("audit.workers"),
		MaxOverflow:  v.GetInt("audit.max_overflow"),
		SelfHeal:     v.GetBool("audit.self_heal"),
	}
	cfg.Migrate = MigrateConfig{Auto: v.GetBool("migrate.auto")}
	cfg.Workflow = WorkflowConfig{Permissions: v.GetString("workflow.permissions")}

	return cfg, nil
}
