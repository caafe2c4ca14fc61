package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stock_alerts_backend/models"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string

	DBDriver   string // postgres, sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	EnableDataCollection bool
	EnablePriceAlerts    bool
	CollectionInterval   time.Duration
	AlertInterval        time.Duration
	RetrySweepInterval   time.Duration
	MarketTimezone       string
	TrackedTickers       []string

	Provider ProviderConfig
	SMTP     SMTPConfig
	Alerts   AlertDefaults
	Kafka    KafkaConfig

	MongoURI        string
	IngestJWTSecret string
	IngestRateLimit float64 // requests per second per client
}

// ProviderConfig configures the Alpha Vantage client
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	MinInterval time.Duration
	Timeout     time.Duration
	DemoMode    bool
}

// SMTPConfig configures outbound email. An empty Host or From disables email delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to send mail
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// AlertDefaults holds the default thresholds for the alert rules
type AlertDefaults struct {
	PriceChangeThreshold float64 // percent
	VolumeSurgeMultiple  float64
	RSIOverbought        float64
	RSIOversold          float64
	DedupeWindow         time.Duration
}

// KafkaConfig configures the optional trigger consumer. An empty Broker disables it.
type KafkaConfig struct {
	Broker  string
	Topic   string
	GroupID string
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", ""),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "stock_alerts"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "data/stock_alerts.db"),

		EnableDataCollection: getEnvBool("ENABLE_DATA_COLLECTION", false),
		EnablePriceAlerts:    getEnvBool("ENABLE_PRICE_ALERTS", false),
		CollectionInterval:   getEnvDuration("COLLECTION_INTERVAL", 15*time.Minute),
		AlertInterval:        getEnvDuration("ALERT_INTERVAL", 5*time.Minute),
		RetrySweepInterval:   getEnvDuration("RETRY_SWEEP_INTERVAL", time.Minute),
		MarketTimezone:       getEnv("MARKET_TIMEZONE", "America/New_York"),
		TrackedTickers:       getEnvList("TRACKED_TICKERS"),

		Provider: ProviderConfig{
			APIKey:      getEnv("ALPHA_VANTAGE_API_KEY", ""),
			BaseURL:     getEnv("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co/query"),
			MinInterval: getEnvDuration("PROVIDER_MIN_INTERVAL", 500*time.Millisecond),
			Timeout:     getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
			DemoMode:    getEnvBool("DEMO_MODE", false),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_SERVER", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASS", ""),
			From:     getEnv("EMAIL_FROM", ""),
		},
		Alerts: AlertDefaults{
			PriceChangeThreshold: getEnvFloat("PRICE_CHANGE_THRESHOLD", 5),
			VolumeSurgeMultiple:  getEnvFloat("VOLUME_SURGE_MULTIPLE", 2),
			RSIOverbought:        getEnvFloat("RSI_OVERBOUGHT", 70),
			RSIOversold:          getEnvFloat("RSI_OVERSOLD", 30),
			DedupeWindow:         getEnvDuration("ALERT_DEDUPE_WINDOW", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Broker:  getEnv("KAFKA_BROKER", ""),
			Topic:   getEnv("KAFKA_TRIGGER_TOPIC", "stock_triggers"),
			GroupID: getEnv("KAFKA_TRIGGER_GROUP_ID", "stock-alerts-triggers"),
		},

		MongoURI:        getEnv("MONGODB_URI", ""),
		IngestJWTSecret: getEnv("INGEST_JWT_SECRET", ""),
		IngestRateLimit: getEnvFloat("INGEST_RATE_LIMIT", 10),
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.Environment == "production" {
			cfg.LogFormat = "json"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("unsupported DB_DRIVER %q (want postgres or sqlite)", c.DBDriver)
	}
	if c.CollectionInterval <= 0 || c.AlertInterval <= 0 || c.RetrySweepInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if _, err := time.LoadLocation(c.MarketTimezone); err != nil {
		return fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.MarketTimezone, err)
	}
	if c.Alerts.RSIOversold >= c.Alerts.RSIOverbought {
		return fmt.Errorf("RSI_OVERSOLD (%.1f) must be below RSI_OVERBOUGHT (%.1f)",
			c.Alerts.RSIOversold, c.Alerts.RSIOverbought)
	}
	return nil
}

// InitDB initializes database connection
func InitDB(cfg *Config, log *logrus.Logger) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.Environment == "production" {
		logLevel = logger.Error
	}
	gormCfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		log.WithField("path", cfg.SQLitePath).Info("Opening sqlite database")
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		// Log connection info (masked for security)
		log.WithFields(logrus.Fields{
			"host":   maskHost(cfg.DBHost),
			"port":   cfg.DBPort,
			"user":   cfg.DBUser,
			"dbname": cfg.DBName,
		}).Info("Connecting to database")

		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode,
		)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info("Database connection verified successfully")
	DB = db
	return db, nil
}

// Migrate creates or updates every table the service owns
func Migrate(db *gorm.DB) error {
	if err := models.MigrateUserModels(db); err != nil {
		return fmt.Errorf("migrate user models: %w", err)
	}
	if err := models.MigrateStockModels(db); err != nil {
		return fmt.Errorf("migrate market models: %w", err)
	}
	if err := models.MigrateTriggerModels(db); err != nil {
		return fmt.Errorf("migrate trigger models: %w", err)
	}
	return nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma separated list, upper-casing symbols
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
