package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rongwang/sitetrack-server/internal/sheets"
)

// MinBcryptCost is the lowest bcrypt work factor the server accepts
const MinBcryptCost = 10

// DefaultColumnMap mirrors the column order of the project sheet
const DefaultColumnMap = "propertyName=A,category=B,location=C,floor=D,vendor=E,status=F," +
	"budget=G,spent=H,progress=I,startDate=J,dueDate=K,notes=L"

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Sheets    SheetsConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	RabbitMQ  RabbitMQConfig
	Log       LogConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DBName   string
	SSLMode  string
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	BcryptCost        int
	AdminInviteCode   string
	InviteCodes       []string // investor invite codes
	SeedAdminEmail    string
	SeedAdminPassword string
	SessionIdleTTL    time.Duration
}

// SheetsConfig describes the remote spreadsheet and its cell-write webhook
type SheetsConfig struct {
	APIBase         string
	SpreadsheetID   string
	SheetName       string
	Range           string
	FirstRow        int
	APIKey          string
	WebhookURL      string
	Timeout         time.Duration
	RefreshInterval time.Duration
	ColumnMap       string
}

// RedisConfig is optional; an empty Addr disables Redis-backed components
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig configures the token bucket in front of /auth
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// RabbitMQConfig is optional; an empty URL disables event publishing
type RabbitMQConfig struct {
	URL          string
	Queue        string
	ConsumeAudit bool
}

// LogConfig selects the log level and output format (text or json)
type LogConfig struct {
	Level  string
	Format string
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() *Config {
	sheetRange := getEnv("SHEET_RANGE", "A2:L")

	return &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Username: getEnv("DB_USERNAME", "postgres"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "sitetrack"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			TokenTTL:          getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
			BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
			AdminInviteCode:   getEnv("ADMIN_INVITE_CODE", ""),
			InviteCodes:       getEnvAsList("INVITE_CODES", nil),
			SeedAdminEmail:    getEnv("SEED_ADMIN_EMAIL", ""),
			SeedAdminPassword: getEnv("SEED_ADMIN_PASSWORD", ""),
			SessionIdleTTL:    getEnvAsDuration("SESSION_IDLE_TTL", 12*time.Hour),
		},
		Sheets: SheetsConfig{
			APIBase:         strings.TrimRight(getEnv("SHEETS_API_BASE", "https://sheets.googleapis.com"), "/"),
			SpreadsheetID:   getEnv("SPREADSHEET_ID", ""),
			SheetName:       getEnv("SHEET_NAME", "Sheet1"),
			Range:           sheetRange,
			FirstRow:        getEnvAsInt("SHEET_FIRST_ROW", rangeStartRow(sheetRange)),
			APIKey:          getEnv("SHEETS_API_KEY", ""),
			WebhookURL:      getEnv("SHEET_WEBHOOK_URL", ""),
			Timeout:         getEnvAsDuration("SHEET_TIMEOUT", 10*time.Second),
			RefreshInterval: getEnvAsDuration("SHEET_REFRESH_INTERVAL", 30*time.Minute),
			ColumnMap:       getEnv("COLUMN_MAP", DefaultColumnMap),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Capacity:       getEnvAsInt("RATE_LIMIT_CAPACITY", 10),
			RefillTokens:   getEnvAsInt("RATE_LIMIT_REFILL_TOKENS", 1),
			RefillInterval: getEnvAsDuration("RATE_LIMIT_REFILL_INTERVAL", 6*time.Second),
			TTL:            getEnvAsDuration("RATE_LIMIT_TTL", 10*time.Minute),
			Prefix:         getEnv("RATE_LIMIT_PREFIX", "rl"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:          getEnv("RABBITMQ_URL", ""),
			Queue:        getEnv("RABBITMQ_QUEUE", "approval.resolved"),
			ConsumeAudit: getEnvAsBool("RABBITMQ_CONSUME_AUDIT", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Validate fails fast on settings the server cannot run without
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.BcryptCost < MinBcryptCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be at least %d", MinBcryptCost))
	}
	if c.Auth.AdminInviteCode == "" {
		errs = append(errs, errors.New("ADMIN_INVITE_CODE is required"))
	}
	for _, code := range c.Auth.InviteCodes {
		if code == c.Auth.AdminInviteCode {
			errs = append(errs, errors.New("INVITE_CODES must not contain the admin invite code"))
			break
		}
	}
	if c.Sheets.SpreadsheetID == "" {
		errs = append(errs, errors.New("SPREADSHEET_ID is required"))
	}
	if c.Sheets.FirstRow < 1 {
		errs = append(errs, errors.New("SHEET_FIRST_ROW must be positive"))
	}
	if c.Sheets.Timeout <= 0 {
		errs = append(errs, errors.New("SHEET_TIMEOUT must be positive"))
	}

	// Item ids are row numbers, so the first row must be where the range starts
	sheetRange, rangeErr := sheets.ParseRange(c.Sheets.Range)
	if rangeErr != nil {
		errs = append(errs, fmt.Errorf("SHEET_RANGE: %w", rangeErr))
	} else if c.Sheets.FirstRow != sheetRange.StartRow {
		errs = append(errs, fmt.Errorf("SHEET_FIRST_ROW is %d but SHEET_RANGE %s starts at row %d",
			c.Sheets.FirstRow, c.Sheets.Range, sheetRange.StartRow))
	}

	columns, err := sheets.ParseColumnMap(c.Sheets.ColumnMap)
	if err != nil {
		errs = append(errs, fmt.Errorf("COLUMN_MAP: %w", err))
	} else if rangeErr == nil {
		if err := sheetRange.CheckColumns(columns); err != nil {
			errs = append(errs, fmt.Errorf("COLUMN_MAP does not fit SHEET_RANGE: %w", err))
		}
	}

	return errors.Join(errs...)
}

// rangeStartRow is the default first data row: where the range begins,
// or 2 when the range cannot be parsed (Validate reports that)
func rangeStartRow(raw string) int {
	r, err := sheets.ParseRange(raw)
	if err != nil {
		return 2
	}
	return r.StartRow
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
