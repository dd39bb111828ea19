// Package config loads the immutable process configuration from the
// environment (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	AuditAfterCommit   = "after_commit"
	AuditTransactional = "transactional"
)

// Config holds all runtime configuration values. It is built once in main
// and passed by value into constructors; nothing reads the environment
// after startup.
type Config struct {
	Env      string // application environment (dev, test, prod)
	Port     string // HTTP port to listen on
	LogLevel string // debug | info | warn | error

	DBDriver   string // mysql | sqlite
	DBUser     string
	DBPass     string // may be empty
	DBHost     string
	DBPort     string
	DBName     string
	SQLitePath string // used when DBDriver is sqlite

	JWTSecret      string
	AccessTTLMin   int
	RefreshTTLDays int
	BcryptCost     int

	AuditPolicy string // after_commit | transactional

	AMQPURL              string // empty disables visit event publishing
	VisitQueue           string
	QueueConsumerEnabled bool
	VisitLogDir          string

	AdminUsername string // bootstrap account created when the users table is empty
	AdminPassword string
	AdminEmail    string
}

// Load reads the .env file when present, then the environment. Every
// missing or malformed required variable is reported in a single error.
func Load() (Config, error) {
	_ = godotenv.Load() // a missing .env is fine; real env vars win

	var l loader
	cfg := Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     envStr("APP_PORT", "8080"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		DBDriver:   strings.ToLower(envStr("DB_DRIVER", DriverMySQL)),
		DBPass:     os.Getenv("DB_PASS"),
		SQLitePath: envStr("SQLITE_PATH", "./data/visits.db"),

		JWTSecret:      l.must("JWT_SECRET"),
		AccessTTLMin:   l.mustInt("ACCESS_TOKEN_TTL_MIN", 15),
		RefreshTTLDays: l.mustInt("REFRESH_TOKEN_TTL_DAYS", 7),
		BcryptCost:     l.mustInt("BCRYPT_COST", 12),

		AuditPolicy: strings.ToLower(envStr("AUDIT_POLICY", AuditAfterCommit)),

		AMQPURL:              firstEnv("RABBITMQ_URL", "AMQP_URL"),
		VisitQueue:           envStr("VISIT_QUEUE", "visit.events"),
		QueueConsumerEnabled: envBool("QUEUE_CONSUMER_ENABLED", false),
		VisitLogDir:          envStr("VISIT_LOG_DIR", "logs"),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminEmail:    envStr("ADMIN_EMAIL", "admin@localhost"),
	}

	switch cfg.DBDriver {
	case DriverMySQL:
		cfg.DBUser = l.must("DB_USER")
		cfg.DBHost = l.must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = l.must("DB_NAME")
	case DriverSQLite:
	default:
		l.fail(fmt.Sprintf("DB_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, cfg.DBDriver))
	}

	if cfg.AuditPolicy != AuditAfterCommit && cfg.AuditPolicy != AuditTransactional {
		l.fail(fmt.Sprintf("AUDIT_POLICY must be %q or %q, got %q", AuditAfterCommit, AuditTransactional, cfg.AuditPolicy))
	}
	if cfg.QueueConsumerEnabled && cfg.AMQPURL == "" {
		l.fail("QUEUE_CONSUMER_ENABLED requires RABBITMQ_URL")
	}

	if err := l.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loader collects configuration problems instead of exiting on the first.
type loader struct{ problems []string }

func (l *loader) fail(msg string) { l.problems = append(l.problems, msg) }

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		l.fail("missing required env var: " + key)
	}
	return v
}

// mustInt is like must() with a default for unset variables; a set but
// non-numeric value is an error.
func (l *loader) mustInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		l.fail(fmt.Sprintf("invalid int for %s: %q", key, s))
	}
	return n
}

func (l *loader) err() error {
	if len(l.problems) == 0 {
		return nil
	}
	return errors.New("config: " + strings.Join(l.problems, "; "))
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
