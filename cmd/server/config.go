package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paltrust/feedback/internal/utils"
)

const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

type Config struct {
	Addr           string
	DBDriver       string
	SQLitePath     string
	MigrationsDir  string
	SnapshotPath   string
	DatabaseURL    string
	AdminPassword  string
	OpenAIKey      string
	OpenAIBase     string
	OpenAIModel    string
	OpenAIAttempts int
	SessionTTL     time.Duration
	StaticDir      string
	CORSOrigins    []string
	Commit         string
	BuildTime      string
}

func LoadConfig() Config {
	return Config{
		Addr:           utils.SafeEnv("PALTRUST_ADDR", ":8080"),
		DBDriver:       strings.ToLower(utils.SafeEnv("PALTRUST_DB_DRIVER", driverSQLite)),
		SQLitePath:     utils.SafeEnv("PALTRUST_SQLITE_PATH", "./data/feedback.db"),
		MigrationsDir:  utils.SafeEnv("PALTRUST_MIGRATIONS_DIR", ""),
		SnapshotPath:   utils.SafeEnv("PALTRUST_SNAPSHOT_PATH", ""),
		DatabaseURL:    utils.SafeEnv("DATABASE_URL", ""),
		AdminPassword:  utils.SafeEnv("PALTRUST_ADMIN_PASSWORD", ""),
		OpenAIKey:      utils.SafeEnv("OPENAI_API_KEY", ""),
		OpenAIBase:     utils.SafeEnv("PALTRUST_OPENAI_BASE", ""),
		OpenAIModel:    utils.SafeEnv("PALTRUST_OPENAI_MODEL", ""),
		OpenAIAttempts: utils.EnvInt("PALTRUST_OPENAI_ATTEMPTS", 2),
		SessionTTL:     utils.EnvDuration("PALTRUST_SESSION_TTL", 30*time.Minute),
		StaticDir:      utils.SafeEnv("PALTRUST_STATIC_DIR", ""),
		CORSOrigins:    splitList(utils.SafeEnv("PALTRUST_CORS_ORIGINS", "")),
		Commit:         utils.SafeEnv("PALTRUST_COMMIT", ""),
		BuildTime:      utils.SafeEnv("PALTRUST_BUILD_TIME", ""),
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("PALTRUST_ADDR must not be empty")
	}
	switch c.DBDriver {
	case driverMemory:
	case driverSQLite:
		if c.SQLitePath == "" {
			return errors.New("PALTRUST_SQLITE_PATH is required for the sqlite driver")
		}
	case driverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown PALTRUST_DB_DRIVER %q (want memory, sqlite or postgres)", c.DBDriver)
	}
	if c.OpenAIAttempts < 1 || c.OpenAIAttempts > 5 {
		return errors.New("PALTRUST_OPENAI_ATTEMPTS must be between 1 and 5")
	}
	if c.SessionTTL <= 0 {
		return errors.New("PALTRUST_SESSION_TTL must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
