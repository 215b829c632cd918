package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "VIBECHECK"

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Port  int
	Bind  string
	Store string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// DatabaseURL enables the Postgres leaderboard mirror.
	DatabaseURL string

	JWTSecret    string
	AllowOrigins []string
	PublicURL    string

	QuestionsFile      string
	OverwriteQuestions bool

	ExportEnabled  bool
	ExportFile     string
	ExportSchedule string
	SyncSchedule   string

	Verbose bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("--redis-addr is required with --store=redis")
		}
	default:
		return fmt.Errorf("unknown store %q (memory or redis)", c.Store)
	}
	if c.ExportEnabled && c.ExportFile == "" {
		return errors.New("--export-file is required when export is enabled")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// ServerFlags registers the server options on fs.
func ServerFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: VIBECHECK_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: VIBECHECK_PORT)")
	fs.StringVar(&c.Store, "store", StoreMemory, "room store backend: memory or redis (env: VIBECHECK_STORE)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis address (env: VIBECHECK_REDIS_ADDR)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password (env: VIBECHECK_REDIS_PASSWORD)")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number (env: VIBECHECK_REDIS_DB)")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "vibecheck:", "redis key prefix (env: VIBECHECK_REDIS_PREFIX)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "postgres DSN for the leaderboard mirror (env: VIBECHECK_DATABASE_URL)")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HMAC secret for identity tokens (env: VIBECHECK_JWT_SECRET)")
	fs.StringSliceVar(&c.AllowOrigins, "allow-origins", []string{"*"}, "CORS origins (env: VIBECHECK_ALLOW_ORIGINS)")
	fs.StringVar(&c.PublicURL, "public-url", "", "public base URL used in join links (env: VIBECHECK_PUBLIC_URL)")
	fs.StringVar(&c.QuestionsFile, "questions-file", "questions.yaml", "question pools to seed on start (env: VIBECHECK_QUESTIONS_FILE)")
	fs.BoolVar(&c.OverwriteQuestions, "overwrite-questions", false, "replace pools already in the store (env: VIBECHECK_OVERWRITE_QUESTIONS)")
	fs.BoolVar(&c.ExportEnabled, "export-enabled", true, "export leaderboards to a text file (env: VIBECHECK_EXPORT_ENABLED)")
	fs.StringVar(&c.ExportFile, "export-file", "./vibecheck-leaderboards.txt", "leaderboard export path (env: VIBECHECK_EXPORT_FILE)")
	fs.StringVar(&c.ExportSchedule, "export-schedule", "@every 5m", "cron spec for the export job (env: VIBECHECK_EXPORT_SCHEDULE)")
	fs.StringVar(&c.SyncSchedule, "sync-schedule", "@every 1m", "cron spec for the postgres mirror sync (env: VIBECHECK_SYNC_SCHEDULE)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "display additional output (env: VIBECHECK_VERBOSE)")
}

// BindEnv lets VIBECHECK_* environment variables fill every flag in fs that
// was not given on the command line.
func BindEnv(fs *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
	return v
}
