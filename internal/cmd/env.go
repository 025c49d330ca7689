package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/amberdns/amberdns/internal/version"
	"github.com/caarlos0/env/v7"
	"github.com/getsentry/sentry-go"
)

// Values of the AMBERDNS_ENV environment variable.
const (
	envDev        = "dev"
	envProduction = "production"
)

// environment represents the configuration that is kept in the environment.
// Paths and infrastructure endpoints live here; tunables live in the
// configuration file.
type environment struct {
	Env               string `env:"AMBERDNS_ENV" envDefault:"dev"`
	ConfPath          string `env:"AMBERDNS_CONFIG_PATH" envDefault:"./config.yaml"`
	DBPath            string `env:"AMBERDNS_DB_PATH" envDefault:"./amberdns.db"`
	FilterCachePath   string `env:"AMBERDNS_FILTER_CACHE_PATH" envDefault:"./filters/"`
	QueryLogPath      string `env:"AMBERDNS_QUERYLOG_PATH" envDefault:"./querylog.jsonl"`
	CacheSnapshotPath string `env:"AMBERDNS_CACHE_SNAPSHOT_PATH" envDefault:"./cache_snapshot.json"`
	LogFormat         string `env:"AMBERDNS_LOG_FORMAT" envDefault:"text"`
	SentryDSN         string `env:"SENTRY_DSN" envDefault:"stderr"`

	// RedisAddr, if not empty, is the host:port of a Redis server used for
	// the cache snapshot instead of the snapshot file.
	RedisAddr    string `env:"AMBERDNS_REDIS_ADDR"`
	RedisDBIndex int    `env:"AMBERDNS_REDIS_DB" envDefault:"0"`

	Verbosity uint8 `env:"AMBERDNS_VERBOSE" envDefault:"0"`

	LogTimestamp strictBool `env:"AMBERDNS_LOG_TIMESTAMP" envDefault:"1"`
}

// parseEnvironment reads the configuration from the environment.
func parseEnvironment() (envs *environment, err error) {
	envs = &environment{}
	err = env.Parse(envs)
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	return envs, nil
}

// type check
var _ validate.Interface = (*environment)(nil)

// Validate implements the [validate.Interface] interface for *environment.
func (envs *environment) Validate() (err error) {
	errs := []error{
		validate.NotEmpty("AMBERDNS_CONFIG_PATH", envs.ConfPath),
		validate.NotEmpty("AMBERDNS_DB_PATH", envs.DBPath),
		validate.NotEmpty("AMBERDNS_FILTER_CACHE_PATH", envs.FilterCachePath),
		validate.NotNegative("AMBERDNS_REDIS_DB", envs.RedisDBIndex),
	}

	switch envs.Env {
	case envDev, envProduction:
		// Go on.
	default:
		errs = append(errs, fmt.Errorf(
			"AMBERDNS_ENV: %w: %q, supported: %q, %q",
			errors.ErrBadEnumValue,
			envs.Env,
			envDev,
			envProduction,
		))
	}

	switch envs.LogFormat {
	case "text", "json":
		// Go on.
	default:
		errs = append(errs, fmt.Errorf(
			"AMBERDNS_LOG_FORMAT: %w: %q",
			errors.ErrBadEnumValue,
			envs.LogFormat,
		))
	}

	return errors.Join(errs...)
}

// isProduction returns true when the production defaults, such as strict zone
// transfer checks, must be used.
func (envs *environment) isProduction() (ok bool) {
	return envs.Env == envProduction
}

// buildErrColl builds and returns an error collector from environment.
// baseLogger must not be nil.
func (envs *environment) buildErrColl(
	baseLogger *slog.Logger,
) (errColl errcoll.Interface, err error) {
	dsn := envs.SentryDSN
	if dsn == "stderr" {
		return errcoll.NewWriterErrorCollector(os.Stderr), nil
	}

	cli, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Release:          version.Version(),
	})
	if err != nil {
		return nil, err
	}

	l := baseLogger.With(slogutil.KeyPrefix, "sentry_errcoll")

	return errcoll.NewSentryErrorCollector(cli, l), nil
}

// strictBool is a type for booleans that are parsed from the environment more
// strictly than the usual bool.  It only accepts "0" and "1" as valid values.
type strictBool bool

// UnmarshalText implements the encoding.TextUnmarshaler interface for
// *strictBool.
func (sb *strictBool) UnmarshalText(b []byte) (err error) {
	if len(b) == 1 {
		switch b[0] {
		case '0':
			*sb = false

			return nil
		case '1':
			*sb = true

			return nil
		default:
			// Go on and return an error.
		}
	}

	return fmt.Errorf("invalid value %q, supported: %q, %q", b, "0", "1")
}
