package cmd

import (
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// queryLogConfig is the query log configuration.  The retention period comes
// from the settings store; the file path, from the environment.
type queryLogConfig struct {
	// File contains the JSONL file query log configuration.
	File *queryLogFileConfig `yaml:"file"`

	// QueueSize is the size of the buffer between the resolving pipeline and
	// the query log writers.
	QueueSize int `yaml:"queue_size"`

	// CleanupIvl defines how often the entries past the retention period are
	// deleted from the query database.
	CleanupIvl timeutil.Duration `yaml:"cleanup_interval"`
}

// type check
var _ validate.Interface = (*queryLogConfig)(nil)

// Validate implements the [validate.Interface] interface for *queryLogConfig.
func (c *queryLogConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.Positive("queue_size", c.QueueSize),
		validate.Positive("cleanup_interval", c.CleanupIvl),
	}

	errs = validate.Append(errs, "file", c.File)

	return errors.Join(errs...)
}

// queryLogFileConfig is the JSONL file query log configuration.
type queryLogFileConfig struct {
	// Enabled shows if the JSONL file query log is written at all.  The
	// query database used for statistics is not affected by this.
	Enabled bool `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*queryLogFileConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *queryLogFileConfig.
func (c *queryLogFileConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return nil
}
