// Package cmd is the AmberDNS entry point.  It contains the on-disk
// configuration file utilities, environment parsing, and the builder that
// assembles the resolver from its parts.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"runtime"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/amberdns/amberdns/internal/metrics"
	"github.com/amberdns/amberdns/internal/version"
	"golang.org/x/sys/unix"
)

// Main is the entry point of the application.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)

	envs := errors.Must(parseEnvironment())
	errors.Check(envs.Validate())

	lvl := errors.Must(slogutil.VerbosityToLevel(envs.Verbosity))
	baseLogger := slogutil.New(&slogutil.Config{
		// Don't use [slogutil.NewFormat] here, because the value is validated.
		Format:       slogutil.Format(envs.LogFormat),
		AddTimestamp: bool(envs.LogTimestamp),
		Level:        lvl,
	})

	mainLogger := baseLogger.With(slogutil.KeyPrefix, "main")

	mainLogger.InfoContext(
		ctx,
		"amberdns starting",
		"version", version.Version(),
		"revision", version.Revision(),
		"branch", version.Branch(),
		"env", envs.Env,
	)

	errColl := errors.Must(envs.buildErrColl(baseLogger))

	c := errors.Must(parseConfig(envs.ConfPath))
	errors.Check(c.Validate())

	b := newBuilder(&builderConfig{
		envs:       envs,
		conf:       c,
		baseLogger: baseLogger,
		errColl:    errColl,
	})

	errors.Check(b.initStore(ctx))

	errors.Check(b.initMessages(ctx))

	errors.Check(b.initFilterStorage(ctx))

	errors.Check(b.initPolicy(ctx))

	errors.Check(b.initTSIG(ctx))

	errors.Check(b.initZones(ctx))

	errors.Check(b.initQueryLog(ctx))

	errors.Check(b.initCache(ctx))

	errors.Check(b.initForward(ctx))

	errors.Check(b.initDNSSvc(ctx))

	errors.Check(b.initRateLimiter(ctx))

	errors.Check(b.initTLSManager(ctx))

	errors.Check(b.initDNSServers(ctx))

	errors.Check(b.initDebugSvc(ctx))

	b.startQueryEventLoop(ctx)

	metrics.SetUpGauge(
		version.Version(),
		version.Branch(),
		version.Revision(),
		runtime.Version(),
	)

	mainLogger.InfoContext(ctx, "amberdns started")

	// Unregister the signal behavior for ctx so that shutdown contexts are
	// not canceled by the same signal.
	stop()
	ctx = context.WithoutCancel(ctx)

	os.Exit(b.handleSignals(ctx))
}
