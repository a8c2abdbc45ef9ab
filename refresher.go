package dytrust

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuxki/dytrust/pkg/certs"
	"github.com/yuxki/dytrust/pkg/date"
	"github.com/yuxki/dytrust/pkg/db"
	"github.com/yuxki/dytrust/pkg/revocation"
)

type expirationLogger struct {
	Logger zerolog.Logger
}

func (e *expirationLogger) InvalidMsg(key string, msg string) {
	e.Logger.Warn().Msg(fmt.Sprintf("%s: %s", msg, key))
}

func (e *expirationLogger) WarnMsg(key string, msg string) {
	e.Logger.Warn().Msg(fmt.Sprintf("%s: %s", msg, key))
}

func createExpirationControl(
	expiration string, freshness revocation.Freshness, logger zerolog.Logger,
) *db.ExpirationControl {
	expLogger := expirationLogger{Logger: logger}
	opts := []db.ExpirationControlOption{
		db.WithLogger(&expLogger),
		db.WithFreshness(freshness),
	}
	if expiration == "warn" {
		opts = append(opts, db.WithWarnOnExpiration())
	}
	return db.NewExpirationControl(opts...)
}

// RefresherSpec is a required refresher specification.
type RefresherSpec struct {
	// Interval is the duration between two refreshes.
	Interval time.Duration
	// Delay is subtracted from the wait before the next refresh, so that
	// refreshed data is in place when the interval elapses.
	Delay time.Duration
	// Logger is specified zerolog.Logger.
	Logger zerolog.Logger
	// Expiration determines the behavior for stored rows whose next update
	// is exceeded: "remove" or "warn".
	Expiration string
}

// The Refresher force-refreshes the revocation data of a watch list of
// chains through a RepositorySource, then sweeps the expired rows of the
// persistent repository, if any. The job is repeated infinitely with an
// interval between each job. This loop delays processing until the specified
// interval is reached, taking into account the duration of the job.
type Refresher struct {
	source      *revocation.RepositorySource
	repo        db.ScanRepository
	watch       []*certs.Chain
	now         date.Now
	nextUpdate  time.Time
	spec        RefresherSpec
	quite       chan string
	batchSerial int
}

// RefresherOptionFunc is type of an functional option for dytrust.Refresher.
type RefresherOptionFunc func(*Refresher)

// WithQuiteChan is a functional option used to set a quiet message channel,
// which stops the loop of dytrust.Refresher.Run(). It also sends a message
// immediately before quieting the loop.
func WithQuiteChan(quite chan string) func(*Refresher) {
	return func(r *Refresher) {
		r.quite = quite
	}
}

// WithSweepRepository sets the persistent repository swept after each
// refresh.
func WithSweepRepository(repo db.ScanRepository) func(*Refresher) {
	return func(r *Refresher) {
		r.repo = repo
	}
}

// WithRefresherNow sets the clock of the refresher.
func WithRefresherNow(now date.Now) func(*Refresher) {
	return func(r *Refresher) {
		r.now = now
	}
}

// NewRefresher creates a new instance of dytrust.Refresher and returns it.
func NewRefresher(
	source *revocation.RepositorySource,
	watch []*certs.Chain,
	nextUpdate time.Time,
	spec RefresherSpec,
	optFuncs ...RefresherOptionFunc,
) *Refresher {
	r := &Refresher{
		source:      source,
		watch:       watch,
		now:         date.NowGMT,
		nextUpdate:  nextUpdate,
		spec:        spec,
		batchSerial: 0,
	}

	for _, optF := range optFuncs {
		optF(r)
	}

	return r
}

// RunOnce refreshes the revocation data of every watched certificate that
// needs it and returns the number of refreshed tokens.
//   - Resolve each certificate with forceRefresh, bypassing cached data.
//   - Sweep the persistent repository with a db.ExpirationControl.
//
// This function is the main job of dytrust.Refresher.Run().
func (r *Refresher) RunOnce(ctx context.Context) int {
	logger := zerolog.Ctx(ctx)

	refreshed := 0
	for _, chain := range r.watch {
		for i, cert := range chain.Forward() {
			issuer := chain.Issuer(i)
			if issuer == nil || !needsRevocation(cert, i, -1) {
				continue
			}

			tok, err := r.source.Resolve(ctx, cert, issuer, true)
			if err != nil {
				logger.Error().Err(err).Str("certificate", cert.String()).Msg("")
				continue
			}
			if tok == nil {
				logger.Warn().Str("certificate", cert.String()).Msg("No revocation data is available.")
				continue
			}
			refreshed++
		}
	}
	logger.Info().Int("refreshed", refreshed).Msg("Revocation data refreshed.")

	if r.repo == nil {
		return refreshed
	}

	logger.Info().Msg("Repository scan started.")
	expCtl := createExpirationControl(r.spec.Expiration, r.source.Freshness(), *logger)
	valids, err := db.Sweep(ctx, r.repo, expCtl, r.now())
	if err != nil {
		logger.Error().Err(err).Msg("")
	}
	logger.Info().Int("valids", valids).Msg("Repository sweep completed.")

	return refreshed
}

func (r *Refresher) syncWithWaitDuration(now time.Time) time.Duration {
	waitDur := r.spec.Interval
	switch c := now.Compare(r.nextUpdate); c {
	case -1:
		waitDur = (waitDur + r.nextUpdate.Sub(now)) - r.spec.Delay
	case 1:
		waitDur = (waitDur - now.Sub(r.nextUpdate)) - r.spec.Delay
		if waitDur < 0 {
			waitDur = 0
		}
	default:
		waitDur -= r.spec.Delay
	}

	return waitDur
}

func (r *Refresher) logBatchSummary(ctx context.Context, start time.Time) {
	logger := zerolog.Ctx(ctx)

	dur := fmt.Sprintf("%v", time.Since(start))
	logger.Info().
		Str("duration", dur).
		Msg("Refresh batch completed.")
}

// waitForNextUpdate reports false when a quite message stopped the wait.
func (r *Refresher) waitForNextUpdate(ctx context.Context, waitDur time.Duration) bool {
	logger := zerolog.Ctx(ctx)

	logger.Info().Dur("wait", waitDur).
		Time("next-update", r.nextUpdate).
		Msg("Waiting for the next update.")

	if r.quite == nil {
		time.Sleep(waitDur)
		return true
	}

	select {
	case <-time.After(waitDur):
		return true
	case msg := <-r.quite:
		// Stop when it received quite message
		logger.Info().Msgf("Quite message received, stop loop: %s", msg)
		r.quite <- "Loop stopped."
		return false
	}
}

// Run starts a loop that refreshes the watched revocation data in the
// interval specification.
// The batch execute following jobs in order.
//   - Force-refresh the revocation data of the watched chains.
//   - Sweep the expired rows of the persistent repository.
//   - Compute the wait time needed to adjust for any out-of-sync between the
//     actual time and the next update time.
//   - Update Next Update.
//   - Wait for next update.
func (r *Refresher) Run(ctx context.Context) {
	for {
		startTime := r.now()

		logger := r.spec.Logger.With().Int("batch_serial", r.batchSerial).Logger()
		logger.Info().Msg("Starting refresh batch.")
		ctx := logger.WithContext(ctx)

		r.RunOnce(ctx)

		// Summury of this loop batch
		r.logBatchSummary(ctx, startTime)

		waitDur := r.syncWithWaitDuration(r.now())

		// Update nextUpdate
		r.nextUpdate = r.nextUpdate.Add(r.spec.Interval)

		// Wait for next update
		if !r.waitForNextUpdate(ctx, waitDur) {
			return
		}

		r.batchSerial++
	}
}
