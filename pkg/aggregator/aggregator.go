// Package aggregator is the decision engine of the verification
// campaign: it polls run statuses, applies the best-of-three retry
// policy per job, and marks a build accepted once every job result is
// terminal. All durable state lives in the tracking record, re-read
// fresh on every sweep, so the process is safe to kill at any point.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/openshift-eng/release-verify/pkg/api"
	"github.com/openshift-eng/release-verify/pkg/artifacts"
	"github.com/openshift-eng/release-verify/pkg/dispatch"
)

// RecordStore is the slice of the result store the aggregator needs.
type RecordStore interface {
	UnaggregatedRecords() ([]*api.TrackingRecord, error)
	Update(build api.Build, mutate func(*api.TrackingRecord) error) error
	Records(kind api.BuildKind) ([]*api.TrackingRecord, error)
	CurrentBuild(release string, architecture api.Architecture, kind api.BuildKind) (*api.Build, error)
	DeleteRecord(build api.Build) error
}

// AcceptanceSink receives the acceptance outcome of stable builds.
// Pushes are best-effort and never revert a recorded decision.
type AcceptanceSink interface {
	SetAcceptedLabel(ctx context.Context, build api.Build, accepted bool) error
}

// Options tune a sweep.
type Options struct {
	// CallTimeout bounds every status poll and artifact fetch.
	CallTimeout time.Duration
	// Retention is how long a superseded nightly record is kept after
	// its last activity before the pruning sweep deletes it.
	Retention time.Duration
	// MaxConcurrency caps the records processed in parallel.
	MaxConcurrency int
}

// Aggregator sweeps unaggregated tracking records.
type Aggregator struct {
	store      RecordStore
	dispatcher dispatch.Client
	artifacts  artifacts.Reader
	sink       AcceptanceSink
	clock      clock.PassiveClock

	callTimeout    time.Duration
	retention      time.Duration
	maxConcurrency int

	logger *logrus.Entry
}

// NewAggregator wires an aggregator over its collaborators. sink may be
// nil when no acceptance push is configured.
func NewAggregator(store RecordStore, dispatcher dispatch.Client, reader artifacts.Reader, sink AcceptanceSink, options Options) *Aggregator {
	if options.CallTimeout == 0 {
		options.CallTimeout = 30 * time.Second
	}
	if options.Retention == 0 {
		options.Retention = 72 * time.Hour
	}
	if options.MaxConcurrency == 0 {
		options.MaxConcurrency = 4
	}
	return &Aggregator{
		store:          store,
		dispatcher:     dispatcher,
		artifacts:      reader,
		sink:           sink,
		clock:          clock.RealClock{},
		callTimeout:    options.CallTimeout,
		retention:      options.Retention,
		maxConcurrency: options.MaxConcurrency,
		logger:         logrus.WithField("component", "test-result-aggregator"),
	}
}

// Run performs one full sweep: reconcile every unaggregated record,
// then prune superseded nightly records. Records are independent and
// processed concurrently; per-record errors are collected, logged and
// never abort the sweep.
func (a *Aggregator) Run(ctx context.Context) error {
	started := time.Now()
	defer func() {
		sweepDurationMetric.Observe(time.Since(started).Seconds())
	}()

	records, err := a.store.UnaggregatedRecords()
	if err != nil {
		return fmt.Errorf("could not list unaggregated records: %w", err)
	}

	var errLock sync.Mutex
	var errs []error
	group := &errgroup.Group{}
	group.SetLimit(a.maxConcurrency)
	for _, record := range records {
		build := record.Build
		group.Go(func() error {
			if err := a.syncRecord(ctx, build); err != nil {
				a.logger.WithError(err).WithField("build", build.String()).Error("Failed to sync record.")
				errLock.Lock()
				errs = append(errs, fmt.Errorf("record %s: %w", build, err))
				errLock.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := a.prune(ctx); err != nil {
		errs = append(errs, fmt.Errorf("prune: %w", err))
	}
	return utilerrors.NewAggregate(errs)
}

// syncRecord reconciles one record under its store lock so retry
// dispatch cannot race a concurrent sweep.
func (a *Aggregator) syncRecord(ctx context.Context, build api.Build) error {
	return a.store.Update(build, func(record *api.TrackingRecord) error {
		a.reconcile(ctx, record)
		return nil
	})
}

// reconcile advances a record as far as the current run states allow
// and stamps aggregation once every result is terminal. It never
// returns an error: poll failures leave results unresolved and the
// partial progress is persisted anyway so state survives a restart.
func (a *Aggregator) reconcile(ctx context.Context, record *api.TrackingRecord) {
	if record.IsAggregated() {
		// terminal records never change again
		return
	}
	logger := a.logger.WithField("build", record.Build.String())

	for i := range record.Results {
		a.reconcileResult(ctx, logger, record.Build, &record.Results[i])
	}

	record.Summary = summarize(record)

	aggregated := true
	for i := range record.Results {
		if resolved, _ := resolution(&record.Results[i]); !resolved {
			aggregated = false
			break
		}
	}
	record.Aggregated = &aggregated
	if !aggregated {
		return
	}

	accepted := acceptedOf(record)
	record.Accepted = &accepted
	recordsAggregatedCounter.WithLabelValues(string(record.Build.Kind), fmt.Sprintf("%t", accepted)).Inc()
	logger.WithField("accepted", accepted).Info("Aggregated verification record.")

	if record.Build.Kind == api.BuildKindStable && a.sink != nil {
		pushCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
		if err := a.sink.SetAcceptedLabel(pushCtx, record.Build, accepted); err != nil {
			// best-effort, the decision stands either way
			logger.WithError(err).Warn("Could not push acceptance label.")
		}
	}
}

// reconcileResult advances one job result along its state machine:
// PENDING_FIRST -> {PASS | PENDING_RETRY}, PENDING_RETRY -> {PASS | FAIL}.
// Re-sweeping a resolved result is a no-op.
func (a *Aggregator) reconcileResult(ctx context.Context, logger *logrus.Entry, build api.Build, result *api.JobResult) {
	if resolved, _ := resolution(result); resolved {
		return
	}
	logger = logger.WithField("job", result.JobName)

	if result.FirstRun.State == api.JobStatePending {
		a.refresh(ctx, logger, result.JobName, &result.FirstRun)
	}
	if result.FirstRun.State != api.JobStateFailure {
		return
	}
	if !result.Required {
		// optional failures are recorded, never retried
		return
	}
	if !result.Retries.Dispatched() {
		a.dispatchRetries(ctx, logger, build, result)
		return
	}
	runs := result.Retries.Runs()
	for i := range runs {
		if runs[i].State == api.JobStatePending {
			a.refresh(ctx, logger, result.JobName, &runs[i])
		}
	}
}

// dispatchRetries fires the best-of-three fan-out: exactly two retries,
// dispatched together. The caller holds the record lock, so the
// dispatched-check cannot race another sweep. If either dispatch fails
// the pair stays empty and is re-attempted next sweep.
func (a *Aggregator) dispatchRetries(ctx context.Context, logger *logrus.Entry, build api.Build, result *api.JobResult) {
	first, err := a.dispatcher.Start(ctx, result.JobName, build, result.UpgradeFrom)
	if err != nil {
		logger.WithError(err).Warn("Could not dispatch first retry, will re-attempt next sweep.")
		return
	}
	second, err := a.dispatcher.Start(ctx, result.JobName, build, result.UpgradeFrom)
	if err != nil {
		logger.WithError(err).Warn("Could not dispatch second retry, will re-attempt the pair next sweep.")
		return
	}
	if err := result.Retries.Dispatch(first, second); err != nil {
		logger.WithError(err).Error("Retry pair was already populated.")
		return
	}
	retriesDispatchedCounter.WithLabelValues(result.JobName).Add(2)
	logger.WithField("runs", []string{first.ID, second.ID}).Info("Dispatched best-of-three retries.")
}

// refresh polls one run's status and, on a transition to a terminal
// state, stamps the completion time and fetches the test summary. A
// poll failure leaves the prior state untouched: a flaky status
// endpoint must not fail a build.
func (a *Aggregator) refresh(ctx context.Context, logger *logrus.Entry, jobName string, run *api.JobRun) {
	pollCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	state, err := a.dispatcher.Status(pollCtx, run.ID)
	if err != nil {
		logger.WithError(err).WithField("run", run.ID).Warn("Could not refresh run status, leaving state unchanged.")
		return
	}
	if run.Finished() || state == run.State {
		return
	}
	run.State = state
	if !run.Finished() {
		return
	}
	now := a.clock.Now().UTC()
	run.CompletionTime = &now
	run.TestSummary = a.fetchSummary(ctx, logger, jobName, run.ID)
}

// fetchSummary reads the run's test summary from the artifact store. A
// terminal run with no retrievable summary is recorded with an empty
// one; resolution derives from run state, not artifacts.
func (a *Aggregator) fetchSummary(ctx context.Context, logger *logrus.Entry, jobName, runID string) api.TestSummary {
	if a.artifacts == nil {
		return api.TestSummary{}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	summary, err := a.artifacts.TestSummary(fetchCtx, jobName, runID)
	if err != nil {
		logger.WithError(err).WithField("run", runID).Warn("Could not fetch test summary, recording an empty one.")
		return api.TestSummary{}
	}
	return summary
}
