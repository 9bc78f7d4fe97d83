package aggregator

import (
	"context"
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/openshift-eng/release-verify/pkg/api"
)

// prune deletes nightly records no longer referenced by their stream's
// current-build index once they sit past the retention window. Stable
// records are never pruned.
func (a *Aggregator) prune(ctx context.Context) error {
	records, err := a.store.Records(api.BuildKindNightly)
	if err != nil {
		return fmt.Errorf("could not list nightly records: %w", err)
	}
	var errs []error
	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger := a.logger.WithField("build", record.Build.String())
		release, err := api.ReleaseOf(record.Build.Name)
		if err != nil {
			logger.WithError(err).Warn("Cannot determine release of record, skipping prune check.")
			continue
		}
		current, err := a.store.CurrentBuild(release, record.Build.Architecture, api.BuildKindNightly)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", record.Build, err))
			continue
		}
		if current == nil || current.Name == record.Build.Name {
			// still the tracked build of its stream
			continue
		}
		if a.clock.Since(lastActivity(record)) < a.retention {
			continue
		}
		if err := a.store.DeleteRecord(record.Build); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", record.Build, err))
			continue
		}
		recordsPrunedCounter.Inc()
		logger.Info("Pruned superseded nightly record.")
	}
	return utilerrors.NewAggregate(errs)
}

// lastActivity is the newest timestamp a record carries: run completion
// or start times, falling back to record creation.
func lastActivity(record *api.TrackingRecord) time.Time {
	last := record.Created
	consider := func(t time.Time) {
		if t.After(last) {
			last = t
		}
	}
	for i := range record.Results {
		runs := append([]api.JobRun{record.Results[i].FirstRun}, record.Results[i].Retries.Runs()...)
		for _, run := range runs {
			consider(run.StartTime)
			if run.CompletionTime != nil {
				consider(*run.CompletionTime)
			}
		}
	}
	return last
}
