package aggregator

import (
	"github.com/openshift-eng/release-verify/pkg/api"
)

// resolution reports whether a job result reached a terminal resolution
// and, if so, whether it counts as passed for acceptance.
//
// Optional jobs resolve as passed-for-acceptance as soon as their first
// run is terminal, whatever the outcome; their failure is recorded but
// never blocks and never earns retries. Required jobs pass on a first
// success or on a best-of-three: at least two successes among the first
// run and the two retries. A required job fails only once both retries
// are terminal and the successes still fall short.
func resolution(result *api.JobResult) (resolved bool, passed bool) {
	switch result.FirstRun.State {
	case api.JobStateSuccess:
		return true, true
	case api.JobStateFailure:
	default:
		return false, false
	}

	if !result.Required {
		return true, true
	}
	if !result.Retries.Dispatched() {
		return false, false
	}
	if result.SuccessCount() >= 2 {
		return true, true
	}
	for _, run := range result.Retries.Runs() {
		if !run.Finished() {
			return false, false
		}
	}
	return true, false
}

// acceptedOf computes the acceptance decision over a fully-resolved
// record: the AND over required job results of their resolution.
// Optional outcomes never participate.
func acceptedOf(record *api.TrackingRecord) bool {
	for i := range record.Results {
		result := &record.Results[i]
		if !result.Required {
			continue
		}
		resolved, passed := resolution(result)
		if !resolved || !passed {
			return false
		}
	}
	return true
}

// summarize derives the per-record counts persisted for observability.
// Unlike acceptance, the failed count reflects actual outcomes, so a
// failed optional job shows up in it.
func summarize(record *api.TrackingRecord) *api.RecordSummary {
	summary := &api.RecordSummary{Total: len(record.Results)}
	for i := range record.Results {
		result := &record.Results[i]
		if result.Required {
			summary.Required++
		}
		resolved, _ := resolution(result)
		if !resolved {
			summary.Pending++
			continue
		}
		if result.FirstRun.State == api.JobStateSuccess || result.SuccessCount() >= 2 {
			summary.Success++
		} else {
			summary.Failed++
		}
	}
	return summary
}
