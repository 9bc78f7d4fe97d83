package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// Architecture is the CPU architecture of a release payload.
type Architecture string

const (
	ArchitectureAMD64   Architecture = "amd64"
	ArchitectureARM64   Architecture = "arm64"
	ArchitectureMulti   Architecture = "multi"
	ArchitecturePPC64LE Architecture = "ppc64le"
	ArchitectureS390X   Architecture = "s390x"
)

// BuildKind distinguishes the release stream a build came from.
type BuildKind string

const (
	BuildKindNightly BuildKind = "nightly"
	BuildKindStable  BuildKind = "stable"
)

// Build identifies a release payload. It is immutable once observed.
type Build struct {
	Name         string       `json:"name"`
	Architecture Architecture `json:"architecture"`
	Kind         BuildKind    `json:"kind,omitempty"`
}

func (b Build) String() string {
	return fmt.Sprintf("%s/%s", b.Name, b.Architecture)
}

// JobKind distinguishes fresh-install verification jobs from upgrade jobs
// that need a second, older payload to upgrade from.
type JobKind string

const (
	JobKindInstall JobKind = "install"
	JobKindUpgrade JobKind = "upgrade"
)

// JobSpec is a static entry from the job registry describing one
// verification job for a (release, architecture) pair.
type JobSpec struct {
	Name     string  `json:"name"`
	Required bool    `json:"required"`
	Kind     JobKind `json:"kind"`
}

// JobState is the lifecycle state of a single job run.
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateSuccess JobState = "success"
	JobStateFailure JobState = "failure"
)

// SuiteSummary holds the counts and failing test identifiers for one
// junit suite of a finished run.
type SuiteSummary struct {
	Total            int      `json:"total"`
	Failures         int      `json:"failures"`
	Errors           int      `json:"errors"`
	Skipped          int      `json:"skipped"`
	FailingScenarios []string `json:"failingScenarios,omitempty"`
}

// TestSummary maps suite names to their summaries.
type TestSummary map[string]SuiteSummary

// JobRun is one execution of a verification job. It is created on
// dispatch and mutated only by status polling; once the state is
// terminal the run never changes again.
type JobRun struct {
	ID             string      `json:"jobID"`
	URL            string      `json:"jobURL"`
	StartTime      time.Time   `json:"jobStartTime"`
	CompletionTime *time.Time  `json:"jobCompletionTime,omitempty"`
	State          JobState    `json:"jobState"`
	TestSummary    TestSummary `json:"testResultSummary,omitempty"`
}

// Finished reports whether the run reached a terminal state.
func (r JobRun) Finished() bool {
	return r.State == JobStateSuccess || r.State == JobStateFailure
}

// Retries holds the retry fan-out for a failed first run. It is either
// empty or holds exactly two runs that were dispatched together; the
// transition happens at most once per job result.
type Retries struct {
	runs []JobRun
}

// Dispatched reports whether the retry pair has been populated.
func (r *Retries) Dispatched() bool {
	return len(r.runs) > 0
}

// Dispatch populates the pair. It fails if retries were already
// dispatched so a concurrent sweep cannot double the fan-out.
func (r *Retries) Dispatch(first, second JobRun) error {
	if r.Dispatched() {
		return fmt.Errorf("retries already dispatched")
	}
	r.runs = []JobRun{first, second}
	return nil
}

// Runs exposes the retry runs. The returned slice aliases the stored
// runs so pollers can refresh them in place.
func (r *Retries) Runs() []JobRun {
	return r.runs
}

// Len returns the number of dispatched retries, zero or two.
func (r *Retries) Len() int {
	return len(r.runs)
}

func (r Retries) MarshalJSON() ([]byte, error) {
	if r.runs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.runs)
}

func (r *Retries) UnmarshalJSON(data []byte) error {
	var runs []JobRun
	if err := json.Unmarshal(data, &runs); err != nil {
		return err
	}
	if len(runs) > 2 {
		return fmt.Errorf("at most two retried jobs are allowed, got %d", len(runs))
	}
	if len(runs) == 0 {
		r.runs = nil
		return nil
	}
	r.runs = runs
	return nil
}

// JobResult tracks one job's verification outcome for a build: the
// first run plus, for failed required jobs, the best-of-three retries.
type JobResult struct {
	JobName  string  `json:"jobName"`
	Required bool    `json:"required"`
	Kind     JobKind `json:"kind,omitempty"`
	// UpgradeFrom is the payload an upgrade job installs first. Kept on
	// the result so retries run against the same starting payload.
	UpgradeFrom string  `json:"upgradeFrom,omitempty"`
	FirstRun    JobRun  `json:"firstJob"`
	Retries     Retries `json:"retriedJobs"`
}

// SuccessCount counts successful attempts across the first run and any
// retries.
func (r *JobResult) SuccessCount() int {
	count := 0
	if r.FirstRun.State == JobStateSuccess {
		count++
	}
	for _, run := range r.Retries.Runs() {
		if run.State == JobStateSuccess {
			count++
		}
	}
	return count
}

// RecordSummary carries derived per-record counts persisted for
// observability.
type RecordSummary struct {
	Total    int `json:"total"`
	Success  int `json:"success"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
	Required int `json:"required"`
}

// TrackingRecord is the persisted unit of state for one build's
// verification campaign. Aggregated and Accepted are pointers so both
// fields stay absent from the serialized record until the aggregator
// has something to say; while Aggregated is unset or false, Accepted
// must be treated as unknown.
type TrackingRecord struct {
	Build      Build          `json:"build"`
	Created    time.Time      `json:"created"`
	Aggregated *bool          `json:"aggregated,omitempty"`
	Accepted   *bool          `json:"accepted,omitempty"`
	Results    []JobResult    `json:"result"`
	Summary    *RecordSummary `json:"summary,omitempty"`
}

// IsAggregated reports whether every job result reached a terminal
// resolution in a previous sweep.
func (t *TrackingRecord) IsAggregated() bool {
	return t.Aggregated != nil && *t.Aggregated
}

// AcceptanceDecision returns the acceptance outcome and whether it is
// known yet. Callers must not interpret an unknown decision as false.
func (t *TrackingRecord) AcceptanceDecision() (accepted bool, known bool) {
	if !t.IsAggregated() || t.Accepted == nil {
		return false, false
	}
	return *t.Accepted, true
}
