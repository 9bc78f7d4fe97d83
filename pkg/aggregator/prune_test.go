package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/openshift-eng/release-verify/pkg/api"
	"github.com/openshift-eng/release-verify/pkg/resultstore"
)

func TestPrune(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	currentBuild := api.Build{Name: "4.17.0-0.nightly-2024-06-09-222222", Architecture: api.ArchitectureAMD64, Kind: api.BuildKindNightly}

	staleBuild := api.Build{Name: "4.17.0-0.nightly-2024-06-01-111111", Architecture: api.ArchitectureAMD64, Kind: api.BuildKindNightly}
	recentBuild := api.Build{Name: "4.17.0-0.nightly-2024-06-09-111111", Architecture: api.ArchitectureAMD64, Kind: api.BuildKindNightly}
	untrackedStreamBuild := api.Build{Name: "4.16.0-0.nightly-2024-06-01-111111", Architecture: api.ArchitectureARM64, Kind: api.BuildKindNightly}
	stableBuild := api.Build{Name: "4.16.1", Architecture: api.ArchitectureAMD64, Kind: api.BuildKindStable}

	store := resultstore.New(afero.NewMemMapFs(), nil)
	for _, record := range []*api.TrackingRecord{
		{Build: staleBuild, Created: now.Add(-9 * 24 * time.Hour)},
		{Build: currentBuild, Created: now.Add(-10 * 24 * time.Hour)},
		{Build: recentBuild, Created: now.Add(-time.Hour)},
		{Build: untrackedStreamBuild, Created: now.Add(-9 * 24 * time.Hour)},
		{Build: stableBuild, Created: now.Add(-30 * 24 * time.Hour)},
	} {
		if err := store.WriteRecord(record); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := store.SetCurrentBuild("4.17", api.ArchitectureAMD64, api.BuildKindNightly, currentBuild); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	aggregator := NewAggregator(store, nil, nil, nil, Options{Retention: 72 * time.Hour})
	aggregator.clock = clocktesting.NewFakePassiveClock(now)
	if err := aggregator.prune(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectGone := map[string]bool{
		staleBuild.Name:           true,
		currentBuild.Name:         false, // tracked by the index
		recentBuild.Name:          false, // superseded but inside retention
		untrackedStreamBuild.Name: false, // its stream has no index entry
		stableBuild.Name:          false, // stable is kept forever
	}
	for _, build := range []api.Build{staleBuild, currentBuild, recentBuild, untrackedStreamBuild, stableBuild} {
		record, err := store.Record(build)
		if err != nil {
			t.Fatalf("build %s: unexpected error: %v", build.Name, err)
		}
		if gone := record == nil; gone != expectGone[build.Name] {
			t.Errorf("build %s: expected gone=%t, got %t", build.Name, expectGone[build.Name], gone)
		}
	}
}

func TestPruneCountsRunActivity(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	currentBuild := api.Build{Name: "4.17.0-0.nightly-2024-06-09-222222", Architecture: api.ArchitectureAMD64, Kind: api.BuildKindNightly}
	supersededBuild := api.Build{Name: "4.17.0-0.nightly-2024-06-01-111111", Architecture: api.ArchitectureAMD64, Kind: api.BuildKindNightly}

	// created long ago, but a run completed recently
	completed := now.Add(-time.Hour)
	record := &api.TrackingRecord{
		Build:   supersededBuild,
		Created: now.Add(-9 * 24 * time.Hour),
		Results: []api.JobResult{{
			JobName:  "e2e-aws",
			Required: true,
			FirstRun: api.JobRun{ID: "run-1", State: api.JobStateSuccess, StartTime: now.Add(-2 * time.Hour), CompletionTime: &completed},
		}},
	}

	store := resultstore.New(afero.NewMemMapFs(), nil)
	if err := store.WriteRecord(record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetCurrentBuild("4.17", api.ArchitectureAMD64, api.BuildKindNightly, currentBuild); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	aggregator := NewAggregator(store, nil, nil, nil, Options{Retention: 72 * time.Hour})
	aggregator.clock = clocktesting.NewFakePassiveClock(now)
	if err := aggregator.prune(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	persisted, err := store.Record(supersededBuild)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted == nil {
		t.Error("record with recent run activity must survive the retention window")
	}
}
