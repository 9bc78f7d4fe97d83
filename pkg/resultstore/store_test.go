package resultstore

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"

	"github.com/openshift-eng/release-verify/pkg/api"
)

func testBuild(name string) api.Build {
	return api.Build{Name: name, Architecture: api.ArchitectureAMD64, Kind: api.BuildKindNightly}
}

func testRecord(name string) *api.TrackingRecord {
	return &api.TrackingRecord{
		Build:   testBuild(name),
		Created: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Results: []api.JobResult{{
			JobName:  "periodic-ci-verify-e2e-aws",
			Required: true,
			FirstRun: api.JobRun{ID: "1", State: api.JobStatePending, StartTime: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		}},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	store := New(afero.NewMemMapFs(), nil)
	build := testBuild("4.17.0-0.nightly-2024-06-01-123456")

	if record, err := store.Record(build); err != nil || record != nil {
		t.Fatalf("expected no record and no error, got %v, %v", record, err)
	}

	expected := testRecord(build.Name)
	if err := store.WriteRecord(expected); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	actual, err := store.Record(build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(expected, actual, cmp.AllowUnexported(api.Retries{}), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("record changed in round trip: %s", diff)
	}
}

func TestUpdate(t *testing.T) {
	store := New(afero.NewMemMapFs(), nil)
	build := testBuild("4.17.0-0.nightly-2024-06-01-123456")
	if err := store.WriteRecord(testRecord(build.Name)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Update(build, func(record *api.TrackingRecord) error {
		record.Results[0].FirstRun.State = api.JobStateSuccess
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := store.Record(build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Results[0].FirstRun.State != api.JobStateSuccess {
		t.Errorf("expected update to persist, got state %s", record.Results[0].FirstRun.State)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	store := New(afero.NewMemMapFs(), nil)
	err := store.Update(testBuild("4.17.0-0.nightly-2024-06-01-123456"), func(*api.TrackingRecord) error {
		t.Fatal("mutate must not run for a missing record")
		return nil
	})
	if err == nil {
		t.Error("expected error updating a missing record")
	}
}

func TestUpdateMutationErrorDoesNotPersist(t *testing.T) {
	store := New(afero.NewMemMapFs(), nil)
	build := testBuild("4.17.0-0.nightly-2024-06-01-123456")
	if err := store.WriteRecord(testRecord(build.Name)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Update(build, func(record *api.TrackingRecord) error {
		record.Results[0].FirstRun.State = api.JobStateFailure
		return errors.New("precondition not met")
	}); err == nil {
		t.Fatal("expected mutation error to surface")
	}

	record, err := store.Record(build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Results[0].FirstRun.State != api.JobStatePending {
		t.Errorf("failed mutation must not persist, got state %s", record.Results[0].FirstRun.State)
	}
}

func TestCurrentBuildIndex(t *testing.T) {
	store := New(afero.NewMemMapFs(), nil)

	current, err := store.CurrentBuild("4.17", api.ArchitectureAMD64, api.BuildKindNightly)
	if err != nil || current != nil {
		t.Fatalf("expected no current build and no error, got %v, %v", current, err)
	}

	build := testBuild("4.17.0-0.nightly-2024-06-01-123456")
	if err := store.SetCurrentBuild("4.17", api.ArchitectureAMD64, api.BuildKindNightly, build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current, err = store.CurrentBuild("4.17", api.ArchitectureAMD64, api.BuildKindNightly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(&build, current); diff != "" {
		t.Errorf("got incorrect current build: %s", diff)
	}
}

func TestUnaggregatedRecords(t *testing.T) {
	store := New(afero.NewMemMapFs(), nil)

	pending := testRecord("4.17.0-0.nightly-2024-06-01-123456")
	if err := store.WriteRecord(pending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := testRecord("4.17.0-0.nightly-2024-06-02-123456")
	aggregated, accepted := true, true
	done.Aggregated = &aggregated
	done.Accepted = &accepted
	if err := store.WriteRecord(done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := store.UnaggregatedRecords()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Build.Name != pending.Build.Name {
		t.Errorf("expected only the pending record, got %+v", records)
	}
}

func TestDeleteRecord(t *testing.T) {
	store := New(afero.NewMemMapFs(), nil)
	build := testBuild("4.17.0-0.nightly-2024-06-01-123456")
	if err := store.WriteRecord(testRecord(build.Name)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.DeleteRecord(build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record, err := store.Record(build); err != nil || record != nil {
		t.Errorf("expected record to be gone, got %v, %v", record, err)
	}
	// deleting again is a no-op
	if err := store.DeleteRecord(build); err != nil {
		t.Errorf("unexpected error deleting absent record: %v", err)
	}
}

type countingPublisher struct {
	messages []string
}

func (p *countingPublisher) Publish(message string) error {
	p.messages = append(p.messages, message)
	return nil
}

func TestMutationsPublish(t *testing.T) {
	publisher := &countingPublisher{}
	store := New(afero.NewMemMapFs(), publisher)
	build := testBuild("4.17.0-0.nightly-2024-06-01-123456")

	if err := store.WriteRecord(testRecord(build.Name)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetCurrentBuild("4.17", build.Architecture, build.Kind, build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.DeleteRecord(build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(publisher.messages) != 3 {
		t.Errorf("expected 3 publishes, got %v", publisher.messages)
	}
}
