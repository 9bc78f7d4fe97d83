// Package resultstore persists tracking records and the current-build
// index in a version-controlled working tree. All durable state of the
// watcher and the aggregator lives here; the two loops communicate
// through this store only.
package resultstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/openshift-eng/release-verify/pkg/api"
)

const (
	recordsDir = "records"
	indexDir   = "index"
)

// Publisher pushes the working tree to the record repository's remote
// after a mutation. Pushes are best-effort.
type Publisher interface {
	Publish(message string) error
}

// Store reads and writes tracking records. Mutations of one record are
// serialized through a per-record lock so a concurrent sweep cannot
// interleave its read-modify-write with ours.
type Store struct {
	fs        afero.Afero
	publisher Publisher
	logger    *logrus.Entry

	// The mutex protects recordLocks which protect individual records.
	rlm         sync.Mutex
	recordLocks map[string]*sync.Mutex
}

// New builds a store over the given filesystem root. publisher may be
// nil for unpublished (local or in-memory) stores.
func New(fs afero.Fs, publisher Publisher) *Store {
	return &Store{
		fs:          afero.Afero{Fs: fs},
		publisher:   publisher,
		logger:      logrus.WithField("component", "result-store"),
		recordLocks: map[string]*sync.Mutex{},
	}
}

// RecordPath is the working-tree path of a build's tracking record.
func RecordPath(build api.Build) string {
	return filepath.Join(recordsDir, string(build.Kind), fmt.Sprintf("%s-%s.json", build.Name, build.Architecture))
}

func indexPath(release string, architecture api.Architecture, kind api.BuildKind) string {
	return filepath.Join(indexDir, fmt.Sprintf("%s-%s-%s.json", release, architecture, kind))
}

func (s *Store) lockRecord(path string) {
	s.rlm.Lock()
	if _, ok := s.recordLocks[path]; !ok {
		s.recordLocks[path] = &sync.Mutex{}
	}
	lock := s.recordLocks[path]
	s.rlm.Unlock()
	lock.Lock()
}

func (s *Store) unlockRecord(path string) {
	s.rlm.Lock()
	lock := s.recordLocks[path]
	s.rlm.Unlock()
	lock.Unlock()
}

// Record reads a build's tracking record. A missing record yields
// (nil, nil) so callers can distinguish absence from read failures.
func (s *Store) Record(build api.Build) (*api.TrackingRecord, error) {
	return s.readRecord(RecordPath(build))
}

func (s *Store) readRecord(path string) (*api.TrackingRecord, error) {
	data, err := s.fs.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read record %s: %w", path, err)
	}
	record := &api.TrackingRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("could not unmarshal record %s: %w", path, err)
	}
	return record, nil
}

// WriteRecord persists a record, creating or overwriting its file.
func (s *Store) WriteRecord(record *api.TrackingRecord) error {
	path := RecordPath(record.Build)
	s.lockRecord(path)
	defer s.unlockRecord(path)
	if err := s.writeJSON(path, record); err != nil {
		return err
	}
	s.publish(fmt.Sprintf("record %s", record.Build))
	return nil
}

// Update applies mutate to the freshly-read record under the record's
// lock and persists the result. Check-then-act sequences such as retry
// dispatch belong inside mutate so they cannot race a concurrent sweep.
func (s *Store) Update(build api.Build, mutate func(*api.TrackingRecord) error) error {
	path := RecordPath(build)
	s.lockRecord(path)
	defer s.unlockRecord(path)

	record, err := s.readRecord(path)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("no record exists for %s", build)
	}
	if err := mutate(record); err != nil {
		return err
	}
	if err := s.writeJSON(path, record); err != nil {
		return err
	}
	s.publish(fmt.Sprintf("record %s", build))
	return nil
}

// DeleteRecord removes a build's tracking record. Deleting an absent
// record is a no-op.
func (s *Store) DeleteRecord(build api.Build) error {
	path := RecordPath(build)
	s.lockRecord(path)
	defer s.unlockRecord(path)
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete record %s: %w", path, err)
	}
	s.publish(fmt.Sprintf("prune %s", build))
	return nil
}

// CurrentBuild reads the tracked build of a stream from the index.
// (nil, nil) means the stream was never tracked.
func (s *Store) CurrentBuild(release string, architecture api.Architecture, kind api.BuildKind) (*api.Build, error) {
	path := indexPath(release, architecture, kind)
	data, err := s.fs.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read index %s: %w", path, err)
	}
	build := &api.Build{}
	if err := json.Unmarshal(data, build); err != nil {
		return nil, fmt.Errorf("could not unmarshal index %s: %w", path, err)
	}
	return build, nil
}

// SetCurrentBuild advances the tracked build of a stream.
func (s *Store) SetCurrentBuild(release string, architecture api.Architecture, kind api.BuildKind, build api.Build) error {
	if err := s.writeJSON(indexPath(release, architecture, kind), build); err != nil {
		return err
	}
	s.publish(fmt.Sprintf("index %s/%s/%s -> %s", release, architecture, kind, build.Name))
	return nil
}

// UnaggregatedRecords lists all records the aggregator still owes a
// decision.
func (s *Store) UnaggregatedRecords() ([]*api.TrackingRecord, error) {
	records, err := s.allRecords()
	if err != nil {
		return nil, err
	}
	var pending []*api.TrackingRecord
	for _, record := range records {
		if !record.IsAggregated() {
			pending = append(pending, record)
		}
	}
	return pending, nil
}

// Records lists all records of one build kind.
func (s *Store) Records(kind api.BuildKind) ([]*api.TrackingRecord, error) {
	var records []*api.TrackingRecord
	root := filepath.Join(recordsDir, string(kind))
	err := s.fs.Walk(root, func(path string, info os.FileInfo, err error) error {
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		record, err := s.readRecord(path)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Skipping unreadable record.")
			return nil
		}
		records = append(records, record)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not walk records: %w", err)
	}
	return records, nil
}

func (s *Store) allRecords() ([]*api.TrackingRecord, error) {
	var records []*api.TrackingRecord
	for _, kind := range []api.BuildKind{api.BuildKindNightly, api.BuildKindStable} {
		byKind, err := s.Records(kind)
		if err != nil {
			return nil, err
		}
		records = append(records, byKind...)
	}
	return records, nil
}

// writeJSON writes atomically: serialize to a sibling temp file, then
// rename over the target so readers never observe a torn record.
func (s *Store) writeJSON(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal %s: %w", path, err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("could not write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("could not rename %s into place: %w", tmp, err)
	}
	return nil
}

func (s *Store) publish(message string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(message); err != nil {
		s.logger.WithError(err).Warn("Could not publish result store mutation.")
	}
}
