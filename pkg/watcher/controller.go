// Package watcher detects new builds on the watched release streams
// and fires their verification campaign: it resolves the job set from
// the registry, dispatches a pending run per job and persists the
// initial tracking record.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/openshift-eng/release-verify/pkg/api"
	"github.com/openshift-eng/release-verify/pkg/dispatch"
	"github.com/openshift-eng/release-verify/pkg/releasestream"
)

// ReleaseMonitor resolves the newest build of a stream.
type ReleaseMonitor interface {
	Latest(ctx context.Context, release string, architecture api.Architecture, kind api.BuildKind) (api.Build, error)
}

// RecordStore is the slice of the result store the controller needs.
type RecordStore interface {
	Record(build api.Build) (*api.TrackingRecord, error)
	WriteRecord(record *api.TrackingRecord) error
	CurrentBuild(release string, architecture api.Architecture, kind api.BuildKind) (*api.Build, error)
	SetCurrentBuild(release string, architecture api.Architecture, kind api.BuildKind, build api.Build) error
}

// JobRegistry resolves the verification job set of a stream.
type JobRegistry interface {
	JobsFor(release string, architecture api.Architecture) ([]api.JobSpec, error)
}

// Controller runs the detection/trigger sweep.
type Controller struct {
	streams    []StreamConfig
	registry   JobRegistry
	monitor    ReleaseMonitor
	dispatcher dispatch.Client
	store      RecordStore
	logger     *logrus.Entry
}

// NewController wires a controller over its collaborators.
func NewController(streams []StreamConfig, registry JobRegistry, monitor ReleaseMonitor, dispatcher dispatch.Client, store RecordStore) *Controller {
	return &Controller{
		streams:    streams,
		registry:   registry,
		monitor:    monitor,
		dispatcher: dispatcher,
		store:      store,
		logger:     logrus.WithField("component", "release-job-controller"),
	}
}

// Run performs one sweep over all watched streams. Per-stream errors
// are collected, never fatal to the sweep.
func (c *Controller) Run(ctx context.Context) error {
	var errs []error
	for _, stream := range c.streams {
		if err := c.sync(ctx, stream); err != nil {
			c.logger.WithError(err).WithField("stream", stream.String()).Error("Failed to sync stream.")
			errs = append(errs, fmt.Errorf("stream %s: %w", stream, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (c *Controller) sync(ctx context.Context, stream StreamConfig) error {
	logger := c.logger.WithField("stream", stream.String())

	latest, err := c.monitor.Latest(ctx, stream.Release, stream.Architecture, stream.Kind)
	if err != nil {
		if releasestream.IsNotFound(err) {
			logger.Debug("Stream has no build yet.")
			return nil
		}
		// transient, retried next sweep; never "no new build"
		return fmt.Errorf("could not resolve latest build: %w", err)
	}
	logger = logger.WithField("build", latest.Name)

	current, err := c.store.CurrentBuild(stream.Release, stream.Architecture, stream.Kind)
	if err != nil {
		return fmt.Errorf("could not read current build: %w", err)
	}
	if current != nil && current.Name == latest.Name {
		logger.Debug("Build already tracked.")
		return nil
	}

	// A record can exist while the index lags, e.g. after a crash
	// between record write and index advance. Dispatching again would
	// double the campaign, so only the index is repaired.
	existing, err := c.store.Record(latest)
	if err != nil {
		return fmt.Errorf("could not read record: %w", err)
	}
	if existing != nil {
		logger.Info("Record already exists, skipping dispatch.")
		return c.store.SetCurrentBuild(stream.Release, stream.Architecture, stream.Kind, latest)
	}

	specs, err := c.registry.JobsFor(stream.Release, stream.Architecture)
	if err != nil {
		return fmt.Errorf("could not resolve job specs: %w", err)
	}

	record := &api.TrackingRecord{
		Build:   latest,
		Created: time.Now().UTC(),
	}
	for _, spec := range specs {
		var upgradeFrom string
		if spec.Kind == api.JobKindUpgrade {
			upgradeFrom, err = c.resolveUpgradeFrom(ctx, stream)
			if err != nil {
				logger.WithError(err).WithField("job", spec.Name).Warn("Skipping upgrade job with unresolvable starting payload.")
				continue
			}
		}
		run, err := c.dispatcher.Start(ctx, spec.Name, latest, upgradeFrom)
		if err != nil {
			// Abort without persisting; the whole campaign is re-fired
			// next sweep. At-least-once dispatch is acceptable, a
			// record with a partial job set is not.
			return fmt.Errorf("could not start %s: %w", spec.Name, err)
		}
		logger.WithField("job", spec.Name).WithField("run", run.ID).Info("Dispatched verification job.")
		record.Results = append(record.Results, api.JobResult{
			JobName:     spec.Name,
			Required:    spec.Required,
			Kind:        spec.Kind,
			UpgradeFrom: upgradeFrom,
			FirstRun:    run,
		})
	}

	if err := c.store.WriteRecord(record); err != nil {
		return fmt.Errorf("could not persist record: %w", err)
	}
	if err := c.store.SetCurrentBuild(stream.Release, stream.Architecture, stream.Kind, latest); err != nil {
		return fmt.Errorf("could not advance current build: %w", err)
	}
	logger.WithField("jobs", len(record.Results)).Info("Created tracking record.")
	return nil
}

// resolveUpgradeFrom finds the payload an upgrade job starts from: the
// latest stable build of the previous minor release.
func (c *Controller) resolveUpgradeFrom(ctx context.Context, stream StreamConfig) (string, error) {
	previous, err := api.PreviousMinor(stream.Release)
	if err != nil {
		return "", err
	}
	from, err := c.monitor.Latest(ctx, previous, stream.Architecture, api.BuildKindStable)
	if err != nil {
		return "", fmt.Errorf("could not resolve latest stable %s build: %w", previous, err)
	}
	return from.Name, nil
}
