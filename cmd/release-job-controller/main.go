package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	prowConfig "sigs.k8s.io/prow/pkg/config"
	prowflagutil "sigs.k8s.io/prow/pkg/flagutil"
	"sigs.k8s.io/prow/pkg/interrupts"
	"sigs.k8s.io/prow/pkg/metrics"

	"github.com/openshift-eng/release-verify/pkg/dispatch"
	"github.com/openshift-eng/release-verify/pkg/registry"
	"github.com/openshift-eng/release-verify/pkg/releasestream"
	"github.com/openshift-eng/release-verify/pkg/resultstore"
	"github.com/openshift-eng/release-verify/pkg/watcher"
)

type options struct {
	runOnce bool

	intervalRaw    string
	callTimeoutRaw string

	interval    time.Duration
	callTimeout time.Duration

	streamsFile  string
	registryFile string

	dispatcherAddress  string
	releaseHost        string
	storeDir           string
	storeRemote        string
	storePublishBranch string
}

func (o *options) Validate() error {
	if o.streamsFile == "" {
		return fmt.Errorf("--streams-file is required")
	}
	if o.registryFile == "" {
		return fmt.Errorf("--registry-file is required")
	}
	if o.dispatcherAddress == "" {
		return fmt.Errorf("--dispatcher-address is required")
	}
	if o.storeDir == "" {
		return fmt.Errorf("--store-dir is required")
	}
	if o.storePublishBranch != "" && o.storeRemote == "" {
		return fmt.Errorf("--store-remote is required if --store-publish-branch is set")
	}
	return nil
}

func (o *options) complete() error {
	var err error
	o.interval, err = time.ParseDuration(o.intervalRaw)
	if err != nil {
		return fmt.Errorf("invalid --interval: %w", err)
	}
	o.callTimeout, err = time.ParseDuration(o.callTimeoutRaw)
	if err != nil {
		return fmt.Errorf("invalid --call-timeout: %w", err)
	}
	return nil
}

func gatherOptions() options {
	o := options{}
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	fs.BoolVar(&o.runOnce, "run-once", false, "If true, run only once then quit.")
	fs.StringVar(&o.intervalRaw, "interval", "10m", "Parseable duration string that specifies the sync period")
	fs.StringVar(&o.callTimeoutRaw, "call-timeout", "30s", "Parseable duration string that bounds every external call")
	fs.StringVar(&o.streamsFile, "streams-file", "", "Path to the YAML file listing the release streams to watch.")
	fs.StringVar(&o.registryFile, "registry-file", "", "Path to the verification job registry YAML file.")
	fs.StringVar(&o.dispatcherAddress, "dispatcher-address", "", "Address of the job execution service.")
	fs.StringVar(&o.releaseHost, "release-host", "", "Override for the release-stream API host. Defaults to the per-architecture public hosts.")
	fs.StringVar(&o.storeDir, "store-dir", "", "Directory holding the result store working tree.")
	fs.StringVar(&o.storeRemote, "store-remote", "", "Git remote the result store is pushed to. No push if not set.")
	fs.StringVar(&o.storePublishBranch, "store-publish-branch", "", "Branch the result store is pushed to. No push if not set.")

	if err := fs.Parse(os.Args[1:]); err != nil {
		logrus.WithError(err).Fatal("could not parse input")
	}

	return o
}

func main() {
	o := gatherOptions()
	if err := o.complete(); err != nil {
		logrus.WithError(err).Fatal("failed to complete options")
	}
	if err := o.Validate(); err != nil {
		logrus.WithError(err).Fatal("failed to validate options")
	}

	streams, err := watcher.LoadConfig(o.streamsFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load the stream config")
	}
	jobRegistry, err := registry.Load(o.registryFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load the job registry")
	}

	var monitorOptions []releasestream.Option
	monitorOptions = append(monitorOptions, releasestream.WithTimeout(o.callTimeout))
	if o.releaseHost != "" {
		monitorOptions = append(monitorOptions, releasestream.WithHost(o.releaseHost))
	}
	monitor := releasestream.NewClient(monitorOptions...)
	dispatcher := dispatch.NewClient(o.dispatcherAddress, o.callTimeout)

	var publisher resultstore.Publisher
	if o.storePublishBranch != "" {
		publisher = resultstore.NewGitPublisher(o.storeDir, o.storeRemote, o.storePublishBranch)
	}
	store := resultstore.New(afero.NewBasePathFs(afero.NewOsFs(), o.storeDir), publisher)

	controller := watcher.NewController(streams.Streams, jobRegistry, monitor, dispatcher, store)

	ctx := interrupts.Context()

	metrics.ExposeMetrics("release-job-controller", prowConfig.PushGateway{}, prowflagutil.DefaultMetricsPort)

	execute(ctx, controller)
	if o.runOnce {
		return
	}

	select {
	case <-interrupts.Context().Done():
		return
	case <-time.After(o.interval):
	}

	interrupts.Tick(func() { execute(ctx, controller) }, func() time.Duration { return o.interval })
	interrupts.WaitForGracefulShutdown()
}

func execute(ctx context.Context, c *watcher.Controller) {
	if err := c.Run(ctx); err != nil {
		logrus.WithError(err).Error("Error running")
	}
}
