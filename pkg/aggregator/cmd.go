package aggregator

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"

	prowConfig "sigs.k8s.io/prow/pkg/config"
	prowflagutil "sigs.k8s.io/prow/pkg/flagutil"
	"sigs.k8s.io/prow/pkg/interrupts"
	"sigs.k8s.io/prow/pkg/metrics"

	"github.com/openshift-eng/release-verify/pkg/artifacts"
	"github.com/openshift-eng/release-verify/pkg/dispatch"
	"github.com/openshift-eng/release-verify/pkg/releasestream"
	"github.com/openshift-eng/release-verify/pkg/resultstore"
)

type TestResultAggregatorFlags struct {
	StoreDir           string
	StoreRemote        string
	StorePublishBranch string

	DispatcherAddress string
	AcceptanceAddress string

	GCSBucket                          string
	GCSRoot                            string
	GoogleServiceAccountCredentialFile string

	Interval       time.Duration
	CallTimeout    time.Duration
	Retention      time.Duration
	MaxConcurrency int

	RunOnce bool
}

func NewTestResultAggregatorFlags() *TestResultAggregatorFlags {
	return &TestResultAggregatorFlags{
		Interval:       5 * time.Minute,
		CallTimeout:    30 * time.Second,
		Retention:      72 * time.Hour,
		MaxConcurrency: 4,
	}
}

func (f *TestResultAggregatorFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.StoreDir, "store-dir", f.StoreDir, "Directory holding the result store working tree.")
	fs.StringVar(&f.StoreRemote, "store-remote", f.StoreRemote, "Git remote the result store is pushed to. No push if not set.")
	fs.StringVar(&f.StorePublishBranch, "store-publish-branch", f.StorePublishBranch, "Branch the result store is pushed to. No push if not set.")
	fs.StringVar(&f.DispatcherAddress, "dispatcher-address", f.DispatcherAddress, "Address of the job execution service.")
	fs.StringVar(&f.AcceptanceAddress, "acceptance-address", f.AcceptanceAddress, "Address of the release controller acceptance API. Stable decisions are pushed there when set.")
	fs.StringVar(&f.GCSBucket, "google-storage-bucket", f.GCSBucket, "The GCS bucket holding job artifacts. Test summaries are skipped when not set.")
	fs.StringVar(&f.GCSRoot, "google-storage-root", f.GCSRoot, "The object prefix under which job artifacts live.")
	fs.StringVar(&f.GoogleServiceAccountCredentialFile, "google-service-account-credential-file", f.GoogleServiceAccountCredentialFile, "location of a credential file described by https://cloud.google.com/docs/authentication/production")
	fs.DurationVar(&f.Interval, "interval", f.Interval, "The period between aggregation sweeps.")
	fs.DurationVar(&f.CallTimeout, "call-timeout", f.CallTimeout, "The bound on every status poll and artifact fetch.")
	fs.DurationVar(&f.Retention, "retention", f.Retention, "How long superseded nightly records are kept after their last activity.")
	fs.IntVar(&f.MaxConcurrency, "max-concurrency", f.MaxConcurrency, "The number of records reconciled in parallel.")
	fs.BoolVar(&f.RunOnce, "run-once", f.RunOnce, "If true, run only once then quit.")
}

func (f *TestResultAggregatorFlags) Validate() error {
	if f.StoreDir == "" {
		return fmt.Errorf("missing --store-dir")
	}
	if f.DispatcherAddress == "" {
		return fmt.Errorf("missing --dispatcher-address")
	}
	if f.StorePublishBranch != "" && f.StoreRemote == "" {
		return fmt.Errorf("--store-remote is required if --store-publish-branch is set")
	}
	if f.GCSRoot != "" && f.GCSBucket == "" {
		return fmt.Errorf("--google-storage-bucket is required if --google-storage-root is set")
	}
	if f.MaxConcurrency < 1 {
		return fmt.Errorf("--max-concurrency must be positive")
	}
	return nil
}

type TestResultAggregatorOptions struct {
	aggregator *Aggregator
	interval   time.Duration
	runOnce    bool
}

func (f *TestResultAggregatorFlags) ToOptions(ctx context.Context) (*TestResultAggregatorOptions, error) {
	var publisher resultstore.Publisher
	if f.StorePublishBranch != "" {
		publisher = resultstore.NewGitPublisher(f.StoreDir, f.StoreRemote, f.StorePublishBranch)
	}
	store := resultstore.New(afero.NewBasePathFs(afero.NewOsFs(), f.StoreDir), publisher)

	dispatcher := dispatch.NewClient(f.DispatcherAddress, f.CallTimeout)

	var reader artifacts.Reader
	if f.GCSBucket != "" {
		gcsClient, err := f.newGCSClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not build GCS client: %w", err)
		}
		reader = artifacts.NewGCSReader(gcsClient, f.GCSBucket, f.GCSRoot)
	}

	var sink AcceptanceSink
	if f.AcceptanceAddress != "" {
		sink = releasestream.NewAcceptanceClient(f.AcceptanceAddress)
	}

	aggregator := NewAggregator(store, dispatcher, reader, sink, Options{
		CallTimeout:    f.CallTimeout,
		Retention:      f.Retention,
		MaxConcurrency: f.MaxConcurrency,
	})
	return &TestResultAggregatorOptions{aggregator: aggregator, interval: f.Interval, runOnce: f.RunOnce}, nil
}

func (f *TestResultAggregatorFlags) newGCSClient(ctx context.Context) (*storage.Client, error) {
	if f.GoogleServiceAccountCredentialFile != "" {
		return storage.NewClient(ctx, option.WithCredentialsFile(f.GoogleServiceAccountCredentialFile))
	}
	return storage.NewClient(ctx, option.WithoutAuthentication())
}

func (o *TestResultAggregatorOptions) Run(ctx context.Context) error {
	metrics.ExposeMetrics("test-result-aggregator", prowConfig.PushGateway{}, prowflagutil.DefaultMetricsPort)

	o.execute(ctx)
	if o.runOnce {
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(o.interval):
	}

	interrupts.Tick(func() { o.execute(ctx) }, func() time.Duration { return o.interval })
	interrupts.WaitForGracefulShutdown()
	return nil
}

func (o *TestResultAggregatorOptions) execute(ctx context.Context) {
	if err := o.aggregator.Run(ctx); err != nil {
		logrus.WithError(err).Error("Error running")
	}
}

func NewTestResultAggregatorCommand() *cobra.Command {
	f := NewTestResultAggregatorFlags()

	cmd := &cobra.Command{
		Use:          "test-result-aggregator",
		Long:         `Poll verification job runs, apply the best-of-three retry policy, and mark release builds accepted or rejected.`,
		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := interrupts.Context()

			if err := f.Validate(); err != nil {
				logrus.WithError(err).Fatal("Flags are invalid")
			}
			o, err := f.ToOptions(ctx)
			if err != nil {
				logrus.WithError(err).Fatal("Failed to build runtime options")
			}

			if err := o.Run(ctx); err != nil {
				logrus.WithError(err).Fatal("Command failed")
			}

			return nil
		},

		Args: cobra.NoArgs,
	}

	f.BindFlags(cmd.Flags())

	return cmd
}
