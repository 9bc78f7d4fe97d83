// Package artifacts fetches a finished run's test summary from the CI
// artifact store. Runs upload junit XML files under a well-known
// per-run prefix; this package locates them, parses them and folds them
// into the per-suite summary persisted on the tracking record.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"

	"github.com/openshift-eng/release-verify/pkg/api"
	"github.com/openshift-eng/release-verify/pkg/junit"
)

// Reader fetches the test summary of a finished job run.
type Reader interface {
	TestSummary(ctx context.Context, jobName, runID string) (api.TestSummary, error)
}

// NewGCSReader builds a Reader over the given bucket. rootLocation is
// the prefix under which job runs live, conventionally "logs".
func NewGCSReader(client *storage.Client, bucketName, rootLocation string) Reader {
	return &gcsReader{
		bucket:       client.Bucket(bucketName),
		rootLocation: rootLocation,
		logger:       logrus.WithField("component", "artifact-reader"),
	}
}

type gcsReader struct {
	bucket       *storage.BucketHandle
	rootLocation string
	logger       *logrus.Entry
}

func (r *gcsReader) TestSummary(ctx context.Context, jobName, runID string) (api.TestSummary, error) {
	prefix := path.Join(r.rootLocation, jobName, runID)
	query := &storage.Query{Prefix: prefix}
	// Only retrieve the name for performance
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}

	var junitPaths []string
	it := r.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts under %s: %w", prefix, err)
		}
		if strings.HasSuffix(attrs.Name, ".xml") && strings.Contains(attrs.Name, "/junit") {
			junitPaths = append(junitPaths, attrs.Name)
		}
	}

	summary := api.TestSummary{}
	for _, junitPath := range junitPaths {
		data, err := r.readObject(ctx, junitPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact %s: %w", junitPath, err)
		}
		suites, err := junit.Parse(data)
		if err != nil {
			r.logger.WithError(err).WithField("artifact", junitPath).Warn("Skipping unparseable junit artifact.")
			continue
		}
		Summarize(suites, summary)
	}
	return summary, nil
}

func (r *gcsReader) readObject(ctx context.Context, name string) ([]byte, error) {
	reader, err := r.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Summarize folds a junit document into the per-suite summary, merging
// with any counts already collected for a suite of the same name.
func Summarize(suites *junit.TestSuites, into api.TestSummary) {
	for _, suite := range suites.Suites {
		summarizeSuite(suite, into)
	}
}

func summarizeSuite(suite *junit.TestSuite, into api.TestSummary) {
	entry := into[suite.Name]
	for _, testCase := range suite.TestCases {
		entry.Total++
		switch {
		case testCase.FailureOutput != nil:
			entry.Failures++
			entry.FailingScenarios = append(entry.FailingScenarios, testCase.Name)
		case testCase.ErrorOutput != nil:
			entry.Errors++
			entry.FailingScenarios = append(entry.FailingScenarios, testCase.Name)
		case testCase.SkipMessage != nil:
			entry.Skipped++
		}
	}
	into[suite.Name] = entry
	for _, child := range suite.Children {
		summarizeSuite(child, into)
	}
}
