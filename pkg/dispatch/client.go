// Package dispatch starts verification job runs through the CI
// execution API and polls their status. The CI system itself is an
// external collaborator; this package only speaks its REST surface.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/openshift-eng/release-verify/pkg/api"
)

// Client starts job runs and polls them.
type Client interface {
	// Start dispatches one run of the named job against the build and
	// returns it in pending state. For upgrade jobs, upgradeFrom names
	// the payload the job installs first; it is empty otherwise.
	Start(ctx context.Context, jobName string, build api.Build, upgradeFrom string) (api.JobRun, error)
	// Status fetches the current state of a run.
	Status(ctx context.Context, id string) (api.JobState, error)
}

// NewClient builds a dispatcher client against the execution API root.
func NewClient(address string, timeout time.Duration) Client {
	return &client{
		address:    strings.TrimSuffix(address, "/"),
		httpClient: retryingHTTPClient(),
		timeout:    timeout,
	}
}

type client struct {
	address    string
	httpClient *http.Client
	timeout    time.Duration
}

// ExecutionRequest is the dispatch payload for one job run.
type ExecutionRequest struct {
	Job          string `json:"job"`
	Payload      string `json:"payload"`
	Architecture string `json:"architecture"`
	UpgradeFrom  string `json:"upgradeFrom,omitempty"`
}

// ExecutionResponse identifies the created run.
type ExecutionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StatusResponse carries a run's current state.
type StatusResponse struct {
	ID    string       `json:"id"`
	State api.JobState `json:"state"`
}

func (c *client) Start(ctx context.Context, jobName string, build api.Build, upgradeFrom string) (api.JobRun, error) {
	request := ExecutionRequest{
		Job:          jobName,
		Payload:      build.Name,
		Architecture: string(build.Architecture),
		UpgradeFrom:  upgradeFrom,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return api.JobRun{}, fmt.Errorf("could not marshal execution request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+"/v1/executions", bytes.NewReader(body))
	if err != nil {
		return api.JobRun{}, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	data, err := c.doRequest(req)
	if err != nil {
		return api.JobRun{}, fmt.Errorf("error starting %s for %s: %w", jobName, build, err)
	}
	response := ExecutionResponse{}
	if err := json.Unmarshal(data, &response); err != nil {
		return api.JobRun{}, fmt.Errorf("could not parse execution response: %w", err)
	}
	if response.ID == "" {
		return api.JobRun{}, fmt.Errorf("execution response for %s carried no run id", jobName)
	}
	return api.JobRun{
		ID:        response.ID,
		URL:       response.URL,
		StartTime: time.Now().UTC(),
		State:     api.JobStatePending,
	}, nil
}

func (c *client) Status(ctx context.Context, id string) (api.JobState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/executions/%s", c.address, id), nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	data, err := c.doRequest(req)
	if err != nil {
		return "", fmt.Errorf("error fetching status of run %s: %w", id, err)
	}
	response := StatusResponse{}
	if err := json.Unmarshal(data, &response); err != nil {
		return "", fmt.Errorf("could not parse status response: %w", err)
	}
	switch response.State {
	case api.JobStatePending, api.JobStateSuccess, api.JobStateFailure:
		return response.State, nil
	default:
		return "", fmt.Errorf("run %s reported unknown state %q", id, response.State)
	}
}

func (c *client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request to dispatcher: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var responseBody string
		if data, err := io.ReadAll(resp.Body); err != nil {
			logrus.WithError(err).Warn("Failed to read response body from dispatcher.")
		} else {
			responseBody = string(data)
		}
		return nil, fmt.Errorf("got unexpected http %d status code from dispatcher: %s", resp.StatusCode, responseBody)
	}
	return io.ReadAll(resp.Body)
}

type adapter struct{}

func (a adapter) format(s string, i ...interface{}) string {
	builder := strings.Builder{}
	builder.WriteString(s)
	for _, x := range i {
		builder.WriteString(" ")
		builder.WriteString(fmt.Sprintf("%v", x))
	}
	return builder.String()
}

func (a adapter) Error(s string, i ...interface{}) {
	logrus.Error(a.format(s, i...))
}

func (a adapter) Info(s string, i ...interface{}) {
	logrus.Info(a.format(s, i...))
}

func (a adapter) Debug(s string, i ...interface{}) {
	logrus.Debug(a.format(s, i...))
}

func (a adapter) Warn(s string, i ...interface{}) {
	logrus.Warn(a.format(s, i...))
}

var _ retryablehttp.LeveledLogger = adapter{}

func retryingHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = adapter{}
	return retryClient.StandardClient()
}
