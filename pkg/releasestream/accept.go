package releasestream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openshift-eng/release-verify/pkg/api"
)

// AcceptanceClient pushes the verification outcome onto the release
// payload resource so downstream release tooling can query acceptance
// without re-deriving it. All pushes are best-effort; a push failure
// never reverts a recorded decision.
type AcceptanceClient struct {
	address    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewAcceptanceClient builds a client against the label API root.
func NewAcceptanceClient(address string) *AcceptanceClient {
	return &AcceptanceClient{
		address:    strings.TrimSuffix(address, "/"),
		httpClient: retryingHTTPClient(),
		timeout:    30 * time.Second,
	}
}

type acceptanceLabel struct {
	Accepted bool `json:"accepted"`
}

// SetAcceptedLabel records the acceptance outcome on the payload.
func (c *AcceptanceClient) SetAcceptedLabel(ctx context.Context, build api.Build, accepted bool) error {
	body, err := json.Marshal(acceptanceLabel{Accepted: accepted})
	if err != nil {
		return fmt.Errorf("could not marshal acceptance label: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/v1/releasepayload/%s/%s/accepted", c.address, build.Architecture, build.Name)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push acceptance label for %s: %w", build, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		var responseBody string
		if data, err := io.ReadAll(resp.Body); err != nil {
			logrus.WithError(err).Warn("Failed to read response body from release payload API.")
		} else {
			responseBody = string(data)
		}
		return fmt.Errorf("got unexpected http %d status code pushing acceptance label: %s", resp.StatusCode, responseBody)
	}
	return nil
}
