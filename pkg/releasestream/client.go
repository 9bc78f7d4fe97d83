// Package releasestream talks to the release controller's REST API: it
// resolves the latest build of a stream per architecture and pushes the
// acceptance label back once a verification campaign concludes.
package releasestream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/openshift-eng/release-verify/pkg/api"
)

const serviceDomain = "ocp.releases.ci.openshift.org"

// ErrNotFound indicates the stream exists but has no resolvable build,
// or the stream itself is unknown to the release controller. Transient
// failures are never reported this way.
var ErrNotFound = errors.New("no build found in release stream")

// Release is the release controller's payload metadata for one build.
type Release struct {
	Name        string `json:"name"`
	Phase       string `json:"phase"`
	PullSpec    string `json:"pullSpec"`
	DownloadURL string `json:"downloadURL"`
}

// ServiceHost returns the per-architecture release controller API root.
func ServiceHost(architecture api.Architecture) string {
	if architecture == "" {
		architecture = api.ArchitectureAMD64
	}
	return fmt.Sprintf("https://%s.%s/api/v1/releasestream", architecture, serviceDomain)
}

// StreamName names the release stream for a release, architecture and
// build kind, e.g. "4.17.0-0.nightly-arm64" or "4-stable-arm64".
func StreamName(release string, architecture api.Architecture, kind api.BuildKind) string {
	var stream string
	switch kind {
	case api.BuildKindStable:
		stream = "4-stable"
	default:
		stream = fmt.Sprintf("%s.0-0.nightly", release)
	}
	return stream + archSuffix(architecture)
}

func archSuffix(architecture api.Architecture) string {
	switch architecture {
	case "", api.ArchitectureAMD64:
		// default, no suffix
		return ""
	default:
		return "-" + string(architecture)
	}
}

// Client reads release streams. Read-only, no side effects.
type Client struct {
	// hostOverride replaces the per-architecture service host, for
	// tests and disconnected setups.
	hostOverride string
	httpClient   *http.Client
	timeout      time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHost pins all requests to one API root instead of the
// per-architecture service host.
func WithHost(host string) Option {
	return func(c *Client) {
		c.hostOverride = strings.TrimSuffix(host, "/")
	}
}

// WithTimeout bounds each API call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient builds a release stream client with retrying HTTP transport.
func NewClient(options ...Option) *Client {
	client := &Client{
		httpClient: retryingHTTPClient(),
		timeout:    30 * time.Second,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

func (c *Client) host(architecture api.Architecture) string {
	if c.hostOverride != "" {
		return c.hostOverride
	}
	return ServiceHost(architecture)
}

// Latest resolves the most recent build of the stream identified by
// release, architecture and kind. A missing stream or empty stream
// yields ErrNotFound; anything else is a transient error the caller
// retries on the next sweep.
func (c *Client) Latest(ctx context.Context, release string, architecture api.Architecture, kind api.BuildKind) (api.Build, error) {
	stream := StreamName(release, architecture, kind)
	endpoint := fmt.Sprintf("%s/%s/latest", c.host(architecture), stream)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return api.Build{}, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if kind == api.BuildKindStable {
		// the stable stream spans all releases; bound it to the one
		// requested
		bounds, err := stableBounds(release)
		if err != nil {
			return api.Build{}, err
		}
		q := req.URL.Query()
		q.Add("in", bounds)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return api.Build{}, fmt.Errorf("failed to request latest release from %s: %w", stream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return api.Build{}, fmt.Errorf("stream %s: %w", stream, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return api.Build{}, fmt.Errorf("got unexpected http %d status code from release stream %s", resp.StatusCode, stream)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.Build{}, fmt.Errorf("failed to read response body: %w", err)
	}
	payload := Release{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return api.Build{}, fmt.Errorf("failed to unmarshal release: %w (%s)", err, data)
	}
	if payload.Name == "" {
		return api.Build{}, fmt.Errorf("stream %s returned a release without a name: %w", stream, ErrNotFound)
	}
	if architecture == "" {
		architecture = api.ArchitectureAMD64
	}
	return api.Build{Name: payload.Name, Architecture: architecture, Kind: kind}, nil
}

// stableBounds renders the semver range query restricting the stable
// stream to one release, e.g. ">=4.16.0-0 <4.17.0-0" for "4.16".
func stableBounds(release string) (string, error) {
	version, err := semver.ParseTolerant(release)
	if err != nil {
		return "", fmt.Errorf("release %q is not a valid version: %w", release, err)
	}
	return fmt.Sprintf(">=%d.%d.0-0 <%d.%d.0-0", version.Major, version.Minor, version.Major, version.Minor+1), nil
}

// IsNotFound reports whether err means "stream has no build", as
// opposed to a transient failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
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
