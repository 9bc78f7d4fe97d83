package registry

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openshift-eng/release-verify/pkg/api"
)

const registryYAML = `releases:
- release: "4.17"
  architectures:
  - architecture: amd64
    verify:
    - name: periodic-ci-verify-4.17-e2e-aws
    - name: periodic-ci-verify-4.17-upgrade-from-4.16
      upgrade: true
    - name: periodic-ci-verify-4.17-e2e-metal
      optional: true
  - architecture: arm64
    verify:
    - name: periodic-ci-verify-4.17-e2e-aws-arm64
`

func TestParse(t *testing.T) {
	registry, err := Parse([]byte(registryYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	actual, err := registry.JobsFor("4.17", api.ArchitectureAMD64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []api.JobSpec{
		{Name: "periodic-ci-verify-4.17-e2e-aws", Required: true, Kind: api.JobKindInstall},
		{Name: "periodic-ci-verify-4.17-upgrade-from-4.16", Required: true, Kind: api.JobKindUpgrade},
		{Name: "periodic-ci-verify-4.17-e2e-metal", Required: false, Kind: api.JobKindInstall},
	}
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Errorf("got incorrect job specs: %s", diff)
	}
}

func TestParseRejectsBadConfig(t *testing.T) {
	var testCases = []struct {
		name string
		raw  string
	}{
		{
			name: "missing release",
			raw: `releases:
- architectures:
  - architecture: amd64
    verify:
    - name: some-job
`,
		},
		{
			name: "duplicate job",
			raw: `releases:
- release: "4.17"
  architectures:
  - architecture: amd64
    verify:
    - name: some-job
    - name: some-job
`,
		},
		{
			name: "nameless job",
			raw: `releases:
- release: "4.17"
  architectures:
  - architecture: amd64
    verify:
    - optional: true
`,
		},
		{
			name: "unknown field",
			raw: `releases:
- release: "4.17"
  archs: []
`,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := Parse([]byte(testCase.raw)); err == nil {
				t.Error("expected error, got none")
			}
		})
	}
}

func TestJobsForUnknownCoordinates(t *testing.T) {
	registry, err := Parse([]byte(registryYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.JobsFor("4.9", api.ArchitectureAMD64); err == nil {
		t.Error("expected error for unknown release")
	}
	if _, err := registry.JobsFor("4.17", api.ArchitectureS390X); err == nil {
		t.Error("expected error for unknown architecture")
	}
}
