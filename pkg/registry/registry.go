// Package registry holds the static catalog of verification jobs per
// release and architecture. The format mirrors the release controller's
// verify stanza: each entry names a prow job and carries the optional
// and upgrade flags, but entries are kept as an ordered list so job
// dispatch order is stable across reloads.
package registry

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/openshift-eng/release-verify/pkg/api"
)

// VerifyItem is one configured verification job.
type VerifyItem struct {
	// Name is the prow job to run.
	Name string `json:"name"`
	// Optional jobs are recorded but never block acceptance and are
	// never retried.
	Optional bool `json:"optional,omitempty"`
	// Upgrade jobs install the previous minor's latest stable payload
	// first and upgrade to the build under verification.
	Upgrade bool `json:"upgrade,omitempty"`
}

// ArchitectureJobs binds an ordered set of verification jobs to one
// architecture of a release.
type ArchitectureJobs struct {
	Architecture api.Architecture `json:"architecture"`
	Verify       []VerifyItem     `json:"verify"`
}

// ReleaseJobs holds all per-architecture job sets of one release.
type ReleaseJobs struct {
	Release       string             `json:"release"`
	Architectures []ArchitectureJobs `json:"architectures"`
}

// Config is the serialized form of the registry.
type Config struct {
	Releases []ReleaseJobs `json:"releases"`
}

// Registry resolves (release, architecture) to the ordered JobSpecs
// that verify a build. Pure lookup, no side effects.
type Registry struct {
	jobs map[string]map[api.Architecture][]api.JobSpec
}

// Load reads and validates a registry config file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read job registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from serialized config.
func Parse(data []byte) (*Registry, error) {
	var config Config
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("could not unmarshal job registry: %w", err)
	}
	registry := &Registry{jobs: map[string]map[api.Architecture][]api.JobSpec{}}
	for _, release := range config.Releases {
		if release.Release == "" {
			return nil, fmt.Errorf("job registry entry without a release")
		}
		if _, ok := registry.jobs[release.Release]; ok {
			return nil, fmt.Errorf("duplicate job registry entry for release %s", release.Release)
		}
		byArch := map[api.Architecture][]api.JobSpec{}
		for _, arch := range release.Architectures {
			if _, ok := byArch[arch.Architecture]; ok {
				return nil, fmt.Errorf("duplicate job registry entry for %s/%s", release.Release, arch.Architecture)
			}
			var specs []api.JobSpec
			seen := map[string]bool{}
			for _, item := range arch.Verify {
				if item.Name == "" {
					return nil, fmt.Errorf("verify entry without a job name for %s/%s", release.Release, arch.Architecture)
				}
				if seen[item.Name] {
					return nil, fmt.Errorf("duplicate verify entry %s for %s/%s", item.Name, release.Release, arch.Architecture)
				}
				seen[item.Name] = true
				kind := api.JobKindInstall
				if item.Upgrade {
					kind = api.JobKindUpgrade
				}
				specs = append(specs, api.JobSpec{
					Name:     item.Name,
					Required: !item.Optional,
					Kind:     kind,
				})
			}
			byArch[arch.Architecture] = specs
		}
		registry.jobs[release.Release] = byArch
	}
	return registry, nil
}

// JobsFor returns the ordered JobSpecs verifying builds of the given
// release and architecture.
func (r *Registry) JobsFor(release string, architecture api.Architecture) ([]api.JobSpec, error) {
	byArch, ok := r.jobs[release]
	if !ok {
		return nil, fmt.Errorf("no verification jobs registered for release %s", release)
	}
	specs, ok := byArch[architecture]
	if !ok {
		return nil, fmt.Errorf("no verification jobs registered for %s/%s", release, architecture)
	}
	out := make([]api.JobSpec, len(specs))
	copy(out, specs)
	return out, nil
}
