package watcher

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/openshift-eng/release-verify/pkg/api"
)

// StreamConfig identifies one release stream under watch.
type StreamConfig struct {
	Release      string           `json:"release"`
	Architecture api.Architecture `json:"architecture"`
	Kind         api.BuildKind    `json:"kind"`
}

func (s StreamConfig) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Release, s.Architecture, s.Kind)
}

// Config is the serialized list of watched streams.
type Config struct {
	Streams []StreamConfig `json:"streams"`
}

// LoadConfig reads and validates the stream configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read stream config: %w", err)
	}
	var config Config
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("could not unmarshal stream config: %w", err)
	}
	seen := map[string]bool{}
	for _, stream := range config.Streams {
		if stream.Release == "" {
			return nil, fmt.Errorf("stream config entry without a release")
		}
		switch stream.Kind {
		case api.BuildKindNightly, api.BuildKindStable:
		default:
			return nil, fmt.Errorf("stream %s has unknown kind %q", stream, stream.Kind)
		}
		switch stream.Architecture {
		case api.ArchitectureAMD64, api.ArchitectureARM64, api.ArchitectureMulti, api.ArchitecturePPC64LE, api.ArchitectureS390X:
		default:
			return nil, fmt.Errorf("stream %s has unknown architecture %q", stream, stream.Architecture)
		}
		if seen[stream.String()] {
			return nil, fmt.Errorf("duplicate stream config entry %s", stream)
		}
		seen[stream.String()] = true
	}
	return &config, nil
}
