package configuration

import (
	"fmt"
	"os"

	"github.com/buildkite/pkgsign/artifact"
	"github.com/buildkite/pkgsign/internal/key"
	"gopkg.in/yaml.v3"
)

// File is the on disk artifact manifest.
type File struct {
	Artifacts []artifact.Artifact `yaml:"artifacts"`
}

// LoadFile reads an artifact manifest:
//
//	artifacts:
//	  - id: api
//	    path: dist/api
//	    blob: 'dpm-api-{{ env "BUILD_NUMBER" }}.zip'
//	  - id: app
//	    path: dist/app
//	    exclude: ["**/*.pdb"]
func LoadFile(path string) ([]artifact.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact manifest: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse artifact manifest %s: %w", path, err)
	}

	return file.Artifacts, nil
}

/*
ExpandArtifacts fills in defaults and expands the blob name template of each
artifact with the OS environment, then validates it. Duplicate IDs and
duplicate expanded blob names are rejected since two artifacts writing the
same blob would race.
*/
func ExpandArtifacts(artifacts []artifact.Artifact) ([]artifact.Artifact, error) {
	return expandArtifacts(artifacts, nil)
}

// ExpandArtifactsWithEnv is ExpandArtifacts with a controlled environment.
func ExpandArtifactsWithEnv(artifacts []artifact.Artifact, env map[string]string) ([]artifact.Artifact, error) {
	return expandArtifacts(artifacts, env)
}

func expandArtifacts(artifacts []artifact.Artifact, env map[string]string) ([]artifact.Artifact, error) {
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("no artifacts configured")
	}

	expanded := make([]artifact.Artifact, len(artifacts))
	ids := make(map[string]struct{}, len(artifacts))
	blobs := make(map[string]string, len(artifacts))

	for i, a := range artifacts {
		a = a.WithDefaults()

		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("artifact at index %d: %w", i, err)
		}

		if _, ok := ids[a.ID]; ok {
			return nil, fmt.Errorf("duplicate artifact id %q", a.ID)
		}
		ids[a.ID] = struct{}{}

		blob, err := key.TemplateWithEnv(a.ID, a.Blob, env)
		if err != nil {
			return nil, fmt.Errorf("failed to expand blob name for %s: %w", a.ID, err)
		}
		if blob == "" {
			return nil, fmt.Errorf("blob name for %s expanded to an empty string", a.ID)
		}
		if other, ok := blobs[blob]; ok {
			return nil, fmt.Errorf("artifacts %s and %s both publish blob %q", other, a.ID, blob)
		}
		blobs[blob] = a.ID

		a.Blob = blob
		expanded[i] = a
	}

	return expanded, nil
}
