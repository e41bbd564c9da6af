package builder

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// EnvDeveloperKeys holds developer public keys injected into images when
// no key file is given on the command line.
const EnvDeveloperKeys = "GEN_DEV_KEYS"

// ImageBuilder produces one image inside a prepared build dir.
type ImageBuilder interface {
	Run(ctx context.Context, buildDir string, img Image, deps []Dependency, developerKeys string) error
}

// SimpleBuilder fetches a build section's dependencies once and then
// builds every element image with the configured image builder.
type SimpleBuilder struct {
	workDir  string
	deps     []Dependency
	elements []Element
	ib       ImageBuilder
}

// NewFromBuild assembles a builder from a parsed build section. Optional
// dependencies that fail to resolve are skipped with a warning.
func NewFromBuild(workDir string, b Build, ib ImageBuilder) (*SimpleBuilder, error) {
	deps := make([]Dependency, 0, len(b.Deps))
	for _, cfg := range b.Deps {
		dep, err := dependencyFromConfig(cfg, workDir)
		if err != nil {
			if cfg.Optional {
				log.Warnf("Skipping optional dependency %s: %v", cfg.Dst, err)
				continue
			}
			return nil, err
		}
		deps = append(deps, dep)
	}

	if len(b.Elements) == 0 {
		return nil, fmt.Errorf("build has no elements")
	}

	return &SimpleBuilder{
		workDir:  workDir,
		deps:     deps,
		elements: b.Elements,
		ib:       ib,
	}, nil
}

// FetchDependencies stages every dependency into depsDir.
func (b *SimpleBuilder) FetchDependencies(ctx context.Context, depsDir string) error {
	log.Info("Fetching dependencies")
	for _, dep := range b.deps {
		log.Infof("Fetching dependency: %s", dep)
		if err := dep.Fetch(ctx, depsDir); err != nil {
			return fmt.Errorf("fetch dependency %s: %w", dep, err)
		}
	}
	return nil
}

// Build builds every element image. buildDir is for debugging only, to
// inspect the build content afterwards; normally each image builds in a
// throwaway temp dir.
func (b *SimpleBuilder) Build(ctx context.Context, buildDir, developerKeys string) error {
	log.Info("Building elements")
	for _, elem := range b.elements {
		for _, img := range elem.Images {
			log.Infof("Building image: %s (%s)", img.Name, img.Profile)

			dir := buildDir
			if dir == "" {
				tmp, err := os.MkdirTemp("", "genesis-build-")
				if err != nil {
					return fmt.Errorf("create build dir: %w", err)
				}
				defer os.RemoveAll(tmp)
				dir = tmp
			}

			if err := b.ib.Run(ctx, dir, img, b.deps, developerKeys); err != nil {
				return fmt.Errorf("build image %s: %w", img.Name, err)
			}
		}
	}
	return nil
}

// DeveloperKeys resolves the developer public keys: an explicit key file
// wins over the environment.
func DeveloperKeys(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read developer keys %s: %w", path, err)
		}
		return string(data), nil
	}
	return os.Getenv(EnvDeveloperKeys), nil
}
