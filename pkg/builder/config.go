// Package builder turns a genesis.yaml project configuration into VM
// images. A project declares build sections, each listing dependencies to
// fetch and elements whose images are produced by an image builder
// (packer in production).
package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	// DefaultConfigName is the project configuration file name.
	DefaultConfigName = "genesis.yaml"

	// DefaultWorkDirName is the directory inside a project that holds
	// the genesis configuration and the files it references.
	DefaultWorkDirName = "genesis"

	// DefaultOutputDirName is where built artifacts land.
	DefaultOutputDirName = "output"

	// DefaultProfile is the image profile used when a config omits one.
	DefaultProfile = "ubuntu_24"

	// DefaultFormat is the image format used when a config omits one.
	DefaultFormat = "raw"

	buildSectionPrefix = "build"
)

// Image describes a single image an element produces.
type Image struct {
	// Script is the provisioning script baked into the image. Relative
	// paths resolve against the project work dir.
	Script string `yaml:"script"`

	Profile string `yaml:"profile"`
	Format  string `yaml:"format"`
	Name    string `yaml:"name"`

	// Envs are environment variables passed into the provisioning
	// script: "NAME", "NAME=default" or a trailing-* wildcard.
	Envs []string `yaml:"envs"`

	// Override sets packer variables of the profile.
	Override map[string]interface{} `yaml:"override"`
}

func (i *Image) withDefaults(workDir string) error {
	if i.Script == "" {
		return fmt.Errorf("image has no provisioning script")
	}
	if !filepath.IsAbs(i.Script) {
		i.Script = filepath.Join(workDir, i.Script)
	}
	if i.Profile == "" {
		i.Profile = DefaultProfile
	}
	if i.Format == "" {
		i.Format = DefaultFormat
	}
	return nil
}

// Element groups the images built together.
type Element struct {
	Images []Image `yaml:"images"`
}

// PathSource points a dependency at a local file or directory, either
// directly or through an environment variable holding the path.
type PathSource struct {
	Src string `yaml:"src"`
	Env string `yaml:"env"`
}

// HTTPSource downloads a dependency over HTTP.
type HTTPSource struct {
	Src string `yaml:"src"`
}

// GitSource clones a dependency repository.
type GitSource struct {
	Src    string `yaml:"src"`
	Branch string `yaml:"branch"`
}

// SFTPSource copies a dependency file from a remote host. Src has the
// usual scp form user@host:path.
type SFTPSource struct {
	Src string `yaml:"src"`
	Key string `yaml:"key"`
}

// DepConfig is one entry of a build section's deps list. Exactly one
// source kind is expected.
type DepConfig struct {
	// Dst is the absolute destination inside the image.
	Dst string `yaml:"dst"`

	// Optional deps that fail to resolve are skipped instead of
	// failing the build.
	Optional bool `yaml:"optional"`

	Path *PathSource `yaml:"path"`
	HTTP *HTTPSource `yaml:"http"`
	Git  *GitSource  `yaml:"git"`
	SFTP *SFTPSource `yaml:"sftp"`
}

// Build is one build section of a genesis.yaml.
type Build struct {
	Deps     []DepConfig `yaml:"deps"`
	Elements []Element   `yaml:"elements"`
}

// FindConfig locates the project configuration file, trying the project
// dir itself and its work dir.
func FindConfig(projectDir, name string) (string, error) {
	if name == "" {
		name = DefaultConfigName
	}

	alternatives := []string{
		filepath.Join(projectDir, name),
		filepath.Join(projectDir, DefaultWorkDirName, name),
	}
	for _, alt := range alternatives {
		if _, err := os.Stat(alt); err == nil {
			return alt, nil
		}
	}

	return "", fmt.Errorf("configuration file %s not found in %s", name, projectDir)
}

// LoadConfig parses a genesis.yaml and returns its build sections keyed
// by section name. Top-level keys not starting with "build" are ignored:
// the file may carry unrelated project settings.
func LoadConfig(path, workDir string) (map[string]Build, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	builds := make(map[string]Build)
	for key, section := range raw {
		if !strings.HasPrefix(key, buildSectionPrefix) {
			continue
		}

		// Round-trip the section so unknown keys inside a build are
		// still rejected.
		buf, err := yaml.Marshal(section)
		if err != nil {
			return nil, fmt.Errorf("config section %s: %w", key, err)
		}

		var b Build
		if err := yaml.UnmarshalStrict(buf, &b); err != nil {
			return nil, fmt.Errorf("config section %s: %w", key, err)
		}

		if len(b.Elements) == 0 {
			return nil, fmt.Errorf("config section %s has no elements", key)
		}
		for ei := range b.Elements {
			for ii := range b.Elements[ei].Images {
				if err := b.Elements[ei].Images[ii].withDefaults(workDir); err != nil {
					return nil, fmt.Errorf("config section %s: %w", key, err)
				}
			}
		}

		builds[key] = b
	}

	return builds, nil
}
