package builder

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

//go:embed profiles
var profileFS embed.FS

// envProfile is exported to the provisioning script so it can branch on
// the image profile.
const envProfile = "GEN_IMAGE_PROFILE"

const fileProvisionerTmpl = `
  provisioner "file" {
      source      = "%[1]s"
      destination = "%[2]s"
  }
  provisioner "shell" {
    inline = [
      "sudo mkdir -p %[3]s",
      "sudo mv %[2]s %[4]s",
    ]
  }
`

const devKeysProvisionerTmpl = `
  provisioner "file" {
      source      = "%s"
      destination = "/tmp/__dev_keys"
  }
`

const packerBuildTmpl = `
variable "output_directory" {
  type    = string
  default = "%[1]s"
}

build {
  source "qemu.%[2]s" {
    name = "%[3]s"
  }

  %[4]s

  provisioner "shell" {
    execute_command = "sudo -S env {{ .Vars }} {{ .Path }}"
    script          = "%[5]s"
    env             = {
      %[6]s
    }
  }

  %[7]s
}
`

// PackerBuilder builds images by rendering a main.pkr.hcl next to the
// embedded profile files and invoking packer.
type PackerBuilder struct {
	// OutputDir receives the built artifacts.
	OutputDir string

	// packer runs the packer binary. Replaced in tests.
	packer func(ctx context.Context, args ...string) error
}

// NewPackerBuilder returns a packer-backed image builder writing
// artifacts to outputDir.
func NewPackerBuilder(outputDir string) *PackerBuilder {
	if outputDir == "" {
		outputDir = DefaultOutputDirName
	}
	return &PackerBuilder{OutputDir: outputDir, packer: runPacker}
}

func runPacker(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "packer", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("packer %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// Run prepares the build dir and builds the image.
func (p *PackerBuilder) Run(ctx context.Context, buildDir string, img Image, deps []Dependency, developerKeys string) error {
	if err := p.preBuild(ctx, buildDir, img, deps, developerKeys); err != nil {
		return err
	}
	return p.build(ctx, buildDir, img)
}

// preBuild renders main.pkr.hcl and the variable overrides, copies the
// profile files in, and runs packer init.
func (p *PackerBuilder) preBuild(ctx context.Context, buildDir string, img Image, deps []Dependency, developerKeys string) error {
	// Every fetched dep becomes a pair of provisioners: upload to /tmp,
	// then move into place with root privileges.
	var provisioners []string
	for i, dep := range deps {
		if dep.LocalPath() == "" {
			log.Warnf("Dependency %s has no local path and will be skipped", dep.Dest())
			continue
		}

		tmpDest := fmt.Sprintf("/tmp/%s_%d", filepath.Base(dep.Dest()), i)
		provisioners = append(provisioners, fmt.Sprintf(fileProvisionerTmpl,
			dep.LocalPath(), tmpDest, filepath.Dir(dep.Dest()), dep.Dest()))
	}

	var devKeysProv string
	if developerKeys != "" {
		keyPath := filepath.Join(buildDir, "__dev_keys")
		if err := os.WriteFile(keyPath, []byte(developerKeys), 0o600); err != nil {
			return fmt.Errorf("write developer keys: %w", err)
		}
		devKeysProv = fmt.Sprintf(devKeysProvisionerTmpl, keyPath)
	}

	envs := fmt.Sprintf("%s = %q\n", envProfile, img.Profile)
	envs += resolveEnvs(img.Envs)

	profile := strings.ReplaceAll(img.Profile, "_", "-")
	name := img.Name
	if name == "" {
		name = profile
	}

	main := fmt.Sprintf(packerBuildTmpl,
		p.OutputDir, profile, name, strings.Join(provisioners, "\n"),
		img.Script, envs, devKeysProv)

	if err := os.WriteFile(filepath.Join(buildDir, "main.pkr.hcl"), []byte(main), 0o644); err != nil {
		return fmt.Errorf("write main.pkr.hcl: %w", err)
	}

	if err := copyProfileFiles(img.Profile, buildDir); err != nil {
		return err
	}

	// The image format always reaches the profile as a variable; the
	// config's overrides ride along.
	overrides := map[string]interface{}{"img_format": img.Format}
	for k, v := range img.Override {
		overrides[k] = v
	}
	vars := variableFileContent(overrides)
	if err := os.WriteFile(filepath.Join(buildDir, "overrides.auto.pkrvars.hcl"), []byte(vars), 0o644); err != nil {
		return fmt.Errorf("write overrides.auto.pkrvars.hcl: %w", err)
	}

	return p.packer(ctx, "init", buildDir)
}

func (p *PackerBuilder) build(ctx context.Context, buildDir string, img Image) error {
	log.Infof("Build image: %s", img.Name)
	return p.packer(ctx, "build", "-parallel-builds=1", buildDir)
}

// copyProfileFiles places the embedded files of the profile into the
// build dir.
func copyProfileFiles(profile, buildDir string) error {
	dir := "profiles/" + strings.ReplaceAll(profile, "_", "-")
	entries, err := fs.ReadDir(profileFS, dir)
	if err != nil {
		return fmt.Errorf("unknown image profile %s", profile)
	}

	for _, entry := range entries {
		data, err := fs.ReadFile(profileFS, dir+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read profile file %s: %w", entry.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(buildDir, entry.Name()), data, 0o644); err != nil {
			return fmt.Errorf("copy profile file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// resolveEnvs renders the image env declarations as HCL map entries.
// "NAME" takes the process env value (empty if unset), "NAME=def" falls
// back to def, and a trailing * expands every matching process env var.
func resolveEnvs(envs []string) string {
	var lines []string

	for _, env := range envs {
		if strings.HasSuffix(env, "*") {
			prefix := env[:len(env)-1]
			var matched []string
			for _, kv := range os.Environ() {
				name, value, _ := strings.Cut(kv, "=")
				if strings.HasPrefix(name, prefix) {
					matched = append(matched, fmt.Sprintf("%s = %q", name, value))
				}
			}
			sort.Strings(matched)
			lines = append(lines, matched...)
			continue
		}

		name, def := strings.TrimSpace(env), ""
		if n, d, ok := strings.Cut(env, "="); ok {
			name, def = strings.TrimSpace(n), strings.TrimSpace(d)
		}

		value := def
		if v, ok := os.LookupEnv(name); ok {
			value = v
		}
		lines = append(lines, fmt.Sprintf("%s = %q", name, value))
	}

	return strings.Join(lines, "\n")
}

// renderVariable renders one pkrvars assignment. Strings need quoting in
// HCL, everything else renders bare.
func renderVariable(name string, value interface{}) string {
	if s, ok := value.(string); ok {
		return fmt.Sprintf("%s = %q", name, s)
	}
	return fmt.Sprintf("%s = %v", name, value)
}

// variableFileContent renders a pkrvars file from the overrides, sorted
// by name for stable output.
func variableFileContent(overrides map[string]interface{}) string {
	if len(overrides) == 0 {
		return ""
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, renderVariable(name, overrides[name]))
	}
	return strings.Join(lines, "\n")
}
