package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configFixture = `
build:
  deps:
    - dst: /opt/genesis_core
      path:
        src: /tmp/genesis_core_test_dir
    - dst: /opt/undionly.kpxe
      http:
        src: http://repository.genesis-core.tech:8081/ipxe/latest/undionly.kpxe
  elements:
    - images:
      - name: genesis-core
        format: raw
        profile: ubuntu_24
        script: images/install.sh
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultConfigName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, configFixture)

	builds, err := LoadConfig(path, "/work")
	require.NoError(t, err)
	require.Len(t, builds, 1)

	b := builds["build"]
	require.Len(t, b.Deps, 2)
	assert.Equal(t, "/opt/genesis_core", b.Deps[0].Dst)
	assert.Equal(t, "/tmp/genesis_core_test_dir", b.Deps[0].Path.Src)
	assert.Equal(t, "http://repository.genesis-core.tech:8081/ipxe/latest/undionly.kpxe", b.Deps[1].HTTP.Src)

	require.Len(t, b.Elements, 1)
	require.Len(t, b.Elements[0].Images, 1)
	img := b.Elements[0].Images[0]
	assert.Equal(t, "genesis-core", img.Name)
	assert.Equal(t, "ubuntu_24", img.Profile)
	assert.Equal(t, "raw", img.Format)
	assert.Equal(t, "/work/images/install.sh", img.Script)
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
build:
  elements:
    - images:
      - script: /abs/install.sh
`)

	builds, err := LoadConfig(path, "/work")
	require.NoError(t, err)

	img := builds["build"].Elements[0].Images[0]
	assert.Equal(t, DefaultProfile, img.Profile)
	assert.Equal(t, DefaultFormat, img.Format)
	assert.Equal(t, "/abs/install.sh", img.Script)
}

func TestLoadConfigMultipleBuildSections(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
build_core:
  elements:
    - images:
      - script: core.sh
build_element:
  elements:
    - images:
      - script: element.sh
settings:
  unrelated: true
`)

	builds, err := LoadConfig(path, "/work")
	require.NoError(t, err)
	assert.Len(t, builds, 2)
	assert.Contains(t, builds, "build_core")
	assert.Contains(t, builds, "build_element")
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
	}{
		{
			name: "no elements",
			fixture: `
build:
  deps: []
`,
		},
		{
			name: "image without script",
			fixture: `
build:
  elements:
    - images:
      - profile: ubuntu_24
`,
		},
		{
			name: "unknown build key",
			fixture: `
build:
  unexpected: true
  elements:
    - images:
      - script: install.sh
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.fixture)
			_, err := LoadConfig(path, "/work")
			assert.Error(t, err)
		})
	}
}

func TestFindConfig(t *testing.T) {
	project := t.TempDir()

	_, err := FindConfig(project, "")
	assert.Error(t, err)

	// In the work dir.
	workDir := filepath.Join(project, DefaultWorkDirName)
	require.NoError(t, os.MkdirAll(workDir, 0o755))
	writeConfig(t, workDir, configFixture)

	path, err := FindConfig(project, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, DefaultConfigName), path)

	// The project root wins over the work dir.
	writeConfig(t, project, configFixture)
	path, err = FindConfig(project, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, DefaultConfigName), path)
}
