package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingImageBuilder captures Run invocations.
type recordingImageBuilder struct {
	images []Image
	keys   []string
	err    error
}

func (r *recordingImageBuilder) Run(ctx context.Context, buildDir string, img Image, deps []Dependency, developerKeys string) error {
	r.images = append(r.images, img)
	r.keys = append(r.keys, developerKeys)
	return r.err
}

func TestSimpleBuilderBuild(t *testing.T) {
	b := Build{
		Elements: []Element{
			{Images: []Image{{Script: "/w/a.sh", Name: "a"}, {Script: "/w/b.sh", Name: "b"}}},
			{Images: []Image{{Script: "/w/c.sh", Name: "c"}}},
		},
	}

	ib := &recordingImageBuilder{}
	sb, err := NewFromBuild("/work", b, ib)
	require.NoError(t, err)

	require.NoError(t, sb.Build(context.Background(), "", "keys"))

	require.Len(t, ib.images, 3)
	assert.Equal(t, "a", ib.images[0].Name)
	assert.Equal(t, "b", ib.images[1].Name)
	assert.Equal(t, "c", ib.images[2].Name)
	assert.Equal(t, "keys", ib.keys[0])
}

func TestSimpleBuilderBuildError(t *testing.T) {
	b := Build{Elements: []Element{{Images: []Image{{Script: "/w/a.sh", Name: "a"}}}}}

	ib := &recordingImageBuilder{err: fmt.Errorf("packer exploded")}
	sb, err := NewFromBuild("/work", b, ib)
	require.NoError(t, err)

	assert.Error(t, sb.Build(context.Background(), "", ""))
}

func TestSimpleBuilderFetchDependencies(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "core.bin"), []byte("x"), 0o644))

	b := Build{
		Deps: []DepConfig{
			{Dst: "/opt/core.bin", Path: &PathSource{Src: filepath.Join(srcDir, "core.bin")}},
		},
		Elements: []Element{{Images: []Image{{Script: "/w/a.sh"}}}},
	}

	sb, err := NewFromBuild("/work", b, &recordingImageBuilder{})
	require.NoError(t, err)

	depsDir := t.TempDir()
	require.NoError(t, sb.FetchDependencies(context.Background(), depsDir))
	assert.FileExists(t, filepath.Join(depsDir, "core.bin"))
	assert.Equal(t, filepath.Join(depsDir, "core.bin"), sb.deps[0].LocalPath())
}

func TestNewFromBuildOptionalDependency(t *testing.T) {
	b := Build{
		Deps: []DepConfig{
			{
				Dst:      "/opt/genesis_devtools",
				Optional: true,
				Path:     &PathSource{Env: "GENESIS_TEST_UNSET_ENV"},
			},
		},
		Elements: []Element{{Images: []Image{{Script: "/w/a.sh"}}}},
	}

	sb, err := NewFromBuild("/work", b, &recordingImageBuilder{})
	require.NoError(t, err)
	assert.Empty(t, sb.deps)

	// The same dependency without the optional flag is fatal.
	b.Deps[0].Optional = false
	_, err = NewFromBuild("/work", b, &recordingImageBuilder{})
	assert.Error(t, err)
}

func TestDeveloperKeys(t *testing.T) {
	t.Setenv(EnvDeveloperKeys, "env-key")

	keys, err := DeveloperKeys("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", keys)

	// An explicit file wins over the environment.
	path := filepath.Join(t.TempDir(), "id_ed25519.pub")
	require.NoError(t, os.WriteFile(path, []byte("file-key"), 0o600))
	keys, err = DeveloperKeys(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", keys)

	_, err = DeveloperKeys("/does/not/exist")
	assert.Error(t, err)
}
