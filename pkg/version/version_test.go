package version

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// fakeGit answers git invocations from a canned map keyed by the joined
// argument list.
func fakeGit(t *testing.T, answers map[string]string) {
	t.Helper()
	orig := gitOutput
	gitOutput = func(ctx context.Context, dir string, args ...string) (string, error) {
		key := strings.Join(args, " ")
		out, ok := answers[key]
		if !ok {
			return "", fmt.Errorf("git %s: no such ref", key)
		}
		return out, nil
	}
	t.Cleanup(func() { gitOutput = orig })
}

const (
	testSHA   = "0123456789abcdef0123456789abcdef01234567"
	testStamp = "1735731225" // 2025-01-01 11:33:45 UTC
)

func TestProjectVersionExactTag(t *testing.T) {
	fakeGit(t, map[string]string{
		"tag --points-at HEAD": "1.2.3",
	})

	v, err := ProjectVersion(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("ProjectVersion() error = %v", err)
	}
	if v != "1.2.3" {
		t.Errorf("version = %s, want 1.2.3", v)
	}
}

func TestProjectVersionDevBuild(t *testing.T) {
	fakeGit(t, map[string]string{
		"tag --points-at HEAD":    "",
		"describe --tags --abbrev=0": "1.2.3",
		"rev-parse HEAD":          testSHA,
		"rev-parse --abbrev-ref HEAD": "feature/backup",
		"show -s --format=%ct HEAD":   testStamp,
	})

	v, err := ProjectVersion(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("ProjectVersion() error = %v", err)
	}
	want := "1.2.4-dev+20250101113345.01234567"
	if v != want {
		t.Errorf("version = %s, want %s", v, want)
	}
}

func TestProjectVersionRCOnMaster(t *testing.T) {
	fakeGit(t, map[string]string{
		"tag --points-at HEAD":    "",
		"describe --tags --abbrev=0": "1.2.3",
		"rev-parse HEAD":          testSHA,
		"rev-parse --abbrev-ref HEAD": "master",
		"show -s --format=%ct HEAD":   testStamp,
	})

	v, err := ProjectVersion(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("ProjectVersion() error = %v", err)
	}
	if !strings.HasPrefix(v, "1.2.4-rc+") {
		t.Errorf("version = %s, want rc prerelease", v)
	}
}

func TestProjectVersionNoTags(t *testing.T) {
	// describe fails in an untagged repo; the version counts from 0.0.0.
	fakeGit(t, map[string]string{
		"tag --points-at HEAD":    "",
		"rev-parse HEAD":          testSHA,
		"rev-parse --abbrev-ref HEAD": "main",
		"show -s --format=%ct HEAD":   testStamp,
	})

	v, err := ProjectVersion(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("ProjectVersion() error = %v", err)
	}
	if !strings.HasPrefix(v, "0.0.1-rc+") {
		t.Errorf("version = %s, want 0.0.1-rc prefix", v)
	}
}

func TestProjectVersionBadTag(t *testing.T) {
	fakeGit(t, map[string]string{
		"tag --points-at HEAD":    "",
		"describe --tags --abbrev=0": "v1.2",
		"rev-parse HEAD":          testSHA,
		"rev-parse --abbrev-ref HEAD": "main",
		"show -s --format=%ct HEAD":   testStamp,
	})

	if _, err := ProjectVersion(context.Background(), "/repo"); err == nil {
		t.Error("ProjectVersion() with malformed tag returned nil error")
	}
}
