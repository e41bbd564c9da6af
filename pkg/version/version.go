// Package version derives a project version from its git repository.
// A commit carrying a tag is released as that tag; anything else gets
// the nearest tag's patch bumped plus a dev/rc prerelease marker and
// commit metadata.
package version

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// rcBranches are the branches whose untagged commits count as release
// candidates rather than dev builds.
var rcBranches = map[string]bool{
	"master": true,
	"main":   true,
}

// gitOutput runs git in dir and returns its trimmed stdout. Replaced in
// tests.
var gitOutput = func(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, ee.Stderr)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ProjectVersion computes the version of the git repository at dir.
func ProjectVersion(ctx context.Context, dir string) (string, error) {
	// An exact tag is the version.
	tags, err := gitOutput(ctx, dir, "tag", "--points-at", "HEAD")
	if err != nil {
		return "", err
	}
	if tags != "" {
		return strings.SplitN(tags, "\n", 2)[0], nil
	}

	major, minor, patch := 0, 0, 0
	nearest, err := gitOutput(ctx, dir, "describe", "--tags", "--abbrev=0")
	if err == nil && nearest != "" {
		major, minor, patch, err = parseTag(nearest)
		if err != nil {
			return "", err
		}
	}
	// No tags yet: the version counts up from 0.0.0.
	patch++

	sha, err := gitOutput(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	branch, err := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	stamp, err := gitOutput(ctx, dir, "show", "-s", "--format=%ct", "HEAD")
	if err != nil {
		return "", err
	}
	committed, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad commit timestamp %q: %w", stamp, err)
	}

	prefix := "dev"
	if rcBranches[branch] {
		prefix = "rc"
	}

	return fmt.Sprintf("%d.%d.%d-%s+%s.%s",
		major, minor, patch, prefix,
		time.Unix(committed, 0).UTC().Format("20060102150405"),
		sha[:8]), nil
}

func parseTag(tag string) (major, minor, patch int, err error) {
	parts := strings.Split(tag, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid tag %q, expected major.minor.patch", tag)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		nums[i], err = strconv.Atoi(part)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid tag %q, expected major.minor.patch", tag)
		}
	}
	return nums[0], nums[1], nums[2], nil
}
