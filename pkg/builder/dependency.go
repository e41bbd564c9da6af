package builder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Dependency is an external artifact an image needs. Fetch stages it
// into a local deps dir, after which LocalPath points at the copy and
// Dest names where the provisioner places it inside the image.
type Dependency interface {
	Dest() string
	LocalPath() string
	Fetch(ctx context.Context, destDir string) error
	String() string
}

// dependencyFromConfig probes the configured source kinds and builds the
// matching dependency.
func dependencyFromConfig(cfg DepConfig, workDir string) (Dependency, error) {
	if cfg.Dst == "" {
		return nil, fmt.Errorf("dependency has no destination")
	}

	switch {
	case cfg.Path != nil:
		return newPathDependency(cfg, workDir)
	case cfg.HTTP != nil:
		return newHTTPDependency(cfg)
	case cfg.Git != nil:
		return newGitDependency(cfg)
	case cfg.SFTP != nil:
		return newSFTPDependency(cfg)
	}

	return nil, fmt.Errorf("dependency %s has no known source kind", cfg.Dst)
}

// pathDependency stages a local file or directory.
type pathDependency struct {
	path  string
	dest  string
	local string
}

func newPathDependency(cfg DepConfig, workDir string) (*pathDependency, error) {
	src := cfg.Path.Src
	if src == "" && cfg.Path.Env != "" {
		src = os.Getenv(cfg.Path.Env)
		if src == "" {
			return nil, fmt.Errorf("dependency %s: env %s is not set", cfg.Dst, cfg.Path.Env)
		}
	}
	if src == "" {
		return nil, fmt.Errorf("dependency %s has no source path", cfg.Dst)
	}

	if !filepath.IsAbs(src) {
		src = filepath.Join(workDir, src)
	}

	return &pathDependency{path: src, dest: cfg.Dst}, nil
}

func (d *pathDependency) Dest() string      { return d.dest }
func (d *pathDependency) LocalPath() string { return d.local }
func (d *pathDependency) String() string    { return fmt.Sprintf("local path -> %s", d.path) }

func (d *pathDependency) Fetch(ctx context.Context, destDir string) error {
	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("dependency path %s: %w", d.path, err)
	}

	target := filepath.Join(destDir, filepath.Base(d.path))
	if info.IsDir() {
		err = copyTree(d.path, target)
	} else {
		err = copyFile(d.path, target)
	}
	if err != nil {
		return fmt.Errorf("copy dependency %s: %w", d.path, err)
	}

	d.local = target
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(p, target)
	})
}

// httpDependency downloads a file over HTTP.
type httpDependency struct {
	endpoint string
	dest     string
	local    string
}

func newHTTPDependency(cfg DepConfig) (*httpDependency, error) {
	if cfg.HTTP.Src == "" {
		return nil, fmt.Errorf("dependency %s has no http source", cfg.Dst)
	}
	if _, err := url.Parse(cfg.HTTP.Src); err != nil {
		return nil, fmt.Errorf("dependency %s: bad url %s: %w", cfg.Dst, cfg.HTTP.Src, err)
	}
	return &httpDependency{endpoint: cfg.HTTP.Src, dest: cfg.Dst}, nil
}

func (d *httpDependency) Dest() string      { return d.dest }
func (d *httpDependency) LocalPath() string { return d.local }
func (d *httpDependency) String() string    { return fmt.Sprintf("http -> %s", d.endpoint) }

func (d *httpDependency) Fetch(ctx context.Context, destDir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint, nil)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", d.endpoint, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", d.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", d.endpoint, resp.Status)
	}

	u, _ := url.Parse(d.endpoint)
	target := filepath.Join(destDir, path.Base(u.Path))

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", d.endpoint, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("fetch %s: %w", d.endpoint, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	d.local = target
	return nil
}

// gitDependency clones a repository at a branch.
type gitDependency struct {
	src    string
	branch string
	dest   string
	local  string
}

func newGitDependency(cfg DepConfig) (*gitDependency, error) {
	if cfg.Git.Src == "" {
		return nil, fmt.Errorf("dependency %s has no git source", cfg.Dst)
	}
	return &gitDependency{src: cfg.Git.Src, branch: cfg.Git.Branch, dest: cfg.Dst}, nil
}

func (d *gitDependency) Dest() string      { return d.dest }
func (d *gitDependency) LocalPath() string { return d.local }
func (d *gitDependency) String() string    { return fmt.Sprintf("git -> %s", d.src) }

func (d *gitDependency) Fetch(ctx context.Context, destDir string) error {
	name := strings.TrimSuffix(path.Base(d.src), ".git")
	target := filepath.Join(destDir, name)

	args := []string{"clone", "--depth", "1"}
	if d.branch != "" {
		args = append(args, "--branch", d.branch)
	}
	args = append(args, d.src, target)

	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("clone %s: %w: %s", d.src, err, out)
	}

	d.local = target
	return nil
}

// sftpDependency copies a single file from a remote host over sftp.
type sftpDependency struct {
	user    string
	host    string
	remote  string
	keyFile string
	dest    string
	local   string
}

func newSFTPDependency(cfg DepConfig) (*sftpDependency, error) {
	user, rest, ok := strings.Cut(cfg.SFTP.Src, "@")
	if !ok {
		return nil, fmt.Errorf("dependency %s: sftp source %s is not user@host:path", cfg.Dst, cfg.SFTP.Src)
	}
	host, remote, ok := strings.Cut(rest, ":")
	if !ok || host == "" || remote == "" {
		return nil, fmt.Errorf("dependency %s: sftp source %s is not user@host:path", cfg.Dst, cfg.SFTP.Src)
	}

	keyFile := cfg.SFTP.Key
	if keyFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("dependency %s: no sftp key and no home dir: %w", cfg.Dst, err)
		}
		keyFile = filepath.Join(home, ".ssh", "id_rsa")
	}

	return &sftpDependency{
		user:    user,
		host:    host,
		remote:  remote,
		keyFile: keyFile,
		dest:    cfg.Dst,
	}, nil
}

func (d *sftpDependency) Dest() string      { return d.dest }
func (d *sftpDependency) LocalPath() string { return d.local }
func (d *sftpDependency) String() string {
	return fmt.Sprintf("sftp -> %s@%s:%s", d.user, d.host, d.remote)
}

func (d *sftpDependency) Fetch(ctx context.Context, destDir string) error {
	keyData, err := os.ReadFile(d.keyFile)
	if err != nil {
		return fmt.Errorf("read sftp key %s: %w", d.keyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return fmt.Errorf("parse sftp key %s: %w", d.keyFile, err)
	}

	addr := d.host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}

	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            d.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("sftp %s: %w", addr, err)
	}
	defer client.Close()

	src, err := client.Open(d.remote)
	if err != nil {
		return fmt.Errorf("sftp open %s: %w", d.remote, err)
	}
	defer src.Close()

	target := filepath.Join(destDir, path.Base(d.remote))
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("sftp copy %s: %w", d.remote, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	d.local = target
	return nil
}
