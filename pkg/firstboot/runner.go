// Package firstboot runs the ordered bootstrap scripts of a genesis image
// exactly once. Scripts live in a single directory, run in lexical order,
// and each completed script is recorded in a state directory so a reboot
// (or a failed run) resumes where it stopped instead of starting over.
//
// During image builds the VM runs under a fixed, well-known MAC address.
// When that address is present on any interface the runner exits without
// executing or recording anything, so baking the image does not consume the
// one first boot the scripts are meant for.
package firstboot

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

const (
	// DefaultScriptsDir is where genesis images install bootstrap scripts.
	DefaultScriptsDir = "/etc/genesis/bootstrap.d"

	// DefaultStateDir holds the completion records.
	DefaultStateDir = "/var/lib/genesis"

	// BuildMAC is the MAC address the packer qemu profile pins on the
	// build VM.
	BuildMAC = "52:54:00:12:34:56"

	// runSentinel records a fully completed bootstrap run.
	runSentinel = "bootstrap"
)

// Runner executes the bootstrap scripts of an instance.
type Runner struct {
	ScriptsDir string
	StateDir   string

	// linkMACs enumerates the host's interface MAC addresses. Replaced
	// in tests.
	linkMACs func() ([]net.HardwareAddr, error)
}

// NewRunner returns a Runner with the image defaults.
func NewRunner() *Runner {
	return &Runner{
		ScriptsDir: DefaultScriptsDir,
		StateDir:   DefaultStateDir,
		linkMACs:   netlinkMACs,
	}
}

func netlinkMACs() ([]net.HardwareAddr, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	macs := make([]net.HardwareAddr, 0, len(links))
	for _, link := range links {
		if addr := link.Attrs().HardwareAddr; len(addr) > 0 {
			macs = append(macs, addr)
		}
	}

	return macs, nil
}

// isBuildTime reports whether the image-build MAC is present on any link.
func (r *Runner) isBuildTime() (bool, error) {
	buildMAC, err := net.ParseMAC(BuildMAC)
	if err != nil {
		return false, fmt.Errorf("parse build MAC: %w", err)
	}

	macs := r.linkMACs
	if macs == nil {
		macs = netlinkMACs
	}

	addrs, err := macs()
	if err != nil {
		return false, err
	}

	for _, addr := range addrs {
		if bytes.Equal(addr, buildMAC) {
			return true, nil
		}
	}

	return false, nil
}

// scripts enumerates the runnable bootstrap scripts in lexical order.
// Non-executable files and dot files are skipped.
func (r *Runner) scripts() ([]string, error) {
	entries, err := os.ReadDir(r.ScriptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scripts dir %s: %w", r.ScriptsDir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat script %s: %w", entry.Name(), err)
		}
		if info.Mode()&0o111 == 0 {
			log.Debugf("Skipping non-executable file %s", entry.Name())
			continue
		}
		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}

func (r *Runner) sentinelPath(name string) string {
	return filepath.Join(r.StateDir, name+".done")
}

func (r *Runner) hasSentinel(name string) bool {
	_, err := os.Stat(r.sentinelPath(name))
	return err == nil
}

// markDone records script completion. The write is atomic so a crash cannot
// leave a truncated record that would skip the script on the next boot.
func (r *Runner) markDone(name string) error {
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := renameio.WriteFile(r.sentinelPath(name), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write sentinel for %s: %w", name, err)
	}
	return nil
}

// Run executes all pending bootstrap scripts in order. It returns nil
// without running anything at image build time or when a previous run
// already completed.
func (r *Runner) Run(ctx context.Context) error {
	buildTime, err := r.isBuildTime()
	if err != nil {
		return err
	}
	if buildTime {
		log.Infof("Build MAC %s detected, skipping bootstrap", BuildMAC)
		return nil
	}

	if r.hasSentinel(runSentinel) {
		log.Debug("Bootstrap already completed, nothing to do")
		return nil
	}

	if err := os.MkdirAll(r.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", r.StateDir, err)
	}

	scripts, err := r.scripts()
	if err != nil {
		return err
	}

	for _, name := range scripts {
		if r.hasSentinel(name) {
			log.Debugf("Script %s already completed, skipping", name)
			continue
		}

		log.Infof("Running bootstrap script %s", name)
		if err := r.runScript(ctx, name); err != nil {
			return fmt.Errorf("bootstrap script %s: %w", name, err)
		}

		if err := r.markDone(name); err != nil {
			return err
		}
	}

	if err := r.markDone(runSentinel); err != nil {
		return err
	}

	log.Info("Bootstrap completed")

	return nil
}

func (r *Runner) runScript(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, filepath.Join(r.ScriptsDir, name))
	cmd.Dir = r.ScriptsDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
