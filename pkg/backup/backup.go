// Package backup saves libvirt domains to disk. A backup run copies every
// requested domain's definition and disks into a timestamped directory,
// optionally compresses and encrypts the result, and rotates old entries.
// A supervisor watches free disk space for the whole run and aborts the
// copy phase before the host runs dry.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/infraguys/genesis-devtools/pkg/hypervisor"
)

const (
	// DefaultMinFreeGB is the free-space floor below which backups are
	// refused or aborted.
	DefaultMinFreeGB = 50

	freeSpacePollInterval = 3 * time.Second
)

// Hypervisor is the subset of the libvirt driver the backup engine needs.
type Hypervisor interface {
	BackupDomain(ctx context.Context, name, destDir string) error
	ListDomains(state hypervisor.DomainState) ([]string, error)
	ResumeDomain(name string) error
}

// Config drives a backup run.
type Config struct {
	// Dir is the backups root. Each run creates a timestamped entry
	// inside it.
	Dir string

	// Domains to back up.
	Domains []string

	// Compress the run into a tar archive.
	Compress bool

	// Format of the archive when compressing.
	Format Format

	// Encryption credentials; nil disables encryption. Encryption
	// requires compression.
	Creds *Creds

	// MaxCount bounds the retained backups. 0 disables rotation.
	MaxCount int

	// MinFreeGB is the free-space floor in GiB.
	MinFreeGB uint64
}

func (c *Config) validate() error {
	if c.Dir == "" {
		return fmt.Errorf("backup directory must be specified")
	}
	if len(c.Domains) == 0 {
		return fmt.Errorf("no domains to back up")
	}
	if c.Creds != nil && !c.Compress {
		return fmt.Errorf("encryption requires compression")
	}
	if c.Compress && !c.Format.valid() {
		return fmt.Errorf("unknown backup format %q", c.Format)
	}
	return nil
}

// Engine runs backups against a hypervisor.
type Engine struct {
	hv  Hypervisor
	out io.Writer

	// freeSpace reports the free bytes of the filesystem holding the
	// path. Replaced in tests.
	freeSpace func(path string) (uint64, error)
}

// NewEngine returns a backup engine writing its report to out.
func NewEngine(hv Hypervisor, out io.Writer) *Engine {
	if out == nil {
		out = os.Stdout
	}
	return &Engine{hv: hv, out: out, freeSpace: statfsFree}
}

func statfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func (e *Engine) freeGB(path string) (uint64, error) {
	free, err := e.freeSpace(path)
	if err != nil {
		return 0, err
	}
	return free >> 30, nil
}

// Run performs one backup run: guard, copy, report, compress, encrypt,
// rotate. It returns the path of the resulting entry (directory or
// archive).
func (e *Engine) Run(ctx context.Context, cfg Config) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	minFree := cfg.MinFreeGB
	if minFree == 0 {
		minFree = DefaultMinFreeGB
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backups dir %s: %w", cfg.Dir, err)
	}

	free, err := e.freeGB(cfg.Dir)
	if err != nil {
		return "", err
	}
	if free < minFree {
		return "", fmt.Errorf("unable to start backup due to low disk space (%d GB free)", free)
	}

	entry := filepath.Join(cfg.Dir, time.Now().Format(TimestampFormat))

	if err := e.supervise(ctx, cfg, entry, minFree); err != nil {
		return "", err
	}

	result := entry
	if cfg.Compress {
		result, err = e.compressEntry(entry, cfg)
		if err != nil {
			return "", err
		}
	}

	if err := Rotate(cfg.Dir, cfg.MaxCount); err != nil {
		return "", fmt.Errorf("rotate backups: %w", err)
	}

	color.New(color.FgGreen).Fprintln(e.out, "Backup done")

	return result, nil
}

// supervise runs the copy phase while polling free space. Crossing the
// floor cancels the copy, removes partial output and resumes any domains
// the copy left paused.
func (e *Engine) supervise(ctx context.Context, cfg Config, entry string, minFree uint64) error {
	copyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.copyDomains(copyCtx, cfg, entry)
	}()

	ticker := time.NewTicker(freeSpacePollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err

		case <-ticker.C:
			free, err := e.freeGB(cfg.Dir)
			if err != nil {
				log.Warnf("Failed to check free space: %v", err)
				continue
			}
			if free >= minFree {
				continue
			}

			color.New(color.FgYellow).Fprintf(e.out,
				"Backup process stopped due to low disk space (%d GB)\n", free)

			cancel()
			<-done

			// Free the space the partial run consumed.
			os.RemoveAll(entry)
			e.resumeDomains(cfg.Domains)

			return fmt.Errorf("backup aborted: low disk space (%d GB free)", free)
		}
	}
}

// copyDomains backs up each domain and prints the per-domain report table.
func (e *Engine) copyDomains(ctx context.Context, cfg Config, entry string) error {
	if err := os.MkdirAll(entry, 0o755); err != nil {
		return fmt.Errorf("create backup dir %s: %w", entry, err)
	}

	type row struct {
		domain   string
		start    string
		end      string
		duration string
		size     string
		status   string
	}
	rows := make([]row, 0, len(cfg.Domains))

	var failed int
	for _, domain := range cfg.Domains {
		if err := ctx.Err(); err != nil {
			return err
		}

		domainDir := filepath.Join(entry, domain)
		if err := os.MkdirAll(domainDir, 0o755); err != nil {
			return fmt.Errorf("create domain backup dir %s: %w", domainDir, err)
		}

		r := row{
			domain:   domain,
			start:    time.Now().Format("2006-01-02 15:04:05"),
			end:      "-",
			duration: "-",
			size:     "-",
			status:   "failed",
		}
		started := time.Now()

		err := e.hv.BackupDomain(ctx, domain, domainDir)
		if err == nil {
			elapsed := time.Since(started)
			r.end = time.Now().Format("2006-01-02 15:04:05")
			r.duration = fmt.Sprintf("%.2f", elapsed.Seconds())
			r.size = humanize.IBytes(dirSize(domainDir))
			r.status = "success"
			color.New(color.FgGreen).Fprintf(e.out, "Backup of %s done (%s s)\n", domain, r.duration)
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			log.Errorf("Backup of %s failed: %v", domain, err)
			color.New(color.FgRed).Fprintf(e.out, "Backup of %s failed\n", domain)
		}

		rows = append(rows, r)
	}

	fmt.Fprintf(e.out, "Summary: %s\n", entry)
	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "domain\ttime start\ttime end\tduration (s)\tsize\tstatus")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.domain, r.start, r.end, r.duration, r.size, r.status)
	}
	tw.Flush()

	if failed == len(cfg.Domains) {
		return fmt.Errorf("all domain backups failed")
	}

	return nil
}

// compressEntry archives the entry directory, then optionally encrypts the
// archive. Plaintext stages are removed as they are superseded.
func (e *Engine) compressEntry(entry string, cfg Config) (string, error) {
	fmt.Fprintf(e.out, "Compressing %s\n", entry)

	archive, err := compressDir(entry, cfg.Format)
	if err != nil {
		color.New(color.FgRed).Fprintf(e.out, "Compression of %s failed\n", entry)
		return "", fmt.Errorf("compress backup: %w", err)
	}
	color.New(color.FgGreen).Fprintf(e.out, "Compression of %s done\n", entry)

	if err := os.RemoveAll(entry); err != nil {
		return "", fmt.Errorf("remove backup dir %s: %w", entry, err)
	}

	if cfg.Creds == nil {
		return archive, nil
	}

	fmt.Fprintf(e.out, "Encrypting %s\n", archive)
	encrypted, err := encryptFile(archive, cfg.Creds)
	if err != nil {
		color.New(color.FgRed).Fprintf(e.out, "Encryption of %s failed\n", archive)
		return "", fmt.Errorf("encrypt backup: %w", err)
	}

	if err := os.Remove(archive); err != nil {
		return "", fmt.Errorf("remove plaintext archive %s: %w", archive, err)
	}

	color.New(color.FgGreen).Fprintf(e.out, "Encryption of %s done\n", archive)

	return encrypted, nil
}

// resumeDomains unpauses domains an aborted backup left suspended.
func (e *Engine) resumeDomains(domains []string) {
	paused, err := e.hv.ListDomains(hypervisor.DomainStatePaused)
	if err != nil {
		log.Errorf("Failed to list paused domains: %v", err)
		return
	}

	pausedSet := map[string]bool{}
	for _, name := range paused {
		pausedSet[name] = true
	}

	for _, domain := range domains {
		if !pausedSet[domain] {
			continue
		}
		if err := e.hv.ResumeDomain(domain); err != nil {
			log.Errorf("Resume of %s failed: %v", domain, err)
		}
	}
}

// dirSize sums the file sizes under dir. Best effort, for reporting only.
func dirSize(dir string) uint64 {
	var total uint64
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

// RunPeriodic repeats backup runs every period until the context ends.
// Failures of individual runs are logged, not fatal: the next tick tries
// again.
func (e *Engine) RunPeriodic(ctx context.Context, cfg Config, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive")
	}

	log.Infof("Starting periodic backup every %s", period)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if _, err := e.Run(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorf("Backup run failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
