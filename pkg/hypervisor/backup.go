package hypervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// BackupDomain saves the definition and disks of a domain into destDir. An
// active domain is suspended for the copy window and always resumed, even
// when the copy fails or the context is cancelled between disks.
func (d *Driver) BackupDomain(ctx context.Context, name, destDir string) error {
	dom, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", name, err)
	}

	xmldoc, err := d.lv.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return fmt.Errorf("dump domain %s: %w", name, err)
	}

	if err := os.WriteFile(filepath.Join(destDir, "domain.xml"), []byte(xmldoc), 0o644); err != nil {
		return fmt.Errorf("write domain XML: %w", err)
	}

	disks, err := d.DomainDisks(name)
	if err != nil {
		return err
	}

	active, err := d.lv.DomainIsActive(dom)
	if err != nil {
		return fmt.Errorf("check if domain %s is active: %w", name, err)
	}

	if active != 0 {
		if err := d.lv.DomainSuspend(dom); err != nil {
			return fmt.Errorf("suspend domain %s: %w", name, err)
		}
		defer func() {
			if err := d.lv.DomainResume(dom); err != nil {
				log.Errorf("Failed to resume domain %s after backup: %v", name, err)
			}
		}()
	}

	for _, disk := range disks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.downloadDisk(disk, destDir); err != nil {
			return err
		}
	}

	return nil
}

// downloadDisk streams a disk volume into destDir under its base name.
func (d *Driver) downloadDisk(diskPath, destDir string) error {
	vol, err := d.lv.StorageVolLookupByPath(diskPath)
	if err != nil {
		return fmt.Errorf("lookup volume %s: %w", diskPath, err)
	}

	dest := filepath.Join(destDir, filepath.Base(diskPath))
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create backup file %s: %w", dest, err)
	}
	defer f.Close()

	log.Debugf("Downloading disk '%s' to '%s'", diskPath, dest)

	// Length 0 downloads from the offset to the end of the volume.
	if err := d.lv.StorageVolDownload(vol, f, 0, 0, 0); err != nil {
		os.Remove(dest)
		return fmt.Errorf("download volume %s: %w", diskPath, err)
	}

	return nil
}
