package backup

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	log "github.com/sirupsen/logrus"
)

// TimestampFormat names backup entries so rotation can recognize them.
const TimestampFormat = "2006-01-02-15-04-05"

var backupNameRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}`)

// Rotate removes the oldest backups in backupsDir beyond maxCount. Both
// plain directories and compressed/encrypted archives are rotated; entries
// not matching the timestamp naming are left alone. maxCount 0 disables
// rotation.
func Rotate(backupsDir string, maxCount int) error {
	if maxCount == 0 {
		return nil
	}

	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		return err
	}

	var backups []string
	for _, entry := range entries {
		if backupNameRe.MatchString(entry.Name()) {
			backups = append(backups, entry.Name())
		}
	}

	// The timestamped names sort chronologically.
	sort.Strings(backups)

	if len(backups) <= maxCount {
		return nil
	}

	for _, name := range backups[:len(backups)-maxCount] {
		path := filepath.Join(backupsDir, name)
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		log.Infof("The backup %s was rotated", path)
	}

	return nil
}
