package backup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRotate(t *testing.T) {
	dir := t.TempDir()

	// Mix of directory and archive backups, plus unrelated entries.
	entries := []string{
		"2025-01-01-00-00-00",
		"2025-01-02-00-00-00.tar.gz",
		"2025-01-03-00-00-00",
		"2025-01-04-00-00-00.tar.gz.aes",
		"keepme",
	}
	for _, name := range entries[:1] {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "2025-01-03-00-00-00"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"2025-01-02-00-00-00.tar.gz", "2025-01-04-00-00-00.tar.gz.aes", "keepme"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := Rotate(dir, 2); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	left, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, e := range left {
		names = append(names, e.Name())
	}

	want := map[string]bool{
		"2025-01-03-00-00-00":         true,
		"2025-01-04-00-00-00.tar.gz.aes": true,
		"keepme":                      true,
	}
	if len(names) != len(want) {
		t.Fatalf("remaining = %v, want %v", names, want)
	}
	for _, name := range names {
		if !want[name] {
			t.Errorf("unexpected survivor %s", name)
		}
	}
}

func TestRotateDisabled(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2025-01-01-00-00-00", "2025-01-02-00-00-00"} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := Rotate(dir, 0); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	left, _ := os.ReadDir(dir)
	if len(left) != 2 {
		t.Errorf("rotation with max-count 0 removed entries: %d left", len(left))
	}
}

func TestRotateUnderLimit(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "2025-01-01-00-00-00"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := Rotate(dir, 5); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	left, _ := os.ReadDir(dir)
	if len(left) != 1 {
		t.Errorf("rotation under the limit removed entries: %d left", len(left))
	}
}
