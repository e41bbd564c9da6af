package backup

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

func makeBackupDir(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "2025-01-02-03-04-05")
	domainDir := filepath.Join(dir, "genesis-core-bootstrap")
	if err := os.MkdirAll(domainDir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"domain.xml":   "<domain/>",
		"genesis.raw":  "disk-contents",
		"genesis2.raw": "more-disk-contents",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(domainDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	return dir
}

// readArchive lists names and contents from a tar stream.
func readArchive(t *testing.T, r io.Reader) map[string]string {
	t.Helper()

	files := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read tar entry %s: %v", hdr.Name, err)
		}
		files[hdr.Name] = string(data)
	}

	return files
}

func TestCompressDirGzip(t *testing.T) {
	dir := makeBackupDir(t)

	archive, err := compressDir(dir, FormatGzip)
	if err != nil {
		t.Fatalf("compressDir() error = %v", err)
	}
	if archive != dir+".tar.gz" {
		t.Errorf("archive = %q, want %q", archive, dir+".tar.gz")
	}

	f, err := os.Open(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("open gzip: %v", err)
	}
	defer gz.Close()

	files := readArchive(t, gz)
	want := filepath.Join("2025-01-02-03-04-05", "genesis-core-bootstrap", "domain.xml")
	if files[want] != "<domain/>" {
		t.Errorf("archive contents = %v, missing %s", files, want)
	}
	if len(files) != 3 {
		t.Errorf("archive has %d files, want 3", len(files))
	}
}

func TestCompressDirXz(t *testing.T) {
	dir := makeBackupDir(t)

	archive, err := compressDir(dir, FormatXz)
	if err != nil {
		t.Fatalf("compressDir() error = %v", err)
	}
	if archive != dir+".tar.xz" {
		t.Errorf("archive = %q, want %q", archive, dir+".tar.xz")
	}

	f, err := os.Open(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	xzr, err := xz.NewReader(f)
	if err != nil {
		t.Fatalf("open xz: %v", err)
	}

	files := readArchive(t, xzr)
	if len(files) != 3 {
		t.Errorf("archive has %d files, want 3", len(files))
	}
}

func TestCompressDirUnknownFormat(t *testing.T) {
	dir := makeBackupDir(t)
	if _, err := compressDir(dir, Format("zip")); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "backup.tar.gz")
	payload := "not really a tarball, but enough for a round trip"
	if err := os.WriteFile(plain, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	creds := &Creds{Key: pad("secretkey"), IV: pad("initvector")}

	encrypted, err := encryptFile(plain, creds)
	if err != nil {
		t.Fatalf("encryptFile() error = %v", err)
	}
	if encrypted != plain+".aes" {
		t.Errorf("encrypted = %q, want %q", encrypted, plain+".aes")
	}

	ciphertext, err := os.ReadFile(encrypted)
	if err != nil {
		t.Fatal(err)
	}
	if string(ciphertext) == payload {
		t.Error("ciphertext equals plaintext")
	}

	restored := filepath.Join(dir, "restored.tar.gz")
	if err := DecryptFile(encrypted, restored, creds); err != nil {
		t.Fatalf("DecryptFile() error = %v", err)
	}

	data, err := os.ReadFile(restored)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != payload {
		t.Errorf("restored = %q, want %q", data, payload)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "backup.tar.gz")
	if err := os.WriteFile(plain, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	creds := &Creds{Key: pad("secretkey"), IV: pad("initvector")}
	encrypted, err := encryptFile(plain, creds)
	if err != nil {
		t.Fatal(err)
	}

	wrong := &Creds{Key: pad("otherkey"), IV: pad("initvector")}
	restored := filepath.Join(dir, "restored")
	if err := DecryptFile(encrypted, restored, wrong); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(restored)
	if string(data) == "payload" {
		t.Error("wrong key must not restore the plaintext")
	}
}
