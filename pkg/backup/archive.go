package backup

import (
	"archive/tar"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Format selects the backup archive compression.
type Format string

const (
	FormatGzip Format = "gzip"
	FormatXz   Format = "xz"
)

// Ext returns the archive suffix for the format.
func (f Format) Ext() string {
	if f == FormatXz {
		return ".tar.xz"
	}
	return ".tar.gz"
}

func (f Format) valid() bool {
	return f == FormatGzip || f == FormatXz
}

// compressDir archives dir into a sibling file named after the directory
// with the format's suffix, and returns the archive path.
func compressDir(dir string, format Format) (string, error) {
	if !format.valid() {
		return "", fmt.Errorf("unknown backup format %q", format)
	}

	archivePath := dir + format.Ext()
	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive %s: %w", archivePath, err)
	}
	defer f.Close()

	var compressor io.WriteCloser
	switch format {
	case FormatXz:
		compressor, err = xz.NewWriter(f)
		if err != nil {
			return "", fmt.Errorf("create xz writer: %w", err)
		}
	default:
		compressor = pgzip.NewWriter(f)
	}

	tw := tar.NewWriter(compressor)

	base := filepath.Base(dir)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("tar header for %s: %w", path, err)
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr.Name = filepath.Join(base, rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header for %s: %w", path, err)
		}

		if info.IsDir() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer src.Close()

		if _, err := io.Copy(tw, src); err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}

		return nil
	})
	if err != nil {
		os.Remove(archivePath)
		return "", err
	}

	if err := tw.Close(); err != nil {
		os.Remove(archivePath)
		return "", fmt.Errorf("close tar writer: %w", err)
	}
	if err := compressor.Close(); err != nil {
		os.Remove(archivePath)
		return "", fmt.Errorf("close compressor: %w", err)
	}

	return archivePath, nil
}

// encryptFile encrypts src with AES-128-CTR into src + ".aes" and returns
// the new path. The plaintext file is left in place for the caller to
// remove once the result is durable.
func encryptFile(src string, creds *Creds) (string, error) {
	block, err := aes.NewCipher(creds.Key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	dst := src + ".aes"
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	stream := cipher.StreamWriter{
		S: cipher.NewCTR(block, creds.IV),
		W: out,
	}

	if _, err := io.Copy(stream, in); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("encrypt %s: %w", src, err)
	}

	return dst, nil
}

// DecryptFile is the inverse of encryptFile. Restoring a backup needs it,
// so it is part of the package surface.
func DecryptFile(src, dst string, creds *Creds) error {
	block, err := aes.NewCipher(creds.Key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	stream := cipher.StreamReader{
		S: cipher.NewCTR(block, creds.IV),
		R: in,
	}

	if _, err := io.Copy(out, stream); err != nil {
		os.Remove(dst)
		return fmt.Errorf("decrypt %s: %w", src, err)
	}

	return nil
}
