// Package bundle appends dataset files to an executable as a ZIP archive
// and reads them back.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// Magic identifies bundled binaries
	Magic = "SHOPSYNC"
	// FooterSize: 8 bytes offset + 8 bytes size + 8 bytes magic
	FooterSize = 24
)

// ErrNotBundled is returned when a binary carries no archive.
var ErrNotBundled = errors.New("bundle: binary is not bundled")

// editor backups and lock files
var ignoreFiles = regexp.MustCompile(`^(|.*/)((#|\.#)[^/]*|[^/]*~)$`)

type footer struct {
	Offset int64
	Size   int64
	Magic  [8]byte
}

// Create writes outputPath as sourceBinary followed by a ZIP of dataDir.
// An archive already attached to sourceBinary is replaced.
func Create(sourceBinary, dataDir, outputPath string) error {
	src, err := os.Open(sourceBinary)
	if err != nil {
		return fmt.Errorf("failed to open source binary: %w", err)
	}
	defer src.Close()

	size, _, err := readFooter(src)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyN(out, src, size); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := addDir(zw, dataDir); err != nil {
		zw.Close()
		return fmt.Errorf("failed to add files: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	f := footer{Offset: size, Size: int64(buf.Len())}
	copy(f.Magic[:], Magic)
	return binary.Write(out, binary.LittleEndian, f)
}

// addDir adds the regular files under dir, skipping editor leftovers.
func addDir(zw *zip.Writer, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() || !d.Type().IsRegular() || ignoreFiles.MatchString(rel) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
}

// readFooter returns the size of the executable part of file and whether
// an archive follows it.
func readFooter(file *os.File) (int64, bool, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("failed to stat binary: %w", err)
	}
	size := info.Size()
	if size < FooterSize {
		return size, false, nil
	}
	if _, err := file.Seek(size-FooterSize, io.SeekStart); err != nil {
		return 0, false, fmt.Errorf("failed to seek to footer: %w", err)
	}
	var f footer
	if err := binary.Read(file, binary.LittleEndian, &f); err != nil {
		return size, false, nil
	}
	if string(f.Magic[:]) != Magic || f.Offset < 0 || f.Offset+f.Size+FooterSize != size {
		return size, false, nil
	}
	return f.Offset, true, nil
}

// Open returns the archive attached to the binary at path.
func Open(path string) (*zip.Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	offset, ok, err := readFooter(file)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotBundled
	}
	info, _ := file.Stat()
	data := make([]byte, info.Size()-FooterSize-offset)
	if _, err := file.ReadAt(data, offset); err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

// Self returns the archive attached to the running executable.
func Self() (*zip.Reader, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return Open(exe)
}

// List returns the names of the bundled files.
func List(r *zip.Reader) []string {
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

// Extract writes the bundled files under targetDir.
func Extract(r *zip.Reader, targetDir string) error {
	absTarget, err := filepath.Abs(targetDir)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		dest := filepath.Join(absTarget, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(dest, absTarget+string(filepath.Separator)) {
			return fmt.Errorf("bundle: %s escapes target directory", f.Name)
		}
		if err := extractFile(f, dest); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}
