// Package archive packs a directory into a deterministic zip file and
// extracts it again. Entries are written in sorted order with a fixed
// modification time so the same tree always yields the same bytes.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

const (
	MaxEntryBytes = int64(2 * 1024 * 1024 * 1024)
	maxEntries    = 1 << 20
)

var (
	ErrNotArchive  = errors.New("not a zip archive")
	ErrUnsafeEntry = errors.New("unsafe archive entry")
)

var epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

type Entry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// SkipFunc reports whether the entry at name (slash separated) is left out.
type SkipFunc func(name string) bool

// WriteDir packs the regular files below dir into a new zip file at dst.
func WriteDir(dir, dst string) error {
	// #nosec G304 -- destination is chosen by the caller.
	file, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if err := Pack(dir, file); err != nil {
		_ = file.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// Pack writes the regular files below dir to w as a zip stream.
func Pack(dir string, w io.Writer) error {
	var names []string
	err := filepath.WalkDir(dir, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, current)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk archive source: %w", err)
	}
	sort.Strings(names)

	writer := zip.NewWriter(w)
	for _, name := range names {
		if err := addFile(writer, filepath.Join(dir, filepath.FromSlash(name)), name); err != nil {
			_ = writer.Close()
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addFile(writer *zip.Writer, source, name string) error {
	header := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: epoch}
	header.SetMode(0o644)
	target, err := writer.CreateHeader(header)
	if err != nil {
		return err
	}
	// #nosec G304 -- source is below the directory being packed.
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()
	_, err = io.Copy(target, file)
	return err
}

// IsArchive reports whether path is a readable zip file.
func IsArchive(path string) bool {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	_ = reader.Close()
	return true
}

// List returns the file entries of the archive with their digests.
func List(src string) ([]Entry, error) {
	reader, err := openArchive(src)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()
	entries := make([]Entry, 0, len(reader.File))
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		digest, size, err := hashEntry(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file.Name, err)
		}
		entries = append(entries, Entry{Path: file.Name, Size: size, SHA256: digest})
	}
	return entries, nil
}

// Contains reports whether the archive has a file entry named name.
func Contains(src, name string) (bool, error) {
	reader, err := openArchive(src)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = reader.Close()
	}()
	for _, file := range reader.File {
		if file.Name == name && !file.FileInfo().IsDir() {
			return true, nil
		}
	}
	return false, nil
}

// Extract unpacks src below dst, which is created if needed. Entries that
// would land outside dst are rejected.
func Extract(src, dst string, skip SkipFunc) error {
	reader, err := openArchive(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()
	if len(reader.File) > maxEntries {
		return fmt.Errorf("archive has too many entries")
	}
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return fmt.Errorf("create extract directory: %w", err)
	}
	for _, file := range reader.File {
		name, err := cleanName(file.Name)
		if err != nil {
			return err
		}
		if name == "" || (skip != nil && skip(name)) {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(name))
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
			continue
		}
		if !file.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", ErrUnsafeEntry, name)
		}
		if err := extractFile(file, target); err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
	}
	return nil
}

func extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	reader, err := file.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()
	// #nosec G304 -- target is checked to stay below the extract directory.
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(reader, MaxEntryBytes+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if n > MaxEntryBytes {
		return fmt.Errorf("entry exceeds %d bytes", MaxEntryBytes)
	}
	return nil
}

func cleanName(name string) (string, error) {
	if strings.Contains(name, "\\") || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, name)
	}
	if !filepath.IsLocal(filepath.FromSlash(cleaned)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, name)
	}
	return cleaned, nil
}

func openArchive(src string) (*zip.ReadCloser, error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotArchive, filepath.Base(src), err)
	}
	return reader, nil
}

func hashEntry(file *zip.File) (string, int64, error) {
	reader, err := file.Open()
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = reader.Close()
	}()
	hasher := sha256.New()
	n, err := io.Copy(hasher, io.LimitReader(reader, MaxEntryBytes+1))
	if err != nil {
		return "", 0, err
	}
	if n > MaxEntryBytes {
		return "", 0, fmt.Errorf("zip entry too large")
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}
