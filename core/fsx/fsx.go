package fsx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
)

// WriteFileAtomic writes content to a sibling temp file and renames it over
// path, so readers observe either the old or the new content.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	tempFile, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(content); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS != "windows" {
			return fmt.Errorf("rename temp file: %w", err)
		}
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("remove destination before rename: %w", removeErr)
		}
		if renameErr := os.Rename(tempPath, path); renameErr != nil {
			return fmt.Errorf("rename temp file after remove: %w", renameErr)
		}
	}
	cleanup = false

	syncDirectory(parent)
	return nil
}

// WriteJSONAtomic encodes value as indented JSON followed by a newline and
// writes it with WriteFileAtomic.
func WriteJSONAtomic(path string, value any, mode os.FileMode) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	payload = append(payload, '\n')
	return WriteFileAtomic(path, payload, mode)
}

// SkipFunc reports whether the entry at rel (slash separated, relative to the
// copy root) is left out of a tree copy. Skipping a directory skips its subtree.
type SkipFunc func(rel string, entry fs.DirEntry) bool

// CopyTree copies the directory src to dst, which must not exist yet.
// Symlinks are not followed and are left out.
func CopyTree(src, dst string, skip SkipFunc) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat copy source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("copy source is not a directory: %s", src)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("copy destination already exists: %s", dst)
	}
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if rel == "." {
			return os.MkdirAll(target, 0o750)
		}
		slashRel := filepath.ToSlash(rel)
		if skip != nil && skip(slashRel, entry) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		switch {
		case entry.IsDir():
			return os.MkdirAll(target, 0o750)
		case entry.Type().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

// MoveDir renames src to dst, falling back to copy and remove when the two
// live on different filesystems.
func MoveDir(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("move destination already exists: %s", dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create move destination parent: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename directory: %w", err)
	}
	if err := CopyTree(src, dst, nil); err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("copy directory across devices: %w", err)
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("remove moved directory: %w", err)
	}
	return nil
}

// MoveFile renames src to dst with the same cross-device fallback as MoveDir.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename file: %w", err)
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("copy file across devices: %w", err)
	}
	return os.Remove(src)
}

// CopyFile copies a single regular file, creating parent directories and
// replacing an existing dst. Copying a file onto itself is a no-op.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create copy destination parent: %w", err)
	}
	if srcInfo, err := os.Stat(src); err == nil {
		if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
			return nil
		}
	}
	return copyFileMode(src, dst, os.O_TRUNC)
}

// copyFile refuses to replace an existing dst.
func copyFile(src, dst string) error {
	return copyFileMode(src, dst, os.O_EXCL)
}

func copyFileMode(src, dst string, flag int) error {
	// #nosec G304 -- source path comes from a walk rooted at a caller-provided directory.
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open copy source: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat copy source: %w", err)
	}
	// #nosec G304 -- destination path mirrors the validated source tree.
	out, err := os.OpenFile(dst, os.O_CREATE|flag|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create copy destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy file content: %w", err)
	}
	return out.Close()
}

func syncDirectory(path string) {
	// #nosec G304 -- directory path is derived from explicit caller-provided destination path.
	if dirHandle, err := os.Open(path); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
}
