package project

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/archive"
	"github.com/davidahmann/sift/core/fsx"
)

// Export writes the project, without the tmp directory and lock files, to
// dest, which must end in .asreview. The archive is built next to dest and
// moved into place last, so dest never holds a partial archive.
func (project *Project) Export(dest string) error {
	if filepath.Ext(dest) != ArchiveExtension {
		return fmt.Errorf("%w: %s does not end in %s", ErrInvalidExportPath, dest, ArchiveExtension)
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolve export destination: %w", err)
	}
	absProject, err := filepath.Abs(project.path)
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}
	if absDest == absProject || strings.HasPrefix(absDest, absProject+string(filepath.Separator)) {
		return fmt.Errorf("%w: destination is inside the project", ErrInvalidExportPath)
	}

	scratch, err := os.MkdirTemp(filepath.Dir(absDest), ".sift-export-*")
	if err != nil {
		return fmt.Errorf("create export scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			project.logger.Warn("remove export scratch directory", zap.String("path", scratch), zap.Error(err))
		}
	}()

	tree := filepath.Join(scratch, "project")
	err = project.withLock(func() error {
		return fsx.CopyTree(project.path, tree, exportSkip)
	})
	if err != nil {
		return fmt.Errorf("copy project for export: %w", err)
	}
	bundle := filepath.Join(scratch, "project.zip")
	if err := archive.WriteDir(tree, bundle); err != nil {
		return err
	}
	if err := fsx.MoveFile(bundle, absDest); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	project.logger.Info("project exported", zap.String("dest", absDest))
	return nil
}

// exportSkip leaves out the tmp directory and lock files.
func exportSkip(rel string, entry fs.DirEntry) bool {
	if rel == TmpDir && entry.IsDir() {
		return true
	}
	return !entry.IsDir() && strings.HasSuffix(entry.Name(), ".lock")
}

type ImportOptions struct {
	// ReassignID gives the imported project a fresh random id.
	ReassignID bool
}

// Import unpacks bundle into <projectsRoot>/<id> and opens it. The archive
// must hold project.json at its top level; cache files are not extracted.
// The unpacked tree is moved, not copied, into place and the import fails
// with ErrProjectExists when the target directory is already there.
func Import(bundle, projectsRoot string, importOptions ImportOptions, options Options) (*Project, error) {
	options = options.normalized()
	if err := checkBundle(bundle); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(projectsRoot, 0o750); err != nil {
		return nil, fmt.Errorf("create projects root: %w", err)
	}
	scratch, err := os.MkdirTemp(projectsRoot, ".sift-import-*")
	if err != nil {
		return nil, fmt.Errorf("create import scratch directory: %w", err)
	}
	placed := false
	defer func() {
		if !placed {
			if err := os.RemoveAll(scratch); err != nil {
				options.Logger.Warn("remove import scratch directory", zap.String("path", scratch), zap.Error(err))
			}
		}
	}()

	if err := archive.Extract(bundle, scratch, importSkip); err != nil {
		return nil, err
	}
	snapshot, err := readDocument(filepath.Join(scratch, ConfigFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	document := snapshot.Document
	if importOptions.ReassignID {
		document.ID = options.NewID()
		if err := validateDocument(document); err != nil {
			return nil, err
		}
		if err := writeDocument(filepath.Join(scratch, ConfigFileName), document); err != nil {
			return nil, err
		}
	}
	if err := checkID(document.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	target := filepath.Join(projectsRoot, document.ID)
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%s: %w", target, ErrProjectExists)
	}
	if err := fsx.MoveDir(scratch, target); err != nil {
		return nil, fmt.Errorf("move imported project into place: %w", err)
	}
	placed = true
	options.Logger.Info("project imported", zap.String("project_id", document.ID), zap.String("path", target))
	return Open(target, options)
}

// importSkip leaves out cache and lock files.
func importSkip(name string) bool {
	if name == TmpDir || strings.HasPrefix(name, TmpDir+"/") {
		return true
	}
	base := path.Base(name)
	return base == CacheFileName || strings.HasSuffix(base, ".lock")
}

// BundleEntries lists the files of a project bundle with their sizes and
// sha256 digests, in archive order.
func BundleEntries(bundle string) ([]archive.Entry, error) {
	if err := checkBundle(bundle); err != nil {
		return nil, err
	}
	entries, err := archive.List(bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return entries, nil
}

func checkBundle(bundle string) error {
	if _, err := os.Stat(bundle); err != nil {
		return fmt.Errorf("%s: %w", bundle, ErrInvalidArchive)
	}
	if !archive.IsArchive(bundle) {
		return fmt.Errorf("%w: %s is not a zip archive", ErrInvalidArchive, bundle)
	}
	ok, err := archive.Contains(bundle, ConfigFileName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s has no %s", ErrInvalidArchive, bundle, ConfigFileName)
	}
	return nil
}
