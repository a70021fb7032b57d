// Package project manages screening projects on disk. A project is a
// directory holding a JSON control document (project.json), the imported
// dataset, per-review labeling state, feature matrices and a disposable
// parse cache:
//
//	<project>/
//	  project.json        control document, guarded by project.json.lock
//	  error.json          last review failure, while a review is in error
//	  data/               imported dataset
//	  feature_matrices/   <method>_feature_matrix.csr
//	  reviews/<id>/       settings_metadata.json and results.sql
//	  tmp/data.cache      dataset parse cache
//
// All access goes through a *Project. The control document is changed with
// optimistic concurrency: Load returns a snapshot tagged with the digest of
// the document on disk and Save only writes when that digest still matches.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/dataset"
	"github.com/davidahmann/sift/core/lock"
	"github.com/davidahmann/sift/core/logging"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
)

const (
	ConfigFileName     = "project.json"
	LockFileName       = ConfigFileName + ".lock"
	ErrorFileName      = "error.json"
	DataDir            = "data"
	FeatureMatricesDir = "feature_matrices"
	ReviewsDir         = "reviews"
	TmpDir             = "tmp"
	ArchiveExtension   = ".asreview"

	DefaultVersion        = "0.0.0-dev"
	DefaultUpdateAttempts = 5
)

type (
	Document      = schemaproject.Document
	Review        = schemaproject.Review
	FeatureMatrix = schemaproject.FeatureMatrix
	ErrorRecord   = schemaproject.ErrorRecord
	Mode          = schemaproject.Mode
	ReviewStatus  = schemaproject.ReviewStatus
)

// Options configures a project handle. The zero value is usable.
type Options struct {
	Logger *zap.Logger
	// Loader parses dataset files; defaults to dataset.CSVLoader.
	Loader dataset.Loader
	// Version is the running software version, stamped into new documents
	// and cache entries.
	Version        string
	Lock           lock.Options
	UpdateAttempts int
	Now            func() time.Time
	NewID          func() string
}

func (options Options) normalized() Options {
	options.Logger = logging.OrNop(options.Logger)
	if options.Loader == nil {
		options.Loader = dataset.CSVLoader{}
	}
	if strings.TrimSpace(options.Version) == "" {
		options.Version = DefaultVersion
	}
	if options.UpdateAttempts <= 0 {
		options.UpdateAttempts = DefaultUpdateAttempts
	}
	if options.Now == nil {
		options.Now = func() time.Time { return time.Now().UTC() }
	}
	if options.NewID == nil {
		options.NewID = NewID
	}
	return options
}

// NewID returns a random 32 character hex identifier.
func NewID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

type Project struct {
	path    string
	options Options
	logger  *zap.Logger
}

type CreateOptions struct {
	// ID defaults to the base name of the project path.
	ID   string
	Mode Mode
	// Name defaults to ID.
	Name        string
	Description string
	Authors     string
	Tags        []string
}

// Create makes a new project at path. Either the whole tree and a valid
// control document are written, or nothing is left behind.
func Create(path string, create CreateOptions, options Options) (*Project, error) {
	options = options.normalized()
	path = filepath.Clean(path)
	if _, err := os.Stat(filepath.Join(path, ConfigFileName)); err == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrProjectExists)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrProjectExists)
	}
	if !create.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, create.Mode)
	}

	now := options.Now()
	id := strings.TrimSpace(create.ID)
	if id == "" {
		id = filepath.Base(path)
	}
	name := strings.TrimSpace(create.Name)
	if name == "" {
		name = id
	}
	document := Document{
		Version:         options.Version,
		ID:              id,
		Mode:            create.Mode,
		Name:            name,
		Description:     create.Description,
		Authors:         create.Authors,
		Tags:            append([]string{}, create.Tags...),
		CreatedAtUnix:   now.Unix(),
		DatetimeCreated: now.Format(time.RFC3339),
		Reviews:         []Review{},
		FeatureMatrices: []FeatureMatrix{},
	}

	project := &Project{path: path, options: options, logger: options.Logger.With(zap.String("project_id", id))}
	if err := project.initialize(document); err != nil {
		if removeErr := os.RemoveAll(path); removeErr != nil {
			project.logger.Error("remove partially created project", zap.String("path", path), zap.Error(removeErr))
		}
		return nil, err
	}
	project.logger.Info("project created", zap.String("path", path), zap.String("mode", string(create.Mode)))
	return project, nil
}

func (project *Project) initialize(document Document) error {
	for _, dir := range []string{DataDir, FeatureMatricesDir, ReviewsDir} {
		if err := os.MkdirAll(filepath.Join(project.path, dir), 0o750); err != nil {
			return fmt.Errorf("create project directory: %w", err)
		}
	}
	if err := validateDocument(document); err != nil {
		return err
	}
	return project.withLock(func() error {
		return writeDocument(project.configPath(), document)
	})
}

// Open returns a handle for the existing project at path.
func Open(path string, options Options) (*Project, error) {
	options = options.normalized()
	path = filepath.Clean(path)
	info, err := os.Stat(filepath.Join(path, ConfigFileName))
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, ErrProjectNotFound)
	}
	project := &Project{path: path, options: options, logger: options.Logger}
	snapshot, err := project.Load()
	if err != nil {
		return nil, err
	}
	project.logger = options.Logger.With(zap.String("project_id", snapshot.Document.ID))
	return project, nil
}

// OpenByID opens <root>/<id>.
func OpenByID(root, id string, options Options) (*Project, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProjectNotFound, err)
	}
	return Open(filepath.Join(root, id), options)
}

// Exists reports whether path holds a control document.
func Exists(path string) bool {
	info, err := os.Stat(filepath.Join(path, ConfigFileName))
	return err == nil && !info.IsDir()
}

// List returns the control documents of every project directly below root,
// ordered by id. Hidden directories are ignored; unreadable projects are
// logged and skipped.
func List(root string, options Options) ([]Document, error) {
	options = options.normalized()
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Document{}, nil
		}
		return nil, fmt.Errorf("list projects: %w", err)
	}
	documents := []Document{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !Exists(filepath.Join(root, entry.Name())) {
			continue
		}
		project := &Project{path: filepath.Join(root, entry.Name()), options: options, logger: options.Logger}
		snapshot, err := project.Load()
		if err != nil {
			options.Logger.Warn("skip unreadable project", zap.String("path", project.path), zap.Error(err))
			continue
		}
		documents = append(documents, snapshot.Document)
	}
	sort.Slice(documents, func(i, j int) bool { return documents[i].ID < documents[j].ID })
	return documents, nil
}

func (project *Project) Path() string {
	return project.path
}

func (project *Project) configPath() string {
	return filepath.Join(project.path, ConfigFileName)
}

func (project *Project) lockPath() string {
	return filepath.Join(project.path, LockFileName)
}

func (project *Project) withLock(fn func() error) error {
	return lock.With(project.lockPath(), project.options.Lock, fn)
}

// checkID accepts ids usable as a single directory name.
func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("project id is empty")
	}
	if id != filepath.Base(id) || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("project id %q is not a plain directory name", id)
	}
	return nil
}
