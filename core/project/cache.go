package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/codec"
	"github.com/davidahmann/sift/core/dataset"
)

const CacheFileName = "data.cache"

type CacheStatus int

const (
	CacheMiss CacheStatus = iota
	CacheHit
	CacheInvalid
)

func (status CacheStatus) String() string {
	switch status {
	case CacheHit:
		return "hit"
	case CacheInvalid:
		return "invalid"
	default:
		return "miss"
	}
}

// CacheResult is the outcome of a cache lookup. Dataset is set only on a
// hit; Reason explains an invalid entry.
type CacheResult struct {
	Status  CacheStatus
	Dataset *dataset.Dataset
	Reason  string
}

type cacheEntry struct {
	Version string           `cbor:"1,keyasint"`
	Dataset *dataset.Dataset `cbor:"2,keyasint"`
	Source  cacheSource      `cbor:"3,keyasint"`
}

// cacheSource identifies the dataset file a cache entry was parsed from.
type cacheSource struct {
	Filename string `cbor:"1,keyasint"`
	Size     int64  `cbor:"2,keyasint"`
	ModTime  int64  `cbor:"3,keyasint"`
}

func (project *Project) datasetSource(filename string) (cacheSource, error) {
	info, err := os.Stat(filepath.Join(project.path, DataDir, filename))
	if err != nil {
		return cacheSource{}, fmt.Errorf("%s: %w", filename, ErrDatasetNotFound)
	}
	return cacheSource{Filename: filename, Size: info.Size(), ModTime: info.ModTime().UnixNano()}, nil
}

type ReadDataOptions struct {
	UseCache         bool
	SaveCache        bool
	SkipVersionCheck bool
}

func DefaultReadDataOptions() ReadDataOptions {
	return ReadDataOptions{UseCache: true, SaveCache: true}
}

func (project *Project) cachePath() string {
	return filepath.Join(project.path, TmpDir, CacheFileName)
}

// LookupCache reads the dataset cache without touching it. An entry parsed
// from another file than the registered dataset, or from an older copy of
// it, is invalid.
func (project *Project) LookupCache(skipVersionCheck bool) CacheResult {
	var entry cacheEntry
	if err := codec.ReadFile(project.cachePath(), &entry); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CacheResult{Status: CacheMiss}
		}
		return CacheResult{Status: CacheInvalid, Reason: err.Error()}
	}
	if entry.Dataset == nil {
		return CacheResult{Status: CacheInvalid, Reason: "cache entry has no dataset"}
	}
	if err := entry.Dataset.Validate(); err != nil {
		return CacheResult{Status: CacheInvalid, Reason: err.Error()}
	}
	if !skipVersionCheck && entry.Version != project.options.Version {
		return CacheResult{
			Status: CacheInvalid,
			Reason: fmt.Sprintf("cache written by version %q, running %q", entry.Version, project.options.Version),
		}
	}
	document, err := project.Document()
	if err != nil {
		return CacheResult{Status: CacheInvalid, Reason: err.Error()}
	}
	if document.DatasetPath == "" {
		return CacheResult{Status: CacheInvalid, Reason: "no dataset registered"}
	}
	source, err := project.datasetSource(document.DatasetPath)
	if err != nil {
		return CacheResult{Status: CacheInvalid, Reason: err.Error()}
	}
	if entry.Source.Filename != source.Filename {
		return CacheResult{
			Status: CacheInvalid,
			Reason: fmt.Sprintf("cache parsed from %q, dataset is %q", entry.Source.Filename, source.Filename),
		}
	}
	if entry.Source != source {
		return CacheResult{Status: CacheInvalid, Reason: fmt.Sprintf("dataset %q changed since it was cached", source.Filename)}
	}
	return CacheResult{Status: CacheHit, Dataset: entry.Dataset}
}

// ReadData returns the parsed project dataset, from the cache when allowed
// and valid. Invalid cache entries are removed. Cache problems are logged
// and never returned.
func (project *Project) ReadData(options ReadDataOptions) (*dataset.Dataset, error) {
	if options.UseCache {
		result := project.LookupCache(options.SkipVersionCheck)
		switch result.Status {
		case CacheHit:
			return result.Dataset, nil
		case CacheInvalid:
			project.logger.Warn("discard dataset cache", zap.String("reason", result.Reason))
			if err := os.Remove(project.cachePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
				project.logger.Warn("remove dataset cache", zap.Error(err))
			}
		}
	}

	document, err := project.Document()
	if err != nil {
		return nil, err
	}
	if document.DatasetPath == "" {
		return nil, fmt.Errorf("no dataset registered: %w", ErrDatasetNotFound)
	}
	source, err := project.datasetSource(document.DatasetPath)
	if err != nil {
		return nil, err
	}
	data, err := project.loadDataset(document.DatasetPath)
	if err != nil {
		return nil, err
	}
	if options.SaveCache {
		project.writeCache(data, source)
	}
	return data, nil
}

func (project *Project) writeCache(data *dataset.Dataset, source cacheSource) {
	if err := os.MkdirAll(filepath.Join(project.path, TmpDir), 0o750); err != nil {
		project.logger.Warn("create cache directory", zap.Error(err))
		return
	}
	entry := cacheEntry{Version: project.options.Version, Dataset: data, Source: source}
	if err := codec.WriteFile(project.cachePath(), entry); err != nil {
		project.logger.Warn("write dataset cache", zap.Error(err))
	}
}

// CleanTmpFiles removes the tmp directory. Failures are logged.
func (project *Project) CleanTmpFiles() {
	if err := os.RemoveAll(filepath.Join(project.path, TmpDir)); err != nil {
		project.logger.Warn("remove tmp files", zap.Error(err))
	}
}
