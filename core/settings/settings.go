// Package settings holds the model configuration of one review. A snapshot
// is written to reviews/<id>/settings_metadata.json when the review starts.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"

	"github.com/davidahmann/sift/core/fsx"
	"github.com/davidahmann/sift/core/models"
)

const (
	FileName = "settings_metadata.json"

	DefaultNInstances     = 1
	DefaultNPriorIncluded = 1
	DefaultNPriorExcluded = 1

	// StopIfMin stops once every relevant record has been found.
	StopIfMin = 0
	// StopIfNever reviews the whole dataset.
	StopIfNever = -1
)

type ReviewSettings struct {
	Classifier        string         `json:"classifier" yaml:"classifier" toml:"classifier"`
	QueryStrategy     string         `json:"query_strategy" yaml:"query_strategy" toml:"query_strategy"`
	BalanceStrategy   string         `json:"balance_strategy" yaml:"balance_strategy" toml:"balance_strategy"`
	FeatureExtraction string         `json:"feature_extraction" yaml:"feature_extraction" toml:"feature_extraction"`
	StopIf            int            `json:"stop_if" yaml:"stop_if" toml:"stop_if"`
	NPriorIncluded    int            `json:"n_prior_included" yaml:"n_prior_included" toml:"n_prior_included"`
	NPriorExcluded    int            `json:"n_prior_excluded" yaml:"n_prior_excluded" toml:"n_prior_excluded"`
	NInstances        int            `json:"n_instances" yaml:"n_instances" toml:"n_instances"`
	ClassifierParam   map[string]any `json:"classifier_param,omitempty" yaml:"classifier_param,omitempty" toml:"classifier_param,omitempty"`
	QueryParam        map[string]any `json:"query_param,omitempty" yaml:"query_param,omitempty" toml:"query_param,omitempty"`
	BalanceParam      map[string]any `json:"balance_param,omitempty" yaml:"balance_param,omitempty" toml:"balance_param,omitempty"`
	FeatureParam      map[string]any `json:"feature_param,omitempty" yaml:"feature_param,omitempty" toml:"feature_param,omitempty"`
}

func Default() ReviewSettings {
	return ReviewSettings{
		Classifier:        models.DefaultClassifier,
		QueryStrategy:     models.DefaultQueryStrategy,
		BalanceStrategy:   models.DefaultBalanceStrategy,
		FeatureExtraction: models.DefaultFeatureExtraction,
		StopIf:            StopIfMin,
		NPriorIncluded:    DefaultNPriorIncluded,
		NPriorExcluded:    DefaultNPriorExcluded,
		NInstances:        DefaultNInstances,
	}
}

// MergeFile overlays the keys present in path onto settings. The format
// follows the extension: .toml, .yaml/.yml, anything else is JSON. Unknown
// keys are rejected.
func (settings ReviewSettings) MergeFile(path string) (ReviewSettings, error) {
	// #nosec G304 -- settings path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return ReviewSettings{}, fmt.Errorf("read review settings: %w", err)
	}
	merged := settings
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(content), &merged)
		if err != nil {
			return ReviewSettings{}, fmt.Errorf("parse review settings: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return ReviewSettings{}, fmt.Errorf("parse review settings: unknown key %q", undecoded[0].String())
		}
	case ".yaml", ".yml":
		if err := yaml.UnmarshalWithOptions(content, &merged, yaml.Strict()); err != nil {
			return ReviewSettings{}, fmt.Errorf("parse review settings: %w", err)
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(content))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&merged); err != nil {
			return ReviewSettings{}, fmt.Errorf("parse review settings: %w", err)
		}
	}
	merged.normalize()
	return merged, nil
}

func (settings ReviewSettings) Validate() error {
	checks := []struct {
		kind models.Kind
		name string
	}{
		{models.KindClassifier, settings.Classifier},
		{models.KindQuery, settings.QueryStrategy},
		{models.KindBalance, settings.BalanceStrategy},
		{models.KindFeatureExtraction, settings.FeatureExtraction},
	}
	for _, check := range checks {
		if err := models.Validate(check.kind, check.name); err != nil {
			return err
		}
	}
	if settings.NInstances < 1 {
		return fmt.Errorf("n_instances must be at least 1")
	}
	if settings.NPriorIncluded < 0 || settings.NPriorExcluded < 0 {
		return fmt.Errorf("n_prior_included and n_prior_excluded must not be negative")
	}
	if settings.StopIf < StopIfNever {
		return fmt.Errorf("stop_if must be -1, 0 or a positive number of queries")
	}
	return nil
}

// WriteFile stores the settings snapshot as JSON at path.
func (settings ReviewSettings) WriteFile(path string) error {
	if err := fsx.WriteJSONAtomic(path, settings, 0o600); err != nil {
		return fmt.Errorf("write review settings: %w", err)
	}
	return nil
}

// ReadFile loads a snapshot written by WriteFile.
func ReadFile(path string) (ReviewSettings, error) {
	// #nosec G304 -- path is inside a project tree.
	content, err := os.ReadFile(path)
	if err != nil {
		return ReviewSettings{}, fmt.Errorf("read review settings: %w", err)
	}
	var settings ReviewSettings
	if err := json.Unmarshal(content, &settings); err != nil {
		return ReviewSettings{}, fmt.Errorf("parse review settings: %w", err)
	}
	return settings, nil
}

func (settings *ReviewSettings) normalize() {
	settings.Classifier = strings.TrimSpace(settings.Classifier)
	settings.QueryStrategy = strings.TrimSpace(settings.QueryStrategy)
	settings.BalanceStrategy = strings.TrimSpace(settings.BalanceStrategy)
	settings.FeatureExtraction = strings.TrimSpace(settings.FeatureExtraction)
}
