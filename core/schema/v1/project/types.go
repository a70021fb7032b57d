package project

import (
	"encoding/json"
	"fmt"
	"time"
)

type Mode string

const (
	ModeOracle   Mode = "oracle"
	ModeExplore  Mode = "explore"
	ModeSimulate Mode = "simulate"
)

func (mode Mode) Valid() bool {
	switch mode {
	case ModeOracle, ModeExplore, ModeSimulate:
		return true
	default:
		return false
	}
}

type ReviewStatus string

const (
	StatusSetup    ReviewStatus = "setup"
	StatusRunning  ReviewStatus = "running"
	StatusReview   ReviewStatus = "review"
	StatusFinished ReviewStatus = "finished"
	StatusError    ReviewStatus = "error"
)

func (status ReviewStatus) Valid() bool {
	switch status {
	case StatusSetup, StatusRunning, StatusReview, StatusFinished, StatusError:
		return true
	default:
		return false
	}
}

// Document is the project control document stored as project.json.
type Document struct {
	Version         string          `json:"version"`
	ID              string          `json:"id"`
	Mode            Mode            `json:"mode"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Authors         string          `json:"authors"`
	Tags            []string        `json:"tags"`
	CreatedAtUnix   int64           `json:"created_at_unix"`
	DatetimeCreated string          `json:"datetimeCreated"`
	DatasetPath     string          `json:"dataset_path,omitempty"`
	Reviews         []Review        `json:"reviews"`
	FeatureMatrices []FeatureMatrix `json:"feature_matrices"`

	// Extra holds top-level keys this version does not model. They are
	// written back unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

type Review struct {
	ID        string       `json:"id"`
	StartTime time.Time    `json:"start_time"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	Status    ReviewStatus `json:"status"`
}

type FeatureMatrix struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// ErrorRecord is the side file describing the last failed review.
type ErrorRecord struct {
	Message  string    `json:"message"`
	Type     string    `json:"type"`
	Datetime time.Time `json:"datetime"`
}

type documentFields Document

var knownFields = map[string]struct{}{
	"version":          {},
	"id":               {},
	"mode":             {},
	"name":             {},
	"description":      {},
	"authors":          {},
	"tags":             {},
	"created_at_unix":  {},
	"datetimeCreated":  {},
	"dataset_path":     {},
	"reviews":          {},
	"feature_matrices": {},
}

// IsKnownField reports whether key maps to a typed Document field.
func IsKnownField(key string) bool {
	_, ok := knownFields[key]
	return ok
}

func (document Document) MarshalJSON() ([]byte, error) {
	fields := documentFields(document)
	if fields.Reviews == nil {
		fields.Reviews = []Review{}
	}
	if fields.FeatureMatrices == nil {
		fields.FeatureMatrices = []FeatureMatrix{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	if len(document.Extra) == 0 {
		return encoded, nil
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return nil, err
	}
	for key, value := range document.Extra {
		if IsKnownField(key) {
			continue
		}
		merged[key] = value
	}
	return json.Marshal(merged)
}

func (document *Document) UnmarshalJSON(data []byte) error {
	var fields documentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := map[string]json.RawMessage{}
	for key, value := range raw {
		if !IsKnownField(key) {
			extra[key] = value
		}
	}
	*document = Document(fields)
	if len(extra) > 0 {
		document.Extra = extra
	} else {
		document.Extra = nil
	}
	return nil
}

// ReviewIndex returns the position of the review with id, or of the first
// review when id is empty. It returns -1 when nothing matches.
func (document Document) ReviewIndex(id string) int {
	if id == "" {
		if len(document.Reviews) == 0 {
			return -1
		}
		return 0
	}
	for index, review := range document.Reviews {
		if review.ID == id {
			return index
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without aliasing a snapshot.
func (document Document) Clone() Document {
	cloned := document
	if document.Tags != nil {
		cloned.Tags = append([]string{}, document.Tags...)
	}
	if document.Reviews != nil {
		cloned.Reviews = make([]Review, len(document.Reviews))
		for index, review := range document.Reviews {
			if review.EndTime != nil {
				end := *review.EndTime
				review.EndTime = &end
			}
			cloned.Reviews[index] = review
		}
	}
	if document.FeatureMatrices != nil {
		cloned.FeatureMatrices = append([]FeatureMatrix{}, document.FeatureMatrices...)
	}
	if document.Extra != nil {
		cloned.Extra = make(map[string]json.RawMessage, len(document.Extra))
		for key, value := range document.Extra {
			cloned.Extra[key] = append(json.RawMessage{}, value...)
		}
	}
	return cloned
}

func ParseMode(value string) (Mode, error) {
	mode := Mode(value)
	if !mode.Valid() {
		return "", fmt.Errorf("project mode %q is not one of oracle, explore, simulate", value)
	}
	return mode, nil
}

func ParseReviewStatus(value string) (ReviewStatus, error) {
	status := ReviewStatus(value)
	if !status.Valid() {
		return "", fmt.Errorf("review status %q is not one of setup, running, review, finished, error", value)
	}
	return status, nil
}
