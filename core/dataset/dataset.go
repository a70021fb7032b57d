// Package dataset holds parsed screening datasets and the loaders that
// produce them.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

const (
	LabelExcluded = 0
	LabelIncluded = 1
	// LabelNA marks a record without a label.
	LabelNA = -1
)

var ErrRecordNotFound = errors.New("record not found")

// Dataset is column oriented; every non-nil slice has one entry per record.
// Labels is nil when the source has no label column.
type Dataset struct {
	RecordIDs []int64  `cbor:"1,keyasint" json:"record_ids"`
	Titles    []string `cbor:"2,keyasint" json:"titles"`
	Abstracts []string `cbor:"3,keyasint" json:"abstracts"`
	Authors   []string `cbor:"4,keyasint" json:"authors"`
	Labels    []int    `cbor:"5,keyasint,omitempty" json:"labels,omitempty"`
}

type Record struct {
	ID       int64
	Title    string
	Abstract string
	Authors  string
	Label    int
}

// Loader parses a dataset file.
type Loader interface {
	Load(path string) (*Dataset, error)
}

type LoaderFunc func(path string) (*Dataset, error)

func (fn LoaderFunc) Load(path string) (*Dataset, error) {
	return fn(path)
}

func (dataset *Dataset) Len() int {
	return len(dataset.RecordIDs)
}

// Validate checks that every column has one entry per record and that
// record ids are unique.
func (dataset *Dataset) Validate() error {
	if dataset == nil {
		return fmt.Errorf("dataset is nil")
	}
	n := dataset.Len()
	columns := map[string]int{
		"titles":    len(dataset.Titles),
		"abstracts": len(dataset.Abstracts),
		"authors":   len(dataset.Authors),
	}
	if dataset.Labels != nil {
		columns["labels"] = len(dataset.Labels)
	}
	for name, length := range columns {
		if length != n {
			return fmt.Errorf("dataset column %s has %d entries, want %d", name, length, n)
		}
	}
	seen := make(map[int64]struct{}, n)
	for _, id := range dataset.RecordIDs {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate record id %d", id)
		}
		seen[id] = struct{}{}
	}
	for index, label := range dataset.Labels {
		if label != LabelExcluded && label != LabelIncluded && label != LabelNA {
			return fmt.Errorf("record %d has invalid label %d", dataset.RecordIDs[index], label)
		}
	}
	return nil
}

// HasLabels reports whether at least one record carries a label.
func (dataset *Dataset) HasLabels() bool {
	for _, label := range dataset.Labels {
		if label != LabelNA {
			return true
		}
	}
	return false
}

// FullyLabeled reports whether every record carries a label.
func (dataset *Dataset) FullyLabeled() bool {
	if dataset.Labels == nil || dataset.Len() == 0 {
		return false
	}
	for _, label := range dataset.Labels {
		if label == LabelNA {
			return false
		}
	}
	return true
}

// Labeled returns the ids and labels of labeled records in dataset order.
func (dataset *Dataset) Labeled() ([]int64, []int) {
	var ids []int64
	var labels []int
	for index, label := range dataset.Labels {
		if label == LabelNA {
			continue
		}
		ids = append(ids, dataset.RecordIDs[index])
		labels = append(labels, label)
	}
	return ids, labels
}

// Texts joins title and abstract per record.
func (dataset *Dataset) Texts() []string {
	texts := make([]string, dataset.Len())
	for index := range texts {
		texts[index] = strings.TrimSpace(dataset.Titles[index] + " " + dataset.Abstracts[index])
	}
	return texts
}

func (dataset *Dataset) Record(id int64) (Record, error) {
	index, err := dataset.Index(id)
	if err != nil {
		return Record{}, err
	}
	label := LabelNA
	if dataset.Labels != nil {
		label = dataset.Labels[index]
	}
	return Record{
		ID:       id,
		Title:    dataset.Titles[index],
		Abstract: dataset.Abstracts[index],
		Authors:  dataset.Authors[index],
		Label:    label,
	}, nil
}

// Index returns the row number of record id.
func (dataset *Dataset) Index(id int64) (int, error) {
	for index, recordID := range dataset.RecordIDs {
		if recordID == id {
			return index, nil
		}
	}
	return -1, fmt.Errorf("record_id %d: %w", id, ErrRecordNotFound)
}
