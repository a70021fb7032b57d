package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// Column names accepted for each field, first match wins.
var (
	recordIDColumns = []string{"record_id"}
	titleColumns    = []string{"title", "primary_title"}
	abstractColumns = []string{"abstract", "notes_abstract"}
	authorsColumns  = []string{"authors", "author names", "first_authors"}
	labelColumns    = []string{"label_included", "included", "label", "final_included"}
)

// CSVLoader reads comma or tab separated files with a header row. Rows
// without a record_id column are numbered from 0.
type CSVLoader struct{}

func (CSVLoader) Load(path string) (*Dataset, error) {
	var comma rune
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		comma = ','
	case ".tsv", ".tab":
		comma = '\t'
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	// #nosec G304 -- dataset path is inside a project tree or explicit user input.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	dataset, err := ReadCSV(file, comma)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", filepath.Base(path), err)
	}
	return dataset, nil
}

// ReadCSV parses a header row followed by records.
func ReadCSV(reader io.Reader, comma rune) (*Dataset, error) {
	csvReader := csv.NewReader(reader)
	csvReader.Comma = comma
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	header, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header row")
		}
		return nil, err
	}
	positions := make(map[string]int, len(header))
	for index, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, ok := positions[name]; !ok {
			positions[name] = index
		}
	}
	find := func(candidates []string) int {
		for _, candidate := range candidates {
			if index, ok := positions[candidate]; ok {
				return index
			}
		}
		return -1
	}
	idColumn := find(recordIDColumns)
	titleColumn := find(titleColumns)
	abstractColumn := find(abstractColumns)
	authorsColumn := find(authorsColumns)
	labelColumn := find(labelColumns)

	dataset := &Dataset{}
	if labelColumn >= 0 {
		dataset.Labels = []int{}
	}
	for row := 0; ; row++ {
		fields, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		cell := func(index int) string {
			if index < 0 || index >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[index])
		}

		id := int64(row)
		if idColumn >= 0 {
			id, err = strconv.ParseInt(cell(idColumn), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid record_id %q", row+1, cell(idColumn))
			}
		}
		dataset.RecordIDs = append(dataset.RecordIDs, id)
		dataset.Titles = append(dataset.Titles, cell(titleColumn))
		dataset.Abstracts = append(dataset.Abstracts, cell(abstractColumn))
		dataset.Authors = append(dataset.Authors, cell(authorsColumn))
		if labelColumn >= 0 {
			label, err := parseLabel(cell(labelColumn))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", row+1, err)
			}
			dataset.Labels = append(dataset.Labels, label)
		}
	}
	if err := dataset.Validate(); err != nil {
		return nil, err
	}
	return dataset, nil
}

func parseLabel(value string) (int, error) {
	switch strings.ToLower(value) {
	case "", "na", "nan", "-1":
		return LabelNA, nil
	case "0", "0.0", "no", "false":
		return LabelExcluded, nil
	case "1", "1.0", "yes", "true":
		return LabelIncluded, nil
	default:
		return 0, fmt.Errorf("invalid label %q", value)
	}
}
