package simulate

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/davidahmann/sift/core/dataset"
)

var (
	ErrPriorConflict   = errors.New("prior indices and prior record ids are mutually exclusive")
	ErrPriorNotFound   = errors.New("prior record not found")
	ErrNotEnoughPriors = errors.New("not enough labeled records for prior knowledge")
)

// PriorSelection picks the records labeled before a review starts. Indices
// are row positions and RecordIDs are dataset record ids; at most one of the
// two may be set. When neither is set, NIncluded relevant and NExcluded
// irrelevant records are sampled with Seed.
type PriorSelection struct {
	Indices   []int
	RecordIDs []int64
	NIncluded int
	NExcluded int
	Seed      uint64
}

// SelectPriors returns the record ids and labels of the prior knowledge.
// Explicit selections keep the given order; sampled priors list relevant
// records first.
func SelectPriors(data *dataset.Dataset, selection PriorSelection) ([]int64, []int, error) {
	if len(selection.Indices) > 0 && len(selection.RecordIDs) > 0 {
		return nil, nil, ErrPriorConflict
	}
	var rows []int
	switch {
	case len(selection.Indices) > 0:
		for _, index := range selection.Indices {
			if index < 0 || index >= data.Len() {
				return nil, nil, fmt.Errorf("row %d: %w", index, ErrPriorNotFound)
			}
			rows = append(rows, index)
		}
	case len(selection.RecordIDs) > 0:
		for _, id := range selection.RecordIDs {
			index, err := data.Index(id)
			if err != nil {
				return nil, nil, fmt.Errorf("record_id %d: %w", id, ErrPriorNotFound)
			}
			rows = append(rows, index)
		}
	default:
		sampled, err := samplePriors(data, selection)
		if err != nil {
			return nil, nil, err
		}
		rows = sampled
	}

	seen := make(map[int]bool, len(rows))
	ids := make([]int64, 0, len(rows))
	labels := make([]int, 0, len(rows))
	for _, row := range rows {
		if seen[row] {
			continue
		}
		seen[row] = true
		label := dataset.LabelNA
		if data.Labels != nil {
			label = data.Labels[row]
		}
		if label == dataset.LabelNA {
			return nil, nil, fmt.Errorf("record_id %d has no label: %w", data.RecordIDs[row], ErrNotEnoughPriors)
		}
		ids = append(ids, data.RecordIDs[row])
		labels = append(labels, label)
	}
	return ids, labels, nil
}

func samplePriors(data *dataset.Dataset, selection PriorSelection) ([]int, error) {
	var included, excluded []int
	for row, label := range data.Labels {
		switch label {
		case dataset.LabelIncluded:
			included = append(included, row)
		case dataset.LabelExcluded:
			excluded = append(excluded, row)
		}
	}
	if len(included) < selection.NIncluded || len(excluded) < selection.NExcluded {
		return nil, fmt.Errorf("%w: need %d relevant and %d irrelevant, have %d and %d",
			ErrNotEnoughPriors, selection.NIncluded, selection.NExcluded, len(included), len(excluded))
	}
	random := rand.New(rand.NewPCG(selection.Seed, selection.Seed^0x9e3779b97f4a7c15))
	random.Shuffle(len(included), func(i, j int) { included[i], included[j] = included[j], included[i] })
	random.Shuffle(len(excluded), func(i, j int) { excluded[i], excluded[j] = excluded[j], excluded[i] })
	rows := append([]int{}, included[:selection.NIncluded]...)
	return append(rows, excluded[:selection.NExcluded]...), nil
}
