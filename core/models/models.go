// Package models names the screening strategies a review can be configured
// with. Only names are registered here; implementations live with the engine
// that runs a review.
package models

import (
	"fmt"
	"slices"
	"strings"
)

type Kind string

const (
	KindClassifier        Kind = "classifier"
	KindQuery             Kind = "query_strategy"
	KindBalance           Kind = "balance_strategy"
	KindFeatureExtraction Kind = "feature_extraction"
)

const (
	DefaultClassifier        = "nb"
	DefaultQueryStrategy     = "max"
	DefaultBalanceStrategy   = "double"
	DefaultFeatureExtraction = "tfidf"
)

var registry = map[Kind][]string{
	KindClassifier:        {"logistic", "nb", "rf", "svm"},
	KindQuery:             {"cluster", "max", "max_random", "max_uncertainty", "random", "uncertainty"},
	KindBalance:           {"double", "simple", "undersample"},
	KindFeatureExtraction: {"doc2vec", "embedding-idf", "embedding-lstm", "sbert", "tfidf"},
}

// List returns the sorted names registered for kind.
func List(kind Kind) []string {
	return slices.Clone(registry[kind])
}

func ListClassifiers() []string       { return List(KindClassifier) }
func ListQueryStrategies() []string   { return List(KindQuery) }
func ListBalanceStrategies() []string { return List(KindBalance) }
func ListFeatureExtraction() []string { return List(KindFeatureExtraction) }

// Validate fails when name is not registered for kind.
func Validate(kind Kind, name string) error {
	names, ok := registry[kind]
	if !ok {
		return fmt.Errorf("unknown model kind %q", kind)
	}
	if slices.Contains(names, name) {
		return nil
	}
	return fmt.Errorf("%s %q is not one of %s", kind, name, strings.Join(names, ", "))
}
