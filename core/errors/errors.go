package errors

import "errors"

// Category groups failures by how a caller should react to them.
type Category string

const (
	CategoryInvalidInput    Category = "invalid_input"
	CategoryNotFound        Category = "not_found"
	CategoryAlreadyExists   Category = "already_exists"
	CategoryStateContention Category = "state_contention"
	CategoryLifecycle       Category = "lifecycle_failure"
	CategoryIOFailure       Category = "io_failure"
	CategoryInternalFailure Category = "internal_failure"
)

// Details is the machine-readable description attached to an error.
type Details struct {
	Category  Category
	Code      string
	Hint      string
	Retryable bool
}

type classifiedError struct {
	details Details
	cause   error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a category, a stable machine-readable code and an operator
// hint to cause. Wrapping nil returns nil.
func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		details: Details{Category: category, Code: code, Hint: hint, Retryable: retryable},
		cause:   cause,
	}
}

// Describe returns the details of the outermost classified error in the
// chain of err; ok is false when nothing in the chain is classified.
func Describe(err error) (details Details, ok bool) {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.details, true
	}
	return Details{}, false
}

func CategoryOf(err error) Category {
	details, _ := Describe(err)
	return details.Category
}

func CodeOf(err error) string {
	details, _ := Describe(err)
	return details.Code
}

func HintOf(err error) string {
	details, _ := Describe(err)
	return details.Hint
}

func RetryableOf(err error) bool {
	details, _ := Describe(err)
	return details.Retryable
}

// DefaultRetryable reports whether errors of the category are worth retrying
// when the producer did not say so explicitly.
func DefaultRetryable(category Category) bool {
	return category == CategoryStateContention
}
