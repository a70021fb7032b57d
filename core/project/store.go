package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/davidahmann/sift/core/fsx"
	"github.com/davidahmann/sift/core/jcs"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
)

// Snapshot is an immutable view of the control document. Tag is the JCS
// sha256 digest of the bytes it was read from; Save compares it against the
// document on disk.
type Snapshot struct {
	Document Document
	Tag      string
}

// Load reads the control document under the project lock.
func (project *Project) Load() (Snapshot, error) {
	var snapshot Snapshot
	err := project.withLock(func() error {
		var readErr error
		snapshot, readErr = readDocument(project.configPath())
		return readErr
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Document is a shorthand for Load().Document.
func (project *Project) Document() (Document, error) {
	snapshot, err := project.Load()
	if err != nil {
		return Document{}, err
	}
	return snapshot.Document, nil
}

// Save writes document if the document on disk still has digest tag.
// It fails with ErrConflict otherwise and with ErrInvalidDocument when the
// document does not pass schema validation; in both cases nothing is
// written. The project id and mode cannot change through Save.
func (project *Project) Save(tag string, document Document) (Snapshot, error) {
	var saved Snapshot
	err := project.withLock(func() error {
		current, err := readDocument(project.configPath())
		if err != nil {
			return err
		}
		if current.Tag != tag {
			return ErrConflict
		}
		if document.ID != current.Document.ID {
			return fmt.Errorf("%w: id", ErrImmutableField)
		}
		if document.Mode != current.Document.Mode {
			return fmt.Errorf("%w: mode", ErrImmutableField)
		}
		if err := validateDocument(document); err != nil {
			return err
		}
		if err := writeDocument(project.configPath(), document); err != nil {
			return err
		}
		saved, err = readDocument(project.configPath())
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return saved, nil
}

// Update applies fn to a copy of the current document and saves it,
// repeating the whole read, apply and save cycle when another writer got
// in between. fn may run more than once. When fn changes nothing the file
// is left alone.
func (project *Project) Update(fn func(*Document) error) (Snapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= project.options.UpdateAttempts; attempt++ {
		snapshot, err := project.Load()
		if err != nil {
			return Snapshot{}, err
		}
		document := snapshot.Document.Clone()
		if err := fn(&document); err != nil {
			return Snapshot{}, err
		}
		if unchanged(snapshot.Document, document) {
			return snapshot, nil
		}
		saved, err := project.Save(snapshot.Tag, document)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Snapshot{}, err
		}
		lastErr = err
		project.logger.Debug("project document conflict, retrying", zap.Int("attempt", attempt))
	}
	return Snapshot{}, fmt.Errorf("update after %d attempts: %w", project.options.UpdateAttempts, lastErr)
}

// UpdateConfig merges patch into the top level of the control document and
// returns the saved document. Keys the document does not model are kept.
// A patch that changes id or mode, or that yields an invalid document, is
// rejected and nothing is written.
func (project *Project) UpdateConfig(patch map[string]any) (Document, error) {
	snapshot, err := project.Update(func(document *Document) error {
		encoded, err := json.Marshal(document)
		if err != nil {
			return fmt.Errorf("encode project document: %w", err)
		}
		fields := map[string]json.RawMessage{}
		if err := json.Unmarshal(encoded, &fields); err != nil {
			return fmt.Errorf("decode project document: %w", err)
		}
		for key, value := range patch {
			raw, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("%w: encode %s: %v", ErrInvalidDocument, key, err)
			}
			fields[key] = raw
		}
		merged, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode merged document: %w", err)
		}
		var updated Document
		if err := json.Unmarshal(merged, &updated); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		*document = updated
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return snapshot.Document, nil
}

// unchanged reports whether two documents serialize to the same canonical
// JSON.
func unchanged(before, after Document) bool {
	beforeDigest, err := jcs.DigestValue(before)
	if err != nil {
		return false
	}
	afterDigest, err := jcs.DigestValue(after)
	return err == nil && beforeDigest == afterDigest
}

func readDocument(path string) (Snapshot, error) {
	// #nosec G304 -- path is the control document of an opened project.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ErrProjectNotFound
		}
		return Snapshot{}, fmt.Errorf("read project document: %w", err)
	}
	tag, err := jcs.DigestJCS(raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var document Document
	if err := json.Unmarshal(raw, &document); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return Snapshot{Document: document, Tag: tag}, nil
}

func writeDocument(path string, document Document) error {
	if err := fsx.WriteJSONAtomic(path, document, 0o600); err != nil {
		return fmt.Errorf("write project document: %w", err)
	}
	return nil
}

func validateDocument(document Document) error {
	validator, err := schemaproject.Validator()
	if err != nil {
		return fmt.Errorf("load project schema: %w", err)
	}
	if err := validator.ValidateValue(document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}
