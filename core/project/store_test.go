package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/sift/core/lock"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
)

func TestUpdateConfigKeepsEarlierKeys(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)

	_, err := project.UpdateConfig(map[string]any{"a": 1})
	require.NoError(t, err)
	document, err := project.UpdateConfig(map[string]any{"b": 2})
	require.NoError(t, err)

	assert.JSONEq(t, `1`, string(document.Extra["a"]))
	assert.JSONEq(t, `2`, string(document.Extra["b"]))

	reopened, err := Open(project.Path(), Options{})
	require.NoError(t, err)
	onDisk, err := reopened.Document()
	require.NoError(t, err)
	assert.Contains(t, onDisk.Extra, "a")
	assert.Contains(t, onDisk.Extra, "b")
}

func TestUpdateConfigModeledField(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	document, err := project.UpdateConfig(map[string]any{"name": "Screening", "description": "cardiology"})
	require.NoError(t, err)
	assert.Equal(t, "Screening", document.Name)
	assert.Equal(t, "cardiology", document.Description)
	assert.Empty(t, document.Extra)
}

func TestUpdateWithoutChangesLeavesFileAlone(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	_, err := project.UpdateConfig(map[string]any{"name": "Screening"})
	require.NoError(t, err)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(project.configPath(), old, old))
	before, err := project.Load()
	require.NoError(t, err)

	snapshot, err := project.Update(func(document *Document) error {
		document.Name = "Screening"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, before.Tag, snapshot.Tag)
	info, err := os.Stat(project.configPath())
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))
}

func TestUpdateConfigRejectsImmutableFields(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	before, err := os.ReadFile(filepath.Join(project.Path(), ConfigFileName))
	require.NoError(t, err)

	_, err = project.UpdateConfig(map[string]any{"mode": "simulate"})
	require.ErrorIs(t, err, ErrImmutableField)
	_, err = project.UpdateConfig(map[string]any{"id": "other"})
	require.ErrorIs(t, err, ErrImmutableField)

	after, err := os.ReadFile(filepath.Join(project.Path(), ConfigFileName))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdateConfigRejectsInvalidDocument(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	_, err := project.UpdateConfig(map[string]any{"reviews": []map[string]any{{"id": "r1"}}})
	require.ErrorIs(t, err, ErrInvalidDocument)
	_, err = project.UpdateConfig(map[string]any{"name": 42})
	require.ErrorIs(t, err, ErrInvalidDocument)

	document, err := project.Document()
	require.NoError(t, err)
	assert.Empty(t, document.Reviews)
	assert.Equal(t, "demo", document.Name)
}

func TestSaveDetectsStaleTag(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	stale, err := project.Load()
	require.NoError(t, err)

	_, err = project.UpdateConfig(map[string]any{"name": "first writer"})
	require.NoError(t, err)

	document := stale.Document.Clone()
	document.Name = "second writer"
	_, err = project.Save(stale.Tag, document)
	require.ErrorIs(t, err, ErrConflict)

	current, err := project.Document()
	require.NoError(t, err)
	assert.Equal(t, "first writer", current.Name)
}

func TestSaveReturnsFreshSnapshot(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	snapshot, err := project.Load()
	require.NoError(t, err)
	document := snapshot.Document.Clone()
	document.Authors = "J. Doe"

	saved, err := project.Save(snapshot.Tag, document)
	require.NoError(t, err)
	assert.NotEqual(t, snapshot.Tag, saved.Tag)
	assert.Equal(t, "J. Doe", saved.Document.Authors)

	again, err := project.Load()
	require.NoError(t, err)
	assert.Equal(t, saved.Tag, again.Tag)
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	calls := 0
	_, err := project.Update(func(document *Document) error {
		calls++
		if calls == 1 {
			_, err := project.UpdateConfig(map[string]any{"authors": "interleaved"})
			require.NoError(t, err)
		}
		document.Description = "retried"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	document, err := project.Document()
	require.NoError(t, err)
	assert.Equal(t, "interleaved", document.Authors)
	assert.Equal(t, "retried", document.Description)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	options := testOptions(t)
	options.UpdateAttempts = 50
	options.Lock = lock.Options{Timeout: 10 * time.Second, Retry: time.Millisecond}

	var wg sync.WaitGroup
	keys := []string{"k0", "k1", "k2", "k3", "k4", "k5"}
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			handle, err := Open(project.Path(), options)
			if !assert.NoError(t, err) {
				return
			}
			_, err = handle.UpdateConfig(map[string]any{key: true})
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	document, err := project.Document()
	require.NoError(t, err)
	for _, key := range keys {
		assert.Contains(t, document.Extra, key)
	}
}

func TestLockTimeout(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	release, err := lock.Acquire(filepath.Join(project.Path(), LockFileName), lock.Options{})
	require.NoError(t, err)
	defer release()

	options := testOptions(t)
	options.Lock = lock.Options{Timeout: 50 * time.Millisecond, Retry: 5 * time.Millisecond}
	handle := &Project{path: project.Path(), options: options.normalized(), logger: project.logger}
	_, err = handle.Load()
	require.ErrorIs(t, err, lock.ErrTimeout)
}

func TestDocumentPreservesUnknownKeys(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	path := filepath.Join(project.Path(), ConfigFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	fields := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	fields["plugin_state"] = map[string]any{"enabled": true}
	raw, err = json.Marshal(fields)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = project.UpdateConfig(map[string]any{"name": "renamed"})
	require.NoError(t, err)

	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	fields = map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, map[string]any{"enabled": true}, fields["plugin_state"])
	assert.Equal(t, "renamed", fields["name"])
}
