// Package state stores the labeling history of one review in SQLite at
// reviews/<review-id>/results.sql.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	FileName       = "results.sql"
	CurrentVersion = 2

	QueryStrategyPrior = "prior"
)

var (
	ErrStateNotFound = errors.New("review state not found")
	ErrInvalidState  = errors.New("invalid review state")
	ErrUnknownTable  = errors.New("unknown state table")
)

// Tables lists the tables every state file carries.
var Tables = []string{"results", "record_table", "last_probabilities", "last_ranking", "decision_changes"}

var resultColumns = []string{
	"record_id", "label", "classifier", "query_strategy", "balance_strategy",
	"feature_extraction", "training_set", "labeling_time", "notes", "custom_metadata_json",
}

const schema = `
CREATE TABLE results (
	record_id INTEGER,
	label INTEGER,
	classifier TEXT,
	query_strategy TEXT,
	balance_strategy TEXT,
	feature_extraction TEXT,
	training_set INTEGER,
	labeling_time INTEGER,
	notes TEXT,
	custom_metadata_json TEXT
);
CREATE TABLE record_table (record_id INT);
CREATE TABLE last_probabilities (proba REAL);
CREATE TABLE last_ranking (
	record_id INTEGER,
	ranking INT,
	classifier TEXT,
	query_strategy TEXT,
	balance_strategy TEXT,
	feature_extraction TEXT,
	training_set INTEGER,
	time INTEGER
);
CREATE TABLE decision_changes (record_id INTEGER, new_label INTEGER, time INTEGER);
`

// Result is one row of the results table. Nullable columns are zero when
// NULL; Label is -1 for a pending record.
type Result struct {
	RecordID          int64
	Label             int
	Classifier        string
	QueryStrategy     string
	BalanceStrategy   string
	FeatureExtraction string
	TrainingSet       int
	LabelingTime      time.Time
	Notes             string
}

type Store struct {
	db   *sql.DB
	path string
}

// Path returns the state file of reviewID inside projectPath.
func Path(projectPath, reviewID string) string {
	return filepath.Join(projectPath, "reviews", reviewID, FileName)
}

// Create initializes a new, empty state file for reviewID.
func Create(ctx context.Context, projectPath, reviewID string) (*Store, error) {
	path := Path(projectPath, reviewID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create review directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("state file already exists: %s", path)
	}
	store, err := open(path)
	if err != nil {
		return nil, err
	}
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("begin schema transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		_ = tx.Rollback()
		_ = store.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", CurrentVersion)); err != nil {
		_ = tx.Rollback()
		_ = store.Close()
		return nil, fmt.Errorf("set state version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("commit state schema: %w", err)
	}
	return store, nil
}

// Open opens an existing state file and checks its version and tables.
func Open(ctx context.Context, projectPath, reviewID string) (*Store, error) {
	if info, err := os.Stat(projectPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project %s: %w", projectPath, ErrStateNotFound)
	}
	path := Path(projectPath, reviewID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("review %s: %w", reviewID, ErrStateNotFound)
	}
	store, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := store.check(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(3000)")
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

func (store *Store) Close() error {
	if store == nil || store.db == nil {
		return nil
	}
	return store.db.Close()
}

func (store *Store) Path() string {
	return store.path
}

func (store *Store) UserVersion(ctx context.Context) (int, error) {
	var version int
	if err := store.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read state version: %w", err)
	}
	return version, nil
}

func (store *Store) check(ctx context.Context) error {
	version, err := store.UserVersion(ctx)
	if err != nil {
		return err
	}
	if version != CurrentVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrInvalidState, version, CurrentVersion)
	}
	tables, err := store.names(ctx, "SELECT name FROM sqlite_master WHERE type='table'", 0)
	if err != nil {
		return err
	}
	for _, table := range Tables {
		if !slices.Contains(tables, table) {
			return fmt.Errorf("%w: missing table %s", ErrInvalidState, table)
		}
	}
	columns, err := store.names(ctx, "PRAGMA table_info(results)", 1)
	if err != nil {
		return err
	}
	for _, column := range resultColumns {
		if !slices.Contains(columns, column) {
			return fmt.Errorf("%w: results table lacks column %s", ErrInvalidState, column)
		}
	}
	return nil
}

// names returns the value at column index of every row of query.
func (store *Store) names(ctx context.Context, query string, index int) ([]string, error) {
	rows, err := store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("inspect state: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		names = append(names, fmt.Sprint(normalize(values[index])))
	}
	return names, rows.Err()
}

// AddRecordTable stores the full record ordering of the dataset.
func (store *Store) AddRecordTable(ctx context.Context, recordIDs []int64) error {
	return store.inTx(ctx, func(tx *sql.Tx) error {
		statement, err := tx.PrepareContext(ctx, "INSERT INTO record_table (record_id) VALUES (?)")
		if err != nil {
			return err
		}
		defer func() {
			_ = statement.Close()
		}()
		for _, id := range recordIDs {
			if _, err := statement.ExecContext(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddLabelingData records labeling decisions. Priors must still be in the
// pool and are stored with query strategy "prior" and training set -1.
// notes may be nil.
func (store *Store) AddLabelingData(ctx context.Context, recordIDs []int64, labels []int, notes []string, prior bool) error {
	if notes == nil {
		notes = make([]string, len(recordIDs))
	}
	if len(recordIDs) != len(labels) || len(recordIDs) != len(notes) {
		return fmt.Errorf("labeling data lengths differ: %d ids, %d labels, %d notes", len(recordIDs), len(labels), len(notes))
	}
	results := make([]Result, len(recordIDs))
	now := time.Now().UTC()
	for index, id := range recordIDs {
		results[index] = Result{RecordID: id, Label: labels[index], Notes: notes[index], LabelingTime: now}
		if prior {
			results[index].QueryStrategy = QueryStrategyPrior
			results[index].TrainingSet = -1
		}
	}
	if prior {
		pool, err := store.Pool(ctx)
		if err != nil {
			return err
		}
		for _, id := range recordIDs {
			if !slices.Contains(pool, id) {
				return fmt.Errorf("prior record %d is not in the pool", id)
			}
		}
	}
	return store.AddResults(ctx, results)
}

// AddResults appends rows to the results table as given.
func (store *Store) AddResults(ctx context.Context, results []Result) error {
	return store.inTx(ctx, func(tx *sql.Tx) error {
		statement, err := tx.PrepareContext(ctx, `INSERT INTO results (record_id, label, classifier,
			query_strategy, balance_strategy, feature_extraction, training_set, labeling_time, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() {
			_ = statement.Close()
		}()
		for _, result := range results {
			var label any
			if result.Label >= 0 {
				label = result.Label
			}
			var labeledAt any
			if !result.LabelingTime.IsZero() {
				labeledAt = result.LabelingTime.UnixMilli()
			}
			if _, err := statement.ExecContext(ctx,
				result.RecordID, label, nullString(result.Classifier), nullString(result.QueryStrategy),
				nullString(result.BalanceStrategy), nullString(result.FeatureExtraction),
				result.TrainingSet, labeledAt, nullString(result.Notes),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPriors returns the prior knowledge rows in insertion order.
func (store *Store) GetPriors(ctx context.Context) ([]Result, error) {
	return store.results(ctx, "WHERE query_strategy = ?", QueryStrategyPrior)
}

// Results returns every row of the results table in insertion order.
func (store *Store) Results(ctx context.Context) ([]Result, error) {
	return store.results(ctx, "")
}

func (store *Store) results(ctx context.Context, where string, args ...any) ([]Result, error) {
	query := `SELECT record_id, label, classifier, query_strategy, balance_strategy,
		feature_extraction, training_set, labeling_time, notes FROM results ` + where + ` ORDER BY rowid`
	rows, err := store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var results []Result
	for rows.Next() {
		var (
			result                                        Result
			label, trainingSet, labeledAt                 sql.NullInt64
			classifier, strategy, balance, feature, notes sql.NullString
		)
		if err := rows.Scan(&result.RecordID, &label, &classifier, &strategy, &balance, &feature, &trainingSet, &labeledAt, &notes); err != nil {
			return nil, fmt.Errorf("scan results: %w", err)
		}
		result.Label = -1
		if label.Valid {
			result.Label = int(label.Int64)
		}
		result.Classifier = classifier.String
		result.QueryStrategy = strategy.String
		result.BalanceStrategy = balance.String
		result.FeatureExtraction = feature.String
		result.TrainingSet = int(trainingSet.Int64)
		if labeledAt.Valid {
			result.LabelingTime = time.UnixMilli(labeledAt.Int64).UTC()
		}
		result.Notes = notes.String
		results = append(results, result)
	}
	return results, rows.Err()
}

// RecordIDs returns the record ordering stored by AddRecordTable.
func (store *Store) RecordIDs(ctx context.Context) ([]int64, error) {
	return store.ids(ctx, "SELECT record_id FROM record_table ORDER BY rowid")
}

// Pool returns the records without a results row, in record order.
func (store *Store) Pool(ctx context.Context) ([]int64, error) {
	return store.ids(ctx, `SELECT record_id FROM record_table
		WHERE record_id NOT IN (SELECT record_id FROM results) ORDER BY rowid`)
}

func (store *Store) ids(ctx context.Context, query string) ([]int64, error) {
	rows, err := store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query record ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Table is a generic dump of one state table.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Dump reads every row of one of Tables.
func (store *Store) Dump(ctx context.Context, name string) (Table, error) {
	if !slices.Contains(Tables, name) {
		return Table{}, fmt.Errorf("%w %q, expected one of %s", ErrUnknownTable, name, strings.Join(Tables, ", "))
	}
	// #nosec G202 -- name is checked against Tables.
	rows, err := store.db.QueryContext(ctx, "SELECT * FROM "+name+" ORDER BY rowid")
	if err != nil {
		return Table{}, fmt.Errorf("query %s: %w", name, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	columns, err := rows.Columns()
	if err != nil {
		return Table{}, err
	}
	table := Table{Name: name, Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Table{}, err
		}
		for i := range values {
			values[i] = normalize(values[i])
		}
		table.Rows = append(table.Rows, values)
	}
	return table, rows.Err()
}

func (store *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func normalize(value any) any {
	if raw, ok := value.([]byte); ok {
		return string(raw)
	}
	return value
}
