package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/davidahmann/sift/core/lock"
	"github.com/davidahmann/sift/core/project"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
	"github.com/davidahmann/sift/core/schema/validate"
)

const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

var scratchPrefixes = []string{".sift-export-", ".sift-import-"}

type Options struct {
	ProjectsRoot    string
	ProducerVersion string
	// StaleAfter is the age at which a lock file counts as abandoned.
	StaleAfter time.Duration
	Now        func() time.Time
	Project    project.Options
}

type Result struct {
	SchemaID        string   `json:"schema_id"`
	SchemaVersion   string   `json:"schema_version"`
	CreatedAt       string   `json:"created_at"`
	ProducerVersion string   `json:"producer_version"`
	Status          string   `json:"status"`
	NonFixable      bool     `json:"non_fixable"`
	Summary         string   `json:"summary"`
	FixCommands     []string `json:"fix_commands"`
	Checks          []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
	NonFixable bool   `json:"non_fixable,omitempty"`
}

// Run inspects the projects root for conditions that block or degrade
// project operations. It never modifies anything.
func Run(opts Options) Result {
	root := strings.TrimSpace(opts.ProjectsRoot)
	if root == "" {
		root = "."
	}
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = project.DefaultVersion
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = lock.DefaultStaleAfter
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	projectDirs, scratchDirs := scanRoot(root)
	documentsCheck, documents := checkDocuments(root, projectDirs, opts.Project)
	checks := []Check{
		checkProjectsRoot(root),
		checkStaleLocks(root, projectDirs, now(), staleAfter),
		checkScratchDirs(root, scratchDirs),
		documentsCheck,
		checkReviewErrors(documents),
	}

	failed := 0
	warned := 0
	nonFixable := false
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case StatusFail:
			failed++
		case StatusWarn:
			warned++
		}
		if check.NonFixable {
			nonFixable = true
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := StatusPass
	if failed > 0 {
		status = StatusFail
	} else if warned > 0 {
		status = StatusWarn
	}

	sort.Strings(fixCommands)
	summary := fmt.Sprintf("doctor: status=%s failed=%d warned=%d non_fixable=%t", status, failed, warned, nonFixable)

	return Result{
		SchemaID:        "sift.doctor.result",
		SchemaVersion:   "1.0.0",
		CreatedAt:       now().UTC().Format(time.RFC3339Nano),
		ProducerVersion: producerVersion,
		Status:          status,
		NonFixable:      nonFixable,
		Summary:         summary,
		FixCommands:     fixCommands,
		Checks:          checks,
	}
}

// scanRoot splits the entries of root into project directories and
// leftover export or import scratch directories.
func scanRoot(root string) (projectDirs, scratchDirs []string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if isScratch(name) {
			scratchDirs = append(scratchDirs, filepath.Join(root, name))
			continue
		}
		if strings.HasPrefix(name, ".") || !project.Exists(filepath.Join(root, name)) {
			continue
		}
		projectDirs = append(projectDirs, filepath.Join(root, name))
	}
	return projectDirs, scratchDirs
}

func isScratch(name string) bool {
	for _, prefix := range scratchPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func checkProjectsRoot(root string) Check {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:       "projects_root",
				Status:     StatusWarn,
				Message:    "projects root does not exist",
				FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(root)),
			}
		}
		return Check{
			Name:    "projects_root",
			Status:  StatusFail,
			Message: fmt.Sprintf("projects root not accessible: %v", err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:       "projects_root",
			Status:     StatusFail,
			Message:    "projects root is not a directory",
			NonFixable: true,
		}
	}
	testPath := filepath.Join(root, ".sift-doctor-writecheck")
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return Check{
			Name:       "projects_root",
			Status:     StatusFail,
			Message:    fmt.Sprintf("projects root not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(root)),
		}
	}
	_ = os.Remove(testPath)
	return Check{
		Name:    "projects_root",
		Status:  StatusPass,
		Message: "projects root is writable",
	}
}

func checkStaleLocks(root string, projectDirs []string, now time.Time, staleAfter time.Duration) Check {
	stale := []string{}
	for _, dir := range projectDirs {
		lockPath := filepath.Join(dir, project.LockFileName)
		info, err := os.Stat(lockPath)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > staleAfter {
			stale = append(stale, lockPath)
		}
	}
	if len(stale) > 0 {
		return Check{
			Name:       "stale_locks",
			Status:     StatusWarn,
			Message:    fmt.Sprintf("lock files older than %s: %s", staleAfter, relativeList(root, stale)),
			FixCommand: "rm -f " + quoteAll(stale),
		}
	}
	return Check{
		Name:    "stale_locks",
		Status:  StatusPass,
		Message: "no stale project locks",
	}
}

func checkScratchDirs(root string, scratchDirs []string) Check {
	if len(scratchDirs) > 0 {
		return Check{
			Name:       "scratch_dirs",
			Status:     StatusWarn,
			Message:    fmt.Sprintf("leftover export or import directories: %s", relativeList(root, scratchDirs)),
			FixCommand: "rm -rf " + quoteAll(scratchDirs),
		}
	}
	return Check{
		Name:    "scratch_dirs",
		Status:  StatusPass,
		Message: "no leftover scratch directories",
	}
}

func checkDocuments(root string, projectDirs []string, options project.Options) (Check, []project.Document) {
	broken := []string{}
	documents := make([]project.Document, 0, len(projectDirs))
	validator, err := schemaproject.Validator()
	if err != nil {
		return Check{
			Name:    "project_documents",
			Status:  StatusFail,
			Message: fmt.Sprintf("load project schema: %v", err),
		}, documents
	}
	for _, dir := range projectDirs {
		document, err := readValidDocument(dir, validator, options)
		if err != nil {
			broken = append(broken, fmt.Sprintf("%s (%v)", relative(root, dir), err))
			continue
		}
		documents = append(documents, document)
	}
	if len(broken) > 0 {
		return Check{
			Name:       "project_documents",
			Status:     StatusFail,
			Message:    "unreadable project documents: " + strings.Join(broken, "; "),
			NonFixable: true,
		}, documents
	}
	return Check{
		Name:    "project_documents",
		Status:  StatusPass,
		Message: fmt.Sprintf("%d project documents are valid", len(documents)),
	}, documents
}

// readValidDocument loads the control document of dir and checks the file
// against the project schema, which loading alone does not do.
func readValidDocument(dir string, validator *validate.Validator, options project.Options) (project.Document, error) {
	handle, err := project.Open(dir, options)
	if err != nil {
		return project.Document{}, err
	}
	document, err := handle.Document()
	if err != nil {
		return project.Document{}, err
	}
	if err := validator.ValidateJSONFile(filepath.Join(dir, project.ConfigFileName)); err != nil {
		return project.Document{}, err
	}
	return document, nil
}

func checkReviewErrors(documents []project.Document) Check {
	failed := []string{}
	fixes := []string{}
	for _, document := range documents {
		for _, review := range document.Reviews {
			if review.Status != schemaproject.StatusError {
				continue
			}
			failed = append(failed, document.ID+"/"+review.ID)
			fixes = append(fixes, fmt.Sprintf("sift project clear-error %s --review %s", shellQuote(document.ID), shellQuote(review.ID)))
		}
	}
	if len(failed) > 0 {
		return Check{
			Name:       "review_errors",
			Status:     StatusWarn,
			Message:    "reviews in error status: " + strings.Join(failed, ","),
			FixCommand: strings.Join(fixes, " && "),
		}
	}
	return Check{
		Name:    "review_errors",
		Status:  StatusPass,
		Message: "no reviews in error status",
	}
}

func relative(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func relativeList(root string, paths []string) string {
	names := make([]string, len(paths))
	for index, path := range paths {
		names[index] = relative(root, path)
	}
	return strings.Join(names, ",")
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for index, value := range values {
		quoted[index] = shellQuote(value)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
