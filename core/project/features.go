package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/james-bowman/sparse"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/davidahmann/sift/core/codec"
)

var methodNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// storedMatrix is the file form of a CSR matrix: row i holds
// Data[IndPtr[i]:IndPtr[i+1]] at columns Indices[IndPtr[i]:IndPtr[i+1]].
type storedMatrix struct {
	Rows    int       `cbor:"1,keyasint"`
	Cols    int       `cbor:"2,keyasint"`
	IndPtr  []int     `cbor:"3,keyasint"`
	Indices []int     `cbor:"4,keyasint"`
	Data    []float64 `cbor:"5,keyasint"`
}

// toCSR converts matrix to CSR, walking dense input in row-major order so
// the stored bytes only depend on the values. A *sparse.CSR is kept as is.
func toCSR(matrix mat.Matrix) (*sparse.CSR, error) {
	switch typed := matrix.(type) {
	case nil:
		return nil, errors.New("matrix is nil")
	case *sparse.CSR:
		if typed == nil {
			return nil, errors.New("matrix is nil")
		}
		return typed, nil
	}
	rows, cols := matrix.Dims()
	indptr := make([]int, 1, rows+1)
	var indices []int
	var data []float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if value := matrix.At(i, j); value != 0 {
				indices = append(indices, j)
				data = append(data, value)
			}
		}
		indptr = append(indptr, len(data))
	}
	return sparse.NewCSR(rows, cols, indptr, indices, data), nil
}

func storeCSR(csr *sparse.CSR) storedMatrix {
	raw := csr.RawMatrix()
	return storedMatrix{Rows: raw.I, Cols: raw.J, IndPtr: raw.Indptr, Indices: raw.Ind, Data: raw.Data}
}

// csr checks the structure read from disk before handing it to sparse,
// which indexes without bounds checks of its own.
func (stored storedMatrix) csr() (*sparse.CSR, error) {
	if stored.Rows < 0 || stored.Cols < 0 {
		return nil, fmt.Errorf("negative dimensions %dx%d", stored.Rows, stored.Cols)
	}
	if len(stored.IndPtr) != stored.Rows+1 {
		return nil, fmt.Errorf("indptr has %d entries, want %d", len(stored.IndPtr), stored.Rows+1)
	}
	if len(stored.Indices) != len(stored.Data) {
		return nil, errors.New("indices and data lengths differ")
	}
	if stored.IndPtr[0] != 0 || stored.IndPtr[stored.Rows] != len(stored.Data) {
		return nil, errors.New("indptr does not span data")
	}
	for i := 0; i < stored.Rows; i++ {
		if stored.IndPtr[i] > stored.IndPtr[i+1] {
			return nil, fmt.Errorf("indptr decreases at row %d", i)
		}
	}
	for _, column := range stored.Indices {
		if column < 0 || column >= stored.Cols {
			return nil, fmt.Errorf("column %d out of range", column)
		}
	}
	return sparse.NewCSR(stored.Rows, stored.Cols, stored.IndPtr, stored.Indices, stored.Data), nil
}

// FeatureMatrixFileName returns the file name used for method.
func FeatureMatrixFileName(method string) string {
	return method + "_feature_matrix.csr"
}

// AddFeatureMatrix stores matrix for the extraction method, replacing an
// earlier matrix of the same method. Dense input is converted to CSR.
func (project *Project) AddFeatureMatrix(matrix mat.Matrix, method string) error {
	if !methodNamePattern.MatchString(method) {
		return fmt.Errorf("%w: method name %q", ErrInvalidMatrix, method)
	}
	csr, err := toCSR(matrix)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}
	filename := FeatureMatrixFileName(method)
	if err := os.MkdirAll(filepath.Join(project.path, FeatureMatricesDir), 0o750); err != nil {
		return fmt.Errorf("create feature matrix directory: %w", err)
	}
	if err := codec.WriteFile(filepath.Join(project.path, FeatureMatricesDir, filename), storeCSR(csr)); err != nil {
		return fmt.Errorf("write feature matrix: %w", err)
	}
	_, err = project.Update(func(document *Document) error {
		record := FeatureMatrix{ID: method, Filename: filename}
		for index := range document.FeatureMatrices {
			if document.FeatureMatrices[index].ID == method {
				document.FeatureMatrices[index] = record
				return nil
			}
		}
		document.FeatureMatrices = append(document.FeatureMatrices, record)
		return nil
	})
	if err != nil {
		return err
	}
	rows, cols := csr.Dims()
	project.logger.Info("feature matrix stored",
		zap.String("method", method), zap.Int("rows", rows), zap.Int("cols", cols), zap.Int("nnz", csr.NNZ()))
	return nil
}

// GetFeatureMatrix loads the matrix stored for method.
func (project *Project) GetFeatureMatrix(method string) (*sparse.CSR, error) {
	document, err := project.Document()
	if err != nil {
		return nil, err
	}
	filename := ""
	for _, record := range document.FeatureMatrices {
		if record.ID == method {
			filename = record.Filename
			break
		}
	}
	if filename == "" || filename != filepath.Base(filename) {
		return nil, fmt.Errorf("%s: %w", method, ErrFeatureMatrixNotFound)
	}
	var stored storedMatrix
	if err := codec.ReadFile(filepath.Join(project.path, FeatureMatricesDir, filename), &stored); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", method, ErrFeatureMatrixNotFound)
		}
		return nil, fmt.Errorf("read feature matrix %s: %w", method, err)
	}
	csr, err := stored.csr()
	if err != nil {
		return nil, fmt.Errorf("read feature matrix %s: %w", method, err)
	}
	return csr, nil
}

// FeatureMatrices lists the stored matrix records.
func (project *Project) FeatureMatrices() ([]FeatureMatrix, error) {
	document, err := project.Document()
	if err != nil {
		return nil, err
	}
	return document.FeatureMatrices, nil
}
