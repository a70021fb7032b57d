package project

import (
	"path/filepath"
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/davidahmann/sift/core/codec"
	schemaproject "github.com/davidahmann/sift/core/schema/v1/project"
)

func TestFeatureMatrixRoundTrip(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	dense := mat.NewDense(3, 4, []float64{
		0, 1.5, 0, 0,
		0, 0, 0, 0,
		2, 0, 0, -3.25,
	})

	require.NoError(t, project.AddFeatureMatrix(dense, "tfidf"))
	assert.FileExists(t, filepath.Join(project.Path(), FeatureMatricesDir, "tfidf_feature_matrix.csr"))

	loaded, err := project.GetFeatureMatrix("tfidf")
	require.NoError(t, err)
	assert.True(t, mat.Equal(dense, loaded))
	assert.True(t, mat.Equal(dense, loaded.ToDense()))
	assert.True(t, mat.Equal(dense.T(), loaded.T()))
	assert.Equal(t, 3, loaded.NNZ())
}

func TestAddFeatureMatrixReplacesSameMethod(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	require.NoError(t, project.AddFeatureMatrix(mat.NewDense(1, 2, []float64{1, 0}), "tfidf"))
	require.NoError(t, project.AddFeatureMatrix(mat.NewDense(1, 2, []float64{0, 7}), "doc2vec"))
	require.NoError(t, project.AddFeatureMatrix(mat.NewDense(1, 2, []float64{0, 2}), "tfidf"))

	records, err := project.FeatureMatrices()
	require.NoError(t, err)
	assert.Equal(t, []FeatureMatrix{
		{ID: "tfidf", Filename: "tfidf_feature_matrix.csr"},
		{ID: "doc2vec", Filename: "doc2vec_feature_matrix.csr"},
	}, records)

	loaded, err := project.GetFeatureMatrix("tfidf")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, loaded.At(0, 1), 0)
	assert.InDelta(t, 0.0, loaded.At(0, 0), 0)
}

func TestAddFeatureMatrixRejectsBadInput(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	require.ErrorIs(t, project.AddFeatureMatrix(nil, "tfidf"), ErrInvalidMatrix)
	require.ErrorIs(t, project.AddFeatureMatrix(mat.NewDense(1, 1, []float64{1}), "../tfidf"), ErrInvalidMatrix)
	require.ErrorIs(t, project.AddFeatureMatrix(mat.NewDense(1, 1, []float64{1}), ""), ErrInvalidMatrix)

	records, err := project.FeatureMatrices()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGetFeatureMatrixMissing(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	_, err := project.GetFeatureMatrix("sbert")
	require.ErrorIs(t, err, ErrFeatureMatrixNotFound)
}

func TestFeatureMatrixAfterDeleteReview(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	require.NoError(t, project.AddFeatureMatrix(mat.NewDense(1, 1, []float64{1}), "tfidf"))
	require.NoError(t, project.DeleteReview(true))

	_, err := project.GetFeatureMatrix("tfidf")
	require.ErrorIs(t, err, ErrFeatureMatrixNotFound)
	require.NoError(t, project.AddFeatureMatrix(mat.NewDense(1, 1, []float64{4}), "tfidf"))
	loaded, err := project.GetFeatureMatrix("tfidf")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, loaded.At(0, 0), 0)
}

func TestToCSRLayout(t *testing.T) {
	dense := mat.NewDense(3, 4, []float64{
		0, 1.5, 0, 0,
		0, 0, 0, 0,
		2, 0, 0, -3,
	})
	csr, err := toCSR(dense)
	require.NoError(t, err)
	stored := storeCSR(csr)
	assert.Equal(t, []int{0, 1, 1, 3}, stored.IndPtr)
	assert.Equal(t, []int{1, 0, 3}, stored.Indices)
	assert.Equal(t, []float64{1.5, 2, -3}, stored.Data)

	kept, err := toCSR(csr)
	require.NoError(t, err)
	assert.Same(t, csr, kept)

	var typedNil *sparse.CSR
	_, err = toCSR(typedNil)
	assert.Error(t, err)
}

func TestAddFeatureMatrixAcceptsCSR(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	csr := sparse.NewCSR(2, 3, []int{0, 1, 2}, []int{2, 0}, []float64{5, 6})
	require.NoError(t, project.AddFeatureMatrix(csr, "sbert"))

	loaded, err := project.GetFeatureMatrix("sbert")
	require.NoError(t, err)
	assert.True(t, mat.Equal(csr, loaded))
}

func TestGetFeatureMatrixRejectsCorruptLayout(t *testing.T) {
	project := createProject(t, schemaproject.ModeOracle)
	require.NoError(t, project.AddFeatureMatrix(mat.NewDense(1, 2, []float64{1, 0}), "tfidf"))
	path := filepath.Join(project.Path(), FeatureMatricesDir, FeatureMatrixFileName("tfidf"))
	broken := storedMatrix{Rows: 1, Cols: 2, IndPtr: []int{0, 1}, Indices: []int{5}, Data: []float64{1}}
	require.NoError(t, codec.WriteFile(path, broken))

	_, err := project.GetFeatureMatrix("tfidf")
	require.ErrorContains(t, err, "column 5 out of range")
}
