package service_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/domain/job"
	"github.com/tablevec/tablevec/infrastructure/persistence"
	"github.com/tablevec/tablevec/internal/testdb"
)

// seedClusterableJob stores two groups of well-separated vectors with a
// matching source CSV on disk.
func seedClusterableJob(t *testing.T, store *persistence.JobStore, id string) string {
	t.Helper()
	ctx := context.Background()

	var sb strings.Builder
	sb.WriteString("name,amount\n")
	records := make([]job.EmbeddingRecord, 8)
	for i := 0; i < 8; i++ {
		base := 0.0
		amount := 10
		if i >= 4 {
			base = 100.0
			amount = 900
		}
		name := fmt.Sprintf("item-%d", i)
		fmt.Fprintf(&sb, "%s,%d\n", name, amount)
		records[i] = job.NewEmbeddingRecord(
			id, i, name,
			[]float64{base + float64(i%4), base},
			job.Metadata{"name": name, "amount": float64(amount)},
		)
	}

	path := filepath.Join(t.TempDir(), "source.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))

	require.NoError(t, store.CreateJob(ctx, job.NewJob(id, path, 8)))
	require.NoError(t, store.AppendRecords(ctx, id, records))
	require.NoError(t, store.UpdateStatus(ctx, id, job.StatusProcessing, ""))
	require.NoError(t, store.UpdateStatus(ctx, id, job.StatusCompleted, ""))
	return path
}

func newAnalysisFixture(t *testing.T) (*service.Analysis, *persistence.JobStore) {
	t.Helper()
	store := persistence.NewJobStore(testdb.New(t), nil)
	return service.NewAnalysis(store, nil), store
}

func TestAnalysisClusterEmbeddingsOnly(t *testing.T) {
	svc, store := newAnalysisFixture(t)
	ctx := context.Background()
	seedClusterableJob(t, store, "job-1")

	result, err := svc.Cluster(ctx, service.ClusterRequest{JobID: "job-1", NumClusters: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"embeddings_only"}, result.ColumnsUsed)
	assert.Equal(t, 2, result.FeatureDim)
	require.Len(t, result.Summary, 2)
	assert.Equal(t, 4, result.Summary[0].Count)
	assert.Equal(t, 4, result.Summary[1].Count)

	// Assignments are persisted on the records.
	it, err := store.StreamRecords(ctx, "job-1")
	require.NoError(t, err)
	defer func() { _ = it.Close() }()
	var first, last *int
	for it.Next() {
		r := it.Record()
		require.NotNil(t, r.ClusterID())
		if r.RowIndex() == 0 {
			first = r.ClusterID()
		}
		if r.RowIndex() == 7 {
			last = r.ClusterID()
		}
	}
	require.NoError(t, it.Err())
	assert.NotEqual(t, *first, *last, "separated groups get different clusters")
}

func TestAnalysisClusterWithColumns(t *testing.T) {
	svc, store := newAnalysisFixture(t)
	seedClusterableJob(t, store, "job-1")

	result, err := svc.Cluster(context.Background(), service.ClusterRequest{
		JobID:       "job-1",
		NumClusters: 2,
		Columns:     []string{"name", "amount"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "amount"}, result.ColumnsUsed)
	// name feeds the embedded text, so its block is the 2-dim embeddings;
	// amount adds one numeric column.
	assert.Equal(t, 3, result.FeatureDim)
}

func TestAnalysisClusterErrors(t *testing.T) {
	svc, store := newAnalysisFixture(t)
	ctx := context.Background()

	t.Run("missing job", func(t *testing.T) {
		_, err := svc.Cluster(ctx, service.ClusterRequest{JobID: "missing"})
		require.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("job not completed", func(t *testing.T) {
		require.NoError(t, store.CreateJob(ctx, job.NewJob("pending", "/tmp/in.csv", 1)))
		_, err := svc.Cluster(ctx, service.ClusterRequest{JobID: "pending"})
		require.ErrorIs(t, err, job.ErrJobNotReady)
	})

	t.Run("unknown column", func(t *testing.T) {
		seedClusterableJob(t, store, "job-1")
		_, err := svc.Cluster(ctx, service.ClusterRequest{
			JobID:   "job-1",
			Columns: []string{"bogus"},
		})
		var colErr *job.ColumnNotFoundError
		require.ErrorAs(t, err, &colErr)
	})

	t.Run("source file changed", func(t *testing.T) {
		path := seedClusterableJob(t, store, "job-2")
		require.NoError(t, os.WriteFile(path, []byte("name,amount\nonly-one,1\n"), 0o600))
		_, err := svc.Cluster(ctx, service.ClusterRequest{
			JobID:   "job-2",
			Columns: []string{"amount"},
		})
		var mismatch *job.RowCountMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 1, mismatch.SourceRows)
		assert.Equal(t, 8, mismatch.StoredRows)
	})
}

func seedCompareJob(t *testing.T, store *persistence.JobStore, id string, vectors [][]float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, job.NewJob(id, "/tmp/in.csv", len(vectors))))
	records := make([]job.EmbeddingRecord, len(vectors))
	for i, vec := range vectors {
		records[i] = job.NewEmbeddingRecord(id, i, fmt.Sprintf("%s-row-%d", id, i), vec, job.Metadata{"idx": float64(i)})
	}
	require.NoError(t, store.AppendRecords(ctx, id, records))
	require.NoError(t, store.UpdateStatus(ctx, id, job.StatusProcessing, ""))
	require.NoError(t, store.UpdateStatus(ctx, id, job.StatusCompleted, ""))
}

func TestAnalysisCompare(t *testing.T) {
	svc, store := newAnalysisFixture(t)
	ctx := context.Background()

	seedCompareJob(t, store, "job-a", [][]float64{
		{1, 0},
		{0, 1},
	})
	seedCompareJob(t, store, "job-b", [][]float64{
		{1, 0.01}, // near-identical to A row 0
		{0.01, 1}, // near-identical to A row 1
		{-1, 0},
	})

	matches, err := svc.Compare(ctx, service.CompareRequest{
		JobA:      "job-a",
		JobB:      "job-b",
		Threshold: 0.95,
		TopK:      5,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "job-a-row-0", matches[0].SourceRow.Text)
	assert.Equal(t, "job-b-row-0", matches[0].TargetRow.Text)
	assert.GreaterOrEqual(t, matches[0].Score, 0.95)
	assert.Equal(t, "0", matches[0].SourceRow.ID)

	assert.Equal(t, "job-a-row-1", matches[1].SourceRow.Text)
	assert.Equal(t, "job-b-row-1", matches[1].TargetRow.Text)
}

func TestAnalysisCompareTopKLimit(t *testing.T) {
	svc, store := newAnalysisFixture(t)

	seedCompareJob(t, store, "job-a", [][]float64{{1, 0}})
	seedCompareJob(t, store, "job-b", [][]float64{
		{1, 0}, {1, 0.01}, {1, 0.02}, {1, 0.03},
	})

	matches, err := svc.Compare(context.Background(), service.CompareRequest{
		JobA:      "job-a",
		JobB:      "job-b",
		Threshold: 0.5,
		TopK:      2,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 2, "matches per source row are capped at top k")
}

func TestAnalysisCompareZeroThreshold(t *testing.T) {
	svc, store := newAnalysisFixture(t)

	seedCompareJob(t, store, "job-a", [][]float64{{1, 0}})
	seedCompareJob(t, store, "job-b", [][]float64{
		{0, 1},
		{-1, 0},
	})

	matches, err := svc.Compare(context.Background(), service.CompareRequest{
		JobA:      "job-a",
		JobB:      "job-b",
		Threshold: 0,
		TopK:      5,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1, "zero threshold keeps orthogonal rows but not opposed ones")
	assert.Equal(t, "job-b-row-0", matches[0].TargetRow.Text)
	assert.InDelta(t, 0, matches[0].Score, 1e-9)
}

func TestAnalysisCompareEmptyJob(t *testing.T) {
	svc, store := newAnalysisFixture(t)
	ctx := context.Background()

	seedCompareJob(t, store, "job-a", [][]float64{{1, 0}})
	require.NoError(t, store.CreateJob(ctx, job.NewJob("job-empty", "/tmp/in.csv", 0)))

	_, err := svc.Compare(ctx, service.CompareRequest{JobA: "job-a", JobB: "job-empty"})
	require.ErrorIs(t, err, job.ErrEmptyJob)
}
