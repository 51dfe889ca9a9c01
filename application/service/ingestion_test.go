package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/domain/job"
	"github.com/tablevec/tablevec/domain/provider"
	"github.com/tablevec/tablevec/infrastructure/persistence"
	"github.com/tablevec/tablevec/internal/testdb"
)

// fakeEmbedder returns deterministic vectors and can be told to fail
// after a number of successful calls.
type fakeEmbedder struct {
	dimension int
	calls     int
	failAfter int
}

func (f *fakeEmbedder) Embed(_ context.Context, req provider.EmbeddingRequest) (provider.EmbeddingResponse, error) {
	f.calls++
	if f.failAfter > 0 && f.calls > f.failAfter {
		return provider.EmbeddingResponse{}, errors.New("backend unavailable")
	}
	texts := req.Texts()
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = []float64{float64(len(text)), 1, 0}
	}
	return provider.NewEmbeddingResponse(vectors), nil
}

func (f *fakeEmbedder) Dimension() int { return f.dimension }
func (f *fakeEmbedder) Close() error   { return nil }

// fakeEmbedderSource hands out one fake embedder for any provider name,
// or a configuration error when broken.
type fakeEmbedderSource struct {
	embedder provider.Embedder
	err      error
}

func (s *fakeEmbedderSource) Get(_, _ string) (provider.Embedder, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.embedder, nil
}

type ingestionFixture struct {
	service *service.Ingestion
	store   *persistence.JobStore
	runners *service.RunnerRegistry
	source  *fakeEmbedderSource
}

func newIngestionFixture(t *testing.T) *ingestionFixture {
	t.Helper()
	store := persistence.NewJobStore(testdb.New(t), nil)
	runners := service.NewRunnerRegistry()
	source := &fakeEmbedderSource{embedder: &fakeEmbedder{dimension: 3}}
	svc := service.NewIngestion(store, source, runners, t.TempDir(), nil)
	return &ingestionFixture{service: svc, store: store, runners: runners, source: source}
}

func csvContent(rows int) string {
	var sb strings.Builder
	sb.WriteString("title,body,score\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "title-%d,body text %d,%d\n", i, i, i)
	}
	return sb.String()
}

func TestIngestionUpload(t *testing.T) {
	fx := newIngestionFixture(t)
	ctx := context.Background()

	result, err := fx.service.Upload(ctx, "data.csv", strings.NewReader(csvContent(7)))
	require.NoError(t, err)
	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, []string{"title", "body", "score"}, result.Columns)
	assert.Equal(t, 7, result.RowCount)
	assert.Len(t, result.Preview, 5)

	j, err := fx.store.GetJob(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status())
	assert.Equal(t, 7, j.TotalRows())
}

func TestIngestionUploadRejectsNonCSV(t *testing.T) {
	fx := newIngestionFixture(t)
	_, err := fx.service.Upload(context.Background(), "data.txt", strings.NewReader("x"))
	require.Error(t, err)
}

func TestIngestionGenerate(t *testing.T) {
	fx := newIngestionFixture(t)
	ctx := context.Background()

	// 250 rows cross multiple chunks.
	upload, err := fx.service.Upload(ctx, "data.csv", strings.NewReader(csvContent(250)))
	require.NoError(t, err)

	err = fx.service.Generate(ctx, service.GenerateRequest{
		JobID:           upload.JobID,
		TextColumns:     []string{"title", "body"},
		MetadataColumns: []string{"score"},
		Provider:        "openai",
		CombineColumns:  true,
	})
	require.NoError(t, err)

	fx.runners.Wait(upload.JobID)

	j, err := fx.store.GetJob(ctx, upload.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status())
	assert.Equal(t, 250, j.ProcessedRows())

	count, err := fx.store.CountRecords(ctx, upload.JobID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)

	it, err := fx.store.StreamRecords(ctx, upload.JobID)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()
	require.True(t, it.Next())
	r := it.Record()
	assert.Equal(t, "title-0 body text 0", r.Text(), "text columns are joined")
	meta := r.Metadata()
	assert.Contains(t, meta, "score")
	assert.NotContains(t, meta, "title", "metadata is limited to the selected columns")
}

func TestIngestionGenerateSingleColumn(t *testing.T) {
	fx := newIngestionFixture(t)
	ctx := context.Background()

	upload, err := fx.service.Upload(ctx, "data.csv", strings.NewReader(csvContent(3)))
	require.NoError(t, err)

	err = fx.service.Generate(ctx, service.GenerateRequest{
		JobID:          upload.JobID,
		TextColumns:    []string{"title", "body"},
		Provider:       "openai",
		CombineColumns: false,
	})
	require.NoError(t, err)
	fx.runners.Wait(upload.JobID)

	it, err := fx.store.StreamRecords(ctx, upload.JobID)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()
	require.True(t, it.Next())
	assert.Equal(t, "title-0", it.Record().Text(), "only the first text column is used")
}

func TestIngestionGenerateFailureKeepsStoredRows(t *testing.T) {
	fx := newIngestionFixture(t)
	ctx := context.Background()
	fx.source.embedder = &fakeEmbedder{dimension: 3, failAfter: 2}

	upload, err := fx.service.Upload(ctx, "data.csv", strings.NewReader(csvContent(250)))
	require.NoError(t, err)

	err = fx.service.Generate(ctx, service.GenerateRequest{
		JobID:          upload.JobID,
		TextColumns:    []string{"title"},
		Provider:       "openai",
		CombineColumns: true,
	})
	require.NoError(t, err)
	fx.runners.Wait(upload.JobID)

	j, err := fx.store.GetJob(ctx, upload.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status())
	assert.Contains(t, j.ErrorMessage(), "backend unavailable")

	count, err := fx.store.CountRecords(ctx, upload.JobID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), count, "chunks stored before the failure survive")
	assert.Equal(t, 200, j.ProcessedRows())
}

func TestIngestionGenerateConfigErrorLeavesPending(t *testing.T) {
	fx := newIngestionFixture(t)
	ctx := context.Background()
	fx.source.err = provider.NewConfigurationError("unknown provider %q", "bogus")

	upload, err := fx.service.Upload(ctx, "data.csv", strings.NewReader(csvContent(3)))
	require.NoError(t, err)

	err = fx.service.Generate(ctx, service.GenerateRequest{
		JobID:       upload.JobID,
		TextColumns: []string{"title"},
		Provider:    "bogus",
	})
	var cfgErr *provider.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	j, err := fx.store.GetJob(ctx, upload.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status(), "no background work starts on bad config")
}

func TestIngestionGenerateRefusesFinishedJob(t *testing.T) {
	fx := newIngestionFixture(t)
	ctx := context.Background()

	upload, err := fx.service.Upload(ctx, "data.csv", strings.NewReader(csvContent(2)))
	require.NoError(t, err)

	req := service.GenerateRequest{
		JobID:          upload.JobID,
		TextColumns:    []string{"title"},
		Provider:       "openai",
		CombineColumns: true,
	}
	require.NoError(t, fx.service.Generate(ctx, req))
	fx.runners.Wait(upload.JobID)

	err = fx.service.Generate(ctx, req)
	var transitionErr *job.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, job.StatusCompleted, transitionErr.From)

	j, err := fx.store.GetJob(ctx, upload.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status(), "finished job is untouched")
	assert.Empty(t, j.ErrorMessage())
	assert.Equal(t, 2, j.ProcessedRows())
}

func TestIngestionGenerateUnknownJob(t *testing.T) {
	fx := newIngestionFixture(t)
	err := fx.service.Generate(context.Background(), service.GenerateRequest{JobID: "missing"})
	require.ErrorIs(t, err, job.ErrNotFound)
}

func TestIngestionGenerateUnknownColumn(t *testing.T) {
	fx := newIngestionFixture(t)
	ctx := context.Background()

	upload, err := fx.service.Upload(ctx, "data.csv", strings.NewReader(csvContent(3)))
	require.NoError(t, err)

	err = fx.service.Generate(ctx, service.GenerateRequest{
		JobID:       upload.JobID,
		TextColumns: []string{"nope"},
		Provider:    "openai",
	})
	var colErr *job.ColumnNotFoundError
	require.ErrorAs(t, err, &colErr)
}
