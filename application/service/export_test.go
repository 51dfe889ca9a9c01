package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/domain/job"
	"github.com/tablevec/tablevec/infrastructure/persistence"
	"github.com/tablevec/tablevec/internal/testdb"
)

func seedCompletedJob(t *testing.T, store *persistence.JobStore, id string, rows int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, job.NewJob(id, "/tmp/in.csv", rows)))

	records := make([]job.EmbeddingRecord, rows)
	for i := 0; i < rows; i++ {
		records[i] = job.NewEmbeddingRecord(
			id, i,
			strings.Repeat("x", i+1),
			[]float64{float64(i), 0.5},
			job.Metadata{"category": "a", "rank": float64(i)},
		)
	}
	require.NoError(t, store.AppendRecords(ctx, id, records))
	require.NoError(t, store.UpdateStatus(ctx, id, job.StatusProcessing, ""))
	require.NoError(t, store.UpdateStatus(ctx, id, job.StatusCompleted, ""))
}

func newExportFixture(t *testing.T) (*service.Exporter, *persistence.JobStore) {
	t.Helper()
	store := persistence.NewJobStore(testdb.New(t), nil)
	return service.NewExporter(store, nil), store
}

func TestExportJSON(t *testing.T) {
	exporter, store := newExportFixture(t)
	seedCompletedJob(t, store, "job-1", 3)

	var buf bytes.Buffer
	require.NoError(t, exporter.Export(context.Background(), "job-1", service.FormatJSON, &buf))

	var items []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &items))
	require.Len(t, items, 3)
	assert.Equal(t, "0", items[0]["id"])
	assert.Equal(t, "x", items[0]["text"])
	assert.Len(t, items[0]["embedding"], 2)
	assert.Nil(t, items[0]["cluster_id"])
	meta, ok := items[0]["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", meta["category"])
}

func TestExportJSONL(t *testing.T) {
	exporter, store := newExportFixture(t)
	seedCompletedJob(t, store, "job-1", 3)

	var buf bytes.Buffer
	require.NoError(t, exporter.Export(context.Background(), "job-1", service.FormatJSONL, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		var item map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &item), "line %d", i)
	}
}

func TestExportPinecone(t *testing.T) {
	exporter, store := newExportFixture(t)
	seedCompletedJob(t, store, "job-1", 2)
	require.NoError(t, store.SetClusterIDs(context.Background(), "job-1", map[int]int{0: 1, 1: 0}))

	var buf bytes.Buffer
	require.NoError(t, exporter.Export(context.Background(), "job-1", service.FormatPinecone, &buf))

	var envelope struct {
		Vectors []struct {
			ID       string         `json:"id"`
			Values   []float64      `json:"values"`
			Metadata map[string]any `json:"metadata"`
		} `json:"vectors"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	require.Len(t, envelope.Vectors, 2)
	assert.Equal(t, "0", envelope.Vectors[0].ID)
	assert.Equal(t, "x", envelope.Vectors[0].Metadata["text"])
	assert.Equal(t, float64(1), envelope.Vectors[0].Metadata["cluster_id"])
	assert.Equal(t, "a", envelope.Vectors[0].Metadata["category"])
}

func TestExportWeaviate(t *testing.T) {
	exporter, store := newExportFixture(t)
	seedCompletedJob(t, store, "job-1", 2)

	var buf bytes.Buffer
	require.NoError(t, exporter.Export(context.Background(), "job-1", service.FormatWeaviate, &buf))

	var envelope struct {
		Objects []struct {
			Class      string         `json:"class"`
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
			Vector     []float64      `json:"vector"`
		} `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	require.Len(t, envelope.Objects, 2)
	assert.Equal(t, service.WeaviateClassName, envelope.Objects[0].Class)
	assert.Equal(t, "x", envelope.Objects[0].Properties["text"])
	assert.Len(t, envelope.Objects[0].Vector, 2)
}

func TestExportQdrant(t *testing.T) {
	exporter, store := newExportFixture(t)
	seedCompletedJob(t, store, "job-1", 2)

	var buf bytes.Buffer
	require.NoError(t, exporter.Export(context.Background(), "job-1", service.FormatQdrant, &buf))

	var envelope struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float64      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	require.Len(t, envelope.Points, 2)
	assert.Equal(t, "x", envelope.Points[0].Payload["text"])
}

func TestExportGuards(t *testing.T) {
	exporter, store := newExportFixture(t)
	ctx := context.Background()

	t.Run("missing job", func(t *testing.T) {
		err := exporter.Export(ctx, "missing", service.FormatJSON, &bytes.Buffer{})
		require.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("job not completed", func(t *testing.T) {
		require.NoError(t, store.CreateJob(ctx, job.NewJob("pending", "/tmp/in.csv", 1)))
		err := exporter.Export(ctx, "pending", service.FormatJSON, &bytes.Buffer{})
		require.ErrorIs(t, err, job.ErrJobNotReady)
	})

	t.Run("unknown format", func(t *testing.T) {
		seedCompletedJob(t, store, "job-1", 1)
		err := exporter.Export(ctx, "job-1", "parquet", &bytes.Buffer{})
		require.ErrorIs(t, err, service.ErrUnknownFormat)
	})
}

func TestExportEmptyJob(t *testing.T) {
	exporter, store := newExportFixture(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, job.NewJob("empty", "/tmp/in.csv", 0)))
	require.NoError(t, store.UpdateStatus(ctx, "empty", job.StatusProcessing, ""))
	require.NoError(t, store.UpdateStatus(ctx, "empty", job.StatusCompleted, ""))

	var buf bytes.Buffer
	require.NoError(t, exporter.Export(ctx, "empty", service.FormatJSON, &buf))
	var items []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &items))
	assert.Empty(t, items)

	buf.Reset()
	require.NoError(t, exporter.Export(ctx, "empty", service.FormatJSONL, &buf))
	assert.Empty(t, strings.TrimSpace(buf.String()))

	buf.Reset()
	require.NoError(t, exporter.Export(ctx, "empty", service.FormatPinecone, &buf))
	var envelope struct {
		Vectors []any `json:"vectors"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	assert.Empty(t, envelope.Vectors)
}

func TestExportFilename(t *testing.T) {
	exporter, _ := newExportFixture(t)
	assert.Equal(t, "embeddings_json.json", exporter.Filename(service.FormatJSON))
	assert.Equal(t, "embeddings_jsonl.jsonl", exporter.Filename(service.FormatJSONL))
	assert.Equal(t, "embeddings_pinecone.json", exporter.Filename(service.FormatPinecone))
}
