package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tablevec/tablevec/domain/job"
	"github.com/tablevec/tablevec/domain/provider"
	"github.com/tablevec/tablevec/infrastructure/ingest"
)

// ChunkSize is the number of rows read, embedded, and stored per batch.
const ChunkSize = 100

// EmbedderSource supplies embedders by provider name and model.
type EmbedderSource interface {
	Get(name, model string) (provider.Embedder, error)
}

// UploadResult describes a freshly uploaded source file.
type UploadResult struct {
	JobID    string
	Columns  []string
	Preview  []job.Metadata
	RowCount int
}

// GenerateRequest starts embedding generation for an uploaded job.
type GenerateRequest struct {
	JobID           string
	TextColumns     []string
	MetadataColumns []string
	Provider        string
	Model           string
	CombineColumns  bool
}

// Ingestion manages job creation and background embedding generation.
type Ingestion struct {
	store     job.Store
	embedders EmbedderSource
	runners   *RunnerRegistry
	uploadDir string
	logger    *slog.Logger
}

// NewIngestion creates an Ingestion service.
func NewIngestion(store job.Store, embedders EmbedderSource, runners *RunnerRegistry, uploadDir string, logger *slog.Logger) *Ingestion {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestion{
		store:     store,
		embedders: embedders,
		runners:   runners,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// Upload stores a CSV source file, probes it, and creates a pending job.
func (s *Ingestion) Upload(ctx context.Context, filename string, r io.Reader) (UploadResult, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return UploadResult{}, fmt.Errorf("file must be a CSV: %s", filename)
	}

	jobID := uuid.NewString()
	path := filepath.Join(s.uploadDir, jobID+".csv")

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return UploadResult{}, fmt.Errorf("create upload directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return UploadResult{}, fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("close upload file: %w", err)
	}

	source, err := ingest.NewSource(path, nil)
	if err != nil {
		_ = os.Remove(path)
		return UploadResult{}, err
	}

	previewRows, err := source.Preview(5)
	if err != nil {
		_ = os.Remove(path)
		return UploadResult{}, err
	}
	preview := make([]job.Metadata, len(previewRows))
	for i, row := range previewRows {
		preview[i] = row.Metadata
	}

	rowCount, err := source.CountRows()
	if err != nil {
		_ = os.Remove(path)
		return UploadResult{}, err
	}

	if err := s.store.CreateJob(ctx, job.NewJob(jobID, path, rowCount)); err != nil {
		_ = os.Remove(path)
		return UploadResult{}, err
	}

	s.logger.Info("uploaded source file",
		"job_id", jobID, "rows", rowCount, "columns", len(source.Columns()))

	return UploadResult{
		JobID:    jobID,
		Columns:  source.Columns(),
		Preview:  preview,
		RowCount: rowCount,
	}, nil
}

// Generate validates the request, resolves the embedder, and launches the
// background pipeline. Configuration problems surface here, before the job
// leaves the pending state.
func (s *Ingestion) Generate(ctx context.Context, req GenerateRequest) error {
	j, err := s.store.GetJob(ctx, req.JobID)
	if err != nil {
		return err
	}
	if j.Status() != job.StatusPending {
		return &job.InvalidTransitionError{From: j.Status(), To: job.StatusProcessing}
	}

	textColumns := req.TextColumns
	if !req.CombineColumns && len(textColumns) > 1 {
		textColumns = textColumns[:1]
	}

	source, err := ingest.NewSource(j.InputFilePath(), textColumns)
	if err != nil {
		return err
	}
	for _, col := range req.MetadataColumns {
		if !containsColumn(source.Columns(), col) {
			return &job.ColumnNotFoundError{Column: col}
		}
	}

	embedder, err := s.embedders.Get(req.Provider, req.Model)
	if err != nil {
		return err
	}

	if err := s.store.UpdateStatus(ctx, req.JobID, job.StatusProcessing, ""); err != nil {
		return err
	}

	// Best effort annotation: the job is already queued for processing.
	if err := s.store.SetProviderModel(ctx, req.JobID, req.Provider, req.Model); err != nil {
		s.logger.Warn("annotate provider", "job_id", req.JobID, "error", err)
	}

	// The pipeline outlives the request that started it.
	return s.runners.Start(context.WithoutCancel(ctx), req.JobID, func(ctx context.Context) {
		s.runJob(ctx, req.JobID, source, embedder, req.MetadataColumns)
	})
}

// Status retrieves the job for progress reporting.
func (s *Ingestion) Status(ctx context.Context, id string) (job.Job, error) {
	return s.store.GetJob(ctx, id)
}

// runJob is the background pipeline: read a chunk, embed it, persist it,
// advance progress, repeat. Any failure marks the job failed with the
// error message; rows stored before the failure stay stored.
func (s *Ingestion) runJob(ctx context.Context, jobID string, source *ingest.Source, embedder provider.Embedder, metadataColumns []string) {
	processed, err := s.processChunks(ctx, jobID, source, embedder, metadataColumns)
	if err != nil {
		s.logger.Error("job failed", "job_id", jobID, "processed", processed, "error", err)
		if updateErr := s.store.UpdateStatus(ctx, jobID, job.StatusFailed, err.Error()); updateErr != nil {
			s.logger.Error("mark job failed", "job_id", jobID, "error", updateErr)
		}
		return
	}

	if err := s.store.UpdateStatus(ctx, jobID, job.StatusCompleted, ""); err != nil {
		s.logger.Error("mark job completed", "job_id", jobID, "error", err)
		return
	}
	s.logger.Info("job completed", "job_id", jobID, "rows", processed)
}

func (s *Ingestion) processChunks(ctx context.Context, jobID string, source *ingest.Source, embedder provider.Embedder, metadataColumns []string) (int, error) {
	it, err := source.Chunks(ChunkSize)
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()

	processed := 0
	for it.Next() {
		chunk := it.Chunk()

		texts := make([]string, len(chunk))
		for i, row := range chunk {
			texts[i] = row.Text
		}

		resp, err := embedder.Embed(ctx, provider.NewEmbeddingRequest(texts))
		if err != nil {
			return processed, err
		}
		vectors := resp.Embeddings()
		if len(vectors) != len(chunk) {
			return processed, fmt.Errorf("embedder returned %d vectors for %d rows", len(vectors), len(chunk))
		}

		records := make([]job.EmbeddingRecord, len(chunk))
		for i, row := range chunk {
			records[i] = job.NewEmbeddingRecord(
				jobID,
				row.Index,
				row.Text,
				vectors[i],
				filterMetadata(row.Metadata, metadataColumns),
			)
		}

		if err := s.store.AppendRecords(ctx, jobID, records); err != nil {
			return processed, err
		}

		processed += len(chunk)
		if err := s.store.AdvanceProgress(ctx, jobID, processed); err != nil {
			return processed, err
		}
		s.logger.Debug("chunk stored", "job_id", jobID, "processed", processed)
	}
	if err := it.Err(); err != nil {
		return processed, err
	}

	return processed, nil
}

// filterMetadata keeps only the requested columns. An empty selection
// keeps every column.
func filterMetadata(meta job.Metadata, columns []string) job.Metadata {
	if len(columns) == 0 {
		return meta
	}
	out := make(job.Metadata, len(columns))
	for _, col := range columns {
		if v, ok := meta[col]; ok {
			out[col] = v
		}
	}
	return out
}

func containsColumn(columns []string, col string) bool {
	for _, c := range columns {
		if c == col {
			return true
		}
	}
	return false
}
