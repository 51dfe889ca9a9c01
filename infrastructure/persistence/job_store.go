package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/tablevec/tablevec/domain/job"
	"github.com/tablevec/tablevec/internal/database"
)

const (
	appendBatchSize = 100
	streamBatchSize = 500
)

// JobStore implements job.Store on GORM.
type JobStore struct {
	db     database.Database
	logger *slog.Logger
}

// NewJobStore creates a JobStore.
func NewJobStore(db database.Database, logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{db: db, logger: logger}
}

// CreateJob persists a new pending job.
func (s *JobStore) CreateJob(ctx context.Context, j job.Job) error {
	return s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&JobModel{}).Where("id = ?", j.ID()).Count(&count).Error; err != nil {
			return fmt.Errorf("check job exists: %w", err)
		}
		if count > 0 {
			return job.ErrDuplicateJob
		}

		model := JobModelFromDomain(j)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return nil
	})
}

// GetJob retrieves a job by id.
func (s *JobStore) GetJob(ctx context.Context, id string) (job.Job, error) {
	var model JobModel
	err := s.db.Session(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return job.Job{}, job.ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("get job: %w", err)
	}
	return model.ToDomain(), nil
}

// UpdateStatus sets the job's status and, for failures, the error message.
// Moves the lifecycle does not allow are rejected; terminal jobs stay as
// they are.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, status job.Status, errorMessage string) error {
	return s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var model JobModel
		err := tx.Where("id = ?", id).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return job.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		current := job.Status(model.Status)
		if !current.CanTransitionTo(status) {
			return &job.InvalidTransitionError{From: current, To: status}
		}

		return tx.Model(&JobModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":        string(status),
			"error_message": errorMessage,
		}).Error
	})
}

// SetProviderModel annotates the job with its embedding provider and model.
func (s *JobStore) SetProviderModel(ctx context.Context, id, provider, model string) error {
	result := s.db.Session(ctx).Model(&JobModel{}).Where("id = ?", id).
		Updates(map[string]any{"provider": provider, "model": model})
	if result.Error != nil {
		return fmt.Errorf("set provider: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return job.ErrNotFound
	}
	return nil
}

// AdvanceProgress sets the processed row count, rejecting regressions.
func (s *JobStore) AdvanceProgress(ctx context.Context, id string, processedRows int) error {
	return s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var model JobModel
		err := tx.Where("id = ?", id).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return job.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		if processedRows < model.ProcessedRows {
			return job.ErrProgressRegression
		}

		return tx.Model(&JobModel{}).Where("id = ?", id).
			Update("processed_rows", processedRows).Error
	})
}

// AppendRecords persists a batch of records atomically. The whole batch is
// rejected when any of its row indexes is already stored for the job.
func (s *JobStore) AppendRecords(ctx context.Context, id string, batch []job.EmbeddingRecord) error {
	if len(batch) == 0 {
		return nil
	}

	indexes := make([]int, len(batch))
	models := make([]EmbeddingRecordModel, len(batch))
	for i, r := range batch {
		indexes[i] = r.RowIndex()
		m := RecordModelFromDomain(r)
		m.JobID = id
		models[i] = m
	}

	return s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&EmbeddingRecordModel{}).
			Where("job_id = ? AND row_index IN ?", id, indexes).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("check duplicate rows: %w", err)
		}
		if count > 0 {
			return job.ErrDuplicateRow
		}

		if err := tx.CreateInBatches(models, appendBatchSize).Error; err != nil {
			return fmt.Errorf("append records: %w", err)
		}
		return nil
	})
}

// SetClusterIDs annotates stored records with cluster assignments.
func (s *JobStore) SetClusterIDs(ctx context.Context, id string, assignments map[int]int) error {
	if len(assignments) == 0 {
		return nil
	}

	return s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		for rowIndex, clusterID := range assignments {
			err := tx.Model(&EmbeddingRecordModel{}).
				Where("job_id = ? AND row_index = ?", id, rowIndex).
				Update("cluster_id", clusterID).Error
			if err != nil {
				return fmt.Errorf("set cluster id for row %d: %w", rowIndex, err)
			}
		}
		return nil
	})
}

// CountRecords returns the number of stored records for the job.
func (s *JobStore) CountRecords(ctx context.Context, id string) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&EmbeddingRecordModel{}).
		Where("job_id = ?", id).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// StreamRecords returns a fresh iterator over the job's records in
// ascending row-index order, fetched in batches.
func (s *JobStore) StreamRecords(ctx context.Context, id string) (job.RecordIterator, error) {
	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}

	return &recordIterator{
		ctx:       ctx,
		db:        s.db,
		jobID:     id,
		batchSize: streamBatchSize,
		lastIndex: -1,
	}, nil
}

// MarkOrphansFailed transitions every job stuck in processing to failed.
func (s *JobStore) MarkOrphansFailed(ctx context.Context, message string) (int64, error) {
	result := s.db.Session(ctx).Model(&JobModel{}).
		Where("status = ?", string(job.StatusProcessing)).
		Updates(map[string]any{
			"status":        string(job.StatusFailed),
			"error_message": message,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("mark orphans failed: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Warn("swept orphaned jobs", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

var _ job.Store = (*JobStore)(nil)

// recordIterator pages through a job's records with keyset pagination on
// row_index, keeping at most one batch in memory.
type recordIterator struct {
	ctx       context.Context
	db        database.Database
	jobID     string
	batchSize int

	batch     []EmbeddingRecordModel
	pos       int
	lastIndex int
	current   job.EmbeddingRecord
	err       error
	done      bool
	closed    bool
}

// Next advances the iterator, fetching the next batch when the current one
// is exhausted.
func (it *recordIterator) Next() bool {
	if it.closed || it.done || it.err != nil {
		return false
	}

	if it.pos >= len(it.batch) {
		if err := it.fetch(); err != nil {
			it.err = err
			return false
		}
		if len(it.batch) == 0 {
			it.done = true
			return false
		}
	}

	model := it.batch[it.pos]
	it.pos++
	it.lastIndex = model.RowIndex
	it.current = model.ToDomain()
	return true
}

func (it *recordIterator) fetch() error {
	if err := it.ctx.Err(); err != nil {
		return err
	}

	var batch []EmbeddingRecordModel
	err := it.db.Session(it.ctx).
		Where("job_id = ? AND row_index > ?", it.jobID, it.lastIndex).
		Order("row_index ASC").
		Limit(it.batchSize).
		Find(&batch).Error
	if err != nil {
		return fmt.Errorf("fetch record batch: %w", err)
	}

	it.batch = batch
	it.pos = 0
	return nil
}

// Record returns the current record.
func (it *recordIterator) Record() job.EmbeddingRecord {
	return it.current
}

// Err returns the first error encountered while iterating.
func (it *recordIterator) Err() error {
	return it.err
}

// Close releases the iterator.
func (it *recordIterator) Close() error {
	it.closed = true
	it.batch = nil
	return nil
}

var _ job.RecordIterator = (*recordIterator)(nil)
