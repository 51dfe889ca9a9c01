package job

import (
	"context"
	"errors"
	"fmt"
)

// Store invariant violations and lookup failures. These are caller errors
// under correct pipeline use: the single producer per job never regresses
// progress or re-appends a row index.
var (
	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateJob indicates a job with the same id already exists.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrDuplicateRow indicates a row index in a batch already exists
	// for the job.
	ErrDuplicateRow = errors.New("row index already stored for job")

	// ErrProgressRegression indicates AdvanceProgress was called with a
	// value below the current processed row count.
	ErrProgressRegression = errors.New("processed row count may not decrease")

	// ErrJobNotReady indicates export or analysis was attempted on a job
	// that has not completed.
	ErrJobNotReady = errors.New("job is not completed")

	// ErrNoEmbeddings indicates the job has no stored rows.
	ErrNoEmbeddings = errors.New("no embeddings stored for job")

	// ErrEmptyJob indicates a comparison side has no stored rows.
	ErrEmptyJob = errors.New("job has no embeddings to compare")
)

// InvalidTransitionError indicates a status update the lifecycle does not
// allow, such as mutating a terminal job.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job cannot move from %s to %s", e.From, e.To)
}

// ColumnNotFoundError indicates a clustering column is absent from the
// original source file.
type ColumnNotFoundError struct {
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found in source file", e.Column)
}

// RowCountMismatchError indicates the source file's row count no longer
// matches the stored embedding count; the file changed since ingestion.
type RowCountMismatchError struct {
	SourceRows int
	StoredRows int
}

func (e *RowCountMismatchError) Error() string {
	return fmt.Sprintf("source file has %d rows but %d embeddings are stored", e.SourceRows, e.StoredRows)
}

// Store persists jobs and their embedding records. All writes for a given
// job come from its single owning producer, so the store only guards
// per-row uniqueness and progress monotonicity; it must support concurrent
// readers while the owner writes.
type Store interface {
	// CreateJob persists a new pending job. Fails with ErrDuplicateJob
	// if the id is already taken.
	CreateJob(ctx context.Context, j Job) error

	// GetJob retrieves a job by id, or ErrNotFound.
	GetJob(ctx context.Context, id string) (Job, error)

	// UpdateStatus sets the job's status and, for failures, the error
	// message. Fails with InvalidTransitionError when the lifecycle does
	// not allow the move; terminal jobs accept no further updates.
	UpdateStatus(ctx context.Context, id string, status Status, errorMessage string) error

	// SetProviderModel annotates the job with the embedding provider and
	// model it is being processed with.
	SetProviderModel(ctx context.Context, id, provider, model string) error

	// AdvanceProgress sets the processed row count. Fails with
	// ErrProgressRegression and leaves state unchanged if processedRows
	// is below the current value.
	AdvanceProgress(ctx context.Context, id string, processedRows int) error

	// AppendRecords persists a batch of records atomically. Fails with
	// ErrDuplicateRow if any row index in the batch already exists.
	AppendRecords(ctx context.Context, id string, batch []EmbeddingRecord) error

	// SetClusterIDs annotates stored records with cluster assignments,
	// keyed by row index.
	SetClusterIDs(ctx context.Context, id string, assignments map[int]int) error

	// CountRecords returns the number of stored records for the job.
	CountRecords(ctx context.Context, id string) (int64, error)

	// StreamRecords returns a fresh iterator over the job's records in
	// ascending row-index order. The sequence is finite and bounded by
	// the job's total row count; each call restarts from the beginning.
	StreamRecords(ctx context.Context, id string) (RecordIterator, error)

	// MarkOrphansFailed transitions every job stuck in processing to
	// failed with the given message. Used by the startup reconciliation
	// sweep; returns the number of jobs swept.
	MarkOrphansFailed(ctx context.Context, message string) (int64, error)
}

// RecordIterator is a lazy, ordered cursor over a job's embedding records.
// Callers must Close it when done.
type RecordIterator interface {
	// Next advances the iterator. It returns false when the sequence is
	// exhausted or an error occurred; check Err after a false return.
	Next() bool

	// Record returns the current record. Only valid after Next returned
	// true.
	Record() EmbeddingRecord

	// Err returns the first error encountered while iterating.
	Err() error

	// Close releases the iterator's resources.
	Close() error
}
