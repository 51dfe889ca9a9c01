package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/tablevec/tablevec/domain/job"
	"github.com/tablevec/tablevec/infrastructure/analysis"
	"github.com/tablevec/tablevec/infrastructure/ingest"
)

// Comparison defaults.
const (
	DefaultCompareThreshold = 0.8
	DefaultCompareTopK      = 5
	DefaultClusterCount     = 5
)

// ClusterRequest asks for a clustering pass over a completed job.
type ClusterRequest struct {
	JobID       string
	NumClusters int
	Columns     []string
}

// ClusterCount is the size of one cluster.
type ClusterCount struct {
	Cluster int `json:"cluster"`
	Count   int `json:"count"`
}

// ClusterResult summarizes a clustering pass.
type ClusterResult struct {
	Summary     []ClusterCount `json:"summary"`
	FeatureDim  int            `json:"feature_dim"`
	ColumnsUsed []string       `json:"columns_used"`
}

// CompareRequest asks for a similarity comparison between two jobs.
// Threshold is used as given: zero keeps every non-negative similarity.
type CompareRequest struct {
	JobA      string
	JobB      string
	Threshold float64
	TopK      int
}

// MatchRow is one side of a comparison match.
type MatchRow struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Metadata job.Metadata `json:"metadata"`
}

// Match pairs a source row with a similar target row.
type Match struct {
	SourceRow MatchRow `json:"source_row"`
	TargetRow MatchRow `json:"target_row"`
	Score     float64  `json:"score"`
}

// Analysis runs clustering and cross-job comparison over stored embeddings.
type Analysis struct {
	store  job.Store
	logger *slog.Logger
}

// NewAnalysis creates an Analysis service.
func NewAnalysis(store job.Store, logger *slog.Logger) *Analysis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analysis{store: store, logger: logger}
}

// Cluster partitions a completed job's rows into k clusters and stores the
// assignments. With no columns selected, the embeddings alone are the
// feature space; otherwise the selected source columns are encoded and
// combined per column type.
func (a *Analysis) Cluster(ctx context.Context, req ClusterRequest) (ClusterResult, error) {
	k := req.NumClusters
	if k <= 0 {
		k = DefaultClusterCount
	}

	j, err := a.store.GetJob(ctx, req.JobID)
	if err != nil {
		return ClusterResult{}, err
	}
	if j.Status() != job.StatusCompleted {
		return ClusterResult{}, job.ErrJobNotReady
	}

	records, err := a.loadRecords(ctx, req.JobID)
	if err != nil {
		return ClusterResult{}, err
	}
	if len(records) == 0 {
		return ClusterResult{}, job.ErrNoEmbeddings
	}

	embeddings := make([][]float64, len(records))
	for i, r := range records {
		embeddings[i] = r.Vector()
	}

	features := embeddings
	columnsUsed := []string{"embeddings_only"}
	if len(req.Columns) > 0 {
		features, err = a.buildColumnFeatures(j, records, embeddings, req.Columns)
		if err != nil {
			return ClusterResult{}, err
		}
		columnsUsed = req.Columns
	}

	labels, err := analysis.KMeans(features, k)
	if err != nil {
		return ClusterResult{}, err
	}

	assignments := make(map[int]int, len(records))
	for i, r := range records {
		assignments[r.RowIndex()] = labels[i]
	}
	if err := a.store.SetClusterIDs(ctx, req.JobID, assignments); err != nil {
		return ClusterResult{}, err
	}

	counts := make(map[int]int)
	for _, label := range labels {
		counts[label]++
	}
	summary := make([]ClusterCount, 0, len(counts))
	for cluster, count := range counts {
		summary = append(summary, ClusterCount{Cluster: cluster, Count: count})
	}
	sort.Slice(summary, func(i, j int) bool { return summary[i].Cluster < summary[j].Cluster })

	featureDim := 0
	if len(features) > 0 {
		featureDim = len(features[0])
	}

	a.logger.Info("clustered job",
		"job_id", req.JobID, "k", k, "feature_dim", featureDim, "rows", len(records))

	return ClusterResult{
		Summary:     summary,
		FeatureDim:  featureDim,
		ColumnsUsed: columnsUsed,
	}, nil
}

// buildColumnFeatures re-reads the source file and encodes the selected
// columns. The file must still match the stored embeddings row for row.
func (a *Analysis) buildColumnFeatures(j job.Job, records []job.EmbeddingRecord, embeddings [][]float64, columns []string) ([][]float64, error) {
	source, err := ingest.NewSource(j.InputFilePath(), nil)
	if err != nil {
		return nil, err
	}
	for _, col := range columns {
		if !containsColumn(source.Columns(), col) {
			return nil, &job.ColumnNotFoundError{Column: col}
		}
	}

	rows, err := a.readAllRows(source)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(records) {
		return nil, &job.RowCountMismatchError{SourceRows: len(rows), StoredRows: len(records)}
	}

	columnValues := make([]analysis.ColumnValues, len(columns))
	for ci, col := range columns {
		values := make([]string, len(rows))
		for ri, row := range rows {
			values[ri] = stringValue(row.Metadata[col])
		}
		columnValues[ci] = analysis.ColumnValues{Name: col, Values: values}
	}

	return analysis.BuildFeatureMatrix(columnValues, embeddings, records[0].Text())
}

func (a *Analysis) readAllRows(source *ingest.Source) ([]ingest.Row, error) {
	it, err := source.Chunks(ChunkSize)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var rows []ingest.Row
	for it.Next() {
		rows = append(rows, it.Chunk()...)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Compare finds, for every row of job A, the most similar rows of job B
// scoring at or above the threshold. Both jobs' records load in parallel.
func (a *Analysis) Compare(ctx context.Context, req CompareRequest) ([]Match, error) {
	threshold := req.Threshold
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultCompareTopK
	}

	var recordsA, recordsB []job.EmbeddingRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recordsA, err = a.loadRecords(gctx, req.JobA)
		return err
	})
	g.Go(func() error {
		var err error
		recordsB, err = a.loadRecords(gctx, req.JobB)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(recordsA) == 0 || len(recordsB) == 0 {
		return nil, job.ErrEmptyJob
	}

	vectorsB := make([]analysis.StoredVector, len(recordsB))
	byIndexB := make(map[int]job.EmbeddingRecord, len(recordsB))
	for i, r := range recordsB {
		vectorsB[i] = analysis.NewStoredVector(r.RowIndex(), r.Vector())
		byIndexB[r.RowIndex()] = r
	}

	matches := make([]Match, 0)
	for _, src := range recordsA {
		top := analysis.TopKSimilar(src.Vector(), vectorsB, topK, threshold)
		for _, m := range top {
			target := byIndexB[m.RowIndex()]
			matches = append(matches, Match{
				SourceRow: matchRow(src),
				TargetRow: matchRow(target),
				Score:     m.Similarity(),
			})
		}
	}

	a.logger.Info("compared jobs",
		"job_a", req.JobA, "job_b", req.JobB, "matches", len(matches))

	return matches, nil
}

func matchRow(r job.EmbeddingRecord) MatchRow {
	return MatchRow{
		ID:       stringValue(r.RowIndex()),
		Text:     r.Text(),
		Metadata: r.Metadata(),
	}
}

// stringValue renders a metadata cell or identifier as its source string
// form. Whole floats drop the decimal point, matching the original cells.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func (a *Analysis) loadRecords(ctx context.Context, jobID string) ([]job.EmbeddingRecord, error) {
	it, err := a.store.StreamRecords(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var records []job.EmbeddingRecord
	for it.Next() {
		records = append(records, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
