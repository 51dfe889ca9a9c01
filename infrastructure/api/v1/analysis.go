package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tablevec/tablevec"
	"github.com/tablevec/tablevec/application/service"
	"github.com/tablevec/tablevec/infrastructure/api/middleware"
	"github.com/tablevec/tablevec/infrastructure/api/v1/dto"
)

// AnalysisRouter handles clustering and comparison endpoints.
type AnalysisRouter struct {
	client *tablevec.Client
	logger *slog.Logger
}

// NewAnalysisRouter creates a new AnalysisRouter.
func NewAnalysisRouter(client *tablevec.Client) *AnalysisRouter {
	return &AnalysisRouter{
		client: client,
		logger: client.Logger(),
	}
}

// Cluster handles POST /api/cluster.
func (r *AnalysisRouter) Cluster(w http.ResponseWriter, req *http.Request) {
	var body dto.ClusterRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if body.JobID == "" {
		middleware.WriteBadRequest(w, "job_id is required")
		return
	}

	result, err := r.client.Analysis.Cluster(req.Context(), service.ClusterRequest{
		JobID:       body.JobID,
		NumClusters: body.NumClusters,
		Columns:     body.Columns,
	})
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	summary := make([]dto.ClusterCount, len(result.Summary))
	for i, c := range result.Summary {
		summary[i] = dto.ClusterCount{Cluster: c.Cluster, Count: c.Count}
	}

	middleware.WriteJSON(w, http.StatusOK, dto.ClusterResponse{
		Status:      "success",
		Summary:     summary,
		FeatureDim:  result.FeatureDim,
		ColumnsUsed: result.ColumnsUsed,
	})
}

// Compare handles POST /api/compare.
func (r *AnalysisRouter) Compare(w http.ResponseWriter, req *http.Request) {
	var body dto.CompareRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if body.JobA == "" || body.JobB == "" {
		middleware.WriteBadRequest(w, "job_a and job_b are required")
		return
	}

	threshold := service.DefaultCompareThreshold
	if body.Threshold != nil {
		threshold = *body.Threshold
	}

	matches, err := r.client.Analysis.Compare(req.Context(), service.CompareRequest{
		JobA:      body.JobA,
		JobB:      body.JobB,
		Threshold: threshold,
		TopK:      body.TopK,
	})
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	out := make([]dto.Match, len(matches))
	for i, m := range matches {
		out[i] = dto.Match{
			SourceRow: matchRowDTO(m.SourceRow),
			TargetRow: matchRowDTO(m.TargetRow),
			Score:     m.Score,
		}
	}

	middleware.WriteJSON(w, http.StatusOK, dto.CompareResponse{
		Status:     "success",
		MatchCount: len(out),
		Matches:    out,
	})
}

func matchRowDTO(row service.MatchRow) dto.MatchRow {
	return dto.MatchRow{
		ID:       row.ID,
		Text:     row.Text,
		Metadata: row.Metadata,
	}
}
