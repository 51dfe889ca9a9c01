package dto

// ClusterRequest asks for a clustering pass over a completed job.
type ClusterRequest struct {
	JobID       string   `json:"job_id"`
	NumClusters int      `json:"num_clusters"`
	Columns     []string `json:"columns"`
}

// ClusterCount is the size of one cluster.
type ClusterCount struct {
	Cluster int `json:"cluster"`
	Count   int `json:"count"`
}

// ClusterResponse summarizes a clustering pass.
type ClusterResponse struct {
	Status      string         `json:"status"`
	Summary     []ClusterCount `json:"summary"`
	FeatureDim  int            `json:"feature_dim"`
	ColumnsUsed []string       `json:"columns_used"`
}

// CompareRequest asks for a similarity comparison between two jobs.
// Threshold distinguishes an explicit zero from an omitted field, which
// falls back to the default.
type CompareRequest struct {
	JobA      string   `json:"job_a"`
	JobB      string   `json:"job_b"`
	Threshold *float64 `json:"threshold"`
	TopK      int      `json:"top_k"`
}

// MatchRow is one side of a comparison match.
type MatchRow struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Match pairs a source row with a similar target row.
type Match struct {
	SourceRow MatchRow `json:"source_row"`
	TargetRow MatchRow `json:"target_row"`
	Score     float64  `json:"score"`
}

// CompareResponse lists the matches between two jobs.
type CompareResponse struct {
	Status     string  `json:"status"`
	MatchCount int     `json:"match_count"`
	Matches    []Match `json:"matches"`
}

// DownloadRequest is the POST body variant of the download endpoint.
type DownloadRequest struct {
	JobID  string `json:"job_id"`
	Format string `json:"format"`
}
