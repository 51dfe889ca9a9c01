package dto

// UploadTableResponse acknowledges a table import.
type UploadTableResponse struct {
	Status  string   `json:"status"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

// UploadDictionaryResponse acknowledges a data dictionary import.
// Indexed is false when no embedding provider was available to build the
// schema search index.
type UploadDictionaryResponse struct {
	Status  string `json:"status"`
	Indexed bool   `json:"indexed"`
}

// QueryRequest asks a natural language question over the loaded tables.
type QueryRequest struct {
	Question string `json:"question"`
}

// DictionaryEntry describes one column of one queryable table.
type DictionaryEntry struct {
	TableName   string `json:"table_name"`
	ColumnName  string `json:"column_name"`
	Description string `json:"description"`
}

// QueryResponse carries the generated SQL and its results. Error is set
// when the generated SQL failed to execute.
type QueryResponse struct {
	SQL            string            `json:"sql"`
	Columns        []string          `json:"columns"`
	Rows           [][]any           `json:"rows"`
	RelevantSchema []DictionaryEntry `json:"relevant_schema"`
	Error          string            `json:"error,omitempty"`
}
