package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/tablevec/tablevec/domain/provider"
	"github.com/tablevec/tablevec/infrastructure/analysis"
	"github.com/tablevec/tablevec/infrastructure/ingest"
	"github.com/tablevec/tablevec/internal/database"
)

const (
	// schemaSearchTopK limits how many dictionary entries feed the SQL
	// generation prompt.
	schemaSearchTopK = 10

	// unindexedSchemaLimit caps the fallback schema context when the
	// dictionary has not been embedded yet.
	unindexedSchemaLimit = 20
)

var tableNameSanitizer = regexp.MustCompile(`\W+`)

// SanitizeTableName collapses every run of non-word characters in a
// table name to a single underscore.
func SanitizeTableName(name string) string {
	return tableNameSanitizer.ReplaceAllString(name, "_")
}

// DictionaryEntry describes one column of one queryable table.
type DictionaryEntry struct {
	TableName   string `json:"table_name"`
	ColumnName  string `json:"column_name"`
	Description string `json:"description"`
}

// SchemaManager holds the queryable tables and the data dictionary that
// describes them. Tables live in their own SQL database, separate from
// the job store.
type SchemaManager struct {
	db     database.Database
	logger *slog.Logger

	mu           sync.RWMutex
	dictionary   []DictionaryEntry
	tableSchemas map[string][]string
	embedder     provider.Embedder
	dictVectors  [][]float64
}

// NewSchemaManager creates a SchemaManager backed by the given database.
func NewSchemaManager(db database.Database, logger *slog.Logger) *SchemaManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaManager{
		db:           db,
		logger:       logger,
		tableSchemas: make(map[string][]string),
	}
}

// LoadTable imports a CSV file as a SQL table, replacing any existing
// table of the same name. All columns are stored as text.
func (m *SchemaManager) LoadTable(ctx context.Context, tableName, csvPath string) error {
	tableName = SanitizeTableName(tableName)

	source, err := ingest.NewSource(csvPath, nil)
	if err != nil {
		return err
	}
	columns := source.Columns()

	session := m.db.Session(ctx)
	if err := session.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, tableName)).Error; err != nil {
		return fmt.Errorf("drop table %s: %w", tableName, err)
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = fmt.Sprintf(`"%s" TEXT`, col)
	}
	createSQL := fmt.Sprintf(`CREATE TABLE "%s" (%s)`, tableName, strings.Join(defs, ", "))
	if err := session.Exec(createSQL).Error; err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	insertSQL := fmt.Sprintf(`INSERT INTO "%s" VALUES %s`, tableName, placeholders)

	it, err := source.Chunks(ChunkSize)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	rows := 0
	for it.Next() {
		for _, row := range it.Chunk() {
			args := make([]any, len(columns))
			for i, col := range columns {
				args[i] = stringValue(row.Metadata[col])
			}
			if err := session.Exec(insertSQL, args...).Error; err != nil {
				return fmt.Errorf("insert into %s: %w", tableName, err)
			}
			rows++
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.tableSchemas[tableName] = columns
	m.mu.Unlock()

	m.logger.Info("loaded table", "table", tableName, "rows", rows, "columns", len(columns))
	return nil
}

// LoadDictionary imports the data dictionary CSV. Header names are
// normalized to lower snake case; table_name, column_name, and
// description are required.
func (m *SchemaManager) LoadDictionary(ctx context.Context, csvPath string) error {
	source, err := ingest.NewSource(csvPath, nil)
	if err != nil {
		return err
	}

	normalized := make(map[string]string, len(source.Columns()))
	for _, col := range source.Columns() {
		normalized[strings.ReplaceAll(strings.ToLower(col), " ", "_")] = col
	}
	for _, required := range []string{"table_name", "column_name", "description"} {
		if _, ok := normalized[required]; !ok {
			return fmt.Errorf("data dictionary must contain column %q", required)
		}
	}

	it, err := source.Chunks(ChunkSize)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	var entries []DictionaryEntry
	for it.Next() {
		for _, row := range it.Chunk() {
			entries = append(entries, DictionaryEntry{
				TableName:   stringValue(row.Metadata[normalized["table_name"]]),
				ColumnName:  stringValue(row.Metadata[normalized["column_name"]]),
				Description: stringValue(row.Metadata[normalized["description"]]),
			})
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.dictionary = entries
	m.dictVectors = nil
	m.embedder = nil
	m.mu.Unlock()

	m.logger.Info("loaded data dictionary", "entries", len(entries))
	return nil
}

// IndexDictionary embeds every dictionary entry so schema search can rank
// them against questions.
func (m *SchemaManager) IndexDictionary(ctx context.Context, embedder provider.Embedder) error {
	m.mu.RLock()
	entries := m.dictionary
	m.mu.RUnlock()

	if len(entries) == 0 {
		return fmt.Errorf("no data dictionary loaded")
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entryText(entry)
	}

	resp, err := embedder.Embed(ctx, provider.NewEmbeddingRequest(texts))
	if err != nil {
		return fmt.Errorf("index dictionary: %w", err)
	}
	vectors := resp.Embeddings()
	if len(vectors) != len(entries) {
		return fmt.Errorf("index dictionary: got %d vectors for %d entries", len(vectors), len(entries))
	}

	m.mu.Lock()
	m.embedder = embedder
	m.dictVectors = vectors
	m.mu.Unlock()

	m.logger.Info("indexed data dictionary", "entries", len(entries))
	return nil
}

func entryText(entry DictionaryEntry) string {
	return fmt.Sprintf("Table: %s Column: %s Description: %s",
		entry.TableName, entry.ColumnName, entry.Description)
}

// SearchRelevantSchema ranks dictionary entries against the question.
// Without an embedded index it falls back to the leading entries.
func (m *SchemaManager) SearchRelevantSchema(ctx context.Context, question string) ([]DictionaryEntry, error) {
	m.mu.RLock()
	entries := m.dictionary
	embedder := m.embedder
	vectors := m.dictVectors
	m.mu.RUnlock()

	if embedder == nil || len(vectors) == 0 {
		if len(entries) > unindexedSchemaLimit {
			entries = entries[:unindexedSchemaLimit]
		}
		return entries, nil
	}

	resp, err := embedder.Embed(ctx, provider.NewEmbeddingRequest([]string{question}))
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	queryVectors := resp.Embeddings()
	if len(queryVectors) == 0 {
		return nil, fmt.Errorf("embed question: empty response")
	}

	stored := make([]analysis.StoredVector, len(vectors))
	for i, v := range vectors {
		stored[i] = analysis.NewStoredVector(i, v)
	}

	top := analysis.TopKSimilar(queryVectors[0], stored, schemaSearchTopK, -1)
	results := make([]DictionaryEntry, len(top))
	for i, match := range top {
		results[i] = entries[match.RowIndex()]
	}
	return results, nil
}

// AllTables returns the names of every loaded table.
func (m *SchemaManager) AllTables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tables := make([]string, 0, len(m.tableSchemas))
	for name := range m.tableSchemas {
		tables = append(tables, name)
	}
	return tables
}

// TableSchema returns the columns of a loaded table.
func (m *SchemaManager) TableSchema(name string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cols, ok := m.tableSchemas[name]
	return cols, ok
}

// SQLGenerator turns natural language questions into SQL using a text
// generation provider.
type SQLGenerator struct {
	generator provider.TextGenerator
}

// NewSQLGenerator creates a SQLGenerator.
func NewSQLGenerator(generator provider.TextGenerator) *SQLGenerator {
	return &SQLGenerator{generator: generator}
}

const sqlPromptTemplate = `You are an expert SQL data analyst.
Your task is to generate a valid SQLite SQL query to answer the user's question.

Available Tables: %s

Relevant Schema Information:
%s

User Question: %s

IMPORTANT INSTRUCTIONS:
1. Return ONLY the SQL query. Do not include markdown formatting (like ` + "```sql" + `), explanations, or any other text.
2. Use only the tables and columns provided in the schema information or available tables list.
3. The database is SQLite. Use SQLite syntax.
4. If the question cannot be answered with the available data, return "SELECT 'Cannot answer question with available data' as error".`

// GenerateSQL builds the prompt from the schema context and asks the
// provider for a query, stripping any markdown fences from the answer.
func (g *SQLGenerator) GenerateSQL(ctx context.Context, question string, schemaContext []DictionaryEntry, allTables []string) (string, error) {
	var schemaText strings.Builder
	for _, entry := range schemaContext {
		fmt.Fprintf(&schemaText, "- Table: %s, Column: %s, Description: %s\n",
			entry.TableName, entry.ColumnName, entry.Description)
	}

	prompt := fmt.Sprintf(sqlPromptTemplate,
		strings.Join(allTables, ", "), schemaText.String(), question)

	req := provider.NewChatCompletionRequest([]provider.Message{
		provider.SystemMessage("You are a helpful SQL assistant."),
		provider.UserMessage(prompt),
	})

	resp, err := g.generator.ChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}

	return stripSQLFences(resp.Content()), nil
}

// stripSQLFences removes markdown code fences the model may wrap the
// query in despite instructions.
func stripSQLFences(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimPrefix(sql, "```sql")
	sql = strings.TrimPrefix(sql, "```")
	sql = strings.TrimSuffix(sql, "```")
	return strings.TrimSpace(sql)
}

// QueryResult is the outcome of one natural language query.
type QueryResult struct {
	SQL            string            `json:"sql"`
	Columns        []string          `json:"columns"`
	Rows           [][]any           `json:"rows"`
	RelevantSchema []DictionaryEntry `json:"relevant_schema"`
}

// Query answers natural language questions over the loaded tables by
// generating SQL from the relevant schema entries and executing it.
type Query struct {
	schema    *SchemaManager
	generator *SQLGenerator
	logger    *slog.Logger
}

// NewQuery creates a Query service.
func NewQuery(schema *SchemaManager, generator *SQLGenerator, logger *slog.Logger) *Query {
	if logger == nil {
		logger = slog.Default()
	}
	return &Query{schema: schema, generator: generator, logger: logger}
}

// Ask runs the full question-to-result pipeline.
func (q *Query) Ask(ctx context.Context, question string) (QueryResult, error) {
	relevant, err := q.schema.SearchRelevantSchema(ctx, question)
	if err != nil {
		return QueryResult{}, err
	}

	sql, err := q.generator.GenerateSQL(ctx, question, relevant, q.schema.AllTables())
	if err != nil {
		return QueryResult{}, err
	}

	columns, rows, err := q.Execute(ctx, sql)
	if err != nil {
		return QueryResult{SQL: sql, RelevantSchema: relevant}, err
	}

	q.logger.Info("answered query", "rows", len(rows))
	return QueryResult{
		SQL:            sql,
		Columns:        columns,
		Rows:           rows,
		RelevantSchema: relevant,
	}, nil
}

// Execute runs a SQL query against the schema database and returns the
// column names and row values.
func (q *Query) Execute(ctx context.Context, sql string) ([]string, [][]any, error) {
	rows, err := q.schema.db.Session(ctx).Raw(sql).Rows()
	if err != nil {
		return nil, nil, fmt.Errorf("execute sql: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}

	return columns, out, nil
}
