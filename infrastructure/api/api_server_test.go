package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablevec/tablevec"
	domain "github.com/tablevec/tablevec/domain/provider"
	"github.com/tablevec/tablevec/infrastructure/api"
)

// fakeEmbedder returns one deterministic vector per text.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, req domain.EmbeddingRequest) (domain.EmbeddingResponse, error) {
	texts := req.Texts()
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = []float64{float64(len(text)), 1, 0}
	}
	return domain.NewEmbeddingResponse(vectors), nil
}

func (fakeEmbedder) Dimension() int { return 3 }
func (fakeEmbedder) Close() error   { return nil }

// fakeFactory hands out fake embedders for every provider name.
type fakeFactory struct{}

func (fakeFactory) New(_, _ string) (domain.Embedder, error) {
	return fakeEmbedder{}, nil
}

// fakeGenerator answers every question with the same SQL, wrapped in the
// markdown fences a model tends to add.
type fakeGenerator struct {
	sql string
}

func (f *fakeGenerator) ChatCompletion(context.Context, domain.ChatCompletionRequest) (domain.ChatCompletionResponse, error) {
	return domain.NewChatCompletionResponse("```sql\n"+f.sql+"\n```", "stop"), nil
}

func newTestClient(t *testing.T) *tablevec.Client {
	t.Helper()
	client, err := tablevec.New(
		tablevec.WithDataDir(t.TempDir()),
		tablevec.WithDatabaseURL("sqlite:///:memory:"),
		tablevec.WithEmbedderFactory(fakeFactory{}),
		tablevec.WithTextGenerator(&fakeGenerator{sql: `SELECT name FROM "products" ORDER BY name`}),
		tablevec.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestHandler(t *testing.T) (http.Handler, *tablevec.Client) {
	t.Helper()
	client := newTestClient(t)
	apiServer := api.NewAPIServer(client)
	router := apiServer.Router()
	apiServer.MountRoutes()
	return router, client
}

// multipartBody builds a multipart form with a file field and optional
// extra fields.
func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postJSON(handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func uploadCSV(t *testing.T, handler http.Handler, rows int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("title,body,score\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "title-%d,body text %d,%d\n", i, i, i)
	}

	body, contentType := multipartBody(t, "data.csv", sb.String(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		JobID    string   `json:"job_id"`
		Columns  []string `json:"columns"`
		RowCount int      `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"title", "body", "score"}, resp.Columns)
	assert.Equal(t, rows, resp.RowCount)
	return resp.JobID
}

func generateAndWait(t *testing.T, handler http.Handler, client *tablevec.Client, jobID string) {
	t.Helper()
	rec := postJSON(handler, "/api/generate", map[string]any{
		"job_id":       jobID,
		"text_columns": []string{"title", "body"},
		"provider":     "openai",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	client.WaitForJob(jobID)
}

func TestAPIEmbeddingPipeline(t *testing.T) {
	handler, client := newTestHandler(t)

	jobID := uploadCSV(t, handler, 12)
	generateAndWait(t, handler, client, jobID)

	t.Run("status reports completion", func(t *testing.T) {
		rec := get(handler, "/api/status/"+jobID)
		require.Equal(t, http.StatusOK, rec.Code)

		var status struct {
			Status    string `json:"status"`
			Processed int    `json:"processed"`
			Total     int    `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "completed", status.Status)
		assert.Equal(t, 12, status.Processed)
		assert.Equal(t, 12, status.Total)
	})

	t.Run("status of unknown job is 404", func(t *testing.T) {
		rec := get(handler, "/api/status/missing")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("generate again conflicts", func(t *testing.T) {
		rec := postJSON(handler, "/api/generate", map[string]any{
			"job_id":       jobID,
			"text_columns": []string{"title"},
			"provider":     "openai",
		})
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		status := get(handler, "/api/status/"+jobID)
		require.Equal(t, http.StatusOK, status.Code)
		assert.Contains(t, status.Body.String(), `"status":"completed"`)
	})

	t.Run("download jsonl", func(t *testing.T) {
		rec := get(handler, "/api/download/"+jobID+"/jsonl")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "embeddings_jsonl.jsonl")
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		assert.Len(t, lines, 12)
	})

	t.Run("download unknown format is 400", func(t *testing.T) {
		rec := get(handler, "/api/download/"+jobID+"/parquet")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cluster", func(t *testing.T) {
		rec := postJSON(handler, "/api/cluster", map[string]any{
			"job_id":       jobID,
			"num_clusters": 2,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Status  string `json:"status"`
			Summary []struct {
				Cluster int `json:"cluster"`
				Count   int `json:"count"`
			} `json:"summary"`
			FeatureDim int `json:"feature_dim"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, 3, resp.FeatureDim)
		total := 0
		for _, c := range resp.Summary {
			total += c.Count
		}
		assert.Equal(t, 12, total)
	})

	t.Run("compare against a second job", func(t *testing.T) {
		otherID := uploadCSV(t, handler, 3)
		generateAndWait(t, handler, client, otherID)

		rec := postJSON(handler, "/api/compare", map[string]any{
			"job_a": otherID,
			"job_b": jobID,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Status     string `json:"status"`
			MatchCount int    `json:"match_count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Greater(t, resp.MatchCount, 0)
	})
}

func TestAPIGenerateValidation(t *testing.T) {
	handler, _ := newTestHandler(t)

	t.Run("missing job id", func(t *testing.T) {
		rec := postJSON(handler, "/api/generate", map[string]any{
			"text_columns": []string{"title"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := postJSON(handler, "/api/generate", map[string]any{
			"job_id":       "missing",
			"text_columns": []string{"title"},
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown column", func(t *testing.T) {
		jobID := uploadCSV(t, handler, 2)
		rec := postJSON(handler, "/api/generate", map[string]any{
			"job_id":       jobID,
			"text_columns": []string{"nope"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPIQueryEngine(t *testing.T) {
	handler, _ := newTestHandler(t)

	t.Run("upload table", func(t *testing.T) {
		body, contentType := multipartBody(t, "products.csv",
			"id,name\n1,widget\n2,gadget\n",
			map[string]string{"table_name": "products"})
		req := httptest.NewRequest(http.MethodPost, "/api/upload_table", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Status  string   `json:"status"`
			Table   string   `json:"table"`
			Columns []string `json:"columns"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, "products", resp.Table)
		assert.Equal(t, []string{"id", "name"}, resp.Columns)
	})

	t.Run("upload dictionary", func(t *testing.T) {
		body, contentType := multipartBody(t, "dictionary.csv",
			"table_name,column_name,description\nproducts,name,The product name\n", nil)
		req := httptest.NewRequest(http.MethodPost, "/api/upload_dictionary", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Status  string `json:"status"`
			Indexed bool   `json:"indexed"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.True(t, resp.Indexed)
	})

	t.Run("query", func(t *testing.T) {
		rec := postJSON(handler, "/api/query", map[string]any{
			"question": "what products do we sell",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			SQL  string  `json:"sql"`
			Rows [][]any `json:"rows"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, `SELECT name FROM "products" ORDER BY name`, resp.SQL)
		require.Len(t, resp.Rows, 2)
		assert.Equal(t, "gadget", resp.Rows[0][0])
	})

	t.Run("question is required", func(t *testing.T) {
		rec := postJSON(handler, "/api/query", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
