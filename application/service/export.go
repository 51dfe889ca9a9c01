package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tablevec/tablevec/domain/job"
)

// Export formats.
const (
	FormatJSON     = "json"
	FormatJSONL    = "jsonl"
	FormatPinecone = "pinecone"
	FormatWeaviate = "weaviate"
	FormatQdrant   = "qdrant"
)

// ErrUnknownFormat indicates an unsupported export format.
var ErrUnknownFormat = errors.New("unknown export format")

// WeaviateClassName is the class assigned to exported Weaviate objects.
const WeaviateClassName = "Document"

// ValidFormat reports whether format names a supported export format.
func ValidFormat(format string) bool {
	switch format {
	case FormatJSON, FormatJSONL, FormatPinecone, FormatWeaviate, FormatQdrant:
		return true
	}
	return false
}

// exportItem is the canonical wire shape of one exported record.
type exportItem struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Embedding []float64    `json:"embedding"`
	Metadata  job.Metadata `json:"metadata"`
	ClusterID *int         `json:"cluster_id"`
}

func itemFromRecord(r job.EmbeddingRecord) exportItem {
	return exportItem{
		ID:        fmt.Sprintf("%d", r.RowIndex()),
		Text:      r.Text(),
		Embedding: r.Vector(),
		Metadata:  r.Metadata(),
		ClusterID: r.ClusterID(),
	}
}

// Exporter writes a completed job's embeddings in vector database formats.
// json, jsonl, and pinecone stream record by record; weaviate and qdrant
// materialize the records before writing.
type Exporter struct {
	store  job.Store
	logger *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(store job.Store, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, logger: logger}
}

// Filename returns the suggested download filename for a format.
func (e *Exporter) Filename(format string) string {
	extension := "json"
	if format == FormatJSONL {
		extension = "jsonl"
	}
	return fmt.Sprintf("embeddings_%s.%s", format, extension)
}

// Export writes the job's embeddings to w in the requested format. The job
// must be completed; a completed job with no rows writes an empty envelope.
func (e *Exporter) Export(ctx context.Context, jobID, format string, w io.Writer) error {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status() != job.StatusCompleted {
		return job.ErrJobNotReady
	}

	count, err := e.store.CountRecords(ctx, jobID)
	if err != nil {
		return err
	}

	it, err := e.store.StreamRecords(ctx, jobID)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	switch format {
	case FormatJSON:
		err = e.writeJSON(it, w)
	case FormatJSONL:
		err = e.writeJSONL(it, w)
	case FormatPinecone:
		err = e.writePinecone(it, w)
	case FormatWeaviate:
		err = e.writeWeaviate(it, w)
	case FormatQdrant:
		err = e.writeQdrant(it, w)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return err
	}

	if err := it.Err(); err != nil {
		return err
	}
	e.logger.Info("exported embeddings", "job_id", jobID, "format", format, "rows", count)
	return nil
}

// writeJSON streams a JSON array, one element per record.
func (e *Exporter) writeJSON(it job.RecordIterator, w io.Writer) error {
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return err
	}
	first := true
	for it.Next() {
		if !first {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return err
			}
		}
		data, err := json.MarshalIndent(itemFromRecord(it.Record()), "", "  ")
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		first = false
	}
	_, err := io.WriteString(w, "\n]")
	return err
}

// writeJSONL streams newline-delimited JSON, one record per line.
func (e *Exporter) writeJSONL(it job.RecordIterator, w io.Writer) error {
	enc := json.NewEncoder(w)
	for it.Next() {
		if err := enc.Encode(itemFromRecord(it.Record())); err != nil {
			return err
		}
	}
	return nil
}

// writePinecone streams the Pinecone batch upsert envelope. The record's
// text and cluster id travel inside the vector metadata.
func (e *Exporter) writePinecone(it job.RecordIterator, w io.Writer) error {
	if _, err := io.WriteString(w, "{\n  \"vectors\": [\n"); err != nil {
		return err
	}
	first := true
	for it.Next() {
		item := itemFromRecord(it.Record())

		metadata := job.Metadata{
			"text":       item.Text,
			"cluster_id": item.ClusterID,
		}
		for k, v := range item.Metadata {
			metadata[k] = v
		}

		vector := map[string]any{
			"id":       item.ID,
			"values":   item.Embedding,
			"metadata": metadata,
		}

		if !first {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return err
			}
		}
		data, err := json.MarshalIndent(vector, "", "  ")
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		first = false
	}
	_, err := io.WriteString(w, "\n  ]\n}")
	return err
}

// writeWeaviate materializes the records into the Weaviate batch import
// envelope. Fine for the dataset sizes this tool targets.
func (e *Exporter) writeWeaviate(it job.RecordIterator, w io.Writer) error {
	objects := make([]map[string]any, 0)
	for it.Next() {
		item := itemFromRecord(it.Record())

		properties := job.Metadata{"text": item.Text}
		for k, v := range item.Metadata {
			properties[k] = v
		}

		objects = append(objects, map[string]any{
			"class":      WeaviateClassName,
			"id":         item.ID,
			"properties": properties,
			"vector":     item.Embedding,
		})
	}
	if err := it.Err(); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"objects": objects})
}

// writeQdrant materializes the records into the Qdrant batch upload
// envelope.
func (e *Exporter) writeQdrant(it job.RecordIterator, w io.Writer) error {
	points := make([]map[string]any, 0)
	for it.Next() {
		item := itemFromRecord(it.Record())

		payload := job.Metadata{"text": item.Text}
		for k, v := range item.Metadata {
			payload[k] = v
		}

		points = append(points, map[string]any{
			"id":      item.ID,
			"vector":  item.Embedding,
			"payload": payload,
		})
	}
	if err := it.Err(); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"points": points})
}
