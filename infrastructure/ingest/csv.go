// Package ingest reads tabular source files and yields rows in bounded
// chunks so that large files never have to be fully resident in memory.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tablevec/tablevec/domain/job"
)

// DefaultChunkSize is the number of rows read per chunk.
const DefaultChunkSize = 100

// ParseError indicates a malformed row in the source file.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Row is a single source row with its derived embedding text and the full
// row contents as metadata.
type Row struct {
	Index    int
	Text     string
	Metadata job.Metadata
}

// Source reads rows from a CSV file. Each call to Chunks opens the file
// fresh, so a Source can be iterated multiple times.
type Source struct {
	path        string
	columns     []string
	textColumns []string
}

// NewSource opens the CSV at path, reads its header, and validates that
// every requested text column exists. When textColumns is empty, all
// columns are used for text derivation.
func NewSource(path string, textColumns []string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = f.Close() }()

	header, err := readHeader(f)
	if err != nil {
		return nil, err
	}

	if len(textColumns) == 0 {
		textColumns = header
	}
	for _, col := range textColumns {
		if !contains(header, col) {
			return nil, &job.ColumnNotFoundError{Column: col}
		}
	}

	return &Source{
		path:        path,
		columns:     header,
		textColumns: textColumns,
	}, nil
}

// Columns returns the header columns in file order.
func (s *Source) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// TextColumns returns the columns used for text derivation.
func (s *Source) TextColumns() []string {
	out := make([]string, len(s.textColumns))
	copy(out, s.textColumns)
	return out
}

// CountRows scans the file and returns the number of data rows.
func (s *Source) CountRows() (int, error) {
	it, err := s.Chunks(DefaultChunkSize)
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()

	count := 0
	for it.Next() {
		count += len(it.Chunk())
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// Preview returns up to n rows for inspection without reading the rest
// of the file.
func (s *Source) Preview(n int) ([]Row, error) {
	if n <= 0 {
		return nil, nil
	}
	it, err := s.Chunks(n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	if !it.Next() {
		if err := it.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	chunk := it.Chunk()
	if len(chunk) > n {
		chunk = chunk[:n]
	}
	return chunk, nil
}

// Chunks returns an iterator over the file's rows in chunks of at most
// chunkSize rows.
func (s *Source) Chunks(chunkSize int) (*ChunkIterator, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(s.columns)

	// Skip the header row.
	if _, err := reader.Read(); err != nil {
		_ = f.Close()
		return nil, &ParseError{Line: 1, Err: err}
	}

	return &ChunkIterator{
		file:        f,
		reader:      reader,
		columns:     s.columns,
		textColumns: s.textColumns,
		chunkSize:   chunkSize,
		line:        1,
	}, nil
}

// ChunkIterator yields successive chunks of rows. The caller must call
// Close when done.
type ChunkIterator struct {
	file        *os.File
	reader      *csv.Reader
	columns     []string
	textColumns []string
	chunkSize   int

	chunk []Row
	index int
	line  int
	err   error
	done  bool
}

// Next advances to the next chunk. It returns false when the file is
// exhausted or an error occurred; check Err after iteration.
func (it *ChunkIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	chunk := make([]Row, 0, it.chunkSize)
	for len(chunk) < it.chunkSize {
		record, err := it.reader.Read()
		if errors.Is(err, io.EOF) {
			it.done = true
			break
		}
		it.line++
		if err != nil {
			it.err = &ParseError{Line: it.line, Err: err}
			return false
		}

		chunk = append(chunk, it.buildRow(record))
		it.index++
	}

	if len(chunk) == 0 {
		return false
	}
	it.chunk = chunk
	return true
}

// Chunk returns the current chunk. Valid only after Next returns true.
func (it *ChunkIterator) Chunk() []Row {
	return it.chunk
}

// Err returns the first error encountered during iteration.
func (it *ChunkIterator) Err() error {
	return it.err
}

// Close releases the underlying file handle.
func (it *ChunkIterator) Close() error {
	return it.file.Close()
}

func (it *ChunkIterator) buildRow(record []string) Row {
	meta := make(job.Metadata, len(it.columns))
	values := make(map[string]string, len(it.columns))
	for i, col := range it.columns {
		var raw string
		if i < len(record) {
			raw = record[i]
		}
		values[col] = raw
		meta[col] = normalizeValue(raw)
	}

	parts := make([]string, 0, len(it.textColumns))
	for _, col := range it.textColumns {
		if v := strings.TrimSpace(values[col]); v != "" {
			parts = append(parts, v)
		}
	}

	return Row{
		Index:    it.index,
		Text:     strings.Join(parts, " "),
		Metadata: meta,
	}
}

// normalizeValue converts an empty cell to nil and coerces numeric cells
// to float64 so metadata serializes as JSON numbers and nulls.
func normalizeValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return raw
}

func readHeader(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Line: 1, Err: errors.New("file is empty")}
	}
	if err != nil {
		return nil, &ParseError{Line: 1, Err: err}
	}
	if len(header) == 0 {
		return nil, &ParseError{Line: 1, Err: errors.New("header has no columns")}
	}
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(h)
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
