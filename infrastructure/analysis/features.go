package analysis

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrNoFeatures indicates no usable feature columns were produced.
var ErrNoFeatures = errors.New("no valid features for clustering")

// ColumnValues is one source column's raw cell values, in row order.
type ColumnValues struct {
	Name   string
	Values []string
}

// BuildFeatureMatrix encodes the selected columns into a numeric feature
// matrix, one row per source row. Per column:
//
//   - A column whose first value appears in the first row's embedded text
//     is treated as embedded and contributes the embedding vectors.
//   - A column where more than half the cells parse as numbers is treated
//     as numerical: missing cells are mean-filled and the column is
//     z-scored (skipped when the deviation is zero).
//   - Anything else is categorical and label-encoded over the sorted set
//     of distinct values.
//
// Column blocks are concatenated horizontally in the given order.
func BuildFeatureMatrix(columns []ColumnValues, embeddings [][]float64, firstText string) ([][]float64, error) {
	if len(columns) == 0 {
		return nil, ErrNoFeatures
	}

	rows := len(embeddings)
	blocks := make([][][]float64, 0, len(columns))
	for _, col := range columns {
		if len(col.Values) != rows {
			return nil, errors.New("column length does not match embedding count")
		}

		if isEmbeddedColumn(col, firstText) {
			blocks = append(blocks, embeddings)
			continue
		}

		if numeric, ok := coerceNumeric(col.Values); ok {
			blocks = append(blocks, singleColumn(standardize(numeric)))
			continue
		}

		blocks = append(blocks, singleColumn(labelEncode(col.Values)))
	}

	return hstack(blocks, rows), nil
}

// isEmbeddedColumn reports whether the column fed the embedded text, by
// checking the first row's value against the first row's text.
func isEmbeddedColumn(col ColumnValues, firstText string) bool {
	if len(col.Values) == 0 || firstText == "" {
		return false
	}
	first := strings.TrimSpace(col.Values[0])
	return first != "" && strings.Contains(firstText, first)
}

// coerceNumeric parses the values as floats. It succeeds when more than
// half the cells are valid numbers; missing cells are filled with the mean
// of the valid ones.
func coerceNumeric(values []string) ([]float64, bool) {
	parsed := make([]float64, len(values))
	valid := make([]bool, len(values))
	var sum float64
	var count int

	for i, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		parsed[i] = f
		valid[i] = true
		sum += f
		count++
	}

	if count*2 <= len(values) {
		return nil, false
	}

	mean := sum / float64(count)
	for i := range parsed {
		if !valid[i] {
			parsed[i] = mean
		}
	}
	return parsed, true
}

// standardize z-scores the values using the sample standard deviation.
// A zero deviation leaves the values unscaled.
func standardize(values []float64) []float64 {
	if len(values) < 2 {
		return values
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(values)-1))
	if std == 0 {
		return values
	}

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

// labelEncode maps each distinct value to an integer code assigned over
// the sorted set of distinct values.
func labelEncode(values []string) []float64 {
	unique := make([]string, 0)
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			unique = append(unique, v)
		}
	}
	sort.Strings(unique)

	codes := make(map[string]float64, len(unique))
	for i, v := range unique {
		codes[v] = float64(i)
	}

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = codes[v]
	}
	return out
}

func singleColumn(values []float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, v := range values {
		out[i] = []float64{v}
	}
	return out
}

func hstack(blocks [][][]float64, rows int) [][]float64 {
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		var row []float64
		for _, block := range blocks {
			row = append(row, block[i]...)
		}
		out[i] = row
	}
	return out
}
