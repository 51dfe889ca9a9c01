package provider

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	domain "github.com/tablevec/tablevec/domain/provider"
)

const hugotBatchMax = 32

// ortSingleton holds the process-wide ONNX Runtime session and pipeline.
// ORT only allows one active session per process, so all LocalProvider
// instances must share it. The mutex serializes both initialization and
// inference (ORT is not thread-safe).
var ortSingleton struct {
	session   *hugot.Session
	pipeline  *pipelines.FeatureExtractionPipeline
	dimension int
	mu        sync.Mutex
	ready     bool
}

// LocalProvider generates embeddings with a sentence-transformer model
// running in-process via hugot.
//
// The model can come from two sources (checked in order):
//  1. Model files on disk, a subdirectory of cacheDir containing tokenizer.json.
//  2. Statically embedded in the binary (build tag embed_model), extracted to
//     cacheDir on first use.
//
// All instances share a single ONNX Runtime session because ORT only supports
// one active session per process.
type LocalProvider struct {
	cacheDir string
}

// NewLocalProvider creates a LocalProvider that looks for model files in
// cacheDir.
func NewLocalProvider(cacheDir string) *LocalProvider {
	return &LocalProvider{cacheDir: cacheDir}
}

// Available reports whether a usable model exists, either compiled into
// the binary (embed_model build tag) or present on disk in cacheDir.
func (p *LocalProvider) Available() bool {
	if hasEmbeddedModel {
		return true
	}
	_, err := p.diskModelPath()
	return err == nil
}

// Model returns the logical model name.
func (p *LocalProvider) Model() string {
	return "local"
}

// Dimension returns the embedding vector length. It initializes the model
// and runs a one-token probe the first time it is called.
func (p *LocalProvider) Dimension() int {
	if err := p.initialize(); err != nil {
		return 0
	}

	ortSingleton.mu.Lock()
	defer ortSingleton.mu.Unlock()

	if ortSingleton.dimension == 0 {
		result, err := ortSingleton.pipeline.RunPipeline([]string{"probe"})
		if err != nil || len(result.Embeddings) == 0 {
			return 0
		}
		ortSingleton.dimension = len(result.Embeddings[0])
	}
	return ortSingleton.dimension
}

// Embed generates embeddings for the given texts using the local model,
// splitting the input into batches the pipeline can handle.
func (p *LocalProvider) Embed(ctx context.Context, req domain.EmbeddingRequest) (domain.EmbeddingResponse, error) {
	texts := req.Texts()
	if len(texts) == 0 {
		return domain.NewEmbeddingResponse(nil), nil
	}

	if err := p.initialize(); err != nil {
		return domain.EmbeddingResponse{}, fmt.Errorf("initialize local model: %w", err)
	}

	embeddings := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += hugotBatchMax {
		if err := ctx.Err(); err != nil {
			return domain.EmbeddingResponse{}, err
		}
		end := start + hugotBatchMax
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.runBatch(texts[start:end])
		if err != nil {
			return domain.EmbeddingResponse{}, err
		}
		embeddings = append(embeddings, batch...)
	}

	return domain.NewEmbeddingResponse(embeddings), nil
}

func (p *LocalProvider) runBatch(texts []string) ([][]float64, error) {
	// Hold the singleton mutex for inference; ORT is not thread-safe.
	ortSingleton.mu.Lock()
	defer ortSingleton.mu.Unlock()

	result, err := ortSingleton.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("run embedding pipeline: %w", err)
	}

	embeddings := make([][]float64, len(result.Embeddings))
	for i, vec32 := range result.Embeddings {
		vec64 := make([]float64, len(vec32))
		for j, v := range vec32 {
			vec64[j] = float64(v)
		}
		embeddings[i] = vec64
	}
	if len(embeddings) > 0 && ortSingleton.dimension == 0 {
		ortSingleton.dimension = len(embeddings[0])
	}
	return embeddings, nil
}

// Close is a no-op. The ONNX Runtime session is process-global and shared
// across all LocalProvider instances; it is cleaned up when the process
// exits.
func (p *LocalProvider) Close() error {
	return nil
}

func (p *LocalProvider) initialize() error {
	ortSingleton.mu.Lock()
	defer ortSingleton.mu.Unlock()

	if ortSingleton.ready {
		return nil
	}

	session, err := newHugotSession()
	if err != nil {
		return fmt.Errorf("create hugot session: %w", err)
	}

	modelPath, err := p.resolveModelPath()
	if err != nil {
		_ = session.Destroy()
		return err
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "local-embeddings",
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	ortSingleton.session = session
	ortSingleton.pipeline = pipeline
	ortSingleton.ready = true
	return nil
}

// resolveModelPath returns the path to a usable model directory. It first
// checks for model files already on disk in cacheDir, then falls back to
// extracting the statically embedded model (if compiled in).
func (p *LocalProvider) resolveModelPath() (string, error) {
	if diskPath, err := p.diskModelPath(); err == nil {
		return diskPath, nil
	}

	if !hasEmbeddedModel {
		return "", fmt.Errorf("no model found in %s and no embedded model compiled in (build with -tags embed_model)", p.cacheDir)
	}

	if err := os.MkdirAll(p.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}

	return extractEmbeddedModel(embeddedModelFS, p.cacheDir)
}

// diskModelPath looks for a model subdirectory containing tokenizer.json
// inside cacheDir.
func (p *LocalProvider) diskModelPath() (string, error) {
	entries, err := os.ReadDir(p.cacheDir)
	if err != nil {
		return "", fmt.Errorf("read model directory %s: %w", p.cacheDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(p.cacheDir, entry.Name())
		if _, statErr := os.Stat(filepath.Join(candidate, "tokenizer.json")); statErr == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no model subdirectory with tokenizer.json found in %s", p.cacheDir)
}

// extractEmbeddedModel writes the statically embedded model files to
// targetDir and returns the path to the model subdirectory.
func extractEmbeddedModel(embedded fs.FS, targetDir string) (string, error) {
	modelsFS, err := fs.Sub(embedded, "models")
	if err != nil {
		return "", fmt.Errorf("access embedded models: %w", err)
	}

	entries, err := fs.ReadDir(modelsFS, ".")
	if err != nil {
		return "", fmt.Errorf("read embedded models: %w", err)
	}

	var modelSubdir string
	for _, entry := range entries {
		if entry.IsDir() {
			modelSubdir = entry.Name()
			break
		}
	}
	if modelSubdir == "" {
		return "", fmt.Errorf("no model directory found in embedded models")
	}

	modelPath := filepath.Join(targetDir, modelSubdir)

	// Skip extraction if already present
	if _, statErr := os.Stat(filepath.Join(modelPath, "tokenizer.json")); statErr == nil {
		return modelPath, nil
	}

	modelFS, err := fs.Sub(modelsFS, modelSubdir)
	if err != nil {
		return "", fmt.Errorf("access model subdirectory: %w", err)
	}

	err = fs.WalkDir(modelFS, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		target := filepath.Join(modelPath, path)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, readErr := fs.ReadFile(modelFS, path)
		if readErr != nil {
			return fmt.Errorf("read embedded file %s: %w", path, readErr)
		}
		if mkdirErr := os.MkdirAll(filepath.Dir(target), 0o755); mkdirErr != nil {
			return fmt.Errorf("create directory for %s: %w", path, mkdirErr)
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		return "", fmt.Errorf("extract embedded model: %w", err)
	}

	return modelPath, nil
}

var _ domain.Embedder = (*LocalProvider)(nil)
