package signals

// ONNX embedding generation via Hugot. MiniLM-L6-v2 (~80MB, 384
// dimensions) keeps Tier 2 fully local: no network call per request.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"
)

const (
	// EmbeddingModelMiniLM is the default embedding model.
	EmbeddingModelMiniLM = "sentence-transformers/all-MiniLM-L6-v2"

	// DefaultEmbeddingModelPath is where the model is expected on disk.
	DefaultEmbeddingModelPath = "./models/all-MiniLM-L6-v2"

	// EmbeddingDimension is the MiniLM-L6-v2 output dimension.
	EmbeddingDimension = 384
)

// OnnxEmbedderConfig configures the local embedder.
type OnnxEmbedderConfig struct {
	ModelPath       string
	OnnxLibraryPath string
}

// DefaultOnnxEmbedderConfig returns the MiniLM defaults, honoring
// BULWARK_EMBEDDING_MODEL_PATH when set.
func DefaultOnnxEmbedderConfig() OnnxEmbedderConfig {
	path := DefaultEmbeddingModelPath
	if env := os.Getenv("BULWARK_EMBEDDING_MODEL_PATH"); env != "" {
		path = env
	}
	return OnnxEmbedderConfig{
		ModelPath:       path,
		OnnxLibraryPath: defaultOnnxLibraryPath(),
	}
}

func defaultOnnxLibraryPath() string {
	if env := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); env != "" {
		return env
	}
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}

// OnnxEmbedder implements EmbeddingProvider over a Hugot feature
// extraction pipeline.
type OnnxEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.RWMutex
	ready    bool
	log      *zap.Logger
}

// NewOnnxEmbedder loads the model and prepares the pipeline. The ONNX
// Runtime backend is preferred; the pure Go backend is the fallback
// when the shared library is missing.
func NewOnnxEmbedder(cfg OnnxEmbedderConfig, log *zap.Logger) (*OnnxEmbedder, error) {
	if _, err := os.Stat(filepath.Join(cfg.ModelPath, "model.onnx")); err != nil {
		return nil, fmt.Errorf("embedding model not found at %s: %w", cfg.ModelPath, err)
	}

	session, backend, err := newSession(cfg)
	if err != nil {
		return nil, err
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: cfg.ModelPath,
		Name:      "embedding-generator",
	})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("create embedding pipeline: %w", err)
	}

	log.Info("embedder ready",
		zap.String("model", cfg.ModelPath),
		zap.String("backend", backend))

	return &OnnxEmbedder{session: session, pipeline: pipeline, ready: true, log: log}, nil
}

func newSession(cfg OnnxEmbedderConfig) (*hugot.Session, string, error) {
	if cfg.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(cfg.OnnxLibraryPath))
		if err == nil {
			return session, "onnxruntime", nil
		}
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, "", fmt.Errorf("create embedding session: %w", err)
	}
	return session, "go", nil
}

// Dimension implements EmbeddingProvider.
func (e *OnnxEmbedder) Dimension() int { return EmbeddingDimension }

// Embed implements EmbeddingProvider.
func (e *OnnxEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return out[0], nil
}

// EmbedBatch implements EmbeddingProvider.
func (e *OnnxEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ready || e.pipeline == nil {
		return nil, fmt.Errorf("embedder not ready")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for i := range texts {
		if i < len(result.Embeddings) {
			embeddings[i] = result.Embeddings[i]
		}
	}
	return embeddings, nil
}

// Close releases the ONNX session.
func (e *OnnxEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ready = false
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
