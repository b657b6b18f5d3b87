// Package ml wraps local ONNX text-classification models behind a single
// TextClassifier type. The decision engine runs four of these: a fraud
// signal model, a general sentiment model, a financial sentiment model,
// and a policy clause-type model.
//
// Architecture:
// - Uses ONNX Runtime for fast inference when available
// - Runs fully local - no external API calls required
// - Gracefully degrades if the model or runtime is unavailable
//
// Build:
// - Standard: go build (uses Go backend, slower but no dependencies)
// - With ORT: go build -tags ORT (uses ONNX Runtime, faster)
package ml

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// TextClassifier runs a text-classification model locally.
// A classifier that failed to initialize stays usable: IsReady reports
// false and every Classify call returns an error, letting callers fall
// back to their degraded path.
type TextClassifier struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	config   ClassifierConfig
	ready    bool
}

// ClassifierConfig configures a local classifier.
type ClassifierConfig struct {
	// ModelPath is the local path to the ONNX model directory.
	// If empty and ModelName is set, the model will be downloaded.
	ModelPath string

	// ModelName is the HuggingFace model name (e.g., "ProsusAI/finbert").
	// Used to download the model if ModelPath is empty.
	ModelName string

	// PipelineName identifies this pipeline in session statistics.
	PipelineName string

	// OnnxLibraryPath is the directory holding libonnxruntime.
	// Empty means the pure Go backend.
	OnnxLibraryPath string

	// BatchSize is the maximum batch size for inference (default: 32).
	BatchSize int

	// Timeout is the maximum time for a single inference call.
	Timeout time.Duration
}

// Classification is a single model verdict for one input text.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	LatencyMs  float64 `json:"latency_ms"`
}

// New creates a classifier with the specified configuration.
func New(cfg ClassifierConfig) (*TextClassifier, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PipelineName == "" {
		cfg.PipelineName = "text-classifier"
	}

	c := &TextClassifier{config: cfg}
	if err := c.initialize(); err != nil {
		return nil, fmt.Errorf("classifier initialization failed: %w", err)
	}
	return c, nil
}

// NewWithFallback creates a classifier that gracefully degrades on failure.
// Returns a classifier instance even if initialization fails (ready=false).
func NewWithFallback(cfg ClassifierConfig) *TextClassifier {
	c, err := New(cfg)
	if err != nil {
		log.Printf("[WARN] classifier %s unavailable (graceful degradation): %v", cfg.PipelineName, err)
		return &TextClassifier{config: cfg, ready: false}
	}
	return c
}

func (c *TextClassifier) initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.createSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	c.session = session

	modelPath, err := c.resolveModelPath()
	if err != nil {
		_ = c.session.Destroy()
		return fmt.Errorf("failed to resolve model path: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      c.config.PipelineName,
	})
	if err != nil {
		_ = c.session.Destroy()
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	c.pipeline = pipeline
	c.ready = true
	log.Printf("[STARTUP] ✓ classifier %s ready (model: %s)", c.config.PipelineName, modelPath)
	return nil
}

func (c *TextClassifier) createSession() (*hugot.Session, error) {
	// ONNX Runtime backend first (fastest), pure Go as fallback.
	if c.config.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(
			options.WithOnnxLibraryPath(c.config.OnnxLibraryPath),
		)
		if err == nil {
			return session, nil
		}
		log.Printf("[WARN] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	return session, nil
}

func (c *TextClassifier) resolveModelPath() (string, error) {
	if c.config.ModelPath != "" {
		if _, err := os.Stat(c.config.ModelPath); err == nil {
			return c.config.ModelPath, nil
		}
	}

	if c.config.ModelName == "" {
		return "", fmt.Errorf("no model path or name specified")
	}

	modelsDir := "./models"
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	log.Printf("Downloading model %s...", c.config.ModelName)
	modelPath, err := hugot.DownloadModel(c.config.ModelName, modelsDir, hugot.NewDownloadOptions())
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return modelPath, nil
}

// IsReady returns true if the classifier is initialized and ready for inference.
func (c *TextClassifier) IsReady() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Classify performs batch classification on multiple texts.
// Returns results in the same order as inputs.
func (c *TextClassifier) Classify(ctx context.Context, texts []string) ([]Classification, error) {
	if c == nil {
		return nil, fmt.Errorf("classifier not configured")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ready || c.pipeline == nil {
		return nil, fmt.Errorf("classifier %s not ready", c.config.PipelineName)
	}
	if len(texts) == 0 {
		return []Classification{}, nil
	}

	start := time.Now()
	result, err := c.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	latency := float64(time.Since(start).Milliseconds())

	outputs := make([]Classification, len(texts))
	for i := range texts {
		if i < len(result.ClassificationOutputs) && len(result.ClassificationOutputs[i]) > 0 {
			out := result.ClassificationOutputs[i][0]
			outputs[i] = Classification{
				Label:      out.Label,
				Confidence: float64(out.Score),
				LatencyMs:  latency / float64(len(texts)),
			}
		} else {
			outputs[i] = Classification{Label: "unknown", LatencyMs: latency / float64(len(texts))}
		}
	}
	return outputs, nil
}

// ClassifySingle is a convenience method for single-text classification.
func (c *TextClassifier) ClassifySingle(ctx context.Context, text string) (Classification, error) {
	results, err := c.Classify(ctx, []string{text})
	if err != nil {
		return Classification{}, err
	}
	if len(results) == 0 {
		return Classification{}, fmt.Errorf("no results returned")
	}
	return results[0], nil
}

// Close releases resources held by the classifier.
func (c *TextClassifier) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ready = false
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}
