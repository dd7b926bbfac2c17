// Package vision turns images into face encodings with ONNX Runtime:
// RetinaFace finds faces, ArcFace embeds each one.
package vision

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/medface/internal/config"
	"github.com/your-org/medface/internal/observability"
)

// InitRuntime loads the ONNX Runtime shared library for this platform.
func InitRuntime() error {
	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

// DestroyRuntime releases the ONNX Runtime environment.
func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Encoder detects every face in an image and encodes each one.
// The ONNX sessions reuse their tensors, so calls are serialised.
type Encoder struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

func NewEncoder(cfg config.VisionConfig) (*Encoder, error) {
	detPath := filepath.Join(cfg.ModelsDir, detModelFileName)
	embPath := filepath.Join(cfg.ModelsDir, embModelFileName)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Encoder{detector: det, embedder: emb}, nil
}

// Encode returns one encoding per detected face, most confident first.
// An image without faces yields an empty slice and no error.
func (e *Encoder) Encode(imageData []byte) ([][]float32, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		observability.EncodeDuration.Observe(time.Since(start).Seconds())
	}()

	b := img.Bounds()
	dets, err := e.detector.Detect(preprocessForDetection(img), b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	encodings := make([][]float32, 0, len(dets))
	for _, d := range dets {
		if d.Width() <= 0 || d.Height() <= 0 {
			continue
		}
		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}
		vec, err := e.embedder.Extract(preprocessForEmbedding(crop))
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		encodings = append(encodings, vec)
	}
	return encodings, nil
}

// Close releases all ONNX sessions.
func (e *Encoder) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}
