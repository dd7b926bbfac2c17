package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// ArcFace w600k_r50 takes a 112x112 crop and emits a 512-d vector.
	embInputSize     = 112
	EmbeddingDim     = 512
	embInputName     = "input.1"
	embOutputName    = "683"
	embModelFileName = "w600k_r50.onnx"
)

// Embedder extracts face embeddings using the ArcFace ONNX model.
type Embedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	e := &Embedder{}

	var err error
	if e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embInputSize, embInputSize)); err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	if e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, EmbeddingDim)); err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{embInputName}, []string{embOutputName},
		[]ort.Value{e.input}, []ort.Value{e.output}, opts)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return e, nil
}

// Extract embeds a CHW face crop produced by preprocessForEmbedding and
// returns an L2-normalised copy of the model output.
func (e *Embedder) Extract(chw []float32) ([]float32, error) {
	copy(e.input.GetData(), chw)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	vec := make([]float32, EmbeddingDim)
	copy(vec, e.output.GetData())
	normalize(vec)
	return vec, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
