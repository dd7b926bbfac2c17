package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found by the detector, in source-image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Width and Height of the detection box.
func (d Detection) Width() float32  { return d.BBox[2] - d.BBox[0] }
func (d Detection) Height() float32 { return d.BBox[3] - d.BBox[1] }

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	detInputName     = "input.1"
	detModelFileName = "det_10g.onnx"
)

// detStrides are the feature-map strides of the RetinaFace det_10g heads.
var detStrides = [3]int{8, 16, 32}

// det_10g exposes score and box heads per stride, without a batch dimension.
var (
	detScoreOutputs = [3]string{"448", "471", "494"}
	detBoxOutputs   = [3]string{"451", "474", "497"}
)

// Detector runs RetinaFace face detection using ONNX Runtime.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    [3]*ort.Tensor[float32]
	boxes     [3]*ort.Tensor[float32]
	threshold float32
}

// NewDetector loads the RetinaFace model. opts may be nil for ORT defaults.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputNames := make([]string, 0, 6)
	outputs := make([]ort.Value, 0, 6)
	for i, stride := range detStrides {
		anchors := int64(anchorCount(stride))
		if d.scores[i], err = ort.NewEmptyTensor[float32](ort.NewShape(anchors, 1)); err != nil {
			d.Close()
			return nil, fmt.Errorf("create score tensor (stride %d): %w", stride, err)
		}
		if d.boxes[i], err = ort.NewEmptyTensor[float32](ort.NewShape(anchors, 4)); err != nil {
			d.Close()
			return nil, fmt.Errorf("create box tensor (stride %d): %w", stride, err)
		}
	}
	for i := range detStrides {
		outputNames = append(outputNames, detScoreOutputs[i])
		outputs = append(outputs, d.scores[i])
	}
	for i := range detStrides {
		outputNames = append(outputNames, detBoxOutputs[i])
		outputs = append(outputs, d.boxes[i])
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{detInputName}, outputNames,
		[]ort.Value{d.input}, outputs, opts)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

func anchorCount(stride int) int {
	side := detInputSize / stride
	return side * side * anchorsPerCell
}

// Detect runs detection on a CHW tensor produced by preprocessForDetection and
// returns faces ordered by descending confidence after non-maximum suppression.
func (d *Detector) Detect(chw []float32, origW, origH int) ([]Detection, error) {
	copy(d.input.GetData(), chw)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var found []Detection
	for i, stride := range detStrides {
		found = append(found, decodeStride(
			d.scores[i].GetData(), d.boxes[i].GetData(),
			stride, d.threshold, origW, origH)...)
	}
	return suppress(found, nmsIoUThreshold), nil
}

// decodeStride turns one anchor head into boxes. Box outputs are distances
// from the anchor centre to each edge, in units of the stride.
func decodeStride(scores, boxes []float32, stride int, threshold float32, origW, origH int) []Detection {
	side := detInputSize / stride
	sx := float32(origW) / detInputSize
	sy := float32(origH) / detInputSize
	st := float32(stride)

	var out []Detection
	for n := 0; n < side*side*anchorsPerCell && n < len(scores); n++ {
		if scores[n] < threshold {
			continue
		}
		cell := n / anchorsPerCell
		cx := float32(cell%side) * st
		cy := float32(cell/side) * st
		b := boxes[n*4 : n*4+4]

		out = append(out, Detection{
			BBox: [4]float32{
				clamp((cx-b[0]*st)*sx, 0, float32(origW)),
				clamp((cy-b[1]*st)*sy, 0, float32(origH)),
				clamp((cx+b[2]*st)*sx, 0, float32(origW)),
				clamp((cy+b[3]*st)*sy, 0, float32(origH)),
			},
			Confidence: scores[n],
		})
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for i := range detStrides {
		if d.scores[i] != nil {
			d.scores[i].Destroy()
		}
		if d.boxes[i] != nil {
			d.boxes[i].Destroy()
		}
	}
}

// suppress keeps the most confident box of every overlapping cluster.
func suppress(dets []Detection, maxIoU float32) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := make([]Detection, 0, len(dets))
	for _, cand := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(cand.BBox, k.BBox) > maxIoU {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	ix := math.Max(0, math.Min(float64(a[2]), float64(b[2]))-math.Max(float64(a[0]), float64(b[0])))
	iy := math.Max(0, math.Min(float64(a[3]), float64(b[3]))-math.Max(float64(a[1]), float64(b[1])))
	inter := float32(ix * iy)

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
