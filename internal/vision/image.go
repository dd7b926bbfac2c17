package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/your-org/medface/internal/models"
)

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	return img, nil
}

func preprocessForDetection(img image.Image) []float32 {
	return toCHW(img, detInputSize, 127.5, 128.0)
}

func preprocessForEmbedding(img image.Image) []float32 {
	return toCHW(img, embInputSize, 127.5, 127.5)
}

// toCHW resizes img to size x size (nearest neighbour) and lays it out as
// planar RGB with (pixel - mean) / std applied to every channel.
func toCHW(img image.Image, size int, mean, std float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := size * size
	out := make([]float32, 3*plane)
	if w == 0 || h == 0 {
		return out
	}

	for y := 0; y < size; y++ {
		srcY := b.Min.Y + y*h/size
		for x := 0; x < size; x++ {
			srcX := b.Min.X + x*w/size
			r, g, bl, _ := img.At(srcX, srcY).RGBA()
			i := y*size + x
			out[i] = (float32(r>>8) - mean) / std
			out[plane+i] = (float32(g>>8) - mean) / std
			out[2*plane+i] = (float32(bl>>8) - mean) / std
		}
	}
	return out
}

// cropFace cuts the detection box, widened by 10% per side, out of img.
// It returns nil for an empty box.
func cropFace(img image.Image, box [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padW, padH := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			crop.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return crop
}
