package nn

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
)

// Per-channel statistics of ImageNet, in RGB order
var ImageNetMean = [3]float32{0.485, 0.456, 0.406}
var ImageNetStd = [3]float32{0.229, 0.224, 0.225}

// Preprocess resizes img to width x height and returns a channel-major (CHW) float32 tensor,
// scaled to [0,1] and then normalized with ImageNetMean and ImageNetStd.
// img must be 8-bit RGB.
func Preprocess(img *cimg.Image, width, height int) ([]float32, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecode)
	}
	if img.NChan() != 3 {
		return nil, fmt.Errorf("%w: expected 3 channels, but frame has %v", ErrDecode, img.NChan())
	}
	src := img
	if img.Width != width || img.Height != height {
		// Triangle is bilinear, which is what the model was trained with
		params := cimg.ResizeParams{Filter: cimg.ResizeFilterTriangle}
		src = cimg.ResizeNew(img, width, height, &params)
	}

	var scale, offset [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = 1 / (255 * ImageNetStd[c])
		offset[c] = ImageNetMean[c] / ImageNetStd[c]
	}

	plane := width * height
	out := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		row := src.Pixels[y*src.Stride : y*src.Stride+width*3]
		for x := 0; x < width; x++ {
			p := y*width + x
			out[p] = float32(row[x*3])*scale[0] - offset[0]
			out[plane+p] = float32(row[x*3+1])*scale[1] - offset[1]
			out[2*plane+p] = float32(row[x*3+2])*scale[2] - offset[2]
		}
	}
	return out, nil
}
