package alarm

import (
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/fogleman/gg"
)

// Annotate draws a box and a label around every person, in red for a Violent label
// and green otherwise. If nobody was found, the label is drawn in the top left corner.
// img is not modified.
func Annotate(img *cimg.Image, people []nn.PersonDetection, label nn.Label) *cimg.Image {
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		dst := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < img.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 255
		}
	}

	dc := gg.NewContextForRGBA(rgba)
	if label == nn.LabelViolent {
		dc.SetRGB(1, 0, 0)
	} else {
		dc.SetRGB(0, 1, 0)
	}
	dc.SetLineWidth(3)
	text := label.String()
	for _, p := range people {
		b := p.Box
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()
		dc.DrawString(text, float64(b.X), float64(max(b.Y-10, 12)))
	}
	if len(people) == 0 {
		dc.DrawString(text, 10, 20)
	}

	out := cimg.NewImage(img.Width, img.Height, cimg.PixelFormatRGB)
	for y := 0; y < img.Height; y++ {
		src := rgba.Pix[y*rgba.Stride:]
		dst := out.Pixels[y*out.Stride:]
		for x := 0; x < img.Width; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return out
}
