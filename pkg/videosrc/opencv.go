package videosrc

import (
	"context"
	"fmt"
	"io"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"gocv.io/x/gocv"
)

// OpenCV decodes with OpenCV's VideoCapture, which handles files as well as network streams
type OpenCV struct {
	capture    *gocv.VideoCapture
	bgr        gocv.Mat
	frameCount int
}

func OpenOpenCV(uri string) (*OpenCV, error) {
	capture, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open '%v': %v", nn.ErrDecode, uri, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: failed to open '%v'", nn.ErrDecode, uri)
	}
	frameCount := int(capture.Get(gocv.VideoCaptureFrameCount))
	if frameCount <= 0 {
		frameCount = -1
	}
	return &OpenCV{
		capture:    capture,
		bgr:        gocv.NewMat(),
		frameCount: frameCount,
	}, nil
}

func (s *OpenCV) FrameCount() int {
	return s.frameCount
}

func (s *OpenCV) Next(ctx context.Context) (*cimg.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// VideoCapture doesn't distinguish between end of stream and a read failure
	if !s.capture.Read(&s.bgr) || s.bgr.Empty() {
		return nil, io.EOF
	}
	if s.bgr.Channels() != 3 {
		return nil, fmt.Errorf("%w: frame has %v channels", nn.ErrDecode, s.bgr.Channels())
	}
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(s.bgr, &rgb, gocv.ColorBGRToRGB)
	return MatToImage(rgb)
}

func (s *OpenCV) Close() error {
	s.bgr.Close()
	return s.capture.Close()
}

// MatToImage copies a 3 channel 8-bit Mat into a new RGB image
func MatToImage(m gocv.Mat) (*cimg.Image, error) {
	if m.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("%w: unsupported Mat type %v", nn.ErrDecode, m.Type())
	}
	width, height := m.Cols(), m.Rows()
	pixels := m.ToBytes()
	if len(pixels) != width*height*3 {
		return nil, fmt.Errorf("%w: Mat has %v bytes, expected %v", nn.ErrDecode, len(pixels), width*height*3)
	}
	return cimg.WrapImage(width, height, cimg.PixelFormatRGB, pixels), nil
}

// ImageToMat copies an RGB image into a new 3 channel Mat, in BGR order, which is what OpenCV expects.
// The caller must Close the Mat.
func ImageToMat(img *cimg.Image) (gocv.Mat, error) {
	if img.NChan() != 3 {
		return gocv.Mat{}, fmt.Errorf("%w: expected 3 channels, but image has %v", nn.ErrDecode, img.NChan())
	}
	packed := make([]byte, img.Width*img.Height*3)
	for y := 0; y < img.Height; y++ {
		copy(packed[y*img.Width*3:(y+1)*img.Width*3], img.Pixels[y*img.Stride:])
	}
	rgb, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, packed)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer rgb.Close()
	bgr := gocv.NewMat()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)
	return bgr, nil
}
