package hog

// Package hog finds people in a frame with OpenCV's HOG descriptor
// and its built-in linear SVM people detector.

import (
	"fmt"
	"image"
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"gocv.io/x/gocv"
)

type Params struct {
	WinStride       int     // Pixels between detection windows, eg 4
	Padding         int     // Padding around the image, eg 8
	Scale           float64 // Pyramid scale step, eg 1.05
	FinalThreshold  float64 // Grouping threshold inside OpenCV
	SuppressOverlap float32 // Remove boxes that overlap a stronger box by at least this IoU. Zero disables.
}

func DefaultParams() Params {
	return Params{
		WinStride:       4,
		Padding:         8,
		Scale:           1.05,
		FinalThreshold:  2,
		SuppressOverlap: 0.65,
	}
}

// Detector must be closed, because it wraps a C++ object
type Detector struct {
	params Params
	lock   sync.Mutex
	hog    gocv.HOGDescriptor
}

func NewDetector(params Params) (*Detector, error) {
	hog := gocv.NewHOGDescriptor()
	if err := hog.SetSVMDetector(gocv.HOGDefaultPeopleDetector()); err != nil {
		hog.Close()
		return nil, fmt.Errorf("Failed to load HOG people detector: %w", err)
	}
	return &Detector{
		params: params,
		hog:    hog,
	}, nil
}

func (d *Detector) Close() {
	d.hog.Close()
}

// DetectPeople runs on a grayscale copy of img and returns boxes in img coordinates
func (d *Detector) DetectPeople(img *cimg.Image) ([]nn.PersonDetection, error) {
	bgr, err := videosrc.ImageToMat(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	d.lock.Lock()
	rects := d.hog.DetectMultiScaleWithParams(gray, 0,
		image.Pt(d.params.WinStride, d.params.WinStride),
		image.Pt(d.params.Padding, d.params.Padding),
		d.params.Scale, d.params.FinalThreshold, false)
	d.lock.Unlock()

	dets := make([]nn.PersonDetection, 0, len(rects))
	for _, r := range rects {
		dets = append(dets, nn.PersonDetection{
			Box: nn.RectFromImage(r).Clip(img.Width, img.Height),
			// The HOG API doesn't give us weights, so prefer bigger boxes when suppressing overlaps
			Confidence: float32(r.Dx()*r.Dy()) / float32(img.Width*img.Height),
		})
	}
	if d.params.SuppressOverlap > 0 {
		keep := nn.SuppressOverlaps(dets, d.params.SuppressOverlap)
		kept := make([]nn.PersonDetection, 0, len(keep))
		for _, i := range keep {
			kept = append(kept, dets[i])
		}
		dets = kept
	}
	return dets, nil
}
