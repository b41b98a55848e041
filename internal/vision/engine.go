// Package vision rectifies a photographed door face to a canonical rectangle
// and isolates the chalk marks drawn on it. The whole pipeline is synchronous
// and deterministic apart from the externally supplied segmentation.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/kalambet/chalkscan/internal/gemini"
)

var (
	// ErrSegmentationEmpty means the capability returned no candidate regions.
	ErrSegmentationEmpty = errors.New("segmentation returned no regions")
	// ErrNoContour means the resolved mask has no foreground pixels.
	ErrNoContour = errors.New("no contours found in segmentation mask")
)

// Segmenter is the slice of the AI capability the engine needs.
type Segmenter interface {
	Segment(ctx context.Context, image []byte) ([]gemini.Region, error)
}

const (
	// Destination rectangle for the perspective warp. Fixed regardless of the
	// source quadrilateral's aspect ratio so downstream processing sees one
	// canonical door shape.
	DefaultOutputWidth  = 1200
	DefaultOutputHeight = 2800

	// Long edge cap for the copy sent to the segmentation capability.
	// Coordinates are always computed against the original resolution.
	maxRequestEdge = 1024
)

// Engine turns an original door photo into an enhanced chalk image.
type Engine struct {
	segmenter Segmenter
	outW      int
	outH      int
}

// NewEngine creates an Engine with the default output geometry.
func NewEngine(segmenter Segmenter) *Engine {
	return &Engine{
		segmenter: segmenter,
		outW:      DefaultOutputWidth,
		outH:      DefaultOutputHeight,
	}
}

// Process runs the full extraction: segmentation, quadrilateral detection,
// perspective rectification, mark isolation, and color enhancement. It fails
// fast on the first stage error and produces no partial output.
func (e *Engine) Process(ctx context.Context, original []byte) ([]byte, error) {
	img, err := gocv.IMDecode(original, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decoding image: empty input")
	}

	seg, err := e.resolveSegmentation(ctx, img)
	if err != nil {
		return nil, err
	}
	defer seg.Mask.Close()

	quad, err := extractQuadrilateral(seg.Mask)
	if err != nil {
		return nil, err
	}
	corners := orderCorners(quad)

	warped := rectify(img, corners, e.outW, e.outH)
	defer warped.Close()

	mask := isolateMarks(warped)
	defer mask.Close()

	return colorize(warped, mask)
}

// rectify maps the ordered source corners (TL, TR, BR, BL) onto a fixed-size
// destination rectangle and resamples the image into it.
func rectify(img gocv.Mat, corners [4]image.Point, w, h int) gocv.Mat {
	src := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(corners[0].X), Y: float32(corners[0].Y)},
		{X: float32(corners[1].X), Y: float32(corners[1].Y)},
		{X: float32(corners[2].X), Y: float32(corners[2].Y)},
		{X: float32(corners[3].X), Y: float32(corners[3].Y)},
	})
	defer src.Close()

	dst := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: float32(w - 1), Y: 0},
		{X: float32(w - 1), Y: float32(h - 1)},
		{X: 0, Y: float32(h - 1)},
	})
	defer dst.Close()

	m := gocv.GetPerspectiveTransform2f(src, dst)
	defer m.Close()

	out := gocv.NewMat()
	gocv.WarpPerspective(img, &out, m, image.Pt(w, h))
	return out
}

// isolateMarks extracts small bright chalk strokes from the warped door face.
// A large top-hat suppresses slowly varying background brightness, Otsu picks
// the binarization threshold, and small morphology cleans and reconnects the
// surviving strokes.
func isolateMarks(warped gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(warped, &gray, gocv.ColorBGRToGray)

	tophatKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(15, 15))
	defer tophatKernel.Close()
	tophat := gocv.NewMat()
	defer tophat.Close()
	gocv.MorphologyEx(gray, &tophat, gocv.MorphTophat, tophatKernel)

	mask := gocv.NewMat()
	gocv.Threshold(tophat, &mask, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// Drop isolated single-pixel noise.
	openKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2))
	defer openKernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, openKernel)

	// Thicken and reconnect strokes.
	ellipse := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(2, 2))
	defer ellipse.Close()
	gocv.Dilate(mask, &mask, ellipse)
	gocv.Dilate(mask, &mask, ellipse)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, ellipse)

	return mask
}

// colorize masks the warped color image to the enhanced strokes, boosts
// saturation and value, and encodes the result as JPEG.
func colorize(warped, mask gocv.Mat) ([]byte, error) {
	masked := gocv.NewMat()
	defer masked.Close()
	gocv.BitwiseAndWithMask(warped, warped, &masked, mask)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(masked, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()
	// Saturating uint8 arithmetic clips to the valid range.
	channels[1].MultiplyFloat(1.25)
	channels[2].MultiplyFloat(1.2)
	gocv.Merge(channels, &hsv)

	final := gocv.NewMat()
	defer final.Close()
	gocv.CvtColor(hsv, &final, gocv.ColorHSVToBGR)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, final)
	if err != nil {
		return nil, fmt.Errorf("encoding processed image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
