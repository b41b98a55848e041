package vision

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Segmentation is the capability's answer resolved against the original
// image: a pixel-space bounding box and a full-resolution binary mask.
type Segmentation struct {
	Box   image.Rectangle
	Mask  gocv.Mat
	Label string
}

// resolveSegmentation calls the capability with a size-reduced copy of the
// image and normalizes its answer to the original resolution. The first
// returned region is taken as the door.
func (e *Engine) resolveSegmentation(ctx context.Context, img gocv.Mat) (Segmentation, error) {
	reqBytes, err := encodeCapped(img, maxRequestEdge)
	if err != nil {
		return Segmentation{}, err
	}

	regions, err := e.segmenter.Segment(ctx, reqBytes)
	if err != nil {
		return Segmentation{}, fmt.Errorf("segment call: %w", err)
	}
	if len(regions) == 0 {
		return Segmentation{}, ErrSegmentationEmpty
	}
	region := regions[0]

	w, h := img.Cols(), img.Rows()
	box := denormalizeBox(region.Box2D, w, h)

	full := gocv.Zeros(h, w, gocv.MatTypeCV8U)

	png, hasMask := region.MaskPNG()
	if hasMask && !box.Empty() {
		maskImg, err := gocv.IMDecode(png, gocv.IMReadGrayScale)
		if err != nil {
			full.Close()
			return Segmentation{}, fmt.Errorf("decoding mask payload: %w", err)
		}
		if maskImg.Empty() {
			maskImg.Close()
			full.Close()
			return Segmentation{}, fmt.Errorf("decoding mask payload: empty mask image")
		}
		defer maskImg.Close()

		// Stretch the mask to exactly fill the box, then paste it into the
		// zero canvas at the box offset.
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(maskImg, &resized, image.Pt(box.Dx(), box.Dy()), 0, 0, gocv.InterpolationNearestNeighbor)

		roi := full.Region(box)
		resized.CopyTo(&roi)
		roi.Close()

		gocv.Threshold(full, &full, 128, 255, gocv.ThresholdBinary)
	} else {
		// Only a coarse rectangle: the box itself becomes the mask.
		gocv.Rectangle(&full, box, color.RGBA{R: 255, G: 255, B: 255}, -1)
	}

	return Segmentation{Box: box, Mask: full, Label: region.Label}, nil
}

// denormalizeBox converts a [y0, x0, y1, x1] box in the 0-1000 normalized
// space to pixel coordinates, clamped to the image bounds.
func denormalizeBox(box [4]int, w, h int) image.Rectangle {
	y0 := box[0] * h / 1000
	x0 := box[1] * w / 1000
	y1 := box[2] * h / 1000
	x1 := box[3] * w / 1000
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, w, h))
}

// encodeCapped JPEG-encodes img, downscaling first so the long edge does not
// exceed maxEdge. This bounds the capability request cost; all coordinates
// still refer to the original resolution because the box space is normalized.
func encodeCapped(img gocv.Mat, maxEdge int) ([]byte, error) {
	w, h := img.Cols(), img.Rows()
	long := max(w, h)

	send := img
	if long > maxEdge {
		scale := float64(maxEdge) / float64(long)
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(img, &small, image.Pt(int(float64(w)*scale), int(float64(h)*scale)), 0, 0, gocv.InterpolationArea)
		send = small
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, send)
	if err != nil {
		return nil, fmt.Errorf("encoding request image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
