// Package effects holds local, capability-free image distortions used by the
// derivative pipeline.
package effects

import (
	"fmt"
	"image"
	"math/rand"

	"gocv.io/x/gocv"
)

const brightCutoff = 80

// Uglify renders the "hyper-drip" distortion: oversaturate and deep-fry the
// image, then smear bright pixels downward column by column, producing a
// melting pixel-sort look. Runs entirely locally.
func Uglify(imageBytes []byte) ([]byte, error) {
	img, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decoding image: empty input")
	}
	h, w := img.Rows(), img.Cols()

	fried := deepFry(img)
	defer fried.Close()

	// Work at half width so the smears come out chunky.
	smallW := w / 2
	if smallW < 1 {
		smallW = 1
	}
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(fried, &small, image.Pt(smallW, h), 0, 0, gocv.InterpolationLinear)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(small, &gray, gocv.ColorBGRToGray)

	// Smears write into a copy and sample from the untouched fried source,
	// so overlapping smears in one column never pick up each other's paint.
	canvas := small.Clone()
	defer canvas.Close()

	rng := rand.New(rand.NewSource(int64(h)*31 + int64(w)))
	for x := 0; x < smallW; x++ {
		lastY := -1
		for y := 0; y < h; y++ {
			if gray.GetUCharAt(y, x) <= brightCutoff {
				continue
			}
			if lastY >= 0 && y > lastY+1 {
				smear(&canvas, small, x, lastY, 10+rng.Intn(90))
			}
			lastY = y
		}
		if lastY >= 0 {
			smear(&canvas, small, x, lastY, 20+rng.Intn(130))
		}
	}

	final := gocv.NewMat()
	defer final.Close()
	gocv.Resize(canvas, &final, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, final)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// deepFry pushes saturation hard and raises contrast.
func deepFry(img gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	channels[1].MultiplyFloat(3.0)
	gocv.Merge(channels, &hsv)
	for i := range channels {
		channels[i].Close()
	}

	boosted := gocv.NewMat()
	defer boosted.Close()
	gocv.CvtColor(hsv, &boosted, gocv.ColorHSVToBGR)

	fried := gocv.NewMat()
	boosted.ConvertToWithParams(&fried, gocv.MatTypeCV8UC3, 1.5, -64)
	return fried
}

// smear drags the source color at (fromY, x) downward for length rows on dst.
func smear(dst *gocv.Mat, src gocv.Mat, x, fromY, length int) {
	b := src.GetUCharAt(fromY, x*3)
	g := src.GetUCharAt(fromY, x*3+1)
	r := src.GetUCharAt(fromY, x*3+2)

	end := fromY + length
	if end > dst.Rows() {
		end = dst.Rows()
	}
	for y := fromY; y < end; y++ {
		dst.SetUCharAt(y, x*3, b)
		dst.SetUCharAt(y, x*3+1, g)
		dst.SetUCharAt(y, x*3+2, r)
	}
}
