package vision

import (
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// Polygon approximation tolerance as a fraction of the contour perimeter.
const approxEpsilonRatio = 0.02

// extractQuadrilateral finds the largest connected foreground component of a
// binary mask and reduces it to exactly four corner points. A clean polygon
// approximation is preferred; anything else falls back to the minimum-area
// enclosing rectangle, so a quadrilateral is always produced once any
// foreground exists.
func extractQuadrilateral(mask gocv.Mat) ([]image.Point, error) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return nil, ErrNoContour
	}

	largest := 0
	largestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > largestArea {
			largestArea = area
			largest = i
		}
	}
	contour := contours.At(largest)

	epsilon := approxEpsilonRatio * gocv.ArcLength(contour, true)
	approx := gocv.ApproxPolyDP(contour, epsilon, true)
	defer approx.Close()

	if approx.Size() == 4 {
		return approx.ToPoints(), nil
	}

	rect := gocv.MinAreaRect(contour)
	pts := make([]image.Point, 4)
	copy(pts, rect.Points)
	return pts, nil
}

// orderCorners sorts four points into the canonical TL, TR, BR, BL order.
// The perspective transform maps corners one-to-one onto fixed destination
// corners; a wrong order would mirror or twist the warp. Requires exactly
// four points.
func orderCorners(pts []image.Point) [4]image.Point {
	sorted := make([]image.Point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	top := sorted[:2]
	bottom := sorted[2:]
	sort.Slice(top, func(i, j int) bool { return top[i].X < top[j].X })
	sort.Slice(bottom, func(i, j int) bool { return bottom[i].X < bottom[j].X })

	return [4]image.Point{top[0], top[1], bottom[1], bottom[0]}
}
