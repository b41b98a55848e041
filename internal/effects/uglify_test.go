package effects

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

func testJPEG(t *testing.T, rows, cols int) []byte {
	t.Helper()
	img := gocv.Zeros(rows, cols, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.Rectangle(&img, image.Rect(cols/4, rows/4, 3*cols/4, rows/2),
		color.RGBA{R: 220, G: 200, B: 180, A: 255}, -1)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out
}

func TestUglifyPreservesDimensions(t *testing.T) {
	in := testJPEG(t, 240, 320)

	out, err := Uglify(in)
	if err != nil {
		t.Fatalf("Uglify: %v", err)
	}

	decoded, err := gocv.IMDecode(out, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	defer decoded.Close()
	if decoded.Rows() != 240 || decoded.Cols() != 320 {
		t.Errorf("output dims = %dx%d, want 320x240", decoded.Cols(), decoded.Rows())
	}
}

func TestSmearSamplesSourceNotEarlierSmears(t *testing.T) {
	src := gocv.Zeros(12, 1, gocv.MatTypeCV8UC3)
	defer src.Close()
	// Row 0 carries one color, row 5 another.
	src.SetUCharAt(0, 0, 10)
	src.SetUCharAt(0, 1, 20)
	src.SetUCharAt(0, 2, 30)
	src.SetUCharAt(5, 0, 200)
	src.SetUCharAt(5, 1, 210)
	src.SetUCharAt(5, 2, 220)

	dst := src.Clone()
	defer dst.Close()

	// The first smear paints over row 5 on the destination; the second must
	// still pick up row 5's original color from the source.
	smear(&dst, src, 0, 0, 10)
	smear(&dst, src, 0, 5, 4)

	if got := dst.GetUCharAt(6, 0); got != 200 {
		t.Errorf("row 6 blue = %d, want the source color 200", got)
	}
	if got := dst.GetUCharAt(2, 0); got != 10 {
		t.Errorf("row 2 blue = %d, want the first smear color 10", got)
	}
	if got := dst.GetUCharAt(10, 0); got != 0 {
		t.Errorf("row 10 blue = %d, want untouched 0", got)
	}
}

func TestUglifyRejectsGarbage(t *testing.T) {
	if _, err := Uglify([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}
