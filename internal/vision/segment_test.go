package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/kalambet/chalkscan/internal/gemini"
)

func TestResolveSegmentationEmpty(t *testing.T) {
	e := NewEngine(&stubSegmenter{regions: nil})

	img := gocv.Zeros(500, 1000, gocv.MatTypeCV8UC3)
	defer img.Close()

	_, err := e.resolveSegmentation(context.Background(), img)
	if !errors.Is(err, ErrSegmentationEmpty) {
		t.Errorf("got %v, want ErrSegmentationEmpty", err)
	}
}

func TestResolveSegmentationBoxOnly(t *testing.T) {
	// box_2d is [y0, x0, y1, x1] in 0-1000 space. On a 1000x500 image this
	// denormalizes to pixels (100,100)-(900,400).
	e := NewEngine(&stubSegmenter{regions: []gemini.Region{
		{Box2D: [4]int{200, 100, 800, 900}, Label: "door"},
	}})

	img := gocv.Zeros(500, 1000, gocv.MatTypeCV8UC3)
	defer img.Close()

	seg, err := e.resolveSegmentation(context.Background(), img)
	if err != nil {
		t.Fatalf("resolveSegmentation: %v", err)
	}
	defer seg.Mask.Close()

	wantBox := image.Rect(100, 100, 900, 400)
	if seg.Box != wantBox {
		t.Errorf("box = %v, want %v", seg.Box, wantBox)
	}
	if seg.Label != "door" {
		t.Errorf("label = %q", seg.Label)
	}
	if seg.Mask.Rows() != 500 || seg.Mask.Cols() != 1000 {
		t.Fatalf("mask dims = %dx%d, want full resolution", seg.Mask.Cols(), seg.Mask.Rows())
	}

	// The mask is a filled rectangle over exactly the box region.
	nonZero := gocv.CountNonZero(seg.Mask)
	// Filled rectangle drawing includes both bounding corners.
	wantArea := (wantBox.Dx() + 1) * (wantBox.Dy() + 1)
	if nonZero < wantBox.Dx()*wantBox.Dy() || nonZero > wantArea {
		t.Errorf("mask area = %d, want about %d", nonZero, wantArea)
	}
	if v := seg.Mask.GetUCharAt(250, 500); v != 255 {
		t.Errorf("inside box: mask = %d, want 255", v)
	}
	if v := seg.Mask.GetUCharAt(50, 50); v != 0 {
		t.Errorf("outside box: mask = %d, want 0", v)
	}
	if v := seg.Mask.GetUCharAt(450, 950); v != 0 {
		t.Errorf("outside box: mask = %d, want 0", v)
	}
}

func TestResolveSegmentationClampsBox(t *testing.T) {
	e := NewEngine(&stubSegmenter{regions: []gemini.Region{
		{Box2D: [4]int{-100, -100, 1400, 1400}, Label: "door"},
	}})

	img := gocv.Zeros(400, 600, gocv.MatTypeCV8UC3)
	defer img.Close()

	seg, err := e.resolveSegmentation(context.Background(), img)
	if err != nil {
		t.Fatalf("resolveSegmentation: %v", err)
	}
	defer seg.Mask.Close()

	if !seg.Box.In(image.Rect(0, 0, 600, 400)) {
		t.Errorf("box %v not clamped to image bounds", seg.Box)
	}
}

func TestResolveSegmentationPreciseMask(t *testing.T) {
	// Build a mask PNG whose top half is foreground. After resizing into a
	// (100,100)-(300,300) box, only the upper half of the box is set.
	maskSrc := gocv.Zeros(64, 64, gocv.MatTypeCV8U)
	defer maskSrc.Close()
	gocv.Rectangle(&maskSrc, image.Rect(0, 0, 64, 32), white(), -1)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, maskSrc)
	if err != nil {
		t.Fatalf("encoding test mask: %v", err)
	}
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.GetBytes())
	buf.Close()
	rawMask, _ := json.Marshal(payload)

	e := NewEngine(&stubSegmenter{regions: []gemini.Region{
		{Box2D: [4]int{250, 250, 750, 750}, Mask: rawMask, Label: "door"},
	}})

	img := gocv.Zeros(400, 400, gocv.MatTypeCV8UC3)
	defer img.Close()

	seg, err := e.resolveSegmentation(context.Background(), img)
	if err != nil {
		t.Fatalf("resolveSegmentation: %v", err)
	}
	defer seg.Mask.Close()

	if seg.Box != image.Rect(100, 100, 300, 300) {
		t.Fatalf("box = %v", seg.Box)
	}
	if v := seg.Mask.GetUCharAt(120, 200); v != 255 {
		t.Errorf("upper half of box: mask = %d, want 255", v)
	}
	if v := seg.Mask.GetUCharAt(280, 200); v != 0 {
		t.Errorf("lower half of box: mask = %d, want 0", v)
	}
	if v := seg.Mask.GetUCharAt(200, 50); v != 0 {
		t.Errorf("outside box: mask = %d, want 0", v)
	}
}
