package vision

import (
	"context"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/kalambet/chalkscan/internal/gemini"
)

func white() color.RGBA {
	return color.RGBA{R: 255, G: 255, B: 255, A: 255}
}

func colorGray(v uint8) color.RGBA {
	return color.RGBA{R: v, G: v, B: v, A: 255}
}

type stubSegmenter struct {
	regions []gemini.Region
	err     error
	called  int
}

func (s *stubSegmenter) Segment(_ context.Context, _ []byte) ([]gemini.Region, error) {
	s.called++
	return s.regions, s.err
}
