package onnx

import (
	"image"
	"image/color"
	"testing"

	"github.com/cyclopcam/fallwatch/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestNumPredictions(t *testing.T) {
	require.Equal(t, 8400, NumPredictions(640, 640))
	require.Equal(t, 2100, NumPredictions(320, 320))
	require.Equal(t, ConfigFilename("models/fall.onnx"), "models/fall.json")
}

func TestLetterbox(t *testing.T) {
	// 200x100 solid red image into a 64x64 network: scale 0.32, 64x32 content, 16 rows of padding top and bottom
	src := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			src.Set(x, y, color.NRGBA{255, 0, 0, 255})
		}
	}
	dst := make([]float32, 3*64*64)
	xform := Letterbox(src, 64, 64, dst)
	require.Equal(t, 0, xform.PadX)
	require.Equal(t, 16, xform.PadY)
	require.InDelta(t, 0.32, xform.Scale, 1e-6)

	cs := 64 * 64
	// padding
	require.InDelta(t, padValue, dst[0], 1e-6)
	require.InDelta(t, padValue, dst[2*cs], 1e-6)
	// content
	center := 32*64 + 32
	require.InDelta(t, 1.0, dst[center], 0.01)
	require.InDelta(t, 0.0, dst[cs+center], 0.01)
	require.InDelta(t, 0.0, dst[2*cs+center], 0.01)

	// A box covering the whole content area maps back to the whole source image
	box := xform.ToSource(nn.RectFromCorners(0, 16, 64, 48))
	require.Equal(t, nn.RectFromCorners(0, 0, 200, 100), box)
}

func TestDecodeOutput(t *testing.T) {
	nClasses := 2
	nBoxes := 3
	out := make([]float32, (4+nClasses)*nBoxes)
	set := func(box int, cx, cy, w, h, s0, s1 float32) {
		vals := []float32{cx, cy, w, h, s0, s1}
		for row, v := range vals {
			out[row*nBoxes+box] = v
		}
	}
	set(0, 50, 50, 20, 10, 0.9, 0.1)
	set(1, 10, 10, 4, 4, 0.2, 0.3)
	set(2, 100, 80, 10, 40, 0.1, 0.85)

	dets := DecodeOutput(out, nClasses, nBoxes, 0.8)
	require.Len(t, dets, 2)
	require.Equal(t, 0, dets[0].Class)
	require.Equal(t, float32(0.9), dets[0].Confidence)
	require.Equal(t, nn.RectFromCorners(40, 45, 60, 55), dets[0].Box)
	require.Equal(t, 1, dets[1].Class)
	require.Equal(t, nn.RectFromCorners(95, 60, 105, 100), dets[1].Box)

	require.Empty(t, DecodeOutput(out, nClasses, nBoxes, 0.95))
}
