package onnx

import (
	"image"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/fallwatch/pkg/nn"
	"github.com/disintegration/imaging"
)

// Ultralytics pads letterboxed images with this gray level
const padValue = 114.0 / 255.0

// Transform maps boxes from network space back into the source image
type Transform struct {
	Scale float32 // network pixels per source pixel
	PadX  int     // horizontal padding in network space
	PadY  int     // vertical padding in network space
}

// Convert a box in network coordinates to a box in source image coordinates
func (t Transform) ToSource(r nn.Rect) nn.Rect {
	x1 := (float32(r.X) - float32(t.PadX)) / t.Scale
	y1 := (float32(r.Y) - float32(t.PadY)) / t.Scale
	x2 := (float32(r.X2()) - float32(t.PadX)) / t.Scale
	y2 := (float32(r.Y2()) - float32(t.PadY)) / t.Scale
	return nn.RectFromCorners(int32(math32.Round(x1)), int32(math32.Round(y1)), int32(math32.Round(x2)), int32(math32.Round(y2)))
}

// Letterbox resizes img to fit inside width x height while preserving its aspect ratio,
// and writes it as planar RGB float32 in [0,1] into dst, which must hold 3*width*height values.
func Letterbox(img image.Image, width, height int, dst []float32) Transform {
	b := img.Bounds()
	scale := min(float32(width)/float32(b.Dx()), float32(height)/float32(b.Dy()))
	nw := max(1, min(width, int(math32.Round(float32(b.Dx())*scale))))
	nh := max(1, min(height, int(math32.Round(float32(b.Dy())*scale))))
	xform := Transform{
		Scale: scale,
		PadX:  (width - nw) / 2,
		PadY:  (height - nh) / 2,
	}

	channelSize := width * height
	for i := range dst[:3*channelSize] {
		dst[i] = padValue
	}

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	for y := 0; y < nh; y++ {
		src := resized.Pix[y*resized.Stride:]
		offset := (y+xform.PadY)*width + xform.PadX
		for x := 0; x < nw; x++ {
			i := offset + x
			dst[i] = float32(src[x*4]) / 255.0
			dst[channelSize+i] = float32(src[x*4+1]) / 255.0
			dst[channelSize*2+i] = float32(src[x*4+2]) / 255.0
		}
	}
	return xform
}

// DecodeOutput parses the [1, 4+nClasses, nBoxes] output of a YOLOv8 head.
// Each column holds (cx, cy, w, h) in network pixels, followed by one score per class.
// Only the best class of each column is considered, and only if it reaches threshold.
// Boxes are returned in network coordinates.
func DecodeOutput(output []float32, nClasses, nBoxes int, threshold float32) []nn.Detection {
	dets := make([]nn.Detection, 0, 32)
	for i := 0; i < nBoxes; i++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < nClasses; c++ {
			score := output[(4+c)*nBoxes+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < threshold {
			continue
		}
		cx := output[i]
		cy := output[nBoxes+i]
		w := output[2*nBoxes+i]
		h := output[3*nBoxes+i]
		dets = append(dets, nn.Detection{
			Class:      bestClass,
			Confidence: bestScore,
			Box: nn.RectFromCorners(
				int32(math32.Round(cx-w/2)),
				int32(math32.Round(cy-h/2)),
				int32(math32.Round(cx+w/2)),
				int32(math32.Round(cy+h/2)),
			),
		})
	}
	return dets
}
