package monitor

import (
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/fallwatch/pkg/nn"
	"github.com/cyclopcam/fallwatch/server/camera"
	"github.com/fogleman/gg"
)

// JPEG quality of frames sent to viewers
const jpegQuality = 85

// Frame is a processed camera frame, together with its detections.
// The annotated image and its JPEG encoding are produced on first use, by
// whichever viewer asks first, so that the frame loop never pays for them.
type Frame struct {
	Time       time.Time
	Detections []nn.Detection
	HasTarget  bool

	raw image.Image

	annotateOnce sync.Once
	annotated    *image.RGBA

	jpegOnce sync.Once
	jpeg     []byte
	jpegErr  error
}

func newFrame(f *camera.Frame, dets []nn.Detection, hasTarget bool) *Frame {
	return &Frame{
		Time:       f.Time,
		Detections: dets,
		HasTarget:  hasTarget,
		raw:        f.Image,
	}
}

// The frame with detections drawn on it
func (f *Frame) Annotated() *image.RGBA {
	f.annotateOnce.Do(func() {
		f.annotated = Annotate(f.raw, f.Detections)
	})
	return f.annotated
}

// The annotated frame as a JPEG
func (f *Frame) JPEG() ([]byte, error) {
	f.jpegOnce.Do(func() {
		f.jpeg, f.jpegErr = EncodeJPEG(f.Annotated(), jpegQuality)
	})
	return f.jpeg, f.jpegErr
}

// Annotate draws a red box around every detection, with a green label above it
func Annotate(img image.Image, dets []nn.Detection) *image.RGBA {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)
	for _, d := range dets {
		b := d.Box
		dc.SetRGB(1, 0, 0)
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()

		label := d.Label
		if label == "" {
			label = fmt.Sprintf("class %v", d.Class)
		}
		text := fmt.Sprintf("%v %.2f", label, d.Confidence)
		ty := float64(b.Y) - 4
		if ty < 12 {
			// No room above the box
			ty = float64(b.Y) + 14
		}
		dc.SetRGB(0, 1, 0)
		dc.DrawString(text, float64(b.X)+2, ty)
	}
	if rgba, ok := dc.Image().(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(dc.Image().Bounds())
	draw.Draw(out, out.Bounds(), dc.Image(), out.Bounds().Min, draw.Src)
	return out
}

// EncodeJPEG compresses an RGBA image, dropping the alpha channel
func EncodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	rgb := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := rgb[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	wrapped := cimg.WrapImageStrided(w, h, cimg.PixelFormatRGB, rgb, w*3)
	return cimg.Compress(wrapped, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}
