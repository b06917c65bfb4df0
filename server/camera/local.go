package camera

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// LocalCamera reads frames from a camera attached to this machine, via OpenCV
type LocalCamera struct {
	DeviceIndex int

	capture *gocv.VideoCapture
	mat     gocv.Mat
	hasMat  bool
}

// The device is opened on the first call to NextFrame
func NewLocalCamera(deviceIndex int) *LocalCamera {
	return &LocalCamera{
		DeviceIndex: deviceIndex,
	}
}

func (c *LocalCamera) open() error {
	if c.capture != nil && c.capture.IsOpened() {
		return nil
	}
	if c.capture != nil {
		c.capture.Close()
		c.capture = nil
	}
	capture, err := gocv.OpenVideoCapture(c.DeviceIndex)
	if err != nil {
		return fmt.Errorf("%w: Failed to access webcam %v: %w", ErrFatal, c.DeviceIndex, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: Failed to access webcam %v", ErrFatal, c.DeviceIndex)
	}
	c.capture = capture
	if !c.hasMat {
		c.mat = gocv.NewMat()
		c.hasMat = true
	}
	return nil
}

func (c *LocalCamera) NextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, fmt.Errorf("%w: Failed to read from webcam %v", ErrFatal, c.DeviceIndex)
	}
	now := time.Now()
	// ToImage copies the pixels out of the Mat, so the Mat can be reused for the next frame
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &Frame{
		Image: img,
		Time:  now,
	}, nil
}

func (c *LocalCamera) Close() error {
	var err error
	if c.capture != nil {
		err = c.capture.Close()
		c.capture = nil
	}
	if c.hasMat {
		c.mat.Close()
		c.hasMat = false
	}
	return err
}

func (c *LocalCamera) Describe() string {
	return fmt.Sprintf("webcam:%v", c.DeviceIndex)
}

func (c *LocalCamera) GeoHint() string {
	return GeoHintSelf
}
