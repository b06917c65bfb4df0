package monitor

import (
	"context"
	"time"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"
)

// RunWindow shows annotated frames in a local OpenCV window until the monitor stops,
// ctx is cancelled, or the user presses 'q' (which stops the monitor).
// OpenCV's HighGUI must be driven from the main thread on some platforms, so call this from main.
func RunWindow(ctx context.Context, logger logs.Log, m *Monitor, title string) {
	window := gocv.NewWindow(title)
	defer window.Close()

	frames := m.AddWatcher()
	defer m.RemoveWatcher(frames)

	// Keep the window responsive while the camera is slow or down
	pump := time.NewTicker(100 * time.Millisecond)
	defer pump.Stop()

	for {
		select {
		case <-pump.C:
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			mat, err := gocv.ImageToMatRGB(f.Annotated())
			if err != nil {
				logger.Warnf("Failed to convert frame for display: %v", err)
				continue
			}
			window.IMShow(mat)
			mat.Close()
		}
		// WaitKey also pumps the window's event loop
		if key := window.WaitKey(1); key == 'q' || key == 'Q' {
			logger.Infof("'q' pressed in window, stopping")
			m.stop()
			return
		}
	}
}
