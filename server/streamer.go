package server

import (
	"time"

	"github.com/cyclopcam/fallwatch/server/monitor"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// Give up on a viewer whose connection can't accept a frame within this time
const frameWriteTimeout = 10 * time.Second

// FrameStreamer sends annotated JPEG frames to a websocket client, one binary message per frame.
// Frames that arrive while the previous one is still being written are dropped.
type FrameStreamer struct {
	log         logs.Log
	nSent       int64
	nDropped    int64
	lastLogTime time.Time
}

func NewFrameStreamer(log logs.Log) *FrameStreamer {
	return &FrameStreamer{
		log: log,
	}
}

// Run until the client disconnects, or frames is closed
func (s *FrameStreamer) Run(conn *websocket.Conn, frames chan *monitor.Frame) {
	closed := make(chan bool)
	go s.webSocketReader(conn, closed)

	for {
		select {
		case <-closed:
			s.log.Infof("Frame viewer disconnected (sent %v, dropped %v)", s.nSent, s.nDropped)
			return
		case f, ok := <-frames:
			if !ok {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "monitor stopped"), time.Now().Add(time.Second))
				return
			}
			// Skip to the newest frame if we've fallen behind
			for len(frames) != 0 {
				next, ok := <-frames
				if !ok {
					break
				}
				f = next
				s.nDropped++
			}
			jpg, err := f.JPEG()
			if err != nil {
				s.log.Errorf("Failed to encode frame: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, jpg); err != nil {
				s.log.Infof("Frame viewer write failed: %v", err)
				return
			}
			s.nSent++
			if now := time.Now(); now.Sub(s.lastLogTime) > time.Minute {
				s.log.Debugf("Sent %v/%v frames to viewer", s.nSent, s.nSent+s.nDropped)
				s.lastLogTime = now
			}
		}
	}
}

// We don't expect any messages from the client, but we must read in order to notice when it goes away
func (s *FrameStreamer) webSocketReader(conn *websocket.Conn, closed chan bool) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(closed)
			return
		}
	}
}
