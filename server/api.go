package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

// Number of alerts returned by /api/alerts when no limit is given
const defaultAlertLimit = 50

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	// Each rate limited route gets its own limiter, keyed by client IP
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limiter := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	www.Handle(s.Log, router, "GET", "/api/status", s.httpStatus)
	ratelimited("GET", "/api/frame/latest", s.httpLatestFrame, 30, time.Second)
	www.Handle(s.Log, router, "GET", "/api/alerts", s.httpAlerts)
	ratelimited("POST", "/api/stop", s.httpStop, 5, time.Minute)
	ratelimited("GET", "/api/ws/frames", s.httpFramesWebSocket, 10, time.Minute)
	router.Handler("GET", "/metrics", s.Metrics.Handler())

	s.httpRouter = router
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	www.SendJSON(w, s.Monitor.Status())
}

func (s *Server) httpLatestFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	frame := s.Monitor.LatestFrame()
	if frame == nil {
		www.Panic(http.StatusNotFound, "No frame has been processed yet")
	}
	jpg, err := frame.JPEG()
	www.Check(err)
	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(jpg)))
	w.Write(jpg)
}

func (s *Server) httpAlerts(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit := defaultAlertLimit
	if v := www.QueryValue(r, "limit"); v != "" {
		var err error
		limit, err = strconv.Atoi(v)
		if err != nil {
			www.PanicBadRequestf("Must specify an integer for limit")
		}
	}
	alerts, err := s.Alerts.List(limit)
	www.Check(err)
	www.CacheNever(w)
	www.SendJSON(w, alerts)
}

func (s *Server) httpStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.Log.Infof("Stop requested from %v", r.RemoteAddr)
	s.Monitor.Stop()
	www.SendOK(w)
}

func (s *Server) httpFramesWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	// Register before the handshake completes, so that the client sees every frame after connecting
	frames := s.Monitor.AddWatcher()
	defer s.Monitor.RemoveWatcher(frames)

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpFramesWebSocket websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	s.Metrics.Viewers.Inc()
	defer s.Metrics.Viewers.Dec()

	streamer := NewFrameStreamer(s.Log)
	streamer.Run(c, frames)
}
