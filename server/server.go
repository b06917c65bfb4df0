package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/fallwatch/pkg/log"
	"github.com/cyclopcam/fallwatch/pkg/nn"
	"github.com/cyclopcam/fallwatch/pkg/onnx"
	"github.com/cyclopcam/fallwatch/server/alertdb"
	"github.com/cyclopcam/fallwatch/server/camera"
	"github.com/cyclopcam/fallwatch/server/config"
	"github.com/cyclopcam/fallwatch/server/geo"
	"github.com/cyclopcam/fallwatch/server/metrics"
	"github.com/cyclopcam/fallwatch/server/monitor"
	"github.com/cyclopcam/fallwatch/server/notifications"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log     logs.Log
	Config  *config.Config
	Monitor *monitor.Monitor
	Alerts  *alertdb.AlertDB
	Metrics *metrics.Metrics

	signalIn     chan os.Signal
	httpServer   *http.Server
	httpRouter   *httprouter.Router
	wsUpgrader   websocket.Upgrader
	shutdownOnce sync.Once
}

// Create a server from configuration.
// The ONNX runtime must already be initialized.
func NewServer(logger logs.Log, cfg *config.Config) (*Server, error) {
	for _, w := range cfg.Warnings() {
		logger.Warnf("%v", w)
	}

	src, err := camera.Parse(cfg.Camera)
	if err != nil {
		return nil, err
	}

	alerts, err := alertdb.NewAlertDB(log.NewPrefixLogger(logger, "AlertDB:"), cfg.DBPath)
	if err != nil {
		return nil, err
	}

	detector, err := onnx.LoadDetector(log.NewPrefixLogger(logger, "ONNX:"), cfg.Model, nn.ThreadingModeParallel)
	if err != nil {
		alerts.Close()
		return nil, fmt.Errorf("Failed to load model %v: %w", cfg.Model, err)
	}
	if detector.Config().ClassIndex(cfg.TargetLabel) == -1 {
		logger.Warnf("Model %v has no class named '%v'. Classes are %v", cfg.Model, cfg.TargetLabel, detector.Config().Classes)
	}

	var sender notifications.Sender
	if cfg.DryRun {
		sender = notifications.NewLogSender(log.NewPrefixLogger(logger, "Notifier:"))
	} else {
		sender = notifications.NewTwilio(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.From, cfg.Twilio.To)
	}
	notifier := notifications.NewNotifier(log.NewPrefixLogger(logger, "Notifier:"), geo.NewIPInfo(), sender, alerts, cfg.AlertPrefix)

	opts := monitor.DefaultOptions()
	opts.TargetLabel = cfg.TargetLabel
	opts.Threshold = cfg.Threshold()
	opts.RetryDelay = cfg.RetryDelay()
	opts.DetectionParams.ProbabilityThreshold = cfg.Confidence
	mon := monitor.NewMonitor(log.NewPrefixLogger(logger, "Monitor:"), src, detector, notifier, opts)

	return newServer(logger, cfg, mon, alerts), nil
}

func newServer(logger logs.Log, cfg *config.Config, mon *monitor.Monitor, alerts *alertdb.AlertDB) *Server {
	s := &Server{
		Log:     logger,
		Config:  cfg,
		Monitor: mon,
		Alerts:  alerts,
		Metrics: metrics.New(mon.Status),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}
	s.setupHttpRoutes()
	return s
}

// Start the monitor, and the HTTP server if one is configured
func (s *Server) Start() error {
	if s.Config.HTTPAddress != "" {
		if err := s.ListenHTTP(s.Config.HTTPAddress); err != nil {
			return err
		}
	}
	s.Monitor.Start()
	return nil
}

// Start listening in the background
// addr example: ":8080"
func (s *Server) ListenHTTP(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	s.Log.Infof("Listening on %v", addr)
	// Bind synchronously, so that a busy port is reported to main
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("Failed to listen on %v: %w", addr, err)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Errorf("HTTP server failed: %v", err)
			s.Monitor.Stop()
		}
	}()
	return nil
}

// Stop the monitor when we receive SIGINT or SIGTERM. Wait() does the rest of the shutdown.
func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-s.signalIn:
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Monitor.Stop()
		case <-s.Monitor.Done():
		}
	}()
}

// Wait blocks until the monitor stops, then shuts everything down.
// Returns the camera error that stopped the monitor, if any.
func (s *Server) Wait() error {
	<-s.Monitor.Done()
	s.Shutdown()
	err := s.Monitor.Err()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Shutdown closes the monitor, then the HTTP server, then the database
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.Log.Infof("Shutdown")
		if s.signalIn != nil {
			signal.Stop(s.signalIn)
		}
		s.Monitor.Close()
		if s.httpServer != nil {
			s.Log.Infof("Closing HTTP server")
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.Log.Warnf("HTTP server shutdown: %v", err)
			}
			cancel()
		}
		s.Alerts.Close()
		s.Log.Infof("Shutdown complete")
	})
}
