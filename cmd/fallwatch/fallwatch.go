package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/fallwatch/pkg/buildinfo"
	"github.com/cyclopcam/fallwatch/pkg/onnx"
	"github.com/cyclopcam/fallwatch/server"
	"github.com/cyclopcam/fallwatch/server/config"
	"github.com/cyclopcam/fallwatch/server/monitor"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("fallwatch", "Watch a camera and send an SMS when a fall (or other target) stays in view")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (JSON). Optional if " + config.DefaultFilename + " does not exist", Default: ""})
	cameraName := parser.String("", "camera", &argparse.Options{Help: "Camera: http(s) snapshot URL, 'webcam', or 'webcam:N'", Default: ""})
	threshold := parser.String("", "threshold", &argparse.Options{Help: "Seconds that the target must stay in view before alerting (may be negative)", Default: ""})
	targetLabel := parser.String("", "target", &argparse.Options{Help: "Detection class that triggers alerts", Default: ""})
	modelFile := parser.String("", "model", &argparse.Options{Help: "ONNX model file. The .json side-car must sit next to it", Default: ""})
	httpAddr := parser.String("", "http", &argparse.Options{Help: "HTTP listen address, eg :8080. 'off' disables HTTP", Default: ""})
	dbFile := parser.String("", "db", &argparse.Options{Help: "Alert history database", Default: ""})
	window := parser.Flag("", "window", &argparse.Options{Help: "Show annotated frames in a local window ('q' to quit)", Default: false})
	dryRun := parser.Flag("", "dry-run", &argparse.Options{Help: "Log alerts instead of sending SMS", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("fallwatch %v", buildinfo.Version)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *cameraName != "" {
		cfg.Camera = *cameraName
	}
	if *threshold != "" {
		seconds, err := strconv.ParseFloat(*threshold, 64)
		if err != nil {
			logger.Errorf("Invalid threshold '%v': %v", *threshold, err)
			os.Exit(1)
		}
		cfg.ThresholdSeconds = seconds
	}
	if *targetLabel != "" {
		cfg.TargetLabel = *targetLabel
	}
	if *modelFile != "" {
		cfg.Model = *modelFile
	}
	if *httpAddr == "off" {
		cfg.HTTPAddress = ""
	} else if *httpAddr != "" {
		cfg.HTTPAddress = *httpAddr
	}
	if *dbFile != "" {
		cfg.DBPath = *dbFile
	}
	if *window {
		cfg.Window = true
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := onnx.Initialize(logger, cfg.OnnxRuntimeLib); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()
	if err := srv.Start(); err != nil {
		logger.Errorf("%v", err)
		srv.Shutdown()
		os.Exit(1)
	}

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if cfg.Window {
		// Returns when 'q' is pressed, or the monitor stops
		monitor.RunWindow(context.Background(), logger, srv.Monitor, "fallwatch")
		srv.Monitor.Stop()
	}

	exitCode := 0
	if err := srv.Wait(); err != nil {
		logger.Errorf("Monitor stopped: %v", err)
		exitCode = 1
	}
	logger.Infof("Exiting")
	logger.Close()
	onnx.Shutdown()
	os.Exit(exitCode)
}
