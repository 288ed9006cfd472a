package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/server"
	"github.com/cyclopcam/rtvd/server/config"
	"github.com/cyclopcam/rtvd/server/monitor"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("watch", "Continuously monitor a live stream for violence")
	input := parser.String("i", "input", &argparse.Options{Help: "Stream URL (eg rtsp://...) or video file", Required: true})
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	thresholdStr := parser.String("t", "threshold", &argparse.Options{Help: "Decision threshold: snapshot, recall, or a number between 0 and 1", Default: ""})
	backendStr := parser.String("b", "backend", &argparse.Options{Help: "Video decoder: opencv or ffmpeg", Default: ""})
	reconnect := parser.Int("r", "reconnect", &argparse.Options{Help: "Seconds to wait before reopening the stream after it ends. 0 exits instead.", Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg, err := config.LoadConfig(*configFile)
	check(err)
	threshold := cfg.Thresholds.Streaming
	if *thresholdStr != "" {
		threshold, err = nn.ParseThreshold(*thresholdStr)
		check(err)
	}
	backend := cfg.VideoBackend
	if *backendStr != "" {
		backend, err = videosrc.ParseBackend(*backendStr)
		check(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ic, err := server.LoadInferenceContext(ctx, logger, cfg, nil)
	check(err)
	defer ic.Close()

	alm, closeAlarm, err := server.OpenAlarm(ctx, logger, cfg, nil)
	check(err)
	defer closeAlarm()

	opts := monitor.StreamOptions{
		Threshold:  threshold,
		Alerts:     alm,
		Continuous: true,
		OnDecision: func(d nn.Decision, frameIndex int) {
			fmt.Printf("%v frame %-6v %-11v %.4f\n", time.Now().Format(time.TimeOnly), frameIndex, d.Label, d.Probability)
		},
	}

	for {
		res, err := ic.StreamFile(ctx, *input, backend, opts)
		if ctx.Err() != nil {
			logger.Infof("Stopped")
			return
		}
		if err != nil {
			logger.Errorf("%v", err)
		} else {
			logger.Infof("Stream ended after %v frames and %v decisions", res.NumFrames, res.NumDecisions)
		}
		if *reconnect <= 0 {
			if err != nil {
				os.Exit(1)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(*reconnect) * time.Second):
		}
	}
}
