package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

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

var exitCode int

func main() {
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	parser := argparse.NewParser("snapshot", "Classify a whole video as violent or non-violent, and raise an alert if it is violent")
	input := parser.String("i", "input", &argparse.Options{Help: "Input video file or stream URL", Required: true})
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	thresholdStr := parser.String("t", "threshold", &argparse.Options{Help: "Decision threshold: snapshot, recall, or a number between 0 and 1", Default: ""})
	backendStr := parser.String("b", "backend", &argparse.Options{Help: "Video decoder: opencv or ffmpeg", Default: ""})
	noAlarm := parser.Flag("", "noalarm", &argparse.Options{Help: "Don't save the alert frame or play the siren", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg, err := config.LoadConfig(*configFile)
	check(err)
	threshold := cfg.Thresholds.Snapshot
	if *thresholdStr != "" {
		threshold, err = nn.ParseThreshold(*thresholdStr)
		check(err)
	}
	backend := cfg.VideoBackend
	if *backendStr != "" {
		backend, err = videosrc.ParseBackend(*backendStr)
		check(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ic, err := server.LoadInferenceContext(ctx, logger, cfg, nil)
	check(err)
	defer ic.Close()

	opts := monitor.SnapshotOptions{
		Threshold: threshold,
	}
	if !*noAlarm {
		alm, closeAlarm, err := server.OpenAlarm(ctx, logger, cfg, nil)
		check(err)
		defer closeAlarm()
		opts.Alerts = alm
	}

	res, err := ic.SnapshotFile(ctx, *input, backend, opts)
	if err != nil {
		logger.Errorf("%v", err)
		exitCode = 1
		return
	}
	switch {
	case !res.Decided():
		fmt.Printf("Not enough frames for prediction.\n")
	case res.Decision.Label == nn.LabelViolent:
		fmt.Printf("ALERT: Violence detected! (probability %.4f)\n", res.Decision.Probability)
	default:
		fmt.Printf("Video is non-violent. (probability %.4f)\n", res.Decision.Probability)
	}
}
