package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/server"
	"github.com/cyclopcam/rtvd/server/config"
	"github.com/cyclopcam/rtvd/server/eval"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("evaluate", "Measure the streaming violence detector against labelled videos")
	list := parser.String("l", "list", &argparse.Options{Help: "CSV file of path,label rows", Default: ""})
	videos := parser.StringList("v", "video", &argparse.Options{Help: "Video file (repeat for each video, in the same order as --label)"})
	labels := parser.StringList("", "label", &argparse.Options{Help: "Ground truth of each --video: 1/Violent or 0/Non-Violent"})
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	thresholdStr := parser.String("t", "threshold", &argparse.Options{Help: "Decision threshold: snapshot, recall, or a number between 0 and 1", Default: ""})
	backendStr := parser.String("b", "backend", &argparse.Options{Help: "Video decoder: opencv or ffmpeg", Default: ""})
	stopEarly := parser.Flag("", "early", &argparse.Options{Help: "Stop reading each video once its decision has been made", Default: false})
	plotFile := parser.String("", "plot", &argparse.Options{Help: "Write a PNG chart of per-video probabilities", Default: ""})
	htmlFile := parser.String("", "html", &argparse.Options{Help: "Write an interactive HTML report", Default: ""})
	jsonFile := parser.String("", "json", &argparse.Options{Help: "Write the report as JSON", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	var set []eval.LabeledVideo
	if *list != "" {
		set, err = eval.LoadVideoList(*list)
		check(err)
	} else {
		truth := make([]nn.Label, len(*labels))
		for i, s := range *labels {
			truth[i], err = nn.ParseLabel(s)
			check(err)
		}
		set, err = eval.Pair(*videos, truth)
		check(err)
	}
	if len(set) == 0 {
		fmt.Print(parser.Usage("Specify --list, or --video and --label"))
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ic, err := server.LoadInferenceContext(ctx, logger, cfg, nil)
	check(err)
	defer ic.Close()

	report, err := eval.Evaluate(ctx, ic, set, eval.Options{
		Threshold:         threshold,
		Backend:           backend,
		StopAfterDecision: *stopEarly,
	})
	check(err)

	report.Print(os.Stdout)

	if *plotFile != "" {
		check(report.WritePlot(*plotFile))
	}
	if *htmlFile != "" {
		f, err := os.Create(*htmlFile)
		check(err)
		check(report.WriteHTML(f))
		check(f.Close())
	}
	if *jsonFile != "" {
		b, err := json.MarshalIndent(report, "", "  ")
		check(err)
		check(os.WriteFile(*jsonFile, b, 0644))
	}
	written := []string{}
	for _, fn := range []string{*plotFile, *htmlFile, *jsonFile} {
		if fn != "" {
			written = append(written, fn)
		}
	}
	if len(written) != 0 {
		fmt.Printf("Wrote %v\n", strings.Join(written, ", "))
	}
}
