package main

import (
	"context"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/buildinfo"
	"github.com/cyclopcam/rtvd/server"
	"github.com/cyclopcam/rtvd/server/alarm"
	"github.com/cyclopcam/rtvd/server/config"
	"github.com/cyclopcam/rtvd/server/metrics"
)

func main() {
	parser := argparse.NewParser("rtvd", "Violence detection server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file (default rtvd.json, if present)", Default: ""})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Override the HTTP listen address, eg :8090", Default: ""})
	noAlarm := parser.Flag("", "noalarm", &argparse.Options{Help: "Don't save alert frames or play the siren", Default: false})
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

	logger.Infof("rtvd %v", buildinfo.Version)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}

	m := metrics.New()
	ic, err := server.LoadInferenceContext(context.Background(), logger, cfg, m)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	var alm *alarm.Alarm
	closeAlarm := func() {}
	if !*noAlarm {
		alm, closeAlarm, err = server.OpenAlarm(context.Background(), logger, cfg, m)
		if err != nil {
			ic.Close()
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}

	srv, err := server.NewServer(logger, cfg, ic, alm, m)
	if err != nil {
		ic.Close()
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.HTTP.Listen); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
	}
	<-srv.ShutdownComplete
	closeAlarm()
	logger.Infof("Exiting")
}
