package main

// chordd – distributed hash table node daemon.

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chord-network/core"
	"chord-network/pkg/config"
)

// Version is stamped at build time.
var Version = "dev"

var (
	flagConfig     string
	flagBootstrap  string
	flagQuiet      bool
	flagVerbosity  int
	flagTimestamps string
)

func main() {
	root := &cobra.Command{
		Use:     "chordd",
		Short:   "Chord DHT node",
		Version: Version,
		RunE:    run,
		// errors, flag errors included, are reported once by main; no
		// usage text is printed
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "config.ini", "path to the INI configuration file")
	root.Flags().StringVarP(&flagBootstrap, "bootstrap", "b", "", "host:port of a ring member to join via")
	root.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	root.Flags().CountVarP(&flagVerbosity, "verbose", "v", "increase verbosity (-v info, -vv debug, -vvv trace)")
	root.Flags().StringVarP(&flagTimestamps, "timestamps", "t", "sec", "log timestamp resolution: sec, ms, ns or none")
	// cobra's version handling with -V as the shorthand
	root.Flags().BoolP("version", "V", false, "print version and exit")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("chordd exited")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	node, err := core.NewNode(core.Config{
		ListenAddr:            cfg.ListenAddress,
		APIAddr:               cfg.APIAddress,
		StatusAddr:            cfg.StatusAddress,
		Bootstrap:             flagBootstrap,
		WorkerThreads:         cfg.WorkerThreads,
		Timeout:               time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Fingers:               cfg.Fingers,
		StabilizationInterval: time.Duration(cfg.StabilizationIntervalS) * time.Second,
		Replication:           uint8(cfg.Replication),
	})
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)
	go func() { done <- node.Wait() }()

	select {
	case sig := <-stop:
		logrus.WithField("signal", sig.String()).Info("shutting down")
		return node.Close()
	case err := <-done:
		_ = node.Close()
		return err
	}
}

func setupLogging() error {
	formatter := &logrus.TextFormatter{FullTimestamp: true}
	switch flagTimestamps {
	case "sec":
		formatter.TimestampFormat = "2006-01-02 15:04:05"
	case "ms":
		formatter.TimestampFormat = "2006-01-02 15:04:05.000"
	case "ns":
		formatter.TimestampFormat = "2006-01-02 15:04:05.000000000"
	case "none":
		formatter.DisableTimestamp = true
	default:
		return fmt.Errorf("unknown timestamp format %q", flagTimestamps)
	}
	logrus.SetFormatter(formatter)

	switch {
	case flagQuiet:
		logrus.SetLevel(logrus.ErrorLevel)
	case flagVerbosity >= 3:
		logrus.SetLevel(logrus.TraceLevel)
	case flagVerbosity == 2:
		logrus.SetLevel(logrus.DebugLevel)
	case flagVerbosity == 1:
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}
	return nil
}
