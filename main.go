package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jhunley/ka9q-radio/config"
	"github.com/jhunley/ka9q-radio/engine"
	"github.com/jhunley/ka9q-radio/internal/capture"
	"github.com/jhunley/ka9q-radio/internal/modefile"
	"github.com/jhunley/ka9q-radio/status"
)

func main() {
	configPath := flag.String("config", "radiod.yaml", "path to the YAML configuration document")
	captureFile := flag.String("capture", "", "replay an AIFF capture instead of the live multicast front end")
	captureLoop := flag.Bool("capture-loop", false, "loop the capture file instead of stopping at end of file")
	noTUI := flag.Bool("no-tui", false, "disable the interactive operator console")
	logFile := flag.String("log", "radiod.log", "log file path")
	showHelp := flag.Bool("help", false, "show this help message")

	flag.Parse()

	if *showHelp {
		fmt.Println("radiod: a multichannel software-defined-radio demodulation engine")
		fmt.Println()
		fmt.Println("Usage: radiod [options]")
		flag.PrintDefaults()
		os.Exit(0)
	}

	file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		fmt.Printf("failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(file, nil))
	slog.SetDefault(logger)
	logger.Info("starting radiod", "config", *configPath)

	doc, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	var modeLib *modefile.Library
	if doc.Global.ModeFile != "" {
		modeLib, err = loadModeFile(doc.Global.ModeFile)
		if err != nil {
			logger.Warn("failed to load mode file, proceeding without presets", "file", doc.Global.ModeFile, "err", err)
			modeLib = &modefile.Library{}
		}
	} else {
		modeLib = &modefile.Library{}
	}

	wisdomPath := doc.Global.WisdomFile
	wisdom, err := engine.LoadWisdom(wisdomPath)
	if err != nil {
		logger.Error("failed to load wisdom file", "err", err)
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	station, err := NewStation(doc, modeLib, wisdom, logger)
	if err != nil {
		logger.Error("failed to build station", "err", err)
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	station.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, shutting down")
		cancel()
	}()

	format := wireFormat(doc.Global.Format)

	src, closeSrc, err := buildSource(doc, *captureFile, *captureLoop, format, station.fe)
	if err != nil {
		logger.Error("failed to build front-end source", "err", err)
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	defer closeSrc()

	go func() {
		if err := station.RunIngest(ctx, src, format); err != nil && ctx.Err() == nil {
			logger.Error("ingester stopped", "err", err)
		}
	}()

	reporter := status.NewReporter(station, 1*time.Second, doc.Global.StatusPort, logger)
	go func() {
		if err := reporter.Run(ctx); err != nil {
			logger.Error("status reporter stopped", "err", err)
		}
	}()

	if *noTUI {
		fmt.Println("radiod running headless. Press Ctrl+C to exit.")
		fmt.Println("Log file:", *logFile)
		<-ctx.Done()
	} else {
		runTUI(ctx, station)
		cancel()
	}

	station.Shutdown()
	if err := wisdom.Save(wisdomPath); err != nil {
		logger.Error("failed to save wisdom file", "err", err)
	}
	logger.Info("shutdown complete")
}

func loadModeFile(path string) (*modefile.Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return modefile.Read(f)
}

func wireFormat(name string) engine.SampleFormat {
	switch name {
	case "s8":
		return engine.FormatS8
	case "f32":
		return engine.FormatF32
	default:
		return engine.FormatS16
	}
}

// buildSource constructs the front end's sample source: either a
// replayed AIFF capture (spec.md §5 supplemented feature "offline
// testing without a live front end") or the live multicast group
// named in the configuration.
func buildSource(doc *config.Document, captureFile string, loop bool, format engine.SampleFormat, fe *engine.FrontEnd) (engine.Source, func() error, error) {
	if captureFile != "" {
		f, err := os.Open(captureFile)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		parsed, err := capture.Parse(f)
		if err != nil {
			return nil, nil, err
		}
		return capture.NewReplay(parsed, format, fe.L, loop), func() error { return nil }, nil
	}

	addr, err := net.ResolveUDPAddr("udp4", doc.Global.Input)
	if err != nil {
		return nil, nil, err
	}
	var iface *net.Interface
	if doc.Global.Iface != "" {
		iface, err = net.InterfaceByName(doc.Global.Iface)
		if err != nil {
			return nil, nil, err
		}
	}
	src, err := engine.NewMulticastSource(addr, iface)
	if err != nil {
		return nil, nil, err
	}
	return src, func() error { return src.(interface{ Close() error }).Close() }, nil
}
