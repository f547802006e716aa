// Command smartbin runs the waste-sorting bin: it waits for an object on the
// IR sensor, classifies a camera frame, opens the matching bin door and
// reports bin fill levels, with an HTTP API for status and manual triggers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/smartbin/internal/api"
	"github.com/banshee-data/smartbin/internal/config"
	"github.com/banshee-data/smartbin/internal/indicator"
	"github.com/banshee-data/smartbin/internal/metrics"
	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/smartbin"
	"github.com/banshee-data/smartbin/internal/telemetry"
	"github.com/banshee-data/smartbin/internal/timeutil"
	"github.com/banshee-data/smartbin/internal/trigger"
	"github.com/banshee-data/smartbin/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a JSON config file (built-in defaults when empty)")
	listen        = flag.String("listen", "", "Listen address (overrides the config file)")
	devMode       = flag.Bool("dev", false, "Run with simulated GPIO, camera, serial rangers and servos")
	disableCamera = flag.Bool("disable-camera", false, "Run without a camera; triggers are skipped")
	disableMQTT   = flag.Bool("disable-mqtt", false, "Do not publish telemetry to MQTT")
	debugLog      = flag.Bool("debug", false, "Enable debug logging")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 2 * time.Second

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func listenAddr(cfg *config.Config) string {
	if *listen != "" {
		return *listen
	}
	return cfg.GetListen()
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debugLog)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("smartbin: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// run builds the device and serves until ctx is done. Errors returned before
// the system starts are initialization failures.
func run(ctx context.Context, cfg *config.Config) error {
	clock := timeutil.RealClock{}
	log.Printf("starting %s", version.String())

	hw, err := newHardware(*devMode)
	if err != nil {
		return err
	}

	det, err := buildDetector(cfg)
	if err != nil {
		return fmt.Errorf("failed to load detector: %w", err)
	}
	log.Printf("using %s detector", det.Name())

	bins, err := buildBins(cfg, hw, clock)
	if err != nil {
		return err
	}
	defer bins.closeMuxes()

	irPin, err := hw.pins.Input(cfg.GetIRSensorPin())
	if err != nil {
		return err
	}

	act, err := buildActuator(cfg, *devMode, clock)
	if err != nil {
		return fmt.Errorf("failed to initialise servos: %w", err)
	}

	hub := telemetry.NewHub()
	metrics.Register(prometheus.DefaultRegisterer)

	sys := smartbin.New(smartbin.Config{
		Detector: det,
		Capture:  buildCapture(cfg, *devMode, *disableCamera, clock),
		Actuator: act,
		Indicator: indicator.New(
			optionalOutput(hw.pins, cfg.GetStatusLEDPin(), "status"),
			optionalOutput(hw.pins, cfg.GetErrorLEDPin(), "error"),
			clock,
		),
		Telemetry:       buildTelemetry(cfg, hub, *disableMQTT),
		Bins:            bins.monitor,
		Clock:           clock,
		Dwell:           cfg.GetDwellTime(),
		MonitorInterval: cfg.GetBinStatusInterval(),
		MonitorBackoff:  cfg.GetMonitorErrorBackoff(),
		FullThreshold:   cfg.GetBinFullThreshold(),
		Preprocess:      cfg.GetEnablePreprocessing(),
		PreprocessSize:  cfg.GetModelInputSize(),
	})

	trig, err := trigger.New(irPin, trigger.Config{
		Debounce:     cfg.GetDebounce(),
		PollInterval: cfg.GetPollInterval(),
		Clock:        clock,
	}, func(ev trigger.Event) { sys.HandleTrigger(ev) })
	if err != nil {
		sys.Shutdown()
		return err
	}
	sys.AttachTrigger(trig)

	server := &http.Server{
		Addr:    listenAddr(cfg),
		Handler: api.LoggingMiddleware(api.NewServer(sys, hub, prometheus.DefaultGatherer, cfg, bins.adminRouters()...).ServeMux()),
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, m := range bins.muxes {
		g.Go(func() error {
			if err := m.Monitor(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial ranger monitor stopped: %v", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return sys.Run(gctx)
	})

	g.Go(func() error {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		return nil
	})

	return g.Wait()
}
