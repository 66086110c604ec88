// Command captured is the single-process capture daemon of spec.md §1:
// GPIO-triggered still-frame capture, a durable upload queue, health
// telemetry, and the JSON HTTP facade, all in one Application
// lifecycle — the same Start/Stop shape the teacher's main.go uses for
// its camera manager and WebRTC servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ridgeline/snapshotd/internal/applog"
	"github.com/ridgeline/snapshotd/internal/capture"
	"github.com/ridgeline/snapshotd/internal/cleanup"
	"github.com/ridgeline/snapshotd/internal/gpio"
	"github.com/ridgeline/snapshotd/internal/grabber"
	"github.com/ridgeline/snapshotd/internal/health"
	"github.com/ridgeline/snapshotd/internal/httpapi"
	"github.com/ridgeline/snapshotd/internal/imagestore"
	"github.com/ridgeline/snapshotd/internal/settings"
	"github.com/ridgeline/snapshotd/internal/uploader"
)

const (
	defaultSettingsPath = "snapshotd.env"
	appName             = "snapshotd"
	appVersion          = "1.0.0"
	shutdownTimeout     = 30 * time.Second
)

// Application owns every long-lived component and its Start/Stop
// ordering (grounded on main.go's Application struct in the teacher).
type Application struct {
	logger *zap.Logger

	settings *settings.Store
	store    *imagestore.Store
	grab     *grabber.Grabber
	capSvc   *capture.Service
	gpioLoop *gpio.Loop
	upload   *uploader.Uploader
	prober   *uploader.Prober
	healthM  *health.Monitor
	cleaner  *cleanup.Worker
	http     *httpapi.Server

	wg sync.WaitGroup
}

func main() {
	settingsPath := flag.String("settings", defaultSettingsPath, "path to the settings env file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	useMockGPIO := flag.Bool("mock-gpio", runtime.GOOS != "linux", "use simulated GPIO lines instead of periph.io hardware")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s (%s/%s)\n", appName, appVersion, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	logger, err := applog.New("logs", *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting snapshotd", zap.String("version", appVersion))

	app, err := NewApplication(*settingsPath, *useMockGPIO, logger)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	select {
	case sig := <-signalCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// NewApplication wires every component. Only the capture worker pool
// (started by capture.New) runs after it returns; Start brings up the
// other background loops.
func NewApplication(settingsPath string, useMockGPIO bool, logger *zap.Logger) (*Application, error) {
	st, err := settings.Open(settingsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	cfg := st.Current()

	store, err := imagestore.Open("snapshotd.db", cfg.Storage.ImagePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open image store: %w", err)
	}

	grab := grabber.New(logger)
	capSvc := capture.New(store, grab, st, logger)

	cams := make([]gpio.CameraSpec, 0, settings.NumCameras)
	for _, cam := range cfg.Cameras() {
		line, err := newLine(cam.Tag, cam.Pin, useMockGPIO)
		if err != nil {
			logger.Error("failed to build gpio line, camera trigger disabled", zap.String("source", cam.Tag), zap.Error(err))
			continue
		}
		cams = append(cams, gpio.CameraSpec{Source: cam.Tag, Pin: cam.Pin, Line: line})
	}

	bounce := time.Duration(cfg.GPIO.BounceTimeMS) * time.Millisecond
	cooldown := time.Duration(cfg.GPIO.CooldownMS) * time.Millisecond
	isEnabled := func(source string) bool {
		cur := st.Current()
		if !cur.GPIO.TriggerEnabled {
			return false
		}
		cam, ok := cur.Camera(source)
		return ok && cam.Enabled
	}
	gpioLoop := gpio.New(cams, capSvc, bounce, cooldown, isEnabled, logger)

	prober := uploader.NewProber(
		time.Duration(cfg.Upload.ConnectivityCheckInterval)*time.Second,
		5*time.Second,
		logger,
	)
	upload := uploader.New(store, st, prober, logger)
	healthM := health.New(st, logger)
	cleaner := cleanup.New(store, st, logger)

	httpSrv := httpapi.New(httpapi.Deps{
		Settings:  st,
		Store:     store,
		Capture:   capSvc,
		GPIO:      gpioLoop,
		Health:    healthM,
		Cleanup:   cleaner,
		Prober:    prober,
		Logger:    logger,
		StartedAt: time.Now(),
	}, fmt.Sprintf("%s:%d", cfg.Network.BindIP, cfg.Network.BindPort))

	gpioLoop.SetObserver(httpSrv.Publish)

	return &Application{
		logger:   logger,
		settings: st,
		store:    store,
		grab:     grab,
		capSvc:   capSvc,
		gpioLoop: gpioLoop,
		upload:   upload,
		prober:   prober,
		healthM:  healthM,
		cleaner:  cleaner,
		http:     httpSrv,
	}, nil
}

// newLine builds the real or simulated GPIO backend for one camera tag
// (spec.md §9: "works on any OS GPIO stubs").
func newLine(tag string, pin int, useMock bool) (gpio.Line, error) {
	if useMock {
		return gpio.NewMockLine(tag), nil
	}
	return gpio.NewPeriphLine(pin)
}

// Start brings up every background goroutine in dependency order:
// storage and capture before the trigger loop, the trigger loop before
// the HTTP facade starts accepting traffic.
func (a *Application) Start(ctx context.Context) error {
	if !a.settings.Current().GPIO.Enabled {
		a.logger.Info("gpio loop disabled by settings")
	} else {
		a.gpioLoop.Start(ctx)
	}

	a.wg.Add(3)
	go func() { defer a.wg.Done(); a.upload.Run() }()
	go func() { defer a.wg.Done(); a.healthM.Run() }()
	go func() { defer a.wg.Done(); a.cleaner.Run() }()

	if err := a.http.Start(); err != nil {
		return fmt.Errorf("start http facade: %w", err)
	}

	a.logger.Info("snapshotd started",
		zap.String("bind", fmt.Sprintf("%s:%d", a.settings.Current().Network.BindIP, a.settings.Current().Network.BindPort)))
	return nil
}

// Stop shuts every component down, bounded by ctx, in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("stopping application")

	if err := a.http.Stop(ctx); err != nil {
		a.logger.Error("error stopping http facade", zap.Error(err))
	}

	a.gpioLoop.Stop(ctx)

	if err := a.capSvc.Close(ctx); err != nil {
		a.logger.Error("error stopping capture service", zap.Error(err))
	}

	a.upload.Stop()
	a.healthM.Stop()
	a.cleaner.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout reached waiting for workers")
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing image store", zap.Error(err))
	}
	return nil
}
