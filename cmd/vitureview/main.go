package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/viture-view/internal/capture"
	"github.com/shaunagostinho/viture-view/internal/headtrack"
	"github.com/shaunagostinho/viture-view/internal/server"
	"github.com/shaunagostinho/viture-view/internal/viture"
	"github.com/shaunagostinho/viture-view/web"
)

func main() {
	configPath := flag.String("config", "/etc/viture-view/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with simulated tracker and video")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] viture-view starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Tracker.Type = "demo"
		cfg.Capture.Type = "pattern"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// Initialize head tracker
	var tracker headtrack.Provider
	switch cfg.Tracker.Type {
	case "viture":
		vcfg := viture.DefaultConfig()
		vcfg.VendorID = uint16(cfg.Tracker.VendorID)
		vcfg.ControlInterface = cfg.Tracker.ControlInterface
		vcfg.SensorInterface = cfg.Tracker.SensorInterface
		vcfg.CommandTimeout = time.Duration(cfg.Tracker.CommandTimeoutMs) * time.Millisecond
		vcfg.StrictChecksum = cfg.Tracker.StrictChecksum
		tracker = headtrack.NewGlasses(vcfg)
	case "serial":
		tracker = headtrack.NewSerial(headtrack.SerialConfig{
			PortPath: cfg.Tracker.PortPath,
			BaudRate: cfg.Tracker.BaudRate,
		})
	default:
		tracker = headtrack.NewDemo()
	}

	// Initialize video source
	var camera capture.Source
	switch cfg.Capture.Type {
	case "v4l2":
		camera = capture.NewV4L2(capture.V4L2Config{
			DevicePath: cfg.Capture.DevicePath,
			Width:      cfg.Capture.Width,
			Height:     cfg.Capture.Height,
		})
	case "disabled":
		camera = nil
	default:
		camera = capture.NewPattern(cfg.Capture.Width, cfg.Capture.Height)
	}

	srv := server.New(cfg, tracker, camera, web.FS)

	// Glasses emit unsolicited events (key presses etc.); forward them to the UI.
	if g, ok := tracker.(*headtrack.Glasses); ok {
		g.OnEvent(srv.PushEvent)
	}

	// Try connecting with exponential backoff (non-blocking — dashboard starts regardless)
	go connectWithRetry(ctx, "tracker", tracker, 10)
	if camera != nil {
		go connectWithRetry(ctx, "camera", camera, 10)
	}

	// Start server — works immediately even if tracker/camera are still connecting
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectable is satisfied by both headtrack.Provider and capture.Source.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
					name, attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
					name, attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return
		}
	}
}
