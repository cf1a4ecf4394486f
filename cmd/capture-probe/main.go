package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/e7canasta/orion-liveness/internal/logger"
	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/camera/gstreamer"
	"github.com/e7canasta/orion-liveness/modules/capture"
	"github.com/e7canasta/orion-liveness/modules/presence"
	"github.com/e7canasta/orion-liveness/modules/stability"
)

const version = "v0.1.0"

func main() {
	device := flag.String("device", "/dev/video0", "V4L2 device node")
	source := flag.String("source", "gstreamer", "Source: gstreamer, test")
	width := flag.Int("width", 1280, "Preferred width")
	height := flag.Int("height", 720, "Preferred height")
	fps := flag.Int("fps", 30, "Preferred FPS")
	variant := flag.String("variant", "sign_in", "Stability preset: sign_in, reset_biometric")
	interval := flag.Duration("interval", 200*time.Millisecond, "Analysis interval")
	aspect := flag.Float64("aspect", 0.75, "Preview aspect ratio (width/height)")
	quality := flag.Int("jpeg-quality", 95, "JPEG quality (1-100)")
	outputDir := flag.String("output", "", "Directory to save the triggered still (optional)")
	timeout := flag.Duration("timeout", 60*time.Second, "Give up after this long")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("capture-probe %s\n", version)
		os.Exit(0)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	slog.SetDefault(logger.New(level, "text"))

	var src camera.Source
	switch *source {
	case "test":
		src = camera.NewTestSource(*fps)
	case "gstreamer":
		s, err := gstreamer.NewSource(camera.DeviceConfig{UserDevice: *device})
		if err != nil {
			log.Fatalf("Failed to create camera source: %v", err)
		}
		src = s
	default:
		log.Fatalf("Invalid source: %s (must be gstreamer or test)", *source)
	}

	stabCfg, err := stability.Preset(*variant)
	if err != nil {
		log.Fatalf("Invalid variant: %v", err)
	}

	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	mgrCfg := camera.DefaultManagerConfig()
	mgrCfg.Preferred = camera.Constraints{Width: *width, Height: *height, FPS: *fps, Facing: camera.FacingUser}
	mgr, err := camera.NewManager(src, mgrCfg)
	if err != nil {
		log.Fatalf("Failed to create device manager: %v", err)
	}
	defer mgr.Release()

	analyzer, err := presence.NewAnalyzer(presence.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create analyzer: %v", err)
	}
	controller, err := stability.NewController(stabCfg)
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}
	engine, err := capture.NewEngine(capture.Config{
		PreviewAspect: *aspect,
		JPEGQuality:   *quality,
		SettleDelay:   capture.DefaultConfig().SettleDelay,
	}, mgr)
	if err != nil {
		log.Fatalf("Failed to create capture engine: %v", err)
	}

	fmt.Printf("\n")
	fmt.Printf("Capture probe %s\n", version)
	fmt.Printf("  Source:     %s (%s)\n", *source, *device)
	fmt.Printf("  Preferred:  %s\n", mgrCfg.Preferred)
	fmt.Printf("  Variant:    %s (start %d, relaxed %d, ceiling %d)\n",
		*variant, stabCfg.StartThreshold, stabCfg.RelaxedThreshold, stabCfg.MissCeiling)
	fmt.Printf("  Interval:   %s\n", *interval)
	fmt.Printf("\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := mgr.Acquire(ctx); err != nil {
		log.Fatalf("Failed to acquire camera: %v", err)
	}

	analysis := time.NewTicker(*interval)
	defer analysis.Stop()
	countdown := time.NewTicker(time.Second)
	defer countdown.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nStopped: %v\n", ctx.Err())
			printStats(mgr.Stats())
			return

		case <-analysis.C:
			frame := mgr.Latest()
			if frame == nil {
				continue
			}
			score := analyzer.AnalyzeFrame(frame)
			controller.Observe(score.PresenceScore)
			st := controller.Status()

			fmt.Printf("[%s] seq=%-6d score=%3d skin=%.2f bright=%.2f density=%.2f phase=%-22s remaining=%d\n",
				time.Now().Format("15:04:05.000"),
				frame.Seq,
				score.PresenceScore,
				score.SkinToneRatio,
				score.BrightnessRatio,
				score.CenterDensityRatio,
				st.Phase,
				st.SecondsRemaining,
			)

		case <-countdown.C:
			if !controller.Tick() {
				continue
			}
			frame := mgr.Latest()
			if frame == nil {
				log.Fatalf("Triggered without a frame")
			}
			img, err := engine.Capture(ctx, frame)
			if err != nil {
				log.Fatalf("Capture failed: %v", err)
			}
			fmt.Printf("\nTriggered: %dx%d still, %d bytes (crop %s)\n",
				img.Width, img.Height, len(img.Encoded), img.Crop)

			if *outputDir != "" {
				path := filepath.Join(*outputDir, img.AttemptID+".jpg")
				if err := os.WriteFile(path, img.Encoded, 0644); err != nil {
					log.Fatalf("Failed to save still: %v", err)
				}
				fmt.Printf("Saved: %s\n", path)
			}
			printStats(mgr.Stats())
			return
		}
	}
}

func printStats(s camera.Stats) {
	fmt.Printf("\n")
	fmt.Printf("  Acquisitions:       %d\n", s.Acquisitions)
	fmt.Printf("  Releases:           %d\n", s.Releases)
	fmt.Printf("  Frames Received:    %d\n", s.FramesReceived)
	fmt.Printf("  Frames Overwritten: %d\n", s.FramesOverwritten)
	fmt.Printf("  Used Minimal:       %v\n", s.UsedMinimal)
	fmt.Printf("\n")
}
