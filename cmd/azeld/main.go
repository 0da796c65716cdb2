// Command azeld runs the device side of the link: it drives both steppers
// from commands received on a serial port or on stdin/stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cjeanneret/AzEl/internal/config"
	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/cjeanneret/AzEl/internal/device"
	"github.com/cjeanneret/AzEl/internal/hw/gpio"
	"github.com/cjeanneret/AzEl/internal/hw/stepper"
	"github.com/cjeanneret/AzEl/internal/transport"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	serialDev := flag.String("serial", "", "serial device to serve (default: stdin/stdout)")
	mock := flag.Bool("mock", false, "use mock GPIO regardless of config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *mock {
		cfg.Defaults.MockGPIO = true
	}

	// stdout may carry the protocol
	debug.Init(cfg.Defaults.DebugLevel)
	debug.SetOutput(os.Stderr)
	log.SetOutput(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *serialDev); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, serialDev string) error {
	debug.Section("Device")
	debug.Value("Debug level", debug.Level())
	debug.Step(1, "Initializing GPIO")
	driver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return err
	}
	defer driver.Close()

	az := stepper.New(driver, axisConfig("azimuth", cfg.AzimuthStepper, cfg))
	el := stepper.New(driver, axisConfig("elevation", cfg.ElevationStepper, cfg))

	debug.Step(2, "Opening host link")
	link, closeLink, err := openLink(cfg, serialDev)
	if err != nil {
		return err
	}
	defer closeLink()

	err = device.New(link, az, el).Run(ctx)
	if errors.Is(err, io.EOF) {
		debug.Info("Host closed the link")
		return nil
	}
	return err
}

// openLink serves serialDev, or stdin/stdout when it is empty.
func openLink(cfg *config.Config, serialDev string) (device.Link, func(), error) {
	if serialDev == "" {
		debug.Value("Link", "stdio")
		return device.NewStreamLink(os.Stdin, os.Stdout), func() {}, nil
	}

	tc := transport.ConfigFrom(cfg)
	tc.Device = serialDev
	tc.ReadTimeout = 0 // the link reader blocks
	port, err := transport.Open(tc)
	if err != nil {
		return nil, nil, err
	}
	debug.Value("Link", serialDev)

	var opts []device.LinkOption
	if cfg.Serial.WaitHost {
		opts = append(opts, device.WithReady(transport.HostAttached(port)))
	}
	return device.NewStreamLink(port, port, opts...), func() { port.Close() }, nil
}

// axisConfig maps one stepper section of the config to the driver wiring.
func axisConfig(name string, s config.StepperConfig, cfg *config.Config) stepper.Config {
	return stepper.Config{
		Name:         name,
		PulsePin:     s.PulsePin,
		DirPin:       s.DirPin,
		EnablePin:    s.EnablePin,
		CWLevel:      gpio.LevelOf(s.CWLevel),
		CCWLevel:     gpio.LevelOf(s.CCWLevel),
		EnableActive: gpio.LevelOf(s.EnableActive),
		StepDelay:    cfg.StepDelay(),
	}
}
