package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"midiboy/internal/config"
	"midiboy/internal/input"
	appLog "midiboy/internal/log"
	"midiboy/internal/schedule"
	"midiboy/internal/sh1106"
	"midiboy/internal/sim"
	"midiboy/internal/web"
)

// flagConfig holds CLI flag values; non-zero values override the config file.
type flagConfig struct {
	configPath string
	listen     string
	simulate   bool
	debug      bool
}

// hardware is what the daemon drives, real or simulated.
type hardware struct {
	dev     *sh1106.Dev
	src     input.Source
	panel   *sim.Panel           // simulation only
	buttons *input.VirtualSource // simulation only
	close   func()
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.simulate {
		conf.Simulate = true
	}
	if flags.debug {
		conf.LogLevel = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("midiboyd starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"simulate", conf.Simulate,
		"log_level", conf.LogLevel,
		"tick_ms", conf.Input.TickMs,
		"repeat_ms", conf.Input.RepeatMs,
		"contrast_steps", len(conf.Display.ContrastSchedule),
	)

	if err := run(conf); err != nil {
		appLog.Error("midiboyd failed", err)
		os.Exit(1)
	}
	appLog.Info("midiboyd exiting")
}

func run(conf *config.Config) error {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hw, err := openHardware(conf)
	if err != nil {
		return err
	}
	defer hw.close()

	// The panel goes dark on every exit path, before the port is closed.
	defer func() {
		if err := hw.dev.Halt(); err != nil {
			appLog.Error("failed to halt display", err)
		}
	}()

	if err := hw.dev.SetContrast(*conf.Display.Contrast); err != nil {
		return err
	}

	mgr := input.NewManager(hw.src, input.WithRepeatInterval(conf.RepeatInterval()))
	if err := mgr.Init(); err != nil {
		return err
	}

	a := newApp(hw.dev, mgr)
	if conf.Splash != "" {
		if err := a.showSplash(conf.Splash); err != nil {
			appLog.Warn("splash not shown", "err", err)
		}
	}
	if !a.splash {
		if err := a.redraw(); err != nil {
			return err
		}
	}

	sched, err := schedule.NewContrast(hw.dev, conf.Display.ContrastSchedule)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if conf.Listen != "" {
		srv := web.NewServer(conf, web.Deps{
			Display: hw.dev,
			Input:   mgr,
			Panel:   hw.panel,
			Buttons: hw.buttons,
		})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.StartServer(ctx, conf.Listen, srv); err != nil {
				appLog.Error("HTTP server failed", err)
			}
		}()
		defer func() {
			stop()
			wg.Wait()
		}()
	}

	ticker := time.NewTicker(conf.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			appLog.Info("signal received, shutting down")
			return nil
		case <-ticker.C:
		}
		if err := a.tick(); err != nil {
			appLog.Error("tick failed", err)
		}
	}
}

// openHardware builds the display and button source. In simulation mode
// both are in-process emulations and no host drivers are loaded.
func openHardware(conf *config.Config) (*hardware, error) {
	if conf.Simulate {
		p := sim.NewPanel()
		dev, err := sh1106.New(p, p.CS, p.DC, p.RST)
		if err != nil {
			return nil, err
		}
		v := input.NewVirtualSource()
		appLog.Info("simulation mode", "display", dev)
		return &hardware{dev: dev, src: v, panel: p, buttons: v, close: func() {}}, nil
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	port, err := spireg.Open(conf.Display.SPI)
	if err != nil {
		return nil, fmt.Errorf("open SPI port %q: %w", conf.Display.SPI, err)
	}

	dev, err := openDisplay(port, conf.Display)
	if err != nil {
		port.Close()
		return nil, err
	}

	// The panel is already reset and on; turn it off again on failure.
	fail := func(err error) (*hardware, error) {
		release(dev, port)
		return nil, err
	}

	pins := conf.Input.Pins
	var in [input.ButtonCount]gpio.PinIn
	for i, name := range []string{pins.A, pins.B, pins.Up, pins.Down, pins.Left, pins.Right} {
		p, err := lookupPin(name)
		if err != nil {
			return fail(fmt.Errorf("button %s: %w", input.Buttons[i], err))
		}
		in[i] = p
	}
	src, err := input.NewPinSource(in[0], in[1], in[2], in[3], in[4], in[5])
	if err != nil {
		return fail(err)
	}

	return &hardware{
		dev: dev,
		src: src,
		close: func() {
			if err := port.Close(); err != nil {
				appLog.Error("failed to close SPI port", err)
			}
		},
	}, nil
}

// release halts the display, then closes the port it is attached to.
func release(dev interface{ Halt() error }, port io.Closer) {
	if err := dev.Halt(); err != nil {
		appLog.Error("failed to halt display", err)
	}
	if err := port.Close(); err != nil {
		appLog.Error("failed to close SPI port", err)
	}
}

func openDisplay(port spi.Port, dc config.DisplayConfig) (*sh1106.Dev, error) {
	dcPin, err := lookupPin(dc.DC)
	if err != nil {
		return nil, fmt.Errorf("display dc: %w", err)
	}

	var cs, rst gpio.PinOut
	if *dc.ManualCS {
		p, err := lookupPin(dc.CS)
		if err != nil {
			return nil, fmt.Errorf("display cs: %w", err)
		}
		cs = p
	}
	if dc.Reset != "" {
		p, err := lookupPin(dc.Reset)
		if err != nil {
			return nil, fmt.Errorf("display reset: %w", err)
		}
		rst = p
	}
	return sh1106.New(port, cs, dcPin, rst)
}

func lookupPin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, errors.New("pin name is empty")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown pin %q", name)
	}
	return p, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/midiboy/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.simulate, "simulate", false, "Use the in-process display and button emulation")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
