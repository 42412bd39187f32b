// The catcierge daemon watches a backlit cat door through a camera,
// decides whether the visitor is a known cat without prey, and drives
// the door lock over GPIO.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/maruel/interrupt"
	"go.uber.org/zap"

	catcierge "github.com/catcierge/catcierge-go"
	"github.com/catcierge/catcierge-go/internal/catlog"
	"github.com/catcierge/catcierge-go/output"
)

func mainImpl() error {
	configPath := flag.String("config", "", "path to the ini config file")
	matcherFlag := flag.String("matcher", "", "matcher to use: template or haar")
	cascade := flag.String("cascade", "", "haar cascade xml path")
	input := flag.String("input", "", "video file to use instead of the camera")
	show := flag.Bool("show", false, "show the camera preview window")
	debug := flag.Bool("debug", false, "verbose logging")
	lockoutDummy := flag.Bool("lockout_dummy", false, "log lockouts without driving the actuator")
	flag.Parse()

	log, err := catlog.New(*debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := catcierge.DefaultConfig()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return err
		}
	}
	if *matcherFlag != "" {
		cfg.Matcher = *matcherFlag
	}
	if *cascade != "" {
		cfg.Cascade = *cascade
		cfg.Matcher = "haar"
	}
	if *input != "" {
		cfg.Input = *input
	}
	if *show {
		cfg.Show = true
	}
	if *lockoutDummy {
		cfg.LockoutDummy = true
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	matcher, err := newMatcher(cfg, log)
	if err != nil {
		return err
	}
	defer matcher.Close()

	actuator := newActuator(cfg, log)
	defer actuator.Close()

	// GPIO exports are done, root is no longer needed.
	if cfg.Chuid != "" {
		if err := catcierge.DropRootPrivileges(cfg.Chuid); err != nil {
			return err
		}
		log.Infof("Dropped root privileges to %s", cfg.Chuid)
	}

	out := output.NewManager(cfg.OutputPath, log)
	if err := out.LoadTemplateFiles(cfg.TemplatePaths); err != nil {
		return err
	}

	csv := catlog.NewCSVLog(nil)
	if cfg.LogPath != "" {
		csv, err = catlog.OpenCSVLog(cfg.LogPath)
		if err != nil {
			return err
		}
		defer csv.Close()
	}

	ctl := catcierge.NewController(cfg, matcher, actuator, out, csv, log)

	readers, err := startRFIDReaders(cfg, ctl, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	camera, err := newCamera(cfg)
	if err != nil {
		return err
	}
	defer camera.Close()

	interrupt.HandleCtrlC()

	log.Infof("Catcierge %s starting, matcher: %s", catcierge.Version, cfg.Matcher)

	for frame := range camera.Frames() {
		ctl.Tick(frame)
		camera.Show(frame, ctl.Group(), cfg.HighlightMatch || cfg.Show)
		frame.Close()

		if !ctl.Running() || interrupt.IsSet() {
			break
		}
	}

	ctl.Shutdown()
	log.Infof("Catcierge exiting")
	return nil
}

func newMatcher(cfg *catcierge.Config, log *zap.SugaredLogger) (catcierge.Matcher, error) {
	if cfg.Matcher == "haar" {
		return catcierge.NewHaarMatcher(cfg.HaarConfig(), log)
	}
	return catcierge.NewTemplateMatcher(cfg.TemplateConfig(), log)
}

func newActuator(cfg *catcierge.Config, log *zap.SugaredLogger) catcierge.Actuator {
	a, err := catcierge.NewGPIOActuator(cfg.DoorPin, cfg.BacklightPin, log)
	if err != nil {
		// Not fatal: bench setups drive the lock through commands or
		// run with the dummy lockout.
		log.Warnw("GPIO actuator unavailable, running without direct pin control",
			"error", err)
		return catcierge.NopActuator{}
	}
	return a
}

func startRFIDReaders(cfg *catcierge.Config, ctl *catcierge.Controller,
	log *zap.SugaredLogger) ([]*catcierge.RFIDReader, error) {

	var readers []*catcierge.RFIDReader

	add := func(name, path string, side catcierge.Direction) error {
		if path == "" {
			return nil
		}
		r, err := catcierge.NewRFIDReader(name, path, side, log)
		if err != nil {
			return err
		}
		r.Start(ctl.RFIDEvents())
		readers = append(readers, r)
		return nil
	}

	if err := add("Inner", cfg.RFIDInnerPath, catcierge.DirIn); err != nil {
		return nil, err
	}
	if err := add("Outer", cfg.RFIDOuterPath, catcierge.DirOut); err != nil {
		for _, r := range readers {
			r.Close()
		}
		return nil, err
	}

	if len(readers) > 0 {
		log.Infof("Initialized RFID readers")
	}
	return readers, nil
}

func newCamera(cfg *catcierge.Config) (*catcierge.Camera, error) {
	opts := catcierge.CameraOptions{Show: cfg.Show}
	if cfg.Input != "" {
		opts.InputPath = &cfg.Input
	} else {
		opts.Device = &cfg.CameraID
	}
	return catcierge.NewCamera(opts)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "catcierge: %s\n", err)
		os.Exit(1)
	}
}
