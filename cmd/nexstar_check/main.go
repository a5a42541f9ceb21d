// Command nexstar_check exercises a NexStar mount: it slews through a fixed
// list of targets and reports the pointing error, or probes how far each axis
// can travel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/w1xm/nexstar_interface/logger"
	"github.com/w1xm/nexstar_interface/nexstar"
	"github.com/w1xm/nexstar_interface/nexstar/simulator"
)

var (
	serialPort   = flag.String("serial", "/dev/ttyUSB0", "serial port name")
	simulate     = flag.Bool("simulate", false, "talk to a simulated mount instead of -serial")
	allowedError = flag.Float64("allowed_error", 1, "allowed pointing error in degrees")
	findBounds   = flag.Bool("find_bounds", false, "search for the travel limits instead of testing GOTO")
	maxSteps     = flag.Int("max_steps", 36, "maximum steps in each direction for -find_bounds")
	calibrateAz  = flag.Float64("calibrate_az", 0, "reset the azimuth axis reference to this angle first")
	calibrateAlt = flag.Float64("calibrate_alt", 0, "reset the altitude axis reference to this angle first")
	gotoTimeout  = flag.Duration("goto_timeout", nexstar.DefaultGotoTimeout, "how long to wait for each GOTO")
	logLevel     = flag.String("log_level", "info", "debug, info, warn or error")
)

func main() {
	flag.Parse()
	log := logger.New(os.Stderr, logger.ParseLevel(*logLevel), logger.FormatAuto)
	logger.SetDefault(log)
	if err := run(log); err != nil {
		log.Error("check failed", "error", err)
		os.Exit(1)
	}
}

func run(log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var t nexstar.Transport
	if *simulate {
		opts := []simulator.Option{simulator.WithLogger(log.With("component", "simulator"))}
		if *findBounds {
			opts = append(opts, simulator.WithSecondaryLimit(80))
		}
		sim, conn := simulator.New(opts...)
		go sim.Run(ctx)
		t = nexstar.NewStreamPort("simulator", conn, nexstar.DefaultReadTimeout, nexstar.DefaultWriteTimeout)
	} else {
		t = nexstar.NewSerialPort(nexstar.DefaultSerialConfig(*serialPort))
	}

	return nexstar.WithMount(t, func(m *nexstar.Mount) error {
		c := &checker{m: m, log: log}
		if err := calibrate(m); err != nil {
			return err
		}
		p, err := c.position()
		if err != nil {
			return err
		}
		log.Info("starting position", "position", format(p))

		if *findBounds {
			b, err := c.findBounds(*maxSteps)
			if err != nil {
				return err
			}
			fmt.Printf("top:    %s\nbottom: %s\nleft:   %s\nright:  %s\n",
				format(b.Top), format(b.Bottom), format(b.Left), format(b.Right))
			return nil
		}

		var failed int
		for _, target := range checkTargets {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sep, err := c.testGoto(target, *allowedError)
			if err != nil {
				return err
			}
			if sep > *allowedError {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d targets outside %.2f°", failed, len(checkTargets), *allowedError)
		}
		return nil
	}, nexstar.WithLogger(log.With("component", "mount")), nexstar.WithGotoTimeout(*gotoTimeout))
}

// calibrate applies -calibrate_az and -calibrate_alt if they were given.
func calibrate(m *nexstar.Mount) error {
	var errs []error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "calibrate_az":
			errs = append(errs, m.ResetAxisReference(nexstar.AxisAzimuth, *calibrateAz))
		case "calibrate_alt":
			errs = append(errs, m.ResetAxisReference(nexstar.AxisAltitude, *calibrateAlt))
		}
	})
	return errors.Join(errs...)
}
