// Command nexstar_server publishes the position of a NexStar mount over HTTP
// and a websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/w1xm/nexstar_interface/logger"
	"github.com/w1xm/nexstar_interface/nexstar"
	"github.com/w1xm/nexstar_interface/nexstar/simulator"
)

var (
	addr         = flag.String("addr", "127.0.0.1:8503", "address to listen on")
	serialPort   = flag.String("serial", "", "serial port name")
	simulate     = flag.Bool("simulate", false, "talk to a simulated mount instead of -serial")
	readTimeout  = flag.Duration("read_timeout", nexstar.DefaultReadTimeout, "serial read timeout")
	writeTimeout = flag.Duration("write_timeout", nexstar.DefaultWriteTimeout, "serial write timeout")
	pollInterval = flag.Duration("poll_interval", time.Second, "how often to read the mount position")
	latitude     = flag.Float64("latitude", 0, "observer latitude in degrees, north positive")
	longitude    = flag.Float64("longitude", 0, "observer longitude in degrees, east positive")
	logLevel     = flag.String("log_level", "info", "debug, info, warn or error")
)

func main() {
	flag.Parse()
	log := logger.New(os.Stderr, logger.ParseLevel(*logLevel), logger.FormatAuto)
	logger.SetDefault(log)
	if err := run(log); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := openTransport(ctx, log)
	if err != nil {
		return err
	}
	m, err := nexstar.Open(t, nexstar.WithLogger(log.With("component", "mount")))
	if err != nil {
		return fmt.Errorf("opening mount: %w", err)
	}
	s, err := NewServer(m, log, site())
	if err != nil {
		return errors.Join(err, m.Close())
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error("releasing mount", "error", err)
		}
	}()

	go s.Poll(ctx, *pollInterval)

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	srv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Info("shutdown; closing http server")
		srv.Shutdown(context.Background())
	}()
	log.Info("listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openTransport(ctx context.Context, log logger.Logger) (nexstar.Transport, error) {
	if *simulate {
		sim, conn := simulator.New(simulator.WithLogger(log.With("component", "simulator")))
		go func() {
			if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("simulator stopped", "error", err)
			}
		}()
		return nexstar.NewStreamPort("simulator", conn, *readTimeout, *writeTimeout), nil
	}
	if *serialPort == "" {
		return nil, errors.New("one of -serial or -simulate is required")
	}
	cfg := nexstar.DefaultSerialConfig(*serialPort)
	cfg.ReadTimeout = *readTimeout
	cfg.WriteTimeout = *writeTimeout
	return nexstar.NewSerialPort(cfg), nil
}

// site returns the observer location if -latitude was given.
func site() *Site {
	var s *Site
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "latitude" {
			s = &Site{Latitude: *latitude, Longitude: *longitude}
		}
	})
	return s
}
