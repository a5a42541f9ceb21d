package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/w1xm/nexstar_interface/logger"
	"github.com/w1xm/nexstar_interface/nexstar"
	"github.com/w1xm/nexstar_interface/skycoord"
)

// Site is the observer location used to predict where the RA/Dec reading
// should appear in the sky.
type Site struct {
	Latitude  float64
	Longitude float64
}

type Horizontal struct {
	Az  float64 `json:"az"`
	Alt float64 `json:"alt"`
}

type Status struct {
	Time       time.Time        `json:"time"`
	Version    string           `json:"version"`
	Model      int              `json:"model"`
	RaDec      nexstar.AxisPair `json:"ra_dec"`
	RaDecText  string           `json:"ra_dec_text"`
	AzAlt      nexstar.AxisPair `json:"az_alt"`
	AzAltText  string           `json:"az_alt_text"`
	GotoActive bool             `json:"goto_active"`
	// Predicted is the azimuth/altitude of RaDec at Time, if a site is configured.
	Predicted *Horizontal `json:"predicted,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Server publishes mount status. It never commands motion.
type Server struct {
	log  logger.Logger
	site *Site

	// mu serializes every call on m; the protocol is strictly half-duplex.
	mu      sync.Mutex
	m       *nexstar.Mount
	version string
	model   int

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
	frame      int
}

func NewServer(m *nexstar.Mount, log logger.Logger, site *Site) (*Server, error) {
	s := &Server{m: m, log: log, site: site}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())

	var err error
	if s.version, err = m.Version(); err != nil {
		return nil, err
	}
	if s.model, err = m.Model(); err != nil {
		return nil, err
	}
	log.Info("connected to hand controller", "version", s.version, "model", s.model)
	return s, nil
}

// Poll refreshes the status every interval until ctx is canceled.
func (s *Server) Poll(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.statusCallback(s.pollOnce())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Server) pollOnce() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Time: time.Now(), Version: s.version, Model: s.model}
	fail := func(err error) Status {
		s.log.Error("polling mount", "error", err)
		status.Error = err.Error()
		return status
	}
	var err error
	if status.RaDec, err = s.m.Position(nexstar.RaDec); err != nil {
		return fail(err)
	}
	if status.AzAlt, err = s.m.Position(nexstar.AzAlt); err != nil {
		return fail(err)
	}
	if status.GotoActive, err = s.m.IsGotoActive(); err != nil {
		return fail(err)
	}
	status.RaDecText = status.RaDec.Format(nexstar.RaDec)
	status.AzAltText = status.AzAlt.Format(nexstar.AzAlt)
	if s.site != nil {
		c := skycoord.Normalize(skycoord.Coord{RA: status.RaDec.Primary, Dec: status.RaDec.Secondary})
		az, alt := skycoord.Horizontal(c, status.Time, s.site.Latitude, s.site.Longitude)
		status.Predicted = &Horizontal{Az: az, Alt: alt}
	}
	return status
}

func (s *Server) statusCallback(status Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.frame++
	s.statusCond.Broadcast()
}

// Close releases the mount: stops motion, disables tracking and closes the port.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		s.log.Error("encoding status", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

// StatusSocketHandler streams every new status. Incoming messages are
// discarded; they only tell us when the client goes away.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrading websocket", "error", err)
		return
	}
	defer conn.Close()

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	s.statusMu.RLock()
	status, last := s.status, s.frame
	s.statusMu.RUnlock()
	for ctx.Err() == nil {
		if err := conn.WriteJSON(status); err != nil {
			s.log.Debug("websocket client gone", "remote", r.RemoteAddr, "error", err)
			return
		}
		s.statusMu.RLock()
		for s.frame == last {
			s.statusCond.Wait()
		}
		status, last = s.status, s.frame
		s.statusMu.RUnlock()
	}
}
