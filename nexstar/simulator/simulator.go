// Package simulator emulates a NexStar hand controller and its two motors.
//
// The simulator speaks the same protocol revision as package nexstar: L and
// M answer with a single byte, and the 0x50 calibration command is not
// answered. Both coordinate frames report the same mechanical axes.
package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/w1xm/nexstar_interface/logger"
	"github.com/w1xm/nexstar_interface/nexstar"
	"golang.org/x/sync/errgroup"
)

const (
	// Default slew rate in degrees/second
	defaultSlewRate = 30
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
)

// payload length following each command byte
var payloadLen = map[byte]int{
	'K':  1,
	'T':  1,
	'R':  9,
	'B':  9,
	0x50: 6,
}

type Status struct {
	Axis1, Axis2     float64
	Target1, Target2 float64
	Slewing          bool
	Tracking         nexstar.TrackingMode
	Version          [2]byte
	Model            byte
}

type Simulator struct {
	conn     io.ReadWriteCloser
	log      logger.Logger
	slewRate float64
	// limit2 bounds the secondary axis to ±limit2 degrees; zero means free.
	limit2 float64

	mu     sync.Mutex
	status Status
}

type Option func(*Simulator)

// WithSlewRate sets how fast each axis moves, in degrees/second.
func WithSlewRate(degPerSec float64) Option {
	return func(s *Simulator) {
		if degPerSec > 0 {
			s.slewRate = degPerSec
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSecondaryLimit stops the secondary axis at ±deg, the way a mount's
// altitude or declination hard stops would. GOTO targets beyond the limit end
// at the limit.
func WithSecondaryLimit(deg float64) Option {
	return func(s *Simulator) {
		s.limit2 = math.Abs(deg)
	}
}

// WithPosition sets the initial position of both axes in degrees.
func WithPosition(axis1, axis2 float64) Option {
	return func(s *Simulator) {
		s.status.Axis1, s.status.Target1 = wrap(axis1), wrap(axis1)
		s.status.Axis2, s.status.Target2 = wrap(axis2), wrap(axis2)
	}
}

// New returns a simulator and the connection a client should talk to.
func New(opts ...Option) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	s := &Simulator{
		conn:     a,
		log:      logger.GetLogger(),
		slewRate: defaultSlewRate,
		status:   Status{Version: [2]byte{4, 21}, Model: 12},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, b
}

// Status returns a snapshot of the simulated mount.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run moves the axes and answers commands until ctx is canceled or the
// client closes its end.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Unblock the reader once the context is canceled.
		<-ctx.Done()
		s.conn.Close()
		return ctx.Err()
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step()
		}
	})
	g.Go(s.reader)
	return g.Wait()
}

func (s *Simulator) reader() error {
	br := bufio.NewReader(s.conn)
	for {
		cmd, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("reading port: %w", err)
		}
		payload := make([]byte, payloadLen[cmd])
		if _, err := io.ReadFull(br, payload); err != nil {
			return fmt.Errorf("reading %q payload: %w", cmd, err)
		}
		s.log.Debug("srv->sim", "cmd", string(cmd), "payload", payload)
		resp, err := s.handle(cmd, payload)
		if err != nil {
			s.log.Warn("ignoring command", "cmd", string(cmd), "error", err)
			continue
		}
		if len(resp) == 0 {
			continue
		}
		s.log.Debug("sim->srv", "resp", resp)
		if _, err := s.conn.Write(resp); err != nil {
			return fmt.Errorf("writing port: %w", err)
		}
	}
}

func (s *Simulator) handle(cmd byte, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case 'K':
		return append(payload, nexstar.Terminator), nil
	case 'V':
		return []byte{s.status.Version[0], s.status.Version[1], nexstar.Terminator}, nil
	case 'm':
		return []byte{s.status.Model, nexstar.Terminator}, nil
	case 'T':
		s.status.Tracking = nexstar.TrackingMode(payload[0])
		return []byte{nexstar.Terminator}, nil
	case 'E', 'Z':
		return []byte(fmt.Sprintf("%s,%s#",
			nexstar.AngleToHex16(s.status.Axis1, nexstar.DefaultFullCircle),
			nexstar.AngleToHex16(s.status.Axis2, nexstar.DefaultFullCircle),
		)), nil
	case 'R', 'B':
		t1, t2, err := parseTarget(payload)
		if err != nil {
			return nil, err
		}
		s.status.Target1, s.status.Target2 = t1, s.clampSecondary(t2)
		s.status.Slewing = true
		return []byte{nexstar.Terminator}, nil
	case 'L':
		if s.status.Slewing {
			return []byte{'1'}, nil
		}
		return []byte{'0'}, nil
	case 'M':
		s.status.Slewing = false
		s.status.Target1, s.status.Target2 = s.status.Axis1, s.status.Axis2
		return []byte{nexstar.Terminator}, nil
	case 0x50:
		return nil, s.calibrate(payload)
	}
	return nil, fmt.Errorf("unknown command %q", cmd)
}

func (s *Simulator) clampSecondary(deg float64) float64 {
	if s.limit2 == 0 {
		return deg
	}
	signed := math.Remainder(deg, 360)
	return wrap(math.Max(-s.limit2, math.Min(s.limit2, signed)))
}

func parseTarget(payload []byte) (float64, float64, error) {
	if payload[4] != ',' {
		return 0, 0, fmt.Errorf("malformed target %q", payload)
	}
	t1, err := nexstar.Hex16ToAngle(string(payload[:4]), nexstar.DefaultFullCircle)
	if err != nil {
		return 0, 0, err
	}
	t2, err := nexstar.Hex16ToAngle(string(payload[5:]), nexstar.DefaultFullCircle)
	if err != nil {
		return 0, 0, err
	}
	return t1, t2, nil
}

// calibrate handles [0x50, 0x04, axis, vh, vm, vl, 0x00]; the leading 0x50
// has already been consumed.
func (s *Simulator) calibrate(payload []byte) error {
	if payload[0] != 0x04 {
		return fmt.Errorf("unsupported passthrough length %d", payload[0])
	}
	raw := uint32(payload[2])<<16 | uint32(payload[3])<<8 | uint32(payload[4])
	deg := float64(raw) / (1 << 24) * nexstar.DefaultFullCircle
	switch nexstar.Axis(payload[1]) {
	case nexstar.AxisAzimuth:
		s.status.Axis1 = deg
		if !s.status.Slewing {
			s.status.Target1 = deg
		}
	case nexstar.AxisAltitude:
		s.status.Axis2 = deg
		if !s.status.Slewing {
			s.status.Target2 = deg
		}
	default:
		return fmt.Errorf("unknown axis %d", payload[1])
	}
	return nil
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Slewing {
		return
	}
	limit := s.slewRate * stepSize.Seconds()
	var done1, done2 bool
	s.status.Axis1, done1 = approach(s.status.Axis1, s.status.Target1, limit)
	s.status.Axis2, done2 = approach(s.status.Axis2, s.status.Target2, limit)
	if done1 && done2 {
		s.status.Slewing = false
	}
}

// approach moves pos at most limit degrees toward target along the shorter
// way around the circle.
func approach(pos, target, limit float64) (float64, bool) {
	delta := math.Remainder(target-pos, 360)
	if math.Abs(delta) <= limit {
		return target, true
	}
	if delta < 0 {
		limit = -limit
	}
	return wrap(pos + limit), false
}

func wrap(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
