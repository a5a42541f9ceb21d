// Package nexstar drives a NexStar-style telescope mount over a serial link.
//
// A Mount owns its Transport from Open until Close. Every command is a
// request followed by its complete response; a Mount must not be used from
// more than one goroutine at a time.
package nexstar

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/w1xm/nexstar_interface/logger"
)

const (
	DefaultGotoTimeout  = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// noResponse marks commands the hand controller does not answer.
const noResponse = -1

// Axes selects the coordinate frame of a position query or GOTO.
type Axes int

const (
	RaDec Axes = iota
	AzAlt
)

func (a Axes) String() string {
	switch a {
	case RaDec:
		return "ra/dec"
	case AzAlt:
		return "az/alt"
	}
	return fmt.Sprintf("Axes(%d)", int(a))
}

// command letters for reading and going to a position in each frame
var axesCommands = map[Axes]struct{ get, goTo string }{
	RaDec: {get: "E", goTo: "R"},
	AzAlt: {get: "Z", goTo: "B"},
}

// AxisPair holds a position in degrees: (RA, Dec) for RaDec and
// (azimuth, altitude) for AzAlt.
type AxisPair struct {
	Primary   float64 `json:"primary"`
	Secondary float64 `json:"secondary"`
}

// Format renders the pair the way a person reads coordinates in frame axes.
func (p AxisPair) Format(axes Axes) string {
	if axes == RaDec {
		return FormatHMS(p.Primary) + " " + FormatDMS(p.Secondary)
	}
	return FormatDMS(p.Primary) + " " + FormatDMS(p.Secondary)
}

// Axis identifies a motor for axis-reference calibration.
type Axis byte

const (
	AxisAzimuth  Axis = 16
	AxisAltitude Axis = 17
)

func (a Axis) String() string {
	switch a {
	case AxisAzimuth:
		return "az"
	case AxisAltitude:
		return "alt"
	}
	return fmt.Sprintf("Axis(%d)", byte(a))
}

// TrackingMode is the byte sent with the T command. Firmware may define
// values beyond the named ones.
type TrackingMode byte

const (
	TrackingOff     TrackingMode = 0
	TrackingAltAz   TrackingMode = 1
	TrackingEQNorth TrackingMode = 2
	TrackingEQSouth TrackingMode = 3
)

// Mount is a session with one hand controller.
type Mount struct {
	t   Transport
	log logger.Logger

	fullCircle    float64
	gotoTimeout   time.Duration
	pollInterval  time.Duration
	sleep         func(time.Duration)
	initialCancel bool

	closed bool
}

// Option configures a Mount.
type Option func(*Mount)

func WithLogger(l logger.Logger) Option {
	return func(m *Mount) {
		if l != nil {
			m.log = l
		}
	}
}

// WithFullCircle sets the number of degrees in one turn of an axis.
func WithFullCircle(deg float64) Option {
	return func(m *Mount) {
		if deg > 0 {
			m.fullCircle = deg
		}
	}
}

// WithGotoTimeout sets the wait budget of GotoSync, CancelGotoSync and Close.
func WithGotoTimeout(d time.Duration) Option {
	return func(m *Mount) { m.gotoTimeout = d }
}

// WithPollInterval sets the delay between goto-in-progress queries.
func WithPollInterval(d time.Duration) Option {
	return func(m *Mount) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithSleep replaces time.Sleep in the wait loop.
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Mount) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithoutInitialCancel skips cancelling a slew left running by a previous session.
func WithoutInitialCancel() Option {
	return func(m *Mount) { m.initialCancel = false }
}

// Open acquires t, opening it if it implements Opener and is closed, and
// cancels any slew already in progress. The caller must Close the Mount.
func Open(t Transport, opts ...Option) (*Mount, error) {
	m := &Mount{
		t:             t,
		log:           logger.GetLogger(),
		fullCircle:    DefaultFullCircle,
		gotoTimeout:   DefaultGotoTimeout,
		pollInterval:  DefaultPollInterval,
		sleep:         time.Sleep,
		initialCancel: true,
	}
	for _, opt := range opts {
		opt(m)
	}

	if o, ok := t.(Opener); ok && !o.IsOpen() {
		if err := o.Open(); err != nil {
			return nil, wrapTransport("opening transport", err)
		}
	}
	if m.initialCancel {
		if _, err := m.CancelGotoSync(); err != nil {
			if cerr := t.Close(); cerr != nil {
				m.log.Error("closing transport", "error", cerr)
			}
			return nil, err
		}
	}
	return m, nil
}

// WithMount opens a Mount on t, calls fn and always releases the Mount.
// fn's error is returned first; cleanup errors are joined after it.
func WithMount(t Transport, fn func(*Mount) error, opts ...Option) (err error) {
	m, err := Open(t, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(m)
}

// Close stops any slew, turns tracking off and closes the transport. Every
// step runs even if an earlier one fails. Close is idempotent.
func (m *Mount) Close() error {
	if m.closed {
		return nil
	}
	var errs []error
	if _, err := m.CancelGotoSync(); err != nil {
		m.log.Error("cancelling goto on close", "error", err)
		errs = append(errs, err)
	}
	if err := m.SetTrackingOff(); err != nil {
		m.log.Error("disabling tracking on close", "error", err)
		errs = append(errs, err)
	}
	m.closed = true
	if err := m.t.Close(); err != nil {
		m.log.Error("closing transport", "error", err)
		errs = append(errs, wrapTransport("closing transport", err))
	}
	return errors.Join(errs...)
}

// exchange sends one command and reads its response: respLen bytes,
// Terminated, or nothing for noResponse.
func (m *Mount) exchange(respLen int, segments ...Segment) ([]byte, error) {
	if m.closed {
		return nil, ErrClosed
	}
	cmd, err := Encode(segments...)
	if err != nil {
		return nil, err
	}
	m.log.Debug(">>", "hex", fmt.Sprintf("% X", cmd), "ascii", fmt.Sprintf("%q", cmd))
	if err := Send(m.t, segments...); err != nil {
		return nil, err
	}
	if respLen == noResponse {
		return nil, nil
	}
	resp, err := Receive(m.t, respLen)
	if err != nil {
		return nil, err
	}
	m.log.Debug("<<", "hex", fmt.Sprintf("% X", resp), "ascii", fmt.Sprintf("%q", resp))
	return resp, nil
}

// exchangeFramed reads a reply of exactly n payload bytes followed by
// Terminator. The payload may itself contain Terminator.
func (m *Mount) exchangeFramed(n int, segments ...Segment) ([]byte, error) {
	resp, err := m.exchange(n+1, segments...)
	if err != nil {
		return nil, err
	}
	if resp[n] != Terminator {
		return nil, fmt.Errorf("%w: %s answered %q without terminator", ErrMalformedResponse, segments[0], resp)
	}
	return resp[:n], nil
}

// Echo sends c and returns the character the hand controller echoes back.
func (m *Mount) Echo(c string) (string, error) {
	if utf8.RuneCountInString(c) != 1 {
		return "", fmt.Errorf("%w: echo takes exactly one character, got %q", ErrInvalidArgument, c)
	}
	resp, err := m.exchangeFramed(len(c), Literal("K"), Literal(c))
	if err != nil {
		return "", err
	}
	return DecodeASCII(resp), nil
}

// Version returns the firmware version as "major.minor".
func (m *Mount) Version() (string, error) {
	resp, err := m.exchangeFramed(2, Literal("V"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", resp[0], resp[1]), nil
}

// Model returns the hand controller's model code.
func (m *Mount) Model() (int, error) {
	resp, err := m.exchangeFramed(1, Literal("m"))
	if err != nil {
		return 0, err
	}
	return int(resp[0]), nil
}

// SetTrackingMode sets the tracking mode. The one byte ack is read but not checked.
func (m *Mount) SetTrackingMode(mode TrackingMode) error {
	_, err := m.exchange(1, Literal("T"), RawByte(int(mode)))
	return err
}

func (m *Mount) SetTrackingOff() error {
	return m.SetTrackingMode(TrackingOff)
}

// Position reads the current position in frame axes.
func (m *Mount) Position(axes Axes) (AxisPair, error) {
	cmds, ok := axesCommands[axes]
	if !ok {
		return AxisPair{}, fmt.Errorf("%w: unknown axes %v", ErrInvalidArgument, axes)
	}
	resp, err := m.exchange(Terminated, Literal(cmds.get))
	if err != nil {
		return AxisPair{}, err
	}
	s := DecodeASCII(resp)
	if len(s) != 9 || s[4] != ',' {
		return AxisPair{}, fmt.Errorf("%w: %s position %q", ErrMalformedResponse, axes, s)
	}
	var p AxisPair
	if p.Primary, err = Hex16ToAngle(s[:4], m.fullCircle); err != nil {
		return AxisPair{}, err
	}
	if p.Secondary, err = Hex16ToAngle(s[5:], m.fullCircle); err != nil {
		return AxisPair{}, err
	}
	return p, nil
}

// Goto starts a slew to target in frame axes and returns without waiting.
func (m *Mount) Goto(axes Axes, target AxisPair) error {
	cmds, ok := axesCommands[axes]
	if !ok {
		return fmt.Errorf("%w: unknown axes %v", ErrInvalidArgument, axes)
	}
	m.log.Info("going to", "axes", axes.String(), "target", target.Format(axes))
	_, err := m.exchange(1,
		Literal(cmds.goTo),
		Literal(AngleToHex16(target.Primary, m.fullCircle)),
		Literal(","),
		Literal(AngleToHex16(target.Secondary, m.fullCircle)),
	)
	return err
}

// GotoSync starts a slew and waits for it with the configured timeout.
// A slew still running at the timeout is reported in the result, not as an error.
func (m *Mount) GotoSync(axes Axes, target AxisPair) (WaitResult, error) {
	if err := m.Goto(axes, target); err != nil {
		return WaitResult{}, err
	}
	return m.WaitUntilIdle(m.gotoTimeout, m.pollInterval)
}

// IsGotoActive reports whether a slew is in progress.
func (m *Mount) IsGotoActive() (bool, error) {
	resp, err := m.exchange(1, Literal("L"))
	if err != nil {
		return false, err
	}
	return resp[0] != '0', nil
}

// CancelGoto stops any slew in progress.
func (m *Mount) CancelGoto() error {
	m.log.Info("cancelling goto")
	_, err := m.exchange(1, Literal("M"))
	return err
}

// CancelGotoSync stops any slew and waits for the mount to report idle.
func (m *Mount) CancelGotoSync() (WaitResult, error) {
	if err := m.CancelGoto(); err != nil {
		return WaitResult{}, err
	}
	return m.WaitUntilIdle(m.gotoTimeout, m.pollInterval)
}

// ResetAxisReference tells the motor controller of axis that it is at deg.
// The hand controller does not answer this command.
func (m *Mount) ResetAxisReference(axis Axis, deg float64) error {
	if axis != AxisAzimuth && axis != AxisAltitude {
		return fmt.Errorf("%w: unknown axis %v", ErrInvalidArgument, axis)
	}
	hi, mid, lo := AngleToFixed24(deg, m.fullCircle)
	m.log.Info("resetting axis reference", "axis", axis.String(), "position", FormatDMS(deg))
	_, err := m.exchange(noResponse,
		RawByte(0x50), RawByte(0x04), RawByte(int(axis)),
		RawByte(int(hi)), RawByte(int(mid)), RawByte(int(lo)),
		RawByte(0x00),
	)
	return err
}
