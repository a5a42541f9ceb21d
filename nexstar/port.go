package nexstar

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig describes how to open the serial link to the hand controller.
type SerialConfig struct {
	// Name is the port, e.g. /dev/ttyUSB0 or COM3.
	Name string
	// Baud defaults to 9600.
	Baud int
	// ReadTimeout bounds every blocking read. tarm/serial rounds it to
	// tenths of a second.
	ReadTimeout time.Duration
	// WriteTimeout bounds every write. Zero blocks until the write completes.
	WriteTimeout time.Duration
}

const (
	DefaultBaud         = 9600
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultSerialConfig returns the 9600 8N1 configuration NexStar hand
// controllers use.
func DefaultSerialConfig(name string) SerialConfig {
	return SerialConfig{
		Name:         name,
		Baud:         DefaultBaud,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Port is a Transport over a serial port or any other byte stream.
// It is not safe for concurrent use.
type Port struct {
	name         string
	dial         func() (io.ReadWriteCloser, error)
	readTimeout  time.Duration
	writeTimeout time.Duration
	// eofIsTimeout is set for serial ports, which report an elapsed read
	// timeout as a zero-length read.
	eofIsTimeout bool

	rwc io.ReadWriteCloser
	r   *bufio.Reader
}

var (
	_ Transport = (*Port)(nil)
	_ Opener    = (*Port)(nil)
)

// NewSerialPort returns an unopened Port for cfg. Open (or nexstar.Open)
// opens it.
func NewSerialPort(cfg SerialConfig) *Port {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	return &Port{
		name:         cfg.Name,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		eofIsTimeout: true,
		dial: func() (io.ReadWriteCloser, error) {
			s, err := serial.OpenPort(&serial.Config{
				Name:        cfg.Name,
				Baud:        cfg.Baud,
				ReadTimeout: cfg.ReadTimeout,
				Size:        8,
				Parity:      serial.ParityNone,
				StopBits:    serial.Stop1,
			})
			if err != nil {
				return nil, err
			}
			return zeroReadIsEOF{s}, nil
		},
	}
}

// OpenSerial opens a serial port with cfg.
func OpenSerial(cfg SerialConfig) (*Port, error) {
	p := NewSerialPort(cfg)
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStreamPort wraps an already open stream such as a net.Conn. If rwc
// supports deadlines, readTimeout and writeTimeout are applied per call.
// The port cannot be reopened once closed.
func NewStreamPort(name string, rwc io.ReadWriteCloser, readTimeout, writeTimeout time.Duration) *Port {
	return &Port{
		name:         name,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		rwc:          rwc,
		r:            bufio.NewReader(rwc),
	}
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) IsOpen() bool {
	return p.rwc != nil
}

// Open opens the underlying port. It is a no-op if the port is open.
func (p *Port) Open() error {
	if p.rwc != nil {
		return nil
	}
	if p.dial == nil {
		return fmt.Errorf("%w: %s cannot be reopened", ErrTransport, p.name)
	}
	rwc, err := p.dial()
	if err != nil {
		return fmt.Errorf("%w: opening %q: %w", ErrTransport, p.name, err)
	}
	p.rwc = rwc
	p.r = bufio.NewReader(rwc)
	return nil
}

func (p *Port) Close() error {
	if p.rwc == nil {
		return nil
	}
	err := p.rwc.Close()
	p.rwc, p.r = nil, nil
	if err != nil {
		return fmt.Errorf("%w: closing %q: %w", ErrTransport, p.name, err)
	}
	return nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (p *Port) Write(b []byte) (int, error) {
	if p.rwc == nil {
		return 0, fmt.Errorf("%w: %s is not open", ErrTransport, p.name)
	}
	if p.writeTimeout <= 0 {
		n, err := p.rwc.Write(b)
		return n, p.writeErr(err)
	}
	if d, ok := p.rwc.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return 0, p.writeErr(err)
		}
		n, err := p.rwc.Write(b)
		return n, p.writeErr(err)
	}

	// Serial ports have no write deadline. On timeout the port is closed so
	// the stuck write cannot land between later commands.
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func(rwc io.Writer) {
		n, err := rwc.Write(b)
		done <- result{n, err}
	}(p.rwc)
	timer := time.NewTimer(p.writeTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.n, p.writeErr(r.err)
	case <-timer.C:
		err := fmt.Errorf("%w: write to %s did not complete within %v", ErrTransport, p.name, p.writeTimeout)
		if cerr := p.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return 0, err
	}
}

func (p *Port) ReadExact(n int) ([]byte, error) {
	if err := p.beginRead(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, p.readErr(err)
	}
	return buf, nil
}

func (p *Port) ReadUntil(delim byte) ([]byte, error) {
	if err := p.beginRead(); err != nil {
		return nil, err
	}
	buf, err := p.r.ReadBytes(delim)
	if err != nil {
		return nil, p.readErr(err)
	}
	return buf, nil
}

func (p *Port) beginRead() error {
	if p.rwc == nil {
		return fmt.Errorf("%w: %s is not open", ErrTransport, p.name)
	}
	if d, ok := p.rwc.(readDeadliner); ok && p.readTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
	return nil
}

func (p *Port) readErr(err error) error {
	if isTimeout(err) || (p.eofIsTimeout && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF))) {
		return fmt.Errorf("%w: no response from %s within %v", ErrProtocolTimeout, p.name, p.readTimeout)
	}
	return fmt.Errorf("%w: reading %s: %w", ErrTransport, p.name, err)
}

func (p *Port) writeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: writing %s: %w", ErrTransport, p.name, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// zeroReadIsEOF turns the (0, nil) a timed out read returns on some
// platforms into io.EOF, so io.ReadFull and bufio stop waiting.
type zeroReadIsEOF struct {
	io.ReadWriteCloser
}

func (z zeroReadIsEOF) Read(b []byte) (int, error) {
	n, err := z.ReadWriteCloser.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		return 0, io.EOF
	}
	return n, err
}
