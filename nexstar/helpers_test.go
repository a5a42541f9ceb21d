package nexstar

import (
	"bytes"
	"fmt"
	"time"

	"github.com/w1xm/nexstar_interface/logger"
)

// fakeTransport is an in-memory Transport. Reads that cannot be satisfied
// from the buffered input fail the way an elapsed read deadline does.
type fakeTransport struct {
	writes [][]byte
	in     []byte

	respond   func(cmd []byte) string
	failWrite func(cmd []byte) error
	writeErr  error
	readErr   error
	closeErr  error
	closed    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) push(s string) {
	f.in = append(f.in, s...)
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.failWrite != nil {
		if err := f.failWrite(p); err != nil {
			return 0, err
		}
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	if f.respond != nil {
		f.push(f.respond(p))
	}
	return len(p), nil
}

func (f *fakeTransport) ReadExact(n int) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.in) < n {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrProtocolTimeout, n, len(f.in))
	}
	out := f.in[:n:n]
	f.in = f.in[n:]
	return out, nil
}

func (f *fakeTransport) ReadUntil(delim byte) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	i := bytes.IndexByte(f.in, delim)
	if i < 0 {
		return nil, fmt.Errorf("%w: no %q in %q", ErrProtocolTimeout, delim, f.in)
	}
	out := f.in[: i+1 : i+1]
	f.in = f.in[i+1:]
	return out, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return f.closeErr
}

// commands returns every write as a string.
func (f *fakeTransport) commands() []string {
	var out []string
	for _, w := range f.writes {
		out = append(out, string(w))
	}
	return out
}

// fakeOpener adds Opener to fakeTransport.
type fakeOpener struct {
	*fakeTransport
	open  bool
	opens int
}

func (f *fakeOpener) Open() error {
	f.opens++
	f.open = true
	return nil
}

func (f *fakeOpener) IsOpen() bool {
	return f.open
}

// fakeDevice answers commands the way a hand controller running the
// canonical protocol revision does.
type fakeDevice struct {
	major, minor byte
	model        byte
	radec        string
	azalt        string
	// activePolls is the number of L queries answered with '1' before '0'.
	activePolls  int
	alwaysActive bool
}

func (d *fakeDevice) respond(cmd []byte) string {
	switch cmd[0] {
	case 'K':
		return string(cmd[1:]) + "#"
	case 'V':
		return string([]byte{d.major, d.minor}) + "#"
	case 'm':
		return string([]byte{d.model}) + "#"
	case 'E':
		return d.radec + "#"
	case 'Z':
		return d.azalt + "#"
	case 'L':
		if d.alwaysActive || d.activePolls > 0 {
			d.activePolls--
			return "1"
		}
		return "0"
	case 'T', 'R', 'B', 'M':
		return "#"
	}
	return ""
}

type testMount struct {
	*Mount
	ft    *fakeTransport
	dev   *fakeDevice
	slept time.Duration
}

func newTestMount(dev *fakeDevice, opts ...Option) (*testMount, error) {
	tm := &testMount{ft: newFakeTransport(), dev: dev}
	tm.ft.respond = dev.respond
	opts = append([]Option{
		WithLogger(nopLogger()),
		WithSleep(func(d time.Duration) { tm.slept += d }),
		WithoutInitialCancel(),
	}, opts...)
	m, err := Open(tm.ft, opts...)
	if err != nil {
		return nil, err
	}
	tm.Mount = m
	return tm, nil
}

func nopLogger() logger.Logger {
	return logger.Nop()
}
