package nexstar

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/nexstar_interface/logger"
)

func mustMount(t *testing.T, dev *fakeDevice, opts ...Option) *testMount {
	t.Helper()
	tm, err := newTestMount(dev, opts...)
	require.NoError(t, err)
	return tm
}

func assertCommands(t *testing.T, ft *fakeTransport, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, ft.commands()); diff != "" {
		t.Errorf("unexpected commands: want(-)/got(+):\n%s", diff)
	}
}

func TestIdentity(t *testing.T) {
	tm := mustMount(t, &fakeDevice{major: 4, minor: 10, model: 20})

	version, err := tm.Version()
	require.NoError(t, err)
	assert.Equal(t, "4.10", version)

	model, err := tm.Model()
	require.NoError(t, err)
	assert.Equal(t, 20, model)

	c, err := tm.Echo("x")
	require.NoError(t, err)
	assert.Equal(t, "x", c)

	assertCommands(t, tm.ft, "V", "m", "Kx")
	assert.Empty(t, tm.ft.in)
}

func TestFramedRepliesContainingTerminator(t *testing.T) {
	tm := mustMount(t, &fakeDevice{major: 4, minor: '#', model: '#'})

	c, err := tm.Echo("#")
	require.NoError(t, err)
	assert.Equal(t, "#", c)

	version, err := tm.Version()
	require.NoError(t, err)
	assert.Equal(t, "4.35", version)

	model, err := tm.Model()
	require.NoError(t, err)
	assert.Equal(t, 35, model)

	active, err := tm.IsGotoActive()
	require.NoError(t, err)
	assert.False(t, active)
	assert.Empty(t, tm.ft.in)
}

func TestFramedReplyWithoutTerminator(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	tm.ft.respond = func([]byte) string { return "\x04\x15X" }
	_, err := tm.Version()
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestEchoInvalidArgument(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	for _, arg := range []string{"", "ab"} {
		_, err := tm.Echo(arg)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%q", arg)
	}
	assert.Empty(t, tm.ft.writes)
}

func TestTracking(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	require.NoError(t, tm.SetTrackingOff())
	require.NoError(t, tm.SetTrackingMode(TrackingEQNorth))
	assertCommands(t, tm.ft, "T\x00", "T\x02")
	assert.Empty(t, tm.ft.in, "ack must be consumed")
}

func TestPosition(t *testing.T) {
	tm := mustMount(t, &fakeDevice{radec: "C000,18E3", azalt: "8000,4000"})

	radec, err := tm.Position(RaDec)
	require.NoError(t, err)
	assert.InDelta(t, 270, radec.Primary, 360.0/65536)
	assert.InDelta(t, 35, radec.Secondary, 360.0/65536)

	azalt, err := tm.Position(AzAlt)
	require.NoError(t, err)
	assert.Equal(t, AxisPair{Primary: 180, Secondary: 90}, azalt)

	assertCommands(t, tm.ft, "E", "Z")

	_, err = tm.Position(Axes(7))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPositionMalformed(t *testing.T) {
	for _, payload := range []string{"C000;18E3", "C00,18E3", "C000,18E", "G000,0000", ""} {
		tm := mustMount(t, &fakeDevice{radec: payload})
		_, err := tm.Position(RaDec)
		assert.ErrorIs(t, err, ErrMalformedResponse, "%q", payload)
	}
}

func TestPositionFullCircle(t *testing.T) {
	tm := mustMount(t, &fakeDevice{azalt: "8000,4000"}, WithFullCircle(1))
	p, err := tm.Position(AzAlt)
	require.NoError(t, err)
	assert.Equal(t, AxisPair{Primary: 0.5, Secondary: 0.25}, p)
}

func TestGotoSync(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})

	res, err := tm.GotoSync(RaDec, AxisPair{Primary: 270, Secondary: 35})
	require.NoError(t, err)

	assertCommands(t, tm.ft, "RC000,18E3", "L")
	assert.Equal(t, WaitResult{Elapsed: 0, Polls: 1}, res)
	assert.Zero(t, tm.slept)
}

func TestGotoAzAlt(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	require.NoError(t, tm.Goto(AzAlt, AxisPair{Primary: 90, Secondary: -10}))
	assertCommands(t, tm.ft, "B4000,F8E4")
	assert.Empty(t, tm.ft.in)
}

func TestWaitUntilIdleTimesOut(t *testing.T) {
	tm := mustMount(t, &fakeDevice{alwaysActive: true})

	res, err := tm.WaitUntilIdle(time.Second, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.GreaterOrEqual(t, res.Elapsed, time.Second)
	assert.Less(t, res.Elapsed, 1100*time.Millisecond)
	assert.Equal(t, 11, res.Polls)
	assert.Equal(t, res.Elapsed, tm.slept)
}

func TestWaitUntilIdleCompletes(t *testing.T) {
	tm := mustMount(t, &fakeDevice{activePolls: 3})

	res, err := tm.WaitUntilIdle(time.Second, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, WaitResult{Elapsed: 300 * time.Millisecond, Polls: 4}, res)
}

func TestWaitUntilIdleInvalid(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	_, err := tm.WaitUntilIdle(time.Second, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = tm.WaitUntilIdle(-time.Second, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, tm.ft.writes)
}

func TestSlewWaitStep(t *testing.T) {
	tm := mustMount(t, &fakeDevice{activePolls: 1})
	w, err := tm.NewSlewWait(time.Second, 250*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, Polling, w.State())
	assert.Empty(t, tm.ft.writes)

	require.NoError(t, w.Step())
	assert.False(t, w.Done())
	assert.Equal(t, 250*time.Millisecond, w.Result().Elapsed)

	require.NoError(t, w.Step())
	assert.True(t, w.Done())
	assert.Equal(t, Idle, w.State())

	require.NoError(t, w.Step())
	assertCommands(t, tm.ft, "L", "L")
	assert.Equal(t, "idle", w.State().String())
}

func TestSlewWaitZeroTimeout(t *testing.T) {
	tm := mustMount(t, &fakeDevice{alwaysActive: true})
	w, err := tm.NewSlewWait(0, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Step())
	assert.Equal(t, TimedOut, w.State())
	assert.Equal(t, WaitResult{TimedOut: true, Polls: 1}, w.Result())
}

func TestCancelGotoSync(t *testing.T) {
	tm := mustMount(t, &fakeDevice{activePolls: 2})
	res, err := tm.CancelGotoSync()
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assertCommands(t, tm.ft, "M", "L", "L", "L")
}

func TestResetAxisReference(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	require.NoError(t, tm.ResetAxisReference(AxisAzimuth, 0))
	require.NoError(t, tm.ResetAxisReference(AxisAltitude, 180))

	want := [][]byte{
		{0x50, 0x04, 16, 0, 0, 0, 0},
		{0x50, 0x04, 17, 0x80, 0, 0, 0},
	}
	assert.Equal(t, want, tm.ft.writes)

	assert.ErrorIs(t, tm.ResetAxisReference(Axis(3), 0), ErrInvalidArgument)
	assert.Len(t, tm.ft.writes, 2)
}

func TestTransportErrorsPropagate(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	tm.ft.readErr = io.ErrClosedPipe
	_, err := tm.Version()
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	tm.ft.readErr = nil
	tm.ft.in = nil
	tm.ft.respond = func([]byte) string { return "" }
	_, err = tm.IsGotoActive()
	assert.ErrorIs(t, err, ErrProtocolTimeout)
}

func TestOpenAcquiresTransport(t *testing.T) {
	dev := &fakeDevice{activePolls: 1}
	ft := newFakeTransport()
	ft.respond = dev.respond
	fo := &fakeOpener{fakeTransport: ft}

	var slept time.Duration
	m, err := Open(fo, WithSleep(func(d time.Duration) { slept += d }), WithLogger(nopLogger()))
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, 1, fo.opens)
	assertCommands(t, ft, "M", "L", "L")
	assert.Equal(t, DefaultPollInterval, slept)
}

func TestOpenFailsWhenCancelFails(t *testing.T) {
	ft := newFakeTransport()
	ft.writeErr = errors.New("unplugged")
	_, err := Open(ft, WithLogger(nopLogger()))
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, ft.closed)
}

func TestClose(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	require.NoError(t, tm.Close())
	assertCommands(t, tm.ft, "M", "L", "T\x00")
	assert.True(t, tm.ft.closed)

	require.NoError(t, tm.Close())
	assert.Len(t, tm.ft.writes, 3)

	_, err := tm.Version()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseIsBestEffort(t *testing.T) {
	tm := mustMount(t, &fakeDevice{})
	tm.ft.failWrite = func(cmd []byte) error {
		if cmd[0] == 'M' {
			return errors.New("stalled")
		}
		return nil
	}
	tm.ft.closeErr = errors.New("close failed")

	err := tm.Close()
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorContains(t, err, "stalled")
	assert.ErrorContains(t, err, "close failed")
	assertCommands(t, tm.ft, "T\x00")
	assert.True(t, tm.ft.closed)
}

func TestCloseLogsCleanupFailures(t *testing.T) {
	log := logger.NewMockLogger()
	log.On("Error", "cancelling goto on close", mock.Anything).Once()
	log.On("Error", "closing transport", mock.Anything).Once()
	for _, method := range []string{"Debug", "Info", "Warn"} {
		log.On(method, mock.Anything, mock.Anything).Maybe()
	}
	log.On("Level").Return(logger.InfoLevel).Maybe()

	tm := mustMount(t, &fakeDevice{}, WithLogger(log))
	tm.ft.failWrite = func(cmd []byte) error {
		if cmd[0] == 'M' {
			return errors.New("stalled")
		}
		return nil
	}
	tm.ft.closeErr = errors.New("close failed")

	assert.Error(t, tm.Close())
	log.AssertExpectations(t)
	log.AssertNotCalled(t, "Error", "disabling tracking on close", mock.Anything)
}

func TestWaitLogsPositionAtDebug(t *testing.T) {
	var buf bytes.Buffer
	tm := mustMount(t, &fakeDevice{activePolls: 1, radec: "C000,18E3"},
		WithLogger(logger.New(&buf, logger.DebugLevel, logger.FormatJSON)))

	res, err := tm.GotoSync(RaDec, AxisPair{Primary: 270, Secondary: 35})
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assertCommands(t, tm.ft, "RC000,18E3", "L", "E", "L")
	assert.Contains(t, buf.String(), `"position":"18h0m0s`)
	assert.Contains(t, buf.String(), `"hex":"52 43 30 30 30 2C 31 38 45 33"`)
}

func TestWithMount(t *testing.T) {
	dev := &fakeDevice{major: 1, minor: 2}
	ft := newFakeTransport()
	ft.respond = dev.respond

	var version string
	err := WithMount(ft, func(m *Mount) error {
		var err error
		version, err = m.Version()
		return err
	}, WithLogger(nopLogger()), WithoutInitialCancel())
	require.NoError(t, err)
	assert.Equal(t, "1.2", version)
	assertCommands(t, ft, "V", "M", "L", "T\x00")
	assert.True(t, ft.closed)
}

func TestWithMountKeepsOriginalError(t *testing.T) {
	errBoom := errors.New("boom")
	ft := newFakeTransport()
	ft.respond = (&fakeDevice{}).respond
	ft.closeErr = errors.New("close failed")

	err := WithMount(ft, func(m *Mount) error {
		return errBoom
	}, WithLogger(nopLogger()), WithoutInitialCancel())
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, ft.closed)
	assertCommands(t, ft, "M", "L", "T\x00")
}

func TestAxisPairFormat(t *testing.T) {
	p := AxisPair{Primary: 270, Secondary: -1.5}
	assert.Equal(t, "18h0m0s -1d30m0s", p.Format(RaDec))
	assert.Equal(t, "270d0m0s -1d30m0s", p.Format(AzAlt))
	assert.Equal(t, "ra/dec", RaDec.String())
	assert.Equal(t, "alt", AxisAltitude.String())
}
