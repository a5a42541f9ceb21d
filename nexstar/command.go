package nexstar

import (
	"fmt"
	"strings"
)

// Terminator ends every variable-length response.
const Terminator byte = '#'

// Terminated is passed to Receive for responses that end with Terminator.
const Terminated = 0

// Transport is the byte channel a Mount talks over. Reads block for at most
// the transport's own read timeout.
type Transport interface {
	Write(p []byte) (int, error)
	// ReadExact reads exactly n bytes.
	ReadExact(n int) ([]byte, error)
	// ReadUntil reads up to and including delim.
	ReadUntil(delim byte) ([]byte, error)
	Close() error
}

// Opener is implemented by transports that can be reopened after Close.
type Opener interface {
	Open() error
	IsOpen() bool
}

// Segment is one piece of a command: literal ASCII text or a single raw byte.
type Segment struct {
	text  string
	value int
	raw   bool
}

// Literal is a segment contributing the ASCII bytes of text.
func Literal(text string) Segment {
	return Segment{text: text}
}

// RawByte is a segment contributing exactly one byte.
func RawByte(value int) Segment {
	return Segment{value: value, raw: true}
}

func (s Segment) String() string {
	if s.raw {
		return fmt.Sprintf("raw(%d)", s.value)
	}
	return fmt.Sprintf("%q", s.text)
}

// Encode concatenates segments into the wire representation.
func Encode(segments ...Segment) ([]byte, error) {
	var out []byte
	for _, s := range segments {
		if s.raw {
			if s.value < 0 || s.value > 0xFF {
				return nil, fmt.Errorf("%w: raw byte %d out of range [0, 255]", ErrInvalidArgument, s.value)
			}
			out = append(out, byte(s.value))
			continue
		}
		for i := 0; i < len(s.text); i++ {
			if s.text[i] > 0x7F {
				return nil, fmt.Errorf("%w: literal %q is not ASCII", ErrInvalidArgument, s.text)
			}
		}
		out = append(out, s.text...)
	}
	return out, nil
}

// Send writes one encoded command. Nothing is read.
func Send(t Transport, segments ...Segment) error {
	cmd, err := Encode(segments...)
	if err != nil {
		return err
	}
	if _, err := t.Write(cmd); err != nil {
		return wrapTransport("writing command", err)
	}
	return nil
}

// Receive reads one response. A positive fixedLength reads exactly that many
// bytes; Terminated reads up to Terminator and strips it.
func Receive(t Transport, fixedLength int) ([]byte, error) {
	if fixedLength < 0 {
		return nil, fmt.Errorf("%w: negative response length %d", ErrInvalidArgument, fixedLength)
	}
	if fixedLength > 0 {
		buf, err := t.ReadExact(fixedLength)
		if err != nil {
			return nil, wrapTransport(fmt.Sprintf("reading %d byte response", fixedLength), err)
		}
		return buf, nil
	}
	buf, err := t.ReadUntil(Terminator)
	if err != nil {
		return nil, wrapTransport("reading terminated response", err)
	}
	if n := len(buf); n > 0 && buf[n-1] == Terminator {
		buf = buf[:n-1]
	}
	return buf, nil
}

// DecodeASCII maps each byte to the character with that code.
func DecodeASCII(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// wrapTransport leaves ErrProtocolTimeout and ErrTransport alone and tags
// every other failure as ErrTransport.
func wrapTransport(op string, err error) error {
	if isTagged(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
