package wire

import (
	"errors"
	"fmt"
)

// ErrProtocol is returned (wrapped) when the byte stream is
// desynchronized beyond recovery: unbalanced parentheses, a malformed
// literal size, or bytes that cannot be classified in any state. The
// caller (session.Session) must close the socket when it sees this
// error.
var ErrProtocol = errors.New("wire: protocol error")

// Sink receives the low-level events the parser emits as it recognizes
// tokens. A single sink object replaces the free-function callback
// fields of the original implementation.
type Sink interface {
	OnString(data []byte)
	OnListStart(which byte) // '(' for a normal list, '[' for a response code
	OnListEnd(which byte)   // ')' or ']'
	OnLiteralStart(size int64)
	OnLiteralPart(data []byte)
	OnLiteralEnd()
	OnLineEnd()
}

type state int

const (
	stateInit state = iota
	stateQuoted
	stateLiteralSize
	stateLiteralCRLF
	stateLiteralBody
	stateAtom
	stateWhitespace
	stateAngleBracket
	stateSublistAtom
	stateCRLF
)

// Parser is a byte-driven pushdown automaton over the IMAP response
// grammar. It consumes whatever bytes are available via Feed and
// halts cleanly at any point, resuming on the next call — it never
// requires a whole response, or even a whole token, to be delivered
// in one call.
type Parser struct {
	buf  *ByteBuffer
	sink Sink

	state state
	pos   int // scan cursor, absolute position in the active buffer
	start int // start of the in-progress token, absolute position

	listDepth int

	literalRemaining int64
	literalDigits    []byte
	literalNonSync   bool

	quotedEscaped bool

	serverMode   bool
	continuation func(size int64) error // emits "+ Ready for literal data..." in server mode

	errored bool
}

// NewParser constructs a Parser over buf, delivering events to sink.
func NewParser(buf *ByteBuffer, sink Sink) *Parser {
	return &Parser{buf: buf, sink: sink}
}

// EnableServerMode makes the parser emit a continuation prompt via cont
// before accepting a literal body, as a fake-server test harness would.
func (p *Parser) EnableServerMode(cont func(size int64) error) {
	p.serverMode = true
	p.continuation = cont
}

// Errored reports whether the parser has hit a protocol error and must
// not be fed further bytes.
func (p *Parser) Errored() bool { return p.errored }

// Feed appends chunk to the working buffer (or, while inside a literal
// body, directly to the literal accumulator, bypassing the ring buffer
// entirely) and drives the automaton over everything newly available.
//
// chunk may be split arbitrarily — one byte at a time, mid-token,
// mid-literal — without changing the sequence of emitted events.
func (p *Parser) Feed(chunk []byte) error {
	if p.errored {
		return fmt.Errorf("%w: parser already failed", ErrProtocol)
	}
	for {
		if p.state == stateLiteralBody && p.literalRemaining > 0 {
			// Bytes belonging to the literal may already have landed in
			// the working buffer: fillBuffer copies a whole incoming
			// chunk before process() gets a chance to notice the
			// {N}\r\n header it contains and switch into literal mode.
			// Drain those first, then siphon whatever is left directly
			// out of chunk without ever copying it into the buffer.
			if p.pos < p.buf.WritePos() {
				p.drainLiteralFromBuffer()
				continue
			}
			if len(chunk) == 0 {
				return nil
			}
			n := int64(len(chunk))
			if n > p.literalRemaining {
				n = p.literalRemaining
			}
			p.sink.OnLiteralPart(chunk[:n])
			p.literalRemaining -= n
			chunk = chunk[n:]
			if p.literalRemaining == 0 {
				p.sink.OnLiteralEnd()
				p.state = stateInit
			}
			continue
		}

		if len(chunk) == 0 && p.pos >= p.buf.WritePos() {
			return nil
		}

		// chunk may be empty here: a literal just drained out of the
		// working buffer (drainLiteralFromBuffer, above) can leave
		// trailing bytes — the closing ")\r\n" and beyond — still
		// unread in the buffer with nothing left in chunk to add.
		// Skip straight to process() so those bytes are not stranded
		// until the next Feed call.
		if len(chunk) > 0 {
			n, err := p.fillBuffer(chunk)
			if err != nil {
				p.errored = true
				return err
			}
			chunk = chunk[n:]
		}

		if err := p.process(); err != nil {
			p.errored = true
			return err
		}
	}
}

// drainLiteralFromBuffer moves bytes already sitting unread in the
// working buffer out to the sink as literal parts. Used when a chunk
// delivered in one Feed call contained both the "{N}\r\n" header and
// some amount of the literal body itself: fillBuffer has no way to know
// ahead of parsing where the header ends, so those body bytes land in
// the ring buffer before the siphon in Feed notices literal mode.
func (p *Parser) drainLiteralFromBuffer() {
	avail := int64(p.buf.WritePos() - p.pos)
	n := avail
	if n > p.literalRemaining {
		n = p.literalRemaining
	}
	end := p.pos + int(n)
	p.sink.OnLiteralPart(p.buf.Sub(p.pos, end))
	p.literalRemaining -= n
	p.pos = end
	p.buf.Advance(p.pos)
	if p.literalRemaining == 0 {
		p.sink.OnLiteralEnd()
		p.state = stateInit
	}
}

// fillBuffer copies as much of chunk as fits into the working buffer,
// compacting first if needed, and returns how many bytes were consumed.
func (p *Parser) fillBuffer(chunk []byte) (int, error) {
	if p.buf.Full() {
		keepFrom := p.pos
		switch p.state {
		case stateAtom, stateQuoted, stateAngleBracket, stateSublistAtom:
			if p.start < keepFrom {
				keepFrom = p.start
			}
		}
		if err := p.buf.Compact(keepFrom, []*int{&p.pos, &p.start}); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrProtocol, err)
		}
	}
	space := p.buf.Writable()
	n := len(chunk)
	if n > len(space) {
		n = len(space)
	}
	copy(space[:n], chunk[:n])
	p.buf.MarkWritten(n)
	return n, nil
}

// process drives the automaton over every byte newly available in the
// working buffer, stopping when it runs out of data or enters literal
// siphon mode (at which point Feed takes over directly).
func (p *Parser) process() error {
	for p.pos < p.buf.WritePos() {
		if p.state == stateLiteralBody {
			return nil
		}
		c := p.buf.Byte(p.pos)

		switch p.state {
		case stateInit:
			switch {
			case c == '(':
				if p.listDepth >= 1 {
					p.state = stateSublistAtom
					p.start = p.pos
					p.listDepth++
				} else {
					p.listDepth++
					p.sink.OnListStart('(')
				}
			case c == ')':
				if p.listDepth == 0 {
					return p.protocolErrf("unbalanced ')'")
				}
				p.listDepth--
				p.sink.OnListEnd(')')
			case c == '[':
				if p.listDepth >= 1 {
					p.state = stateAngleBracket
					p.start = p.pos
				} else {
					p.sink.OnListStart('[')
				}
			case c == ']':
				p.sink.OnListEnd(']')
			case c == ' ':
				p.state = stateWhitespace
			case c == '\r':
				p.state = stateCRLF
			case c == '{':
				p.state = stateLiteralSize
				p.literalDigits = p.literalDigits[:0]
				p.literalNonSync = false
			case c == '"':
				p.state = stateQuoted
				p.start = p.pos + 1
				p.quotedEscaped = false
			default:
				p.state = stateAtom
				p.start = p.pos
			}

		case stateQuoted:
			if p.quotedEscaped {
				p.quotedEscaped = false
			} else if c == '\\' {
				p.quotedEscaped = true
			} else if c == '"' {
				p.sink.OnString(stripEscapes(p.buf.Sub(p.start, p.pos)))
				p.state = stateInit
				p.start = 0
			}

		case stateLiteralSize:
			switch {
			case c >= '0' && c <= '9':
				p.literalDigits = append(p.literalDigits, c)
			case c == '+':
				p.literalNonSync = true
			case c == '}':
				size, err := parseLiteralSize(p.literalDigits)
				if err != nil {
					return p.protocolErrf("invalid literal size: %v", err)
				}
				p.literalRemaining = size
				p.state = stateLiteralCRLF
			default:
				return p.protocolErrf("unexpected byte %q in literal size", c)
			}

		case stateLiteralCRLF:
			switch c {
			case '\r':
				// consumed silently
			case '\n':
				size := p.literalRemaining
				if p.serverMode && p.continuation != nil && size > 0 && !p.literalNonSync {
					if err := p.continuation(size); err != nil {
						return err
					}
				}
				p.sink.OnLiteralStart(size)
				if size == 0 {
					p.sink.OnLiteralEnd()
					p.state = stateInit
				} else {
					p.state = stateLiteralBody
				}
			default:
				return p.protocolErrf("expected CRLF after literal size, got %q", c)
			}

		case stateAtom:
			switch c {
			case ' ', '(', ')', ']', '\r', '"':
				p.sink.OnString(p.buf.Sub(p.start, p.pos))
				p.state = stateInit
				p.start = 0
				continue
			case '[':
				if p.listDepth >= 1 {
					p.state = stateAngleBracket
				}
			}

		case stateAngleBracket:
			if c == ']' {
				p.sink.OnString(p.buf.Sub(p.start, p.pos+1))
				p.state = stateInit
				p.start = 0
			}

		case stateSublistAtom:
			switch c {
			case '(':
				p.listDepth++
			case ')':
				p.listDepth--
				if p.listDepth <= 1 {
					p.sink.OnString(p.buf.Sub(p.start, p.pos+1))
					p.state = stateInit
					p.start = 0
				}
			}

		case stateWhitespace:
			if c != ' ' {
				p.state = stateInit
				continue
			}

		case stateCRLF:
			if c == '\n' {
				p.sink.OnLineEnd()
				p.state = stateInit
			} else {
				// tolerate a bare \r that isn't part of CRLF
				p.state = stateInit
				continue
			}
		}

		p.pos++
		p.buf.Advance(p.pos)
	}
	return nil
}

func (p *Parser) protocolErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func parseLiteralSize(digits []byte) (int64, error) {
	if len(digits) == 0 {
		return 0, fmt.Errorf("empty literal size")
	}
	var n int64
	for _, d := range digits {
		n = n*10 + int64(d-'0')
	}
	if n < 0 {
		return 0, fmt.Errorf("negative literal size")
	}
	return n, nil
}

func stripEscapes(b []byte) []byte {
	out := make([]byte, 0, len(b))
	escaped := false
	for _, c := range b {
		if escaped {
			out = append(out, c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		out = append(out, c)
	}
	return out
}
