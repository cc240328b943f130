// Package wire implements the IMAP4rev1 wire protocol: a streaming,
// byte-driven response parser (Parser) and a command encoder (Encoder).
package wire

import "bytes"

// PartKind identifies what a Part holds.
type PartKind int

const (
	// String is an opaque byte string: a quoted string, an unquoted atom,
	// or a literal, with the distinction erased after parsing.
	String PartKind = iota
	// List is a parenthesized sequence of byte strings.
	List
	// Nil is a top-level or response-code item whose bytes are NIL,
	// treated as an empty list. Quoting is already erased at this
	// point, so a quoted "NIL" becomes Nil too; NIL inside a
	// parenthesized list stays a plain list item.
	Nil
)

// Part is one element of a Message's content or response-code sequence.
type Part struct {
	Kind PartKind
	Str  []byte
	List [][]byte
}

// NewStringPart builds a String part, translating the bytes NIL (however
// they were quoted on the wire) into a Nil part per historical IMAP
// semantics.
func NewStringPart(b []byte) Part {
	if bytes.Equal(b, []byte("NIL")) {
		return Part{Kind: Nil}
	}
	return Part{Kind: String, Str: b}
}

// NewListPart builds a List part from the accumulated byte strings.
func NewListPart(items [][]byte) Part {
	return Part{Kind: List, List: items}
}

// IsNil reports whether the part is the NIL marker.
func (p Part) IsNil() bool { return p.Kind == Nil }

// Bytes returns the part's string bytes, or nil if it is not a String part.
func (p Part) Bytes() []byte {
	if p.Kind != String {
		return nil
	}
	return p.Str
}

// Message is a single parsed IMAP response: an untagged ("*"), tagged, or
// continuation ("+") line, possibly spanning literals.
type Message struct {
	// Content holds the top-level atoms/strings/lists, including, for
	// tagged and untagged responses, the leading tag and status word.
	Content []Part
	// ResponseCode holds items found between '[' and ']' after the
	// status word (e.g. PERMANENTFLAGS, COPYUID, NONEXISTENT).
	ResponseCode []Part
}

// Tag returns the first content part as a string, i.e. the response tag
// ("*", "+", or an allocated tag like "A000001"). Returns "" if empty.
func (m *Message) Tag() string {
	if len(m.Content) == 0 {
		return ""
	}
	return string(m.Content[0].Bytes())
}

// StatusWord returns the second content part, conventionally the status
// (OK, NO, BAD, PREAUTH, BYE) or the untagged keyword (EXISTS, FETCH, ...).
func (m *Message) StatusWord() string {
	if len(m.Content) < 2 {
		return ""
	}
	return string(m.Content[1].Bytes())
}

// ResponseCodeName returns the first response-code item (e.g.
// "PERMANENTFLAGS", "NONEXISTENT"), or "" if there is no response code.
func (m *Message) ResponseCodeName() string {
	if len(m.ResponseCode) == 0 {
		return ""
	}
	return string(m.ResponseCode[0].Bytes())
}

// String renders the message content, space-joined, for logging and for
// the "concatenate the final OK line" rule in the login flow.
func (m *Message) String() string {
	var buf bytes.Buffer
	writeParts(&buf, m.Content)
	return buf.String()
}

func writeParts(buf *bytes.Buffer, parts []Part) {
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(' ')
		}
		switch p.Kind {
		case Nil:
			buf.WriteString("NIL")
		case List:
			buf.WriteByte('(')
			for j, item := range p.List {
				if j > 0 {
					buf.WriteByte(' ')
				}
				buf.Write(item)
			}
			buf.WriteByte(')')
		default:
			buf.Write(p.Str)
		}
	}
}
