package wire

import "fmt"

// DefaultBufferSize is the working buffer capacity, a 16 KiB default.
const DefaultBufferSize = 16 * 1024

// ByteBuffer is the double-buffered ring the parser reads from. One of
// two equally sized byte arrays is active at a time; the socket appends
// to active[writePos:], the parser scans active[0:writePos], advancing
// readPos as it commits classified tokens. When the active buffer's
// write side is full and unread bytes remain, Compact copies the unread
// tail into the other buffer and swaps which is active, rebasing any
// positional markers the caller still needs (e.g. the start of an
// in-progress atom) so a partially-scanned token survives the swap.
//
// All positions this type exchanges with callers are absolute offsets
// into the currently active array, matching the indexing style of the
// byte-driven parser built on top of it.
type ByteBuffer struct {
	data     [2][]byte
	active   int // 0 or 1, indexes data
	readPos  int
	writePos int
	size     int
}

// NewByteBuffer allocates a ByteBuffer with the given capacity per side.
func NewByteBuffer(size int) *ByteBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &ByteBuffer{
		data: [2][]byte{make([]byte, size), make([]byte, size)},
		size: size,
	}
}

// Cap returns the per-side capacity.
func (b *ByteBuffer) Cap() int { return b.size }

// Byte returns the byte at absolute position pos in the active array.
func (b *ByteBuffer) Byte(pos int) byte { return b.data[b.active][pos] }

// Sub returns the byte range [lo:hi) of the active array.
func (b *ByteBuffer) Sub(lo, hi int) []byte { return b.data[b.active][lo:hi] }

// ReadPos is the position up to which classified tokens have been
// committed; WritePos is the position up to which valid data has been
// written by the socket.
func (b *ByteBuffer) ReadPos() int  { return b.readPos }
func (b *ByteBuffer) WritePos() int { return b.writePos }

// Advance commits the read cursor forward to pos.
func (b *ByteBuffer) Advance(pos int) { b.readPos = pos }

// Writable returns the region the socket may write fresh bytes into.
// Empty when the buffer is full; the caller must Compact first.
func (b *ByteBuffer) Writable() []byte {
	return b.data[b.active][b.writePos:]
}

// MarkWritten records that n bytes were written into Writable().
func (b *ByteBuffer) MarkWritten(n int) { b.writePos += n }

// Full reports whether the active buffer's write side has no room left.
func (b *ByteBuffer) Full() bool {
	return b.writePos >= b.size
}

// Compact copies the unread tail [keepFrom:writePos) to the start of the
// other buffer and makes it active, rebasing readPos/writePos to 0-based
// and adjusting any marker positions in markers by the same offset.
// keepFrom is normally the start of the earliest in-progress token (so it
// survives the swap intact); pass writePos itself when nothing is
// in-progress.
//
// Returns an error if the unread tail still fills the whole buffer after
// compaction — a single non-literal token longer than the buffer, which
// the caller must treat as a protocol error.
func (b *ByteBuffer) Compact(keepFrom int, markers []*int) error {
	other := 1 - b.active
	remainder := b.writePos - keepFrom
	if remainder < 0 {
		return fmt.Errorf("wire: compaction offset %d past write position %d", keepFrom, b.writePos)
	}
	if remainder >= b.size {
		return fmt.Errorf("wire: token exceeds buffer capacity of %d bytes", b.size)
	}
	if remainder > 0 {
		copy(b.data[other][:remainder], b.data[b.active][keepFrom:b.writePos])
	}
	for _, m := range markers {
		if m != nil {
			*m -= keepFrom
		}
	}
	b.readPos -= keepFrom
	if b.readPos < 0 {
		b.readPos = 0
	}
	b.writePos = remainder
	b.active = other
	return nil
}
