// Package arena provides the per-call scratch allocator that owns all
// result buffers. Results reference offsets into one append-only tape,
// so a caller holds at most one backing array per call and frees
// everything with a single Reset. The arena is single-owner; concurrent
// use is undefined.
package arena

// Arena is an append-only bump region.
type Arena struct {
	tape []byte
}

// New returns an arena with the given initial capacity.
func New(capacity int) *Arena {
	return &Arena{tape: make([]byte, 0, capacity)}
}

// Reset discards all allocations but keeps the backing array.
func (a *Arena) Reset() { a.tape = a.tape[:0] }

// Len returns the current tape length.
func (a *Arena) Len() int { return len(a.tape) }

// Tape returns the backing tape. Valid until the next Reset.
func (a *Arena) Tape() []byte { return a.tape }

// Append copies b onto the tape and returns its offset.
func (a *Arena) Append(b []byte) uint32 {
	off := uint32(len(a.tape))
	a.tape = append(a.tape, b...)
	return off
}

// AppendByte appends one byte (e.g. a NUL terminator) to the tape.
func (a *Arena) AppendByte(c byte) {
	a.tape = append(a.tape, c)
}

// Slice returns the tape region [off, off+ln).
func (a *Arena) Slice(off, ln uint32) []byte {
	return a.tape[off : off+ln]
}
