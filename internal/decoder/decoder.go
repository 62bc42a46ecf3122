// Package decoder turns a stream of raw terminal bytes into UTF-8 text.
//
// A multi-byte character split across reads is held back until its
// remaining bytes arrive. Bytes that can never form a valid character are
// replaced with utf8.RuneError as soon as they are seen, one marker per
// contiguous invalid run, so the emitted text does not depend on how the
// input was chunked.
package decoder

import (
	"strings"
	"unicode/utf8"
)

// Replacement is the marker emitted for invalid input.
const Replacement = string(utf8.RuneError)

// maxPending is the longest possible incomplete encoding.
const maxPending = utf8.UTFMax - 1

// Decoder is an incremental UTF-8 decoder. It is not safe for concurrent use.
type Decoder struct {
	pending [maxPending]byte
	n       int

	// inInvalidRun is set once a marker has been emitted for the current
	// run of invalid bytes and cleared by the next valid rune.
	inInvalidRun bool
}

// New returns an empty decoder.
func New() *Decoder {
	return &Decoder{}
}

// Pending returns the number of buffered bytes awaiting completion.
func (d *Decoder) Pending() int {
	return d.n
}

// Feed decodes p, prefixed by any bytes held back from the previous call.
func (d *Decoder) Feed(p []byte) string {
	if len(p) == 0 {
		return ""
	}

	buf := p
	if d.n > 0 {
		buf = make([]byte, 0, d.n+len(p))
		buf = append(buf, d.pending[:d.n]...)
		buf = append(buf, p...)
		d.n = 0
	}

	var sb strings.Builder
	sb.Grow(len(buf))

	i := 0
	for i < len(buf) {
		c := buf[i]
		if c < utf8.RuneSelf {
			sb.WriteByte(c)
			d.inInvalidRun = false
			i++
			continue
		}

		r, size := utf8.DecodeRune(buf[i:])
		if r != utf8.RuneError || size > 1 {
			sb.WriteString(string(buf[i : i+size]))
			d.inInvalidRun = false
			i += size
			continue
		}

		if !utf8.FullRune(buf[i:]) {
			// Plausible prefix of a longer encoding; wait for more bytes.
			d.n = copy(d.pending[:], buf[i:])
			break
		}

		d.invalid(&sb)
		i++
	}

	return sb.String()
}

// Flush ends the stream. Bytes still held back can no longer complete a
// character, so they are reported as invalid. The decoder is reset.
func (d *Decoder) Flush() string {
	var sb strings.Builder
	if d.n > 0 {
		d.invalid(&sb)
		d.n = 0
	}
	d.inInvalidRun = false
	return sb.String()
}

func (d *Decoder) invalid(sb *strings.Builder) {
	if !d.inInvalidRun {
		sb.WriteString(Replacement)
		d.inInvalidRun = true
	}
}

// DecodeAll decodes a complete byte stream in one call.
func DecodeAll(p []byte) string {
	d := New()
	return d.Feed(p) + d.Flush()
}
