package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// DefaultMaxFrameSize bounds the body of a single frame.
const DefaultMaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame body exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("frame exceeds maximum frame size")

// Write length-prefixes and writes out a single frame in one call to w.
func Write(w io.Writer, f *Frame, max uint32) error {
	body := f.Marshal()

	if max == 0 {
		max = DefaultMaxFrameSize
	}

	if uint64(len(body)) > uint64(max) {
		return errors.Wrapf(ErrFrameTooLarge, "frame of %d bytes, limit %d bytes", len(body), max)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(body)))

	buf.B = append(buf.B, length[:]...)
	buf.B = append(buf.B, body...)

	n, err := w.Write(buf.B)
	if err != nil {
		return err
	}

	if n != buf.Len() {
		return errors.Wrap(io.ErrShortWrite, "did not write out the entire frame")
	}

	return nil
}

// Read reads a single frame off of r. It returns io.EOF only when r ends cleanly at a frame boundary.
func Read(r io.Reader, max uint32) (*Frame, error) {
	if max == 0 {
		max = DefaultMaxFrameSize
	}

	var length [4]byte

	if _, err := io.ReadFull(r, length[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(err, "stream ended within a frame header")
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(length[:])

	if size > max {
		return nil, errors.Wrapf(ErrFrameTooLarge, "frame of %d bytes, limit %d bytes", size, max)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if cap(buf.B) < int(size) {
		buf.B = make([]byte, size)
	}
	buf.B = buf.B[:size]

	if _, err := io.ReadFull(r, buf.B); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "could not read expected amount of bytes from network")
	}

	return Unmarshal(buf.B)
}
