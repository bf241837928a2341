// Package stream implements the layered ByteStream abstraction sbox builds
// its archive codec on: a small Reader/Writer capability pair that
// FileStream, CryptoStream, Lz4Stream and BufferStream each implement and
// compose by wrapping one another, instead of through inheritance.
package stream

import (
	"io"

	"github.com/distrfoundry/sbox/internal/sboxerr"
)

// Reader is a readable layer in the stream stack.
type Reader interface {
	// Read behaves like io.Reader.
	Read(p []byte) (int, error)
	// ReadExact fills p completely or returns an UnexpectedEOFError.
	ReadExact(p []byte) error
	// ReadAtMost reads up to len(p) bytes, short only at end of stream.
	ReadAtMost(p []byte) (int, error)
	// Verify checks any trailing integrity data (HMAC tag, etc.) once the
	// stream has been read to completion. Layers without integrity data
	// delegate to the wrapped stream.
	Verify() error
	Close() error
}

// Writer is a writable layer in the stream stack.
type Writer interface {
	// WriteAll writes p in full or returns an error.
	WriteAll(p []byte) error
	// Flush finalizes any layer-specific trailer (compression frame end,
	// HMAC tag, fsync) and propagates to the wrapped stream.
	Flush() error
	Close() error
}

// Seeker is implemented by a stream whose underlying storage supports
// random access. CryptoWriter requires its wrapped stream to implement
// this so it can return to offset 0 and rewrite the salt/HMAC header once
// the HMAC is known, at Flush time.
type Seeker interface {
	Seek(offset int64, whence int) (int64, error)
}

// SeekWriter is the capability CryptoWriter needs from the stream beneath
// it: ordinary Writer behavior plus random access.
type SeekWriter interface {
	Writer
	Seeker
}

// readExact loops read until p is full, translating a clean EOF that
// leaves p partially filled into sboxerr.UnexpectedEOFError.
func readExact(read func([]byte) (int, error), p []byte) error {
	total := 0
	for total < len(p) {
		n, err := read(p[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if n == 0 {
			break
		}
	}
	if total < len(p) {
		return &sboxerr.UnexpectedEOFError{Wanted: len(p), Got: total}
	}
	return nil
}

// readAtMost loops read until p is full or the stream is exhausted,
// returning a clean (possibly short) read with no error at EOF.
func readAtMost(read func([]byte) (int, error), p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := read(p[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}
