package stream

import (
	"io"

	"github.com/klauspost/compress/lz4"

	"github.com/distrfoundry/sbox/internal/sboxerr"
)

const lz4WriteChunk = DefaultBufferSize

// lz4Sink adapts our WriteAll-based Writer to the io.Writer the lz4
// encoder expects.
type lz4Sink struct{ w Writer }

func (s lz4Sink) Write(p []byte) (int, error) {
	if err := s.w.WriteAll(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// lz4Level maps the CLI's 0-9 preset (0/unset = library default, 9 = best)
// onto the library's named levels.
func lz4Level(preset int) lz4.CompressionLevel {
	switch preset {
	case 1:
		return lz4.Level1
	case 2:
		return lz4.Level2
	case 3:
		return lz4.Level3
	case 4:
		return lz4.Level4
	case 5:
		return lz4.Level5
	case 6:
		return lz4.Level6
	case 7:
		return lz4.Level7
	case 8:
		return lz4.Level8
	case 9:
		return lz4.Level9
	default:
		return lz4.Fast
	}
}

// Lz4Writer wraps the wrapped stream in an LZ4 frame: 256 KiB linked
// blocks, no block or content checksums (the outer CryptoStream's HMAC
// already covers integrity; a second checksum layer would be redundant).
// The frame header is emitted lazily on the first WriteAll, or by Flush if
// no data was ever written, so an all-empty archive body still ends on a
// valid (empty) LZ4 frame.
type Lz4Writer struct {
	inner   Writer
	zw      *lz4.Writer
	level   lz4.CompressionLevel
	started bool
	closed  bool
}

func NewLz4Writer(inner Writer, levelPreset int) *Lz4Writer {
	return &Lz4Writer{inner: inner, level: lz4Level(levelPreset)}
}

func (w *Lz4Writer) start() error {
	if w.started {
		return nil
	}
	zw := lz4.NewWriter(lz4Sink{w.inner})
	if err := zw.Apply(
		lz4.BlockSizeOption(lz4.Block256Kb),
		lz4.BlockChecksumOption(false),
		lz4.ChecksumOption(false),
		lz4.CompressionLevelOption(w.level),
	); err != nil {
		return &sboxerr.CompressionError{Reason: "configuring encoder", Err: err}
	}
	w.zw = zw
	w.started = true
	return nil
}

func (w *Lz4Writer) WriteAll(p []byte) error {
	if w.closed {
		return &sboxerr.CompressionError{Reason: "write after close"}
	}
	if err := w.start(); err != nil {
		return err
	}
	for len(p) > 0 {
		n := len(p)
		if n > lz4WriteChunk {
			n = lz4WriteChunk
		}
		if _, err := w.zw.Write(p[:n]); err != nil {
			return &sboxerr.CompressionError{Reason: "compressing", Err: err}
		}
		p = p[n:]
	}
	return nil
}

func (w *Lz4Writer) Flush() error {
	if err := w.start(); err != nil {
		return err
	}
	if err := w.zw.Close(); err != nil {
		return &sboxerr.CompressionError{Reason: "ending frame", Err: err}
	}
	return w.inner.Flush()
}

func (w *Lz4Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.inner.Close()
}

// lz4Source adapts our Read-based Reader to the plain io.Reader the lz4
// decoder expects.
type lz4Source struct{ r Reader }

func (s lz4Source) Read(p []byte) (int, error) { return s.r.Read(p) }

// Lz4Reader decodes the LZ4 frame written by Lz4Writer.
type Lz4Reader struct {
	inner  Reader
	zr     *lz4.Reader
	closed bool
}

func NewLz4Reader(inner Reader) *Lz4Reader {
	return &Lz4Reader{inner: inner, zr: lz4.NewReader(lz4Source{inner})}
}

func (r *Lz4Reader) Read(p []byte) (int, error) {
	n, err := r.zr.Read(p)
	if err != nil && err != io.EOF {
		return n, &sboxerr.CompressionError{Reason: "decompressing", Err: err}
	}
	return n, err
}

func (r *Lz4Reader) ReadExact(p []byte) error { return readExact(r.Read, p) }

func (r *Lz4Reader) ReadAtMost(p []byte) (int, error) { return readAtMost(r.Read, p) }

func (r *Lz4Reader) Verify() error { return r.inner.Verify() }

func (r *Lz4Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.inner.Close()
}
