package stream

import (
	"io"
	"os"

	"github.com/distrfoundry/sbox/internal/sboxerr"
)

// FileReader is the innermost readable layer: a thin adapter over an OS
// file descriptor.
type FileReader struct {
	f      *os.File
	path   string
	closed bool
}

func NewFileReader(f *os.File, path string) *FileReader {
	return &FileReader{f: f, path: path}
}

func (r *FileReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && err != io.EOF {
		return n, &sboxerr.IOError{Path: r.path, Err: err}
	}
	return n, err
}

func (r *FileReader) ReadExact(p []byte) error { return readExact(r.Read, p) }

func (r *FileReader) ReadAtMost(p []byte) (int, error) { return readAtMost(r.Read, p) }

// Verify is a no-op: FileStream carries no integrity data of its own.
func (r *FileReader) Verify() error { return nil }

func (r *FileReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.f.Close(); err != nil {
		return &sboxerr.IOError{Path: r.path, Err: err}
	}
	return nil
}

// Seek repositions the underlying file. No layer in this package calls it:
// CryptoReader finds the final block by holding the last decrypted block
// back, not by seeking.
func (r *FileReader) Seek(offset int64, whence int) (int64, error) {
	return r.f.Seek(offset, whence)
}

// FileWriter is the innermost writable layer.
type FileWriter struct {
	f      *os.File
	path   string
	closed bool
}

func NewFileWriter(f *os.File, path string) *FileWriter {
	return &FileWriter{f: f, path: path}
}

func (w *FileWriter) WriteAll(p []byte) error {
	if _, err := w.f.Write(p); err != nil {
		return &sboxerr.IOError{Path: w.path, Err: err}
	}
	return nil
}

// Flush fsyncs the file descriptor only; sbox never issues a
// filesystem-wide sync.
func (w *FileWriter) Flush() error {
	if err := w.f.Sync(); err != nil {
		return &sboxerr.IOError{Path: w.path, Err: err}
	}
	return nil
}

func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		return &sboxerr.IOError{Path: w.path, Err: err}
	}
	return nil
}

func (w *FileWriter) Seek(offset int64, whence int) (int64, error) {
	return w.f.Seek(offset, whence)
}

var (
	_ SeekWriter = (*FileWriter)(nil)
)
