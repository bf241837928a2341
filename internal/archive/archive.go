// Package archive is the top-level pack/unpack driver: it assembles the
// stream stack (FileStream, optionally CryptoStream and Lz4Stream, always
// BufferStream on the outside), writes or reads the sbox header, and walks
// the FileNet tree to move file bodies between the filesystem and the
// archive.
package archive

import (
	"github.com/distrfoundry/sbox/internal/fsiface"
	"github.com/distrfoundry/sbox/internal/sboxerr"
	"github.com/distrfoundry/sbox/internal/stream"
)

// magic identifies an sbox archive; it sits inside the encrypted region
// (when encryption is used) so a wrong password produces an integrity or
// format error rather than leaking a plaintext magic to a precomputed
// dictionary attack.
var magic = [4]byte{'s', 'b', 'o', 'x'}

const (
	compNone = 0
	compLz4  = 1
)

// Mode selects what Unpack does with each entry's body.
type Mode int

const (
	ModeList Mode = iota
	ModeTest
	ModeExtract
)

// Options configures both Pack and Unpack.
type Options struct {
	Compress bool
	Level    int // 0-9; meaningful only when Compress is true
	Password []byte

	// Progress, if non-nil, is called once per visited entry with a
	// single-letter action ('a' add, 'x' extract, 't' test, 'l' list) and
	// its path: for 'a' the on-disk path Pack read it from (built on the
	// input path as given), otherwise its archive-relative path.
	Progress func(action byte, path string)
}

func (o Options) report(action byte, path string) {
	if o.Progress != nil {
		o.Progress(action, path)
	}
}

func openOutputStack(fs fsiface.FS, archivePath string, opts Options) (stream.Writer, error) {
	f, err := fs.Create(archivePath, 0644)
	if err != nil {
		return nil, &sboxerr.IOError{Path: archivePath, Err: err}
	}

	var base stream.SeekWriter = stream.NewFileWriter(f, archivePath)

	var pre stream.Writer = base
	if len(opts.Password) > 0 {
		cw, err := stream.NewCryptoWriter(base, opts.Password)
		if err != nil {
			return nil, err
		}
		pre = cw
	}

	comp := byte(compNone)
	if opts.Compress {
		comp = compLz4
	}
	if err := pre.WriteAll(magic[:]); err != nil {
		return nil, err
	}
	if err := pre.WriteAll([]byte{comp}); err != nil {
		return nil, err
	}

	w := pre
	if opts.Compress {
		w = stream.NewLz4Writer(w, opts.Level)
	}
	return stream.NewBufferedWriter(w, stream.DefaultBufferSize), nil
}

func openInputStack(fs fsiface.FS, archivePath string, opts Options) (stream.Reader, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, &sboxerr.IOError{Path: archivePath, Err: err}
	}

	var base stream.Reader = stream.NewFileReader(f, archivePath)

	var pre stream.Reader = base
	if len(opts.Password) > 0 {
		cr, err := stream.NewCryptoReader(base, opts.Password)
		if err != nil {
			return nil, err
		}
		pre = cr
	}

	var header [5]byte
	if err := pre.ReadExact(header[:]); err != nil {
		return nil, err
	}
	if header[0] != magic[0] || header[1] != magic[1] || header[2] != magic[2] || header[3] != magic[3] {
		return nil, &sboxerr.FormatError{Reason: "not an sbox archive, or wrong password"}
	}

	r := pre
	switch header[4] {
	case compNone:
	case compLz4:
		r = stream.NewLz4Reader(r)
	default:
		return nil, &sboxerr.FormatError{Reason: "unknown compression identifier"}
	}

	return stream.NewBufferedReader(r, stream.DefaultBufferSize), nil
}
