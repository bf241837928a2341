package archive

import (
	"io"

	"github.com/distrfoundry/sbox/internal/filenet"
	"github.com/distrfoundry/sbox/internal/fsiface"
	"github.com/distrfoundry/sbox/internal/oninterrupt"
	"github.com/distrfoundry/sbox/internal/sboxerr"
	"github.com/distrfoundry/sbox/internal/stream"
)

// Pack scans paths into a FileNet tree, writes the tree followed by every
// file body to archivePath, and aborts if any scanned entry's mtime has
// changed by the time its body is read; the check applies to directories
// as well as regular files.
func Pack(fs fsiface.FS, archivePath string, paths []string, opts Options) (err error) {
	w, err := openOutputStack(fs, archivePath, opts)
	if err != nil {
		return err
	}
	oninterrupt.Register(func() { w.Close() })
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	root, err := filenet.Scan(fs, paths)
	if err != nil {
		return err
	}

	if err := filenet.Encode(root, w); err != nil {
		return err
	}

	err = filenet.Iterate(root, func(n *filenet.Node, path string) (filenet.VisitResult, error) {
		if n.IsDir() {
			info, statErr := fs.Stat(path)
			if statErr != nil {
				return filenet.Abort, &sboxerr.IOError{Path: path, Err: statErr}
			}
			if info.ModTime().Unix() != n.Mtime {
				return filenet.Abort, &sboxerr.ChangedError{Path: path}
			}
			opts.report('a', path)
			return filenet.Continue, nil
		}

		f, openErr := fs.Open(path)
		if openErr != nil {
			return filenet.Abort, &sboxerr.IOError{Path: path, Err: openErr}
		}
		defer f.Close()

		info, statErr := f.Stat()
		if statErr != nil {
			return filenet.Abort, &sboxerr.IOError{Path: path, Err: statErr}
		}
		if info.ModTime().Unix() != n.Mtime {
			return filenet.Abort, &sboxerr.ChangedError{Path: path}
		}

		sum, copyErr := copyBody(w, f, int64(n.Size))
		if copyErr != nil {
			return filenet.Abort, copyErr
		}
		if uint32(sum) != n.Size {
			return filenet.Abort, &sboxerr.ChangedError{Path: path}
		}
		opts.report('a', path)
		return filenet.Continue, nil
	})
	if err != nil {
		return err
	}

	return w.Flush()
}

// copyBody streams up to want bytes from r into w, stopping early (without
// error) at a clean EOF so a file that shrank underneath us is caught by
// the caller's size comparison rather than by a read error.
func copyBody(w stream.Writer, r io.Reader, want int64) (int64, error) {
	buf := make([]byte, stream.DefaultBufferSize)
	var sum int64
	for sum < want {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := w.WriteAll(buf[:n]); werr != nil {
				return sum, werr
			}
			sum += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return sum, &sboxerr.IOError{Err: err}
		}
	}
	return sum, nil
}
