package archive

import (
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/distrfoundry/sbox/internal/filenet"
	"github.com/distrfoundry/sbox/internal/fsiface"
	"github.com/distrfoundry/sbox/internal/oninterrupt"
	"github.com/distrfoundry/sbox/internal/sboxerr"
	"github.com/distrfoundry/sbox/internal/stream"
)

// Unpack reads the FileNet tree from archivePath and, depending on mode,
// lists it, reads every body to check sizes without touching disk, or
// extracts it beneath destDir. The wrapped stream's Verify (HMAC check) is
// skipped in ModeList, since list never reads the bodies its HMAC covers.
func Unpack(fs fsiface.FS, archivePath, destDir string, mode Mode, opts Options) (err error) {
	r, err := openInputStack(fs, archivePath, opts)
	if err != nil {
		return err
	}
	oninterrupt.Register(func() { r.Close() })
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	root, err := filenet.Decode(r)
	if err != nil {
		return err
	}

	err = filenet.Iterate(root, func(n *filenet.Node, relPath string) (filenet.VisitResult, error) {
		path := relPath
		if destDir != "" {
			path = destDir + "/" + relPath
		}

		switch mode {
		case ModeList:
			opts.report('l', relPath)
			return filenet.Continue, nil

		case ModeTest:
			if !n.IsDir() {
				if err := discardBody(r, int64(n.Size)); err != nil {
					return filenet.Abort, err
				}
			}
			opts.report('t', relPath)
			return filenet.Continue, nil

		case ModeExtract:
			if n.IsDir() {
				if err := mkdirIfAbsent(fs, path, os.FileMode(n.Mode&0777)); err != nil {
					return filenet.Abort, err
				}
				opts.report('x', relPath)
				return filenet.Continue, nil
			}
			if err := extractFile(path, n, r); err != nil {
				return filenet.Abort, err
			}
			opts.report('x', relPath)
			return filenet.Continue, nil
		}
		return filenet.Continue, nil
	})
	if err != nil {
		return err
	}

	if mode != ModeList {
		if verr := r.Verify(); verr != nil {
			return verr
		}
	}
	return nil
}

// mkdirIfAbsent tolerates a destination that is already a directory
// (matching the original tool's extract behavior) but rejects one that
// exists as something else.
func mkdirIfAbsent(fs fsiface.FS, path string, mode os.FileMode) error {
	info, err := fs.Stat(path)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return &sboxerr.IOError{Path: path, Err: xerrors.New("exists and is not a directory")}
	}
	return fs.Mkdir(path, mode)
}

// extractFile writes the body to a temp file alongside path and renames it
// into place atomically, so a killed extract never leaves a half-written
// file where a complete one previously stood.
func extractFile(path string, n *filenet.Node, r stream.Reader) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return &sboxerr.IOError{Path: path, Err: err}
	}
	defer t.Cleanup()

	if err := t.Chmod(os.FileMode(n.Mode & 0777)); err != nil {
		return &sboxerr.IOError{Path: path, Err: err}
	}

	if n.Size > 0 {
		if err := copyInto(t, r, int64(n.Size)); err != nil {
			return err
		}
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return &sboxerr.IOError{Path: path, Err: err}
	}
	return nil
}

func copyInto(w *renameio.PendingFile, r stream.Reader, want int64) error {
	buf := make([]byte, stream.DefaultBufferSize)
	var sum int64
	for sum < want {
		chunk := int64(len(buf))
		if want-sum < chunk {
			chunk = want - sum
		}
		if err := r.ReadExact(buf[:chunk]); err != nil {
			return err
		}
		if _, err := w.Write(buf[:chunk]); err != nil {
			return &sboxerr.IOError{Err: err}
		}
		sum += chunk
	}
	return nil
}

func discardBody(r stream.Reader, want int64) error {
	buf := make([]byte, stream.DefaultBufferSize)
	var sum int64
	for sum < want {
		chunk := int64(len(buf))
		if want-sum < chunk {
			chunk = want - sum
		}
		if err := r.ReadExact(buf[:chunk]); err != nil {
			return err
		}
		sum += chunk
	}
	return nil
}
