package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/distrfoundry/sbox/internal/fsiface"
)

func writeTree(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello, sbox"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "nested.bin"), bytes.Repeat([]byte{1, 2, 3}, 1000), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "empty"), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		opts     Options
	}{
		{"plain", Options{}},
		{"compressed", Options{Compress: true, Level: 6}},
		{"encrypted", Options{Password: []byte("hunter2")}},
		{"encrypted+compressed", Options{Compress: true, Level: 9, Password: []byte("hunter2")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := t.TempDir()
			writeTree(t, filepath.Join(src, "payload"))

			archivePath := filepath.Join(t.TempDir(), "out.sbox")
			fs := fsiface.OS{}

			if err := Pack(fs, archivePath, []string{filepath.Join(src, "payload")}, tc.opts); err != nil {
				t.Fatalf("Pack: %v", err)
			}

			dest := t.TempDir()
			if err := Unpack(fs, archivePath, dest, ModeExtract, tc.opts); err != nil {
				t.Fatalf("Unpack: %v", err)
			}

			got, err := os.ReadFile(filepath.Join(dest, "payload", "hello.txt"))
			if err != nil {
				t.Fatalf("reading extracted file: %v", err)
			}
			if string(got) != "hello, sbox" {
				t.Fatalf("got %q", got)
			}
			info, err := os.Stat(filepath.Join(dest, "payload", "empty"))
			if err != nil || !info.IsDir() {
				t.Fatalf("expected extracted empty directory: %v", err)
			}

			if err := Unpack(fs, archivePath, "", ModeTest, tc.opts); err != nil {
				t.Fatalf("Unpack(ModeTest): %v", err)
			}

			var listed []string
			listOpts := tc.opts
			listOpts.Progress = func(action byte, path string) { listed = append(listed, path) }
			if err := Unpack(fs, archivePath, "", ModeList, listOpts); err != nil {
				t.Fatalf("Unpack(ModeList): %v", err)
			}
			if len(listed) == 0 {
				t.Fatal("expected at least one listed entry")
			}
		})
	}
}

func TestUnpackWrongPasswordFails(t *testing.T) {
	src := t.TempDir()
	writeTree(t, filepath.Join(src, "payload"))
	archivePath := filepath.Join(t.TempDir(), "out.sbox")
	fs := fsiface.OS{}

	if err := Pack(fs, archivePath, []string{filepath.Join(src, "payload")}, Options{Password: []byte("right")}); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	err := Unpack(fs, archivePath, t.TempDir(), ModeExtract, Options{Password: []byte("wrong")})
	if err == nil {
		t.Fatal("expected an error unpacking with the wrong password")
	}
}

func TestUnpackTamperedEncryptedArchiveFails(t *testing.T) {
	src := t.TempDir()
	writeTree(t, filepath.Join(src, "payload"))
	archivePath := filepath.Join(t.TempDir(), "out.sbox")
	fs := fsiface.OS{}

	if err := Pack(fs, archivePath, []string{filepath.Join(src, "payload")}, Options{Password: []byte("hunter2")}); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	raw, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a bit in the first ciphertext byte, right after the 80-byte
	// salt/HMAC/IV header. This garbles the decrypted magic, so the failure
	// surfaces as a format error before the HMAC is ever checked.
	raw[80] ^= 0x01
	if err := os.WriteFile(archivePath, raw, 0644); err != nil {
		t.Fatal(err)
	}

	err = Unpack(fs, archivePath, t.TempDir(), ModeExtract, Options{Password: []byte("hunter2")})
	if err == nil {
		t.Fatal("expected tampered archive to fail to unpack")
	}
}

func TestUnpackTruncatedEncryptedArchiveFails(t *testing.T) {
	src := t.TempDir()
	writeTree(t, filepath.Join(src, "payload"))
	archivePath := filepath.Join(t.TempDir(), "out.sbox")
	fs := fsiface.OS{}

	if err := Pack(fs, archivePath, []string{filepath.Join(src, "payload")}, Options{Password: []byte("hunter2")}); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	raw, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) <= 81 {
		t.Fatalf("archive too small to truncate meaningfully: %d bytes", len(raw))
	}
	if err := os.WriteFile(archivePath, raw[:len(raw)-1], 0644); err != nil {
		t.Fatal(err)
	}

	if err := Unpack(fs, archivePath, t.TempDir(), ModeExtract, Options{Password: []byte("hunter2")}); err == nil {
		t.Fatal("expected truncated archive to fail, never silently succeed")
	}
}

func TestUnpackRejectsBadMagic(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "not-an-archive.sbox")
	if err := os.WriteFile(archivePath, []byte("not an sbox archive at all"), 0644); err != nil {
		t.Fatal(err)
	}
	fs := fsiface.OS{}
	if err := Unpack(fs, archivePath, t.TempDir(), ModeExtract, Options{}); err == nil {
		t.Fatal("expected bad magic to be rejected")
	}
}

// touchedAfterScanFS wraps fsiface.OS and reports a newer mtime than the
// one on disk for a single chosen path, the second time it is stat'd
// (scan calls it once while building the tree; pack calls it again when
// it re-checks a directory's mtime, which is the only re-check that goes
// through FS.Stat).
type touchedAfterScanFS struct {
	fsiface.OS
	path  string
	calls int
}

func (f *touchedAfterScanFS) Stat(path string) (os.FileInfo, error) {
	info, err := f.OS.Stat(path)
	if err != nil || path != f.path {
		return info, err
	}
	f.calls++
	if f.calls >= 2 {
		return fakeFileInfo{FileInfo: info, mtime: info.ModTime().Add(time.Hour)}, nil
	}
	return info, nil
}

type fakeFileInfo struct {
	os.FileInfo
	mtime time.Time
}

func (f fakeFileInfo) ModTime() time.Time { return f.mtime }

func TestPackAbortsOnChangedDirectory(t *testing.T) {
	src := t.TempDir()
	payload := filepath.Join(src, "payload")
	writeTree(t, payload)

	// Directory mtimes are re-checked via fsiface.FS.Stat (unlike file
	// bodies, which re-stat the already-open *os.File directly), so that
	// is the path this fake can intercept.
	fs := &touchedAfterScanFS{path: filepath.Join(payload, "sub")}
	archivePath := filepath.Join(t.TempDir(), "out.sbox")

	err := Pack(fs, archivePath, []string{payload}, Options{})
	if err == nil {
		t.Fatal("expected Pack to abort on a directory that changed after scanning")
	}
}

// TestPackMatchesWireFormatExample reproduces the plain, uncompressed,
// single-file archive byte-for-byte against the worked example: magic,
// comp=0, opcode 'f' (no sibling), mode 0644, size 5, name "a.txt\0", body
// "hello".
func TestPackMatchesWireFormatExample(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(t.TempDir(), "out.sbox")
	fs := fsiface.OS{}
	if err := Pack(fs, archivePath, []string{filepath.Join(src, "a.txt")}, Options{}); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x73, 0x62, 0x6f, 0x78, // "sbox"
		0x00,                   // comp = none
		0x66,                   // opcode 'f', no sibling
		0x00, 0x00, 0x01, 0xa4, // mode 0644
		0x00, 0x00, 0x00, 0x05, // size 5
		0x61, 0x2e, 0x74, 0x78, 0x74, 0x00, // "a.txt\0"
		0x68, 0x65, 0x6c, 0x6c, 0x6f, // "hello"
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("archive bytes mismatch:\n got  % x\n want % x", got, want)
	}
}
