package stream

import (
	"bytes"
	"io"
	"testing"
)

type bufWriter struct{ buf bytes.Buffer }

func (w *bufWriter) WriteAll(p []byte) error { _, err := w.buf.Write(p); return err }
func (w *bufWriter) Flush() error            { return nil }
func (w *bufWriter) Close() error            { return nil }

func TestLz4RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		plain []byte
		level int
	}{
		{"empty", nil, 0},
		{"small", []byte("hello, lz4"), 0},
		{"repetitive", bytes.Repeat([]byte("abcdefgh"), 100000), 9},
		{"level1", bytes.Repeat([]byte("xyz"), 1000), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &bufWriter{}
			w := NewLz4Writer(sink, tc.level)
			if err := w.WriteAll(tc.plain); err != nil {
				t.Fatalf("WriteAll: %v", err)
			}
			if err := w.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			r := NewLz4Reader(newMemReader(sink.buf.Bytes()))
			got, err := io.ReadAll(readerFunc(r.Read))
			if err != nil {
				t.Fatalf("reading decompressed data: %v", err)
			}
			if !bytes.Equal(got, tc.plain) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(tc.plain))
			}
		})
	}
}
