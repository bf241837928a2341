package stream

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/distrfoundry/sbox/internal/sboxerr"
)

const (
	saltLen       = 32
	hmacLen       = 32
	ivLen         = 16
	keyLen        = 32
	kdfIterations = 50000
	cryptoChunk   = DefaultBufferSize
)

func deriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, kdfIterations, keyLen, sha256.New)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// CryptoWriter is AES-256-CBC encryption with a trailing HMAC-SHA256 over
// the plaintext, keyed by PBKDF2-HMAC-SHA256 over a random salt. It needs
// random access on the stream beneath it so it can return to offset 0 and
// fill in the salt/HMAC header once the tag is known.
type CryptoWriter struct {
	inner      SeekWriter
	password   []byte
	salt       [saltLen]byte
	iv         [ivLen]byte
	enc        cipher.BlockMode
	mac        hash.Hash
	unconsumed []byte
	flushed    bool
	closed     bool
}

// NewCryptoWriter writes the placeholder header (zeroed salt+HMAC, then a
// fresh IV) and derives the session key, ready to accept plaintext.
func NewCryptoWriter(inner SeekWriter, password []byte) (*CryptoWriter, error) {
	w := &CryptoWriter{inner: inner, password: append([]byte(nil), password...)}

	var placeholder [saltLen + hmacLen]byte
	if err := inner.WriteAll(placeholder[:]); err != nil {
		return nil, err
	}

	if _, err := rand.Read(w.salt[:]); err != nil {
		return nil, &sboxerr.CryptoError{Reason: "generating salt", Err: err}
	}
	// The high nibble of salt[0] is reserved for the residual-block length
	// recorded at Flush; only the low nibble (plus the other 31 bytes)
	// contributes entropy to the key derivation.
	w.salt[0] &= 0x0f

	if _, err := rand.Read(w.iv[:]); err != nil {
		return nil, &sboxerr.CryptoError{Reason: "generating iv", Err: err}
	}
	if err := inner.WriteAll(w.iv[:]); err != nil {
		return nil, err
	}

	key := deriveKey(w.password, w.salt[:])
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &sboxerr.CryptoError{Reason: "initializing cipher", Err: err}
	}
	w.enc = cipher.NewCBCEncrypter(block, w.iv[:])
	w.mac = hmac.New(sha256.New, key)
	w.unconsumed = make([]byte, 0, aes.BlockSize)
	return w, nil
}

func (w *CryptoWriter) WriteAll(p []byte) error {
	if w.flushed || w.closed {
		return &sboxerr.CryptoError{Reason: "write after flush"}
	}
	w.mac.Write(p)
	w.unconsumed = append(w.unconsumed, p...)

	n := len(w.unconsumed) - len(w.unconsumed)%aes.BlockSize
	if n == 0 {
		return nil
	}
	encrypted := make([]byte, n)
	w.enc.CryptBlocks(encrypted, w.unconsumed[:n])
	if err := w.inner.WriteAll(encrypted); err != nil {
		return err
	}
	remaining := copy(w.unconsumed, w.unconsumed[n:])
	w.unconsumed = w.unconsumed[:remaining]
	return nil
}

// Flush zero-pads and encrypts the residual plaintext block (emitted even
// when empty, so the archive always ends on a whole AES block), records
// its length in the salt's high nibble, rewrites the header in place, and
// fsyncs the wrapped stream.
func (w *CryptoWriter) Flush() error {
	if w.flushed {
		return nil
	}
	u := len(w.unconsumed)
	var block [16]byte
	copy(block[:], w.unconsumed)
	var encrypted [16]byte
	w.enc.CryptBlocks(encrypted[:], block[:])
	if err := w.inner.WriteAll(encrypted[:]); err != nil {
		return err
	}
	w.unconsumed = w.unconsumed[:0]

	w.salt[0] = byte(u<<4) | (w.salt[0] & 0x0f)
	tag := w.mac.Sum(nil)

	if _, err := w.inner.Seek(0, io.SeekStart); err != nil {
		return &sboxerr.IOError{Err: err}
	}
	header := make([]byte, 0, saltLen+hmacLen)
	header = append(header, w.salt[:]...)
	header = append(header, tag...)
	if err := w.inner.WriteAll(header); err != nil {
		return err
	}
	if err := w.inner.Flush(); err != nil {
		return err
	}
	w.flushed = true
	return nil
}

func (w *CryptoWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	zero(w.password)
	zero(w.unconsumed)
	zero(w.salt[:])
	zero(w.iv[:])
	return w.inner.Close()
}

// CryptoReader reverses CryptoWriter: it reads the salt/HMAC/IV header at
// construction, decrypts in 64 KiB batches while holding back the most
// recently decrypted AES block until another block (or EOF) confirms
// whether it is the residual block, and verifies the HMAC once the caller
// has consumed the full plaintext.
type CryptoReader struct {
	inner     Reader
	password  []byte
	salt      [saltLen]byte
	tag       [hmacLen]byte
	iv        [ivLen]byte
	unaligned int
	dec       cipher.BlockMode
	mac       hash.Hash
	held      []byte
	plain     []byte
	eof       bool
	closed    bool
}

func NewCryptoReader(inner Reader, password []byte) (*CryptoReader, error) {
	r := &CryptoReader{inner: inner, password: append([]byte(nil), password...)}

	if err := inner.ReadExact(r.salt[:]); err != nil {
		return nil, err
	}
	if err := inner.ReadExact(r.tag[:]); err != nil {
		return nil, err
	}
	if err := inner.ReadExact(r.iv[:]); err != nil {
		return nil, err
	}

	r.unaligned = int(r.salt[0] >> 4)
	r.salt[0] &= 0x0f

	key := deriveKey(r.password, r.salt[:])
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &sboxerr.CryptoError{Reason: "initializing cipher", Err: err}
	}
	r.dec = cipher.NewCBCDecrypter(block, r.iv[:])
	r.mac = hmac.New(sha256.New, key)
	return r, nil
}

func (r *CryptoReader) release(b []byte) {
	if len(b) == 0 {
		return
	}
	r.mac.Write(b)
	r.plain = append(r.plain, b...)
}

func (r *CryptoReader) fill() error {
	if r.eof {
		return nil
	}
	chunk := make([]byte, cryptoChunk)
	n, err := r.inner.ReadAtMost(chunk)
	if err != nil {
		return err
	}
	if n%aes.BlockSize != 0 {
		return &sboxerr.UnexpectedEOFError{Wanted: aes.BlockSize, Got: n % aes.BlockSize}
	}
	if n == 0 {
		r.eof = true
		if r.held != nil {
			trim := aes.BlockSize - r.unaligned
			if trim > len(r.held) {
				return &sboxerr.UnexpectedEOFError{Wanted: trim, Got: len(r.held)}
			}
			r.release(r.held[:len(r.held)-trim])
			r.held = nil
		}
		return nil
	}
	dec := make([]byte, n)
	r.dec.CryptBlocks(dec, chunk[:n])
	if r.held != nil {
		r.release(r.held)
	}
	r.held = dec[n-aes.BlockSize:]
	if n > aes.BlockSize {
		r.release(dec[:n-aes.BlockSize])
	}
	return nil
}

func (r *CryptoReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *CryptoReader) ReadExact(p []byte) error { return readExact(r.Read, p) }

func (r *CryptoReader) ReadAtMost(p []byte) (int, error) { return readAtMost(r.Read, p) }

// Verify compares the accumulated HMAC against the tag read from the
// header. It must only be called after the stream has been drained to
// EOF; callers that stop early (LIST mode) must not call it.
func (r *CryptoReader) Verify() error {
	if !r.eof {
		return &sboxerr.IntegrityError{Reason: "stream not fully consumed"}
	}
	sum := r.mac.Sum(nil)
	if subtle.ConstantTimeCompare(sum, r.tag[:]) != 1 {
		return &sboxerr.IntegrityError{}
	}
	return nil
}

func (r *CryptoReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	zero(r.password)
	zero(r.salt[:])
	zero(r.iv[:])
	zero(r.plain)
	if r.held != nil {
		zero(r.held)
	}
	return r.inner.Close()
}
