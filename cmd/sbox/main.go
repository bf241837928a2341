// Command sbox is a tar-like single-file archiver with LZ4 compression
// (on by default) and optional AES-256-CBC/HMAC-SHA256 encryption.
//
// Usage:
//
//	sbox -c[snb0-9][p] [password|stdin] archive.sbox path...   create an archive
//	sbox -x[snp] [password|stdin] archive.sbox [destdir]       extract an archive
//	sbox -t[snp] [password|stdin] archive.sbox                 test an archive's integrity
//	sbox -l[snp] [password|stdin] archive.sbox                 list an archive's contents
//
// Flags are clustered behind a single leading dash, tar-style:
//
//	c  create       x  extract        l  list          t  test
//	n  no compression (lz4 compression is used by default)
//	b  best compression (level 9)      0-9  explicit compression level
//	p  password mode: reads a password (or "stdin" to prompt) from the
//	   next positional argument, before the archive path
//	s  silent: suppress the per-entry progress line
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/xerrors"

	"github.com/distrfoundry/sbox/internal/archive"
	"github.com/distrfoundry/sbox/internal/fsiface"
)

type parsedFlags struct {
	mode     archive.Mode
	create   bool
	compress bool
	level    int
	password bool
	silent   bool
}

func parseFlags(cluster string) (parsedFlags, error) {
	f := parsedFlags{compress: true}
	haveMode := false
	for _, r := range cluster {
		switch {
		case r == 'c':
			f.create, haveMode = true, true
		case r == 'x':
			f.mode, haveMode = archive.ModeExtract, true
		case r == 'l':
			f.mode, haveMode = archive.ModeList, true
		case r == 't':
			f.mode, haveMode = archive.ModeTest, true
		case r == 'n':
			f.compress = false
		case r == 'b':
			f.level = 9
		case r >= '0' && r <= '9':
			f.level = int(r - '0')
		case r == 'p':
			f.password = true
		case r == 's':
			f.silent = true
		default:
			return f, xerrors.Errorf("unknown flag %q", r)
		}
	}
	if !haveMode {
		return f, xerrors.New("missing one of -c, -x, -l, -t")
	}
	return f, nil
}

// passwordFromArg resolves the [password|stdin] positional argument: the
// literal token "stdin" prompts for and reads a password from stdin,
// anything else is taken as the password itself.
func passwordFromArg(arg string) ([]byte, error) {
	if arg != "stdin" {
		return []byte(arg), nil
	}
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil, xerrors.Errorf("reading password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func progress(silent bool) func(action byte, path string) {
	if silent {
		return nil
	}
	return func(action byte, path string) {
		fmt.Printf(" %c %s\n", action, path)
	}
}

func run(args []string) error {
	if len(args) < 2 || !strings.HasPrefix(args[0], "-") {
		return xerrors.New("syntax: sbox -{c|x|l|t}[snb0-9][p] [password|stdin] archive [paths...]")
	}
	flags, err := parseFlags(strings.TrimPrefix(args[0], "-"))
	if err != nil {
		return err
	}
	rest := args[1:]

	var password []byte
	if flags.password {
		if len(rest) == 0 {
			return xerrors.New("-p requires a password or \"stdin\" argument")
		}
		password, err = passwordFromArg(rest[0])
		if err != nil {
			return err
		}
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return xerrors.New("missing archive path")
	}

	archivePath := rest[0]
	rest = rest[1:]

	opts := archive.Options{
		Compress: flags.compress,
		Level:    flags.level,
		Password: password,
		Progress: progress(flags.silent),
	}

	fs := fsiface.OS{}

	if flags.create {
		if len(rest) == 0 {
			return xerrors.New("create requires at least one input path")
		}
		return archive.Pack(fs, archivePath, rest, opts)
	}

	destDir := ""
	if len(rest) > 0 {
		destDir = rest[0]
	}
	return archive.Unpack(fs, archivePath, destDir, flags.mode, opts)
}

func funcmain() error {
	return run(os.Args[1:])
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
