package iojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// ErrNoInput is returned by Read when no file was named and stdin is a
// terminal.
var ErrNoInput = errors.New("no input provided (stdin is a terminal); use -f or pipe JSON")

// FileReader decodes a T from the file named by its flag, or from piped
// stdin when the flag is "-".
type FileReader[T any] struct {
	path string
}

// Flag returns the -f/--file flag bound to the reader.
func (fr *FileReader[T]) Flag(usage string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       usage,
		Destination: &fr.path,
	}
}

// Provided reports whether the file flag was set.
func (fr *FileReader[T]) Provided() bool {
	return fr.path != ""
}

func (fr *FileReader[T]) Read() (T, error) {
	if fr.path == "-" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			var zero T
			return zero, ErrNoInput
		}
		return decode[T](os.Stdin)
	}

	f, err := os.Open(fr.path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return decode[T](f)
}

func decode[T any](r io.Reader) (T, error) {
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, fmt.Errorf("decode JSON: %w", err)
	}
	return v, nil
}
