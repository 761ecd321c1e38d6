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

// ErrNoInput is returned when no file is given and stdin is a terminal.
var ErrNoInput = errors.New("no input provided (stdin is a terminal); pass a file or pipe input")

// Input reads command input from a file path or stdin. A path of "-" also
// selects stdin.
type Input struct {
	path  string
	stdin io.Reader
}

// Flag returns a --file flag bound to the input path.
func (in *Input) Flag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "path to input file (reads from stdin if not provided)",
		Destination: &in.path,
	}
}

// SetPath sets the input path when it was not given by flag.
func (in *Input) SetPath(path string) {
	if in.path == "" {
		in.path = path
	}
}

// SetReader replaces stdin.
func (in *Input) SetReader(r io.Reader) { in.stdin = r }

// ReadAll returns the full input.
func (in *Input) ReadAll() ([]byte, error) {
	if in.path != "" && in.path != "-" {
		data, err := os.ReadFile(in.path)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		return data, nil
	}

	r := in.stdin
	if r == nil {
		r = os.Stdin
	}
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, ErrNoInput
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// Decode reads the input as a JSON document of type T.
func Decode[T any](in *Input) (T, error) {
	var out T

	data, err := in.ReadAll()
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode JSON: %w", err)
	}
	return out, nil
}
