package plan

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Path safety violations.
var (
	ErrEmptyPath     = errors.New("empty path")
	ErrAbsolutePath  = errors.New("absolute path")
	ErrParentSegment = errors.New("parent directory segment")
	ErrInvalidPath   = errors.New("invalid character in path")
	ErrProtectedPath = errors.New("protected path")
)

var driveAbsolute = regexp.MustCompile(`^[A-Za-z]:([\\/]|$)`)

// CheckPath verifies that path stays inside the repository root and does not
// match any protected glob.
func CheckPath(path string, protected []string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return ErrAbsolutePath
	}
	if driveAbsolute.MatchString(path) {
		return ErrAbsolutePath
	}

	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	for _, seg := range segments {
		if seg == ".." {
			return ErrParentSegment
		}
	}

	for _, pattern := range protected {
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			return fmt.Errorf("protected pattern %q: %w", pattern, err)
		}
		if ok {
			return fmt.Errorf("%w: matches %q", ErrProtectedPath, pattern)
		}
	}

	return nil
}

// ValidatePatterns reports the first malformed protected glob.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob %q", p)
		}
	}
	return nil
}
