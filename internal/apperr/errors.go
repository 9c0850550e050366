// Package apperr defines the error taxonomy shared by the store packages.
package apperr

import (
	"errors"
	"fmt"
)

// Codes mirror the numeric error kinds persisted in logs and API bodies.
const (
	CodeWrongEncodedType            = 1
	CodePathExistsAndIsNotDirectory = 2
	CodeInvalidFileName             = 3
	CodeUnsupportedResultType       = 4
	CodeUnsupportedRequestType      = 5
	CodeEntityDoesNotExist          = 6
	CodeIO                          = 7
	CodeEncoding                    = 8
	CodeNotFound                    = 9
)

var (
	// ErrWrongEncodedType means a decoded value disagrees with the attribute type in the model.
	ErrWrongEncodedType = errors.New("wrong encoded type")
	// ErrPathExistsAndIsNotDirectory means the store root exists but is a regular file.
	ErrPathExistsAndIsNotDirectory = errors.New("path exists and is not a directory")
	// ErrInvalidFileName means a store file name cannot be split into entity and ref.
	ErrInvalidFileName = errors.New("invalid file name")
	// ErrUnsupportedResultType means a fetch asked for something other than objects or ids.
	ErrUnsupportedResultType = errors.New("unsupported result type")
	// ErrUnsupportedRequestType means a request was neither fetch nor save.
	ErrUnsupportedRequestType = errors.New("unsupported request type")
	// ErrEntityDoesNotExist means an entity name is not part of the model.
	ErrEntityDoesNotExist = errors.New("entity does not exist")
	// ErrIO means a file system operation failed; see IOError.
	ErrIO = errors.New("i/o error")
	// ErrEncoding means values could not be encoded for their entity.
	ErrEncoding = errors.New("encoding error")
	// ErrNotFound means the file of a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// IOError wraps a failed file system operation on a single path.
type IOError struct {
	Op   string // "read", "write", "remove", "mkdir", "list", "lock"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes the underlying OS error.
func (e *IOError) Unwrap() error { return e.Err }

// Is reports IOError as ErrIO so callers can match the kind without a type switch.
func (e *IOError) Is(target error) bool { return target == ErrIO }

// NewIO returns an *IOError, or nil when err is nil.
func NewIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// Code returns the numeric kind of err, or 0 when err is outside the taxonomy.
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrWrongEncodedType):
		return CodeWrongEncodedType
	case errors.Is(err, ErrPathExistsAndIsNotDirectory):
		return CodePathExistsAndIsNotDirectory
	case errors.Is(err, ErrInvalidFileName):
		return CodeInvalidFileName
	case errors.Is(err, ErrUnsupportedResultType):
		return CodeUnsupportedResultType
	case errors.Is(err, ErrUnsupportedRequestType):
		return CodeUnsupportedRequestType
	case errors.Is(err, ErrEntityDoesNotExist):
		return CodeEntityDoesNotExist
	case errors.Is(err, ErrEncoding):
		return CodeEncoding
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrIO):
		return CodeIO
	}
	return 0
}
