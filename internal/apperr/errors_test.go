package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestIOErrorMatchesKindAndCause(t *testing.T) {
	err := NewIO("read", "/tmp/x.rec", fs.ErrNotExist)
	if !errors.Is(err, ErrIO) {
		t.Error("expected ErrIO")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected wrapped fs.ErrNotExist")
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "read" {
		t.Errorf("errors.As = %+v", ioErr)
	}
}

func TestNewIONil(t *testing.T) {
	if err := NewIO("write", "x", nil); err != nil {
		t.Errorf("NewIO(nil) = %v, want nil", err)
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("other"), 0},
		{fmt.Errorf("coder: decode: %w", ErrWrongEncodedType), CodeWrongEncodedType},
		{ErrPathExistsAndIsNotDirectory, CodePathExistsAndIsNotDirectory},
		{fmt.Errorf("x: %w", ErrInvalidFileName), CodeInvalidFileName},
		{ErrUnsupportedResultType, CodeUnsupportedResultType},
		{ErrUnsupportedRequestType, CodeUnsupportedRequestType},
		{ErrEntityDoesNotExist, CodeEntityDoesNotExist},
		{NewIO("remove", "p", fs.ErrPermission), CodeIO},
		{ErrEncoding, CodeEncoding},
		{ErrNotFound, CodeNotFound},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Errorf("Code(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
