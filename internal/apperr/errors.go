// Package apperr holds the sentinel errors shared across folio packages.
package apperr

import (
	"errors"
	"io/fs"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrMalformed  = errors.New("malformed")
	ErrMissingKey = errors.New("missing key")
	ErrInvalid    = errors.New("invalid")
	ErrIO         = errors.New("i/o failure")
	// ErrPermission aliases fs.ErrPermission so errors.Is works against either.
	ErrPermission = fs.ErrPermission
)
