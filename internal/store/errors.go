package store

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTierMismatch    = errors.New("privacy tier changed since read")
)
