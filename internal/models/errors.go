package models

import "errors"

var (
	// ErrAmbiguousOrMissingFace is returned when an image that must contain
	// exactly one face yields zero or several.
	ErrAmbiguousOrMissingFace = errors.New("image must contain exactly one face")

	ErrUnknownPatient  = errors.New("unknown patient")
	ErrNoMatch         = errors.New("no matching patient")
	ErrNotFound        = errors.New("not found")
	ErrInvalidEncoding = errors.New("invalid encoding")
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrInvalidImage    = errors.New("invalid image")
	ErrInvalidFilename = errors.New("invalid filename")
)
