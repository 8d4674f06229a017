// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package storage contains the types shared by the metadata index, the
// binary containers and the engine that keeps them consistent.
package storage

import (
	"strings"
	"unicode/utf8"

	"github.com/zeebo/errs"
)

var (
	// ErrNotFound is returned when a key is required to exist but does not.
	ErrNotFound = errs.Class("not found")

	// ErrAlreadyExists is returned when a key is required to be absent but is present.
	ErrAlreadyExists = errs.Class("already exists")

	// ErrInvalidInput is returned for empty payloads and malformed users or keys.
	ErrInvalidInput = errs.Class("invalid input")

	// ErrOutOfRange is returned when a read extends past the end of a container.
	ErrOutOfRange = errs.Class("out of range")

	// ErrBackend wraps I/O, serialization and other backend internal failures.
	ErrBackend = errs.Class("backend failure")
)

const (
	// MaxUserLength is the longest user identifier accepted. Users name files
	// in the file backend, so this leaves room for the file suffixes.
	MaxUserLength = 200

	// MaxKeyLength is the longest object key accepted.
	MaxKeyLength = 1024
)

// ValidateUser checks that user can be used as a namespace.
func ValidateUser(user string) error {
	switch {
	case user == "":
		return ErrInvalidInput.New("empty user")
	case len(user) > MaxUserLength:
		return ErrInvalidInput.New("user longer than %d bytes", MaxUserLength)
	case !utf8.ValidString(user):
		return ErrInvalidInput.New("user %q is not valid utf-8", user)
	case user == "." || user == "..":
		return ErrInvalidInput.New("user %q is reserved", user)
	case strings.ContainsAny(user, "/\\\x00"):
		return ErrInvalidInput.New("user %q contains a path separator or NUL", user)
	}
	return nil
}

// ValidateKey checks that key can be used as an object key.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return ErrInvalidInput.New("empty key")
	case len(key) > MaxKeyLength:
		return ErrInvalidInput.New("key longer than %d bytes", MaxKeyLength)
	case !utf8.ValidString(key):
		return ErrInvalidInput.New("key %q is not valid utf-8", key)
	case strings.IndexByte(key, 0) >= 0:
		return ErrInvalidInput.New("key %q contains NUL", key)
	}
	return nil
}

// ValidateUserKey validates both user and key.
func ValidateUserKey(user, key string) error {
	if err := ValidateUser(user); err != nil {
		return err
	}
	return ValidateKey(key)
}

// ValidateChunks checks that chunks can be stored as an object record. An
// object exists exactly when its chunk list is non-empty.
func ValidateChunks(chunks Chunks) error {
	if len(chunks) == 0 {
		return ErrInvalidInput.New("empty chunk list")
	}
	return nil
}
