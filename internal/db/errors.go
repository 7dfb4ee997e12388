package db

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable is returned by every operation while the store
	// is not initialized or has been closed.
	ErrStorageUnavailable = errors.New("record store unavailable")
	ErrInit               = errors.New("record store initialization failed")
	ErrIO                 = errors.New("record store i/o error")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrNotFound           = errors.New("record not found")
	ErrUnknownIndex       = errors.New("unknown index")
)

func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

// IsUnavailable reports errors after which a caller should fall back to
// another store: the store is not usable or the write did not happen.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrIO)
}

func isKnown(err error) bool {
	return IsUnavailable(err) || errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownIndex)
}
