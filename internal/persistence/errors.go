package persistence

import (
	"errors"

	"manhole-inspection/internal/blob"
	"manhole-inspection/internal/db"
)

var (
	ErrDuplicateName = errors.New("name already exists")
	ErrInvalidFormat = errors.New("invalid backup format")
	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidInput  = errors.New("invalid input")

	// Re-exported so callers need not import the storage packages.
	ErrNotFound           = db.ErrNotFound
	ErrDuplicateKey       = db.ErrDuplicateKey
	ErrStorageUnavailable = db.ErrStorageUnavailable
	ErrIO                 = db.ErrIO
	ErrWrite              = blob.ErrWrite
)

// Notice is what the UI shows the user when an operation fails.
type Notice struct {
	Title  string
	Detail string
}

// NoticeFor maps an error to a user-facing notice.
func NoticeFor(err error) Notice {
	n := Notice{Detail: err.Error()}
	switch {
	case errors.Is(err, ErrDuplicateName):
		n.Title = "An inspector with this name already exists"
	case errors.Is(err, ErrInvalidFormat):
		n.Title = "The file is not a valid backup"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidPeriod):
		n.Title = "Please check the entered values"
	case errors.Is(err, ErrNotFound):
		n.Title = "The record no longer exists"
	case errors.Is(err, ErrWrite), db.IsUnavailable(err):
		n.Title = "Data could not be saved"
	default:
		n.Title = "Unexpected error"
	}
	return n
}
