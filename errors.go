package cfbstore

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrorInvalidCFB        = errors.New("invalid cfb file")
	ErrorCorruptAllocation = errors.New("corrupt allocation table")
	ErrorEntryNotFound     = errors.New("entry not found")
	ErrorDuplicateName     = errors.New("duplicate entry name")
	ErrorStorageNotEmpty   = errors.New("storage is not empty")
	ErrorOutOfRange        = errors.New("out of range")
	ErrorClosed            = errors.New("compound file is closed")
	ErrorReadOnly          = errors.New("compound file is read-only")
	ErrorIOFailure         = errors.New("backing storage failure")
	ErrorInvalidName       = errors.New("invalid entry name")
	ErrorNotStream         = errors.New("not a stream")
	ErrorNotStorage        = errors.New("not a storage")

	// ErrorFileNotFound is fs.ErrNotExist, so both sentinels match.
	ErrorFileNotFound = fs.ErrNotExist
)

// ioError marks err as a backing storage failure while keeping it inspectable.
func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrorIOFailure, err)
}
